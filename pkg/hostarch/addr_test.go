// Copyright 2025 The Helios Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hostarch

import "testing"

func TestAddLength(t *testing.T) {
	if end, ok := Addr(0x1000).AddLength(0x2000); !ok || end != 0x3000 {
		t.Errorf("AddLength got (%#x, %v) want (0x3000, true)", uint64(end), ok)
	}
	if _, ok := Addr(^uint64(0) - 0xfff).AddLength(0x2000); ok {
		t.Errorf("overflowing AddLength reported ok")
	}
	// A range reaching exactly the end of the address space wraps to
	// zero and is reported as overflow.
	if _, ok := Addr(^uint64(0) - 0xfff).AddLength(0x1000); ok {
		t.Errorf("wrap-to-zero AddLength reported ok")
	}
}

func TestRounding(t *testing.T) {
	if got := Addr(0x1234).RoundDown(); got != 0x1000 {
		t.Errorf("RoundDown got %#x want 0x1000", uint64(got))
	}
	if got, ok := Addr(0x1234).RoundUp(); !ok || got != 0x2000 {
		t.Errorf("RoundUp got (%#x, %v) want (0x2000, true)", uint64(got), ok)
	}
	if got, ok := Addr(0x2000).RoundUp(); !ok || got != 0x2000 {
		t.Errorf("RoundUp of aligned got (%#x, %v) want (0x2000, true)", uint64(got), ok)
	}
	if _, ok := Addr(^uint64(0)).RoundUp(); ok {
		t.Errorf("overflowing RoundUp reported ok")
	}
	if got := Addr(0x212345).HugeRoundDown(); got != 0x200000 {
		t.Errorf("HugeRoundDown got %#x want 0x200000", uint64(got))
	}
}

func TestAccessType(t *testing.T) {
	if !ReadWrite.SupersetOf(Read) || Read.SupersetOf(ReadWrite) {
		t.Errorf("SupersetOf ordering wrong")
	}
	if got := Execute.Effective(); !got.Read {
		t.Errorf("Effective execute does not imply read: %v", got)
	}
	if got, want := ReadExecute.String(), "r-x"; got != want {
		t.Errorf("String got %q want %q", got, want)
	}
	if NoAccess.Any() {
		t.Errorf("NoAccess reports access")
	}
}

func TestAddrRange(t *testing.T) {
	r := AddrRange{Start: 0x1000, End: 0x3000}
	if !r.Contains(0x1000) || !r.Contains(0x2fff) || r.Contains(0x3000) {
		t.Errorf("Contains boundaries wrong for %v", r)
	}
	if !r.Overlaps(AddrRange{Start: 0x2000, End: 0x4000}) {
		t.Errorf("Overlaps missed an intersection")
	}
	if r.Overlaps(AddrRange{Start: 0x3000, End: 0x4000}) {
		t.Errorf("adjacent ranges reported overlapping")
	}
	if !r.IsSupersetOf(AddrRange{Start: 0x1000, End: 0x2000}) {
		t.Errorf("IsSupersetOf missed a contained range")
	}
}
