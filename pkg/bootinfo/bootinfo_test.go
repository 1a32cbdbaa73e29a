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

package bootinfo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testMap = `
regions:
  - base: 0x80000000
    length: 0x40000000
    usable: true
  - base: 0x40000000
    length: 0x10000000
    usable: true
  - base: 0x9000000
    length: 0x1000
    usable: false
reserved:
  - base: 0x40080000
    length: 0x200000
`

func TestParse(t *testing.T) {
	mm, err := Parse([]byte(testMap))
	if err != nil {
		t.Fatalf("Parse got err %v want nil", err)
	}

	want := &MemoryMap{
		Regions: []Region{
			{Base: 0x9000000, Length: 0x1000, Usable: false},
			{Base: 0x40000000, Length: 0x10000000, Usable: true},
			{Base: 0x80000000, Length: 0x40000000, Usable: true},
		},
		Reserved: []Range{
			{Base: 0x40080000, Length: 0x200000},
		},
	}
	if diff := cmp.Diff(want, mm); diff != "" {
		t.Errorf("unexpected memory map (-want +got):\n%s", diff)
	}

	if got, want := mm.UsableBytes(), uint64(0x50000000); got != want {
		t.Errorf("UsableBytes got %#x want %#x", got, want)
	}
	if got, want := mm.TotalBytes(), uint64(0x50001000); got != want {
		t.Errorf("TotalBytes got %#x want %#x", got, want)
	}
	if !mm.IsReserved(0x40080000) || !mm.IsReserved(0x4027f000) {
		t.Errorf("kernel image range not reserved")
	}
	if mm.IsReserved(0x40280000) {
		t.Errorf("address past kernel image reported reserved")
	}
}

func TestParseRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"empty", `regions: []`},
		{"unaligned base", "regions:\n  - base: 0x1001\n    length: 0x1000\n    usable: true"},
		{"unaligned length", "regions:\n  - base: 0x1000\n    length: 0x800\n    usable: true"},
		{"zero length", "regions:\n  - base: 0x1000\n    length: 0\n    usable: true"},
		{"overlap", "regions:\n  - base: 0x1000\n    length: 0x2000\n    usable: true\n  - base: 0x2000\n    length: 0x1000\n    usable: true"},
		{"unaligned reserved", "regions:\n  - base: 0x1000\n    length: 0x1000\n    usable: true\nreserved:\n  - base: 0x1100\n    length: 0x100"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.in)); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tc.in)
			}
		})
	}
}
