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

package vma

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/memerr"
)

// page shortens test addresses.
const page = hostarch.PageSize

func collect(l *List) []Vma {
	var out []Vma
	l.ForEach(func(v Vma) bool {
		out = append(out, v)
		return true
	})
	return out
}

func TestInsertFind(t *testing.T) {
	l := NewList()
	v := Vma{Start: 0x10000, End: 0x13000, Flags: hostarch.ReadWrite}
	if err := l.Insert(v); err != nil {
		t.Fatalf("Insert got err %v want nil", err)
	}

	got, ok := l.Find(0x11fff)
	if !ok {
		t.Fatalf("Find(0x11fff) found nothing")
	}
	if got != v {
		t.Errorf("Find got %v want %v", got, v)
	}
	if _, ok := l.Find(0x13000); ok {
		t.Errorf("Find(end) found a region; end is exclusive")
	}
	if _, ok := l.Find(0xffff); ok {
		t.Errorf("Find below start found a region")
	}
	if got, want := l.Span(), uint64(0x3000); got != want {
		t.Errorf("Span got %#x want %#x", got, want)
	}
}

func TestInsertOverlapRejected(t *testing.T) {
	l := NewList()
	if err := l.Insert(Vma{Start: 0x10000, End: 0x13000, Flags: hostarch.Read}); err != nil {
		t.Fatalf("Insert got err %v want nil", err)
	}

	before := collect(l)
	for _, v := range []Vma{
		{Start: 0x10000, End: 0x13000}, // identical
		{Start: 0xf000, End: 0x11000},  // left overlap
		{Start: 0x12000, End: 0x14000}, // right overlap
		{Start: 0x11000, End: 0x12000}, // contained
		{Start: 0xf000, End: 0x14000},  // containing
	} {
		if err := l.Insert(v); err != memerr.ErrOverlapping {
			t.Errorf("Insert(%v) got err %v want ErrOverlapping", v, err)
		}
	}
	if diff := cmp.Diff(before, collect(l)); diff != "" {
		t.Errorf("rejected inserts changed the list (-want +got):\n%s", diff)
	}

	// Adjacent is not overlapping.
	if err := l.Insert(Vma{Start: 0x13000, End: 0x14000}); err != nil {
		t.Errorf("adjacent Insert got err %v want nil", err)
	}
	if err := l.Insert(Vma{Start: 0xf000, End: 0x10000}); err != nil {
		t.Errorf("adjacent Insert got err %v want nil", err)
	}
}

func TestInsertDegenerate(t *testing.T) {
	l := NewList()
	if err := l.Insert(Vma{Start: 0x1000, End: 0x1000}); err != memerr.ErrInvalidArgument {
		t.Errorf("empty Insert got err %v want ErrInvalidArgument", err)
	}
	if err := l.Insert(Vma{Start: 0x2000, End: 0x1000}); err != memerr.ErrInvalidArgument {
		t.Errorf("inverted Insert got err %v want ErrInvalidArgument", err)
	}
}

func TestRemoveFull(t *testing.T) {
	l := NewList()
	if err := l.Insert(Vma{Start: 0x10000, End: 0x13000, Flags: hostarch.Read}); err != nil {
		t.Fatalf("Insert got err %v want nil", err)
	}
	if err := l.Remove(0x10000, 0x13000); err != nil {
		t.Fatalf("Remove got err %v want nil", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len after full removal got %d want 0", l.Len())
	}
}

func TestRemoveInterior(t *testing.T) {
	l := NewList()
	if err := l.Insert(Vma{Start: 0x10000, End: 0x15000, Flags: hostarch.ReadWrite}); err != nil {
		t.Fatalf("Insert got err %v want nil", err)
	}
	if err := l.Remove(0x11000, 0x13000); err != nil {
		t.Fatalf("Remove got err %v want nil", err)
	}

	want := []Vma{
		{Start: 0x10000, End: 0x11000, Flags: hostarch.ReadWrite},
		{Start: 0x13000, End: 0x15000, Flags: hostarch.ReadWrite},
	}
	if diff := cmp.Diff(want, collect(l)); diff != "" {
		t.Errorf("interior removal (-want +got):\n%s", diff)
	}
}

func TestRemoveEdges(t *testing.T) {
	l := NewList()
	if err := l.Insert(Vma{Start: 0x10000, End: 0x15000, Flags: hostarch.Read}); err != nil {
		t.Fatalf("Insert got err %v want nil", err)
	}

	// Shrink from the front.
	if err := l.Remove(0x10000, 0x12000); err != nil {
		t.Fatalf("Remove got err %v want nil", err)
	}
	// Shrink from the back.
	if err := l.Remove(0x14000, 0x15000); err != nil {
		t.Fatalf("Remove got err %v want nil", err)
	}

	want := []Vma{{Start: 0x12000, End: 0x14000, Flags: hostarch.Read}}
	if diff := cmp.Diff(want, collect(l)); diff != "" {
		t.Errorf("edge removals (-want +got):\n%s", diff)
	}
}

func TestRemoveSpansMultiple(t *testing.T) {
	l := NewList()
	for _, v := range []Vma{
		{Start: 0x10000, End: 0x12000, Flags: hostarch.Read},
		{Start: 0x13000, End: 0x15000, Flags: hostarch.ReadWrite},
		{Start: 0x15000, End: 0x18000, Flags: hostarch.Read},
	} {
		if err := l.Insert(v); err != nil {
			t.Fatalf("Insert(%v) got err %v want nil", v, err)
		}
	}

	// Clips the first region, swallows the second, splits the third.
	if err := l.Remove(0x11000, 0x16000); err != nil {
		t.Fatalf("Remove got err %v want nil", err)
	}

	want := []Vma{
		{Start: 0x10000, End: 0x11000, Flags: hostarch.Read},
		{Start: 0x16000, End: 0x18000, Flags: hostarch.Read},
	}
	if diff := cmp.Diff(want, collect(l)); diff != "" {
		t.Errorf("spanning removal (-want +got):\n%s", diff)
	}
}

func TestRemoveNotFound(t *testing.T) {
	l := NewList()
	if err := l.Insert(Vma{Start: 0x10000, End: 0x12000}); err != nil {
		t.Fatalf("Insert got err %v want nil", err)
	}
	if err := l.Remove(0x20000, 0x21000); err != memerr.ErrNotFound {
		t.Errorf("Remove of untracked range got err %v want ErrNotFound", err)
	}
	if err := l.Remove(0x12000, 0x12000); err != memerr.ErrInvalidArgument {
		t.Errorf("empty Remove got err %v want ErrInvalidArgument", err)
	}
}

func TestFindOverlapping(t *testing.T) {
	l := NewList()
	a := Vma{Start: 0x10000, End: 0x12000, Flags: hostarch.Read}
	b := Vma{Start: 0x14000, End: 0x16000, Flags: hostarch.Read}
	for _, v := range []Vma{a, b} {
		if err := l.Insert(v); err != nil {
			t.Fatalf("Insert got err %v want nil", err)
		}
	}

	if got := l.FindOverlapping(0x11000, 0x15000); len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("FindOverlapping got %v want [%v %v]", got, a, b)
	}
	if got := l.FindOverlapping(0x12000, 0x14000); len(got) != 0 {
		t.Errorf("FindOverlapping of the gap got %v want none", got)
	}
}

func TestProtect(t *testing.T) {
	l := NewList()
	if err := l.Insert(Vma{Start: 0x10000, End: 0x15000, Flags: hostarch.ReadWrite}); err != nil {
		t.Fatalf("Insert got err %v want nil", err)
	}
	if err := l.Protect(0x11000, 0x13000, hostarch.Read); err != nil {
		t.Fatalf("Protect got err %v want nil", err)
	}

	want := []Vma{
		{Start: 0x10000, End: 0x11000, Flags: hostarch.ReadWrite},
		{Start: 0x11000, End: 0x13000, Flags: hostarch.Read},
		{Start: 0x13000, End: 0x15000, Flags: hostarch.ReadWrite},
	}
	if diff := cmp.Diff(want, collect(l)); diff != "" {
		t.Errorf("Protect split (-want +got):\n%s", diff)
	}

	if err := l.Protect(0x20000, 0x21000, hostarch.Read); err != memerr.ErrNotFound {
		t.Errorf("Protect of untracked range got err %v want ErrNotFound", err)
	}
}

func TestFindGap(t *testing.T) {
	l := NewList()
	for _, v := range []Vma{
		{Start: 0x10000, End: 0x12000},
		{Start: 0x13000, End: 0x14000},
	} {
		if err := l.Insert(v); err != nil {
			t.Fatalf("Insert got err %v want nil", err)
		}
	}

	// One free page between the regions.
	got, err := l.FindGap(0x10000, page, 0x20000)
	if err != nil {
		t.Fatalf("FindGap got err %v want nil", err)
	}
	if want := hostarch.Addr(0x12000); got != want {
		t.Errorf("FindGap got %#x want %#x", got, want)
	}

	// Two pages do not fit until after the second region.
	got, err = l.FindGap(0x10000, 2*page, 0x20000)
	if err != nil {
		t.Fatalf("FindGap got err %v want nil", err)
	}
	if want := hostarch.Addr(0x14000); got != want {
		t.Errorf("FindGap got %#x want %#x", got, want)
	}

	// Nothing fits under a tight limit.
	if _, err := l.FindGap(0x10000, 2*page, 0x14000); err != memerr.ErrNoMemory {
		t.Errorf("FindGap under tight limit got err %v want ErrNoMemory", err)
	}

	// min inside an existing region starts past it.
	got, err = l.FindGap(0x11000, page, 0x20000)
	if err != nil {
		t.Fatalf("FindGap got err %v want nil", err)
	}
	if want := hostarch.Addr(0x12000); got != want {
		t.Errorf("FindGap got %#x want %#x", got, want)
	}
}
