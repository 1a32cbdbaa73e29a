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

// Package vma tracks the virtual memory areas of an address space: the
// ranges a process has reserved, with their access flags. The tracker
// is pure bookkeeping; it never touches page tables.
//
// Areas are kept in a B-tree ordered by start address. Adjacent areas
// with identical flags are not coalesced; mapping counts per process
// are small enough that the extra nodes do not matter.
package vma

import (
	"fmt"

	"github.com/google/btree"

	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/memerr"
)

// Vma is one reserved region, [Start, End).
type Vma struct {
	Start hostarch.Addr
	End   hostarch.Addr

	// Flags is the access permitted to user mode for this region.
	Flags hostarch.AccessType
}

// Range returns the region as an AddrRange.
func (v Vma) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: v.Start, End: v.End}
}

// Contains returns true if addr falls inside the region.
func (v Vma) Contains(addr hostarch.Addr) bool {
	return v.Start <= addr && addr < v.End
}

// String implements fmt.Stringer.String.
func (v Vma) String() string {
	return fmt.Sprintf("[%#x, %#x) %s", uint64(v.Start), uint64(v.End), v.Flags)
}

// List is the set of regions of one address space, ordered by start.
//
// Not locked: the list is guarded by the per-process lock of the
// owning address space.
type List struct {
	tree *btree.BTreeG[Vma]
}

// treeDegree is the B-tree branching factor.
const treeDegree = 16

// NewList returns an empty list.
func NewList() *List {
	return &List{
		tree: btree.NewG(treeDegree, func(a, b Vma) bool {
			return a.Start < b.Start
		}),
	}
}

// Len returns the number of regions.
func (l *List) Len() int {
	return l.tree.Len()
}

// Span returns the total number of bytes reserved.
func (l *List) Span() uint64 {
	var span uint64
	l.tree.Ascend(func(v Vma) bool {
		span += v.Range().Length()
		return true
	})
	return span
}

// ForEach calls fn on each region in ascending start order until fn
// returns false. The list must not be mutated from fn.
func (l *List) ForEach(fn func(Vma) bool) {
	l.tree.Ascend(fn)
}

// Insert adds a region. A region overlapping any existing one is
// rejected with ErrOverlapping and the list is left unchanged.
func (l *List) Insert(v Vma) error {
	if v.Start >= v.End {
		return memerr.ErrInvalidArgument
	}

	// The only candidates are the nearest region at or below v.Start
	// and the first region at or above it.
	var conflict bool
	l.tree.DescendLessOrEqual(Vma{Start: v.Start}, func(o Vma) bool {
		conflict = o.End > v.Start
		return false
	})
	if !conflict {
		l.tree.AscendGreaterOrEqual(Vma{Start: v.Start}, func(o Vma) bool {
			conflict = o.Start < v.End
			return false
		})
	}
	if conflict {
		return memerr.ErrOverlapping
	}

	l.tree.ReplaceOrInsert(v)
	return nil
}

// FindOverlapping returns every region intersecting [start, end) in
// ascending order.
func (l *List) FindOverlapping(start, end hostarch.Addr) []Vma {
	var out []Vma
	// The predecessor of start may extend into the range.
	l.tree.DescendLessOrEqual(Vma{Start: start}, func(o Vma) bool {
		if o.Start < start && o.End > start {
			out = append(out, o)
		}
		return false
	})
	l.tree.AscendGreaterOrEqual(Vma{Start: start}, func(o Vma) bool {
		if o.Start >= end {
			return false
		}
		out = append(out, o)
		return true
	})
	return out
}

// Find returns the region containing addr.
func (l *List) Find(addr hostarch.Addr) (Vma, bool) {
	var (
		found Vma
		ok    bool
	)
	l.tree.DescendLessOrEqual(Vma{Start: addr}, func(o Vma) bool {
		if o.Contains(addr) {
			found, ok = o, true
		}
		return false
	})
	return found, ok
}

// Remove releases [start, end). Overlapping regions are dropped,
// shrunk or split as the overlap dictates; a single call may touch
// several regions. ErrNotFound if nothing intersects the range.
func (l *List) Remove(start, end hostarch.Addr) error {
	if start >= end {
		return memerr.ErrInvalidArgument
	}
	overlapping := l.FindOverlapping(start, end)
	if len(overlapping) == 0 {
		return memerr.ErrNotFound
	}

	for _, o := range overlapping {
		l.tree.Delete(o)
		if o.Start < start {
			// Left remainder survives.
			l.tree.ReplaceOrInsert(Vma{Start: o.Start, End: start, Flags: o.Flags})
		}
		if o.End > end {
			// Right remainder survives.
			l.tree.ReplaceOrInsert(Vma{Start: end, End: o.End, Flags: o.Flags})
		}
	}
	return nil
}

// Protect changes the flags of every part of [start, end) that is
// reserved, splitting regions that straddle the boundaries.
// ErrNotFound if nothing intersects the range.
func (l *List) Protect(start, end hostarch.Addr, flags hostarch.AccessType) error {
	if start >= end {
		return memerr.ErrInvalidArgument
	}
	overlapping := l.FindOverlapping(start, end)
	if len(overlapping) == 0 {
		return memerr.ErrNotFound
	}

	for _, o := range overlapping {
		l.tree.Delete(o)
		if o.Start < start {
			l.tree.ReplaceOrInsert(Vma{Start: o.Start, End: start, Flags: o.Flags})
		}
		if o.End > end {
			l.tree.ReplaceOrInsert(Vma{Start: end, End: o.End, Flags: o.Flags})
		}
		mid := Vma{Start: max(o.Start, start), End: min(o.End, end), Flags: flags}
		l.tree.ReplaceOrInsert(mid)
	}
	return nil
}

// FindGap returns the lowest page-aligned address a of a free gap
// [a, a+length) with min <= a and a+length <= limit, or ErrNoMemory
// if the range is exhausted.
func (l *List) FindGap(min hostarch.Addr, length uint64, limit hostarch.Addr) (hostarch.Addr, error) {
	if length == 0 || min >= limit {
		return 0, memerr.ErrInvalidArgument
	}

	candidate := min
	// A region below min may spill into the candidate position.
	if v, ok := l.Find(candidate); ok {
		candidate = v.End
	}

	var (
		result  hostarch.Addr
		found   bool
		overlap bool
	)
	l.tree.AscendGreaterOrEqual(Vma{Start: candidate}, func(o Vma) bool {
		end, ok := candidate.AddLength(length)
		if !ok || end > limit {
			overlap = true
			return false
		}
		if end <= o.Start {
			result, found = candidate, true
			return false
		}
		candidate = o.End
		return true
	})
	if found {
		return result, nil
	}
	if !overlap {
		// Past the last region.
		if end, ok := candidate.AddLength(length); ok && end <= limit {
			return candidate, nil
		}
	}
	return 0, memerr.ErrNoMemory
}
