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

package mm

import (
	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/memerr"
	"helios.dev/helios/pkg/vma"
)

// Brk moves the heap break to newBrk and returns the resulting break.
// Brk(0) queries without moving. Growth maps zero-filled writable
// pages for the new extent under the same rollback guarantee as MMap;
// shrinking unmaps and frees the released pages.
func (as *AddressSpace) Brk(newBrk hostarch.Addr) (hostarch.Addr, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.checkActive()
	return as.brkLocked(newBrk)
}

// brkLocked implements Brk.
//
// Precondition: as.mu is held.
func (as *AddressSpace) brkLocked(newBrk hostarch.Addr) (hostarch.Addr, error) {
	if newBrk == 0 {
		return as.brk, nil
	}
	if newBrk < as.layout.BrkBase || newBrk > as.layout.MmapBase {
		return as.brk, memerr.ErrInvalidArgument
	}

	oldEnd := as.brk.MustRoundUp()
	newEnd := newBrk.MustRoundUp()

	switch {
	case newEnd > oldEnd:
		// The break never grows over something already placed in
		// its way, e.g. a fixed mapping; clobbering it would
		// displace live frames.
		if len(as.vmas.FindOverlapping(oldEnd, newEnd)) != 0 {
			return as.brk, memerr.ErrOverlapping
		}
		if err := as.mapLocked(oldEnd, uint64(newEnd-oldEnd), hostarch.ReadWrite); err != nil {
			return as.brk, err
		}
	case newEnd < oldEnd:
		// Parts of the released extent may have been munmapped
		// directly; what is already gone is fine.
		if err := as.vmas.Remove(newEnd, oldEnd); err != nil && err != memerr.ErrNotFound {
			return as.brk, err
		}
		as.unmapLocked(newEnd, oldEnd)
	}

	as.brk = newBrk
	return as.brk, nil
}

// Sbrk adjusts the break by incr bytes and returns the previous break,
// the classic library contract. The read of the old break and the move
// are one atomic operation.
func (as *AddressSpace) Sbrk(incr int64) (hostarch.Addr, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.checkActive()

	old := as.brk
	if incr == 0 {
		return old, nil
	}
	target := hostarch.Addr(int64(old) + incr)
	if incr < 0 && target > old {
		// Underflow below zero.
		return old, memerr.ErrInvalidArgument
	}
	if incr > 0 && target < old {
		return old, memerr.ErrInvalidArgument
	}
	if _, err := as.brkLocked(target); err != nil {
		return old, err
	}
	return old, nil
}

// heapVma is a debugging helper returning the region covering the
// current break, if any.
func (as *AddressSpace) heapVma() (vma.Vma, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.brk == as.layout.BrkBase {
		return vma.Vma{}, false
	}
	return as.vmas.Find(as.brk - 1)
}
