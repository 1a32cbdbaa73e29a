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

// Package buddy implements the physical frame allocator. Memory is managed
// as power-of-two blocks of pages; freeing a block coalesces it with its
// buddy whenever both halves are free, recursively up to MaxOrder-1.
//
// The allocator is an explicitly owned, lock-guarded structure: callers hold
// a *Allocator handle, there is no ambient global state. Alloc and Free are
// both non-blocking and bounded.
package buddy

import (
	"fmt"

	"helios.dev/helios/pkg/bootinfo"
	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/log"
	"helios.dev/helios/pkg/memerr"
	"helios.dev/helios/pkg/physmem"
	"helios.dev/helios/pkg/sync"
)

// MaxOrder bounds block sizes: the largest block is 2^(MaxOrder-1) pages.
const MaxOrder = 21

// pageState tracks the ownership of a physical page frame. Exactly one
// owner exists at any time: a free list (stateFree head or stateBody), a
// live allocation (stateAllocated head or stateBody), or nobody
// (stateInvalid, for holes and reserved ranges).
type pageState uint8

const (
	// stateInvalid marks pages the allocator does not manage.
	stateInvalid pageState = iota

	// stateFree marks the head page of a block on a free list.
	stateFree

	// stateAllocated marks the head page of a block handed to a caller.
	stateAllocated

	// stateBody marks a non-head page of a free or allocated block.
	stateBody
)

// nilPFN terminates free lists.
const nilPFN = int64(-1)

// pageInfo is the fixed per-page metadata. The slice of pageInfo is sized
// to total installed RAM and is the allocator's only scaling cost.
type pageInfo struct {
	state pageState
	order uint8

	// prev and next link free block heads into the per-order free list.
	// Values are PFNs relative to the allocator base.
	prev, next int64
}

// Allocator is a buddy allocator over the machine's usable physical memory.
type Allocator struct {
	mu sync.Mutex

	// base is the physical address of pages[0].
	base uint64

	// pages holds per-page metadata for [base, base + len(pages)*PageSize).
	// Holes between banks and reserved ranges are stateInvalid.
	pages []pageInfo

	// freeLists holds the head PFN of the free block list per order, or
	// nilPFN when empty.
	freeLists [MaxOrder]int64

	// freePages counts pages currently on free lists.
	freePages uint64

	// managedPages counts pages ever handed to the allocator.
	managedPages uint64
}

// New builds an allocator over every usable bank of mem, excluding the
// reserved ranges (kernel image, boot structures).
func New(mem *physmem.Memory, reserved []bootinfo.Range) *Allocator {
	var lo, hi uint64
	first := true
	mem.Ranges(func(base, length uint64) {
		if first || base < lo {
			lo = base
		}
		if base+length > hi {
			hi = base + length
		}
		first = false
	})
	if first {
		panic("buddy.New: no usable memory banks")
	}

	a := &Allocator{
		base:  lo,
		pages: make([]pageInfo, (hi-lo)/hostarch.PageSize),
	}
	for i := range a.freeLists {
		a.freeLists[i] = nilPFN
	}

	mem.Ranges(func(base, length uint64) {
		a.addRange(base, base+length, reserved)
	})

	log.Infof("buddy: managing %d pages (%d MiB), %d reserved",
		a.managedPages, a.managedPages>>8, (hi-lo)/hostarch.PageSize-a.managedPages)
	return a
}

// addRange hands [start, end) to the free lists, skipping reserved ranges.
func (a *Allocator) addRange(start, end uint64, reserved []bootinfo.Range) {
	for start < end {
		// Clip against the first reserved range that intersects.
		next := end
		skip := uint64(0)
		for _, r := range reserved {
			if r.Contains(start) {
				skip = r.End()
				break
			}
			if r.Base > start && r.Base < next {
				next = r.Base
			}
		}
		if skip != 0 {
			start = skip
			continue
		}
		a.addChunk(start, next)
		start = next
	}
}

// addChunk frees [start, end) in maximal aligned blocks.
func (a *Allocator) addChunk(start, end uint64) {
	for start < end {
		order := uint8(MaxOrder - 1)
		for order > 0 {
			size := uint64(hostarch.PageSize) << order
			if start+size <= end && (start-a.base)%size == 0 {
				break
			}
			order--
		}
		pfn := a.pfn(start)
		npages := int64(1) << order
		for i := int64(0); i < npages; i++ {
			a.pages[pfn+i].state = stateBody
		}
		a.managedPages += uint64(npages)
		a.pages[pfn].state = stateAllocated
		a.pages[pfn].order = order
		a.freeBlock(pfn, order)
		start += uint64(hostarch.PageSize) << order
	}
}

// pfn converts a physical address to a relative page frame number.
func (a *Allocator) pfn(pa uint64) int64 {
	return int64((pa - a.base) / hostarch.PageSize)
}

// pa converts a relative page frame number back to a physical address.
func (a *Allocator) pa(pfn int64) uint64 {
	return a.base + uint64(pfn)*hostarch.PageSize
}

// push links the block head at pfn into the free list for order.
func (a *Allocator) push(order uint8, pfn int64) {
	head := a.freeLists[order]
	a.pages[pfn].prev = nilPFN
	a.pages[pfn].next = head
	if head != nilPFN {
		a.pages[head].prev = pfn
	}
	a.freeLists[order] = pfn
}

// pop unlinks and returns the first block head for order, or nilPFN.
func (a *Allocator) pop(order uint8) int64 {
	pfn := a.freeLists[order]
	if pfn == nilPFN {
		return nilPFN
	}
	a.unlink(order, pfn)
	return pfn
}

// unlink removes the block head at pfn from the free list for order.
func (a *Allocator) unlink(order uint8, pfn int64) {
	p := &a.pages[pfn]
	if p.prev != nilPFN {
		a.pages[p.prev].next = p.next
	} else {
		a.freeLists[order] = p.next
	}
	if p.next != nilPFN {
		a.pages[p.next].prev = p.prev
	}
	p.prev, p.next = nilPFN, nilPFN
}

// Alloc returns the physical address of a block of 2^order pages, or
// ErrNoMemory if no block of sufficient size is free. Exhaustion is a
// recoverable condition that callers must propagate; it never panics.
func (a *Allocator) Alloc(order uint8) (uint64, error) {
	if order >= MaxOrder {
		return 0, memerr.ErrNoMemory
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Find the smallest free block of order >= the request.
	for i := order; i < MaxOrder; i++ {
		pfn := a.pop(i)
		if pfn == nilPFN {
			continue
		}

		// Split the block down to the requested order. Each split frees
		// the upper buddy half.
		for j := i; j > order; j-- {
			half := j - 1
			buddy := pfn + (int64(1) << half)
			a.pages[buddy].state = stateFree
			a.pages[buddy].order = half
			a.push(half, buddy)
		}

		a.pages[pfn].state = stateAllocated
		a.pages[pfn].order = order
		a.freePages -= uint64(1) << order
		return a.pa(pfn), nil
	}

	return 0, memerr.ErrNoMemory
}

// Free returns the block of 2^order pages at pa to the allocator,
// coalescing with its buddy when both halves are free.
//
// Freeing a block that is not a live allocation of that exact order
// (double free, bad address, wrong order) corrupts the free lists, so it
// is checked and panics: it signals a bug in the callers of this
// subsystem, not a recoverable runtime condition.
func (a *Allocator) Free(pa uint64, order uint8) {
	if !hostarch.IsPageAligned(pa) || order >= MaxOrder {
		panic(fmt.Sprintf("buddy.Free: bad block %#x order %d", pa, order))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pfn := a.pfn(pa)
	if pfn < 0 || pfn >= int64(len(a.pages)) {
		panic(fmt.Sprintf("buddy.Free: %#x outside managed memory", pa))
	}
	if p := &a.pages[pfn]; p.state != stateAllocated || p.order != order {
		panic(fmt.Sprintf("buddy.Free: %#x order %d is not a live allocation (state %d order %d)",
			pa, order, p.state, p.order))
	}

	a.freeBlock(pfn, order)
}

// freeBlock coalesces and pushes the block. Preconditions: the head at pfn
// is stateAllocated with matching order, and a.mu is held.
func (a *Allocator) freeBlock(pfn int64, order uint8) {
	a.freePages += uint64(1) << order

	for order < MaxOrder-1 {
		buddy := pfn ^ (int64(1) << order)
		if buddy < 0 || buddy >= int64(len(a.pages)) {
			break
		}
		bp := &a.pages[buddy]
		if bp.state != stateFree || bp.order != order {
			break
		}

		// Merge: pull the buddy off its list, demote the upper head.
		a.unlink(order, buddy)
		bp.state = stateBody
		if buddy < pfn {
			a.pages[pfn].state = stateBody
			pfn = buddy
		}
		order++
	}

	a.pages[pfn].state = stateFree
	a.pages[pfn].order = order
	a.push(order, pfn)
}

// AllocPage allocates a single page frame.
func (a *Allocator) AllocPage() (uint64, error) {
	return a.Alloc(0)
}

// FreePage frees a single page frame.
func (a *Allocator) FreePage(pa uint64) {
	a.Free(pa, 0)
}

// FreePages returns the number of pages currently free.
func (a *Allocator) FreePages() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freePages
}

// TotalPages returns the number of pages under management.
func (a *Allocator) TotalPages() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.managedPages
}
