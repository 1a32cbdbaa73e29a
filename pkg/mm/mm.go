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

// Package mm manages the user address space of a process: the region
// bookkeeping, the page tables behind it, and the frames backing both.
// It is the layer the syscall dispatcher calls for mmap, munmap,
// mprotect and brk, and the layer the exit path calls to tear the
// whole space down.
//
// One lock per address space guards the region list and the tables;
// it is held for the duration of a single operation and never across
// anything blocking.
package mm

import (
	"helios.dev/helios/pkg/buddy"
	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/log"
	"helios.dev/helios/pkg/memerr"
	"helios.dev/helios/pkg/pagetables"
	"helios.dev/helios/pkg/physmem"
	"helios.dev/helios/pkg/sync"
	"helios.dev/helios/pkg/vma"
)

// lifecycle tracks the state of an address space. The only path is
// forward: active on creation, destroyed on process exit, never back.
type lifecycle int

const (
	lifecycleActive lifecycle = iota
	lifecycleDestroyed
)

// AddressSpace is the user memory of one process.
type AddressSpace struct {
	mu sync.Mutex

	frames *buddy.Allocator
	mem    *physmem.Memory
	tables *pagetables.FrameAllocator
	pt     *pagetables.PageTables
	vmas   *vma.List
	layout Layout

	// brk is the current heap break. Grows and shrinks byte-wise;
	// pages are mapped for the page-rounded extent.
	brk hostarch.Addr

	state lifecycle
}

// NewAddressSpace builds an empty address space: a zeroed root table
// and no regions. The root frame comes from frames and is the only
// allocation; failure leaves nothing behind.
func NewAddressSpace(frames *buddy.Allocator, mem *physmem.Memory, layout Layout, tlb pagetables.TLB) (*AddressSpace, error) {
	if err := layout.check(); err != nil {
		return nil, err
	}
	tables := pagetables.NewFrameAllocator(frames)
	pt, err := pagetables.New(tables, tlb)
	if err != nil {
		return nil, err
	}
	return &AddressSpace{
		frames: frames,
		mem:    mem,
		tables: tables,
		pt:     pt,
		vmas:   vma.NewList(),
		layout: layout,
		brk:    layout.BrkBase,
		state:  lifecycleActive,
	}, nil
}

// checkActive panics on use after Destroy. Reaching a destroyed
// address space means the owning process structure outlived its
// teardown, which is a lifecycle bug, not a runtime condition.
//
// Precondition: as.mu is held.
func (as *AddressSpace) checkActive() {
	if as.state != lifecycleActive {
		panic("mm: operation on destroyed address space")
	}
}

// RootPhysical returns the physical address of the page-table root,
// the value the scheduler loads on a context switch to this process.
func (as *AddressSpace) RootPhysical() uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.checkActive()
	return as.pt.RootPhysical()
}

// MappedBytes returns the total bytes currently reserved.
func (as *AddressSpace) MappedBytes() uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.state != lifecycleActive {
		return 0
	}
	return as.vmas.Span()
}

// Lookup translates a user virtual address.
func (as *AddressSpace) Lookup(addr hostarch.Addr) (uint64, pagetables.MapOpts, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.checkActive()
	return as.pt.Lookup(addr)
}

// ValidateUserBuffer verifies that user code may access [ptr,
// ptr+length) with the given access type. Every page must be mapped,
// user accessible and carry the required permissions; anything else is
// ErrInvalidAddress. Called before the kernel dereferences a
// user-supplied pointer.
func (as *AddressSpace) ValidateUserBuffer(ptr hostarch.Addr, length uint64, at hostarch.AccessType) error {
	if length == 0 {
		return nil
	}
	end, ok := ptr.AddLength(length)
	if !ok || end > as.layout.MaxAddr {
		return memerr.ErrInvalidAddress
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	as.checkActive()

	for va := ptr.RoundDown(); va < end; va += hostarch.PageSize {
		_, opts, err := as.pt.Lookup(va)
		if err != nil {
			return memerr.ErrInvalidAddress
		}
		if !opts.User || !opts.Access.SupersetOf(at) {
			return memerr.ErrInvalidAddress
		}
	}
	return nil
}

// Destroy tears the address space down: every leaf frame is returned
// to the allocator first, then every table strictly bottom-up, the
// root last, then a full flush. Idempotent; the space is unusable
// afterwards.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.state == lifecycleDestroyed {
		log.Warningf("mm: repeated destroy of address space")
		return
	}
	as.state = lifecycleDestroyed

	as.pt.Destroy(func(pa uint64) {
		as.frames.FreePage(pa)
	})
	as.vmas = nil
	log.Debugf("mm: address space destroyed")
}
