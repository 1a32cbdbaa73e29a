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

// Package pagetables implements the translation tables of the MMU: a
// four-level tree with 512 entries per table covering a 48-bit virtual
// address space at 4K granularity. The entry encoding is architecture
// specific and selected at compile time; the walking, mapping and
// teardown logic is shared.
//
// The package does not lock. The tables of an address space are
// protected by the per-process lock of the layer above, held for the
// duration of each map/unmap/teardown operation.
package pagetables

import (
	"fmt"

	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/memerr"
)

// Table geometry, common to both architectures: 4K granule, 512
// entries per table, four levels translating bits 47..12.
const (
	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	pteSize = 1 << pteShift
	pmdSize = 1 << pmdShift

	entriesPerPage = 512
	numLevels      = 4
	leafLevel      = numLevels - 1
)

// levelShift returns the VA shift of the index for the given level,
// level 0 being the root.
func levelShift(level int) uint {
	return uint(pgdShift - level*9)
}

// PTEs is one hardware translation table.
type PTEs [entriesPerPage]PTE

// Allocator provides the physical frames backing translation tables.
//
// Every table handed out by NewPTEs is zeroed and has a stable
// physical address; the allocator maintains the bidirectional mapping
// so that a walk can descend through physical table pointers.
type Allocator interface {
	// NewPTEs returns a new zeroed table, or an error if no frame
	// could be obtained. Exhaustion is recoverable and must be
	// propagated, never ignored.
	NewPTEs() (*PTEs, error)

	// PhysicalFor returns the physical address of the given table.
	PhysicalFor(ptes *PTEs) uint64

	// LookupPTEs returns the table at the given physical address.
	LookupPTEs(physical uint64) *PTEs

	// FreePTEs returns the table's frame.
	FreePTEs(ptes *PTEs)
}

// TLB invalidates stale translations. Invalidation is synchronous
// with the entry edit that requires it; it is never deferred past the
// point where a freed frame could be reused.
type TLB interface {
	// FlushPage invalidates the translation for a single page.
	FlushPage(va hostarch.Addr)

	// FlushAll invalidates every translation of the address space.
	FlushAll()
}

// noopTLB is the default when no hardware hook is installed, e.g. for
// tables that are not live on any CPU.
type noopTLB struct{}

func (noopTLB) FlushPage(hostarch.Addr) {}
func (noopTLB) FlushAll()               {}

// MapOpts are the options for a single mapping.
type MapOpts struct {
	// Access is the permitted access type.
	Access hostarch.AccessType

	// User indicates the mapping is accessible from user mode.
	// Kernel-only mappings never carry this.
	User bool

	// Global indicates the mapping survives address-space switches.
	Global bool
}

// PageTables is one address space's translation tree.
type PageTables struct {
	// Allocator provides table frames.
	Allocator Allocator

	// TLB receives invalidations.
	TLB TLB

	// root is the level-0 table. nil after Destroy.
	root *PTEs

	// rootPhysical is the root's frame address, the value loaded
	// into the translation base register for this address space.
	rootPhysical uint64
}

// New allocates a zeroed root table. A nil tlb installs a no-op sink.
func New(a Allocator, tlb TLB) (*PageTables, error) {
	if tlb == nil {
		tlb = noopTLB{}
	}
	root, err := a.NewPTEs()
	if err != nil {
		return nil, memerr.ErrNoMemory
	}
	return &PageTables{
		Allocator:    a,
		TLB:          tlb,
		root:         root,
		rootPhysical: a.PhysicalFor(root),
	}, nil
}

// RootPhysical returns the physical address of the root table.
func (p *PageTables) RootPhysical() uint64 {
	return p.rootPhysical
}

// walkEntry descends from the root to the entry for va at the target
// level. With create set, missing intermediate tables are allocated
// and linked; otherwise a missing link is ErrNotMapped. A block entry
// blocking the descent is ErrInvalidAddress.
func (p *PageTables) walkEntry(va hostarch.Addr, target int, create bool) (*PTE, error) {
	if p.root == nil {
		panic("pagetables: walk on destroyed tables")
	}
	ptes := p.root
	for level := 0; ; level++ {
		pte := &ptes[int(uint64(va)>>levelShift(level))&(entriesPerPage-1)]
		if level == target {
			return pte, nil
		}
		if !pte.Valid() {
			if !create {
				return nil, memerr.ErrNotMapped
			}
			child, err := p.Allocator.NewPTEs()
			if err != nil {
				return nil, memerr.ErrNoMemory
			}
			pte.setPageTable(p.Allocator.PhysicalFor(child))
			ptes = child
			continue
		}
		if pte.IsSect() {
			return nil, memerr.ErrInvalidAddress
		}
		ptes = p.Allocator.LookupPTEs(pte.Address())
	}
}

// checkRange verifies that [va, va+size) lies inside the translatable
// lower half.
func checkRange(va hostarch.Addr, size uint64) error {
	end, ok := va.AddLength(size)
	if !ok || uint64(end) > lowerTop+1 {
		return memerr.ErrInvalidAddress
	}
	return nil
}

// MapPage installs a 4K leaf mapping of pa at va. An existing mapping
// at va is replaced and its translation flushed; the displaced frame
// is the caller's to account for.
func (p *PageTables) MapPage(va hostarch.Addr, pa uint64, opts MapOpts) error {
	if !va.IsPageAligned() || !hostarch.IsPageAligned(pa) {
		return memerr.ErrMisaligned
	}
	if err := checkRange(va, hostarch.PageSize); err != nil {
		return err
	}
	pte, err := p.walkEntry(va, leafLevel, true)
	if err != nil {
		return err
	}
	prev := pte.Valid()
	pte.Set(pa, opts)
	if prev {
		p.TLB.FlushPage(va)
	}
	return nil
}

// MapBlock installs a 2M block mapping of pa at va. The entry must be
// free; blocks are used for the boot-time identity map only and are
// never split.
func (p *PageTables) MapBlock(va hostarch.Addr, pa uint64, opts MapOpts) error {
	if !va.IsHugePageAligned() || pa%hostarch.HugePageSize != 0 {
		return memerr.ErrMisaligned
	}
	if err := checkRange(va, hostarch.HugePageSize); err != nil {
		return err
	}
	pte, err := p.walkEntry(va, leafLevel-1, true)
	if err != nil {
		return err
	}
	if pte.Valid() {
		return memerr.ErrInvalidAddress
	}
	pte.SetBlock(pa, opts)
	return nil
}

// UnmapPage clears the leaf entry at va and flushes its translation.
//
// The frame that was mapped is not freed; ownership stays with the
// caller. Intermediate tables left empty are kept, not collapsed.
func (p *PageTables) UnmapPage(va hostarch.Addr) error {
	if !va.IsPageAligned() {
		return memerr.ErrMisaligned
	}
	pte, err := p.walkEntry(va, leafLevel, false)
	if err != nil {
		return memerr.ErrNotMapped
	}
	if !pte.Valid() {
		return memerr.ErrNotMapped
	}
	pte.Clear()
	p.TLB.FlushPage(va)
	return nil
}

// Lookup translates va, following block entries where present.
func (p *PageTables) Lookup(va hostarch.Addr) (uint64, MapOpts, error) {
	if p.root == nil {
		panic("pagetables: lookup on destroyed tables")
	}
	if err := checkRange(va.RoundDown(), hostarch.PageSize); err != nil {
		return 0, MapOpts{}, err
	}
	ptes := p.root
	for level := 0; ; level++ {
		pte := &ptes[int(uint64(va)>>levelShift(level))&(entriesPerPage-1)]
		if !pte.Valid() {
			return 0, MapOpts{}, memerr.ErrNotMapped
		}
		if level == leafLevel {
			return pte.Address() + uint64(va.PageOffset()), pte.Opts(), nil
		}
		if pte.IsSect() {
			size := uint64(1) << levelShift(level)
			return pte.Address() + uint64(va)&(size-1), pte.Opts(), nil
		}
		ptes = p.Allocator.LookupPTEs(pte.Address())
	}
}

// Destroy tears down the whole tree. Every valid leaf frame is handed
// to leafFree first; intermediate tables are then freed strictly
// bottom-up, a table only after everything reachable through it, the
// root last, followed by a full flush. The tables are unusable
// afterwards.
//
// Block mappings must not be present: address spaces torn down this
// way carry only 4K user mappings.
func (p *PageTables) Destroy(leafFree func(pa uint64)) {
	if p.root == nil {
		panic("pagetables: double destroy")
	}

	var (
		leaves []uint64
		tables []*PTEs
	)
	p.collect(p.root, 0, &leaves, &tables)

	for _, pa := range leaves {
		leafFree(pa)
	}
	// tables is in post-order: every table precedes its parent.
	for _, t := range tables {
		p.Allocator.FreePTEs(t)
	}
	p.Allocator.FreePTEs(p.root)
	p.root = nil
	p.TLB.FlushAll()
}

// collect gathers leaf frames and, in post-order, intermediate tables
// below ptes. The root itself is not appended.
func (p *PageTables) collect(ptes *PTEs, level int, leaves *[]uint64, tables *[]*PTEs) {
	for i := range ptes {
		pte := &ptes[i]
		if !pte.Valid() {
			continue
		}
		if level == leafLevel {
			*leaves = append(*leaves, pte.Address())
			continue
		}
		if pte.IsSect() {
			panic(fmt.Sprintf("pagetables: block entry at level %d during teardown", level))
		}
		child := p.Allocator.LookupPTEs(pte.Address())
		p.collect(child, level+1, leaves, tables)
		*tables = append(*tables, child)
	}
}

// IdentityMap maps [start, end) at its own physical addresses, using
// 2M blocks where alignment permits and 4K pages elsewhere. Used once
// at boot to make physical memory reachable.
func (p *PageTables) IdentityMap(start, end uint64, opts MapOpts) error {
	if !hostarch.IsPageAligned(start) || !hostarch.IsPageAligned(end) || end < start {
		return memerr.ErrMisaligned
	}
	for start < end {
		if start%hostarch.HugePageSize == 0 && end-start >= hostarch.HugePageSize {
			if err := p.MapBlock(hostarch.Addr(start), start, opts); err != nil {
				return err
			}
			start += hostarch.HugePageSize
			continue
		}
		if err := p.MapPage(hostarch.Addr(start), start, opts); err != nil {
			return err
		}
		start += hostarch.PageSize
	}
	return nil
}
