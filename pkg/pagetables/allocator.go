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

package pagetables

import (
	"fmt"

	"helios.dev/helios/pkg/buddy"
)

// FrameAllocator backs translation tables with frames from the buddy
// allocator. Each table occupies exactly one frame; the allocator
// keeps the table ↔ frame association in both directions so that
// walks can follow physical pointers.
//
// Not locked: used under the same per-process lock as the tables it
// serves.
type FrameAllocator struct {
	frames *buddy.Allocator

	byPhys map[uint64]*PTEs
	byPTEs map[*PTEs]uint64
}

// NewFrameAllocator returns an allocator drawing from frames.
func NewFrameAllocator(frames *buddy.Allocator) *FrameAllocator {
	return &FrameAllocator{
		frames: frames,
		byPhys: make(map[uint64]*PTEs),
		byPTEs: make(map[*PTEs]uint64),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *FrameAllocator) NewPTEs() (*PTEs, error) {
	pa, err := a.frames.AllocPage()
	if err != nil {
		return nil, err
	}
	ptes := new(PTEs)
	a.byPhys[pa] = ptes
	a.byPTEs[ptes] = pa
	return ptes, nil
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *FrameAllocator) PhysicalFor(ptes *PTEs) uint64 {
	pa, ok := a.byPTEs[ptes]
	if !ok {
		panic("pagetables: PhysicalFor on unknown table")
	}
	return pa
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *FrameAllocator) LookupPTEs(physical uint64) *PTEs {
	ptes, ok := a.byPhys[physical]
	if !ok {
		panic(fmt.Sprintf("pagetables: no table at %#x", physical))
	}
	return ptes
}

// FreePTEs implements Allocator.FreePTEs, returning the table's frame.
func (a *FrameAllocator) FreePTEs(ptes *PTEs) {
	pa, ok := a.byPTEs[ptes]
	if !ok {
		panic("pagetables: FreePTEs on unknown table")
	}
	delete(a.byPTEs, ptes)
	delete(a.byPhys, pa)
	a.frames.FreePage(pa)
}

// Tables returns the number of live translation tables.
func (a *FrameAllocator) Tables() int {
	return len(a.byPTEs)
}
