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

// Package physmem provides byte-level access to the machine's physical
// memory banks, built from the boot-time memory map. It stands in for the
// kernel's direct map (phys_to_virt): given a physical address, it returns
// the bytes backing it.
package physmem

import (
	"fmt"
	"sort"

	"helios.dev/helios/pkg/bootinfo"
	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/memerr"
)

// bank is one contiguous usable region with backing storage.
type bank struct {
	base uint64
	data []byte
}

// Memory is the set of usable physical memory banks.
type Memory struct {
	// banks are sorted by ascending base and never overlap. Immutable
	// after New, so lookups require no locking.
	banks []bank
}

// New builds backing storage for every usable region of the memory map.
func New(mm *bootinfo.MemoryMap) *Memory {
	m := &Memory{}
	for _, r := range mm.Regions {
		if !r.Usable {
			continue
		}
		m.banks = append(m.banks, bank{
			base: r.Base,
			data: make([]byte, r.Length),
		})
	}
	sort.Slice(m.banks, func(i, j int) bool {
		return m.banks[i].base < m.banks[j].base
	})
	return m
}

// find returns the bank containing pa, or nil.
func (m *Memory) find(pa uint64) *bank {
	i := sort.Search(len(m.banks), func(i int) bool {
		return pa < m.banks[i].base+uint64(len(m.banks[i].data))
	})
	if i < len(m.banks) && pa >= m.banks[i].base {
		return &m.banks[i]
	}
	return nil
}

// Contains returns true if pa falls inside a usable bank.
func (m *Memory) Contains(pa uint64) bool {
	return m.find(pa) != nil
}

// Bytes returns the backing bytes for [pa, pa+length). The range must not
// cross a bank boundary.
func (m *Memory) Bytes(pa, length uint64) ([]byte, error) {
	b := m.find(pa)
	if b == nil {
		return nil, memerr.ErrInvalidAddress
	}
	off := pa - b.base
	if off+length > uint64(len(b.data)) {
		return nil, memerr.ErrInvalidAddress
	}
	return b.data[off : off+length], nil
}

// Page returns the backing bytes of the page frame at pa.
//
// Precondition: pa is page-aligned and inside a usable bank.
func (m *Memory) Page(pa uint64) []byte {
	if !hostarch.IsPageAligned(pa) {
		panic(fmt.Sprintf("physmem.Page: unaligned address %#x", pa))
	}
	data, err := m.Bytes(pa, hostarch.PageSize)
	if err != nil {
		panic(fmt.Sprintf("physmem.Page: frame %#x outside installed memory", pa))
	}
	return data
}

// ZeroPage clears the page frame at pa.
func (m *Memory) ZeroPage(pa uint64) {
	clear(m.Page(pa))
}

// Ranges calls fn for each usable bank in ascending base order.
func (m *Memory) Ranges(fn func(base, length uint64)) {
	for _, b := range m.banks {
		fn(b.base, uint64(len(b.data)))
	}
}

// TotalPages returns the number of usable page frames.
func (m *Memory) TotalPages() uint64 {
	var total uint64
	for _, b := range m.banks {
		total += uint64(len(b.data)) / hostarch.PageSize
	}
	return total
}
