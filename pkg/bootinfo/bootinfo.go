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

// Package bootinfo describes the physical memory map handed to the kernel
// once at init by the boot environment: a list of physical regions with a
// usable flag, plus ranges (kernel image, boot structures) that must never
// be handed to the frame allocator.
package bootinfo

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v2"
	"helios.dev/helios/pkg/hostarch"
)

// Range is a physical address range [Base, Base+Length).
type Range struct {
	Base   uint64 `yaml:"base"`
	Length uint64 `yaml:"length"`
}

// End returns the exclusive end of the range.
func (r Range) End() uint64 {
	return r.Base + r.Length
}

// Contains returns true if pa falls inside the range.
func (r Range) Contains(pa uint64) bool {
	return r.Base <= pa && pa < r.End()
}

// Overlaps returns true if the two ranges share at least one byte.
func (r Range) Overlaps(other Range) bool {
	return r.Base < other.End() && other.Base < r.End()
}

// Region is one entry of the physical memory map.
type Region struct {
	Base   uint64 `yaml:"base"`
	Length uint64 `yaml:"length"`
	Usable bool   `yaml:"usable"`
}

// Range returns the region's address range.
func (r Region) Range() Range {
	return Range{Base: r.Base, Length: r.Length}
}

// MemoryMap is the boot-time physical memory description.
type MemoryMap struct {
	// Regions is the installed physical memory, in ascending base order.
	Regions []Region `yaml:"regions"`

	// Reserved lists ranges inside usable regions that the frame allocator
	// must not touch (kernel image, boot page tables, firmware tables).
	Reserved []Range `yaml:"reserved"`
}

// Load reads a YAML machine description from r.
func Load(r io.Reader) (*MemoryMap, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading memory map: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML machine description.
func Parse(data []byte) (*MemoryMap, error) {
	var mm MemoryMap
	if err := yaml.Unmarshal(data, &mm); err != nil {
		return nil, fmt.Errorf("decoding memory map: %w", err)
	}
	if err := mm.Check(); err != nil {
		return nil, err
	}
	mm.normalize()
	return &mm, nil
}

// Check validates the map. Regions and reserved ranges must be page-aligned,
// non-empty and non-overlapping.
func (mm *MemoryMap) Check() error {
	if len(mm.Regions) == 0 {
		return fmt.Errorf("memory map has no regions")
	}
	for i, r := range mm.Regions {
		if r.Length == 0 {
			return fmt.Errorf("region %d is empty", i)
		}
		if !hostarch.IsPageAligned(r.Base) || !hostarch.IsPageAligned(r.Length) {
			return fmt.Errorf("region %d [%#x, %#x) is not page-aligned", i, r.Base, r.Range().End())
		}
		if r.Base+r.Length < r.Base {
			return fmt.Errorf("region %d [%#x, +%#x) wraps", i, r.Base, r.Length)
		}
		for j, o := range mm.Regions[:i] {
			if r.Range().Overlaps(o.Range()) {
				return fmt.Errorf("regions %d and %d overlap", j, i)
			}
		}
	}
	for i, r := range mm.Reserved {
		if r.Length == 0 {
			return fmt.Errorf("reserved range %d is empty", i)
		}
		if !hostarch.IsPageAligned(r.Base) || !hostarch.IsPageAligned(r.Length) {
			return fmt.Errorf("reserved range %d [%#x, %#x) is not page-aligned", i, r.Base, r.End())
		}
	}
	return nil
}

// normalize sorts regions and reserved ranges by base address.
func (mm *MemoryMap) normalize() {
	sort.Slice(mm.Regions, func(i, j int) bool {
		return mm.Regions[i].Base < mm.Regions[j].Base
	})
	sort.Slice(mm.Reserved, func(i, j int) bool {
		return mm.Reserved[i].Base < mm.Reserved[j].Base
	})
}

// UsableBytes returns the total byte count of usable regions, before
// reserved ranges are subtracted.
func (mm *MemoryMap) UsableBytes() uint64 {
	var total uint64
	for _, r := range mm.Regions {
		if r.Usable {
			total += r.Length
		}
	}
	return total
}

// TotalBytes returns the total installed physical memory.
func (mm *MemoryMap) TotalBytes() uint64 {
	var total uint64
	for _, r := range mm.Regions {
		total += r.Length
	}
	return total
}

// IsReserved returns true if pa falls in any reserved range.
func (mm *MemoryMap) IsReserved(pa uint64) bool {
	for _, r := range mm.Reserved {
		if r.Contains(pa) {
			return true
		}
	}
	return false
}
