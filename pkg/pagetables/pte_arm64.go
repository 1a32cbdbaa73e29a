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

//go:build arm64

package pagetables

import (
	"sync/atomic"

	"helios.dev/helios/pkg/hostarch"
)

// Address constraints: TTBR0 translates the lower region up to
// lowerTop, TTBR1 the upper region from upperBottom. Only the lower
// region is managed here.
const (
	lowerTop    = uint64(0x0000ffffffffffff)
	upperBottom = uint64(0xffff000000000000)
)

// MaxUserAddress is the first address past the TTBR0 region.
const MaxUserAddress = hostarch.Addr(lowerTop + 1)

// Descriptor bits, ARM ARM D5.3. Bit 1 distinguishes a table (or, at
// the leaf level, a page) from a block; permissions live in the AP
// bits and the UXN/PXN bits.
const (
	pteValid = uint64(1) << 0
	pteTable = uint64(1) << 1

	apUser     = uint64(1) << 6 // AP[1]: EL0 accessible
	apReadOnly = uint64(1) << 7 // AP[2]: write disable

	shareInner = uint64(3) << 8
	accessFlag = uint64(1) << 10
	notGlobal  = uint64(1) << 11

	pxn = uint64(1) << 53
	uxn = uint64(1) << 54

	// attrNormal selects write-back normal memory via MAIR index 0.
	attrNormal = uint64(0) << 2

	addressMask = uint64(0x0000fffffffff000)
)

// PTE is a translation table descriptor.
type PTE uint64

// Valid returns true iff this entry is valid.
//
//go:nosplit
func (p *PTE) Valid() bool {
	return atomic.LoadUint64((*uint64)(p))&pteValid != 0
}

// Clear zaps this entry.
//
//go:nosplit
func (p *PTE) Clear() {
	atomic.StoreUint64((*uint64)(p), 0)
}

// Address extracts the physical address this entry refers to.
//
//go:nosplit
func (p *PTE) Address() uint64 {
	return atomic.LoadUint64((*uint64)(p)) & addressMask
}

// IsSect returns true iff this is a block descriptor. Meaningful at
// non-leaf levels only; leaf descriptors always carry the table bit.
//
//go:nosplit
func (p *PTE) IsSect() bool {
	v := atomic.LoadUint64((*uint64)(p))
	return v&pteValid != 0 && v&pteTable == 0
}

// encode builds the attribute bits common to page and block mappings.
func encode(pa uint64, opts MapOpts) uint64 {
	v := pa&addressMask | pteValid | accessFlag | shareInner | attrNormal
	if opts.User {
		v |= apUser | pxn
	} else {
		v |= uxn
	}
	if !opts.Access.Write {
		v |= apReadOnly
	}
	if !opts.Access.Execute {
		v |= uxn | pxn
	}
	if !opts.Global {
		v |= notGlobal
	}
	return v
}

// Set installs a 4K page mapping.
//
//go:nosplit
func (p *PTE) Set(pa uint64, opts MapOpts) {
	atomic.StoreUint64((*uint64)(p), encode(pa, opts)|pteTable)
}

// SetBlock installs a 2M block mapping.
//
//go:nosplit
func (p *PTE) SetBlock(pa uint64, opts MapOpts) {
	atomic.StoreUint64((*uint64)(p), encode(pa, opts))
}

// setPageTable links a child table. Hierarchical permission bits are
// left clear; access is controlled at the leaf.
//
//go:nosplit
func (p *PTE) setPageTable(pa uint64) {
	atomic.StoreUint64((*uint64)(p), pa&addressMask|pteValid|pteTable)
}

// Opts decodes the mapping options of a page or block descriptor.
//
//go:nosplit
func (p *PTE) Opts() MapOpts {
	v := atomic.LoadUint64((*uint64)(p))
	isUser := v&apUser != 0
	execute := false
	if isUser {
		execute = v&uxn == 0
	} else {
		execute = v&pxn == 0
	}
	return MapOpts{
		Access: hostarch.AccessType{
			Read:    true,
			Write:   v&apReadOnly == 0,
			Execute: execute,
		},
		User:   isUser,
		Global: v&notGlobal == 0,
	}
}
