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

//go:build amd64

package pagetables

import (
	"sync/atomic"

	"helios.dev/helios/pkg/hostarch"
)

// Address constraints for four-level tables: the translatable lower
// half ends at lowerTop, the upper half begins at upperBottom, and
// everything between is non-canonical.
const (
	lowerTop    = uint64(0x00007fffffffffff)
	upperBottom = uint64(0xffff800000000000)
)

// MaxUserAddress is the first address past the translatable lower half.
const MaxUserAddress = hostarch.Addr(lowerTop + 1)

// Entry bits, Intel SDM Vol 3 Ch 4.
const (
	present      = uint64(1) << 0
	writable     = uint64(1) << 1
	user         = uint64(1) << 2
	writeThrough = uint64(1) << 3
	cacheDisable = uint64(1) << 4
	accessed     = uint64(1) << 5
	dirty        = uint64(1) << 6
	super        = uint64(1) << 7
	global       = uint64(1) << 8
	executeNever = uint64(1) << 63

	addressMask = uint64(0x000ffffffffff000)
)

// PTE is a page table entry.
type PTE uint64

// Valid returns true iff this entry is valid.
//
//go:nosplit
func (p *PTE) Valid() bool {
	return atomic.LoadUint64((*uint64)(p))&present != 0
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

// IsSect returns true iff this is a block (PSE) entry. Meaningful at
// non-leaf levels only; leaf entries never carry the bit.
//
//go:nosplit
func (p *PTE) IsSect() bool {
	v := atomic.LoadUint64((*uint64)(p))
	return v&present != 0 && v&super != 0
}

// encode builds the permission bits for a leaf or block mapping.
func encode(pa uint64, opts MapOpts) uint64 {
	v := pa&addressMask | present | accessed
	if opts.User {
		v |= user
	}
	if opts.Access.Write {
		v |= writable | dirty
	}
	if !opts.Access.Execute {
		v |= executeNever
	}
	if opts.Global {
		v |= global
	}
	return v
}

// Set installs a 4K page mapping.
//
//go:nosplit
func (p *PTE) Set(pa uint64, opts MapOpts) {
	atomic.StoreUint64((*uint64)(p), encode(pa, opts))
}

// SetBlock installs a 2M block mapping.
//
//go:nosplit
func (p *PTE) SetBlock(pa uint64, opts MapOpts) {
	atomic.StoreUint64((*uint64)(p), encode(pa, opts)|super)
}

// setPageTable links a child table. The intermediate entry is maximally
// permissive; access is controlled at the leaf.
//
//go:nosplit
func (p *PTE) setPageTable(pa uint64) {
	atomic.StoreUint64((*uint64)(p), pa&addressMask|present|writable|user|accessed|dirty)
}

// Opts decodes the mapping options of a leaf or block entry.
//
//go:nosplit
func (p *PTE) Opts() MapOpts {
	v := atomic.LoadUint64((*uint64)(p))
	return MapOpts{
		Access: hostarch.AccessType{
			Read:    true,
			Write:   v&writable != 0,
			Execute: v&executeNever == 0,
		},
		User:   v&user != 0,
		Global: v&global != 0,
	}
}
