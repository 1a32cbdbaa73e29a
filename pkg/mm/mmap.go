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
	"time"

	"helios.dev/helios/pkg/cleanup"
	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/log"
	"helios.dev/helios/pkg/memerr"
	"helios.dev/helios/pkg/pagetables"
	"helios.dev/helios/pkg/vma"
)

// unmappedLog reports munmap calls against untracked ranges. User code
// can trigger these at will, so the log is rate limited.
var unmappedLog = log.BasicRateLimitedLogger(5 * time.Second)

// MMapOpts are the arguments to MMap.
type MMapOpts struct {
	// Addr is the placement hint, or the exact address with Fixed.
	Addr hostarch.Addr

	// Length is the requested length in bytes; rounded up to whole
	// pages.
	Length uint64

	// Access is the access permitted to the new region.
	Access hostarch.AccessType

	// Fixed places the region exactly at Addr. An occupied range is
	// rejected, never clobbered.
	Fixed bool

	// Anonymous requests zero-filled memory. This is the only kind
	// of mapping supported; file-backed mappings are rejected.
	Anonymous bool
}

// MMap reserves and maps a new region, returning its address.
//
// Every page is allocated, zeroed and mapped under a rollback guard:
// if any page fails, everything already done for this call is undone
// before the error returns. A failed MMap is never partially visible.
func (as *AddressSpace) MMap(opts MMapOpts) (hostarch.Addr, error) {
	if opts.Length == 0 || !opts.Anonymous {
		return 0, memerr.ErrInvalidArgument
	}
	length, ok := hostarch.PageRoundUp(opts.Length)
	if !ok {
		return 0, memerr.ErrInvalidArgument
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	as.checkActive()

	addr, err := as.selectAddr(opts, length)
	if err != nil {
		return 0, err
	}
	if err := as.mapLocked(addr, length, opts.Access); err != nil {
		return 0, err
	}
	log.Debugf("mm: mmap [%#x, %#x) %s", uint64(addr), uint64(addr)+length, opts.Access)
	return addr, nil
}

// selectAddr picks the placement for a new region of the given
// page-rounded length.
//
// Precondition: as.mu is held.
func (as *AddressSpace) selectAddr(opts MMapOpts, length uint64) (hostarch.Addr, error) {
	if opts.Fixed {
		if !opts.Addr.IsPageAligned() {
			return 0, memerr.ErrMisaligned
		}
		if !as.layout.contains(opts.Addr, length) {
			return 0, memerr.ErrInvalidAddress
		}
		if end, _ := opts.Addr.AddLength(length); len(as.vmas.FindOverlapping(opts.Addr, end)) != 0 {
			return 0, memerr.ErrOverlapping
		}
		return opts.Addr, nil
	}

	// A usable hint wins; otherwise search the mmap region.
	if hint := opts.Addr.RoundDown(); hint != 0 && as.layout.contains(hint, length) {
		if end, _ := hint.AddLength(length); len(as.vmas.FindOverlapping(hint, end)) == 0 {
			return hint, nil
		}
	}
	return as.vmas.FindGap(as.layout.MmapBase, length, as.layout.MmapTop)
}

// mapLocked allocates, zeroes and maps [addr, addr+length) and inserts
// the region, all or nothing.
//
// Precondition: as.mu is held, addr and length are page-aligned, the
// range is inside user space and free.
func (as *AddressSpace) mapLocked(addr hostarch.Addr, length uint64, access hostarch.AccessType) error {
	end, _ := addr.AddLength(length)

	var cu cleanup.Cleanup
	defer cu.Clean()

	ptOpts := pagetables.MapOpts{Access: access.Effective(), User: true}
	for va := addr; va < end; va += hostarch.PageSize {
		pa, err := as.frames.AllocPage()
		if err != nil {
			return memerr.ErrNoMemory
		}
		as.mem.ZeroPage(pa)
		if err := as.pt.MapPage(va, pa, ptOpts); err != nil {
			as.frames.FreePage(pa)
			return err
		}
		cu.Add(func() {
			if err := as.pt.UnmapPage(va); err != nil {
				panic("mm: rollback of mapped page failed")
			}
			as.frames.FreePage(pa)
		})
	}

	if err := as.vmas.Insert(vma.Vma{Start: addr, End: end, Flags: access}); err != nil {
		return err
	}
	// The region is fully live and visible; disarm the rollback.
	cu.Release()
	return nil
}

// MUnmap releases [addr, addr+length).
//
// The region bookkeeping is updated first, so no lookup observes a
// half-removed region; only then are the pages unmapped, each frame
// freed and each translation flushed. A range with no matching region
// is not an error.
func (as *AddressSpace) MUnmap(addr hostarch.Addr, length uint64) error {
	if !addr.IsPageAligned() {
		return memerr.ErrMisaligned
	}
	if length == 0 {
		return memerr.ErrInvalidArgument
	}
	length, ok := hostarch.PageRoundUp(length)
	if !ok {
		return memerr.ErrInvalidArgument
	}
	end, ok := addr.AddLength(length)
	if !ok || end > as.layout.MaxAddr {
		return memerr.ErrInvalidAddress
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	as.checkActive()

	if err := as.vmas.Remove(addr, end); err != nil {
		if err == memerr.ErrNotFound {
			unmappedLog.Infof("mm: munmap of unmapped range [%#x, %#x)", uint64(addr), uint64(end))
			return nil
		}
		return err
	}

	as.unmapLocked(addr, end)
	return nil
}

// unmapLocked unmaps and frees every mapped page in [addr, end).
//
// Precondition: as.mu is held, addr is page-aligned.
func (as *AddressSpace) unmapLocked(addr, end hostarch.Addr) {
	for va := addr; va < end; va += hostarch.PageSize {
		pa, _, err := as.pt.Lookup(va)
		if err != nil {
			// Never mapped; nothing to release.
			continue
		}
		if err := as.pt.UnmapPage(va); err != nil {
			panic("mm: unmap of looked-up page failed")
		}
		as.frames.FreePage(pa)
	}
}

// MProtect changes the access of every reserved part of [addr,
// addr+length), updating both the regions and the live entries.
func (as *AddressSpace) MProtect(addr hostarch.Addr, length uint64, access hostarch.AccessType) error {
	if !addr.IsPageAligned() {
		return memerr.ErrMisaligned
	}
	if length == 0 {
		return memerr.ErrInvalidArgument
	}
	length, ok := hostarch.PageRoundUp(length)
	if !ok {
		return memerr.ErrInvalidArgument
	}
	end, ok := addr.AddLength(length)
	if !ok || end > as.layout.MaxAddr {
		return memerr.ErrInvalidAddress
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	as.checkActive()

	if err := as.vmas.Protect(addr, end, access); err != nil {
		return err
	}

	ptOpts := pagetables.MapOpts{Access: access.Effective(), User: true}
	for va := addr; va < end; va += hostarch.PageSize {
		pa, _, err := as.pt.Lookup(va)
		if err != nil {
			continue
		}
		// Reinstalling the entry flushes the stale translation.
		if err := as.pt.MapPage(va, pa, ptOpts); err != nil {
			panic("mm: reprotect of mapped page failed")
		}
	}
	return nil
}

// MapRange maps [addr, addr+length) at a fixed address for the
// program loader, bypassing the gap search but recorded like any
// other region. Same all-or-nothing guarantee as MMap.
func (as *AddressSpace) MapRange(addr hostarch.Addr, length uint64, access hostarch.AccessType) error {
	if !addr.IsPageAligned() {
		return memerr.ErrMisaligned
	}
	if length == 0 {
		return memerr.ErrInvalidArgument
	}
	length, ok := hostarch.PageRoundUp(length)
	if !ok {
		return memerr.ErrInvalidArgument
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	as.checkActive()

	if !as.layout.contains(addr, length) {
		return memerr.ErrInvalidAddress
	}
	if end, _ := addr.AddLength(length); len(as.vmas.FindOverlapping(addr, end)) != 0 {
		return memerr.ErrOverlapping
	}
	return as.mapLocked(addr, length, access)
}
