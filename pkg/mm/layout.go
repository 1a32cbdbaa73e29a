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
	"helios.dev/helios/pkg/pagetables"
)

// Layout fixes the user virtual address space of a process.
type Layout struct {
	// BrkBase is where the heap break starts.
	BrkBase hostarch.Addr

	// MmapBase is the lowest address considered by the mmap gap
	// search.
	MmapBase hostarch.Addr

	// MmapTop is the exclusive upper bound of the gap search.
	MmapTop hostarch.Addr

	// StackTop is the top of the initial stack.
	StackTop hostarch.Addr

	// MaxAddr is the exclusive end of user space. Nothing at or
	// above it is ever user accessible.
	MaxAddr hostarch.Addr
}

// DefaultLayout returns the standard process layout.
func DefaultLayout() Layout {
	return Layout{
		BrkBase:  0x0000004000000000,
		MmapBase: 0x0000100000000000,
		MmapTop:  0x0000700000000000,
		StackTop: 0x00007fffffff0000,
		MaxAddr:  0x0000800000000000,
	}
}

// check validates internal ordering and the architectural limit.
func (l Layout) check() error {
	switch {
	case !l.BrkBase.IsPageAligned(),
		!l.MmapBase.IsPageAligned(),
		!l.MmapTop.IsPageAligned(),
		!l.StackTop.IsPageAligned():
		return memerr.ErrMisaligned
	case l.MmapBase >= l.MmapTop,
		l.MaxAddr == 0,
		l.MaxAddr > pagetables.MaxUserAddress,
		l.MmapTop > l.MaxAddr,
		l.StackTop > l.MaxAddr:
		return memerr.ErrInvalidArgument
	}
	return nil
}

// contains returns true if [addr, addr+length) lies inside user space.
func (l Layout) contains(addr hostarch.Addr, length uint64) bool {
	end, ok := addr.AddLength(length)
	return ok && end <= l.MaxAddr
}
