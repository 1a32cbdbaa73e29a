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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"helios.dev/helios/pkg/bootinfo"
	"helios.dev/helios/pkg/buddy"
	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/log"
	"helios.dev/helios/pkg/pagetables"
	"helios.dev/helios/pkg/physmem"
)

// machine is the simulated hardware after boot: backing storage,
// frame allocator and the kernel's identity-mapped tables.
type machine struct {
	mem    *physmem.Memory
	frames *buddy.Allocator
	tables *pagetables.FrameAllocator
	kernel *pagetables.PageTables
}

// bringUp builds the machine from a memory map file.
func bringUp(path string) (*machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bm, err := bootinfo.Load(f)
	if err != nil {
		return nil, fmt.Errorf("bad memory map %s: %w", path, err)
	}

	mem := physmem.New(bm)
	frames := buddy.New(mem, bm.Reserved)
	tables := pagetables.NewFrameAllocator(frames)
	kernel, err := pagetables.New(tables, nil)
	if err != nil {
		return nil, err
	}

	// Make all of physical memory reachable through the kernel
	// tables, the way the boot path does before handing off.
	opts := pagetables.MapOpts{Access: hostarch.ReadWrite, Global: true}
	var mapErr error
	mem.Ranges(func(base, length uint64) {
		if mapErr == nil {
			mapErr = kernel.IdentityMap(base, base+length, opts)
		}
	})
	if mapErr != nil {
		return nil, mapErr
	}
	return &machine{mem: mem, frames: frames, tables: tables, kernel: kernel}, nil
}

// bootCmd brings the machine up and prints the memory accounting.
type bootCmd struct {
	mapPath string
}

func (*bootCmd) Name() string     { return "boot" }
func (*bootCmd) Synopsis() string { return "bring up the memory subsystem and print accounting" }
func (*bootCmd) Usage() string {
	return `boot -memory-map=<file>:
	Parse the boot memory map, initialize the frame allocator and the
	kernel identity map, and print the resulting accounting.
`
}

func (c *bootCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.mapPath, "memory-map", "", "path to the YAML memory map")
}

func (c *bootCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if c.mapPath == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m, err := bringUp(c.mapPath)
	if err != nil {
		log.Warningf("boot failed: %v", err)
		return subcommands.ExitFailure
	}

	total := m.frames.TotalPages()
	free := m.frames.FreePages()
	fmt.Printf("physical memory:  %d pages (%d MiB) in %d bank(s)\n",
		m.mem.TotalPages(), m.mem.TotalPages()>>8, countBanks(m.mem))
	fmt.Printf("frame allocator:  %d managed, %d free, %d in use\n", total, free, total-free)
	fmt.Printf("kernel tables:    %d frames, root at %#x\n", m.tables.Tables(), m.kernel.RootPhysical())
	return subcommands.ExitSuccess
}

func countBanks(mem *physmem.Memory) int {
	n := 0
	mem.Ranges(func(uint64, uint64) { n++ })
	return n
}
