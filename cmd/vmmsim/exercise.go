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
	"math/rand"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"helios.dev/helios/pkg/buddy"
	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/log"
	"helios.dev/helios/pkg/memerr"
	"helios.dev/helios/pkg/mm"
	"helios.dev/helios/pkg/physmem"
)

// exerciseCmd runs a randomized mmap/munmap/brk workload over fresh
// address spaces and verifies that every frame comes back.
type exerciseCmd struct {
	mapPath string
	procs   int
	rounds  int
	seed    int64
}

func (*exerciseCmd) Name() string     { return "exercise" }
func (*exerciseCmd) Synopsis() string { return "run a randomized workload and check for leaks" }
func (*exerciseCmd) Usage() string {
	return `exercise -memory-map=<file> [-procs=N] [-rounds=N] [-seed=N]:
	Create address spaces concurrently, run random map/unmap/brk
	traffic in each, destroy them, and verify frame accounting.
`
}

func (c *exerciseCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.mapPath, "memory-map", "", "path to the YAML memory map")
	f.IntVar(&c.procs, "procs", 4, "concurrent address spaces")
	f.IntVar(&c.rounds, "rounds", 64, "operations per address space")
	f.Int64Var(&c.seed, "seed", 1, "workload seed")
}

func (c *exerciseCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if c.mapPath == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m, err := bringUp(c.mapPath)
	if err != nil {
		log.Warningf("boot failed: %v", err)
		return subcommands.ExitFailure
	}
	baseline := m.frames.FreePages()

	var g errgroup.Group
	for p := 0; p < c.procs; p++ {
		rng := rand.New(rand.NewSource(c.seed + int64(p)))
		g.Go(func() error {
			return runProcess(m.frames, m.mem, rng, c.rounds)
		})
	}
	if err := g.Wait(); err != nil {
		log.Warningf("exercise failed: %v", err)
		return subcommands.ExitFailure
	}

	if free := m.frames.FreePages(); free != baseline {
		fmt.Printf("LEAK: %d frames missing after teardown\n", baseline-free)
		return subcommands.ExitFailure
	}
	fmt.Printf("ok: %d address spaces, %d rounds each, no frames leaked\n", c.procs, c.rounds)
	return subcommands.ExitSuccess
}

// runProcess simulates one process lifetime: random traffic against a
// fresh address space, then teardown.
func runProcess(frames *buddy.Allocator, mem *physmem.Memory, rng *rand.Rand, rounds int) error {
	as, err := mm.NewAddressSpace(frames, mem, mm.DefaultLayout(), nil)
	if err != nil {
		return err
	}
	defer as.Destroy()

	var live []hostarch.AddrRange
	for i := 0; i < rounds; i++ {
		switch rng.Intn(3) {
		case 0:
			length := uint64(1+rng.Intn(8)) * hostarch.PageSize
			addr, err := as.MMap(mm.MMapOpts{
				Length:    length,
				Access:    hostarch.ReadWrite,
				Anonymous: true,
			})
			if err == memerr.ErrNoMemory {
				continue // Pressure is part of the workload.
			}
			if err != nil {
				return err
			}
			if err := as.ValidateUserBuffer(addr, length, hostarch.ReadWrite); err != nil {
				return fmt.Errorf("fresh mapping at %#x not accessible: %w", uint64(addr), err)
			}
			live = append(live, hostarch.AddrRange{Start: addr, End: addr + hostarch.Addr(length)})
		case 1:
			if len(live) == 0 {
				continue
			}
			k := rng.Intn(len(live))
			r := live[k]
			if err := as.MUnmap(r.Start, r.Length()); err != nil {
				return err
			}
			live = append(live[:k], live[k+1:]...)
		case 2:
			if _, err := as.Sbrk(int64(rng.Intn(4)+1) * hostarch.PageSize); err != nil && err != memerr.ErrNoMemory {
				return err
			}
		}
	}
	return nil
}
