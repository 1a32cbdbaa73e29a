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

// vmmsim drives the memory subsystem on a simulated machine: it
// parses a boot memory map, brings up the frame allocator and the
// kernel identity map, and can run randomized mmap workloads against
// fresh address spaces to shake out accounting leaks.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"helios.dev/helios/pkg/log"
)

var verbose = flag.Bool("verbose", false, "enable debug logging")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(bootCmd), "")
	subcommands.Register(new(exerciseCmd), "")

	flag.Parse()
	if *verbose {
		log.SetLevel(log.Debug)
	}
	os.Exit(int(subcommands.Execute(context.Background())))
}
