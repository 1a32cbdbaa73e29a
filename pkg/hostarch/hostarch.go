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

// Package hostarch contains host architecture constants and types for
// addresses, pages and access permissions. Both supported architectures
// use a 4K translation granule and 48-bit virtual addresses.
package hostarch

const (
	// PageSize is the system page size.
	PageSize = 1 << PageShift

	// PageShift is the binary log of the system page size.
	PageShift = 12

	// HugePageSize is the system huge page size.
	HugePageSize = 1 << HugePageShift

	// HugePageShift is the binary log of the system huge page size.
	HugePageShift = 21
)

// PageRoundDown returns the address rounded down to the nearest page
// boundary.
func PageRoundDown(x uint64) uint64 {
	return x &^ (PageSize - 1)
}

// PageRoundUp returns the address rounded up to the nearest page boundary.
// ok is false iff rounding up overflows.
func PageRoundUp(x uint64) (addr uint64, ok bool) {
	addr = PageRoundDown(x + PageSize - 1)
	ok = addr >= x
	return
}

// IsPageAligned returns true if x is a multiple of the page size.
func IsPageAligned(x uint64) bool {
	return x%PageSize == 0
}
