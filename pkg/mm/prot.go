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
	"golang.org/x/sys/unix"

	"helios.dev/helios/pkg/hostarch"
	"helios.dev/helios/pkg/memerr"
)

// AccessFromProt converts PROT_* bits to an access type.
func AccessFromProt(prot int) hostarch.AccessType {
	return hostarch.AccessType{
		Read:    prot&unix.PROT_READ != 0,
		Write:   prot&unix.PROT_WRITE != 0,
		Execute: prot&unix.PROT_EXEC != 0,
	}
}

// ProtFromAccess converts an access type back to PROT_* bits.
func ProtFromAccess(at hostarch.AccessType) int {
	prot := unix.PROT_NONE
	if at.Read {
		prot |= unix.PROT_READ
	}
	if at.Write {
		prot |= unix.PROT_WRITE
	}
	if at.Execute {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// MMapOptsFromSyscall translates raw mmap(2) arguments into MMapOpts.
// Only private anonymous mappings are expressible: a file descriptor
// or offset, or flags without MAP_ANONYMOUS, are rejected.
func MMapOptsFromSyscall(addr hostarch.Addr, length uint64, prot, flags int, fd int32, offset uint64) (MMapOpts, error) {
	if flags&unix.MAP_ANONYMOUS == 0 || fd != -1 || offset != 0 {
		return MMapOpts{}, memerr.ErrInvalidArgument
	}
	if flags&unix.MAP_SHARED != 0 {
		return MMapOpts{}, memerr.ErrInvalidArgument
	}
	return MMapOpts{
		Addr:      addr,
		Length:    length,
		Access:    AccessFromProt(prot),
		Fixed:     flags&unix.MAP_FIXED != 0,
		Anonymous: true,
	}, nil
}
