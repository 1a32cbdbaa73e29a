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

// Package memerr contains the error taxonomy of the virtual memory
// subsystem, exported as error interface pointers. This allows for fast
// comparison and return operations. Each error carries the POSIX errno it
// surfaces as; the exact numeric ABI mapping is the concern of the syscall
// dispatch layer above this subsystem.
package memerr

import (
	"golang.org/x/sys/unix"
)

// Error represents a memory-management error with a descriptive message and
// an associated errno.
type Error struct {
	errno   unix.Errno
	message string
}

// New creates a new *Error.
func New(errno unix.Errno, message string) *Error {
	return &Error{
		errno:   errno,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the underlying errno value.
func (e *Error) Errno() unix.Errno { return e.errno }

// Errors surfaced by the subsystem. Leaf components never panic on resource
// exhaustion or caller-supplied invalid input; they return one of these.
// Panics are reserved for internal invariant violations.
var (
	// ErrNoMemory indicates that the frame allocator is exhausted.
	ErrNoMemory = New(unix.ENOMEM, "out of physical memory")

	// ErrMisaligned indicates an address or length that is not page-aligned.
	ErrMisaligned = New(unix.EINVAL, "address not page-aligned")

	// ErrInvalidArgument indicates an invalid combination of syscall
	// arguments (zero length, unsupported flags, bad file descriptor).
	ErrInvalidArgument = New(unix.EINVAL, "invalid argument")

	// ErrInvalidAddress indicates an address outside the valid user range,
	// or a range computation that overflows.
	ErrInvalidAddress = New(unix.EFAULT, "invalid virtual address")

	// ErrNotMapped indicates an operation targeting an address with no live
	// mapping.
	ErrNotMapped = New(unix.EFAULT, "address not mapped")

	// ErrOverlapping indicates a VMA insertion colliding with an existing
	// region.
	ErrOverlapping = New(unix.EEXIST, "region overlaps existing mapping")

	// ErrNotFound indicates a VMA removal with no matching region.
	ErrNotFound = New(unix.ENOENT, "no matching region")
)
