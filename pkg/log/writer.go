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

package log

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Writer writes the output to the given writer. If the writer fails,
// messages are dropped and accounted for, and a note is emitted once
// writing recovers.
type Writer struct {
	// Next is where output is written.
	Next io.Writer

	// mu protects fields below.
	mu sync.Mutex

	// errors counts failed writes.
	errors int32
}

// Write writes out the given bytes.
func (l *Writer) Write(data []byte) (int, error) {
	n, err := l.Next.Write(data)
	if err != nil {
		l.mu.Lock()
		atomic.AddInt32(&l.errors, 1)
		l.mu.Unlock()
		return n, err
	}

	// Dirty line?
	errors := atomic.LoadInt32(&l.errors)
	if errors > 0 {
		l.mu.Lock()
		defer l.mu.Unlock()

		// Recheck errors under the lock.
		errors = atomic.LoadInt32(&l.errors)
		if errors > 0 {
			l.emit([]byte(fmt.Sprintf("\n*** Dropped %d log messages ***\n", errors)))
			atomic.StoreInt32(&l.errors, 0)
		}
	}

	return n, nil
}

// emit writes directly, without any state tracking.
func (l *Writer) emit(data []byte) {
	l.Next.Write(data) // Best effort.
}
