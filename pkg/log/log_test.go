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
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	if len(tw.lines) != 3 {
		t.Fatalf("got %d lines, expected 3: %q", len(tw.lines), tw.lines)
	}
	if !strings.Contains(tw.lines[1], "Dropped 2 log messages") {
		t.Errorf("expected drop note, got: %q", tw.lines[1])
	}
	if tw.lines[2] != "line 2\n" {
		t.Errorf("got %q, expected %q", tw.lines[2], "line 2\n")
	}
}

func TestLevels(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: TextEmitter{&Writer{Next: tw}}}

	l.Debugf("debug %d", 1)
	if len(tw.lines) != 0 {
		t.Errorf("debug logged below level: %q", tw.lines)
	}

	l.Infof("info %d", 2)
	l.Warningf("warning %d", 3)
	if len(tw.lines) != 2 {
		t.Fatalf("got %d lines, expected 2: %q", len(tw.lines), tw.lines)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) false after SetLevel(Debug)")
	}
	l.Debugf("debug %d", 4)
	if len(tw.lines) != 3 {
		t.Errorf("debug not logged at Debug level: %q", tw.lines)
	}
}

func TestRateLimited(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: TextEmitter{&Writer{Next: tw}}}
	rl := RateLimitedLogger(l, time.Hour)

	rl.Infof("first")
	rl.Infof("second")
	if len(tw.lines) != 1 {
		t.Errorf("got %d lines, expected 1 (rate limited): %q", len(tw.lines), tw.lines)
	}
}
