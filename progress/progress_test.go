// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package progress

import (
	"bytes"
	"testing"
)

func TestDiscard(t *testing.T) {
	task := Discard().StartTask("noop", 3)
	task.Update(1, "one")
	task.Update(2, "")
	task.Complete("done")
	task.Fail("late fail is a no-op too")
}

func TestTerminalReporter(t *testing.T) {
	var buf bytes.Buffer
	task := NewTerminalReporter(&buf).StartTask("Locking", 2)
	task.Update(1, "a.txt")
	task.Update(2, "b.txt")
	task.Complete("locked")
	// The exact rendering belongs to the bar library; it just must have
	// written something.
	if buf.Len() == 0 {
		t.Fatal("terminal reporter produced no output")
	}
}
