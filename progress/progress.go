// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package progress reports batch progress to interactive callers. The
// core only ever talks to the Reporter interface; the terminal
// implementation renders a bar.
package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Task is one tracked unit of work.
type Task interface {
	// Update advances the task to n completed steps.
	Update(n int, msg string)
	// Complete finishes the task successfully.
	Complete(msg string)
	// Fail finishes the task unsuccessfully.
	Fail(msg string)
}

// Reporter creates tasks. Implementations must tolerate concurrent
// Update calls from a single task owner.
type Reporter interface {
	StartTask(label string, total int) Task
}

// Discard returns a reporter that drops everything.
func Discard() Reporter { return discardReporter{} }

type discardReporter struct{}

func (discardReporter) StartTask(string, int) Task { return discardTask{} }

type discardTask struct{}

func (discardTask) Update(int, string) {}
func (discardTask) Complete(string)    {}
func (discardTask) Fail(string)        {}

// TerminalReporter renders progress bars to a terminal writer.
type TerminalReporter struct {
	out io.Writer
}

// NewTerminalReporter builds a reporter writing to w.
func NewTerminalReporter(w io.Writer) *TerminalReporter {
	return &TerminalReporter{out: w}
}

func (r *TerminalReporter) StartTask(label string, total int) Task {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(r.out),
		progressbar.OptionSetDescription(label),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionShowCount(),
	)
	return &terminalTask{bar: bar}
}

type terminalTask struct {
	bar *progressbar.ProgressBar
}

func (t *terminalTask) Update(n int, msg string) {
	if msg != "" {
		t.bar.Describe(msg)
	}
	t.bar.Set(n)
}

func (t *terminalTask) Complete(msg string) {
	if msg != "" {
		t.bar.Describe(msg)
	}
	t.bar.Finish()
}

func (t *terminalTask) Fail(msg string) {
	if msg != "" {
		t.bar.Describe(msg)
	}
	t.bar.Exit()
}
