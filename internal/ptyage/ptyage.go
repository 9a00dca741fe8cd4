// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ptyage spawns the age binary under a pseudo-terminal and
// drives its passphrase prompts. One Run call owns one child process,
// one pty pair and one working copy of the passphrase; all three are
// released before Run returns, on every exit path.
package ptyage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/jonboulle/clockwork"
)

// Options configures an Automator. Zero values select the defaults.
type Options struct {
	// Binary is the age executable path.
	Binary string
	// PromptTimeout bounds spawn to first prompt detection.
	PromptTimeout time.Duration
	// OverallTimeout bounds spawn to child exit.
	OverallTimeout time.Duration
	// PromptKeywords are the case-insensitive substrings recognized as
	// passphrase prompts.
	PromptKeywords []string
	// Clock drives the deadline timers. Defaults to the real clock.
	Clock clockwork.Clock
	// Warnf, when set, receives unrecognized banner lines observed
	// before the first prompt.
	Warnf func(format string, args ...interface{})
}

// Request describes one age invocation.
type Request struct {
	// Args is the argv after the binary name. The passphrase is never
	// part of it.
	Args []string
	// Passphrase, when non-nil, is sent in response to prompts. Run
	// zeroizes it after the last write to the master.
	Passphrase []byte
	// ExpectConfirm is set for passphrase encryption, where age asks a
	// second, confirming prompt.
	ExpectConfirm bool
	// PromptWrites caps how many times the passphrase may be sent.
	// Zero means one, or two when ExpectConfirm is set. Probing callers
	// set it to one.
	PromptWrites int
	// Stdin and Stdout, when set, switch to pipe mode: the child reads
	// and writes through inheritable pipes while the pty carries only
	// the prompt exchange on its stderr side.
	Stdin  io.Reader
	Stdout io.Writer
}

// SpawnError reports that the child could not be started.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn age: %v", e.Err) }

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports an expired budget; Phase is "prompt" or
// "overall". The child has been reaped when it is returned.
type TimeoutError struct {
	Phase string
}

func (e *TimeoutError) Error() string { return "timed out waiting for age: " + e.Phase }

// ExitError reports a non-zero child exit. Output is the trailing pty
// output; callers scan and redact it before surfacing.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string { return fmt.Sprintf("age exited with status %d", e.Code) }

const (
	// tailLimit bounds the rolling output buffers.
	tailLimit = 4096
	// termGrace is how long SIGTERM gets before SIGKILL.
	termGrace = 2 * time.Second
	// drainGrace is how long the final pty drain may take after exit.
	drainGrace = 500 * time.Millisecond
)

// Automator runs age invocations under a pty.
type Automator struct {
	opts Options
}

// New returns an Automator with defaults applied.
func New(opts Options) *Automator {
	if opts.Binary == "" {
		opts.Binary = "age"
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = 10 * time.Second
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 120 * time.Second
	}
	if len(opts.PromptKeywords) == 0 {
		opts.PromptKeywords = []string{"enter passphrase", "confirm passphrase", "passphrase:"}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Automator{opts: opts}
}

// Run executes one age invocation and drives its prompts. A panic while
// driving the child is returned as an error after teardown.
func (a *Automator) Run(req *Request) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("ptyage: panic while driving age: %v", r)
		}
	}()
	cmd := exec.Command(a.opts.Binary, req.Args...)

	var (
		ptmx    *os.File
		ioErrs  chan error
		ioWG    *sync.WaitGroup
		closers []io.Closer
		err     error
	)
	if req.Stdin != nil || req.Stdout != nil {
		ptmx, ioErrs, ioWG, closers, err = startPipe(cmd, req)
	} else {
		ptmx, err = pty.Start(cmd)
	}
	if err != nil {
		return &SpawnError{Err: err}
	}

	w := &waiter{ch: make(chan error, 1)}
	go func() { w.ch <- cmd.Wait() }()

	defer func() {
		zero(req.Passphrase)
		ptmx.Close()
		for _, c := range closers {
			c.Close()
		}
		if !w.done {
			cmd.Process.Kill()
			w.recv(<-w.ch)
		}
	}()

	runErr := a.promptLoop(ptmx, req, cmd, w)

	if ioWG != nil {
		if runErr == nil {
			// Let the stdout drain finish; the child's exit already
			// closed the far pipe ends.
			ioWG.Wait()
		} else {
			// Unblock the pipe workers before joining them.
			for _, c := range closers {
				c.Close()
			}
			ioWG.Wait()
		}
		if runErr == nil {
			select {
			case e := <-ioErrs:
				if e != nil {
					runErr = e
				}
			default:
			}
		}
	}
	return runErr
}

// waiter makes the single cmd.Wait result consumable from several
// places without double-reaping.
type waiter struct {
	ch   chan error
	err  error
	done bool
}

func (w *waiter) recv(err error) error {
	w.err = err
	w.done = true
	return err
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// startPipe spawns the child with pipe stdio and the pty slave as its
// controlling terminal on stderr, which is where age reaches for
// /dev/tty prompts.
func startPipe(cmd *exec.Cmd, req *Request) (*os.File, chan error, *sync.WaitGroup, []io.Closer, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	inR, inW, err := os.Pipe()
	if err != nil {
		ptmx.Close()
		tty.Close()
		return nil, nil, nil, nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		ptmx.Close()
		tty.Close()
		inR.Close()
		inW.Close()
		return nil, nil, nil, nil, err
	}

	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 2}

	if err := cmd.Start(); err != nil {
		ptmx.Close()
		tty.Close()
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
		return nil, nil, nil, nil, err
	}
	// Child holds its own copies now.
	tty.Close()
	inR.Close()
	outW.Close()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer inW.Close()
		if req.Stdin == nil {
			return
		}
		if _, err := io.Copy(inW, req.Stdin); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EPIPE) {
			errs <- fmt.Errorf("stream to age: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if req.Stdout == nil {
			io.Copy(io.Discard, outR)
			return
		}
		if _, err := io.Copy(req.Stdout, outR); err != nil && !errors.Is(err, os.ErrClosed) {
			errs <- fmt.Errorf("stream from age: %w", err)
		}
	}()

	return ptmx, errs, &wg, []io.Closer{inW, outR}, nil
}
