// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptyage

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sys/unix"
)

// promptLoop reads the master side, answers prompts and waits for the
// child, enforcing the prompt and overall budgets.
//
// States: WaitPrompt -> SendSecret -> WaitConfirm -> SendSecret ->
// WaitExit. The confirm leg only runs for passphrase encryption; EOF or
// child exit skips it.
func (a *Automator) promptLoop(ptmx *os.File, req *Request, cmd *exec.Cmd, w *waiter) error {
	clock := a.opts.Clock

	maxWrites := req.PromptWrites
	if maxWrites <= 0 {
		maxWrites = 1
		if req.ExpectConfirm {
			maxWrites = 2
		}
	}

	readCh := make(chan []byte, 16)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				readCh <- chunk
			}
			if err != nil {
				// The master returns EIO once the child side is gone;
				// either way the stream is over.
				close(readCh)
				return
			}
		}
	}()

	var (
		scan    []byte // lowercased rolling window for prompt detection
		tail    []byte // raw rolling window for error excerpts
		pending []byte // incomplete banner line
		writes  int
	)
	overallTimer := clock.After(a.opts.OverallTimeout)
	var promptTimer <-chan time.Time
	if req.Passphrase != nil {
		promptTimer = clock.After(a.opts.PromptTimeout)
	}

	for {
		select {
		case chunk, ok := <-readCh:
			if !ok {
				readCh = nil
				continue
			}
			tail = appendTail(tail, chunk)
			scan = appendTail(scan, bytes.ToLower(chunk))
			if req.Passphrase == nil || writes >= maxWrites {
				continue
			}
			if latestMatch(scan, a.opts.PromptKeywords) < 0 {
				if promptTimer != nil {
					pending = a.warnBanners(pending, chunk)
				}
				continue
			}
			if _, err := ptmx.Write(req.Passphrase); err != nil {
				a.kill(cmd, w)
				drainTail(readCh, clock, nil)
				return &SpawnError{Err: err}
			}
			if _, err := ptmx.Write([]byte{'\n'}); err != nil {
				a.kill(cmd, w)
				drainTail(readCh, clock, nil)
				return &SpawnError{Err: err}
			}
			writes++
			scan = scan[:0]
			promptTimer = nil
			if writes >= maxWrites {
				zero(req.Passphrase)
			}

		case err := <-w.ch:
			w.recv(err)
			tail = drainTail(readCh, clock, tail)
			return exitResult(err, tail)

		case <-promptTimer:
			a.kill(cmd, w)
			drainTail(readCh, clock, nil)
			return &TimeoutError{Phase: "prompt"}

		case <-overallTimer:
			a.kill(cmd, w)
			drainTail(readCh, clock, nil)
			return &TimeoutError{Phase: "overall"}
		}
	}
}

// kill terminates the child: SIGTERM, a grace period, then SIGKILL. The
// child is reaped before kill returns.
func (a *Automator) kill(cmd *exec.Cmd, w *waiter) {
	if w.done {
		return
	}
	cmd.Process.Signal(unix.SIGTERM)
	select {
	case err := <-w.ch:
		w.recv(err)
	case <-a.opts.Clock.After(termGrace):
		cmd.Process.Signal(unix.SIGKILL)
		w.recv(<-w.ch)
	}
}

// drainTail collects output still queued on the master after exit,
// bounded by drainGrace.
func drainTail(readCh chan []byte, clock clockwork.Clock, tail []byte) []byte {
	if readCh == nil {
		return tail
	}
	deadline := clock.After(drainGrace)
	for {
		select {
		case chunk, ok := <-readCh:
			if !ok {
				return tail
			}
			tail = appendTail(tail, chunk)
		case <-deadline:
			return tail
		}
	}
}

func exitResult(err error, tail []byte) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Code: ee.ExitCode(), Output: strings.TrimSpace(string(tail))}
	}
	return err
}

// appendTail appends chunk to buf keeping only the trailing tailLimit
// bytes.
func appendTail(buf, chunk []byte) []byte {
	buf = append(buf, chunk...)
	if len(buf) > tailLimit {
		buf = append(buf[:0], buf[len(buf)-tailLimit:]...)
	}
	return buf
}

// latestMatch returns the greatest index at which any keyword occurs in
// buf, or -1. When several keywords appear in one window, the most
// recent one wins.
func latestMatch(buf []byte, keywords []string) int {
	best := -1
	for _, k := range keywords {
		if i := bytes.LastIndex(buf, []byte(k)); i > best {
			best = i
		}
	}
	return best
}

// warnBanners reports complete, non-prompt lines seen before the first
// prompt, for post-mortem analysis of unknown age versions.
func (a *Automator) warnBanners(pending, chunk []byte) []byte {
	pending = append(pending, chunk...)
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			if len(pending) > tailLimit {
				pending = pending[:0]
			}
			return pending
		}
		line := strings.TrimSpace(string(pending[:i]))
		pending = pending[i+1:]
		if line != "" && a.opts.Warnf != nil {
			a.opts.Warnf("unrecognized age banner: %q", line)
		}
	}
}
