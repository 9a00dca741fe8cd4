// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

import (
	"io"
	"os"
	"path/filepath"
)

// pipeThreshold is the size above which Auto switches path-based
// operations to the pipe strategy.
const pipeThreshold = 64 << 20

// streamingAdapter extends the file adapter with large-input handling.
// It chooses between materializing sources to scoped temporary files and
// streaming through inheritable pipes while the pty carries only the
// prompt exchange.
type streamingAdapter struct {
	*fileAdapter
}

func (a *streamingAdapter) Name() string { return "pty-streaming" }

func (a *streamingAdapter) Encrypt(input, output string, id Identity, recipients []Recipient, format OutputFormat) error {
	if a.resolveStrategy(input, output) == StrategyPipe {
		return a.pipePaths(input, output, func(src io.Reader, dst io.Writer) error {
			return a.EncryptStream(src, dst, id, recipients, format)
		})
	}
	return a.fileAdapter.Encrypt(input, output, id, recipients, format)
}

func (a *streamingAdapter) Decrypt(input, output string, id Identity) error {
	if a.resolveStrategy(input, output) == StrategyPipe {
		return a.pipePaths(input, output, func(src io.Reader, dst io.Writer) error {
			return a.DecryptStream(src, dst, id)
		})
	}
	return a.fileAdapter.Decrypt(input, output, id)
}

// EncryptStream encrypts from an arbitrary reader to an arbitrary
// writer. Under StrategyPipe and StrategyAuto it streams through pipes,
// with no size rule; under StrategyTempFile it goes through temporary
// files.
func (a *streamingAdapter) EncryptStream(src io.Reader, dst io.Writer, id Identity, recipients []Recipient, format OutputFormat) error {
	if a.cfg.Strategy == StrategyPipe || a.cfg.Strategy == StrategyAuto {
		req, err := encryptRequest("", "", id, recipients, format)
		if err != nil {
			return err
		}
		req.Stdin = src
		req.Stdout = dst
		return a.mapErr(a.automator().Run(req), "(stream)", id)
	}
	return a.viaTempFiles(src, dst, func(in, out string) error {
		return a.fileAdapter.Encrypt(in, out, id, recipients, format)
	})
}

// DecryptStream decrypts from an arbitrary reader to an arbitrary
// writer. Strategy handling is the same as for EncryptStream.
func (a *streamingAdapter) DecryptStream(src io.Reader, dst io.Writer, id Identity) error {
	if a.cfg.Strategy == StrategyPipe || a.cfg.Strategy == StrategyAuto {
		req, err := decryptRequest("", "", id)
		if err != nil {
			return err
		}
		req.Stdin = src
		req.Stdout = dst
		return a.mapErr(a.automator().Run(req), "(stream)", id)
	}
	return a.viaTempFiles(src, dst, func(in, out string) error {
		return a.fileAdapter.Decrypt(in, out, id)
	})
}

// resolveStrategy applies the Auto rule for path-based calls: pipe only
// when both endpoints are regular files and the source is large.
func (a *streamingAdapter) resolveStrategy(input, output string) StreamingStrategy {
	switch a.cfg.Strategy {
	case StrategyPipe:
		return StrategyPipe
	case StrategyAuto:
		fi, err := os.Stat(input)
		if err != nil || !fi.Mode().IsRegular() {
			return StrategyTempFile
		}
		if dir := filepath.Dir(output); dir != "" {
			if di, err := os.Stat(dir); err != nil || !di.IsDir() {
				return StrategyTempFile
			}
		}
		if fi.Size() > pipeThreshold {
			return StrategyPipe
		}
		return StrategyTempFile
	default:
		return StrategyTempFile
	}
}

// pipePaths adapts a path pair to the stream interface.
func (a *streamingAdapter) pipePaths(input, output string, op func(io.Reader, io.Writer) error) error {
	in, err := os.Open(input)
	if err != nil {
		return &IOError{Op: "open", Path: input, Err: err}
	}
	defer in.Close()
	out, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return &IOError{Op: "create", Path: output, Err: err}
	}
	if err := op(in, out); err != nil {
		out.Close()
		os.Remove(output)
		return err
	}
	return out.Close()
}

// viaTempFiles materializes the source into a caller-isolated 0700
// directory, runs the file-mode operation, and copies the result out.
// The directory and its contents are destroyed on all exit paths.
func (a *streamingAdapter) viaTempFiles(src io.Reader, dst io.Writer, op func(in, out string) error) error {
	dir, err := os.MkdirTemp("", "cage-stream-")
	if err != nil {
		return &IOError{Op: "mkdtemp", Path: os.TempDir(), Err: err}
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "source")
	out := filepath.Join(dir, "result")
	f, err := os.OpenFile(in, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return &IOError{Op: "create", Path: in, Err: err}
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return &IOError{Op: "materialize", Path: in, Err: err}
	}
	if err := f.Close(); err != nil {
		return &IOError{Op: "close", Path: in, Err: err}
	}

	if err := op(in, out); err != nil {
		return err
	}

	r, err := os.Open(out)
	if err != nil {
		return &IOError{Op: "open", Path: out, Err: err}
	}
	defer r.Close()
	if _, err := io.Copy(dst, r); err != nil {
		return &IOError{Op: "copy result", Path: out, Err: err}
	}
	return nil
}
