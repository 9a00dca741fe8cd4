// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/padlokk/cage/audit"
	"github.com/padlokk/cage/internal/ptyage"
)

// fileAdapter drives one age invocation per file under a pty.
type fileAdapter struct {
	cfg     *Config
	binary  string
	version string
	log     *audit.Logger
}

func (a *fileAdapter) Name() string { return "pty" }

func (a *fileAdapter) Version() string { return a.version }

func (a *fileAdapter) HealthCheck() error {
	if _, err := exec.LookPath(a.cfg.AgeBinary); err != nil {
		return fmt.Errorf("%w: %q not found on PATH", ErrBackendUnavailable, a.cfg.AgeBinary)
	}
	return nil
}

func (a *fileAdapter) automator() *ptyage.Automator {
	var warnf func(format string, args ...interface{})
	if a.log != nil {
		log := a.log
		warnf = func(format string, args ...interface{}) {
			log.Warning(fmt.Sprintf(format, args...))
		}
	}
	return ptyage.New(ptyage.Options{
		Binary:         a.binary,
		PromptTimeout:  a.cfg.PromptTimeout,
		OverallTimeout: a.cfg.OverallTimeout,
		PromptKeywords: a.cfg.PromptKeywords,
		Warnf:          warnf,
	})
}

func (a *fileAdapter) Encrypt(input, output string, id Identity, recipients []Recipient, format OutputFormat) error {
	req, err := encryptRequest(input, output, id, recipients, format)
	if err != nil {
		return err
	}
	return a.mapErr(a.automator().Run(req), input, id)
}

func (a *fileAdapter) Decrypt(input, output string, id Identity) error {
	req, err := decryptRequest(input, output, id)
	if err != nil {
		return err
	}
	return a.mapErr(a.automator().Run(req), input, id)
}

// DecryptProbe is a single-attempt decryption used by selective unlocks:
// the passphrase is offered at most once, so a key mismatch surfaces as
// AuthenticationError without retries.
func (a *fileAdapter) DecryptProbe(input, output string, id Identity) error {
	req, err := decryptRequest(input, output, id)
	if err != nil {
		return err
	}
	req.PromptWrites = 1
	return a.mapErr(a.automator().Run(req), input, id)
}

// encryptRequest derives the age argv for an encryption. The passphrase
// is never part of the argv; the automator gets a working copy to send
// and zeroize.
func encryptRequest(input, output string, id Identity, recipients []Recipient, format OutputFormat) (*ptyage.Request, error) {
	args := []string{"-e"}
	if format == ASCIIArmor {
		args = append(args, "-a")
	}
	req := &ptyage.Request{}
	if len(recipients) > 0 {
		for _, r := range recipients {
			args = append(args, r.RecipientArgs()...)
		}
	} else {
		switch id := id.(type) {
		case Passphrase:
			args = append(args, "-p")
			req.Passphrase = copyBytes(id)
			req.ExpectConfirm = true
		case IdentityFile:
			args = append(args, "-i", string(id))
		case SSHKey:
			args = append(args, "-i", string(id))
		default:
			return nil, &ValidationError{Reason: "encryption requires recipients or a passphrase identity"}
		}
	}
	if output != "" {
		args = append(args, "-o", output)
	}
	if input != "" {
		args = append(args, input)
	}
	req.Args = args
	return req, nil
}

// decryptRequest derives the age argv for a decryption.
func decryptRequest(input, output string, id Identity) (*ptyage.Request, error) {
	args := []string{"-d"}
	req := &ptyage.Request{}
	switch id := id.(type) {
	case Passphrase:
		// Passphrase-protected files are detected automatically; age
		// prompts on the tty.
		req.Passphrase = copyBytes(id)
	case IdentityFile:
		args = append(args, "-i", string(id))
	case SSHKey:
		args = append(args, "-i", string(id))
	default:
		return nil, &ValidationError{Reason: "decryption requires a passphrase or identity file"}
	}
	if output != "" {
		args = append(args, "-o", output)
	}
	if input != "" {
		args = append(args, input)
	}
	req.Args = args
	return req, nil
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// mapErr translates automator failures into the cage error taxonomy and
// scrubs the passphrase literal from any captured output.
func (a *fileAdapter) mapErr(err error, path string, id Identity) error {
	if err == nil {
		return nil
	}
	var spawn *ptyage.SpawnError
	if errors.As(err, &spawn) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, spawn.Err)
	}
	var timeout *ptyage.TimeoutError
	if errors.As(err, &timeout) {
		return &TimeoutError{Phase: timeout.Phase}
	}
	var exit *ptyage.ExitError
	if errors.As(err, &exit) {
		out := strings.ToLower(exit.Output)
		switch {
		case strings.Contains(out, "bad passphrase"), strings.Contains(out, "incorrect"),
			strings.Contains(out, "no identity matched"):
			return &AuthenticationError{Path: path}
		case strings.Contains(out, "not encrypted"), strings.Contains(out, "not an age file"):
			return &NotEncryptedError{Path: path}
		}
		return &BackendError{ExitCode: exit.Code, Stderr: excerpt(redactSecret(exit.Output, id))}
	}
	return err
}

// redactSecret removes the passphrase literal from captured output.
func redactSecret(s string, id Identity) string {
	if p, ok := id.(Passphrase); ok && len(p) > 0 {
		s = strings.ReplaceAll(s, string(p), "[redacted]")
	}
	return s
}

// excerpt bounds captured stderr to 256 bytes.
func excerpt(s string) string {
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
