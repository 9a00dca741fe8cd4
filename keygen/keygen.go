// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keygen drives the age-keygen binary. It never parses or holds
// secret key material beyond writing the identity file age-keygen
// produced; audit events carry only an MD5 fingerprint of the public
// recipient.
package keygen

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/padlokk/cage/audit"
)

// ErrBinaryNotFound means age-keygen is not on PATH.
var ErrBinaryNotFound = errors.New("age-keygen not found on PATH")

// RequestError reports an invalid key generation request.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string { return "invalid keygen request: " + e.Reason }

// FileExistsError means the output path exists and Force was not set.
type FileExistsError struct {
	Path string
}

func (e *FileExistsError) Error() string {
	return fmt.Sprintf("file already exists: %s (use force to overwrite)", e.Path)
}

// SubprocessError reports a failed age-keygen run.
type SubprocessError struct {
	Stderr string
}

func (e *SubprocessError) Error() string { return "age-keygen failed: " + e.Stderr }

// Request describes one key generation.
type Request struct {
	// OutputPath receives the generated identity file.
	OutputPath string
	// Force overwrites an existing output file.
	Force bool
	// RecipientsOnly converts the identity at InputPath to its public
	// recipient (age-keygen -y) instead of generating a new key.
	RecipientsOnly bool
	InputPath      string
}

// Summary is the non-secret outcome of a generation.
type Summary struct {
	OutputPath      string
	PublicRecipient string
	FingerprintMD5  string
}

// Service runs age-keygen.
type Service struct {
	binary string
	log    *audit.Logger
}

// NewService builds a service for the given binary name ("age-keygen"
// when empty). The audit sink may be nil.
func NewService(binary string, log *audit.Logger) *Service {
	if binary == "" {
		binary = "age-keygen"
	}
	return &Service{binary: binary, log: log}
}

// Generate runs one key generation request.
func (s *Service) Generate(req *Request) (*Summary, error) {
	if req == nil {
		return nil, &RequestError{Reason: "nil request"}
	}
	mode := "generate"
	if req.RecipientsOnly {
		mode = "recipients-only"
		if req.InputPath == "" {
			return nil, &RequestError{Reason: "recipients-only requires an input identity"}
		}
	} else if req.OutputPath == "" {
		return nil, &RequestError{Reason: "missing output path"}
	}

	bin, err := exec.LookPath(s.binary)
	if err != nil {
		return nil, ErrBinaryNotFound
	}
	if !req.RecipientsOnly && !req.Force {
		if _, err := os.Stat(req.OutputPath); err == nil {
			return nil, &FileExistsError{Path: req.OutputPath}
		}
	}

	if s.log != nil {
		s.log.KeygenStart(req.OutputPath, mode)
	}
	summary, err := s.run(bin, req)
	if err != nil {
		return nil, err
	}
	if s.log != nil {
		s.log.KeygenComplete(summary.OutputPath, summary.PublicRecipient)
	}
	return summary, nil
}

func (s *Service) run(bin string, req *Request) (*Summary, error) {
	var args []string
	if req.RecipientsOnly {
		args = []string{"-y", req.InputPath}
	} else {
		args = []string{"-o", req.OutputPath}
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &SubprocessError{Stderr: msg}
	}

	summary := &Summary{OutputPath: req.OutputPath}
	if req.RecipientsOnly {
		summary.PublicRecipient = strings.TrimSpace(stdout.String())
	} else {
		// age-keygen reports "Public key: age1..." on stderr.
		summary.PublicRecipient = publicKeyLine(stderr.String())
		if summary.PublicRecipient == "" {
			summary.PublicRecipient = publicKeyFromFile(req.OutputPath)
		}
	}
	if summary.PublicRecipient != "" {
		summary.FingerprintMD5 = audit.Fingerprint(summary.PublicRecipient)
	}
	return summary, nil
}

func publicKeyLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Public key:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// publicKeyFromFile reads the "# public key:" comment age-keygen leaves
// in the identity file.
func publicKeyFromFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(line, "# public key:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
