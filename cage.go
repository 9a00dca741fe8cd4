// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cage automates the age file-encryption tool non-interactively.
//
// The age binary refuses to read passphrases from pipes or environment
// variables; it demands a controlling terminal. Cage synthesizes that
// terminal, drives the interactive prompt sequence deterministically, and
// exposes a batch-capable encryption and decryption API on top of it.
//
// The entry point for most callers is CageManager, which consumes
// LockRequest and UnlockRequest values and aggregates per-file outcomes
// into an OperationResult. Single-file callers can use an Adapter
// directly.
package cage

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/padlokk/cage/audit"
)

// Adapter is an encryption backend. The two implementations drive the
// external age binary: one spawns it under a pseudo-terminal per file,
// the other additionally handles large or reader-based inputs via a
// temporary file or a pipe pair.
type Adapter interface {
	Name() string
	Version() string
	HealthCheck() error
	Encrypt(input, output string, id Identity, recipients []Recipient, format OutputFormat) error
	Decrypt(input, output string, id Identity) error
}

// knownVersionPrefixes is the range of age releases this package is
// exercised against. Versions outside it still run, with a warning.
var knownVersionPrefixes = []string{"1.0.", "1.1.", "1.2.", "1.3."}

// NewAdapter selects an adapter implementation for cfg. It probes for the
// age binary on PATH and fails with ErrBackendUnavailable if it is
// absent. The version string is captured but not parsed; a warning is
// logged when it is outside the known-tested range.
func NewAdapter(cfg *Config, log *audit.Logger) (Adapter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	bin, err := exec.LookPath(cfg.AgeBinary)
	if err != nil {
		return nil, fmt.Errorf("%w: %q not found on PATH", ErrBackendUnavailable, cfg.AgeBinary)
	}
	version := probeVersion(bin)
	if log != nil {
		log.HealthCheck(cfg.AgeBinary, version, true)
		if !versionKnown(version) {
			log.Warning(fmt.Sprintf("age version %q is outside the known-tested range", version))
		}
	}
	file := &fileAdapter{cfg: cfg, binary: bin, version: version, log: log}
	if cfg.Strategy == StrategyTempFile {
		return file, nil
	}
	return &streamingAdapter{fileAdapter: file}, nil
}

func probeVersion(bin string) string {
	out, err := exec.Command(bin, "--version").Output()
	if err != nil {
		return "(unknown)"
	}
	return strings.TrimSpace(string(bytes.TrimSpace(out)))
}

func versionKnown(version string) bool {
	for _, p := range knownVersionPrefixes {
		if strings.HasPrefix(version, p) {
			return true
		}
	}
	return false
}

// isBatchFatal reports whether err aborts a whole batch rather than a
// single target.
func isBatchFatal(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
