// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

import (
	"strings"
	"time"
)

// LockRequest describes one encryption batch. Requests are single-shot:
// build one, hand it to the manager, discard it.
type LockRequest struct {
	// Path is the file or directory to lock. It must exist.
	Path string
	// Identity supplies the passphrase for symmetric encryption. It may
	// be omitted when Recipients are given.
	Identity Identity
	// Recipients, when non-empty, selects public-key encryption.
	Recipients []Recipient
	Format     OutputFormat
	// Pattern filters directory walks with glob semantics, matched
	// against the path relative to the walk root or against the base
	// name, never as a substring.
	Pattern   string
	Recursive bool
	// InPlace removes the original after a successful encryption.
	InPlace bool
	// Backup writes path.bak before encrypting.
	Backup bool
}

// NewLockRequest returns a lock request with the default policy:
// binary format, in-place.
func NewLockRequest(path string, id Identity) *LockRequest {
	return &LockRequest{Path: path, Identity: id, Format: Binary, InPlace: true}
}

// UnlockRequest describes one decryption batch.
type UnlockRequest struct {
	Path     string
	Identity Identity
	// Selective skips (rather than fails) files the identity cannot
	// open, using a single-attempt probe.
	Selective bool
	// PreserveEncrypted keeps the .cage artifact after a successful
	// decryption.
	PreserveEncrypted bool
	Pattern           string
	Recursive         bool
}

// NewUnlockRequest returns an unlock request with the default policy:
// encrypted artifacts are removed after successful decryption.
func NewUnlockRequest(path string, id Identity) *UnlockRequest {
	return &UnlockRequest{Path: path, Identity: id}
}

// FileFailure records one failed target and its typed error.
type FileFailure struct {
	Path string
	Err  error
}

// OperationResult aggregates per-file outcomes of one batch.
type OperationResult struct {
	ProcessedFiles []string
	FailedFiles    []FileFailure
	// SkippedFiles holds selective-unlock targets whose identity did
	// not match. They count as neither processed nor failed.
	SkippedFiles    []string
	TotalProcessed  int
	ExecutionTimeMs int64
	Success         bool
}

func (r *OperationResult) addSuccess(path string) {
	r.ProcessedFiles = append(r.ProcessedFiles, path)
	r.TotalProcessed++
}

func (r *OperationResult) addFailure(path string, err error) {
	r.FailedFiles = append(r.FailedFiles, FileFailure{Path: path, Err: err})
}

func (r *OperationResult) addSkipped(path string) {
	r.SkippedFiles = append(r.SkippedFiles, path)
}

// finalize sets the execution time and the success flag. It is called
// exactly once per batch.
func (r *OperationResult) finalize(elapsed time.Duration) {
	r.ExecutionTimeMs = elapsed.Milliseconds()
	r.Success = len(r.FailedFiles) == 0 && r.TotalProcessed > 0
}

// RepositoryStatus summarizes the encryption state of a tree.
type RepositoryStatus struct {
	Total       int
	Encrypted   int
	Unencrypted int
	Failed      []string
}

// FullyEncrypted reports whether every walked file is an age artifact.
func (s *RepositoryStatus) FullyEncrypted() bool {
	return s.Total > 0 && s.Encrypted == s.Total && len(s.Failed) == 0
}

// Extension policy. Encrypting foo.txt produces foo.txt.cage; the
// original name is preserved in full, never replaced. The .padlock
// suffix is accepted as an equivalent encrypted extension on input.
const (
	EncryptedExt    = ".cage"
	AltEncryptedExt = ".padlock"
)

// EncryptedPath returns the artifact path for an input file.
func EncryptedPath(path string) string { return path + EncryptedExt }

// IsEncryptedName reports whether path carries an encrypted extension.
func IsEncryptedName(path string) bool {
	return strings.HasSuffix(path, EncryptedExt) || strings.HasSuffix(path, AltEncryptedExt)
}

// DecryptedPath strips the final encrypted extension segment. It returns
// false when path does not carry one.
func DecryptedPath(path string) (string, bool) {
	switch {
	case strings.HasSuffix(path, EncryptedExt):
		return strings.TrimSuffix(path, EncryptedExt), true
	case strings.HasSuffix(path, AltEncryptedExt):
		return strings.TrimSuffix(path, AltEncryptedExt), true
	}
	return path, false
}
