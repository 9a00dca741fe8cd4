// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/padlokk/cage/audit"
	"github.com/padlokk/cage/progress"
)

// probeAdapter is implemented by adapters that support single-attempt
// decryption for selective unlocks.
type probeAdapter interface {
	DecryptProbe(input, output string, id Identity) error
}

// CageManager coordinates batches: it validates requests, expands path
// patterns, sequences per-file adapter calls, applies the extension
// policy and writes the audit trail. One file at a time; the automator
// is inherently serial per child.
type CageManager struct {
	cfg       *Config
	adapter   Adapter
	log       *audit.Logger
	validator *Validator
	clock     clockwork.Clock
	reporter  progress.Reporter
	ownsLog   bool
}

// NewCageManager builds a manager over an existing adapter and audit
// sink. The config snapshot is frozen here.
func NewCageManager(adapter Adapter, cfg *Config, log *audit.Logger) (*CageManager, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: no adapter", ErrBackendUnavailable)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = audit.NewWithWriter(io.Discard, audit.Text)
	}
	return &CageManager{
		cfg:       cfg,
		adapter:   adapter,
		log:       log,
		validator: NewValidator(cfg),
		clock:     clockwork.NewRealClock(),
		reporter:  progress.Discard(),
	}, nil
}

// NewDefaultManager opens the audit sink named by the config, probes the
// backend and builds a manager owning both.
func NewDefaultManager(cfg *Config) (*CageManager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	format := audit.Text
	if cfg.Telemetry == TelemetryJSON {
		format = audit.JSON
	}
	log, err := audit.New(cfg.AuditLogPath, format)
	if err != nil {
		return nil, err
	}
	adapter, err := NewAdapter(cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	m, err := NewCageManager(adapter, cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	m.ownsLog = true
	return m, nil
}

// SetReporter attaches a progress reporter. Nil restores the discard
// reporter.
func (m *CageManager) SetReporter(r progress.Reporter) {
	if r == nil {
		r = progress.Discard()
	}
	m.reporter = r
}

// Close releases the audit sink if the manager owns it.
func (m *CageManager) Close() error {
	if m.ownsLog {
		return m.log.Close()
	}
	return nil
}

// Adapter returns the backend in use.
func (m *CageManager) Adapter() Adapter { return m.adapter }

func identityTag(id Identity) string {
	if id == nil {
		return "none"
	}
	return id.IdentityTag()
}

// Lock encrypts req.Path (a file, or a directory when walked) per the
// extension policy. Per-target failures are collected, never
// short-circuited; a missing backend aborts the batch.
func (m *CageManager) Lock(req *LockRequest) (*OperationResult, error) {
	start := m.clock.Now()
	if err := m.validateLock(req); err != nil {
		return nil, err
	}
	targets, err := m.expandTargets(req.Path, req.Pattern, req.Recursive, lockTargets)
	if err != nil {
		return nil, err
	}

	opID := uuid.NewString()
	batch := audit.Fields{"operation_id": opID}
	m.log.OperationStart("lock", req.Path, audit.Fields{"operation_id": opID, "targets": len(targets)})
	task := m.reporter.StartTask("Locking", len(targets))

	recipients := recipientStrings(req.Recipients)
	tag := identityTag(req.Identity)
	res := &OperationResult{}
	for i, target := range targets {
		output := EncryptedPath(target)
		m.log.OperationStart("encrypt", target, batch)
		err := m.lockOne(req, target, output)
		if err != nil && isBatchFatal(err) {
			m.log.OperationFailure("lock", req.Path, err, batch)
			task.Fail("backend unavailable")
			return nil, err
		}
		if err != nil {
			m.log.Encryption(target, recipients, tag, false, batch)
			m.log.OperationFailure("encrypt", target, err, batch)
			res.addFailure(target, err)
		} else {
			m.log.Encryption(target, recipients, tag, true, batch)
			m.log.OperationSuccess("encrypt", target, batch)
			res.addSuccess(target)
		}
		task.Update(i+1, target)
	}

	res.finalize(m.clock.Since(start))
	m.summarize("lock", req.Path, res, batch)
	if res.Success {
		task.Complete("locked")
	} else {
		task.Fail("lock finished with failures")
	}
	return res, nil
}

func (m *CageManager) lockOne(req *LockRequest, target, output string) error {
	if req.Backup {
		if err := m.backupFile(target); err != nil {
			return err
		}
	}
	if err := m.adapter.Encrypt(target, output, req.Identity, req.Recipients, req.Format); err != nil {
		return err
	}
	if req.InPlace {
		if err := os.Remove(target); err != nil {
			return &IOError{Op: "remove original", Path: target, Err: err}
		}
	}
	return nil
}

// Unlock decrypts encrypted artifacts under req.Path. With Selective
// set, targets the identity cannot open are skipped, not failed.
func (m *CageManager) Unlock(req *UnlockRequest) (*OperationResult, error) {
	start := m.clock.Now()
	if err := m.validateUnlock(req); err != nil {
		return nil, err
	}
	targets, err := m.expandTargets(req.Path, req.Pattern, req.Recursive, unlockTargets)
	if err != nil {
		return nil, err
	}

	opID := uuid.NewString()
	batch := audit.Fields{"operation_id": opID}
	m.log.OperationStart("unlock", req.Path, audit.Fields{"operation_id": opID, "targets": len(targets)})
	task := m.reporter.StartTask("Unlocking", len(targets))

	tag := identityTag(req.Identity)
	res := &OperationResult{}
	for i, target := range targets {
		output, _ := DecryptedPath(target)
		m.log.OperationStart("decrypt", target, batch)
		err := m.unlockOne(req, target, output)
		if err != nil && isBatchFatal(err) {
			m.log.OperationFailure("unlock", req.Path, err, batch)
			task.Fail("backend unavailable")
			return nil, err
		}
		var auth *AuthenticationError
		switch {
		case err == nil:
			m.log.Decryption(target, tag, true, batch)
			m.log.OperationSuccess("decrypt", target, batch)
			res.addSuccess(output)
		case req.Selective && errors.As(err, &auth):
			// Key mismatch under selective unlock is a skip, and it
			// stays out of the failure trail.
			m.log.Warning(fmt.Sprintf("skipped %s: identity does not match", target))
			res.addSkipped(target)
		default:
			m.log.Decryption(target, tag, false, batch)
			m.log.OperationFailure("decrypt", target, err, batch)
			res.addFailure(target, err)
		}
		task.Update(i+1, target)
	}

	res.finalize(m.clock.Since(start))
	m.summarize("unlock", req.Path, res, batch)
	if res.Success {
		task.Complete("unlocked")
	} else {
		task.Fail("unlock finished with failures")
	}
	return res, nil
}

func (m *CageManager) unlockOne(req *UnlockRequest, target, output string) error {
	var err error
	if pa, ok := m.adapter.(probeAdapter); ok && req.Selective {
		err = pa.DecryptProbe(target, output, req.Identity)
	} else {
		err = m.adapter.Decrypt(target, output, req.Identity)
	}
	if err != nil {
		return err
	}
	if !req.PreserveEncrypted {
		if err := os.Remove(target); err != nil {
			return &IOError{Op: "remove artifact", Path: target, Err: err}
		}
	}
	return nil
}

func (m *CageManager) summarize(op, path string, res *OperationResult, batch audit.Fields) {
	fields := audit.Fields{
		"operation_id": batch["operation_id"],
		"processed":    len(res.ProcessedFiles),
		"failed":       len(res.FailedFiles),
		"skipped":      len(res.SkippedFiles),
		"duration_ms":  res.ExecutionTimeMs,
	}
	if res.Success {
		m.log.OperationSuccess(op, path, fields)
	} else {
		m.log.OperationFailure(op, path, fmt.Errorf("%d of %d targets failed",
			len(res.FailedFiles), len(res.ProcessedFiles)+len(res.FailedFiles)), fields)
	}
}

func (m *CageManager) validateLock(req *LockRequest) error {
	if req == nil {
		return &ValidationError{Reason: "nil request"}
	}
	if err := m.validator.Path(req.Path); err != nil {
		return err
	}
	if err := validatePattern(req.Pattern); err != nil {
		return err
	}
	if len(req.Recipients) > 0 {
		return m.validator.Recipients(req.Recipients)
	}
	return m.validator.Identity(req.Identity)
}

func (m *CageManager) validateUnlock(req *UnlockRequest) error {
	if req == nil {
		return &ValidationError{Reason: "nil request"}
	}
	if err := m.validator.Path(req.Path); err != nil {
		return err
	}
	if err := validatePattern(req.Pattern); err != nil {
		return err
	}
	return m.validator.Identity(req.Identity)
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	if _, err := filepath.Match(pattern, "probe"); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("invalid pattern %q", pattern)}
	}
	return nil
}

// target selectors for the walker.
type targetKind int

const (
	lockTargets targetKind = iota
	unlockTargets
)

func (k targetKind) wants(path string) bool {
	if k == lockTargets {
		// Already-encrypted artifacts are never re-locked.
		return !IsEncryptedName(path)
	}
	return IsEncryptedName(path)
}

// expandTargets resolves a request path into the sorted list of files to
// process. A plain file is its own batch; directories are walked, with
// pattern applied as a glob over the path relative to the root (or the
// base name), never as a substring.
func (m *CageManager) expandTargets(root, pattern string, recursive bool, kind targetKind) ([]string, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, &IOError{Op: "stat", Path: root, Err: err}
	}
	if !fi.IsDir() {
		return []string{root}, nil
	}

	var targets []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !kind.wants(path) {
			return nil
		}
		if pattern != "" && !matchPattern(root, path, pattern, kind) {
			return nil
		}
		targets = append(targets, path)
		return nil
	})
	if walkErr != nil {
		return nil, &IOError{Op: "walk", Path: root, Err: walkErr}
	}
	sort.Strings(targets)
	return targets, nil
}

// matchPattern tests pattern against the root-relative path, falling
// back to the base name so "*.txt" selects files anywhere under a
// recursive walk. Unlock targets match against the name with the
// encrypted extension stripped, so the same pattern selects a file in
// both directions.
func matchPattern(root, path, pattern string, kind targetKind) bool {
	name := path
	if kind == unlockTargets {
		name, _ = DecryptedPath(path)
	}
	rel, err := filepath.Rel(root, name)
	if err != nil {
		rel = name
	}
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, filepath.Base(name))
	return ok
}

// backupFile copies target to target.bak (or into the configured backup
// directory), writing a temp file first and renaming it into place.
func (m *CageManager) backupFile(target string) error {
	dst := target + ".bak"
	if m.cfg.BackupDirectory != "" {
		dst = filepath.Join(m.cfg.BackupDirectory, filepath.Base(target)+".bak")
	}
	tmp := dst + ".tmp"
	if err := copyFile(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "rename backup", Path: dst, Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &IOError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return &IOError{Op: "stat", Path: src, Err: err}
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return &IOError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return &IOError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &IOError{Op: "close", Path: dst, Err: err}
	}
	return nil
}

// Status walks root and classifies files by the extension policy.
func (m *CageManager) Status(root string) (*RepositoryStatus, error) {
	return m.survey(root, false)
}

// Verify walks root and additionally checks that each encrypted
// artifact still begins like an age file. Bad artifacts land in Failed.
func (m *CageManager) Verify(root string) (*RepositoryStatus, error) {
	return m.survey(root, true)
}

func (m *CageManager) survey(root string, verify bool) (*RepositoryStatus, error) {
	if err := m.validator.Path(root); err != nil {
		return nil, err
	}
	status := &RepositoryStatus{}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, &IOError{Op: "stat", Path: root, Err: err}
	}
	classify := func(path string) {
		status.Total++
		if !IsEncryptedName(path) {
			status.Unencrypted++
			return
		}
		if verify {
			ok, err := IsEncryptedFile(path)
			if err != nil || !ok {
				status.Failed = append(status.Failed, path)
				return
			}
		}
		status.Encrypted++
	}
	if !fi.IsDir() {
		classify(root)
		return status, nil
	}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			status.Failed = append(status.Failed, path)
			status.Total++
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		classify(path)
		return nil
	})
	if walkErr != nil {
		return nil, &IOError{Op: "walk", Path: root, Err: walkErr}
	}
	return status, nil
}
