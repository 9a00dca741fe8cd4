// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package audit provides the append-only structured trail for cage
// operations. Events are one line each, text or JSON, and never contain
// passphrase bytes or full recipient strings.
package audit

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Format selects the line encoding of the sink.
type Format int

const (
	// Text emits "[LEVEL] TIMESTAMP component message key=value...".
	Text Format = iota
	// JSON emits one JSON object per line.
	JSON
)

// Fields carries event-specific keys.
type Fields map[string]interface{}

// component is the fixed source tag on every event.
const component = "cage_automation"

// Logger is the audit sink. Writes are line-atomic; one Logger may be
// shared across operations.
type Logger struct {
	ll   *logrus.Logger
	file *os.File
}

// New opens an append-only sink at path. An empty path logs to stderr.
func New(path string, format Format) (*Logger, error) {
	l := &Logger{ll: logrus.New()}
	l.ll.SetLevel(logrus.InfoLevel)
	l.ll.SetFormatter(formatter(format))
	if path == "" {
		l.ll.SetOutput(os.Stderr)
		return l, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	l.file = f
	l.ll.SetOutput(f)
	return l, nil
}

// NewWithWriter builds a sink over an arbitrary writer.
func NewWithWriter(w io.Writer, format Format) *Logger {
	l := &Logger{ll: logrus.New()}
	l.ll.SetLevel(logrus.InfoLevel)
	l.ll.SetFormatter(formatter(format))
	l.ll.SetOutput(w)
	return l
}

func formatter(format Format) logrus.Formatter {
	if format == JSON {
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}
	return &textFormatter{}
}

// Close releases the underlying file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) event(level logrus.Level, eventType, msg string, fields Fields) {
	e := l.ll.WithField("component", component).WithField("event_type", eventType)
	for k, v := range fields {
		e = e.WithField(k, v)
	}
	e.Log(level, msg)
}

// Info records a freeform informational event.
func (l *Logger) Info(msg string) { l.event(logrus.InfoLevel, "info", msg, nil) }

// Warning records a freeform warning event.
func (l *Logger) Warning(msg string) { l.event(logrus.WarnLevel, "warning", msg, nil) }

// Error records a freeform error event.
func (l *Logger) Error(msg string) { l.event(logrus.ErrorLevel, "error", msg, nil) }

// OperationStart records the beginning of a batch or single operation.
func (l *Logger) OperationStart(op, path string, fields Fields) {
	f := Fields{"operation": op, "path": path}
	merge(f, fields)
	l.event(logrus.InfoLevel, "operation_start", op+" started", f)
}

// OperationSuccess records a completed operation.
func (l *Logger) OperationSuccess(op, path string, fields Fields) {
	f := Fields{"operation": op, "path": path}
	merge(f, fields)
	l.event(logrus.InfoLevel, "operation_success", op+" succeeded", f)
}

// OperationFailure records a failed operation. The error text has
// already been scrubbed of secrets by the caller.
func (l *Logger) OperationFailure(op, path string, err error, fields Fields) {
	f := Fields{"operation": op, "path": path, "error": fmt.Sprint(err)}
	merge(f, fields)
	l.event(logrus.ErrorLevel, "operation_failure", op+" failed", f)
}

// Encryption records one encryption. Recipients are reduced to a count
// and a group fingerprint; the strings themselves are never written.
func (l *Logger) Encryption(path string, recipients []string, identityTag string, success bool, fields Fields) {
	f := Fields{
		"path":          path,
		"identity_type": identityTag,
		"success":       success,
	}
	if recipients != nil {
		f["recipient_count"] = len(recipients)
		f["recipient_group_hash"] = RecipientGroupHash(recipients)
	}
	merge(f, fields)
	l.event(logrus.InfoLevel, "encryption", "file encrypted", f)
}

// Decryption records one decryption.
func (l *Logger) Decryption(path string, identityTag string, success bool, fields Fields) {
	f := Fields{
		"path":          path,
		"identity_type": identityTag,
		"success":       success,
	}
	merge(f, fields)
	l.event(logrus.InfoLevel, "decryption", "file decrypted", f)
}

// KeygenStart records the beginning of a key generation.
func (l *Logger) KeygenStart(outputPath, mode string) {
	l.event(logrus.InfoLevel, "keygen_start", "key generation started", Fields{
		"output": outputPath,
		"mode":   mode,
	})
}

// KeygenComplete records a finished key generation. Only an MD5
// fingerprint of the public recipient is written, never key material.
func (l *Logger) KeygenComplete(outputPath, publicRecipient string) {
	hash := "none"
	if publicRecipient != "" {
		hash = Fingerprint(publicRecipient)
	}
	l.event(logrus.InfoLevel, "keygen_complete", "key generation complete", Fields{
		"output":         outputPath,
		"recipient_hash": hash,
	})
}

// HealthCheck records a backend probe.
func (l *Logger) HealthCheck(name, version string, ok bool) {
	l.event(logrus.InfoLevel, "health_check", "backend probed", Fields{
		"backend": name,
		"version": version,
		"ok":      ok,
	})
}

func merge(dst, src Fields) {
	for k, v := range src {
		dst[k] = v
	}
}

// RecipientGroupHash returns the MD5 fingerprint of the sorted, joined
// recipient list. MD5 is a non-cryptographic fingerprint of a non-secret
// list, chosen for log comparability across runs.
func RecipientGroupHash(recipients []string) string {
	sorted := append([]string(nil), recipients...)
	sort.Strings(sorted)
	return Fingerprint(strings.Join(sorted, "\n"))
}

// Fingerprint returns the hex MD5 of s.
func Fingerprint(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
