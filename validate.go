// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
	"golang.org/x/crypto/ssh"
)

// Validator rejects malformed or dangerous request inputs before any
// subprocess is spawned.
type Validator struct {
	maxPassphraseLength int
	allowedRoot         string
}

// NewValidator builds a validator from the config snapshot.
func NewValidator(cfg *Config) *Validator {
	max := DefaultMaxPassphraseLength
	if cfg != nil && cfg.MaxPassphraseLength > 0 {
		max = cfg.MaxPassphraseLength
	}
	var root string
	if cfg != nil {
		root = cfg.AllowedRoot
	}
	return &Validator{maxPassphraseLength: max, allowedRoot: root}
}

// Passphrase checks the secret: non-empty, within the length limit, no
// bytes that would corrupt the prompt protocol.
func (v *Validator) Passphrase(p Passphrase) error {
	if len(p) == 0 {
		return &ValidationError{Reason: "empty passphrase"}
	}
	if len(p) > v.maxPassphraseLength {
		return &ValidationError{
			Reason: fmt.Sprintf("passphrase exceeds %d bytes", v.maxPassphraseLength),
		}
	}
	if bytes.IndexByte(p, 0) >= 0 {
		return &InjectionError{Kind: "null_byte"}
	}
	// A newline would terminate the prompt write early and leave the
	// remainder queued as terminal input.
	if bytes.ContainsAny(p, "\r\n") {
		return &InjectionError{Kind: "newline"}
	}
	return nil
}

// Path checks that path exists and, when an allowlist root is
// configured, that it resolves inside it.
func (v *Validator) Path(path string) error {
	if _, err := os.Stat(path); err != nil {
		return &IOError{Op: "stat", Path: path, Err: err}
	}
	if v.allowedRoot == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return &IOError{Op: "resolve", Path: path, Err: err}
	}
	root, err := filepath.Abs(v.allowedRoot)
	if err != nil {
		return &IOError{Op: "resolve", Path: v.allowedRoot, Err: err}
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &ValidationError{Reason: fmt.Sprintf("path %s is outside the allowed root", path)}
	}
	return nil
}

// Identity checks that file-based identities exist and that literal
// passphrases pass the passphrase rules.
func (v *Validator) Identity(id Identity) error {
	switch id := id.(type) {
	case Passphrase:
		return v.Passphrase(id)
	case IdentityFile:
		if _, err := os.Stat(string(id)); err != nil {
			return &IOError{Op: "stat identity", Path: string(id), Err: err}
		}
	case SSHKey:
		if _, err := os.Stat(string(id)); err != nil {
			return &IOError{Op: "stat ssh key", Path: string(id), Err: err}
		}
	case PromptPassphrase:
		return &ValidationError{Reason: "prompt passphrase must be resolved before dispatch"}
	case nil:
		return &ValidationError{Reason: "missing identity"}
	}
	return nil
}

// sshRecipientPrefixes are the lexical forms accepted for SSH recipient
// lines.
var sshRecipientPrefixes = []string{"ssh-ed25519 ", "ssh-rsa ", "ecdsa-"}

// Recipients validates the lexical form of every recipient. Age
// recipients must parse as bech32 "age1..." strings; SSH recipients must
// be parseable public key lines with a known prefix.
func (v *Validator) Recipients(recipients []Recipient) error {
	for _, r := range recipients {
		switch r := r.(type) {
		case AgeRecipients:
			for _, s := range r {
				if _, err := age.ParseX25519Recipient(s); err != nil {
					return &ValidationError{Reason: fmt.Sprintf("malformed age recipient: %v", err)}
				}
			}
		case SSHRecipients:
			for _, s := range r {
				if err := validateSSHRecipient(s); err != nil {
					return err
				}
			}
		case RecipientsFile:
			if _, err := os.Stat(string(r)); err != nil {
				return &IOError{Op: "stat recipients file", Path: string(r), Err: err}
			}
		}
	}
	return nil
}

func validateSSHRecipient(line string) error {
	ok := false
	for _, p := range sshRecipientPrefixes {
		if strings.HasPrefix(line, p) {
			ok = true
			break
		}
	}
	if !ok {
		return &ValidationError{Reason: "ssh recipient must start with ssh-ed25519, ssh-rsa or ecdsa-"}
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("malformed ssh recipient: %v", err)}
	}
	// Ed25519 and RSA keys must also be usable by age itself; other key
	// types pass the lexical check only and age decides at runtime.
	switch key.Type() {
	case ssh.KeyAlgoED25519, ssh.KeyAlgoRSA:
		if _, err := agessh.ParseRecipient(line); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("ssh recipient not usable by age: %v", err)}
		}
	}
	return nil
}

// ReadRecipientsFile parses a recipients file: one recipient per line,
// empty lines and "#" comments ignored.
func ReadRecipientsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read recipients", Path: path, Err: err}
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}
