// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

// Identity is the secret side of an operation: how age will satisfy a
// decryption, or where the passphrase for a symmetric operation comes
// from. The set of implementations is closed.
type Identity interface {
	// IdentityTag returns the audit tag for this identity. It never
	// exposes key material.
	IdentityTag() string
}

// Passphrase is a literal secret sent to the age prompt. The bytes are
// owned by the caller; the automator zeroizes its working copy after the
// last prompt write.
type Passphrase []byte

// NewPassphrase copies s into a fresh Passphrase buffer.
func NewPassphrase(s string) Passphrase { return Passphrase([]byte(s)) }

func (Passphrase) IdentityTag() string { return "passphrase" }

// String redacts the secret so a Passphrase can never leak through
// formatting.
func (Passphrase) String() string { return "[passphrase redacted]" }

// Zero overwrites the secret bytes.
func (p Passphrase) Zero() {
	for i := range p {
		p[i] = 0
	}
}

// PromptPassphrase defers the secret: the caller resolves it to a
// Passphrase before dispatch. The manager rejects requests that still
// carry it.
type PromptPassphrase struct{}

func (PromptPassphrase) IdentityTag() string { return "prompt" }

// IdentityFile is the path to an age identity file, passed to age -i.
type IdentityFile string

func (IdentityFile) IdentityTag() string { return "identity-file" }

// SSHKey is the path to an OpenSSH private key, passed to age -i.
type SSHKey string

func (SSHKey) IdentityTag() string { return "ssh-key" }

// Recipient is the public side of an encryption. The set of
// implementations is closed.
type Recipient interface {
	// RecipientArgs returns the age command-line arguments selecting
	// this recipient.
	RecipientArgs() []string
}

// AgeRecipients is a list of native age recipient strings ("age1...").
type AgeRecipients []string

func (r AgeRecipients) RecipientArgs() []string {
	var args []string
	for _, s := range r {
		args = append(args, "-r", s)
	}
	return args
}

// SSHRecipients is a list of OpenSSH public key lines.
type SSHRecipients []string

func (r SSHRecipients) RecipientArgs() []string {
	var args []string
	for _, s := range r {
		args = append(args, "-r", s)
	}
	return args
}

// RecipientsFile is the path to a file of recipients, passed to age -R.
type RecipientsFile string

func (r RecipientsFile) RecipientArgs() []string { return []string{"-R", string(r)} }

// recipientStrings flattens recipients into the literal strings used for
// the audit fingerprint. File-based recipients contribute their path, not
// their contents.
func recipientStrings(recipients []Recipient) []string {
	var out []string
	for _, r := range recipients {
		switch r := r.(type) {
		case AgeRecipients:
			out = append(out, r...)
		case SSHRecipients:
			out = append(out, r...)
		case RecipientsFile:
			out = append(out, string(r))
		}
	}
	return out
}
