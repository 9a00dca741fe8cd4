// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage_test

import (
	"testing"

	"github.com/padlokk/cage"
)

func TestEncryptedPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"foo.txt", "foo.txt.cage"},
		{"foo", "foo.cage"},
		{"dir/archive.tar.gz", "dir/archive.tar.gz.cage"},
	}
	for _, tt := range tests {
		if got := cage.EncryptedPath(tt.in); got != tt.want {
			t.Errorf("EncryptedPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecryptedPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"foo.txt.cage", "foo.txt", true},
		{"foo.txt.padlock", "foo.txt", true},
		{"foo.cage.cage", "foo.cage", true}, // only the final segment is stripped
		{"foo.txt", "foo.txt", false},
		{"foo.cagex", "foo.cagex", false},
	}
	for _, tt := range tests {
		got, ok := cage.DecryptedPath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("DecryptedPath(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsEncryptedName(t *testing.T) {
	for name, want := range map[string]bool{
		"a.txt.cage":    true,
		"a.txt.padlock": true,
		"a.txt":         false,
		"cage":          false,
	} {
		if got := cage.IsEncryptedName(name); got != want {
			t.Errorf("IsEncryptedName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPassphraseRedactedString(t *testing.T) {
	p := cage.NewPassphrase("hunter2")
	if s := p.String(); s == "hunter2" {
		t.Fatal("Passphrase.String leaked the secret")
	}
}

func TestPassphraseZero(t *testing.T) {
	p := cage.NewPassphrase("secret")
	p.Zero()
	for i, b := range p {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}

func TestRecipientArgs(t *testing.T) {
	args := cage.AgeRecipients{"age1aaa", "age1bbb"}.RecipientArgs()
	want := []string{"-r", "age1aaa", "-r", "age1bbb"}
	if len(args) != len(want) {
		t.Fatalf("got %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("got %v, want %v", args, want)
		}
	}
	args = cage.RecipientsFile("/tmp/recips").RecipientArgs()
	if len(args) != 2 || args[0] != "-R" || args[1] != "/tmp/recips" {
		t.Fatalf("RecipientsFile args = %v", args)
	}
}
