// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/padlokk/cage/internal/ptyage"
)

func TestEncryptRequestArgs(t *testing.T) {
	tests := []struct {
		name       string
		id         Identity
		recipients []Recipient
		format     OutputFormat
		wantArgs   []string
		wantPass   bool
	}{
		{
			name:     "passphrase binary",
			id:       NewPassphrase("pw"),
			format:   Binary,
			wantArgs: []string{"-e", "-p", "-o", "out", "in"},
			wantPass: true,
		},
		{
			name:     "passphrase armor",
			id:       NewPassphrase("pw"),
			format:   ASCIIArmor,
			wantArgs: []string{"-e", "-a", "-p", "-o", "out", "in"},
			wantPass: true,
		},
		{
			name:       "age recipients",
			recipients: []Recipient{AgeRecipients{"age1aaa", "age1bbb"}},
			wantArgs:   []string{"-e", "-r", "age1aaa", "-r", "age1bbb", "-o", "out", "in"},
		},
		{
			name:       "recipients file",
			recipients: []Recipient{RecipientsFile("/r.txt")},
			wantArgs:   []string{"-e", "-R", "/r.txt", "-o", "out", "in"},
		},
		{
			name:     "identity file",
			id:       IdentityFile("/id.txt"),
			wantArgs: []string{"-e", "-i", "/id.txt", "-o", "out", "in"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := encryptRequest("in", "out", tt.id, tt.recipients, tt.format)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(req.Args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", req.Args, tt.wantArgs)
			}
			if (req.Passphrase != nil) != tt.wantPass {
				t.Errorf("passphrase presence = %v, want %v", req.Passphrase != nil, tt.wantPass)
			}
			if tt.wantPass && !req.ExpectConfirm {
				t.Error("passphrase encryption must expect a confirm prompt")
			}
			for _, a := range req.Args {
				if a == "pw" {
					t.Fatal("passphrase leaked into argv")
				}
			}
		})
	}

	if _, err := encryptRequest("in", "out", nil, nil, Binary); err == nil {
		t.Error("encryption with neither recipients nor identity accepted")
	}
}

func TestDecryptRequestArgs(t *testing.T) {
	req, err := decryptRequest("in.cage", "out", SSHKey("/key"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"-d", "-i", "/key", "-o", "out", "in.cage"}
	if !reflect.DeepEqual(req.Args, want) {
		t.Errorf("args = %v, want %v", req.Args, want)
	}

	req, err = decryptRequest("in.cage", "out", NewPassphrase("pw"))
	if err != nil {
		t.Fatal(err)
	}
	want = []string{"-d", "-o", "out", "in.cage"}
	if !reflect.DeepEqual(req.Args, want) {
		t.Errorf("args = %v, want %v", req.Args, want)
	}
	if req.Passphrase == nil || req.ExpectConfirm {
		t.Error("passphrase decryption: single prompt, no confirm")
	}
}

func TestMapErr(t *testing.T) {
	a := &fileAdapter{cfg: DefaultConfig()}
	tests := []struct {
		name string
		in   error
		want func(error) bool
	}{
		{
			name: "bad passphrase",
			in:   &ptyage.ExitError{Code: 1, Output: "age: error: incorrect passphrase"},
			want: func(err error) bool {
				var e *AuthenticationError
				return errors.As(err, &e)
			},
		},
		{
			name: "no identity matched",
			in:   &ptyage.ExitError{Code: 1, Output: "age: error: no identity matched any of the recipients"},
			want: func(err error) bool {
				var e *AuthenticationError
				return errors.As(err, &e)
			},
		},
		{
			name: "not encrypted",
			in:   &ptyage.ExitError{Code: 1, Output: "age: error: input is not encrypted"},
			want: func(err error) bool {
				var e *NotEncryptedError
				return errors.As(err, &e)
			},
		},
		{
			name: "prompt timeout",
			in:   &ptyage.TimeoutError{Phase: "prompt"},
			want: func(err error) bool {
				var e *TimeoutError
				return errors.As(err, &e) && e.Phase == "prompt"
			},
		},
		{
			name: "spawn failure",
			in:   &ptyage.SpawnError{Err: errors.New("no such file")},
			want: func(err error) bool { return errors.Is(err, ErrBackendUnavailable) },
		},
		{
			name: "other exit",
			in:   &ptyage.ExitError{Code: 3, Output: "age: error: something else"},
			want: func(err error) bool {
				var e *BackendError
				return errors.As(err, &e) && e.ExitCode == 3
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.mapErr(tt.in, "file.txt", nil)
			if !tt.want(got) {
				t.Errorf("mapErr(%v) = %v", tt.in, got)
			}
		})
	}
	if a.mapErr(nil, "file.txt", nil) != nil {
		t.Error("nil error mapped to non-nil")
	}
}

func TestMapErrRedactsPassphrase(t *testing.T) {
	a := &fileAdapter{cfg: DefaultConfig()}
	err := a.mapErr(
		&ptyage.ExitError{Code: 1, Output: "age: unexpected: supersecretpw echoed"},
		"f", NewPassphrase("supersecretpw"))
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("got %T", err)
	}
	if strings.Contains(be.Stderr, "supersecretpw") {
		t.Fatal("passphrase literal survived into the error excerpt")
	}
}

func TestExcerptBounded(t *testing.T) {
	long := strings.Repeat("x", 1024)
	if got := excerpt(long); len(got) != 256 {
		t.Errorf("excerpt length = %d, want 256", len(got))
	}
}

// The tests below exercise the real age binary and skip when it is not
// installed.

func ageAvailable(t *testing.T) *Config {
	t.Helper()
	if _, err := exec.LookPath("age"); err != nil {
		t.Skip("age binary not found in PATH")
	}
	return DefaultConfig()
}

func mustAge(t *testing.T) string {
	t.Helper()
	p, err := exec.LookPath("age")
	if err != nil {
		t.Skip("age binary not found in PATH")
	}
	return p
}

func TestRoundTripWithAge(t *testing.T) {
	cfg := ageAvailable(t)
	adapter, err := NewAdapter(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "a.txt")
	cipher := filepath.Join(dir, "a.txt.cage")
	plain := filepath.Join(dir, "a.out")
	if err := os.WriteFile(input, []byte("hello\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := adapter.Encrypt(input, cipher, NewPassphrase("p@ss"), nil, Binary); err != nil {
		t.Fatal(err)
	}
	ok, err := IsEncryptedFile(cipher)
	if err != nil || !ok {
		t.Fatalf("artifact does not look like an age file: %v", err)
	}
	if err := adapter.Decrypt(cipher, plain, NewPassphrase("p@ss")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(plain)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("round trip mismatch: %q", data)
	}
}

func TestWrongPassphraseWithAge(t *testing.T) {
	cfg := ageAvailable(t)
	adapter, err := NewAdapter(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "a.txt")
	cipher := filepath.Join(dir, "a.txt.cage")
	if err := os.WriteFile(input, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := adapter.Encrypt(input, cipher, NewPassphrase("right"), nil, Binary); err != nil {
		t.Fatal(err)
	}
	err = adapter.Decrypt(cipher, filepath.Join(dir, "out"), NewPassphrase("wrong"))
	var auth *AuthenticationError
	if !errors.As(err, &auth) {
		t.Fatalf("got %v, want AuthenticationError", err)
	}
}

func TestArmorWithAge(t *testing.T) {
	cfg := ageAvailable(t)
	adapter, err := NewAdapter(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "a.txt")
	cipher := filepath.Join(dir, "a.txt.cage")
	if err := os.WriteFile(input, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := adapter.Encrypt(input, cipher, NewPassphrase("p"), nil, ASCIIArmor); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(cipher)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "-----BEGIN AGE ENCRYPTED FILE-----") {
		t.Fatalf("armored output missing header: %.40q", data)
	}
}

func TestSSHIdentityWithAge(t *testing.T) {
	cfg := ageAvailable(t)
	if _, err := exec.LookPath("ssh-keygen"); err != nil {
		t.Skip("ssh-keygen not found in PATH")
	}
	adapter, err := NewAdapter(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "test_ssh_key")
	out, err := exec.Command("ssh-keygen", "-t", "ed25519", "-f", keyPath, "-N", "", "-q").CombinedOutput()
	if err != nil {
		t.Fatalf("ssh-keygen: %v: %s", err, out)
	}
	pubKey, err := os.ReadFile(keyPath + ".pub")
	if err != nil {
		t.Fatal(err)
	}

	input := filepath.Join(dir, "data.txt")
	cipher := filepath.Join(dir, "data.txt.cage")
	plain := filepath.Join(dir, "data.out")
	if err := os.WriteFile(input, []byte("ssh test data"), 0o600); err != nil {
		t.Fatal(err)
	}

	recipients := []Recipient{SSHRecipients{strings.TrimSpace(string(pubKey))}}
	if err := adapter.Encrypt(input, cipher, nil, recipients, Binary); err != nil {
		t.Fatalf("encrypt to ssh recipient: %v", err)
	}
	if err := adapter.Decrypt(cipher, plain, SSHKey(keyPath)); err != nil {
		t.Fatalf("decrypt with ssh identity: %v", err)
	}
	data, err := os.ReadFile(plain)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ssh test data" {
		t.Fatalf("content mismatch: %q", data)
	}
}
