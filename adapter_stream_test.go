// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveStrategy(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small")
	if err := os.WriteFile(small, []byte("tiny"), 0o600); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")

	cfg := DefaultConfig()
	a := &streamingAdapter{fileAdapter: &fileAdapter{cfg: cfg}}

	cfg.Strategy = StrategyPipe
	if got := a.resolveStrategy(small, out); got != StrategyPipe {
		t.Errorf("pipe config resolved to %v", got)
	}

	cfg.Strategy = StrategyAuto
	if got := a.resolveStrategy(small, out); got != StrategyTempFile {
		t.Errorf("auto with a small file resolved to %v", got)
	}
	if got := a.resolveStrategy(filepath.Join(dir, "missing"), out); got != StrategyTempFile {
		t.Errorf("auto with a missing file resolved to %v", got)
	}

	cfg.Strategy = StrategyTempFile
	if got := a.resolveStrategy(small, out); got != StrategyTempFile {
		t.Errorf("tempfile config resolved to %v", got)
	}
}

func TestStreamRoundTripWithAge(t *testing.T) {
	cfg := ageAvailable(t)
	cfg.Strategy = StrategyPipe
	adapter, err := NewAdapter(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	sa, ok := adapter.(*streamingAdapter)
	if !ok {
		t.Fatalf("factory returned %T for pipe strategy", adapter)
	}

	body := strings.Repeat("streaming payload line\n", 1000)
	var cipher bytes.Buffer
	if err := sa.EncryptStream(strings.NewReader(body), &cipher, NewPassphrase("sp"), nil, Binary); err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(cipher.Bytes(), []byte("streaming payload")) {
		t.Fatal("ciphertext contains plaintext")
	}

	var plain bytes.Buffer
	if err := sa.DecryptStream(bytes.NewReader(cipher.Bytes()), &plain, NewPassphrase("sp")); err != nil {
		t.Fatal(err)
	}
	if plain.String() != body {
		t.Fatal("stream round trip mismatch")
	}
}

func TestStreamTempFileStrategyWithAge(t *testing.T) {
	cfg := ageAvailable(t)
	cfg.Strategy = StrategyTempFile
	sa := &streamingAdapter{fileAdapter: &fileAdapter{
		cfg: cfg, binary: mustAge(t), version: "test",
	}}

	var cipher bytes.Buffer
	if err := sa.EncryptStream(strings.NewReader("temp strategy\n"), &cipher, NewPassphrase("tp"), nil, Binary); err != nil {
		t.Fatal(err)
	}
	var plain bytes.Buffer
	if err := sa.DecryptStream(bytes.NewReader(cipher.Bytes()), &plain, NewPassphrase("tp")); err != nil {
		t.Fatal(err)
	}
	if plain.String() != "temp strategy\n" {
		t.Fatalf("temp round trip mismatch: %q", plain.String())
	}
}
