// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package audit

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, Text)

	l.Info("Test message")
	l.Warning("Test warning")
	l.Error("Test error")

	out := buf.String()
	for _, want := range []string{
		"[INFO]", "[WARN]", "[ERROR]",
		"cage_automation",
		"Test message", "Test warning", "Test error",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, JSON)

	l.Info("Test JSON message")
	l.OperationStart("lock", "/tmp/x", Fields{"targets": 3})

	for _, line := range nonEmptyLines(buf.String()) {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			t.Fatalf("line is not JSON: %q: %v", line, err)
		}
		for _, key := range []string{"timestamp", "level", "component", "message"} {
			if _, ok := obj[key]; !ok {
				t.Errorf("line missing %q: %s", key, line)
			}
		}
		ts := obj["timestamp"].(string)
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			t.Errorf("timestamp %q is not RFC 3339: %v", ts, err)
		}
	}
}

func TestEncryptionEventJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, JSON)

	recipients := []string{"age1abc...", "age1def..."}
	l.Encryption("test.txt", recipients, "passphrase", true, nil)

	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatal(err)
	}
	if obj["event_type"] != "encryption" {
		t.Errorf("event_type = %v", obj["event_type"])
	}
	if obj["identity_type"] != "passphrase" {
		t.Errorf("identity_type = %v", obj["identity_type"])
	}
	if obj["recipient_count"] != float64(2) {
		t.Errorf("recipient_count = %v", obj["recipient_count"])
	}
	hash, _ := obj["recipient_group_hash"].(string)
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(hash) {
		t.Errorf("recipient_group_hash = %q, want 32 hex chars", hash)
	}
	if obj["success"] != true {
		t.Errorf("success = %v", obj["success"])
	}
}

func TestDecryptionEventJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, JSON)

	l.Decryption("test.age", "ssh-key", true, nil)

	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatal(err)
	}
	if obj["event_type"] != "decryption" || obj["identity_type"] != "ssh-key" ||
		obj["path"] != "test.age" || obj["success"] != true {
		t.Errorf("decryption event = %v", obj)
	}
}

func TestRecipientRedaction(t *testing.T) {
	for _, format := range []Format{Text, JSON} {
		var buf bytes.Buffer
		l := NewWithWriter(&buf, format)

		recipients := []string{
			"age1abcdef0123456789",
			"ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAexample",
		}
		l.Encryption("secret.txt", recipients, "identity-file", true, nil)

		out := buf.String()
		for _, r := range recipients {
			if strings.Contains(out, r) {
				t.Errorf("format %v leaked recipient %q", format, r)
			}
		}
		if strings.Contains(out, "AAAAC3NzaC1lZDI1NTE5") {
			t.Errorf("format %v leaked key material", format)
		}
		if !strings.Contains(out, "recipient_group_hash") {
			t.Errorf("format %v missing recipient_group_hash", format)
		}
	}
}

func TestRecipientGroupHashIsOrderIndependent(t *testing.T) {
	a := RecipientGroupHash([]string{"age1x", "age1y"})
	b := RecipientGroupHash([]string{"age1y", "age1x"})
	if a != b {
		t.Error("hash depends on recipient order")
	}
	if a == RecipientGroupHash([]string{"age1x"}) {
		t.Error("hash ignores membership")
	}
}

func TestKeygenEventsRedactKeys(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, Text)

	pub := "age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p"
	l.KeygenStart("/keys/id.txt", "generate")
	l.KeygenComplete("/keys/id.txt", pub)

	out := buf.String()
	if strings.Contains(out, pub) {
		t.Error("public recipient logged verbatim; only the fingerprint is allowed")
	}
	if !strings.Contains(out, Fingerprint(pub)) {
		t.Error("fingerprint missing from keygen_complete")
	}
	if !strings.Contains(out, "keygen_start") || !strings.Contains(out, "keygen_complete") {
		t.Error("keygen event types missing")
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
