// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

import (
	"bytes"
	"io"
	"os"

	"filippo.io/age/armor"
)

// binaryIntro is the first line of a binary age file.
const binaryIntro = "age-encryption.org/v1"

// IsEncryptedFile reports whether path begins like an age artifact,
// binary or armored. It reads at most one buffer and never decrypts.
func IsEncryptedFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	buf := make([]byte, len(armor.Header)+2)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return false, nil
		}
		return false, &IOError{Op: "read", Path: path, Err: err}
	}
	head := buf[:n]
	if bytes.HasPrefix(head, []byte(binaryIntro)) {
		return true, nil
	}
	return bytes.HasPrefix(head, []byte(armor.Header)), nil
}
