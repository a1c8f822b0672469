// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateKeyRoundTrip(t *testing.T) {
	encoded, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(encoded) != 2*KeySize+1 || encoded[len(encoded)-1] != '\n' {
		t.Fatalf("GenerateKey = %q, want %d hex characters and a newline", encoded, 2*KeySize)
	}

	path := filepath.Join(t.TempDir(), "master.key")
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	want, _ := hex.DecodeString(strings.TrimSpace(string(encoded)))
	key, err := ReadKeyFile(path)
	if err != nil {
		t.Fatalf("ReadKeyFile: %v", err)
	}
	defer key.Close()

	if key.Len() != KeySize {
		t.Errorf("key length = %d, want %d", key.Len(), KeySize)
	}
	if !key.Equal(want) {
		t.Error("decoded key does not match the generated key")
	}
}

func TestDecodeKeyRejects(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"whitespace only", "  \n"},
		{"short", strings.Repeat("ab", KeySize-1)},
		{"long", strings.Repeat("ab", KeySize+1)},
		{"not hex", strings.Repeat("zz", KeySize)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			key, err := DecodeKey([]byte(test.encoded))
			if err == nil {
				key.Close()
				t.Fatal("expected error")
			}
		})
	}
}

func TestReadKeyFileMissing(t *testing.T) {
	if _, err := ReadKeyFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing key file")
	}
}
