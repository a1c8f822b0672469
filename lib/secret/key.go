// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// KeySize is the length in bytes of a master sealing key.
const KeySize = 32

// GenerateKey returns a new random master key encoded as lowercase hex
// followed by a newline, ready to be written to a key file.
func GenerateKey() ([]byte, error) {
	raw := make([]byte, KeySize)
	defer Zero(raw)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("secret: generating key: %w", err)
	}
	encoded := make([]byte, hex.EncodedLen(KeySize)+1)
	hex.Encode(encoded, raw)
	encoded[len(encoded)-1] = '\n'
	return encoded, nil
}

// ReadKeyFile reads a hex-encoded master key from path. Surrounding
// whitespace is ignored. The decoded key must be exactly KeySize
// bytes. The file contents are zeroed after decoding.
func ReadKeyFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: reading key file: %w", err)
	}
	defer Zero(data)
	return DecodeKey(data)
}

// DecodeKey decodes a hex-encoded master key into a new Buffer.
func DecodeKey(encoded []byte) (*Buffer, error) {
	trimmed := bytes.TrimSpace(encoded)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: key is empty")
	}
	if hex.DecodedLen(len(trimmed)) != KeySize {
		return nil, fmt.Errorf("secret: key must be %d bytes (%d hex characters), got %d characters",
			KeySize, hex.EncodedLen(KeySize), len(trimmed))
	}

	raw := make([]byte, KeySize)
	if _, err := hex.Decode(raw, trimmed); err != nil {
		Zero(raw)
		return nil, fmt.Errorf("secret: decoding key: %w", err)
	}
	return NewFromBytes(raw)
}
