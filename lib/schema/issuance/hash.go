// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the length in bytes of a payload hash or shard checksum.
const HashSize = 32

// Hash is a payload hash or shard checksum. It marshals as lowercase
// hex in both JSON and CBOR.
type Hash [HashSize]byte

// String returns the lowercase hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is all zero bytes (an unset hash).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a 64-character hex string. Upper- and lower-case
// digits are both accepted.
func ParseHash(text string) (Hash, error) {
	var h Hash
	if len(text) != 2*HashSize {
		return h, fmt.Errorf("hash must be %d hex characters, got %d", 2*HashSize, len(text))
	}
	if _, err := hex.Decode(h[:], []byte(text)); err != nil {
		return Hash{}, fmt.Errorf("invalid hash: %w", err)
	}
	return h, nil
}
