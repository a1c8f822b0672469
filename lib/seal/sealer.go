// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/secret"
)

// hkdfInfoPayload separates the payload sealing key from any other key
// derived from the same master. Changing it invalidates every issued
// artifact.
var hkdfInfoPayload = []byte("stamp.artifact.payload.v1")

// Sealer computes keyed payload hashes. It is safe for concurrent use.
type Sealer struct {
	key *secret.Buffer
}

// NewSealer derives the payload sealing key from masterKey. The master
// key is borrowed and not closed. The caller must Close the Sealer.
func NewSealer(masterKey *secret.Buffer) (*Sealer, error) {
	if masterKey.Len() < secret.KeySize {
		return nil, fmt.Errorf("seal: master key must be at least %d bytes, got %d", secret.KeySize, masterKey.Len())
	}

	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, hkdfInfoPayload)
	derived := make([]byte, secret.KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("seal: deriving payload key: %w", err)
	}
	key, err := secret.NewFromBytes(derived)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal returns the keyed hash of canonical bytes. Same bytes, same
// hash.
func (s *Sealer) Seal(canonical []byte) issuance.Hash {
	hasher, err := blake3.NewKeyed(s.key.Bytes())
	if err != nil {
		panic("seal: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(canonical)
	var hash issuance.Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// SealArtifact canonicalizes artifact and returns its payload hash.
// The artifact's PayloadHash field is ignored.
func (s *Sealer) SealArtifact(artifact issuance.Artifact) (issuance.Hash, error) {
	canonical, err := Canonicalize(artifact)
	if err != nil {
		return issuance.Hash{}, err
	}
	return s.Seal(canonical), nil
}

// Close releases the derived key.
func (s *Sealer) Close() error {
	return s.key.Close()
}

// Equal compares two hashes in constant time.
func Equal(a, b issuance.Hash) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
