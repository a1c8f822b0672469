// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"encoding/binary"
	"hash"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

// domainKey is a public 32-byte BLAKE3 key used for domain separation:
// the ASCII domain name, zero-padded. Changing one invalidates every
// hash in its domain.
type domainKey [32]byte

var (
	shardNodeDomainKey = domainKey{
		's', 't', 'a', 'm', 'p', '.', 's', 'h', 'a', 'r', 'd', '.',
		'n', 'o', 'd', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	shardChecksumDomainKey = domainKey{
		's', 't', 'a', 'm', 'p', '.', 's', 'h', 'a', 'r', 'd', '.',
		'c', 'h', 'e', 'c', 'k', 's', 'u', 'm', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	bundleFileDomainKey = domainKey{
		's', 't', 'a', 'm', 'p', '.', 'b', 'u', 'n', 'd', 'l', 'e', '.',
		'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// MerkleRoot computes a binary Merkle tree over hashes and returns the
// root. Adjacent pairs are concatenated and hashed under the shard node
// domain; an odd node at the end of a level is promoted unchanged.
// The root of an empty list is the zero hash.
func MerkleRoot(hashes []issuance.Hash) issuance.Hash {
	if len(hashes) == 0 {
		return issuance.Hash{}
	}

	hasher := newKeyedHasher(shardNodeDomainKey)
	var combined [2 * issuance.HashSize]byte

	level := make([]issuance.Hash, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		next := make([]issuance.Hash, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			copy(combined[:issuance.HashSize], level[i][:])
			copy(combined[issuance.HashSize:], level[i+1][:])
			hasher.Reset()
			hasher.Write(combined[:])
			copy(next[i/2][:], hasher.Sum(nil))
		}
		if len(level)%2 == 1 {
			next[len(next)-1] = level[len(level)-1]
		}
		level = next
	}
	return level[0]
}

// ShardChecksum returns the checksum of a shard whose payload hashes,
// in append order, are hashes. The artifact count is bound into the
// checksum so a truncated list cannot reproduce it.
func ShardChecksum(hashes []issuance.Hash) issuance.Hash {
	root := MerkleRoot(hashes)

	var input [issuance.HashSize + 8]byte
	copy(input[:], root[:])
	binary.BigEndian.PutUint64(input[issuance.HashSize:], uint64(len(hashes)))

	hasher := newKeyedHasher(shardChecksumDomainKey)
	hasher.Write(input[:])
	var checksum issuance.Hash
	copy(checksum[:], hasher.Sum(nil))
	return checksum
}

// NewFileHasher returns a hasher for exported bundle files.
func NewFileHasher() hash.Hash {
	return newKeyedHasher(bundleFileDomainKey)
}

// SumHasher copies the digest of h into a Hash.
func SumHasher(h hash.Hash) issuance.Hash {
	var sum issuance.Hash
	copy(sum[:], h.Sum(nil))
	return sum
}

func newKeyedHasher(key domainKey) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("seal: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}
