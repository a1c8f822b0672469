// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shard

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/stamp/lib/codec"
	"github.com/bureau-foundation/stamp/lib/compress"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/seal"
	"github.com/bureau-foundation/stamp/lib/sealed"
	"github.com/bureau-foundation/stamp/lib/secret"
)

// bundleMagic opens the plaintext of every bundle file.
var bundleMagic = []byte("STAMPBDL\x00\x01")

// ageMagic is the first line of an age-encrypted file.
var ageMagic = []byte("age-encryption.org/v1")

// bundleHeader is the first frame of a bundle.
type bundleHeader struct {
	ShardID       string        `cbor:"shard_id"`
	Bucket        string        `cbor:"bucket"`
	ArtifactCount int           `cbor:"artifact_count"`
	ByteSize      int64         `cbor:"byte_size"`
	Checksum      issuance.Hash `cbor:"checksum"`
	SealedAt      time.Time     `cbor:"sealed_at"`
	Compression   string        `cbor:"compression"`
}

// ExportOptions controls one export.
type ExportOptions struct {
	// Compression applies to each artifact frame.
	Compression compress.Tag

	// Recipients are age public keys. When non-empty the bundle is
	// encrypted to all of them.
	Recipients []string

	// Dir overrides the manager's export directory.
	Dir string
}

// Export writes a SEALED shard to <dir>/<shard_id>.bundle and returns
// its description. The shard's contents are re-read and their checksum
// recomputed; a mismatch with the sealed checksum fails the export.
// Shards that are not SEALED wrap ErrNotSealed.
func (m *Manager) Export(ctx context.Context, shardID string, options ExportOptions) (issuance.Bundle, error) {
	dir := options.Dir
	if dir == "" {
		dir = m.exportDir
	}
	if dir == "" {
		return issuance.Bundle{}, fmt.Errorf("shard: no export directory configured")
	}

	conn, err := m.pool.Take(ctx)
	if err != nil {
		return issuance.Bundle{}, storageError(ctx, "export", err)
	}
	defer m.pool.Put(conn)

	shard, found, err := loadShard(conn, shardID)
	if err != nil {
		return issuance.Bundle{}, storageError(ctx, "export", err)
	}
	if !found {
		return issuance.Bundle{}, fmt.Errorf("shard %s: %w", shardID, ErrShardNotFound)
	}
	if shard.State != issuance.ShardSealed {
		return issuance.Bundle{}, fmt.Errorf("shard %s is %s: %w", shardID, shard.State, ErrNotSealed)
	}

	records, err := m.shardRecords(conn, shard)
	if err != nil {
		return issuance.Bundle{}, storageError(ctx, "export", err)
	}
	if err := verifyRecords(shard.ShardID, records, shard.ArtifactCount, shard.Checksum); err != nil {
		return issuance.Bundle{}, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return issuance.Bundle{}, fmt.Errorf("shard: creating export directory: %w", err)
	}
	bundle := issuance.Bundle{
		ShardID:       shard.ShardID,
		Bucket:        shard.Bucket,
		ArtifactCount: shard.ArtifactCount,
		ByteSize:      shard.ByteSize,
		Checksum:      shard.Checksum,
		SealedAt:      shard.SealedAt,
		Path:          filepath.Join(dir, shard.ShardID+".bundle"),
		Compression:   options.Compression.String(),
		Encrypted:     len(options.Recipients) > 0,
	}
	fileHash, err := writeBundle(bundle.Path, bundle, records, options)
	if err != nil {
		return issuance.Bundle{}, fmt.Errorf("shard: exporting %s: %w", shardID, err)
	}
	bundle.FileHash = fileHash

	m.logger.Info("shard exported",
		"shard_id", shard.ShardID,
		"path", bundle.Path,
		"artifact_count", bundle.ArtifactCount,
		"compression", bundle.Compression,
		"encrypted", bundle.Encrypted,
	)
	return bundle, nil
}

// shardRecords returns a shard's stored records in position order.
func (m *Manager) shardRecords(conn *sqlite.Conn, shard issuance.Shard) ([][]byte, error) {
	day := bucketDay(shard.Bucket)
	if !m.partitionExists(day) {
		return nil, nil
	}
	var records [][]byte
	err := sqlitex.Execute(conn,
		"SELECT record FROM "+partitionTable(day)+" WHERE shard_id = ? ORDER BY position",
		&sqlitex.ExecOptions{
			Args: []any{shard.ShardID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, record)
				records = append(records, record)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("reading records of %s: %w", shard.ShardID, err)
	}
	return records, nil
}

// verifyRecords decodes records and checks their count and checksum.
func verifyRecords(shardID string, records [][]byte, count int, checksum issuance.Hash) error {
	if len(records) != count {
		return fmt.Errorf("shard %s: %d records, expected %d", shardID, len(records), count)
	}
	hashes := make([]issuance.Hash, len(records))
	for i, record := range records {
		var artifact issuance.Artifact
		if err := codec.Unmarshal(record, &artifact); err != nil {
			return fmt.Errorf("shard %s: decoding record %d: %w", shardID, i, err)
		}
		hashes[i] = artifact.PayloadHash
	}
	if !seal.Equal(seal.ShardChecksum(hashes), checksum) {
		return fmt.Errorf("shard %s: recomputed checksum does not match sealed checksum", shardID)
	}
	return nil
}

// writeBundle writes the bundle file atomically and returns the hash
// of the bytes written.
func writeBundle(path string, bundle issuance.Bundle, records [][]byte, options ExportOptions) (hash issuance.Hash, err error) {
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return hash, err
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(file.Name())
		}
	}()

	hasher := seal.NewFileHasher()
	var output io.Writer = io.MultiWriter(file, hasher)
	var encryptor io.WriteCloser
	if len(options.Recipients) > 0 {
		encryptor, err = sealed.EncryptWriter(output, options.Recipients)
		if err != nil {
			return hash, err
		}
		output = encryptor
	}
	buffered := bufio.NewWriter(output)

	header, err := codec.Marshal(bundleHeader{
		ShardID:       bundle.ShardID,
		Bucket:        bundle.Bucket,
		ArtifactCount: bundle.ArtifactCount,
		ByteSize:      bundle.ByteSize,
		Checksum:      bundle.Checksum,
		SealedAt:      bundle.SealedAt,
		Compression:   bundle.Compression,
	})
	if err != nil {
		return hash, err
	}
	if _, err = buffered.Write(bundleMagic); err != nil {
		return hash, err
	}
	if err = compress.WriteFrame(buffered, header, compress.None); err != nil {
		return hash, err
	}
	for _, record := range records {
		if err = compress.WriteFrame(buffered, record, options.Compression); err != nil {
			return hash, err
		}
	}
	if err = buffered.Flush(); err != nil {
		return hash, err
	}
	if encryptor != nil {
		if err = encryptor.Close(); err != nil {
			return hash, err
		}
	}
	if err = file.Sync(); err != nil {
		return hash, err
	}
	if err = file.Close(); err != nil {
		return hash, err
	}
	if err = os.Rename(file.Name(), path); err != nil {
		return hash, err
	}
	return seal.SumHasher(hasher), nil
}

// ReadBundle reads and verifies a bundle file, returning its
// description and artifacts in position order. privateKey is required
// for encrypted bundles and ignored otherwise.
func ReadBundle(path string, privateKey *secret.Buffer) (issuance.Bundle, []issuance.Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return issuance.Bundle{}, nil, fmt.Errorf("shard: %w", err)
	}
	defer file.Close()

	hasher := seal.NewFileHasher()
	raw := io.TeeReader(file, hasher)
	buffered := bufio.NewReader(raw)

	encrypted := false
	if prefix, _ := buffered.Peek(len(ageMagic)); bytes.Equal(prefix, ageMagic) {
		encrypted = true
	}
	var plaintext io.Reader = buffered
	if encrypted {
		if privateKey == nil {
			return issuance.Bundle{}, nil, fmt.Errorf("shard: %s is encrypted and no private key was given", path)
		}
		plaintext, err = sealed.DecryptReader(buffered, privateKey)
		if err != nil {
			return issuance.Bundle{}, nil, fmt.Errorf("shard: %s: %w", path, err)
		}
	}

	plainBuffered := bufio.NewReader(plaintext)
	magic := make([]byte, len(bundleMagic))
	if _, err := io.ReadFull(plainBuffered, magic); err != nil || !bytes.Equal(magic, bundleMagic) {
		return issuance.Bundle{}, nil, fmt.Errorf("shard: %s is not a bundle file", path)
	}

	frames := compress.NewFrameReader(plainBuffered)
	headerData, err := frames.Next()
	if err != nil {
		return issuance.Bundle{}, nil, fmt.Errorf("shard: reading bundle header: %w", err)
	}
	var header bundleHeader
	if err := codec.Unmarshal(headerData, &header); err != nil {
		return issuance.Bundle{}, nil, fmt.Errorf("shard: decoding bundle header: %w", err)
	}

	var (
		records   [][]byte
		artifacts []issuance.Artifact
	)
	for {
		record, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return issuance.Bundle{}, nil, fmt.Errorf("shard: reading bundle record %d: %w", len(records), err)
		}
		var artifact issuance.Artifact
		if err := codec.Unmarshal(record, &artifact); err != nil {
			return issuance.Bundle{}, nil, fmt.Errorf("shard: decoding bundle record %d: %w", len(records), err)
		}
		records = append(records, record)
		artifacts = append(artifacts, artifact)
	}
	if err := verifyRecords(header.ShardID, records, header.ArtifactCount, header.Checksum); err != nil {
		return issuance.Bundle{}, nil, err
	}

	// Hash any trailing bytes the readers did not consume.
	if _, err := io.Copy(io.Discard, raw); err != nil {
		return issuance.Bundle{}, nil, fmt.Errorf("shard: %w", err)
	}

	return issuance.Bundle{
		ShardID:       header.ShardID,
		Bucket:        header.Bucket,
		ArtifactCount: header.ArtifactCount,
		ByteSize:      header.ByteSize,
		Checksum:      header.Checksum,
		SealedAt:      header.SealedAt,
		Path:          path,
		Compression:   header.Compression,
		Encrypted:     encrypted,
		FileHash:      seal.SumHasher(hasher),
	}, artifacts, nil
}
