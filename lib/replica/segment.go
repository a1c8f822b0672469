// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replica

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bureau-foundation/stamp/lib/codec"
	"github.com/bureau-foundation/stamp/lib/compress"
)

// segmentMagic opens every segment file.
var segmentMagic = []byte("STAMPSEG\x00\x01")

// SegmentSink appends records to per-shard segment files under one
// directory.
type SegmentSink struct {
	dir string

	mu sync.Mutex
}

// NewSegmentSink creates dir if needed.
func NewSegmentSink(dir string) (*SegmentSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("replica: segment directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("replica: creating segment directory: %w", err)
	}
	return &SegmentSink{dir: dir}, nil
}

// Name implements Sink.
func (s *SegmentSink) Name() string { return "segment:" + s.dir }

// Path returns the segment file for shardID.
func (s *SegmentSink) Path(shardID string) string { return segmentPath(s.dir, shardID) }

// Write implements Sink. All records are written and fsynced before
// Write returns.
func (s *SegmentSink) Write(ctx context.Context, shardID string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return writeError(ctx, s.Name(), err)
	}

	// Encode outside the lock.
	var buffer bytes.Buffer
	for _, record := range records {
		data, err := codec.Marshal(record)
		if err != nil {
			return fmt.Errorf("replica: encoding %s: %w", record.ID, err)
		}
		if err := compress.WriteFrame(&buffer, data, compress.LZ4); err != nil {
			return fmt.Errorf("replica: framing %s: %w", record.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.Path(shardID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return writeError(ctx, s.Name(), err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return writeError(ctx, s.Name(), err)
	}
	if info.Size() == 0 {
		if _, err := file.Write(segmentMagic); err != nil {
			return writeError(ctx, s.Name(), err)
		}
	}
	if _, err := file.Write(buffer.Bytes()); err != nil {
		return writeError(ctx, s.Name(), err)
	}
	if err := file.Sync(); err != nil {
		return writeError(ctx, s.Name(), err)
	}
	return nil
}

// Close implements Sink.
func (s *SegmentSink) Close() error { return nil }

// ReadSegment reads every record from a segment file in write order,
// keeping only the first copy of each id. A torn final frame (a crash
// mid-write) ends the read without error.
func ReadSegment(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replica: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	magic := make([]byte, len(segmentMagic))
	if _, err := io.ReadFull(reader, magic); err != nil {
		return nil, fmt.Errorf("replica: reading segment header of %s: %w", path, err)
	}
	if !bytes.Equal(magic, segmentMagic) {
		return nil, fmt.Errorf("replica: %s is not a segment file", path)
	}

	frames := compress.NewFrameReader(reader)
	seen := make(map[string]bool)
	var records []Record
	for {
		data, err := frames.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("replica: reading %s: %w", path, err)
		}
		var record Record
		if err := codec.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("replica: decoding record in %s: %w", path, err)
		}
		if seen[record.ID] {
			continue
		}
		seen[record.ID] = true
		records = append(records, record)
	}
}
