// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress frames and compresses the record blocks written to
// shard export bundles and replica segment files.
//
// A frame is self-describing: one tag byte, the uncompressed length
// and the stored length as uvarints, then the stored bytes. When a
// block does not shrink under the requested algorithm it is stored
// with [None] so readers never need to know what the writer asked
// for.
package compress

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression algorithm of a frame. Tag values are
// written to disk and must not change.
type Tag uint8

const (
	None Tag = 0
	LZ4  Tag = 1
	Zstd Tag = 2
)

// MaxFrameSize bounds the uncompressed size of a single frame. Readers
// reject frames that claim more.
const MaxFrameSize = 64 << 20

// String returns the configuration name of the tag.
func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseTag parses a configuration name ("none", "lz4", "zstd").
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

// Compress compresses data with the given algorithm. The returned tag
// is None when the algorithm did not reduce the size.
func Compress(data []byte, tag Tag) ([]byte, Tag, error) {
	var (
		compressed []byte
		err        error
	)
	switch tag {
	case None:
		return data, None, nil
	case LZ4:
		compressed, err = compressLZ4(data)
	case Zstd:
		compressed, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("unsupported compression tag: %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		return data, None, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, tag, nil
}

// Decompress reverses Compress. The output must be exactly
// uncompressedSize bytes.
func Decompress(stored []byte, tag Tag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case None:
		if len(stored) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed frame: size %d does not match expected %d",
				len(stored), uncompressedSize)
		}
		return stored, nil
	case LZ4:
		return decompressLZ4(stored, uncompressedSize)
	case Zstd:
		return decompressZstd(stored, uncompressedSize)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// WriteFrame compresses data and writes one frame to w.
func WriteFrame(w io.Writer, data []byte, tag Tag) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit %d", len(data), MaxFrameSize)
	}
	stored, actual, err := Compress(data, tag)
	if err != nil {
		return err
	}

	header := make([]byte, 1+2*binary.MaxVarintLen64)
	header[0] = byte(actual)
	n := 1
	n += binary.PutUvarint(header[n:], uint64(len(data)))
	n += binary.PutUvarint(header[n:], uint64(len(stored)))
	if _, err := w.Write(header[:n]); err != nil {
		return err
	}
	_, err = w.Write(stored)
	return err
}

// FrameReader reads frames written by WriteFrame.
type FrameReader struct {
	reader *bufio.Reader
}

// NewFrameReader wraps r. If r is already a *bufio.Reader it is used
// directly.
func NewFrameReader(r io.Reader) *FrameReader {
	buffered, ok := r.(*bufio.Reader)
	if !ok {
		buffered = bufio.NewReader(r)
	}
	return &FrameReader{reader: buffered}
}

// Next returns the decompressed contents of the next frame. It returns
// io.EOF at a clean frame boundary and io.ErrUnexpectedEOF when the
// input ends inside a frame.
func (f *FrameReader) Next() ([]byte, error) {
	tagByte, err := f.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	rawSize, err := binary.ReadUvarint(f.reader)
	if err != nil {
		return nil, unexpected(err)
	}
	storedSize, err := binary.ReadUvarint(f.reader)
	if err != nil {
		return nil, unexpected(err)
	}
	if rawSize > MaxFrameSize || storedSize > MaxFrameSize+MaxFrameSize/16 {
		return nil, fmt.Errorf("frame sizes %d/%d exceed limit %d", rawSize, storedSize, MaxFrameSize)
	}

	stored := make([]byte, storedSize)
	if _, err := io.ReadFull(f.reader, stored); err != nil {
		return nil, unexpected(err)
	}
	return Decompress(stored, Tag(tagByte), int(rawSize))
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// The zstd encoder and decoder are safe for concurrent EncodeAll and
// DecodeAll calls.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
