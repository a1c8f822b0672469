// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/bureau-foundation/stamp/lib/config"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

// Record is one replicated artifact.
type Record struct {
	ID       string `cbor:"id"`
	Position int    `cbor:"position"`

	// Data is the CBOR encoding of the issuance.Artifact.
	Data []byte `cbor:"data"`
}

// Sink is a replica destination.
type Sink interface {
	// Name identifies the destination in logs and status output.
	Name() string

	// Write durably stores records for shardID. It returns only after
	// the destination has acknowledged every record.
	Write(ctx context.Context, shardID string, records []Record) error

	Close() error
}

// Open connects every destination in cfg. On failure, sinks opened so
// far are closed.
func Open(ctx context.Context, cfg config.ReplicationConfig, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var sinks []Sink
	fail := func(err error) ([]Sink, error) {
		CloseAll(sinks)
		return nil, err
	}

	for _, dir := range cfg.SegmentDirs {
		sink, err := NewSegmentSink(dir)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink)
	}
	for _, addr := range cfg.RedisAddrs {
		sink, err := NewRedisSink(ctx, addr)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink)
	}
	for _, dsn := range cfg.PostgresDSNs {
		sink, err := NewPostgresSink(ctx, dsn)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink)
	}

	for _, sink := range sinks {
		logger.Info("replica destination ready", "destination", sink.Name())
	}
	return sinks, nil
}

// CloseAll closes every sink and joins the errors.
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// writeError classifies a destination failure for the caller. A
// deadline is a timeout; anything else is an unavailable store.
func writeError(ctx context.Context, name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("replica %s: %w: %w", name, issuance.ErrTimeout, err)
	}
	return fmt.Errorf("replica %s: %w: %w", name, issuance.ErrStorageUnavailable, err)
}

// segmentPath returns the segment file for shardID under dir.
func segmentPath(dir, shardID string) string {
	return filepath.Join(dir, shardID+".seg")
}
