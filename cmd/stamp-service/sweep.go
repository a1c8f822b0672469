// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"
)

// runSweeps seals elapsed buckets and retries failed finalizations on
// every tick until ctx is done. Sweep errors are logged; the next tick
// tries again.
func (s *StampService) runSweeps(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.shards.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("seal sweep failed", "error", err)
			}
		}
	}
}
