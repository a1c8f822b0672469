// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by stamp.
//
// Issuance timestamps, day and hour buckets, shard time-boundary sealing,
// and expiry checks all read time through a Clock. Production wiring uses
// Real(); tests use Fake() and move time explicitly with Advance, so a
// test can cross an hourly shard boundary or an expiry instant without
// sleeping.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 9, 59, 0, 0, time.UTC))
//	manager := shard.NewManager(shard.Config{Clock: c, ...})
//	c.Advance(2 * time.Minute) // the 09:00 bucket has now elapsed
//
// Tickers created from a FakeClock fire during Advance. WaitForTickers
// blocks until a goroutine has registered its ticker, which removes the
// race between a background loop starting and the test advancing time.
package clock
