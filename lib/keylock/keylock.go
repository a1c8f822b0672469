// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keylock provides per-key mutual exclusion whose waits honour
// a context. Allocation and shard append use it to keep a single
// writer per time bucket without a global lock.
package keylock

import (
	"context"
	"sync"
)

// Map holds one lock per key. The zero value is ready to use. Keys
// are never evicted; callers use it for small, slowly growing key
// sets such as time buckets.
type Map struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// Lock acquires the lock for key, waiting until it is free or ctx is
// done. On success the returned function releases the lock.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	slot := m.slot(key)
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the lock for key only if it is free.
func (m *Map) TryLock(key string) (func(), bool) {
	slot := m.slot(key)
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, true
	default:
		return nil, false
	}
}

func (m *Map) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slots == nil {
		m.slots = make(map[string]chan struct{})
	}
	slot, ok := m.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		m.slots[key] = slot
	}
	return slot
}
