// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache provides a small mutex-protected TTL cache.
//
// The cache is explicitly constructed and dependency-injected by
// whichever service composes the application; there are no package
// singletons. The provider chooser uses one to avoid re-resolving user
// settings on every sandbox acquisition.
package cache

import (
	"sync"
	"time"

	"github.com/terragon-labs/orchestra/lib/clock"
)

// Cache maps keys to values with a fixed time-to-live per entry.
// Expired entries are dropped lazily on access and by Prune. Safe for
// concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[K]entry[V]
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// New creates a cache whose entries live for ttl. A nil clk defaults
// to the real clock. Panics if ttl <= 0.
func New[K comparable, V any](ttl time.Duration, clk clock.Clock) *Cache[K, V] {
	if ttl <= 0 {
		panic("cache: non-positive ttl")
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache[K, V]{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the cached value for key and whether a live entry was
// found. An expired entry is removed and reported as absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock.Now().After(e.expires) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, replacing any existing entry and
// resetting its TTL.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{
		value:   value,
		expires: c.clock.Now().Add(c.ttl),
	}
}

// Delete removes the entry for key. No-op if absent.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
}

// Prune removes all expired entries and returns how many were dropped.
func (c *Cache[K, V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	dropped := 0
	for key, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of entries, including any not yet pruned
// expired ones.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
