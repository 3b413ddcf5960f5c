// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"testing"
	"time"

	"github.com/terragon-labs/orchestra/lib/clock"
)

func TestGetPut(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	c := New[string, int](time.Minute, fake)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("Get on empty cache returned a value")
	}

	c.Put("a", 1)
	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", got, ok)
	}
}

func TestExpiry(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	c := New[string, string](time.Minute, fake)

	c.Put("k", "v")
	fake.SetNow(time.Unix(0, 0).Add(time.Minute + time.Second))

	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry still returned")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not removed on access, Len = %d", c.Len())
	}
}

func TestPutResetsTTL(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	c := New[string, int](time.Minute, fake)

	c.Put("k", 1)
	fake.SetNow(time.Unix(30, 0))
	c.Put("k", 2)
	fake.SetNow(time.Unix(80, 0)) // past the original deadline, inside the new one

	got, ok := c.Get("k")
	if !ok || got != 2 {
		t.Fatalf("Get(k) = %d, %v; want 2, true", got, ok)
	}
}

func TestPruneAndClear(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	c := New[int, int](time.Minute, fake)

	c.Put(1, 1)
	c.Put(2, 2)
	fake.SetNow(time.Unix(0, 0).Add(2 * time.Minute))
	c.Put(3, 3)

	if dropped := c.Prune(); dropped != 2 {
		t.Fatalf("Prune dropped %d entries, want 2", dropped)
	}
	if c.Len() != 1 {
		t.Fatalf("Len after Prune = %d, want 1", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", c.Len())
	}
}
