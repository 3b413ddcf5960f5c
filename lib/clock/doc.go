// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source with real and fake
// implementations. The fake clock advances only under test control,
// which keeps readiness waits, TTL expiry, and polling cadence tests
// deterministic.
package clock
