// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle manages sandbox acquisition and teardown.
//
// The [Manager] implements the get-or-create protocol: reuse a still-
// live sandbox when the caller holds a [Ref], otherwise provision a
// fresh one through the chosen provider, wait for its readiness probe,
// bootstrap the daemon, and run the repository setup script. Shutdown
// is idempotent and never returns an error, so callers can invoke it
// unconditionally on every exit path without masking the failure they
// are actually reporting.
package lifecycle
