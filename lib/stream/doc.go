// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream delivers long-running operation results over
// server-sent events.
//
// A [Sink] frames progress, complete, and error events onto an SSE
// response. An [Operation] runs the work in its own goroutine, holds
// the single-writer ordering guarantee, and runs the configured
// cleanup exactly once on every exit path (success, failure, client
// disconnect). After a disconnect no further events are written; the
// terminal event a reader observes is always the first one sent.
package stream
