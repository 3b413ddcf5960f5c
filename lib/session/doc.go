// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package session defines the sandbox capability boundary.
//
// [Session] is the seam every other orchestration component depends
// on: command execution, file I/O, and lifecycle control against one
// remote sandbox, with no knowledge of which cloud backend provides
// it. [Provider] implementations supply sessions per backend, and
// [Chooser] resolves which provider serves a given user and size,
// caching per-user settings with a bounded TTL.
//
// [MemoryProvider] is a scriptable in-process implementation used by
// tests and local development.
package session
