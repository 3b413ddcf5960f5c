// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package analysis implements the codebase analysis workload.
//
// An [Analyzer] produces the body/cleanup pair the stream package
// runs: resolve the user's credentials, acquire a sandbox through the
// lifecycle manager, inspect the checked-out repository with git
// commands, persist the [Result] through the injected [Store], and
// release the sandbox. Every step reports progress on the operation's
// sink.
package analysis
