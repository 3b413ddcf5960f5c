// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package github is a slim typed client for the GitHub REST API plus
// the polling state machine for pull request mergeability.
//
// GitHub computes a pull request's mergeable state asynchronously and
// reports "unknown" until the computation settles. [NextPollState] and
// [PollInterval] are the pure transition functions deciding when to
// refetch: a bounded fast-poll window opens on the first unknown
// observation, and the cadence falls back to the caller's default once
// the window or attempt budget is spent. [MergeableWatcher] drives
// those functions against the live API.
package github
