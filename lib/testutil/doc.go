// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared by orchestra tests:
// channel operations with timeout safety valves so a broken test hangs
// for seconds instead of forever.
package testutil
