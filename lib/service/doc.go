// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP server lifecycle used by the
// orchestrator binary: bind, signal readiness, serve, drain on
// context cancellation.
package service
