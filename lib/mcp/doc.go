// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp builds the Model Context Protocol server manifest the
// daemon reads at startup.
//
// The manifest maps server keys to connection descriptors (stdio
// command or HTTP/SSE endpoint). Users may contribute their own
// servers through settings, but the built-in control-plane entry under
// [BuiltinKey] always resolves to the system-defined descriptor;
// [BuildManifest] guarantees this even against adversarial input.
package mcp
