// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon installs the in-sandbox daemon and its MCP bootstrap
// state.
//
// The daemon ("terry") is the background process that mediates command
// execution and tool invocation for the agent inside a sandbox. The
// [Installer] writes the daemon executable, the MCP stdio bridge, and
// a generated MCP manifest into the sandbox through the
// session capability, then starts the daemon detached with its
// environment block (GH_TOKEN, feature flags, caller variables)
// injected. It holds no per-sandbox state and is safe to re-run; a
// re-install overwrites the bootstrap files and starts a fresh daemon.
package daemon
