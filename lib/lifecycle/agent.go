// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import "fmt"

// Agent identifies which coding agent runs inside the sandbox.
type Agent string

const (
	AgentClaude Agent = "claude"
	AgentCodex  Agent = "codex"
	AgentGemini Agent = "gemini"
)

// Valid reports whether the agent is a recognized identity.
func (agent Agent) Valid() bool {
	switch agent {
	case AgentClaude, AgentCodex, AgentGemini:
		return true
	default:
		return false
	}
}

// PermissionMode is the agent's default tool-permission posture inside
// the sandbox.
type PermissionMode string

const (
	// PermissionAcceptEdits auto-approves file edits but prompts for
	// everything else.
	PermissionAcceptEdits PermissionMode = "acceptEdits"

	// PermissionBypass skips permission prompts entirely. Only safe
	// because the sandbox is the isolation boundary.
	PermissionBypass PermissionMode = "bypassPermissions"
)

// PermissionMode returns the default permission posture for the agent.
// The switch is exhaustive over valid agents; an unknown agent panics,
// which callers prevent by validating first.
func (agent Agent) PermissionMode() PermissionMode {
	switch agent {
	case AgentClaude:
		return PermissionBypass
	case AgentCodex:
		return PermissionAcceptEdits
	case AgentGemini:
		return PermissionAcceptEdits
	default:
		panic(fmt.Sprintf("lifecycle: unknown agent %q", agent))
	}
}
