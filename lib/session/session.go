// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"time"
)

// Session is the capability handle for one live sandbox. It exposes
// exactly the operations the orchestration core needs: command
// execution, text file I/O, and lifecycle control. Implementations
// exist per provider (container-backed, VM-backed, in-memory fake).
//
// A Session is exclusively owned by the single logical operation that
// created or acquired it. It must not be shared across concurrent
// operations without explicit handoff.
type Session interface {
	// SandboxID returns the provider-assigned unique identifier.
	SandboxID() string

	// Provider returns the name of the provider that owns the sandbox.
	Provider() string

	// RepoDir returns the absolute path of the checked-out repository
	// inside the sandbox.
	RepoDir() string

	// HomeDir returns the absolute home directory path inside the
	// sandbox.
	HomeDir() string

	// RunCommand executes a shell command synchronously and returns
	// its stdout. The command is subject to options.Timeout when set.
	RunCommand(ctx context.Context, command string, options RunOptions) (string, error)

	// RunBackgroundCommand starts a shell command detached from the
	// calling operation, with options.Env injected into its
	// environment. It returns once the process has been started.
	RunBackgroundCommand(ctx context.Context, command string, options BackgroundOptions) error

	// ReadTextFile returns the contents of a text file in the sandbox.
	ReadTextFile(ctx context.Context, path string) (string, error)

	// WriteTextFile writes content to a text file in the sandbox,
	// creating parent directories as needed.
	WriteTextFile(ctx context.Context, path string, content string) error

	// Shutdown permanently stops the sandbox. Safe to call multiple
	// times; calls after the first are no-ops.
	Shutdown(ctx context.Context) error

	// Hibernate suspends the sandbox so it can be resumed later under
	// the same identifier.
	Hibernate(ctx context.Context) error
}

// RunOptions controls synchronous command execution.
type RunOptions struct {
	// Timeout bounds the command's execution time. Zero means the
	// provider's default.
	Timeout time.Duration
}

// BackgroundOptions controls detached command execution.
type BackgroundOptions struct {
	// Env is merged into the process environment.
	Env map[string]string
}

// Size is the requested sandbox capacity class.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// Valid reports whether the size is a recognized capacity class.
func (size Size) Valid() bool {
	switch size {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	default:
		return false
	}
}
