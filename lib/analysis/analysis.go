// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/terragon-labs/orchestra/lib/lifecycle"
	"github.com/terragon-labs/orchestra/lib/mcp"
	"github.com/terragon-labs/orchestra/lib/session"
	"github.com/terragon-labs/orchestra/lib/skills"
	"github.com/terragon-labs/orchestra/lib/stream"
)

// commandTimeout bounds each repository inspection command.
const commandTimeout = 60 * time.Second

// Result is the outcome of one codebase analysis.
type Result struct {
	Repository string         `json:"repository"`
	Branch     string         `json:"branch,omitempty"`
	CommitSHA  string         `json:"commitSha"`
	FileCount  int            `json:"fileCount"`
	TotalLines int            `json:"totalLines"`
	Languages  map[string]int `json:"languages"`
}

// Store persists analysis results. Implementations decide where:
// database, object storage, or nowhere (tests).
type Store interface {
	SaveResult(ctx context.Context, userID string, result *Result) error
}

// Credentials carries the secrets a sandbox needs for one user.
type Credentials struct {
	GitHubAccessToken string
	AgentCredentials  map[string]string
}

// CredentialSource resolves per-user credentials at operation start.
type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (Credentials, error)
}

// Config configures an Analyzer.
type Config struct {
	// Manager acquires and releases sandboxes. Required.
	Manager *lifecycle.Manager

	// Credentials resolves per-user secrets. Required.
	Credentials CredentialSource

	// Store persists results. Optional; nil skips persistence.
	Store Store

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Analyzer runs the codebase analysis workload: resolve credentials,
// acquire a sandbox, inspect the checked-out repository, persist the
// result, tear down.
type Analyzer struct {
	manager     *lifecycle.Manager
	credentials CredentialSource
	store       Store
	logger      *slog.Logger
}

// NewAnalyzer creates an Analyzer from the given configuration.
func NewAnalyzer(config Config) (*Analyzer, error) {
	if config.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if config.Credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		manager:     config.Manager,
		credentials: config.Credentials,
		store:       config.Store,
		logger:      logger,
	}, nil
}

// Request describes one analysis operation.
type Request struct {
	UserID     string
	Repository string
	Branch     string
	Size       session.Size
	Agent      lifecycle.Agent

	// ExistingRef reuses a live sandbox when set.
	ExistingRef *lifecycle.Ref

	// UserMCPConfig and Skills configure the daemon installed into a
	// fresh sandbox.
	UserMCPConfig *mcp.UserConfig
	Skills        skills.Config

	// PublicURL is the orchestrator's callback URL handed to the
	// daemon.
	PublicURL string
}

// Operation returns the streamable body for request plus the cleanup
// releasing whatever sandbox the body acquired. Cleanup is safe to
// call at any point, including before a sandbox exists and after the
// body already finished; the manager's idempotent shutdown guarantees
// the sandbox is released exactly once.
func (analyzer *Analyzer) Operation(request Request) (stream.Body, func(ctx context.Context)) {
	var mu sync.Mutex
	var acquired session.Session

	body := func(ctx context.Context, sink *stream.Sink) (any, error) {
		sink.SendProgress("credentials", "resolving credentials")
		credentials, err := analyzer.credentials.Credentials(ctx, request.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolving credentials for %s: %w", request.UserID, err)
		}

		sink.SendProgress("sandbox", "acquiring sandbox")
		sandboxSession, err := analyzer.manager.GetOrCreateSandbox(ctx, request.ExistingRef, lifecycle.Options{
			ThreadName:        "analysis: " + request.Repository,
			UserID:            request.UserID,
			GitHubAccessToken: credentials.GitHubAccessToken,
			AgentCredentials:  credentials.AgentCredentials,
			Repository:        request.Repository,
			Branch:            request.Branch,
			Size:              request.Size,
			Agent:             request.Agent,
			UserMCPConfig:     request.UserMCPConfig,
			Skills:            request.Skills,
			PublicURL:         request.PublicURL,
			OnStatus: func(ctx context.Context, status string) error {
				sink.SendProgress("sandbox", status)
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
		mu.Lock()
		acquired = sandboxSession
		mu.Unlock()

		sink.SendProgress("inspect", "inspecting repository")
		result, err := analyzer.inspect(ctx, sandboxSession, request)
		if err != nil {
			return nil, err
		}

		if analyzer.store != nil {
			sink.SendProgress("persist", "persisting result")
			if err := analyzer.store.SaveResult(ctx, request.UserID, result); err != nil {
				return nil, fmt.Errorf("persisting analysis result: %w", err)
			}
		}
		return result, nil
	}

	cleanup := func(ctx context.Context) {
		mu.Lock()
		sandboxSession := acquired
		mu.Unlock()
		if sandboxSession != nil {
			analyzer.manager.Shutdown(ctx, sandboxSession)
		}
	}
	return body, cleanup
}

// inspect runs the repository inspection commands inside the sandbox
// and assembles the result.
func (analyzer *Analyzer) inspect(ctx context.Context, sandboxSession session.Session, request Request) (*Result, error) {
	repoDir := sandboxSession.RepoDir()

	commit, err := analyzer.run(ctx, sandboxSession, shellquote.Join("git", "-C", repoDir, "rev-parse", "HEAD"))
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD commit: %w", err)
	}

	fileList, err := analyzer.run(ctx, sandboxSession, shellquote.Join("git", "-C", repoDir, "ls-files"))
	if err != nil {
		return nil, fmt.Errorf("listing repository files: %w", err)
	}

	lineCount, err := analyzer.run(ctx, sandboxSession,
		fmt.Sprintf("git -C %s ls-files -z | xargs -0 cat | wc -l", shellquote.Join(repoDir)))
	if err != nil {
		return nil, fmt.Errorf("counting repository lines: %w", err)
	}
	totalLines, err := strconv.Atoi(strings.TrimSpace(lineCount))
	if err != nil {
		return nil, fmt.Errorf("parsing line count %q: %w", strings.TrimSpace(lineCount), err)
	}

	result := &Result{
		Repository: request.Repository,
		Branch:     request.Branch,
		CommitSHA:  strings.TrimSpace(commit),
		TotalLines: totalLines,
		Languages:  make(map[string]int),
	}
	for _, file := range strings.Split(strings.TrimSpace(fileList), "\n") {
		if file == "" {
			continue
		}
		result.FileCount++
		extension := strings.TrimPrefix(path.Ext(file), ".")
		if extension == "" {
			extension = "none"
		}
		result.Languages[extension]++
	}
	return result, nil
}

func (analyzer *Analyzer) run(ctx context.Context, sandboxSession session.Session, command string) (string, error) {
	return sandboxSession.RunCommand(ctx, command, session.RunOptions{Timeout: commandTimeout})
}
