// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/terragon-labs/orchestra/lib/clock"
	"github.com/terragon-labs/orchestra/lib/daemon"
	"github.com/terragon-labs/orchestra/lib/mcp"
	"github.com/terragon-labs/orchestra/lib/session"
	"github.com/terragon-labs/orchestra/lib/skills"
)

// readyProbeCommand is the trivial command executed through the
// session to confirm the sandbox accepts work.
const readyProbeCommand = "echo ready"

// maxShutdownRecords bounds the manager's shutdown-suppression map so
// a long-lived manager does not grow without limit. Evicting an old
// record can let a stale sandbox ID reach the session's Shutdown a
// second time, which the session tolerates.
const maxShutdownRecords = 1024

// Ref identifies a possibly-live sandbox across requests.
type Ref struct {
	SandboxID string `json:"sandboxId"`
	Provider  string `json:"provider"`
}

// SetupRunner executes the repository setup script inside a fresh
// sandbox. Implemented by an external collaborator; nil skips setup.
type SetupRunner interface {
	Run(ctx context.Context, sandboxSession session.Session) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Chooser resolves the provider for each request. Required.
	Chooser *session.Chooser

	// Installer bootstraps the daemon into fresh sandboxes. Required.
	Installer *daemon.Installer

	// Setup runs the repository setup script in fresh sandboxes.
	// Optional.
	Setup SetupRunner

	// Clock drives readiness polling. Defaults to clock.Real().
	Clock clock.Clock

	// ReadyTimeout bounds the wait for a fresh sandbox to accept
	// commands. Defaults to 2 minutes.
	ReadyTimeout time.Duration

	// ReadyPollInterval is the delay between readiness probes.
	// Defaults to 2 seconds.
	ReadyPollInterval time.Duration

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Manager owns sandbox acquisition and teardown. A session it returns
// is exclusively owned by the calling operation until handed back
// through Shutdown or Hibernate.
type Manager struct {
	chooser           *session.Chooser
	installer         *daemon.Installer
	setup             SetupRunner
	clock             clock.Clock
	readyTimeout      time.Duration
	readyPollInterval time.Duration
	logger            *slog.Logger

	// shutdown tracks sandbox IDs already shut down through this
	// manager, making Shutdown a no-op on repeat calls.
	mu       sync.Mutex
	shutdown map[string]struct{}
}

// NewManager creates a Manager from the given configuration.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Chooser == nil {
		return nil, fmt.Errorf("chooser is required")
	}
	if config.Installer == nil {
		return nil, fmt.Errorf("installer is required")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	readyTimeout := config.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 2 * time.Minute
	}
	readyPollInterval := config.ReadyPollInterval
	if readyPollInterval == 0 {
		readyPollInterval = 2 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		chooser:           config.Chooser,
		installer:         config.Installer,
		setup:             config.Setup,
		clock:             clk,
		readyTimeout:      readyTimeout,
		readyPollInterval: readyPollInterval,
		logger:            logger,
		shutdown:          make(map[string]struct{}),
	}, nil
}

// Options carries the inputs for acquiring one sandbox.
type Options struct {
	// ThreadName labels the sandbox for attribution.
	ThreadName string

	// UserID attributes the sandbox to a user and keys provider
	// settings resolution.
	UserID string

	// GitHubAccessToken is forwarded to the daemon as GH_TOKEN.
	GitHubAccessToken string

	// Repository is the "owner/name" repository to check out.
	Repository string

	// Branch is the branch to target. When CreateBranch is set and
	// Branch is empty, GenerateBranchName supplies the new name.
	Branch string

	// Size is the requested capacity class.
	Size session.Size

	// Agent identifies the coding agent this sandbox will run.
	Agent Agent

	// CreateBranch requests a fresh working branch.
	CreateBranch bool

	// EnvironmentVariables are forwarded to the daemon environment
	// (caller-supplied values win on collision).
	EnvironmentVariables map[string]string

	// AgentCredentials are forwarded to the daemon environment.
	AgentCredentials map[string]string

	// UserMCPConfig is the user's MCP server configuration.
	UserMCPConfig *mcp.UserConfig

	// Skills is the user's validated skills config.
	Skills skills.Config

	// SkipSetupScript bypasses the repository setup script.
	SkipSetupScript bool

	// PublicURL is the orchestrator's public callback URL.
	PublicURL string

	// FeatureFlags are forwarded to the daemon.
	FeatureFlags map[string]any

	// GenerateBranchName asynchronously produces a branch name when
	// CreateBranch is set and Branch is empty. Optional.
	GenerateBranchName func(ctx context.Context) (string, error)

	// OnStatus receives human-readable status updates during
	// acquisition. Failures are logged, never propagated. Optional.
	OnStatus func(ctx context.Context, status string) error
}

// GetOrCreateSandbox returns a live session for existingRef when the
// referenced sandbox still exists, or provisions a new sandbox:
// create, wait for readiness, install the daemon, run the setup
// script, return. A sandbox that fails mid-provisioning is shut down
// best-effort before the error is returned.
func (manager *Manager) GetOrCreateSandbox(ctx context.Context, existingRef *Ref, options Options) (session.Session, error) {
	if existingRef != nil {
		existing, err := manager.GetSandboxOrNull(ctx, *existingRef)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			manager.logger.Info("reusing sandbox",
				"sandbox_id", existing.SandboxID(),
				"provider", existing.Provider())
			return existing, nil
		}
	}

	if !options.Agent.Valid() {
		return nil, fmt.Errorf("invalid agent %q", options.Agent)
	}

	provider, err := manager.chooser.Choose(ctx, options.UserID, options.Size)
	if err != nil {
		return nil, fmt.Errorf("choosing provider: %w", err)
	}

	branch := options.Branch
	if options.CreateBranch && branch == "" && options.GenerateBranchName != nil {
		branch, err = options.GenerateBranchName(ctx)
		if err != nil {
			return nil, fmt.Errorf("generating branch name: %w", err)
		}
	}

	manager.status(ctx, options, "creating sandbox")
	created, err := provider.Create(ctx, session.CreateRequest{
		Name:       options.ThreadName,
		UserID:     options.UserID,
		Repository: options.Repository,
		Branch:     branch,
		Size:       options.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sandbox on %s: %w", provider.Name(), err)
	}

	if err := manager.provision(ctx, created, options); err != nil {
		// The sandbox exists but is not usable. Tear it down so the
		// provisioning error, not a leak, is what the caller sees.
		manager.Shutdown(context.WithoutCancel(ctx), created)
		return nil, err
	}

	manager.status(ctx, options, "sandbox ready")
	return created, nil
}

// provision drives a fresh sandbox from created to ready.
func (manager *Manager) provision(ctx context.Context, created session.Session, options Options) error {
	manager.status(ctx, options, "waiting for sandbox readiness")
	if err := manager.waitUntilReady(ctx, created); err != nil {
		return fmt.Errorf("waiting for sandbox %s readiness: %w", created.SandboxID(), err)
	}

	manager.status(ctx, options, "installing daemon")
	err := manager.installer.Install(ctx, created, daemon.InstallOptions{
		EnvironmentVariables: options.EnvironmentVariables,
		AgentCredentials:     options.AgentCredentials,
		GitHubAccessToken:    options.GitHubAccessToken,
		Agent:                string(options.Agent),
		PermissionMode:       string(options.Agent.PermissionMode()),
		UserMCPConfig:        options.UserMCPConfig,
		Skills:               options.Skills,
		PublicURL:            options.PublicURL,
		FeatureFlags:         options.FeatureFlags,
	})
	if err != nil {
		return fmt.Errorf("installing daemon in sandbox %s: %w", created.SandboxID(), err)
	}

	if manager.setup != nil && !options.SkipSetupScript {
		manager.status(ctx, options, "running setup script")
		if err := manager.setup.Run(ctx, created); err != nil {
			return fmt.Errorf("running setup script in sandbox %s: %w", created.SandboxID(), err)
		}
	}
	return nil
}

// waitUntilReady polls the readiness probe until it succeeds or the
// configured timeout elapses.
func (manager *Manager) waitUntilReady(ctx context.Context, sandboxSession session.Session) error {
	deadline := manager.clock.Now().Add(manager.readyTimeout)

	var lastErr error
	for {
		output, err := sandboxSession.RunCommand(ctx, readyProbeCommand, session.RunOptions{
			Timeout: 10 * time.Second,
		})
		if err == nil && strings.Contains(output, "ready") {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		if !manager.clock.Now().Before(deadline) {
			if lastErr != nil {
				return fmt.Errorf("not ready after %v: %w", manager.readyTimeout, lastErr)
			}
			return fmt.Errorf("not ready after %v", manager.readyTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-manager.clock.After(manager.readyPollInterval):
		}
	}
}

// GetSandboxOrNull returns a session for ref, or nil when the sandbox
// no longer exists. Unknown providers and expired sandboxes both
// report nil rather than an error.
func (manager *Manager) GetSandboxOrNull(ctx context.Context, ref Ref) (session.Session, error) {
	provider, err := manager.chooser.Lookup(ref.Provider)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	found, err := provider.Get(ctx, ref.SandboxID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up sandbox %s: %w", ref.SandboxID, err)
	}
	return found, nil
}

// Hibernate suspends the sandbox for later resumption under the same
// ref.
func (manager *Manager) Hibernate(ctx context.Context, sandboxSession session.Session) error {
	if err := sandboxSession.Hibernate(ctx); err != nil {
		return fmt.Errorf("hibernating sandbox %s: %w", sandboxSession.SandboxID(), err)
	}
	return nil
}

// ExtendLife refreshes the provider's idle-activity marker so the
// sandbox is not reaped while a long operation is still using it.
func (manager *Manager) ExtendLife(ctx context.Context, sandboxSession session.Session) error {
	marker := path.Join(sandboxSession.HomeDir(), daemon.InstallDirName, "last-activity")
	command := shellquote.Join("touch", marker)
	if _, err := sandboxSession.RunCommand(ctx, command, session.RunOptions{Timeout: 10 * time.Second}); err != nil {
		return fmt.Errorf("extending sandbox %s life: %w", sandboxSession.SandboxID(), err)
	}
	return nil
}

// Shutdown stops the sandbox. Safe to call multiple times for the
// same sandbox: repeat calls are no-ops. Failures are logged, never
// returned, so a cleanup call in an error path cannot mask the
// original error being propagated.
func (manager *Manager) Shutdown(ctx context.Context, sandboxSession session.Session) {
	sandboxID := sandboxSession.SandboxID()
	manager.mu.Lock()
	if _, done := manager.shutdown[sandboxID]; done {
		manager.mu.Unlock()
		return
	}
	manager.shutdown[sandboxID] = struct{}{}
	for key := range manager.shutdown {
		if len(manager.shutdown) <= maxShutdownRecords {
			break
		}
		if key == sandboxID {
			continue
		}
		delete(manager.shutdown, key)
	}
	manager.mu.Unlock()

	if err := sandboxSession.Shutdown(ctx); err != nil {
		manager.logger.Error("sandbox shutdown failed",
			"sandbox_id", sandboxSession.SandboxID(),
			"provider", sandboxSession.Provider(),
			"error", err)
		return
	}
	manager.logger.Info("sandbox shut down", "sandbox_id", sandboxSession.SandboxID())
}

// status delivers a status update to the caller's callback.
// Best-effort: callback failures are logged and ignored.
func (manager *Manager) status(ctx context.Context, options Options, message string) {
	if options.OnStatus == nil {
		return
	}
	if err := options.OnStatus(ctx, message); err != nil {
		manager.logger.Warn("status callback failed", "status", message, "error", err)
	}
}
