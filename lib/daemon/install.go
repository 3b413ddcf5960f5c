// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/kballard/go-shellquote"

	"github.com/terragon-labs/orchestra/lib/mcp"
	"github.com/terragon-labs/orchestra/lib/session"
	"github.com/terragon-labs/orchestra/lib/skills"
)

// Bootstrap file names, fixed for interop with the daemon's own
// expectations. All three live under InstallDirName in the sandbox
// home directory.
const (
	// InstallDirName is the directory under the sandbox home that
	// holds the daemon bootstrap files.
	InstallDirName = ".terragon"

	// DaemonFileName is the daemon executable.
	DaemonFileName = "terry"

	// BridgeFileName is the MCP stdio bridge executable.
	BridgeFileName = "terry-mcp-bridge"

	// ManifestFileName is the generated MCP server manifest.
	ManifestFileName = "mcp.json"

	// SkillsFileName is the available-skills manifest generated from
	// the user's validated skills config.
	SkillsFileName = "skills.json"
)

// bashMaxTimeoutMS is the upper bound the daemon enforces on a single
// shell command, in milliseconds.
const bashMaxTimeoutMS = "2400000"

// DaemonPath returns the absolute daemon executable path for a
// sandbox home directory.
func DaemonPath(homeDir string) string {
	return path.Join(homeDir, InstallDirName, DaemonFileName)
}

// BridgePath returns the absolute MCP bridge executable path.
func BridgePath(homeDir string) string {
	return path.Join(homeDir, InstallDirName, BridgeFileName)
}

// ManifestPath returns the absolute MCP manifest path.
func ManifestPath(homeDir string) string {
	return path.Join(homeDir, InstallDirName, ManifestFileName)
}

// SkillsPath returns the absolute skills manifest path.
func SkillsPath(homeDir string) string {
	return path.Join(homeDir, InstallDirName, SkillsFileName)
}

// InstallerConfig configures an Installer.
type InstallerConfig struct {
	// DaemonPayload is the content of the daemon executable written
	// into every sandbox. Required.
	DaemonPayload string

	// BridgePayload is the content of the MCP bridge executable.
	// Required.
	BridgePayload string

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Installer writes the daemon bootstrap files into sandboxes and
// starts the daemon process. One Installer serves many sandboxes; all
// per-sandbox state lives in the session.
type Installer struct {
	daemonPayload string
	bridgePayload string
	logger        *slog.Logger
}

// NewInstaller creates an Installer from the given configuration.
func NewInstaller(config InstallerConfig) (*Installer, error) {
	if config.DaemonPayload == "" {
		return nil, fmt.Errorf("daemon payload is required")
	}
	if config.BridgePayload == "" {
		return nil, fmt.Errorf("bridge payload is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		daemonPayload: config.DaemonPayload,
		bridgePayload: config.BridgePayload,
		logger:        logger,
	}, nil
}

// InstallOptions carries the per-sandbox inputs for one install.
type InstallOptions struct {
	// EnvironmentVariables are caller-supplied variables for the
	// daemon process. On key collision with the fixed base block,
	// caller-supplied values win.
	EnvironmentVariables map[string]string

	// AgentCredentials are provider API credentials the agent needs
	// (e.g. ANTHROPIC_API_KEY). Injected into the daemon environment
	// between the base block and EnvironmentVariables.
	AgentCredentials map[string]string

	// GitHubAccessToken becomes GH_TOKEN in the daemon environment.
	GitHubAccessToken string

	// Agent names the coding agent the daemon launches, exported as
	// TERRAGON_AGENT.
	Agent string

	// PermissionMode is the agent's default tool-permission posture,
	// exported as TERRAGON_PERMISSION_MODE.
	PermissionMode string

	// UserMCPConfig is the user's MCP server configuration, already
	// parsed. Optional. Entries under the built-in key are discarded.
	UserMCPConfig *mcp.UserConfig

	// Skills is the user's validated skills config, merged into the
	// sandbox's available-skills manifest. Optional.
	Skills skills.Config

	// PublicURL is the orchestrator's public callback URL, passed to
	// the daemon for progress reporting.
	PublicURL string

	// FeatureFlags are serialized to JSON and exposed as
	// TERRAGON_FEATURE_FLAGS.
	FeatureFlags map[string]any
}

// Install writes the daemon executable, the MCP bridge executable, and
// the generated MCP manifest into the sandbox, marks the executables
// runnable, and starts the daemon as a detached background process.
//
// Re-invocation overwrites all three files and starts a fresh daemon;
// no attempt is made to detect an existing install at this layer.
func (installer *Installer) Install(ctx context.Context, sandboxSession session.Session, options InstallOptions) error {
	homeDir := sandboxSession.HomeDir()
	daemonPath := DaemonPath(homeDir)
	bridgePath := BridgePath(homeDir)
	manifestPath := ManifestPath(homeDir)

	manifest := mcp.BuildManifest(mcp.Builtin(bridgePath), options.UserMCPConfig)
	encodedManifest, err := manifest.Encode()
	if err != nil {
		return fmt.Errorf("building MCP manifest: %w", err)
	}

	if err := sandboxSession.WriteTextFile(ctx, daemonPath, installer.daemonPayload); err != nil {
		return fmt.Errorf("writing daemon executable: %w", err)
	}
	if err := sandboxSession.WriteTextFile(ctx, bridgePath, installer.bridgePayload); err != nil {
		return fmt.Errorf("writing MCP bridge executable: %w", err)
	}
	if err := sandboxSession.WriteTextFile(ctx, manifestPath, encodedManifest); err != nil {
		return fmt.Errorf("writing MCP manifest: %w", err)
	}

	if len(options.Skills) > 0 {
		encodedSkills, err := json.MarshalIndent(options.Skills, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding skills manifest: %w", err)
		}
		if err := sandboxSession.WriteTextFile(ctx, SkillsPath(homeDir), string(encodedSkills)+"\n"); err != nil {
			return fmt.Errorf("writing skills manifest: %w", err)
		}
	}

	chmod := shellquote.Join("chmod", "+x", daemonPath, bridgePath)
	if _, err := sandboxSession.RunCommand(ctx, chmod, session.RunOptions{}); err != nil {
		return fmt.Errorf("marking daemon executable: %w", err)
	}

	env, err := daemonEnvironment(options)
	if err != nil {
		return err
	}

	start := shellquote.Join(daemonPath, "--mcp-config", manifestPath)
	if options.PublicURL != "" {
		start = shellquote.Join(daemonPath, "--mcp-config", manifestPath, "--callback-url", options.PublicURL)
	}
	if err := sandboxSession.RunBackgroundCommand(ctx, start, session.BackgroundOptions{Env: env}); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	installer.logger.Info("daemon installed",
		"sandbox_id", sandboxSession.SandboxID(),
		"provider", sandboxSession.Provider(),
		"mcp_servers", len(manifest.MCPServers))
	return nil
}

// daemonEnvironment assembles the daemon process environment: the
// fixed base block, then agent credentials, then caller-supplied
// variables. Later layers win on key collision, so caller-supplied
// variables override everything.
func daemonEnvironment(options InstallOptions) (map[string]string, error) {
	flags := options.FeatureFlags
	if flags == nil {
		flags = map[string]any{}
	}
	encodedFlags, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("serializing feature flags: %w", err)
	}

	env := map[string]string{
		"BASH_MAX_TIMEOUT_MS":    bashMaxTimeoutMS,
		"TERRAGON":               "true",
		"TERRAGON_FEATURE_FLAGS": string(encodedFlags),
	}
	// Optional keys are omitted rather than exported empty.
	if options.GitHubAccessToken != "" {
		env["GH_TOKEN"] = options.GitHubAccessToken
	}
	if options.Agent != "" {
		env["TERRAGON_AGENT"] = options.Agent
	}
	if options.PermissionMode != "" {
		env["TERRAGON_PERMISSION_MODE"] = options.PermissionMode
	}
	for key, value := range options.AgentCredentials {
		env[key] = value
	}
	for key, value := range options.EnvironmentVariables {
		env[key] = value
	}
	return env, nil
}
