// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/jsonc"
)

// BuiltinKey is the manifest key of the built-in control-plane server.
// The daemon routes its own tool invocations through this entry, so a
// user config must never be able to replace it.
const BuiltinKey = "terry"

// ServerConfig describes how the daemon connects to one MCP server.
// Exactly one transport is set: Command (stdio) or URL (HTTP/SSE).
type ServerConfig struct {
	// Command is the executable to spawn for a stdio transport.
	Command string `json:"command,omitempty"`

	// Args are arguments passed to Command.
	Args []string `json:"args,omitempty"`

	// Env is extra environment for the spawned process.
	Env map[string]string `json:"env,omitempty"`

	// URL is the endpoint for an HTTP/SSE transport.
	URL string `json:"url,omitempty"`

	// Headers are sent with every HTTP/SSE request.
	Headers map[string]string `json:"headers,omitempty"`
}

// Validate checks that the descriptor selects exactly one transport.
func (server ServerConfig) Validate() error {
	hasCommand := server.Command != ""
	hasURL := server.URL != ""
	switch {
	case hasCommand && hasURL:
		return fmt.Errorf("command and url are mutually exclusive (set exactly one)")
	case !hasCommand && !hasURL:
		return fmt.Errorf("must set either command or url")
	}
	if !hasCommand && (len(server.Args) > 0 || len(server.Env) > 0) {
		return fmt.Errorf("args and env are only valid with command")
	}
	if !hasURL && len(server.Headers) > 0 {
		return fmt.Errorf("headers are only valid with url")
	}
	return nil
}

// Builtin returns the fixed descriptor for the built-in control-plane
// server: the stdio bridge executable installed next to the daemon.
func Builtin(bridgePath string) ServerConfig {
	return ServerConfig{
		Command: bridgePath,
		Args:    []string{"stdio"},
	}
}

// UserConfig is user-supplied MCP configuration, as authored in the
// settings editor. It is untrusted input.
type UserConfig struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ParseUserConfig parses a user-authored MCP config. Accepts JSONC.
// Every entry must be a valid transport descriptor; the error names
// the offending server key.
func ParseUserConfig(raw []byte) (*UserConfig, error) {
	stripped := jsonc.ToJSON(raw)

	var config UserConfig
	if err := json.Unmarshal(stripped, &config); err != nil {
		return nil, fmt.Errorf("parsing MCP config: %w", err)
	}

	keys := make([]string, 0, len(config.MCPServers))
	for key := range config.MCPServers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		// The built-in key is discarded during manifest construction
		// anyway; validating it would only let an adversarial config
		// turn a silent drop into an error.
		if key == BuiltinKey {
			continue
		}
		if err := config.MCPServers[key].Validate(); err != nil {
			return nil, fmt.Errorf("mcpServers.%s: %w", key, err)
		}
	}
	return &config, nil
}

// Manifest is the daemon-side MCP server manifest written into the
// sandbox at install time.
type Manifest struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// BuildManifest merges a user config over the built-in entry.
//
// The ordering is the security-relevant invariant: the built-in entry
// is written first, user entries are overlaid second, and the built-in
// key is re-asserted last. A user-supplied entry under [BuiltinKey] is
// silently discarded, never merged, regardless of its contents. Keys
// are treated as opaque strings throughout.
func BuildManifest(builtin ServerConfig, userConfig *UserConfig) Manifest {
	servers := map[string]ServerConfig{
		BuiltinKey: builtin,
	}
	if userConfig != nil {
		for key, server := range userConfig.MCPServers {
			servers[key] = server
		}
	}
	servers[BuiltinKey] = builtin
	return Manifest{MCPServers: servers}
}

// Encode renders the manifest as indented JSON suitable for writing
// into the sandbox.
func (manifest Manifest) Encode() (string, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding MCP manifest: %w", err)
	}
	return string(data) + "\n", nil
}
