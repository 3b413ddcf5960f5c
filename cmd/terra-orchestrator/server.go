// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/terragon-labs/orchestra/lib/analysis"
	"github.com/terragon-labs/orchestra/lib/config"
	"github.com/terragon-labs/orchestra/lib/daemon"
	"github.com/terragon-labs/orchestra/lib/lifecycle"
	"github.com/terragon-labs/orchestra/lib/mcp"
	"github.com/terragon-labs/orchestra/lib/service"
	"github.com/terragon-labs/orchestra/lib/session"
	"github.com/terragon-labs/orchestra/lib/skills"
	"github.com/terragon-labs/orchestra/lib/stream"
)

// maxRequestBytes bounds the analyze request body.
const maxRequestBytes = 1 << 20

// orchestrator is the composed service: configuration, lifecycle
// manager, and HTTP surface.
type orchestrator struct {
	cfg     *config.Config
	manager *lifecycle.Manager
	logger  *slog.Logger
}

// newOrchestrator wires the service from configuration: daemon
// payloads, providers, chooser, lifecycle manager.
func newOrchestrator(cfg *config.Config, logger *slog.Logger) (*orchestrator, error) {
	daemonPayload, err := os.ReadFile(cfg.Daemon.DaemonBinary)
	if err != nil {
		return nil, fmt.Errorf("reading daemon binary: %w", err)
	}
	bridgePayload, err := os.ReadFile(cfg.Daemon.BridgeBinary)
	if err != nil {
		return nil, fmt.Errorf("reading bridge binary: %w", err)
	}

	installer, err := daemon.NewInstaller(daemon.InstallerConfig{
		DaemonPayload: string(daemonPayload),
		BridgePayload: string(bridgePayload),
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	// The in-process provider serves local development; cloud-backed
	// providers register here as they are implemented.
	memoryProvider := session.NewMemoryProvider("memory")
	chooser, err := session.NewChooser(session.ChooserConfig{
		Providers: []session.Provider{memoryProvider},
		Default:   cfg.Sandbox.DefaultProvider,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	manager, err := lifecycle.NewManager(lifecycle.ManagerConfig{
		Chooser:           chooser,
		Installer:         installer,
		ReadyTimeout:      cfg.ReadyTimeout(),
		ReadyPollInterval: cfg.ReadyPollInterval(),
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	return &orchestrator{cfg: cfg, manager: manager, logger: logger}, nil
}

// serve runs the HTTP server until ctx is cancelled.
func (orchestrator *orchestrator) serve(ctx context.Context) error {
	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         orchestrator.cfg.Server.Listen,
		Handler:         orchestrator.handler(),
		ShutdownTimeout: orchestrator.cfg.ShutdownTimeout(),
		Logger:          orchestrator.logger,
	})
	return server.Serve(ctx)
}

// handler builds the HTTP routing surface.
func (orchestrator *orchestrator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
		fmt.Fprintln(writer, "ok")
	})
	mux.HandleFunc("POST /v1/analyze", orchestrator.handleAnalyze)
	return mux
}

// analyzeRequest is the POST /v1/analyze body.
type analyzeRequest struct {
	UserID     string `json:"userId"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Size       string `json:"size,omitempty"`
	Agent      string `json:"agent,omitempty"`

	// Sandbox reuses a live sandbox from a previous operation.
	Sandbox *lifecycle.Ref `json:"sandbox,omitempty"`

	// GitHubAccessToken and AgentCredentials are forwarded into the
	// sandbox daemon environment.
	GitHubAccessToken string            `json:"githubAccessToken"`
	AgentCredentials  map[string]string `json:"agentCredentials,omitempty"`

	// Skills and MCPConfig are the user's raw configuration
	// documents (JSON with comments tolerated).
	Skills    json.RawMessage `json:"skills,omitempty"`
	MCPConfig json.RawMessage `json:"mcpConfig,omitempty"`
}

// staticCredentials adapts request-supplied secrets to the analyzer's
// credential source seam.
type staticCredentials struct {
	credentials analysis.Credentials
}

func (source staticCredentials) Credentials(ctx context.Context, userID string) (analysis.Credentials, error) {
	return source.credentials, nil
}

// handleAnalyze validates the request, then streams the analysis
// operation as server-sent events. Configuration errors are reported
// synchronously with a 400; once streaming starts, failures arrive as
// the stream's terminal error event.
func (orchestrator *orchestrator) handleAnalyze(writer http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(io.LimitReader(request.Body, maxRequestBytes))
	if err != nil {
		http.Error(writer, "reading request body", http.StatusBadRequest)
		return
	}

	var analyzeReq analyzeRequest
	if err := json.Unmarshal(body, &analyzeReq); err != nil {
		http.Error(writer, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if analyzeReq.UserID == "" || analyzeReq.Repository == "" {
		http.Error(writer, "userId and repository are required", http.StatusBadRequest)
		return
	}

	size := session.Size(analyzeReq.Size)
	if analyzeReq.Size == "" {
		size = session.Size(orchestrator.cfg.Sandbox.DefaultSize)
	}
	if !size.Valid() {
		http.Error(writer, fmt.Sprintf("invalid size %q", analyzeReq.Size), http.StatusBadRequest)
		return
	}

	agent := lifecycle.Agent(analyzeReq.Agent)
	if analyzeReq.Agent == "" {
		agent = lifecycle.AgentClaude
	}
	if !agent.Valid() {
		http.Error(writer, fmt.Sprintf("invalid agent %q", analyzeReq.Agent), http.StatusBadRequest)
		return
	}

	var skillsConfig skills.Config
	if len(analyzeReq.Skills) > 0 {
		skillsConfig, err = skills.Validate(analyzeReq.Skills)
		if err != nil {
			http.Error(writer, err.Error(), http.StatusBadRequest)
			return
		}
	}

	var userMCPConfig *mcp.UserConfig
	if len(analyzeReq.MCPConfig) > 0 {
		userMCPConfig, err = mcp.ParseUserConfig(analyzeReq.MCPConfig)
		if err != nil {
			http.Error(writer, err.Error(), http.StatusBadRequest)
			return
		}
	}

	analyzer, err := analysis.NewAnalyzer(analysis.Config{
		Manager: orchestrator.manager,
		Credentials: staticCredentials{credentials: analysis.Credentials{
			GitHubAccessToken: analyzeReq.GitHubAccessToken,
			AgentCredentials:  analyzeReq.AgentCredentials,
		}},
		Logger: orchestrator.logger,
	})
	if err != nil {
		http.Error(writer, "internal error", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "text/event-stream")
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("Connection", "keep-alive")
	writer.WriteHeader(http.StatusOK)
	if flusher, ok := writer.(http.Flusher); ok {
		flusher.Flush()
	}

	sink, err := stream.NewSink(stream.SinkConfig{
		Writer: writer,
		Logger: orchestrator.logger,
	})
	if err != nil {
		return
	}

	operationBody, cleanup := analyzer.Operation(analysis.Request{
		UserID:        analyzeReq.UserID,
		Repository:    analyzeReq.Repository,
		Branch:        analyzeReq.Branch,
		Size:          size,
		Agent:         agent,
		ExistingRef:   analyzeReq.Sandbox,
		UserMCPConfig: userMCPConfig,
		Skills:        skillsConfig,
		PublicURL:     orchestrator.cfg.Server.PublicURL,
	})
	operation, err := stream.Start(request.Context(), stream.OperationConfig{
		Sink:    sink,
		Cleanup: cleanup,
		Logger:  orchestrator.logger,
	}, operationBody)
	if err != nil {
		orchestrator.logger.Error("starting operation", "error", err)
		return
	}

	orchestrator.logger.Info("analysis operation started",
		"operation_id", operation.ID(),
		"user_id", analyzeReq.UserID,
		"repository", analyzeReq.Repository)

	// The response writer is only valid while this handler runs;
	// block until the operation finishes or the client goes away.
	<-operation.Done()
}
