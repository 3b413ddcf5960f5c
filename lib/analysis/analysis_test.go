// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/terragon-labs/orchestra/lib/clock"
	"github.com/terragon-labs/orchestra/lib/daemon"
	"github.com/terragon-labs/orchestra/lib/lifecycle"
	"github.com/terragon-labs/orchestra/lib/session"
	"github.com/terragon-labs/orchestra/lib/stream"
	"github.com/terragon-labs/orchestra/lib/testutil"
)

type staticCredentials struct {
	err error
}

func (source *staticCredentials) Credentials(ctx context.Context, userID string) (Credentials, error) {
	if source.err != nil {
		return Credentials{}, source.err
	}
	return Credentials{
		GitHubAccessToken: "gho_test",
		AgentCredentials:  map[string]string{"ANTHROPIC_API_KEY": "sk-test"},
	}, nil
}

type recordingStore struct {
	mu      sync.Mutex
	results []*Result
	err     error
}

func (store *recordingStore) SaveResult(ctx context.Context, userID string, result *Result) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.err != nil {
		return store.err
	}
	store.results = append(store.results, result)
	return nil
}

func (store *recordingStore) saved() []*Result {
	store.mu.Lock()
	defer store.mu.Unlock()
	return append([]*Result(nil), store.results...)
}

type analyzerFixture struct {
	analyzer    *Analyzer
	provider    *session.MemoryProvider
	store       *recordingStore
	credentials *staticCredentials
}

func newFixture(t *testing.T) *analyzerFixture {
	t.Helper()

	provider := session.NewMemoryProvider("memory")
	provider.OnCreate = scriptRepository

	chooser, err := session.NewChooser(session.ChooserConfig{
		Providers: []session.Provider{provider},
		Default:   "memory",
	})
	if err != nil {
		t.Fatalf("NewChooser: %v", err)
	}
	installer, err := daemon.NewInstaller(daemon.InstallerConfig{
		DaemonPayload: "#!/bin/sh\n",
		BridgePayload: "#!/bin/sh\n",
	})
	if err != nil {
		t.Fatalf("NewInstaller: %v", err)
	}
	manager, err := lifecycle.NewManager(lifecycle.ManagerConfig{
		Chooser:   chooser,
		Installer: installer,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	store := &recordingStore{}
	credentials := &staticCredentials{}
	analyzer, err := NewAnalyzer(Config{
		Manager:     manager,
		Credentials: credentials,
		Store:       store,
	})
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	return &analyzerFixture{
		analyzer:    analyzer,
		provider:    provider,
		store:       store,
		credentials: credentials,
	}
}

// scriptRepository makes a fresh sandbox answer the inspection
// commands for a small fake checkout at /home/user/orchestra.
func scriptRepository(memorySession *session.MemorySession) {
	memorySession.SetCommandResult(
		"git -C /home/user/orchestra rev-parse HEAD",
		"4f2a9c1d8e7b6a5f4e3d2c1b0a9f8e7d6c5b4a39\n")
	memorySession.SetCommandResult(
		"git -C /home/user/orchestra ls-files",
		"main.go\nlib/skills/skills.go\nlib/skills/validate.go\nREADME.md\nMakefile\n")
	memorySession.SetCommandResult(
		"git -C /home/user/orchestra ls-files -z | xargs -0 cat | wc -l",
		"1287\n")
}

func defaultRequest() Request {
	return Request{
		UserID:     "user-1",
		Repository: "terragon-labs/orchestra",
		Branch:     "main",
		Size:       session.SizeMedium,
		Agent:      lifecycle.AgentClaude,
	}
}

// syncBuffer guards a bytes.Buffer for cross-goroutine writes.
type syncBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (buffer *syncBuffer) Write(p []byte) (int, error) {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	return buffer.buffer.Write(p)
}

func (buffer *syncBuffer) String() string {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	return buffer.buffer.String()
}

func runOperation(t *testing.T, fixture *analyzerFixture, request Request) []stream.Event {
	t.Helper()

	buffer := &syncBuffer{}
	sink, err := stream.NewSink(stream.SinkConfig{
		Writer: buffer,
		Clock:  clock.Fake(time.Unix(0, 0)),
	})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	body, cleanup := fixture.analyzer.Operation(request)
	operation, err := stream.Start(context.Background(), stream.OperationConfig{
		Sink:    sink,
		Cleanup: cleanup,
	}, body)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireClosed(t, operation.Done(), 5*time.Second, "analysis operation")

	var events []stream.Event
	for _, frame := range strings.Split(buffer.String(), "\n\n") {
		if frame == "" {
			continue
		}
		payload, ok := strings.CutPrefix(frame, "data: ")
		if !ok {
			t.Fatalf("frame missing data prefix: %q", frame)
		}
		var event stream.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func TestAnalysisEndToEnd(t *testing.T) {
	fixture := newFixture(t)

	var created *session.MemorySession
	fixture.provider.OnCreate = func(memorySession *session.MemorySession) {
		scriptRepository(memorySession)
		created = memorySession
	}

	events := runOperation(t, fixture, defaultRequest())

	terminal := events[len(events)-1]
	if terminal.Type != "complete" {
		t.Fatalf("terminal event = %+v, want complete", terminal)
	}

	var result Result
	if err := json.Unmarshal(terminal.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.CommitSHA != "4f2a9c1d8e7b6a5f4e3d2c1b0a9f8e7d6c5b4a39" {
		t.Errorf("commit = %q", result.CommitSHA)
	}
	if result.FileCount != 5 {
		t.Errorf("file count = %d, want 5", result.FileCount)
	}
	if result.TotalLines != 1287 {
		t.Errorf("total lines = %d, want 1287", result.TotalLines)
	}
	if result.Languages["go"] != 3 || result.Languages["md"] != 1 || result.Languages["none"] != 1 {
		t.Errorf("languages = %v", result.Languages)
	}

	saved := fixture.store.saved()
	if len(saved) != 1 || saved[0].CommitSHA != result.CommitSHA {
		t.Errorf("store saved %d results", len(saved))
	}
	if created == nil || created.ShutdownCalls() != 1 {
		t.Error("sandbox was not released exactly once")
	}

	// Progress covers each step before the terminal event.
	steps := make(map[string]bool)
	for _, event := range events[:len(events)-1] {
		if event.Type != "progress" {
			t.Fatalf("non-progress event before terminal: %+v", event)
		}
		steps[event.Step] = true
	}
	for _, step := range []string{"credentials", "sandbox", "inspect", "persist"} {
		if !steps[step] {
			t.Errorf("no progress event for step %q", step)
		}
	}
}

func TestAnalysisCredentialFailure(t *testing.T) {
	fixture := newFixture(t)
	fixture.credentials.err = errors.New("token store unavailable")

	events := runOperation(t, fixture, defaultRequest())
	terminal := events[len(events)-1]
	if terminal.Type != "error" || !strings.Contains(terminal.Message, "token store unavailable") {
		t.Fatalf("terminal = %+v, want error mentioning cause", terminal)
	}
}

func TestAnalysisInspectFailureReleasesSandbox(t *testing.T) {
	fixture := newFixture(t)

	var created *session.MemorySession
	fixture.provider.OnCreate = func(memorySession *session.MemorySession) {
		created = memorySession
		memorySession.SetCommandError(
			"git -C /home/user/orchestra rev-parse HEAD",
			errors.New("fatal: not a git repository"))
	}

	events := runOperation(t, fixture, defaultRequest())
	terminal := events[len(events)-1]
	if terminal.Type != "error" {
		t.Fatalf("terminal = %+v, want error", terminal)
	}
	if created == nil || created.ShutdownCalls() != 1 {
		t.Error("failed operation must still release the sandbox exactly once")
	}
}

func TestAnalysisStoreFailure(t *testing.T) {
	fixture := newFixture(t)
	fixture.store.err = errors.New("bucket unavailable")

	events := runOperation(t, fixture, defaultRequest())
	terminal := events[len(events)-1]
	if terminal.Type != "error" || !strings.Contains(terminal.Message, "persisting analysis result") {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestCleanupBeforeAcquisitionIsNoOp(t *testing.T) {
	fixture := newFixture(t)
	_, cleanup := fixture.analyzer.Operation(defaultRequest())
	cleanup(context.Background())
}

// gatedSetup holds provisioning inside the setup step until released,
// the way a shell step already in flight ignores cancellation.
type gatedSetup struct {
	started chan struct{}
	release chan struct{}
}

func (setup *gatedSetup) Run(ctx context.Context, sandboxSession session.Session) error {
	close(setup.started)
	<-setup.release
	return nil
}

func TestCancelDuringAcquisitionReleasesSandbox(t *testing.T) {
	provider := session.NewMemoryProvider("memory")
	var created *session.MemorySession
	provider.OnCreate = func(memorySession *session.MemorySession) {
		created = memorySession
		scriptRepository(memorySession)
	}
	chooser, err := session.NewChooser(session.ChooserConfig{
		Providers: []session.Provider{provider},
		Default:   "memory",
	})
	if err != nil {
		t.Fatalf("NewChooser: %v", err)
	}
	installer, err := daemon.NewInstaller(daemon.InstallerConfig{
		DaemonPayload: "#!/bin/sh\n",
		BridgePayload: "#!/bin/sh\n",
	})
	if err != nil {
		t.Fatalf("NewInstaller: %v", err)
	}
	setup := &gatedSetup{started: make(chan struct{}), release: make(chan struct{})}
	manager, err := lifecycle.NewManager(lifecycle.ManagerConfig{
		Chooser:   chooser,
		Installer: installer,
		Setup:     setup,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	analyzer, err := NewAnalyzer(Config{
		Manager:     manager,
		Credentials: &staticCredentials{},
	})
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}

	buffer := &syncBuffer{}
	sink, err := stream.NewSink(stream.SinkConfig{
		Writer: buffer,
		Clock:  clock.Fake(time.Unix(0, 0)),
	})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	body, cleanup := analyzer.Operation(defaultRequest())
	cleanupRan := make(chan struct{}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	operation, err := stream.Start(ctx, stream.OperationConfig{
		Sink: sink,
		Cleanup: func(ctx context.Context) {
			cleanup(ctx)
			cleanupRan <- struct{}{}
		},
	}, body)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Disconnect while provisioning sits in the setup step. The first
	// cleanup pass finds nothing acquired yet; once the gate opens,
	// acquisition completes after the abort and the sandbox must still
	// be released.
	testutil.RequireClosed(t, setup.started, 5*time.Second, "setup start")
	cancel()
	testutil.RequireReceive(t, cleanupRan, 5*time.Second, "cleanup on disconnect")
	close(setup.release)
	testutil.RequireClosed(t, operation.Done(), 5*time.Second, "operation unwinding")

	if created == nil {
		t.Fatal("no sandbox was created")
	}
	if got := created.ShutdownCalls(); got != 1 {
		t.Fatalf("sandbox shutdown calls = %d, want exactly 1", got)
	}
}
