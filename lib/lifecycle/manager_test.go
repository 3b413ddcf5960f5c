// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/terragon-labs/orchestra/lib/clock"
	"github.com/terragon-labs/orchestra/lib/daemon"
	"github.com/terragon-labs/orchestra/lib/session"
	"github.com/terragon-labs/orchestra/lib/testutil"
)

type recordingSetup struct {
	runs int
	err  error
}

func (setup *recordingSetup) Run(ctx context.Context, sandboxSession session.Session) error {
	setup.runs++
	return setup.err
}

type managerFixture struct {
	manager  *Manager
	provider *session.MemoryProvider
	setup    *recordingSetup
	clock    *clock.FakeClock
}

func newFixture(t *testing.T, configure func(*ManagerConfig)) *managerFixture {
	t.Helper()

	provider := session.NewMemoryProvider("memory")
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

	setup := &recordingSetup{}
	fake := clock.Fake(time.Unix(0, 0))
	config := ManagerConfig{
		Chooser:           chooser,
		Installer:         installer,
		Setup:             setup,
		Clock:             fake,
		ReadyTimeout:      30 * time.Second,
		ReadyPollInterval: 2 * time.Second,
	}
	if configure != nil {
		configure(&config)
	}

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &managerFixture{manager: manager, provider: provider, setup: setup, clock: fake}
}

func defaultOptions() Options {
	return Options{
		ThreadName: "fix flaky test",
		UserID:     "user-1",
		Repository: "terragon-labs/orchestra",
		Size:       session.SizeMedium,
		Agent:      AgentClaude,
	}
}

func TestGetOrCreateProvisionsFreshSandbox(t *testing.T) {
	fixture := newFixture(t, nil)
	ctx := context.Background()

	var statuses []string
	options := defaultOptions()
	options.OnStatus = func(ctx context.Context, status string) error {
		statuses = append(statuses, status)
		return nil
	}

	acquired, err := fixture.manager.GetOrCreateSandbox(ctx, nil, options)
	if err != nil {
		t.Fatalf("GetOrCreateSandbox: %v", err)
	}

	memorySession := acquired.(*session.MemorySession)
	if _, ok := memorySession.FileContent(daemon.ManifestPath(memorySession.HomeDir())); !ok {
		t.Fatal("daemon was not installed during provisioning")
	}
	if fixture.setup.runs != 1 {
		t.Fatalf("setup script ran %d times, want 1", fixture.setup.runs)
	}
	if len(statuses) == 0 || statuses[len(statuses)-1] != "sandbox ready" {
		t.Fatalf("statuses = %v, want final 'sandbox ready'", statuses)
	}

	background := memorySession.BackgroundCommands()
	if len(background) != 1 {
		t.Fatalf("background commands = %d, want daemon start", len(background))
	}
	env := background[0].Env
	if env["TERRAGON_AGENT"] != string(AgentClaude) {
		t.Fatalf("TERRAGON_AGENT = %q", env["TERRAGON_AGENT"])
	}
	if env["TERRAGON_PERMISSION_MODE"] != string(AgentClaude.PermissionMode()) {
		t.Fatalf("TERRAGON_PERMISSION_MODE = %q", env["TERRAGON_PERMISSION_MODE"])
	}
}

func TestGetOrCreateReusesLiveSandbox(t *testing.T) {
	fixture := newFixture(t, nil)
	ctx := context.Background()

	first, err := fixture.manager.GetOrCreateSandbox(ctx, nil, defaultOptions())
	if err != nil {
		t.Fatalf("first GetOrCreateSandbox: %v", err)
	}

	ref := Ref{SandboxID: first.SandboxID(), Provider: first.Provider()}
	second, err := fixture.manager.GetOrCreateSandbox(ctx, &ref, defaultOptions())
	if err != nil {
		t.Fatalf("second GetOrCreateSandbox: %v", err)
	}
	if second.SandboxID() != first.SandboxID() {
		t.Fatal("live sandbox was not reused")
	}
	if fixture.setup.runs != 1 {
		t.Fatalf("setup ran %d times, reuse must not re-provision", fixture.setup.runs)
	}
}

func TestGetOrCreateReplacesDeadSandbox(t *testing.T) {
	fixture := newFixture(t, nil)
	ctx := context.Background()

	first, err := fixture.manager.GetOrCreateSandbox(ctx, nil, defaultOptions())
	if err != nil {
		t.Fatalf("GetOrCreateSandbox: %v", err)
	}
	fixture.manager.Shutdown(ctx, first)

	ref := Ref{SandboxID: first.SandboxID(), Provider: first.Provider()}
	second, err := fixture.manager.GetOrCreateSandbox(ctx, &ref, defaultOptions())
	if err != nil {
		t.Fatalf("GetOrCreateSandbox after shutdown: %v", err)
	}
	if second.SandboxID() == first.SandboxID() {
		t.Fatal("dead sandbox was reused instead of replaced")
	}
}

func TestGetOrCreateBranchGeneration(t *testing.T) {
	fixture := newFixture(t, nil)

	options := defaultOptions()
	options.CreateBranch = true
	generated := false
	options.GenerateBranchName = func(ctx context.Context) (string, error) {
		generated = true
		return "terragon/fix-flaky-test", nil
	}

	if _, err := fixture.manager.GetOrCreateSandbox(context.Background(), nil, options); err != nil {
		t.Fatalf("GetOrCreateSandbox: %v", err)
	}
	if !generated {
		t.Fatal("branch name generator was not invoked")
	}
}

func TestGetOrCreateInvalidAgent(t *testing.T) {
	fixture := newFixture(t, nil)
	options := defaultOptions()
	options.Agent = Agent("clippy")
	if _, err := fixture.manager.GetOrCreateSandbox(context.Background(), nil, options); err == nil {
		t.Fatal("expected error for invalid agent")
	}
}

func TestGetOrCreateSetupFailureShutsDown(t *testing.T) {
	fixture := newFixture(t, nil)
	fixture.setup.err = errors.New("setup script exited 1")

	var created *session.MemorySession
	fixture.provider.OnCreate = func(memorySession *session.MemorySession) {
		created = memorySession
	}

	_, err := fixture.manager.GetOrCreateSandbox(context.Background(), nil, defaultOptions())
	if err == nil || !strings.Contains(err.Error(), "setup script") {
		t.Fatalf("err = %v, want setup script failure", err)
	}
	if created == nil {
		t.Fatal("no sandbox was created")
	}
	if created.ShutdownCalls() != 1 {
		t.Fatalf("half-provisioned sandbox shutdown calls = %d, want 1", created.ShutdownCalls())
	}
}

func TestReadinessTimeout(t *testing.T) {
	fixture := newFixture(t, nil)
	fixture.provider.OnCreate = func(memorySession *session.MemorySession) {
		// Never becomes ready.
		memorySession.SetCommandError("echo ready", errors.New("connection refused"))
	}

	done := make(chan error, 1)
	go func() {
		_, err := fixture.manager.GetOrCreateSandbox(context.Background(), nil, defaultOptions())
		done <- err
	}()

	// The 30s readiness budget is consumed after exactly 15 poll
	// intervals of 2s each.
	for i := 0; i < 15; i++ {
		fixture.clock.WaitForTimers(1)
		fixture.clock.Advance(2 * time.Second)
	}

	err := testutil.RequireReceive(t, done, 5*time.Second, "readiness timeout result")
	if err == nil || !strings.Contains(err.Error(), "not ready after") {
		t.Fatalf("err = %v, want readiness timeout", err)
	}
}

func TestShutdownIdempotentAndNeverFails(t *testing.T) {
	fixture := newFixture(t, nil)
	ctx := context.Background()

	acquired, err := fixture.manager.GetOrCreateSandbox(ctx, nil, defaultOptions())
	if err != nil {
		t.Fatalf("GetOrCreateSandbox: %v", err)
	}
	memorySession := acquired.(*session.MemorySession)

	fixture.manager.Shutdown(ctx, acquired)
	fixture.manager.Shutdown(ctx, acquired)
	fixture.manager.Shutdown(ctx, acquired)

	if memorySession.ShutdownCalls() != 1 {
		t.Fatalf("underlying Shutdown called %d times, want 1", memorySession.ShutdownCalls())
	}
}

func TestShutdownSuppressionBounded(t *testing.T) {
	fixture := newFixture(t, nil)
	ctx := context.Background()

	var last session.Session
	for i := 0; i < maxShutdownRecords+100; i++ {
		created, err := fixture.provider.Create(ctx, session.CreateRequest{Size: session.SizeSmall})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		fixture.manager.Shutdown(ctx, created)
		last = created
	}

	fixture.manager.mu.Lock()
	size := len(fixture.manager.shutdown)
	_, lastKept := fixture.manager.shutdown[last.SandboxID()]
	fixture.manager.mu.Unlock()

	if size > maxShutdownRecords {
		t.Fatalf("suppression map holds %d records, want at most %d", size, maxShutdownRecords)
	}
	if !lastKept {
		t.Fatal("most recent shutdown record must survive eviction")
	}
}

func TestGetSandboxOrNull(t *testing.T) {
	fixture := newFixture(t, nil)
	ctx := context.Background()

	found, err := fixture.manager.GetSandboxOrNull(ctx, Ref{SandboxID: "nope", Provider: "memory"})
	if err != nil || found != nil {
		t.Fatalf("GetSandboxOrNull(missing) = %v, %v; want nil, nil", found, err)
	}

	found, err = fixture.manager.GetSandboxOrNull(ctx, Ref{SandboxID: "x", Provider: "unregistered"})
	if err != nil || found != nil {
		t.Fatalf("GetSandboxOrNull(unknown provider) = %v, %v; want nil, nil", found, err)
	}
}

func TestExtendLifeTouchesActivityMarker(t *testing.T) {
	fixture := newFixture(t, nil)
	ctx := context.Background()

	acquired, err := fixture.manager.GetOrCreateSandbox(ctx, nil, defaultOptions())
	if err != nil {
		t.Fatalf("GetOrCreateSandbox: %v", err)
	}
	if err := fixture.manager.ExtendLife(ctx, acquired); err != nil {
		t.Fatalf("ExtendLife: %v", err)
	}

	memorySession := acquired.(*session.MemorySession)
	if memorySession.CommandMatching("touch") == "" {
		t.Fatal("ExtendLife did not touch the activity marker")
	}
}

func TestHibernate(t *testing.T) {
	fixture := newFixture(t, nil)
	ctx := context.Background()

	acquired, err := fixture.manager.GetOrCreateSandbox(ctx, nil, defaultOptions())
	if err != nil {
		t.Fatalf("GetOrCreateSandbox: %v", err)
	}
	if err := fixture.manager.Hibernate(ctx, acquired); err != nil {
		t.Fatalf("Hibernate: %v", err)
	}
	if acquired.(*session.MemorySession).HibernateCalls() != 1 {
		t.Fatal("Hibernate not forwarded to session")
	}
}
