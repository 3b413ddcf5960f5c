// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/terragon-labs/orchestra/lib/clock"
)

// countingSettings records how many times settings were resolved.
type countingSettings struct {
	settings Settings
	err      error
	calls    int
}

func (source *countingSettings) ProviderSettings(ctx context.Context, userID string) (Settings, error) {
	source.calls++
	return source.settings, source.err
}

func newTestChooser(t *testing.T, source SettingsSource, clk clock.Clock) *Chooser {
	t.Helper()
	chooser, err := NewChooser(ChooserConfig{
		Providers:   []Provider{NewMemoryProvider("e2b"), NewMemoryProvider("daytona")},
		Default:     "e2b",
		Settings:    source,
		SettingsTTL: time.Minute,
		Clock:       clk,
	})
	if err != nil {
		t.Fatalf("NewChooser: %v", err)
	}
	return chooser
}

func TestChooseDefault(t *testing.T) {
	chooser := newTestChooser(t, nil, nil)
	provider, err := chooser.Choose(context.Background(), "user-1", SizeMedium)
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if provider.Name() != "e2b" {
		t.Fatalf("provider = %q, want default e2b", provider.Name())
	}
}

func TestChoosePreferenceWins(t *testing.T) {
	source := &countingSettings{settings: Settings{PreferredProvider: "daytona"}}
	chooser := newTestChooser(t, source, nil)

	provider, err := chooser.Choose(context.Background(), "user-1", SizeSmall)
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if provider.Name() != "daytona" {
		t.Fatalf("provider = %q, want preferred daytona", provider.Name())
	}
}

func TestChooseUnregisteredPreferenceFallsBack(t *testing.T) {
	source := &countingSettings{settings: Settings{PreferredProvider: "nonexistent"}}
	chooser := newTestChooser(t, source, nil)

	provider, err := chooser.Choose(context.Background(), "user-1", SizeSmall)
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if provider.Name() != "e2b" {
		t.Fatalf("provider = %q, want fallback e2b", provider.Name())
	}
}

func TestChooseSettingsCached(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	source := &countingSettings{settings: Settings{PreferredProvider: "daytona"}}
	chooser := newTestChooser(t, source, fake)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := chooser.Choose(ctx, "user-1", SizeSmall); err != nil {
			t.Fatalf("Choose: %v", err)
		}
	}
	if source.calls != 1 {
		t.Fatalf("settings resolved %d times, want 1 (cached)", source.calls)
	}

	// Past the TTL the settings are resolved again.
	fake.SetNow(time.Unix(0, 0).Add(2 * time.Minute))
	if _, err := chooser.Choose(ctx, "user-1", SizeSmall); err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("settings resolved %d times after TTL, want 2", source.calls)
	}
}

func TestChooseInvalidSize(t *testing.T) {
	chooser := newTestChooser(t, nil, nil)
	if _, err := chooser.Choose(context.Background(), "user-1", Size("xxl")); err == nil {
		t.Fatal("expected error for invalid size")
	}
}

func TestChooseSettingsError(t *testing.T) {
	source := &countingSettings{err: errors.New("settings store down")}
	chooser := newTestChooser(t, source, nil)
	if _, err := chooser.Choose(context.Background(), "user-1", SizeSmall); err == nil {
		t.Fatal("expected settings resolution error to propagate")
	}
}

func TestMemoryProviderGetAfterShutdown(t *testing.T) {
	provider := NewMemoryProvider("memory")
	ctx := context.Background()

	created, err := provider.Create(ctx, CreateRequest{Name: "task", Size: SizeSmall})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := provider.Get(ctx, created.SandboxID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SandboxID() != created.SandboxID() {
		t.Fatal("Get returned a different sandbox")
	}

	if err := created.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := provider.Get(ctx, created.SandboxID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after shutdown = %v, want ErrNotFound", err)
	}
}

func TestMemorySessionShutdownIdempotent(t *testing.T) {
	provider := NewMemoryProvider("memory")
	ctx := context.Background()

	created, err := provider.Create(ctx, CreateRequest{Size: SizeSmall})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	memorySession := created.(*MemorySession)

	for i := 0; i < 2; i++ {
		if err := memorySession.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown call %d: %v", i+1, err)
		}
	}
	if memorySession.ShutdownCalls() != 2 {
		t.Fatalf("ShutdownCalls = %d, want 2", memorySession.ShutdownCalls())
	}
}
