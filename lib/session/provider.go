// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/terragon-labs/orchestra/lib/cache"
	"github.com/terragon-labs/orchestra/lib/clock"
)

// ErrNotFound is returned by Provider.Get when the sandbox no longer
// exists (expired, destroyed, or never created).
var ErrNotFound = errors.New("sandbox not found")

// CreateRequest asks a provider for a new sandbox.
type CreateRequest struct {
	// Name is a human-readable label for attribution (thread or task
	// name). Not required to be unique.
	Name string

	// UserID attributes the sandbox to a user for quota and billing.
	UserID string

	// Repository is the "owner/name" repository to check out.
	Repository string

	// Branch is the branch to check out. Empty means the default
	// branch.
	Branch string

	// Size is the requested capacity class.
	Size Size
}

// Provider provisions and looks up sandboxes for one backend.
type Provider interface {
	// Name returns the provider's registry key.
	Name() string

	// Create provisions a new sandbox and returns a live session.
	Create(ctx context.Context, request CreateRequest) (Session, error)

	// Get returns a session for an existing sandbox, or ErrNotFound
	// if it is gone.
	Get(ctx context.Context, sandboxID string) (Session, error)
}

// Settings is the per-user provider preference resolved from the
// environment model.
type Settings struct {
	// PreferredProvider names the provider the user opted into. Empty
	// means no preference.
	PreferredProvider string
}

// SettingsSource resolves per-user provider settings. Implemented by
// the environment-model collaborator; an in-memory stub exists for
// tests.
type SettingsSource interface {
	ProviderSettings(ctx context.Context, userID string) (Settings, error)
}

// ChooserConfig configures a Chooser.
type ChooserConfig struct {
	// Providers are the available backends, keyed by Provider.Name().
	// Required, at least one.
	Providers []Provider

	// Default is the provider name used when the user has no
	// preference. Required, must name a registered provider.
	Default string

	// Settings resolves per-user preferences. Optional; when nil every
	// user gets the default provider.
	Settings SettingsSource

	// SettingsTTL bounds how long a resolved user preference is
	// cached. Defaults to 5 minutes.
	SettingsTTL time.Duration

	// Clock drives cache expiry. Defaults to clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Chooser resolves which provider backs a sandbox request, keyed on
// user settings, requested size, and user id. Settings lookups are
// cached with a bounded TTL.
type Chooser struct {
	providers   map[string]Provider
	defaultName string
	settings    SettingsSource
	cache       *cache.Cache[string, Settings]
	logger      *slog.Logger
}

// NewChooser creates a Chooser from the given configuration.
func NewChooser(config ChooserConfig) (*Chooser, error) {
	if len(config.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	providers := make(map[string]Provider, len(config.Providers))
	for _, provider := range config.Providers {
		if _, duplicate := providers[provider.Name()]; duplicate {
			return nil, fmt.Errorf("duplicate provider %q", provider.Name())
		}
		providers[provider.Name()] = provider
	}
	if _, ok := providers[config.Default]; !ok {
		return nil, fmt.Errorf("default provider %q is not registered", config.Default)
	}

	ttl := config.SettingsTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Chooser{
		providers:   providers,
		defaultName: config.Default,
		settings:    config.Settings,
		cache:       cache.New[string, Settings](ttl, clk),
		logger:      logger,
	}, nil
}

// Choose resolves the provider for a request. A user preference wins
// when it names a registered provider; otherwise the default is used.
// An unregistered preference falls back to the default with a warning
// rather than failing the request.
func (chooser *Chooser) Choose(ctx context.Context, userID string, size Size) (Provider, error) {
	if !size.Valid() {
		return nil, fmt.Errorf("invalid sandbox size %q", size)
	}

	name := chooser.defaultName
	if chooser.settings != nil && userID != "" {
		settings, err := chooser.userSettings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolving provider settings for user %s: %w", userID, err)
		}
		if settings.PreferredProvider != "" {
			if _, registered := chooser.providers[settings.PreferredProvider]; registered {
				name = settings.PreferredProvider
			} else {
				chooser.logger.Warn("preferred provider not registered, using default",
					"user_id", userID,
					"preferred", settings.PreferredProvider,
					"default", chooser.defaultName)
			}
		}
	}

	return chooser.providers[name], nil
}

// Lookup returns the registered provider by name, or ErrNotFound.
func (chooser *Chooser) Lookup(name string) (Provider, error) {
	provider, ok := chooser.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, ErrNotFound)
	}
	return provider, nil
}

// ClearSettingsCache drops all cached user settings. Used when
// settings change out from under the chooser.
func (chooser *Chooser) ClearSettingsCache() {
	chooser.cache.Clear()
}

func (chooser *Chooser) userSettings(ctx context.Context, userID string) (Settings, error) {
	if cached, ok := chooser.cache.Get(userID); ok {
		return cached, nil
	}
	settings, err := chooser.settings.ProviderSettings(ctx, userID)
	if err != nil {
		return Settings{}, err
	}
	chooser.cache.Put(userID, settings)
	return settings, nil
}
