// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/terragon-labs/orchestra/lib/clock"
)

// Polling cadence for a pull request whose mergeable computation has
// not settled. The values interoperate with UI polling logic, so they
// are fixed.
const (
	// MergeablePollInterval is the fast cadence used while GitHub is
	// still computing mergeability.
	MergeablePollInterval = 5 * time.Second

	// MergeablePollWindow bounds how long after first observing an
	// unknown state the fast cadence applies.
	MergeablePollWindow = 60 * time.Second

	// MergeablePollMaxAttempts bounds how many refetches the fast
	// cadence is granted within one window.
	MergeablePollMaxAttempts = 12
)

// PollState tracks one pull request's fast-poll window. The zero value
// is the reset state: no window open, no attempts counted.
type PollState struct {
	// Until is the end of the current fast-poll window, nil when no
	// window is open.
	Until *time.Time

	// Count is the number of refetch attempts made inside the current
	// window.
	Count int
}

// reset reports whether the state is exactly the no-window zero value.
func (state PollState) reset() bool {
	return state.Until == nil && state.Count == 0
}

// NextPollState advances the fast-poll window state after observing
// remoteState at time now.
//
// A settled (non-unknown) state resets the window; a prior state that
// is already reset is returned as-is so callers comparing state values
// see no churn. An observation that did not actually refetch leaves the
// state untouched: only real fetches count as attempts. The first
// unknown observation opens a window ending at now plus
// [MergeablePollWindow] with one attempt counted; later unknowns inside
// the window keep its end and increment the attempt count.
func NextPollState(remoteState MergeableState, now time.Time, prior PollState, didRefetch bool) PollState {
	if remoteState != MergeableUnknown {
		if prior.reset() {
			return prior
		}
		return PollState{}
	}
	if !didRefetch {
		return prior
	}
	if prior.Until == nil {
		until := now.Add(MergeablePollWindow)
		return PollState{Until: &until, Count: 1}
	}
	return PollState{Until: prior.Until, Count: prior.Count + 1}
}

// PollInterval returns the refetch delay to use given the observed
// remoteState and window state. The fast [MergeablePollInterval]
// applies only while the state is unknown, a window is open and not yet
// elapsed, and the attempt budget is not exhausted; otherwise the
// caller's default cadence applies.
func PollInterval(remoteState MergeableState, now time.Time, state PollState, defaultInterval time.Duration) time.Duration {
	if remoteState == MergeableUnknown &&
		state.Until != nil &&
		now.Before(*state.Until) &&
		state.Count < MergeablePollMaxAttempts {
		return MergeablePollInterval
	}
	return defaultInterval
}

// PullRequestGetter is the client surface the watcher needs.
type PullRequestGetter interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
}

// WatcherConfig configures a MergeableWatcher.
type WatcherConfig struct {
	// Client fetches pull requests. Required.
	Client PullRequestGetter

	// Clock drives the poll loop. Defaults to clock.Real().
	Clock clock.Clock

	// DefaultInterval is the slow cadence used once the fast-poll
	// window is spent. Defaults to 30 seconds.
	DefaultInterval time.Duration

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// MergeableWatcher polls a pull request until GitHub settles its
// mergeable computation.
type MergeableWatcher struct {
	client          PullRequestGetter
	clock           clock.Clock
	defaultInterval time.Duration
	logger          *slog.Logger
}

// NewMergeableWatcher creates a watcher from the given configuration.
func NewMergeableWatcher(config WatcherConfig) (*MergeableWatcher, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	defaultInterval := config.DefaultInterval
	if defaultInterval == 0 {
		defaultInterval = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MergeableWatcher{
		client:          config.Client,
		clock:           clk,
		defaultInterval: defaultInterval,
		logger:          logger,
	}, nil
}

// Watch refetches the pull request until its mergeable state settles
// or ctx is cancelled, pacing refetches through the poll state
// machine. Returns the pull request carrying the settled state.
func (watcher *MergeableWatcher) Watch(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var state PollState
	for {
		pullRequest, err := watcher.client.GetPullRequest(ctx, owner, repo, number)
		if err != nil {
			return nil, err
		}

		remoteState := pullRequest.ResolvedMergeableState()
		now := watcher.clock.Now()
		state = NextPollState(remoteState, now, state, true)
		if remoteState != MergeableUnknown {
			return pullRequest, nil
		}

		interval := PollInterval(remoteState, now, state, watcher.defaultInterval)
		watcher.logger.Debug("mergeable state unsettled, polling again",
			"pr", fmt.Sprintf("%s/%s#%d", owner, repo, number),
			"attempt", state.Count,
			"interval", interval)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-watcher.clock.After(interval):
		}
	}
}
