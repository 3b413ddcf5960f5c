// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package github

import "time"

// User is a GitHub account.
type User struct {
	Login   string `json:"login"`
	ID      int64  `json:"id"`
	Type    string `json:"type"` // "User", "Organization", "Bot"
	HTMLURL string `json:"html_url"`
}

// Branch is one side of a pull request.
type Branch struct {
	Ref  string `json:"ref"`
	SHA  string `json:"sha"`
	Repo struct {
		FullName string `json:"full_name"`
	} `json:"repo"`
}

// MergeableState is GitHub's computed merge assessment for a pull
// request. The computation is asynchronous: immediately after a push
// the API reports MergeableUnknown until a background job settles the
// value.
type MergeableState string

const (
	MergeableUnknown  MergeableState = "unknown"
	MergeableClean    MergeableState = "clean"
	MergeableDirty    MergeableState = "dirty"
	MergeableBlocked  MergeableState = "blocked"
	MergeableBehind   MergeableState = "behind"
	MergeableUnstable MergeableState = "unstable"
	MergeableDraft    MergeableState = "draft"
)

// PullRequest is a GitHub pull request.
type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"` // "open" or "closed"
	HTMLURL   string     `json:"html_url"`
	User      User       `json:"user"`
	Head      Branch     `json:"head"`
	Base      Branch     `json:"base"`
	Draft     bool       `json:"draft"`
	Merged    bool       `json:"merged"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	MergedAt  *time.Time `json:"merged_at"`

	// Mergeable is null while GitHub's merge computation is in
	// flight.
	Mergeable *bool `json:"mergeable"`

	// MergeableState carries the detailed assessment. Empty in list
	// responses; populated by GetPullRequest.
	MergeableState MergeableState `json:"mergeable_state"`
}

// ResolvedMergeableState normalizes the wire value: a missing or empty
// mergeable_state is treated as still-unknown.
func (pullRequest *PullRequest) ResolvedMergeableState() MergeableState {
	if pullRequest.MergeableState == "" {
		return MergeableUnknown
	}
	return pullRequest.MergeableState
}
