// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills validates and manipulates user-defined skill
// configurations.
//
// A skills config is a JSON (or JSONC) object mapping skill names to
// skill definitions. The config is authored by users in an editor,
// persisted by the environment model, and read at daemon-install time
// to build the sandbox's available-skills manifest. Validation is the
// trust boundary: structural schema checks, a reserved-name blocklist
// protecting built-in editor commands, and a key/name consistency
// check all run before a config is accepted.
//
// All operations here are pure data transformations. Helpers like
// [Add], [Remove], and [Update] return fresh maps and never mutate
// their input, so callers can hold references to prior versions.
package skills
