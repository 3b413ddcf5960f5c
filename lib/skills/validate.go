// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
)

// reservedNames are the built-in editor commands. A skill stored under
// any of these keys (in any letter case) would shadow the command, so
// validation rejects them.
var reservedNames = []string{
	"init",
	"help",
	"clear",
	"compact",
	"config",
	"cost",
	"doctor",
	"exit",
	"login",
	"logout",
	"mcp",
	"memory",
	"model",
	"pr-comments",
	"resume",
	"review",
	"status",
	"terminal-setup",
	"vim",
}

// namePattern is the allowed shape of a skill name.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// issue is one structural validation failure found while walking the
// raw document. Depth is the number of path segments; the deepest
// issue wins when reporting.
type issue struct {
	path    string
	depth   int
	message string
}

func (i issue) String() string {
	if i.path == "" {
		return fmt.Sprintf("(root): %s", i.message)
	}
	return fmt.Sprintf("%s: %s", i.path, i.message)
}

// Validate parses raw as a skills config and checks it structurally
// and semantically. Accepts JSONC (comments and trailing commas are
// stripped before parsing). On success the returned Config has field
// defaults applied. On failure the error message identifies the most
// specific failing field: the deepest path wins, ties broken by the
// first issue encountered in sorted key order.
//
// Validation is pure: the same input always yields the same output.
func Validate(raw []byte) (Config, error) {
	stripped := jsonc.ToJSON(raw)

	var document any
	if err := json.Unmarshal(stripped, &document); err != nil {
		return nil, fmt.Errorf("(root): not valid JSON: %v", err)
	}

	if structural := findStructuralIssue(document); structural != nil {
		return nil, fmt.Errorf("%s", structural.String())
	}

	// The document is structurally sound; decode into typed records
	// (applying defaults) before the semantic checks.
	var config Config
	if err := json.Unmarshal(stripped, &config); err != nil {
		return nil, fmt.Errorf("(root): %v", err)
	}

	for _, key := range sortedKeys(config) {
		if isReservedName(key) {
			return nil, fmt.Errorf("Cannot use '%s' as a skill name (reserved for built-in commands)", key)
		}
	}
	for _, key := range sortedKeys(config) {
		if skill := config[key]; skill.Name != key {
			return nil, fmt.Errorf("Skill key '%s' does not match skill name '%s'", key, skill.Name)
		}
	}

	if config == nil {
		config = Empty()
	}
	return config, nil
}

// findStructuralIssue walks the generic document and returns the issue
// to report, or nil if the document matches the schema. Keys are
// visited in sorted order so the "first encountered" tie-break is
// deterministic.
func findStructuralIssue(document any) *issue {
	root, ok := document.(map[string]any)
	if !ok {
		return &issue{message: "expected an object mapping skill names to definitions"}
	}

	var issues []issue
	keys := make([]string, 0, len(root))
	for key := range root {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		record, ok := root[key].(map[string]any)
		if !ok {
			issues = append(issues, issue{path: key, depth: 1, message: "expected a skill definition object"})
			continue
		}
		issues = append(issues, skillIssues(key, record)...)
	}

	return deepest(issues)
}

// skillIssues checks one skill record against the field schema.
func skillIssues(key string, record map[string]any) []issue {
	var issues []issue

	field := func(name string) string { return key + "." + name }
	add := func(name, message string) {
		issues = append(issues, issue{path: field(name), depth: 2, message: message})
	}

	checkRequiredString(record, "name", add)
	checkRequiredString(record, "description", add)
	checkRequiredString(record, "content", add)
	checkOptionalString(record, "displayName", add)
	checkOptionalString(record, "argumentHint", add)
	checkOptionalBool(record, "disableModelInvocation", add)
	checkOptionalBool(record, "userInvocable", add)

	if name, ok := record["name"].(string); ok && name != "" && !namePattern.MatchString(name) {
		add("name", "may only contain letters, digits, dashes, and underscores")
	}

	return issues
}

func checkRequiredString(record map[string]any, name string, add func(name, message string)) {
	value, present := record[name]
	if !present {
		add(name, "is required")
		return
	}
	text, ok := value.(string)
	if !ok {
		add(name, "must be a string")
		return
	}
	if strings.TrimSpace(text) == "" {
		add(name, "must not be empty")
	}
}

func checkOptionalString(record map[string]any, name string, add func(name, message string)) {
	value, present := record[name]
	if !present {
		return
	}
	if _, ok := value.(string); !ok {
		add(name, "must be a string")
	}
}

func checkOptionalBool(record map[string]any, name string, add func(name, message string)) {
	value, present := record[name]
	if !present {
		return
	}
	if _, ok := value.(bool); !ok {
		add(name, "must be a boolean")
	}
}

// deepest picks the issue to report: maximum depth, earliest
// encountered among equals.
func deepest(issues []issue) *issue {
	var winner *issue
	for index := range issues {
		candidate := &issues[index]
		if winner == nil || candidate.depth > winner.depth {
			winner = candidate
		}
	}
	return winner
}

func isReservedName(key string) bool {
	for _, reserved := range reservedNames {
		if strings.EqualFold(key, reserved) {
			return true
		}
	}
	return false
}

func sortedKeys(config Config) []string {
	keys := make([]string, 0, len(config))
	for key := range config {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ReservedNames returns a copy of the reserved built-in command list.
func ReservedNames() []string {
	names := make([]string, len(reservedNames))
	copy(names, reservedNames)
	return names
}
