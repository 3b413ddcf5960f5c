// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import "encoding/json"

// UserSkill is a user-authored, named instructional snippet the agent
// can invoke by name or that the model can surface automatically.
type UserSkill struct {
	// Name identifies the skill. Alphanumeric, dash, and underscore
	// only. Must equal the key the skill is stored under in a Config.
	Name string `json:"name"`

	// DisplayName is an optional human-facing label.
	DisplayName string `json:"displayName,omitempty"`

	// Description tells the model when the skill applies. Required.
	Description string `json:"description"`

	// ArgumentHint is optional placeholder text shown when the user
	// invokes the skill with arguments.
	ArgumentHint string `json:"argumentHint,omitempty"`

	// Content is the instructional text injected when the skill is
	// invoked. Required.
	Content string `json:"content"`

	// DisableModelInvocation prevents the model from surfacing the
	// skill on its own. Defaults to false.
	DisableModelInvocation bool `json:"disableModelInvocation,omitempty"`

	// UserInvocable controls whether the user can invoke the skill
	// directly. Defaults to true.
	UserInvocable bool `json:"userInvocable"`
}

// UnmarshalJSON applies field defaults (UserInvocable true) before
// decoding, so a record that omits the field round-trips to the same
// value a freshly constructed skill would carry.
func (skill *UserSkill) UnmarshalJSON(data []byte) error {
	type alias UserSkill
	decoded := alias{UserInvocable: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*skill = UserSkill(decoded)
	return nil
}

// Config maps skill names to their definitions. The key always equals
// the Name field of the value; Validate enforces this.
type Config map[string]UserSkill

// Empty returns a new empty skills config.
func Empty() Config {
	return Config{}
}

// Add returns a copy of config with skill upserted under skill.Name.
// An existing entry under the same name is overwritten in place; the
// key count grows only for genuinely new names. The input config is
// not modified.
func Add(config Config, skill UserSkill) Config {
	updated := make(Config, len(config)+1)
	for name, existing := range config {
		updated[name] = existing
	}
	updated[skill.Name] = skill
	return updated
}

// Remove returns a copy of config without the named skill. No-op copy
// if the name is absent.
func Remove(config Config, name string) Config {
	updated := make(Config, len(config))
	for existing, skill := range config {
		if existing == name {
			continue
		}
		updated[existing] = skill
	}
	return updated
}

// Update returns a copy of config with the skill previously stored
// under oldName replaced by skill. When skill.Name differs from
// oldName this is a rename: the old key is deleted and the skill is
// inserted under the new name, with all sibling entries preserved.
// Otherwise the entry is updated in place.
func Update(config Config, oldName string, skill UserSkill) Config {
	updated := Remove(config, oldName)
	updated[skill.Name] = skill
	return updated
}
