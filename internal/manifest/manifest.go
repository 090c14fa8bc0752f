// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

// Package manifest loads declarative plugin definitions from plugin.yaml files.
package manifest

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/flipkit/flipkit/pkg/plugin"
)

// FileName is the conventional manifest file name inside a plugin directory.
const FileName = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	ID                    string                  `yaml:"id" json:"id"`
	Version               string                  `yaml:"version" json:"version"`
	Title                 string                  `yaml:"title,omitempty" json:"title,omitempty"`
	Category              string                  `yaml:"category,omitempty" json:"category,omitempty"`
	Icon                  string                  `yaml:"icon,omitempty" json:"icon,omitempty"`
	Gatekeeper            string                  `yaml:"gatekeeper,omitempty" json:"gatekeeper,omitempty"`
	Entry                 string                  `yaml:"entry,omitempty" json:"entry,omitempty"`
	Bugs                  *plugin.Bugs            `yaml:"bugs,omitempty" json:"bugs,omitempty"`
	KeyboardActions       []plugin.KeyboardAction `yaml:"keyboard-actions,omitempty" json:"keyboard-actions,omitempty"`
	Screenshot            string                  `yaml:"screenshot,omitempty" json:"screenshot,omitempty"`
	MaxQueueSize          int                     `yaml:"max-queue-size,omitempty" json:"max-queue-size,omitempty" jsonschema:"minimum=0"`
	DefaultPersistedState map[string]any          `yaml:"default-persisted-state,omitempty" json:"default-persisted-state,omitempty"`
	// Script is a Lua file, relative to the manifest, defining behaviors.
	Script string `yaml:"script,omitempty" json:"script,omitempty"`
}

// maxIDLength is the maximum allowed length for plugin ids.
const maxIDLength = 64

// idPattern validates plugin ids: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character ids are allowed.
var idPattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Parse parses and validates manifest data.
func Parse(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.In("manifest").Code("invalid_manifest").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("manifest").Code("invalid_manifest").Hint("invalid YAML").Wrap(err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Load reads path, checks it against the manifest schema and parses it.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("manifest").With("path", path).Hint("failed to read manifest").Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return nil, oops.In("manifest").Code("invalid_manifest").With("path", path).Wrap(err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, oops.In("manifest").With("path", path).Wrap(err)
	}
	return m, nil
}

// Validate checks manifest constraints the schema cannot express.
func (m *Manifest) Validate() error {
	invalid := oops.In("manifest").Code("invalid_manifest").With("id", m.ID)

	if m.ID == "" || !idPattern.MatchString(m.ID) {
		return invalid.Errorf("id %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.ID)
	}
	if len(m.ID) > maxIDLength {
		return invalid.Errorf("id must be %d characters or less, got %d", maxIDLength, len(m.ID))
	}

	if m.Version == "" {
		return invalid.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return invalid.With("version", m.Version).Wrapf(err, "version must be semantic (MAJOR.MINOR.PATCH)")
	}

	if m.MaxQueueSize < 0 {
		return invalid.Errorf("max-queue-size must not be negative, got %d", m.MaxQueueSize)
	}

	for i, action := range m.KeyboardActions {
		if action.Action == "" || action.Label == "" {
			return invalid.With("index", i).Errorf("keyboard-actions[%d] needs both action and label", i)
		}
	}

	if m.Script != "" {
		clean := filepath.Clean(m.Script)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return invalid.With("script", m.Script).Errorf("script must be a path inside the plugin directory")
		}
	}

	return nil
}

// Config returns the plugin configuration declared by the manifest.
// Behaviors come from the script and are installed by Build.
func (m *Manifest) Config() plugin.Config {
	cfg := plugin.Config{
		Title:           m.Title,
		Category:        m.Category,
		Icon:            m.Icon,
		Gatekeeper:      m.Gatekeeper,
		Entry:           m.Entry,
		Bugs:            m.Bugs,
		KeyboardActions: m.KeyboardActions,
		Screenshot:      m.Screenshot,
		MaxQueueSize:    m.MaxQueueSize,
	}
	if m.DefaultPersistedState != nil {
		cfg.DefaultPersistedState = plugin.Record(m.DefaultPersistedState).Clone()
	}
	return cfg
}
