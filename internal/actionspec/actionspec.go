// Package actionspec parses action identifiers and the action manifest
// file (conventionally action-datatorch.yaml) fetched by the catalog.
package actionspec

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

// LatestVersion is the sentinel version that forces a re-fetch.
const LatestVersion = "latest"

// DefaultManifestFile is the manifest filename used when an identifier
// does not override it.
const DefaultManifestFile = "action-datatorch.yaml"

// Identifier names one versioned action, resolved to a git source.
type Identifier struct {
	Name    string
	Version string
	Git     string
	File    string
}

// ParseShortForm parses the "owner/name@version" short form.
func ParseShortForm(s string) (Identifier, error) {
	name, version, found := strings.Cut(strings.TrimSpace(s), "@")
	if !found || name == "" {
		return Identifier{}, fmt.Errorf("invalid action identifier %q: expected owner/name@version", s)
	}
	if version == "" {
		version = LatestVersion
	}
	return normalize(Identifier{Name: name, Version: version, File: DefaultManifestFile})
}

// LongFormConfig is the shape of the long-form {name, tag, git, file}
// identifier as it appears embedded in a pipeline's step config.
type LongFormConfig struct {
	Name string `yaml:"name"`
	Tag  string `yaml:"tag"`
	Git  string `yaml:"git"`
	File string `yaml:"file"`
}

// ParseLongForm builds an Identifier from the long form.
func ParseLongForm(c LongFormConfig) (Identifier, error) {
	if c.Name == "" {
		return Identifier{}, fmt.Errorf("action identifier: name must be provided")
	}
	version := c.Tag
	if version == "" {
		version = LatestVersion
	}
	file := c.File
	if file == "" {
		file = DefaultManifestFile
	}
	return normalize(Identifier{Name: c.Name, Version: version, Git: c.Git, File: file})
}

func normalize(id Identifier) (Identifier, error) {
	if strings.HasPrefix(strings.ToLower(id.Name), "datatorch/") {
		id.Name = strings.Replace(strings.ToLower(id.Name), "datatorch/", "datatorch-actions/", 1)
	}
	if id.Git == "" {
		id.Git = fmt.Sprintf("git://github.com/%s.git", id.Name)
	}
	if id.File == "" {
		id.File = DefaultManifestFile
	}
	return id, nil
}

// FullName is the "name@version" display form used in logs.
func (id Identifier) FullName() string {
	return fmt.Sprintf("%s@%s", id.Name, id.Version)
}

// InputSpec describes one declared action input.
type InputSpec struct {
	Type     string `yaml:"type"`
	Default  any    `yaml:"default"`
	Required bool   `yaml:"required"`
}

// OutputSpec describes one declared action output.
type OutputSpec struct {
	Description string `yaml:"description"`
}

// RunsSpec is the runner-selection section of a manifest. It decodes as a
// plain map so runner-specific fields (command, main, image, ...) pass
// through untouched; the chosen runner reads the fields it needs itself.
type RunsSpec map[string]any

// Using returns the runs.using discriminator.
func (r RunsSpec) Using() string {
	if v, ok := r["using"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Manifest is the parsed contents of an action's manifest file.
type Manifest struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Inputs      map[string]InputSpec  `yaml:"inputs"`
	Outputs     map[string]OutputSpec `yaml:"outputs"`
	Runs        RunsSpec              `yaml:"runs"`
	Cache       bool                  `yaml:"cache"`
}

// Parse decodes manifest YAML bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse action manifest: %w", err)
	}
	if m.Runs.Using() == "" {
		return nil, fmt.Errorf("action manifest: must have a runs section with 'using'")
	}
	return &m, nil
}
