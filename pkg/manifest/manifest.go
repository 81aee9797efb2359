// Package manifest loads psub job manifests.
//
// A job manifest is a YAML or JSON file describing one array job: a command
// template with its parameter groups (or an explicit command list) and the
// resources to request. Manifests are validated against an embedded JSON
// Schema that disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	name: align
//	command: "bwa mem ref.fa {} > {}.sam"
//	parameters:
//	  - file: samples.txt
//	  - values: [r1, r2]
//	resources:
//	  memory: 8G
//	  time: "23:00:00"
//	  batch_size: 4
package manifest

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/3leaps/psub/pkg/expand"
	"github.com/3leaps/psub/pkg/job"
)

// Manifest represents a validated job manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Name is the job base name. Optional.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Command is a template with one {} per parameter group.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Parameters are expanded over Command in order, last group fastest.
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Commands are appended verbatim after any expanded commands.
	Commands []string `json:"commands,omitempty" yaml:"commands,omitempty"`

	// Resources override configured defaults.
	Resources ResourcesConfig `json:"resources,omitempty" yaml:"resources,omitempty"`

	// Setup and Teardown lines run inside the array job around each batch.
	Setup    []string `json:"setup,omitempty" yaml:"setup,omitempty"`
	Teardown []string `json:"teardown,omitempty" yaml:"teardown,omitempty"`

	// dir is the manifest's directory; relative parameter files resolve against it.
	dir string
}

// Parameter is one parameter group. Exactly one field is set.
type Parameter struct {
	Values  []string `json:"values,omitempty" yaml:"values,omitempty"`
	Literal *string  `json:"literal,omitempty" yaml:"literal,omitempty"`
	File    string   `json:"file,omitempty" yaml:"file,omitempty"`
}

// ResourcesConfig overrides individual resource defaults. Zero values keep
// the default.
type ResourcesConfig struct {
	Arch      *string `json:"arch,omitempty" yaml:"arch,omitempty"`
	Memory    string  `json:"memory,omitempty" yaml:"memory,omitempty"`
	Time      string  `json:"time,omitempty" yaml:"time,omitempty"`
	HighP     *bool   `json:"highp,omitempty" yaml:"highp,omitempty"`
	Cores     int     `json:"cores,omitempty" yaml:"cores,omitempty"`
	BatchSize int     `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
}

// Apply returns defaults with the manifest's overrides applied.
func (r ResourcesConfig) Apply(defaults job.Resources) job.Resources {
	out := defaults
	if r.Arch != nil {
		out.Arch = *r.Arch
	}
	if r.Memory != "" {
		out.Memory = r.Memory
	}
	if r.Time != "" {
		out.Time = r.Time
	}
	if r.HighP != nil {
		out.HighP = *r.HighP
	}
	if r.Cores > 0 {
		out.Cores = r.Cores
	}
	if r.BatchSize > 0 {
		out.BatchSize = r.BatchSize
	}
	return out.Normalize()
}

// Group converts the parameter to an expansion group. Relative file paths
// resolve against dir.
func (p Parameter) Group(dir string) (expand.Group, error) {
	switch {
	case p.File != "":
		path := p.File
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}
		return expand.FromFile(path), nil
	case p.Literal != nil:
		return expand.Literal(*p.Literal), nil
	case p.Values != nil:
		return expand.Values(p.Values...), nil
	}
	return expand.Group{}, fmt.Errorf("parameter group has no values, literal or file")
}

// Groups converts every parameter group.
func (m *Manifest) Groups() ([]expand.Group, error) {
	groups := make([]expand.Group, 0, len(m.Parameters))
	for i, p := range m.Parameters {
		g, err := p.Group(m.dir)
		if err != nil {
			return nil, fmt.Errorf("parameters[%d]: %w", i, err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Job builds an unsubmitted job. name overrides the manifest name when set.
func (m *Manifest) Job(name string, defaults job.Resources, paths job.Paths, now time.Time) (*job.Job, error) {
	if name == "" {
		name = m.Name
	}
	j := job.New(name, m.Resources.Apply(defaults), paths, now)

	if m.Command != "" {
		groups, err := m.Groups()
		if err != nil {
			return nil, err
		}
		if err := j.AddParameterCombinations(m.Command, groups...); err != nil {
			return nil, err
		}
	}
	j.Add(m.Commands...)
	return j, nil
}
