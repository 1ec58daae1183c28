// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package synthesis

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

//go:embed registry.default.yaml
var defaultRegistry []byte

// FieldKind controls how values of a field are normalized before comparison.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindText   FieldKind = "text"
	KindList   FieldKind = "list"
	KindDate   FieldKind = "date"
)

// Field is one semantic field compared across stage payloads.
type Field struct {
	Name string `yaml:"name"`
	// Path is a dotted path into the payload. Empty means Name.
	Path     string        `yaml:"path"`
	Stages   []types.Stage `yaml:"stages"`
	Required bool          `yaml:"required"`
	Kind     FieldKind     `yaml:"kind"`
}

func (f Field) path() string {
	if f.Path != "" {
		return f.Path
	}
	return f.Name
}

func (f Field) producedBy(s types.Stage) bool {
	for _, fs := range f.Stages {
		if fs == s {
			return true
		}
	}
	return false
}

// InvariantBefore requires the End field to be after the Start field.
const InvariantBefore = "before"

// Invariant is a relation between two fields that every payload must keep.
type Invariant struct {
	Kind  string `yaml:"kind"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Registry lists the fields and invariants the synthesizer checks.
type Registry struct {
	Fields     []Field     `yaml:"fields"`
	Invariants []Invariant `yaml:"invariants"`
}

// DefaultRegistry returns the built-in research brief registry.
func DefaultRegistry() *Registry {
	r, err := ParseRegistry(defaultRegistry)
	if err != nil {
		panic("synthesis: built-in registry: " + err.Error())
	}
	return r
}

// LoadRegistry reads a YAML registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeConfigLoadReadFailure, "reading registry %s", path)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a YAML registry.
func ParseRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, quillerr.Wrap(err, quillerr.CodeSynthesisRegistryParse, "parsing registry")
	}
	for i := range r.Fields {
		if r.Fields[i].Kind == "" {
			r.Fields[i].Kind = KindString
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks names, kinds, stages and invariant references.
func (r *Registry) Validate() error {
	var problems []string
	seen := make(map[string]bool, len(r.Fields))
	for i, f := range r.Fields {
		switch {
		case strings.TrimSpace(f.Name) == "":
			problems = append(problems, fmt.Sprintf("field %d has no name", i))
			continue
		case seen[f.Name]:
			problems = append(problems, "duplicate field "+f.Name)
		}
		seen[f.Name] = true

		switch f.Kind {
		case KindString, KindText, KindList, KindDate:
		default:
			problems = append(problems, fmt.Sprintf("field %s: unknown kind %q", f.Name, f.Kind))
		}
		for _, s := range f.Stages {
			if !s.Valid() {
				problems = append(problems, fmt.Sprintf("field %s: unknown stage %q", f.Name, s))
			}
		}
	}
	for _, inv := range r.Invariants {
		if inv.Kind != InvariantBefore {
			problems = append(problems, fmt.Sprintf("unknown invariant kind %q", inv.Kind))
			continue
		}
		for _, name := range []string{inv.Start, inv.End} {
			if !seen[name] {
				problems = append(problems, fmt.Sprintf("invariant references unknown field %q", name))
			}
		}
	}
	if len(problems) > 0 {
		return quillerr.New(quillerr.CodeSynthesisRegistryParse, "invalid registry: "+strings.Join(problems, "; "))
	}
	return nil
}

// Field returns the named field.
func (r *Registry) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
