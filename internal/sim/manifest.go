// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sim builds scripted subsystems from a YAML manifest so boots can be
// reproduced and failure paths exercised without real hardware.
package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/registry"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

// ErrInvalidManifest wraps manifest validation failures.
var ErrInvalidManifest = errors.New("invalid manifest")

// Steps a fault can be injected into.
const (
	StepValidate  = "validate"
	StepCheckDeps = "check_deps"
	StepInit      = "init"
	StepStart     = "start"
	StepSuspend   = "suspend"
	StepResume    = "resume"
	StepShutdown  = "shutdown"
	StepCleanup   = "cleanup"
)

// Manifest is a list of scripted subsystems.
type Manifest struct {
	Subsystems []Spec `yaml:"subsystems" validate:"required,min=1,dive"`
}

// Spec describes one scripted subsystem.
type Spec struct {
	Name        string             `yaml:"name" validate:"required"`
	ID          string             `yaml:"id,omitempty"`
	Phase       phase.Phase        `yaml:"phase"`
	Priority    int                `yaml:"priority"`
	Deps        []string           `yaml:"deps,omitempty"`
	Needs       []phase.Capability `yaml:"needs,omitempty"`
	Provides    []phase.Capability `yaml:"provides,omitempty"`
	Mandatory   bool               `yaml:"mandatory"`
	MaxAttempts int                `yaml:"maxAttempts,omitempty" validate:"gte=0"`
	// Usage is the amount of resources recorded by each init.
	Usage uint64 `yaml:"usage,omitempty"`
	// Actions is the number of rollback actions registered by each init.
	Actions int     `yaml:"actions,omitempty" validate:"gte=0,lte=64"`
	Faults  []Fault `yaml:"faults,omitempty" validate:"dive"`
}

// Fault makes a step fail.
type Fault struct {
	Step string       `yaml:"step" validate:"required,oneof=validate check_deps init start suspend resume shutdown cleanup"`
	Kind initerr.Kind `yaml:"kind"`
	// Times is how many calls fail before the step succeeds; zero means always.
	Times   int    `yaml:"times,omitempty" validate:"gte=0"`
	Panic   bool   `yaml:"panic,omitempty"`
	Message string `yaml:"message,omitempty"`
}

var validate = validator.New()

// LoadManifest reads a manifest strictly: unknown fields are errors.
func LoadManifest(path string) (Manifest, error) {
	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		return Manifest{}, fmt.Errorf("manifest %s: only YAML supported", path)
	}
	// #nosec G304 -- manifest path is provided by the operator via CLI
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := validate.Struct(m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	seen := make(map[string]bool, len(m.Subsystems))
	for _, s := range m.Subsystems {
		if seen[s.Name] {
			return Manifest{}, fmt.Errorf("%w: duplicate subsystem %q", ErrInvalidManifest, s.Name)
		}
		seen[s.Name] = true
		if s.ID != "" {
			if _, err := subsystem.ParseID(s.ID); err != nil {
				return Manifest{}, fmt.Errorf("%w: subsystem %q: %v", ErrInvalidManifest, s.Name, err)
			}
		}
	}
	return m, nil
}

// Descriptor converts the spec. Dependencies are resolved by name, or by the
// explicit id of another spec in ids.
func (s Spec) Descriptor(ids map[string]subsystem.ID) subsystem.Descriptor {
	d := subsystem.Descriptor{
		Name:        s.Name,
		Phase:       s.Phase,
		Priority:    s.Priority,
		Needs:       s.Needs,
		Provides:    s.Provides,
		Mandatory:   s.Mandatory,
		MaxAttempts: s.MaxAttempts,
	}
	if s.ID != "" {
		d.ID, _ = subsystem.ParseID(s.ID)
	}
	for _, dep := range s.Deps {
		id, ok := ids[dep]
		if !ok {
			id = subsystem.IDFromName(dep)
		}
		d.Dependencies = append(d.Dependencies, id)
	}
	return d.Normalize()
}

// Register adds every scripted subsystem to reg in manifest order.
func (m Manifest) Register(reg *registry.Registry, trace *Trace) ([]*Script, error) {
	ids := make(map[string]subsystem.ID, len(m.Subsystems))
	for _, s := range m.Subsystems {
		if s.ID != "" {
			id, _ := subsystem.ParseID(s.ID)
			ids[s.Name] = id
		}
	}
	scripts := make([]*Script, 0, len(m.Subsystems))
	for _, s := range m.Subsystems {
		sc := NewScript(s.Descriptor(ids), s, trace)
		if _, err := reg.Register(sc); err != nil {
			return scripts, fmt.Errorf("register %s: %w", s.Name, err)
		}
		scripts = append(scripts, sc)
	}
	return scripts, nil
}
