// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subsystem holds the static metadata and lifecycle state machine shared
// by every orchestrated kernel subsystem.
package subsystem

import (
	"fmt"
	"strconv"

	"github.com/ManuGH/helixinit/internal/phase"
)

const (
	fnvOffset64 = 0xcbf29ce484222325
	fnvPrime64  = 0x100000001b3
)

// ID is the stable handle of a registered subsystem.
type ID uint64

// IDFromName derives a well-known id from a subsystem name (64-bit FNV-1a).
// It is usable in constant-like package variables.
func IDFromName(name string) ID {
	h := uint64(fnvOffset64)
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= fnvPrime64
	}
	return ID(h)
}

func (id ID) String() string {
	return fmt.Sprintf("%#016x", uint64(id))
}

// ParseID accepts a hex id (with or without 0x) or a decimal id.
func ParseID(s string) (ID, error) {
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return ID(v), nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subsystem id %q", s)
	}
	return ID(v), nil
}

// Descriptor is the immutable metadata fixed at registration.
type Descriptor struct {
	ID       ID
	Name     string
	Phase    phase.Phase
	Priority int
	// Dependencies must be Active before Init runs.
	Dependencies []ID
	// Needs lists capability tags resolved to every subsystem providing them.
	Needs []phase.Capability
	// Provides lists tags other subsystems may depend on.
	Provides []phase.Capability
	// Mandatory subsystems abort boot on failure.
	Mandatory bool
	// MaxAttempts overrides the retry cap when non-zero.
	MaxAttempts int
}

// Normalize fills a zero id from the name.
func (d Descriptor) Normalize() Descriptor {
	if d.ID == 0 {
		d.ID = IDFromName(d.Name)
	}
	return d
}

// DependsOn reports whether id is listed as a direct dependency.
func (d Descriptor) DependsOn(id ID) bool {
	for _, dep := range d.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// ProvidesTag reports whether c is among the provided tags.
func (d Descriptor) ProvidesTag(c phase.Capability) bool {
	for _, p := range d.Provides {
		if p == c {
			return true
		}
	}
	return false
}

// NeedsTag reports whether c is among the needed tags.
func (d Descriptor) NeedsTag(c phase.Capability) bool {
	for _, n := range d.Needs {
		if n == c {
			return true
		}
	}
	return false
}

// Label is a human readable identifier used in logs and diagnostics.
func (d Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID.String()
}
