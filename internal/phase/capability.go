// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package phase

import (
	"fmt"
	"strings"
)

// Capability is a named kernel service gated by phase.
type Capability uint32

const (
	Console Capability = 1 << iota
	Heap
	Memory
	Interrupts
	Scheduler
	Timers
	IPC
	Drivers
	Filesystem
	Network
	Security
	Userspace
	HotReload
	Debug
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{Console, "console"},
	{Heap, "heap"},
	{Memory, "memory"},
	{Interrupts, "interrupts"},
	{Scheduler, "scheduler"},
	{Timers, "timers"},
	{IPC, "ipc"},
	{Drivers, "drivers"},
	{Filesystem, "filesystem"},
	{Network, "network"},
	{Security, "security"},
	{Userspace, "userspace"},
	{HotReload, "hot_reload"},
	{Debug, "debug"},
}

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.c == c {
			return n.name
		}
	}
	return fmt.Sprintf("capability(%#x)", uint32(c))
}

// ParseCapability resolves a capability tag by name.
func ParseCapability(s string) (Capability, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, n := range capabilityNames {
		if n.name == s {
			return n.c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", s)
}

func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Capability) UnmarshalText(text []byte) error {
	parsed, err := ParseCapability(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Set is an immutable bit set of capabilities.
type Set struct {
	bits Capability
}

// NewSet builds a set from the given capabilities.
func NewSet(caps ...Capability) Set {
	var s Set
	for _, c := range caps {
		s.bits |= c
	}
	return s
}

func allCapabilities() Set {
	var s Set
	for _, n := range capabilityNames {
		s.bits |= n.c
	}
	return s
}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool {
	return c != 0 && s.bits&c == c
}

// With returns a copy of s that also contains caps.
func (s Set) With(caps ...Capability) Set {
	for _, c := range caps {
		s.bits |= c
	}
	return s
}

// Without returns a copy of s with caps removed.
func (s Set) Without(caps ...Capability) Set {
	for _, c := range caps {
		s.bits &^= c
	}
	return s
}

// Empty reports whether the set holds no capability.
func (s Set) Empty() bool {
	return s.bits == 0
}

// List returns the members in declaration order.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(capabilityNames))
	for _, n := range capabilityNames {
		if s.bits&n.c != 0 {
			out = append(out, n.c)
		}
	}
	return out
}

func (s Set) String() string {
	caps := s.List()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
