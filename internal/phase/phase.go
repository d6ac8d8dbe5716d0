// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package phase defines the ordered boot phases and the kernel capabilities each
// phase makes available to the subsystems initialized during it.
package phase

import (
	"fmt"
	"strings"
)

// Phase is an ordered stage of boot. Lower values run first.
type Phase int

const (
	Boot Phase = iota
	Early
	Core
	Late
	Runtime
)

// All returns every phase in execution order.
func All() []Phase {
	return []Phase{Boot, Early, Core, Late, Runtime}
}

func (p Phase) String() string {
	switch p {
	case Boot:
		return "Boot"
	case Early:
		return "Early"
	case Core:
		return "Core"
	case Late:
		return "Late"
	case Runtime:
		return "Runtime"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Description returns a short operator-facing summary of the phase.
func (p Phase) Description() string {
	switch p {
	case Boot:
		return "firmware handoff and minimal setup"
	case Early:
		return "memory initialization and CPU setup"
	case Core:
		return "scheduler, IPC and timers"
	case Late:
		return "drivers, filesystems and networking"
	case Runtime:
		return "userland preparation and services"
	default:
		return "unknown phase"
	}
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	return p >= Boot && p <= Runtime
}

// Next returns the phase after p and false when p is the last phase.
func (p Phase) Next() (Phase, bool) {
	if p >= Runtime || p < Boot {
		return p, false
	}
	return p + 1, true
}

// Grants returns the capability set available during p.
func (p Phase) Grants() Set {
	switch p {
	case Boot:
		return NewSet(Console)
	case Early:
		return NewSet(Console, Heap, Memory)
	case Core:
		return NewSet(Console, Heap, Memory, Interrupts, Scheduler, Timers)
	case Late:
		return allCapabilities().Without(HotReload)
	case Runtime:
		return allCapabilities()
	default:
		return Set{}
	}
}

// Parse converts a case-insensitive phase name into a Phase.
func Parse(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boot":
		return Boot, nil
	case "early":
		return Early, nil
	case "core":
		return Core, nil
	case "late":
		return Late, nil
	case "runtime":
		return Runtime, nil
	}
	return Boot, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
