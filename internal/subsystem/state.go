// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subsystem

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a state change absent from the lifecycle table.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the lifecycle position of a subsystem.
type State int

const (
	Registered State = iota
	Validating
	Ready
	Initializing
	Active
	Suspending
	Suspended
	Resuming
	Stopped
	Cleaned
	Removed
)

var stateNames = [...]string{
	Registered:   "Registered",
	Validating:   "Validating",
	Ready:        "Ready",
	Initializing: "Initializing",
	Active:       "Active",
	Suspending:   "Suspending",
	Suspended:    "Suspended",
	Resuming:     "Resuming",
	Stopped:      "Stopped",
	Cleaned:      "Cleaned",
	Removed:      "Removed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists every legal edge. Initializing -> Ready is the retry path
// taken before a fresh attempt.
var transitions = map[State][]State{
	Registered:   {Validating},
	Validating:   {Ready, Stopped},
	Ready:        {Initializing, Stopped},
	Initializing: {Active, Ready, Stopped},
	Active:       {Suspending, Stopped},
	Suspending:   {Suspended, Active},
	Suspended:    {Resuming, Stopped},
	Resuming:     {Active, Stopped},
	Stopped:      {Cleaned},
	Cleaned:      {Removed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with both states when
// the edge is illegal.
func CheckTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Down reports whether the subsystem no longer serves: Stopped or later.
func (s State) Down() bool {
	return s == Stopped || s == Cleaned || s == Removed
}

// Running reports whether the subsystem completed init and has not been
// stopped. Suspended subsystems still hold their resources.
func (s State) Running() bool {
	switch s {
	case Active, Suspending, Suspended, Resuming:
		return true
	}
	return false
}
