// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package initerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the failure class of an initialization error.
type Kind int

const (
	Timeout Kind = iota
	Resource
	Dependency
	Hardware
	Config
	Internal
)

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{Timeout, Resource, Dependency, Hardware, Config, Internal}
}

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Resource:
		return "resource"
	case Dependency:
		return "dependency"
	case Hardware:
		return "hardware"
	case Config:
		return "config"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind resolves a kind by its lower-case name.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return Internal, fmt.Errorf("unknown error kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Sentinel causes. A subsystem may return one of these (optionally wrapped) and
// Classify maps it onto the matching kind. errors.Is(err, ErrResource) also
// matches any *InitError of kind Resource.
var (
	ErrTimeout    = errors.New("timeout")
	ErrResource   = errors.New("resource exhausted")
	ErrDependency = errors.New("dependency not active")
	ErrHardware   = errors.New("hardware fault")
	ErrConfig     = errors.New("invalid configuration")
	ErrInternal   = errors.New("internal invariant violated")
)

// Sentinel returns the sentinel cause of k.
func (k Kind) Sentinel() error {
	switch k {
	case Timeout:
		return ErrTimeout
	case Resource:
		return ErrResource
	case Dependency:
		return ErrDependency
	case Hardware:
		return ErrHardware
	case Config:
		return ErrConfig
	default:
		return ErrInternal
	}
}

// Severity ranks how bad a failure is for the boot as a whole.
type Severity int

const (
	Medium Severity = iota + 1
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RollbackPolicy says whether compensating actions run after a failure.
type RollbackPolicy int

const (
	// RollbackNo discards the failing subsystem's pending actions unexecuted.
	RollbackNo RollbackPolicy = iota
	// RollbackYes undoes the failing subsystem's side effects.
	RollbackYes
	// RollbackMaybe undoes side effects only if the subsystem recorded any.
	RollbackMaybe
	// RollbackPartial undoes only the failing subsystem, never its phase peers.
	RollbackPartial
)

func (p RollbackPolicy) String() string {
	switch p {
	case RollbackNo:
		return "no"
	case RollbackYes:
		return "yes"
	case RollbackMaybe:
		return "maybe"
	case RollbackPartial:
		return "partial"
	default:
		return "unknown"
	}
}

func (p RollbackPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Policy is the fixed recovery decision for a kind.
type Policy struct {
	Severity  Severity
	Retryable bool
	Rollback  RollbackPolicy
}

var policies = map[Kind]Policy{
	Timeout:    {Severity: Medium, Retryable: true, Rollback: RollbackMaybe},
	Resource:   {Severity: High, Retryable: false, Rollback: RollbackYes},
	Dependency: {Severity: High, Retryable: false, Rollback: RollbackYes},
	Hardware:   {Severity: Critical, Retryable: false, Rollback: RollbackPartial},
	Config:     {Severity: Medium, Retryable: false, Rollback: RollbackNo},
	Internal:   {Severity: Critical, Retryable: false, Rollback: RollbackYes},
}

// PolicyFor returns the recovery policy of k. Unknown kinds get the Internal policy.
func PolicyFor(k Kind) Policy {
	if p, ok := policies[k]; ok {
		return p
	}
	return policies[Internal]
}
