// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package journal records boot events for postmortem analysis.
package journal

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by sinks used after Close.
var ErrClosed = errors.New("journal closed")

// Kind names a boot event.
type Kind string

const (
	BootStart     Kind = "boot.start"
	BootComplete  Kind = "boot.complete"
	BootAbort     Kind = "boot.abort"
	PhaseStart    Kind = "phase.start"
	PhaseComplete Kind = "phase.complete"
	PhaseFail     Kind = "phase.fail"
	Transition    Kind = "subsystem.transition"
	Failure       Kind = "subsystem.failure"
	Retry         Kind = "subsystem.retry"
	Reclaim       Kind = "subsystem.reclaim"
	RollbackRun   Kind = "rollback.action"
	Control       Kind = "control"
	ShutdownDone  Kind = "shutdown.complete"
)

// Event is one journal row.
type Event struct {
	BootID      string    `json:"boot_id"`
	Seq         int64     `json:"seq"`
	Time        time.Time `json:"time"`
	Kind        Kind      `json:"kind"`
	Phase       string    `json:"phase,omitempty"`
	SubsystemID uint64    `json:"subsystem_id,omitempty"`
	Subsystem   string    `json:"subsystem,omitempty"`
	OldState    string    `json:"old_state,omitempty"`
	NewState    string    `json:"new_state,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Sink persists events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// Reader reads a boot back in sequence order.
type Reader interface {
	Events(ctx context.Context, bootID string) ([]Event, error)
}

// NewBootID returns a fresh boot identifier.
func NewBootID() string {
	return uuid.NewString()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }

// Memory keeps events in process. It backs tests and runs without a journal path.
type Memory struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns the events of bootID ordered by sequence. An empty bootID
// returns every event.
func (m *Memory) Events(_ context.Context, bootID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if bootID == "" || ev.BootID == bootID {
			out = append(out, ev)
		}
	}
	slices.SortStableFunc(out, func(a, b Event) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out, nil
}

// Kinds returns the kinds recorded so far, in record order.
func (m *Memory) Kinds() []Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Kind, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Kind
	}
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
