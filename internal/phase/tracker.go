// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package phase

import (
	"sync"
	"time"
)

// Status is the progress of a single phase during boot.
type Status int

const (
	Pending Status = iota
	Running
	Complete
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Progress is the recorded outcome of one phase.
type Progress struct {
	Phase      Phase         `json:"phase"`
	Status     Status        `json:"status"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Duration   time.Duration `json:"duration_ns"`
	Subsystems int           `json:"subsystems"`
	Failure    string        `json:"failure,omitempty"`
}

// Tracker records per-phase progress. It is safe for concurrent readers while
// the boot path writes.
type Tracker struct {
	mu    sync.RWMutex
	now   func() time.Time
	progs map[Phase]*Progress
}

// NewTracker returns a tracker with every phase Pending.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now, progs: make(map[Phase]*Progress)}
	for _, p := range All() {
		t.progs[p] = &Progress{Phase: p, Status: Pending}
	}
	return t
}

// Begin marks p as Running with n subsystems scheduled.
func (t *Tracker) Begin(p Phase, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pr := t.get(p)
	pr.Status = Running
	pr.StartedAt = t.now()
	pr.Subsystems = n
	pr.Failure = ""
}

// Complete marks p as finished successfully.
func (t *Tracker) Complete(p Phase) {
	t.finish(p, Complete, "")
}

// Fail marks p as failed with a diagnostic.
func (t *Tracker) Fail(p Phase, reason string) {
	t.finish(p, Failed, reason)
}

// Skip marks p as skipped, typically because an earlier phase aborted.
func (t *Tracker) Skip(p Phase) {
	t.finish(p, Skipped, "")
}

func (t *Tracker) finish(p Phase, s Status, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pr := t.get(p)
	pr.Status = s
	pr.FinishedAt = t.now()
	if !pr.StartedAt.IsZero() {
		pr.Duration = pr.FinishedAt.Sub(pr.StartedAt)
	}
	pr.Failure = reason
}

func (t *Tracker) get(p Phase) *Progress {
	pr, ok := t.progs[p]
	if !ok {
		pr = &Progress{Phase: p}
		t.progs[p] = pr
	}
	return pr
}

// Get returns a copy of the progress of p.
func (t *Tracker) Get(p Phase) Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if pr, ok := t.progs[p]; ok {
		return *pr
	}
	return Progress{Phase: p}
}

// Snapshot returns the progress of every phase in execution order.
func (t *Tracker) Snapshot() []Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Progress, 0, len(t.progs))
	for _, p := range All() {
		out = append(out, *t.progs[p])
	}
	return out
}

// Current returns the most advanced phase that has left Pending, and false if
// boot has not started.
func (t *Tracker) Current() (Phase, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur, found := Boot, false
	for _, p := range All() {
		if t.progs[p].Status != Pending {
			cur, found = p, true
		}
	}
	return cur, found
}

// Finished reports whether every phase completed.
func (t *Tracker) Finished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range All() {
		if t.progs[p].Status != Complete {
			return false
		}
	}
	return true
}
