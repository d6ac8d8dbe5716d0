// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator drives registered subsystems through the boot phases,
// enforces phase barriers and unwinds partial initialization on failure. After
// boot it stays resident to serve suspend, resume and shutdown requests.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/helixinit/internal/initctx"
	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/journal"
	"github.com/ManuGH/helixinit/internal/log"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/registry"
	"github.com/ManuGH/helixinit/internal/subsystem"
	"github.com/ManuGH/helixinit/internal/telemetry"
)

var (
	// ErrAlreadyBooted is returned by a second RunBoot.
	ErrAlreadyBooted = errors.New("boot already ran")

	// ErrNotBooted is returned by control operations before a successful boot.
	ErrNotBooted = errors.New("boot has not completed")

	// ErrMissingRegistry is returned by New without a registry.
	ErrMissingRegistry = errors.New("registry is required")
)

// BackoffPolicy shapes the delay between init retries.
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64
}

// Policy is the operator-tunable recovery behavior.
type Policy struct {
	// MaxAttempts caps init attempts per subsystem unless its descriptor overrides it.
	MaxAttempts int
	Backoff     BackoffPolicy
	// ReclaimThreshold is the ledger usage at or above which an optional
	// subsystem is rolled back to free resources after a Resource failure.
	// Zero disables reclaim.
	ReclaimThreshold uint64
	// CallTimeout bounds each lifecycle call through its context. Zero means none.
	CallTimeout time.Duration
}

// DefaultPolicy returns three attempts with 100ms doubling backoff capped at 2s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: BackoffPolicy{
			Initial:    100 * time.Millisecond,
			Multiplier: 2,
			Max:        2 * time.Second,
		},
	}
}

// FatalError is the kernel halt diagnostic: the mandatory subsystem and the
// failure kind that aborted boot.
type FatalError struct {
	Subsystem subsystem.ID
	Name      string
	Phase     phase.Phase
	Kind      initerr.Kind
	Err       *initerr.InitError
	// Rollback carries failures of the compensating actions run on the way out.
	Rollback error
}

func (e *FatalError) Error() string {
	who := e.Name
	if who == "" {
		who = "phase " + e.Phase.String()
	}
	msg := fmt.Sprintf("kernel panic: %s failed in phase %s with %s error", who, e.Phase, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Rollback != nil {
		msg += " (rollback: " + e.Rollback.Error() + ")"
	}
	return msg
}

func (e *FatalError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the recovery policy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithJournal records boot events into s.
func WithJournal(s journal.Sink) Option {
	return func(o *Orchestrator) { o.journal = s }
}

// WithSleep replaces the retry wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithTracker shares a phase tracker with diagnostics.
func WithTracker(t *phase.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithDirectory shares a service directory.
func WithDirectory(d *initctx.Directory) Option {
	return func(o *Orchestrator) { o.dir = d }
}

// WithBootID fixes the boot id instead of generating one.
func WithBootID(id string) Option {
	return func(o *Orchestrator) { o.bootID = id }
}

// Orchestrator owns the registry for the lifetime of the kernel. RunBoot and
// the control operations are serialized through one mutex.
type Orchestrator struct {
	reg     *registry.Registry
	dir     *initctx.Directory
	tracker *phase.Tracker
	policy  Policy
	logger  zerolog.Logger
	tracer  trace.Tracer
	journal journal.Sink
	sleep   func(context.Context, time.Duration) error
	bootID  string
	seq     atomic.Int64

	mu       sync.Mutex
	ran      bool
	booted   atomic.Bool
	fatal    *FatalError
	degraded []subsystem.ID
	cleaned  map[subsystem.ID]bool
}

// New builds an orchestrator over reg.
func New(reg *registry.Registry, opts ...Option) (*Orchestrator, error) {
	if reg == nil {
		return nil, ErrMissingRegistry
	}
	o := &Orchestrator{
		reg:     reg,
		policy:  DefaultPolicy(),
		logger:  log.WithComponent("orchestrator"),
		tracer:  telemetry.Tracer(telemetry.InstrumentationName),
		journal: journal.Nop{},
		sleep:   sleepContext,
		cleaned: make(map[subsystem.ID]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dir == nil {
		o.dir = initctx.NewDirectory()
	}
	if o.tracker == nil {
		o.tracker = phase.NewTracker()
	}
	if o.bootID == "" {
		o.bootID = journal.NewBootID()
	}
	if o.policy.MaxAttempts <= 0 {
		o.policy.MaxAttempts = 1
	}
	o.logger = o.logger.With().Str(log.FieldBootID, o.bootID).Logger()
	reg.AddTransitionHook(o.onTransition)
	return o, nil
}

// BootID returns the identifier stamped on every journal event and log line.
func (o *Orchestrator) BootID() string { return o.bootID }

// Registry returns the owned registry for read-only consumers.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Tracker returns the phase tracker.
func (o *Orchestrator) Tracker() *phase.Tracker { return o.tracker }

// Directory returns the published service directory.
func (o *Orchestrator) Directory() *initctx.Directory { return o.dir }

// Booted reports whether RunBoot completed every phase.
func (o *Orchestrator) Booted() bool { return o.booted.Load() }

// Fatal returns the halt diagnostic of an aborted boot.
func (o *Orchestrator) Fatal() *FatalError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fatal
}

// Degraded returns the optional subsystems quarantined in Stopped during boot.
func (o *Orchestrator) Degraded() []subsystem.ID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]subsystem.ID, len(o.degraded))
	copy(out, o.degraded)
	return out
}

func (o *Orchestrator) attemptsFor(d subsystem.Descriptor) int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return o.policy.MaxAttempts
}

func (o *Orchestrator) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	bp := o.policy.Backoff
	if bp.Initial > 0 {
		b.InitialInterval = bp.Initial
	}
	if bp.Multiplier >= 1 {
		b.Multiplier = bp.Multiplier
	}
	if bp.Max > 0 {
		b.MaxInterval = bp.Max
	}
	b.RandomizationFactor = bp.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.policy.CallTimeout > 0 {
		return context.WithTimeout(ctx, o.policy.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// invoke runs one lifecycle call, turning a panic into an Internal failure.
func invoke(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			ie := initerr.Newf(initerr.Internal, "panic in lifecycle call: %v", p)
			ie.CallSite = initerr.RecoveredAt()
			err = ie
		}
	}()
	return fn()
}
