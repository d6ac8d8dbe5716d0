// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes the Prometheus instruments of the boot orchestrator.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_subsystem_transitions_total",
		Help: "Lifecycle state transitions by phase and target state",
	}, []string{"phase", "to"})

	subsystemState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "helix_subsystem_state",
		Help: "Current lifecycle state per subsystem (1 for the active state label)",
	}, []string{"subsystem", "state"})

	initFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_init_failures_total",
		Help: "Classified lifecycle failures by phase and error kind",
	}, []string{"phase", "kind"})

	initRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_init_retries_total",
		Help: "Init retries scheduled after a retryable failure",
	}, []string{"phase"})

	initDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helix_init_duration_seconds",
		Help:    "Duration of a single subsystem init+start attempt",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"phase", "result"})

	rollbackActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_rollback_actions_total",
		Help: "Executed rollback actions by chain scope and result",
	}, []string{"scope", "result"})

	phaseStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "helix_phase_status",
		Help: "Phase progress: 0 pending, 1 running, 2 complete, 3 failed, 4 skipped",
	}, []string{"phase"})

	phaseDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "helix_phase_duration_seconds",
		Help: "Wall time of the last run of each phase",
	}, []string{"phase"})

	bootAbortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_boot_aborts_total",
		Help: "Boots halted by a mandatory subsystem failure, by error kind",
	}, []string{"kind"})

	controlOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_control_operations_total",
		Help: "Runtime suspend/resume/shutdown requests by result",
	}, []string{"op", "result"})
)

// knownStates bounds the state label of helix_subsystem_state.
var knownStates = []string{
	"Registered", "Validating", "Ready", "Initializing", "Active",
	"Suspending", "Suspended", "Resuming", "Stopped", "Cleaned", "Removed",
}

// RecordTransition counts a transition and moves the per-subsystem state gauge.
func RecordTransition(subsystem, phase, from, to string) {
	transitionsTotal.WithLabelValues(normalizePhase(phase), normalizeState(to)).Inc()
	if from != "" {
		subsystemState.WithLabelValues(subsystem, normalizeState(from)).Set(0)
	}
	subsystemState.WithLabelValues(subsystem, normalizeState(to)).Set(1)
}

// RecordFailure counts one classified failure.
func RecordFailure(phase, kind string) {
	initFailuresTotal.WithLabelValues(normalizePhase(phase), normalizeKind(kind)).Inc()
}

// RecordRetry counts one scheduled retry.
func RecordRetry(phase string) {
	initRetriesTotal.WithLabelValues(normalizePhase(phase)).Inc()
}

// ObserveInit records the duration of one init attempt.
func ObserveInit(phase string, ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	initDuration.WithLabelValues(normalizePhase(phase), result).Observe(d.Seconds())
}

// RecordRollbackAction counts one executed compensating action.
func RecordRollbackAction(scope string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	rollbackActionsTotal.WithLabelValues(normalizeScope(scope), result).Inc()
}

// SetPhaseStatus publishes the tracker status code of a phase.
func SetPhaseStatus(phase string, status int, d time.Duration) {
	p := normalizePhase(phase)
	phaseStatus.WithLabelValues(p).Set(float64(status))
	if d > 0 {
		phaseDuration.WithLabelValues(p).Set(d.Seconds())
	}
}

// RecordBootAbort counts a halted boot.
func RecordBootAbort(kind string) {
	bootAbortsTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

// RecordControlOp counts one runtime control request.
func RecordControlOp(op string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	controlOpsTotal.WithLabelValues(normalizeOp(op), result).Inc()
}

func normalizePhase(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "boot", "early", "core", "late", "runtime":
		return strings.ToLower(strings.TrimSpace(p))
	default:
		return "unknown"
	}
}

func normalizeKind(k string) string {
	switch strings.ToLower(strings.TrimSpace(k)) {
	case "timeout", "resource", "dependency", "hardware", "config", "internal":
		return strings.ToLower(strings.TrimSpace(k))
	default:
		return "unknown"
	}
}

func normalizeState(s string) string {
	for _, st := range knownStates {
		if strings.EqualFold(st, s) {
			return st
		}
	}
	return "unknown"
}

func normalizeScope(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "phase", "subsystem", "control", "reclaim", "shutdown":
		return strings.ToLower(strings.TrimSpace(s))
	default:
		return "unknown"
	}
}

func normalizeOp(op string) string {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "suspend", "resume", "shutdown":
		return strings.ToLower(strings.TrimSpace(op))
	default:
		return "unknown"
	}
}
