// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package initerr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

func TestPolicyTable(t *testing.T) {
	tests := []struct {
		kind      Kind
		severity  Severity
		retryable bool
		rollback  RollbackPolicy
	}{
		{Timeout, Medium, true, RollbackMaybe},
		{Resource, High, false, RollbackYes},
		{Dependency, High, false, RollbackYes},
		{Hardware, Critical, false, RollbackPartial},
		{Config, Medium, false, RollbackNo},
		{Internal, Critical, false, RollbackYes},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			p := PolicyFor(tt.kind)
			assert.Equal(t, tt.severity, p.Severity)
			assert.Equal(t, tt.retryable, p.Retryable)
			assert.Equal(t, tt.rollback, p.Rollback)

			e := New(tt.kind, "boom")
			assert.Equal(t, tt.severity, e.Severity)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, tt.rollback, e.Rollback)
		})
	}

	assert.Equal(t, PolicyFor(Internal), PolicyFor(Kind(42)))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, Timeout},
		{"os deadline", fmt.Errorf("poll: %w", os.ErrDeadlineExceeded), Timeout},
		{"timeout sentinel", ErrTimeout, Timeout},
		{"wrapped resource", fmt.Errorf("alloc 4MiB: %w", ErrResource), Resource},
		{"dependency", ErrDependency, Dependency},
		{"hardware", ErrHardware, Hardware},
		{"config", ErrConfig, Config},
		{"internal sentinel", ErrInternal, Internal},
		{"bad transition", subsystem.CheckTransition(subsystem.Ready, subsystem.Active), Internal},
		{"unknown", errors.New("mystery"), Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(tt.raw)
			require.NotNil(t, e)
			assert.Equal(t, tt.want, e.Kind)
			assert.Equal(t, PolicyFor(tt.want).Retryable, e.Retryable)
			assert.ErrorIs(t, e, tt.raw)
		})
	}

	assert.Nil(t, Classify(nil))
}

func TestClassifyKeepsClassifiedErrors(t *testing.T) {
	orig := New(Hardware, "no device")
	orig.Retryable = true
	wrapped := fmt.Errorf("probe: %w", orig)

	got := Classify(wrapped)
	assert.Same(t, orig, got)
	assert.True(t, got.Retryable, "classification must not reset an explicit policy")
}

func TestClassifyIsPure(t *testing.T) {
	raw := errors.New("mystery")
	a := Classify(raw)
	b := Classify(raw)
	assert.Equal(t, a.Kind, b.Kind)
	assert.Equal(t, "mystery", raw.Error())
}

func TestInternalRecordsCallSite(t *testing.T) {
	e := Classify(errors.New("mystery"))
	assert.True(t, strings.HasPrefix(e.CallSite, "initerr/initerr_test.go:"), e.CallSite)

	e = New(Internal, "bad")
	assert.Contains(t, e.CallSite, "initerr_test.go:")

	e = Wrap(Internal, errors.New("x"), "bad")
	assert.Contains(t, e.CallSite, "initerr_test.go:")

	assert.Empty(t, New(Config, "bad").CallSite)
}

func explode() {
	panic("boom")
}

func TestRecoveredAtNamesPanickingFrame(t *testing.T) {
	var site string
	func() {
		defer func() {
			require.NotNil(t, recover())
			site = RecoveredAt()
		}()
		explode()
	}()
	assert.True(t, strings.HasPrefix(site, "initerr/initerr_test.go:"), site)
	assert.NotContains(t, site, "runtime")
}

func TestIsMatchesKindSentinel(t *testing.T) {
	e := New(Resource, "oom")
	assert.ErrorIs(t, e, ErrResource)
	assert.NotErrorIs(t, e, ErrTimeout)
	assert.ErrorIs(t, fmt.Errorf("init: %w", e), ErrResource)
}

func TestErrorString(t *testing.T) {
	d := subsystem.Descriptor{Name: "ipc", Phase: phase.Core}.Normalize()
	e := Wrap(Resource, errors.New("pool empty"), "message queues").For(d)

	assert.Equal(t, "ipc: resource: message queues: pool empty", e.Error())
	assert.Equal(t, d.ID, e.Subsystem)
	assert.Equal(t, phase.Core, e.Phase)
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(strings.ToUpper(k.String()))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("panic")
	assert.Error(t, err)
}
