// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantsGrowMonotonically(t *testing.T) {
	phases := All()
	for i := 1; i < len(phases); i++ {
		prev := phases[i-1].Grants()
		cur := phases[i].Grants()
		for _, c := range prev.List() {
			assert.Truef(t, cur.Has(c), "%s lost %s granted in %s", phases[i], c, phases[i-1])
		}
	}
}

func TestGrantsPerPhase(t *testing.T) {
	tests := []struct {
		phase   Phase
		granted []Capability
		denied  []Capability
	}{
		{Boot, []Capability{Console}, []Capability{Heap, Interrupts, Scheduler}},
		{Early, []Capability{Heap, Memory}, []Capability{Interrupts, Scheduler, Drivers}},
		{Core, []Capability{Interrupts, Scheduler, Timers}, []Capability{Drivers, Filesystem}},
		{Late, []Capability{Drivers, Filesystem, Network, IPC}, []Capability{HotReload}},
		{Runtime, []Capability{HotReload, Debug, Userspace}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			g := tt.phase.Grants()
			for _, c := range tt.granted {
				assert.True(t, g.Has(c), "expected %s", c)
			}
			for _, c := range tt.denied {
				assert.False(t, g.Has(c), "unexpected %s", c)
			}
		})
	}
}

func TestParse(t *testing.T) {
	for _, p := range All() {
		got, err := Parse(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := Parse("userland")
	assert.Error(t, err)

	var p Phase
	require.NoError(t, p.UnmarshalText([]byte(" late ")))
	assert.Equal(t, Late, p)
}

func TestNext(t *testing.T) {
	n, ok := Boot.Next()
	assert.True(t, ok)
	assert.Equal(t, Early, n)

	_, ok = Runtime.Next()
	assert.False(t, ok)
}

func TestCapabilitySet(t *testing.T) {
	s := NewSet(Heap, Timers)
	assert.True(t, s.Has(Heap))
	assert.False(t, s.Has(Console))
	assert.False(t, s.Has(0))
	assert.Equal(t, "{heap,timers}", s.String())

	s2 := s.With(Console).Without(Heap)
	assert.Equal(t, []Capability{Console, Timers}, s2.List())
	assert.True(t, s.Has(Heap), "With/Without must not mutate the receiver")

	c, err := ParseCapability("HOT_RELOAD")
	require.NoError(t, err)
	assert.Equal(t, HotReload, c)

	_, err = ParseCapability("gpu")
	assert.Error(t, err)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	_, started := tr.Current()
	assert.False(t, started)

	tr.Begin(Boot, 2)
	clock = clock.Add(50 * time.Millisecond)
	tr.Complete(Boot)

	tr.Begin(Early, 1)
	tr.Fail(Early, "heap: resource")
	tr.Skip(Core)

	boot := tr.Get(Boot)
	assert.Equal(t, Complete, boot.Status)
	assert.Equal(t, 50*time.Millisecond, boot.Duration)
	assert.Equal(t, 2, boot.Subsystems)

	early := tr.Get(Early)
	assert.Equal(t, Failed, early.Status)
	assert.Equal(t, "heap: resource", early.Failure)

	cur, started := tr.Current()
	assert.True(t, started)
	assert.Equal(t, Core, cur)
	assert.False(t, tr.Finished())

	snap := tr.Snapshot()
	require.Len(t, snap, 5)
	assert.Equal(t, Pending, snap[4].Status)
}
