// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

func stub(name string, p phase.Phase, prio int, deps ...string) *Base {
	d := subsystem.Descriptor{Name: name, Phase: p, Priority: prio}
	for _, dep := range deps {
		d.Dependencies = append(d.Dependencies, subsystem.IDFromName(dep))
	}
	return &Base{Desc: d}
}

func id(name string) subsystem.ID { return subsystem.IDFromName(name) }

func mustRegister(t *testing.T, r *Registry, subs ...Subsystem) {
	t.Helper()
	for _, s := range subs {
		_, err := r.Register(s)
		require.NoError(t, err)
	}
}

func TestRegisterAssignsNameID(t *testing.T) {
	r := New()
	got, err := r.Register(stub("heap", phase.Early, 0))
	require.NoError(t, err)
	assert.Equal(t, id("heap"), got)

	st, err := r.StateOf(got)
	require.NoError(t, err)
	assert.Equal(t, subsystem.Registered, st)
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	mustRegister(t, r, stub("heap", phase.Early, 0))
	_, err := r.Register(stub("heap", phase.Core, 0))
	require.Error(t, err)
	assert.Equal(t, initerr.Config, initerr.KindOf(err))
	assert.Equal(t, 1, r.Len())
}

func TestRegisterRejectsInvalidDescriptor(t *testing.T) {
	r := New()
	_, err := r.Register(&Base{})
	assert.Equal(t, initerr.Config, initerr.KindOf(err))

	_, err = r.Register(stub("weird", phase.Phase(9), 0))
	assert.Equal(t, initerr.Config, initerr.KindOf(err))

	_, err = r.Register(nil)
	assert.Equal(t, initerr.Config, initerr.KindOf(err))
}

func TestForwardDependencyRejectedAtRegistration(t *testing.T) {
	tests := []struct {
		name  string
		first Subsystem
		later Subsystem
	}{
		{
			name:  "dependency already registered",
			first: stub("vfs", phase.Late, 0),
			later: stub("sched", phase.Core, 0, "vfs"),
		},
		{
			name:  "dependency registered afterwards",
			first: stub("sched", phase.Core, 0, "vfs"),
			later: stub("vfs", phase.Late, 0),
		},
		{
			name:  "tag provider already registered",
			first: &Base{Desc: subsystem.Descriptor{Name: "net", Phase: phase.Late, Provides: []phase.Capability{phase.Network}}},
			later: &Base{Desc: subsystem.Descriptor{Name: "early-net", Phase: phase.Early, Needs: []phase.Capability{phase.Network}}},
		},
		{
			name:  "tag provider registered afterwards",
			first: &Base{Desc: subsystem.Descriptor{Name: "early-net", Phase: phase.Early, Needs: []phase.Capability{phase.Network}}},
			later: &Base{Desc: subsystem.Descriptor{Name: "net", Phase: phase.Late, Provides: []phase.Capability{phase.Network}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			mustRegister(t, r, tt.first)
			_, err := r.Register(tt.later)
			require.Error(t, err)
			assert.Equal(t, initerr.Config, initerr.KindOf(err))
			assert.Equal(t, 1, r.Len())
		})
	}
}

func TestSameOrEarlierPhaseDependencyAccepted(t *testing.T) {
	r := New()
	mustRegister(t, r,
		stub("heap", phase.Early, 0),
		stub("sched", phase.Core, 0, "heap"),
		stub("timers", phase.Core, 0, "sched"),
	)
	assert.Equal(t, 3, r.Len())
}

func TestOrderDependenciesFirst(t *testing.T) {
	r := New()
	// c -> b -> a inside Core, with priorities that would invert the order.
	mustRegister(t, r,
		stub("c", phase.Core, 100, "b"),
		stub("b", phase.Core, 50, "a"),
		stub("a", phase.Core, 1),
		stub("other", phase.Late, 0),
	)

	order, err := r.OrderForPhase(phase.Core)
	require.NoError(t, err)
	if diff := cmp.Diff([]subsystem.ID{id("a"), id("b"), id("c")}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderTieBreaks(t *testing.T) {
	r := New()
	mustRegister(t, r,
		&Base{Desc: subsystem.Descriptor{ID: 3, Name: "x3", Phase: phase.Late, Priority: 1}},
		&Base{Desc: subsystem.Descriptor{ID: 1, Name: "x1", Phase: phase.Late, Priority: 1}},
		&Base{Desc: subsystem.Descriptor{ID: 2, Name: "x2", Phase: phase.Late, Priority: 9}},
		&Base{Desc: subsystem.Descriptor{ID: 4, Name: "x4", Phase: phase.Late, Priority: 5, Dependencies: []subsystem.ID{3}}},
	)

	order, err := r.OrderForPhase(phase.Late)
	require.NoError(t, err)
	// 2 (prio 9) first, then 1 and 3 tie on priority and go by id; 4 waits for 3.
	assert.Equal(t, []subsystem.ID{2, 1, 3, 4}, order)

	again, err := r.OrderForPhase(phase.Late)
	require.NoError(t, err)
	assert.Equal(t, order, again)
}

func TestOrderDependencyPropertyOverManyGraphs(t *testing.T) {
	// A layered DAG where every node depends on some earlier nodes; the output
	// must place every dependency before its dependent.
	r := New()
	const n = 30
	for i := 0; i < n; i++ {
		d := subsystem.Descriptor{ID: subsystem.ID(i + 1), Name: "", Phase: phase.Core, Priority: (i * 7) % 5}
		d.Name = "n" + string(rune('A'+i))
		for j := 0; j < i; j++ {
			if (i*j)%3 == 1 {
				d.Dependencies = append(d.Dependencies, subsystem.ID(j+1))
			}
		}
		mustRegister(t, r, &Base{Desc: d})
	}

	order, err := r.OrderForPhase(phase.Core)
	require.NoError(t, err)
	require.Len(t, order, n)

	pos := make(map[subsystem.ID]int, n)
	for i, sid := range order {
		pos[sid] = i
	}
	for _, e := range r.Entries() {
		for _, dep := range e.Desc.Dependencies {
			assert.Less(t, pos[dep], pos[e.Desc.ID], "%s must follow %s", e.Desc.ID, dep)
		}
	}
}

func TestOrderCycleIsDeterministic(t *testing.T) {
	r := New()
	mustRegister(t, r,
		stub("a", phase.Core, 0, "c"),
		stub("b", phase.Core, 0, "a"),
		stub("c", phase.Core, 0, "b"),
		stub("free", phase.Core, 0),
	)

	var first string
	for i := 0; i < 5; i++ {
		order, err := r.OrderForPhase(phase.Core)
		require.Error(t, err)
		assert.Nil(t, order)
		assert.Equal(t, initerr.Dependency, initerr.KindOf(err))
		if i == 0 {
			first = err.Error()
		}
		assert.Equal(t, first, err.Error())
	}
	assert.Contains(t, first, "cycle")
}

func TestOrderSelfDependencyIsCycle(t *testing.T) {
	r := New()
	mustRegister(t, r, stub("loop", phase.Boot, 0, "loop"))
	_, err := r.OrderForPhase(phase.Boot)
	assert.Equal(t, initerr.Dependency, initerr.KindOf(err))
}

func TestOrderMissingDependency(t *testing.T) {
	r := New()
	mustRegister(t, r, stub("sched", phase.Core, 0, "ghost"))
	_, err := r.OrderForPhase(phase.Core)
	require.Error(t, err)
	assert.Equal(t, initerr.Dependency, initerr.KindOf(err))
}

func TestOrderByTag(t *testing.T) {
	r := New()
	mustRegister(t, r,
		&Base{Desc: subsystem.Descriptor{Name: "vfs", Phase: phase.Late, Priority: 10, Needs: []phase.Capability{phase.Drivers}}},
		&Base{Desc: subsystem.Descriptor{Name: "blk", Phase: phase.Late, Priority: 1, Provides: []phase.Capability{phase.Drivers}}},
	)
	order, err := r.OrderForPhase(phase.Late)
	require.NoError(t, err)
	assert.Equal(t, []subsystem.ID{id("blk"), id("vfs")}, order)

	assert.Equal(t, []subsystem.ID{id("vfs")}, r.Dependents(id("blk")))
	assert.Equal(t, []subsystem.ID{id("blk")}, r.Providers(phase.Drivers))
}

func TestOrderNeededTagWithoutProvider(t *testing.T) {
	r := New()
	mustRegister(t, r, &Base{Desc: subsystem.Descriptor{Name: "vfs", Phase: phase.Late, Needs: []phase.Capability{phase.Drivers}}})
	_, err := r.OrderForPhase(phase.Late)
	assert.Equal(t, initerr.Dependency, initerr.KindOf(err))
}

func TestGlobalOrder(t *testing.T) {
	r := New()
	mustRegister(t, r,
		stub("shell", phase.Runtime, 0, "vfs"),
		stub("vfs", phase.Late, 0, "sched"),
		stub("sched", phase.Core, 0, "heap"),
		stub("heap", phase.Early, 0),
		stub("console", phase.Boot, 0),
	)
	order, err := r.GlobalOrder()
	require.NoError(t, err)
	assert.Equal(t, []subsystem.ID{id("console"), id("heap"), id("sched"), id("vfs"), id("shell")}, order)
}

func TestSetState(t *testing.T) {
	r := New()
	mustRegister(t, r, stub("heap", phase.Early, 0))

	var seen []Transition
	r.AddTransitionHook(func(tr Transition) { seen = append(seen, tr) })

	require.NoError(t, r.SetState(id("heap"), subsystem.Validating))
	require.NoError(t, r.SetState(id("heap"), subsystem.Ready))

	err := r.SetState(id("heap"), subsystem.Active)
	require.Error(t, err)
	assert.Equal(t, initerr.Internal, initerr.KindOf(err))

	st, _ := r.StateOf(id("heap"))
	assert.Equal(t, subsystem.Ready, st)

	require.Len(t, seen, 2)
	assert.Equal(t, subsystem.Registered, seen[0].From)
	assert.Equal(t, subsystem.Ready, seen[1].To)
	assert.Equal(t, "heap", seen[1].Name)

	err = r.SetState(id("ghost"), subsystem.Validating)
	assert.Equal(t, initerr.Internal, initerr.KindOf(err))

	_, err = r.StateOf(id("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDescriptorHook(t *testing.T) {
	r := New(WithDescriptorHook(func(d subsystem.Descriptor) subsystem.Descriptor {
		if d.Name == "ipc" {
			d.Mandatory = true
		}
		return d
	}))
	mustRegister(t, r, stub("ipc", phase.Core, 0))
	d, ok := r.LookupName("ipc")
	require.True(t, ok)
	assert.True(t, d.Mandatory)
}

func TestBaseCheckDeps(t *testing.T) {
	r := New()
	heap := stub("heap", phase.Early, 0)
	sched := stub("sched", phase.Core, 0, "heap")
	mustRegister(t, r, heap, sched)

	err := sched.CheckDeps(r)
	require.Error(t, err)
	assert.Equal(t, initerr.Dependency, initerr.KindOf(err))
	assert.Contains(t, err.Error(), "heap is Registered")

	for _, s := range []subsystem.State{subsystem.Validating, subsystem.Ready, subsystem.Initializing, subsystem.Active} {
		require.NoError(t, r.SetState(id("heap"), s))
	}
	assert.NoError(t, sched.CheckDeps(r))
	assert.NoError(t, sched.Validate())
}

func TestEntriesInRegistrationOrder(t *testing.T) {
	r := New()
	mustRegister(t, r, stub("z", phase.Boot, 0), stub("a", phase.Boot, 0), stub("m", phase.Boot, 0))
	var names []string
	for _, e := range r.Entries() {
		names = append(names, e.Desc.Name)
	}
	assert.Equal(t, []string{"z", "a", "m"}, names)
}
