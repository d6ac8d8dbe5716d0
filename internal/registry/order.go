// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"cmp"
	"slices"
	"strings"

	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

// OrderForPhase returns the initialization order of the subsystems registered
// for p: dependencies inside the phase first, then higher priority, then lower
// id. Dependencies on earlier phases impose no order here. A missing
// dependency, a needed tag without provider, or a cycle fails with Dependency.
func (r *Registry) OrderForPhase(p phase.Phase) ([]subsystem.ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make(map[subsystem.ID]*Entry)
	for id, e := range r.entries {
		if e.Desc.Phase == p {
			members[id] = e
		}
	}
	edges, err := r.edges(members)
	if err != nil {
		return nil, err
	}
	return topoSort(members, edges, byPriority)
}

// GlobalOrder returns every registered subsystem in dependency order across
// phases: earlier phase first, then as OrderForPhase. Shutdown walks it in
// reverse.
func (r *Registry) GlobalOrder() ([]subsystem.ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make(map[subsystem.ID]*Entry, len(r.entries))
	for id, e := range r.entries {
		members[id] = e
	}
	edges, err := r.edges(members)
	if err != nil {
		return nil, err
	}
	return topoSort(members, edges, func(a, b *Entry) int {
		if c := cmp.Compare(a.Desc.Phase, b.Desc.Phase); c != 0 {
			return c
		}
		return byPriority(a, b)
	})
}

// edges maps each member to the members it must follow. Dependencies outside
// members are only checked for existence.
func (r *Registry) edges(members map[subsystem.ID]*Entry) (map[subsystem.ID][]subsystem.ID, error) {
	edges := make(map[subsystem.ID][]subsystem.ID, len(members))
	for _, id := range sortedKeys(members) {
		e := members[id]
		add := func(dep subsystem.ID) {
			if dep == id {
				// Self edge: never satisfiable, surfaces as a cycle.
				edges[id] = append(edges[id], dep)
				return
			}
			if _, in := members[dep]; in && !slices.Contains(edges[id], dep) {
				edges[id] = append(edges[id], dep)
			}
		}
		for _, dep := range e.Desc.Dependencies {
			if _, ok := r.entries[dep]; !ok {
				return nil, initerr.Newf(initerr.Dependency, "depends on unregistered subsystem %s", dep).For(e.Desc)
			}
			add(dep)
		}
		for _, tag := range e.Desc.Needs {
			found := false
			for pid, pe := range r.entries {
				if pid != id && pe.Desc.ProvidesTag(tag) {
					found = true
					add(pid)
				}
			}
			if !found {
				return nil, initerr.Newf(initerr.Dependency, "no subsystem provides %s", tag).For(e.Desc)
			}
		}
	}
	return edges, nil
}

// topoSort is Kahn's algorithm choosing, at every step, the first ready member
// under compare.
func topoSort(members map[subsystem.ID]*Entry, edges map[subsystem.ID][]subsystem.ID, compare func(a, b *Entry) int) ([]subsystem.ID, error) {
	indegree := make(map[subsystem.ID]int, len(members))
	dependents := make(map[subsystem.ID][]subsystem.ID, len(members))
	for id := range members {
		indegree[id] = len(edges[id])
		for _, dep := range edges[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []*Entry
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, members[id])
		}
	}

	order := make([]subsystem.ID, 0, len(members))
	for len(ready) > 0 {
		slices.SortFunc(ready, compare)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next.Desc.ID)
		for _, dep := range dependents[next.Desc.ID] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, members[dep])
			}
		}
	}

	if len(order) != len(members) {
		var stuck []string
		for _, id := range sortedKeys(members) {
			if indegree[id] > 0 {
				stuck = append(stuck, members[id].Desc.Label())
			}
		}
		return nil, initerr.Newf(initerr.Dependency, "dependency cycle among %s", strings.Join(stuck, ", "))
	}
	return order, nil
}

func byPriority(a, b *Entry) int {
	if c := cmp.Compare(b.Desc.Priority, a.Desc.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Desc.ID, b.Desc.ID)
}

func sortedKeys(m map[subsystem.ID]*Entry) []subsystem.ID {
	ids := make([]subsystem.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []subsystem.ID) {
	slices.Sort(ids)
}

func sortEntries(es []Entry) {
	slices.SortFunc(es, func(a, b Entry) int { return cmp.Compare(a.seq, b.seq) })
}
