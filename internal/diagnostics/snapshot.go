// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package diagnostics renders the read-only state table of the boot: one row
// per subsystem plus per-phase progress, as text, JSON file or HTTP.
package diagnostics

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/helixinit/internal/initctx"
	"github.com/ManuGH/helixinit/internal/orchestrator"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/registry"
)

// Row is one subsystem in the state table.
type Row struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Phase        phase.Phase   `json:"phase"`
	Priority     int           `json:"priority"`
	Mandatory    bool          `json:"mandatory"`
	State        string        `json:"state"`
	Since        time.Time     `json:"since,omitzero"`
	Attempts     int           `json:"attempts"`
	Usage        initctx.Usage `json:"usage"`
	Dependencies []string      `json:"dependencies,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
}

// Snapshot is a point-in-time view of the boot.
type Snapshot struct {
	BootID     string           `json:"boot_id,omitempty"`
	TakenAt    time.Time        `json:"taken_at"`
	Booted     bool             `json:"booted"`
	Fatal      string           `json:"fatal,omitempty"`
	Degraded   []string         `json:"degraded,omitempty"`
	Phases     []phase.Progress `json:"phases"`
	Subsystems []Row            `json:"subsystems"`
}

// Build assembles rows from registry entries, sorted by phase then id.
func Build(entries []registry.Entry, progress []phase.Progress) Snapshot {
	rows := make([]Row, 0, len(entries))
	names := make(map[string]string, len(entries))
	for _, e := range entries {
		names[e.Desc.ID.String()] = e.Desc.Label()
	}
	for _, e := range entries {
		r := Row{
			ID:        e.Desc.ID.String(),
			Name:      e.Desc.Label(),
			Phase:     e.Desc.Phase,
			Priority:  e.Desc.Priority,
			Mandatory: e.Desc.Mandatory,
			State:     e.State.String(),
			Since:     e.Since,
			Attempts:  e.Attempts,
			Usage:     e.Usage,
		}
		for _, dep := range e.Desc.Dependencies {
			name, ok := names[dep.String()]
			if !ok {
				name = dep.String()
			}
			r.Dependencies = append(r.Dependencies, name)
		}
		if e.LastError != nil {
			r.LastError = e.LastError.Error()
			r.ErrorKind = e.LastError.Kind.String()
		}
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b Row) int {
		if c := cmp.Compare(a.Phase, b.Phase); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return Snapshot{TakenAt: time.Now().UTC(), Phases: progress, Subsystems: rows}
}

// Capture snapshots a live orchestrator.
func Capture(o *orchestrator.Orchestrator) Snapshot {
	s := Build(o.Registry().Entries(), o.Tracker().Snapshot())
	s.BootID = o.BootID()
	s.Booted = o.Booted()
	if f := o.Fatal(); f != nil {
		s.Fatal = f.Error()
	}
	for _, id := range o.Degraded() {
		if d, ok := o.Registry().Lookup(id); ok {
			s.Degraded = append(s.Degraded, d.Label())
		}
	}
	return s
}

// Row returns the row with the given id or name.
func (s Snapshot) Row(key string) (Row, bool) {
	for _, r := range s.Subsystems {
		if r.ID == key || r.Name == key {
			return r, true
		}
	}
	return Row{}, false
}

// WriteTable renders the subsystem and phase tables in fixed-width columns.
func WriteTable(w io.Writer, s Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSUBSYSTEM\tID\tPRIO\tMANDATORY\tSTATE\tATTEMPTS\tLAST ERROR")
	for _, r := range s.Subsystems {
		mandatory := "no"
		if r.Mandatory {
			mandatory = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			r.Phase, r.Name, r.ID, r.Priority, mandatory, r.State, r.Attempts, dash(r.LastError))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "PHASE\tSTATUS\tSUBSYSTEMS\tDURATION\tFAILURE")
	for _, p := range s.Phases {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			p.Phase, p.Status, p.Subsystems, p.Duration.Round(time.Microsecond), dash(p.Failure))
	}
	if s.Fatal != "" {
		fmt.Fprintf(tw, "\n%s\n", s.Fatal)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// WriteFile writes s as indented JSON with an atomic, durable replace.
func WriteFile(path string, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending snapshot file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace snapshot file: %w", err)
	}
	return nil
}
