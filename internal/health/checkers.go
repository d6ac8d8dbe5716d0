// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuGH/helixinit/internal/orchestrator"
	"github.com/ManuGH/helixinit/internal/registry"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

// EntrySource lists registry entries.
type EntrySource interface {
	Entries() []registry.Entry
}

// SubsystemChecker is unhealthy while any mandatory subsystem is not Active and
// degraded while an optional one is Stopped.
type SubsystemChecker struct {
	src EntrySource
}

func NewSubsystemChecker(src EntrySource) *SubsystemChecker {
	return &SubsystemChecker{src: src}
}

func (c *SubsystemChecker) Name() string { return "subsystems" }

func (c *SubsystemChecker) Check(context.Context) CheckResult {
	var down, stopped []string
	active := 0
	entries := c.src.Entries()
	for _, e := range entries {
		switch {
		case e.State == subsystem.Active:
			active++
		case e.Desc.Mandatory:
			down = append(down, fmt.Sprintf("%s=%s", e.Desc.Label(), e.State))
		case e.State == subsystem.Stopped:
			stopped = append(stopped, e.Desc.Label())
		}
	}
	switch {
	case len(down) > 0:
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "mandatory subsystems not active",
			Message: strings.Join(sortedNames(down), ", "),
		}
	case len(stopped) > 0:
		return CheckResult{
			Status:  StatusDegraded,
			Message: "optional subsystems stopped: " + strings.Join(sortedNames(stopped), ", "),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d/%d active", active, len(entries))}
}

// BootState is the part of the orchestrator the boot checker watches.
type BootState interface {
	Booted() bool
	Fatal() *orchestrator.FatalError
}

// BootChecker is unhealthy until boot completed and after an abort.
type BootChecker struct {
	boot BootState
}

func NewBootChecker(b BootState) *BootChecker {
	return &BootChecker{boot: b}
}

func (c *BootChecker) Name() string { return "boot" }

func (c *BootChecker) Check(context.Context) CheckResult {
	if f := c.boot.Fatal(); f != nil {
		return CheckResult{Status: StatusUnhealthy, Error: f.Error()}
	}
	if !c.boot.Booted() {
		return CheckResult{Status: StatusUnhealthy, Message: "boot not complete"}
	}
	return CheckResult{Status: StatusHealthy, Message: "boot complete"}
}

// Verifier runs a storage integrity check; nil problems means healthy.
type Verifier interface {
	Verify(ctx context.Context) ([]string, error)
}

// JournalChecker degrades health when the boot journal fails its integrity
// check. The journal never gates readiness.
type JournalChecker struct {
	v Verifier
}

func NewJournalChecker(v Verifier) *JournalChecker {
	return &JournalChecker{v: v}
}

func (c *JournalChecker) Name() string { return "journal" }

func (c *JournalChecker) Check(ctx context.Context) CheckResult {
	problems, err := c.v.Verify(ctx)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	if len(problems) > 0 {
		return CheckResult{Status: StatusDegraded, Error: "integrity check failed", Message: strings.Join(problems, "; ")}
	}
	return CheckResult{Status: StatusHealthy}
}
