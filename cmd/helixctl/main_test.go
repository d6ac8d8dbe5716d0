// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/helixinit/internal/version"
)

const healthyManifest = `
subsystems:
  - name: heap
    phase: early
    mandatory: true
    provides: [heap]
  - name: sched
    phase: core
    priority: 20
    mandatory: true
    deps: [heap]
  - name: timers
    phase: core
    priority: 10
  - name: netdev
    phase: late
    faults:
      - step: init
        kind: hardware
`

const fatalManifest = `
subsystems:
  - name: heap
    phase: early
    mandatory: true
  - name: ipc
    phase: core
    mandatory: true
    faults:
      - step: init
        kind: resource
        message: message queues exhausted
`

const cyclicManifest = `
subsystems:
  - name: a
    phase: core
    deps: [b]
  - name: b
    phase: core
    deps: [a]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestBootPrintsStateTable(t *testing.T) {
	manifest := writeFile(t, "kernel.yaml", healthyManifest)
	out, _, err := run(t, "boot", "--manifest", manifest, "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "sched")
	assert.Contains(t, out, "Active")
	assert.Contains(t, out, "hardware")
}

func TestBootFatalExitsWithDiagnostic(t *testing.T) {
	manifest := writeFile(t, "kernel.yaml", fatalManifest)
	out, stderr, err := run(t, "boot", "--manifest", manifest, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel panic")
	assert.Contains(t, stderr, "ipc")
	assert.Contains(t, out, "message queues exhausted")
}

func TestManifestRequired(t *testing.T) {
	_, _, err := run(t, "boot")
	require.ErrorIs(t, err, errManifestRequired)
}

func TestInvalidPolicyRejected(t *testing.T) {
	policy := writeFile(t, "policy.yaml", "retry:\n  maxAttemps: 3\n")
	manifest := writeFile(t, "kernel.yaml", healthyManifest)
	_, _, err := run(t, "validate", "--config", policy, "--manifest", manifest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy")
}

func TestOrder(t *testing.T) {
	manifest := writeFile(t, "kernel.yaml", healthyManifest)
	out, _, err := run(t, "order", "--manifest", manifest)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "PHASE"))
	assert.Contains(t, lines[1], "heap")
	assert.Contains(t, lines[2], "sched")
	assert.Contains(t, lines[3], "timers")
	assert.Contains(t, lines[4], "netdev")
}

func TestValidate(t *testing.T) {
	manifest := writeFile(t, "kernel.yaml", healthyManifest)
	out, _, err := run(t, "validate", "--manifest", manifest)
	require.NoError(t, err)
	assert.Equal(t, "ok: 4 subsystems across 3 phases\n", out)

	cyclic := writeFile(t, "cyclic.yaml", cyclicManifest)
	_, _, err = run(t, "validate", "--manifest", cyclic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase Core")
}

func TestDiagWritesSnapshot(t *testing.T) {
	manifest := writeFile(t, "kernel.yaml", fatalManifest)
	path := filepath.Join(t.TempDir(), "snap.json")
	out, stderr, err := run(t, "diag", "--manifest", manifest, "--out", path, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, stderr, "boot aborted")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap struct {
		BootID     string `json:"boot_id"`
		Subsystems []struct {
			Name string `json:"name"`
		} `json:"subsystems"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.NotEmpty(t, snap.BootID)
	assert.Len(t, snap.Subsystems, 2)
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	policy := writeFile(t, "policy.yaml", "journal:\n  path: "+filepath.Join(dir, "journal.db")+"\n")
	manifest := writeFile(t, "kernel.yaml", healthyManifest)

	_, _, err := run(t, "boot", "--config", policy, "--manifest", manifest, "--log-level", "error")
	require.NoError(t, err)

	out, _, err := run(t, "journal", "--config", policy, "--verify")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "journal ok", lines[0])
	bootID := lines[1]

	out, _, err = run(t, "journal", bootID, "--config", policy)
	require.NoError(t, err)
	assert.Contains(t, out, "boot.start")
	assert.Contains(t, out, "boot.complete")
	assert.Contains(t, out, "shutdown.complete")

	_, _, err = run(t, "journal", "missing-boot", "--config", policy)
	require.Error(t, err)
}

func TestJournalRequiresPath(t *testing.T) {
	_, _, err := run(t, "journal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal.path")
}

func TestVersionFlag(t *testing.T) {
	out, _, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestContribExamples(t *testing.T) {
	policy := filepath.Join("..", "..", "contrib", "policy.example.yaml")
	manifest := filepath.Join("..", "..", "contrib", "kernel.example.yaml")

	out, _, err := run(t, "validate", "--config", policy, "--manifest", manifest)
	require.NoError(t, err)
	assert.Equal(t, "ok: 10 subsystems across 5 phases\n", out)

	out, _, err = run(t, "boot", "--config", policy, "--manifest", manifest, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "no display controller on bus 0")
	assert.Contains(t, out, "netdev")
}
