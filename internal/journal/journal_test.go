// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvents(bootID string) []Event {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Event{
		{BootID: bootID, Seq: 2, Time: t0.Add(2 * time.Millisecond), Kind: Transition, Phase: "Early",
			SubsystemID: 0xaf63dc4c8601ec8c, Subsystem: "heap", OldState: "Ready", NewState: "Initializing"},
		{BootID: bootID, Seq: 1, Time: t0, Kind: BootStart},
		{BootID: bootID, Seq: 3, Time: t0.Add(3 * time.Millisecond), Kind: Failure, Phase: "Early",
			Subsystem: "heap", ErrorKind: "resource", Message: "pool empty"},
	}
}

func TestNewBootID(t *testing.T) {
	id := NewBootID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewBootID())
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, ev := range sampleEvents("a") {
		require.NoError(t, m.Record(ctx, ev))
	}
	require.NoError(t, m.Record(ctx, Event{BootID: "b", Seq: 1, Kind: BootStart}))

	evs, err := m.Events(ctx, "a")
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{evs[0].Seq, evs[1].Seq, evs[2].Seq})

	all, err := m.Events(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, []Kind{Transition, BootStart, Failure, BootStart}, m.Kinds())

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Record(ctx, Event{}), ErrClosed)
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	assert.NoError(t, s.Record(context.Background(), Event{Kind: BootStart}))
	assert.NoError(t, s.Close())
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := OpenSQLite(path, DefaultSQLiteConfig())
	require.NoError(t, err)
	for _, ev := range sampleEvents("boot-1") {
		require.NoError(t, s.Record(ctx, ev))
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")
	assert.ErrorIs(t, s.Record(ctx, Event{}), ErrClosed)

	// Reopen: events survive and come back in sequence order.
	s, err = OpenSQLite(path, SQLiteConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	evs, err := s.Events(ctx, "boot-1")
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, BootStart, evs[0].Kind)
	assert.Equal(t, "heap", evs[1].Subsystem)
	assert.Equal(t, uint64(0xaf63dc4c8601ec8c), evs[1].SubsystemID)
	assert.Equal(t, "Initializing", evs[1].NewState)
	assert.Equal(t, "resource", evs[2].ErrorKind)
	assert.True(t, evs[2].Time.Equal(sampleEvents("x")[2].Time))

	boots, err := s.Boots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"boot-1"}, boots)

	problems, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.Nil(t, problems)
}

func TestSQLiteDuplicateSeqRejected(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "j.db"), DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Record(ctx, Event{BootID: "x", Seq: 1, Kind: BootStart}))
	assert.Error(t, s.Record(ctx, Event{BootID: "x", Seq: 1, Kind: BootStart}))
}
