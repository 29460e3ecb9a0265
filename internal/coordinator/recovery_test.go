package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"distributed-ddlock/internal/journal"
	"distributed-ddlock/internal/lock"
	"distributed-ddlock/internal/peers"
	"distributed-ddlock/internal/transport"
)

// TestStartupReinstatesAcquiredRow covers the crash-recovery path: a row
// left behind with status "acquired" must come back as a held lock
// without any new protocol exchange, since the CONFIRM that produced it
// already committed before the crash.
func TestStartupReinstatesAcquiredRow(t *testing.T) {
	ctx := t.Context()

	self := lock.NodeID{SysID: 1, Timeline: 1, DBID: testDBID}
	holder := lock.NodeID{SysID: 2, Timeline: 1, DBID: testDBID}

	j := journal.NewMemory()
	require.NoError(t, j.InsertCatchup(ctx, journal.Row{
		DBID: testDBID, Kind: lock.Ddl, Holder: holder, Owner: holder,
		Name: "ddl_lock", Status: journal.StatusAcquired, AcquiredAt: time.Now(),
	}))
	require.NoError(t, j.Promote(ctx, testDBID, holder))

	bus := transport.NewBus()
	tp := transport.NewMemory(bus, self)

	cfg := DefaultConfig()
	c := New(cfg, self, j, peers.NewRegistry(nil), nil, zerolog.Nop())
	_, err := c.RegisterDatabase(testDBID, tp)
	require.NoError(t, err)

	go tp.Run(ctx)
	require.NoError(t, c.Startup(ctx, testDBID))

	snap, ok := c.Snapshot(testDBID)
	require.True(t, ok)
	require.True(t, snap.Ready)
	require.Equal(t, uint32(1), snap.Held)
	require.Equal(t, holder, snap.Holder)
	require.Equal(t, lock.Ddl, snap.Kind)
}

// TestStartupIsIdempotent covers the "already ready" early-return: calling
// Startup twice for the same database must not re-send START or re-scan.
func TestStartupIsIdempotent(t *testing.T) {
	ctx := t.Context()
	self := lock.NodeID{SysID: 1, Timeline: 1, DBID: testDBID}

	j := journal.NewMemory()
	bus := transport.NewBus()
	tp := transport.NewMemory(bus, self)

	c := New(DefaultConfig(), self, j, peers.NewRegistry(nil), nil, zerolog.Nop())
	_, err := c.RegisterDatabase(testDBID, tp)
	require.NoError(t, err)

	go tp.Run(ctx)
	require.NoError(t, c.Startup(ctx, testDBID))
	require.NoError(t, c.Startup(ctx, testDBID))
}

// TestStartupRejectsUnknownJournalStatus guards the default branch: a row
// with a status neither "catchup" nor "acquired" means the journal and
// this code have drifted, and recovery must fail loudly rather than guess.
func TestStartupRejectsUnknownJournalStatus(t *testing.T) {
	ctx := t.Context()
	self := lock.NodeID{SysID: 1, Timeline: 1, DBID: testDBID}
	holder := lock.NodeID{SysID: 2, Timeline: 1, DBID: testDBID}

	j := journal.NewMemory()
	require.NoError(t, j.InsertCatchup(ctx, journal.Row{
		DBID: testDBID, Kind: lock.Ddl, Holder: holder, Owner: holder,
		Name: "ddl_lock", Status: journal.Status("bogus"), AcquiredAt: time.Now(),
	}))

	bus := transport.NewBus()
	tp := transport.NewMemory(bus, self)
	c := New(DefaultConfig(), self, bogusStatusJournal{j}, peers.NewRegistry(nil), nil, zerolog.Nop())
	_, err := c.RegisterDatabase(testDBID, tp)
	require.NoError(t, err)

	go tp.Run(ctx)
	require.Error(t, c.Startup(ctx, testDBID))
}

// bogusStatusJournal reports every scanned row with a status Startup does
// not know; Memory.InsertCatchup always stores "catchup", so the status
// cannot be planted through the Journal interface itself.
type bogusStatusJournal struct{ *journal.Memory }

func (b bogusStatusJournal) ScanDatabase(ctx context.Context, dbid uint32) ([]journal.Row, error) {
	rows, err := b.Memory.ScanDatabase(ctx, dbid)
	for i := range rows {
		rows[i].Status = journal.Status("bogus")
	}
	return rows, err
}
