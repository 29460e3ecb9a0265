package coordinator

import (
	"context"
	"fmt"

	"distributed-ddlock/internal/journal"
	"distributed-ddlock/internal/protocol"
)

// Startup emits START, scans the journal for dbid, and reinstates
// in-memory state from whatever rows survived a crash. Must be called
// once per database after RegisterDatabase and before any DML is
// admitted through the Waiter Gate.
func (c *Coordinator) Startup(ctx context.Context, dbid uint32) error {
	s, err := c.slotFor(dbid)
	if err != nil {
		return err
	}
	if s.IsReady() {
		return nil
	}
	tp, err := c.transportFor(dbid)
	if err != nil {
		return err
	}

	if err := c.send(ctx, tp, protocol.Message{Kind: protocol.KindStart, Origin: c.self}, false); err != nil {
		return fmt.Errorf("coordinator: startup: send start: %w", err)
	}

	rows, err := c.journal.ScanDatabase(ctx, dbid)
	if err != nil {
		return fmt.Errorf("coordinator: startup: scan journal: %w", err)
	}

	for _, row := range rows {
		switch row.Status {
		case journal.StatusAcquired:
			s.Lock()
			s.GrantRemoteLocked(row.Holder, row.Kind)
			s.Unlock()

		case journal.StatusCatchup:
			s.Lock()
			s.GrantRemoteLocked(row.Holder, row.Kind)
			s.Unlock()
			c.requestReplay(ctx, dbid, tp)

		default:
			return fmt.Errorf("coordinator: startup: unknown journal status %q for holder %s", row.Status, row.Holder)
		}
	}

	s.SetReady(true)
	return nil
}
