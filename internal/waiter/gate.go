// Package waiter is the executor-hook side of the lock, exposing
// CheckDML to every write-path caller and CancelAndDrain to the
// Coordinator for write-blocking acquisitions.
package waiter

import (
	"context"
	"time"

	"distributed-ddlock/internal/lock"
)

// Gate blocks local writers while a Write-class lock is held by someone
// else, and wakes them once it releases. A Ddl-class lock does not block
// them.
type Gate struct {
	table *lock.Table
}

// NewGate wraps the shared Table the Coordinator also owns — both read
// and write the same State slots, serialized by each slot's own mutex.
func NewGate(table *lock.Table) *Gate {
	return &Gate{table: table}
}

// CheckDML is called at the top of every user write. It blocks until the
// database's slot is ready and, if a Write-class lock is held by someone
// other than the caller, until it is released.
func (g *Gate) CheckDML(ctx context.Context, dbid uint32, isHolder func() bool) error {
	s, err := g.table.FindOrCreate(dbid)
	if err != nil {
		return err
	}

	for {
		if !s.IsReady() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		s.Lock()
		if s.HeldLocked() == 0 || s.KindLocked() < lock.Write || isHolder() {
			s.Unlock()
			return nil
		}
		wake := lock.NewWakeHandle()
		s.PushWaiterLocked(wake)
		s.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake.C():
			// Loop back and re-check held under the mutex; the happens-
			// before edge through s.Lock/Unlock is the synchronization
			// point, no separate memory barrier needed.
		}
	}
}
