// Package journal persists the lock table rows that let a crashed node
// recover its in-flight acquisitions instead of losing them. Every row is
// keyed by the holder's NodeID triple and carries a status of "catchup"
// (ACQUIRE sent, CONFIRM not yet committed) or "acquired" (CONFIRM
// committed). The unique constraint on that triple is what makes a
// concurrent ACQUIRE from two origins race safely: only one insert wins,
// and the loser gets a constraint violation it turns into a DECLINE.
package journal

import (
	"context"
	"errors"
	"time"

	"distributed-ddlock/internal/lock"
)

// Status is the persisted lifecycle stage of a journal row.
type Status string

const (
	StatusCatchup  Status = "catchup"
	StatusAcquired Status = "acquired"
)

// Row mirrors the journal table schema: the holder triple identifies whose
// lock this is, owner identifies the node whose journal the row lives in
// (the node that granted the holder's ACQUIRE locally).
type Row struct {
	DBID       uint32
	Kind       lock.Kind
	Holder     lock.NodeID
	Owner      lock.NodeID
	Name       string
	Status     Status
	AcquiredAt time.Time
}

// ErrUniqueViolation is returned by InsertCatchup when a row already
// exists for the given holder triple — the concurrent-ACQUIRE race the
// unique constraint is there to arbitrate.
var ErrUniqueViolation = errors.New("journal: unique violation on holder triple")

// ErrNotFound is returned by Promote when the expected row is missing;
// Delete reports a missing row as a zero count instead. The Coordinator
// does not treat it as fatal: confirm logs a warning and sends no
// CONFIRM, and the upgrade path ignores it.
var ErrNotFound = errors.New("journal: row not found")

// ErrAmbiguous is returned by Promote when more than one row matches —
// the unique constraint should make this impossible outside of a bug or a
// hand-edited table.
var ErrAmbiguous = errors.New("journal: multiple rows matched")

// Journal is the persistence contract the Coordinator depends on. It is
// satisfied by both a real SQL-backed adapter and an in-memory
// implementation used in tests and single-process demos; both enforce the
// same uniqueness and row-count invariants so the Coordinator's logic
// never has to special-case which one it's talking to.
type Journal interface {
	// InsertCatchup creates a "catchup" row for holder. Returns
	// ErrUniqueViolation if a row for that holder triple already exists.
	InsertCatchup(ctx context.Context, row Row) error

	// Promote flips the row for holder from "catchup" to "acquired" and
	// commits that change on its own; it does not join the transaction
	// of a CONFIRM send. Postgres.TxPromote runs the same update inside a
	// caller-supplied pgx.Tx, and nothing in this module calls it.
	Promote(ctx context.Context, dbid uint32, holder lock.NodeID) error

	// Delete removes the row(s) for holder, returning the number of
	// rows removed. Zero is not an error here — release-without-a-row
	// is a logged protocol warning, not a fatal condition.
	Delete(ctx context.Context, dbid uint32, holder lock.NodeID) (int, error)

	// ScanDatabase returns every row for dbid, used by startup recovery.
	ScanDatabase(ctx context.Context, dbid uint32) ([]Row, error)

	// DeleteByHolderNode removes every row across all databases whose
	// holder's NodeID equals origin, used when a remote START tells us
	// that node just restarted and owns nothing anymore.
	DeleteByHolderNode(ctx context.Context, origin lock.NodeID) ([]Row, error)
}
