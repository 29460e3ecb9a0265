package journal

import (
	"context"
	"sync"

	"distributed-ddlock/internal/lock"
)

type memKey struct {
	dbid   uint32
	holder lock.NodeID
}

// Memory is an in-process Journal, used by tests and by the single-process
// demo mode. It enforces the same unique-constraint and row-count
// semantics a real table would via Postgres's own unique index.
type Memory struct {
	mu   sync.Mutex
	rows map[memKey]Row
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[memKey]Row)}
}

func (m *Memory) InsertCatchup(ctx context.Context, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey{dbid: row.DBID, holder: row.Holder}
	if _, exists := m.rows[k]; exists {
		return ErrUniqueViolation
	}
	row.Status = StatusCatchup
	m.rows[k] = row
	return nil
}

func (m *Memory) Promote(ctx context.Context, dbid uint32, holder lock.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey{dbid: dbid, holder: holder}
	row, ok := m.rows[k]
	if !ok {
		return ErrNotFound
	}
	row.Status = StatusAcquired
	m.rows[k] = row
	return nil
}

func (m *Memory) Delete(ctx context.Context, dbid uint32, holder lock.NodeID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey{dbid: dbid, holder: holder}
	if _, ok := m.rows[k]; !ok {
		return 0, nil
	}
	delete(m.rows, k)
	return 1, nil
}

func (m *Memory) ScanDatabase(ctx context.Context, dbid uint32) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Row
	for k, row := range m.rows {
		if k.dbid == dbid {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *Memory) DeleteByHolderNode(ctx context.Context, origin lock.NodeID) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []Row
	for k, row := range m.rows {
		if k.holder == origin {
			removed = append(removed, row)
			delete(m.rows, k)
		}
	}
	return removed, nil
}
