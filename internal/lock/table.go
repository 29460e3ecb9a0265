package lock

import (
	"fmt"
	"sync"
)

// ErrConfigLimit is returned when a database needs a slot and the Table
// already holds its maximum number of slots. It mirrors bdr_locks.c raising
// ERRCODE_CONFIGURATION_LIMIT_EXCEEDED out of bdr_locks_find_database: the
// slot array is sized once at boot from configuration, not grown
// dynamically, so exhausting it is a user-facing error, not a panic.
type ErrConfigLimit struct {
	Max int
}

func (e ErrConfigLimit) Error() string {
	return fmt.Sprintf("too many databases locked for max_databases=%d; increase the limit", e.Max)
}

// Table holds one State per database, located by dbid through a map, up
// to a maximum fixed at construction. Slots are added on first use and never freed
// for the life of the process, matching the original's in_use flag that
// is set once and never cleared.
type Table struct {
	mu    sync.Mutex
	slots []*State
	index map[uint32]*State
	max   int
}

// NewTable creates an empty table with room reserved for max slots.
func NewTable(max int) *Table {
	return &Table{
		slots: make([]*State, 0, max),
		index: make(map[uint32]*State, max),
		max:   max,
	}
}

// FindOrCreate returns the slot for dbid, allocating a new one on first
// use. Returns ErrConfigLimit if the table is full and
// dbid has no existing slot.
func (t *Table) FindOrCreate(dbid uint32) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.index[dbid]; ok {
		return s, nil
	}
	if len(t.slots) >= t.max {
		return nil, ErrConfigLimit{Max: t.max}
	}
	s := NewState(dbid)
	s.inUse = true
	t.slots = append(t.slots, s)
	t.index[dbid] = s
	return s, nil
}

// Find returns the existing slot for dbid, if any.
func (t *Table) Find(dbid uint32) (*State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.index[dbid]
	return s, ok
}

// All returns every allocated slot, used to push peer-count changes to
// each slot.
func (t *Table) All() []*State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*State, len(t.slots))
	copy(out, t.slots)
	return out
}
