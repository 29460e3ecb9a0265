package lock

import "testing"

// TestMarkConfirmedLockedDedupsByOrigin covers the quorum-counting
// invariant: a retransmitted CONFIRM from a peer that already confirmed
// must not push acquire_confirmed past the number of distinct peers heard
// from.
func TestMarkConfirmedLockedDedupsByOrigin(t *testing.T) {
	s := NewState(1)
	origin := NodeID{SysID: 2, Timeline: 1, DBID: 1}

	if !s.MarkConfirmedLocked(origin) {
		t.Fatal("first CONFIRM from origin should be new")
	}
	if s.AcquireConfirmedLocked() != 1 {
		t.Fatalf("acquireConfirmed = %d, want 1", s.AcquireConfirmedLocked())
	}

	if s.MarkConfirmedLocked(origin) {
		t.Fatal("retransmitted CONFIRM from the same origin should not be new")
	}
	if s.AcquireConfirmedLocked() != 1 {
		t.Fatalf("acquireConfirmed = %d after retransmit, want still 1", s.AcquireConfirmedLocked())
	}

	other := NodeID{SysID: 3, Timeline: 1, DBID: 1}
	if !s.MarkConfirmedLocked(other) {
		t.Fatal("CONFIRM from a distinct origin should be new")
	}
	if s.AcquireConfirmedLocked() != 2 {
		t.Fatalf("acquireConfirmed = %d, want 2", s.AcquireConfirmedLocked())
	}
}

func TestMarkDeclinedLockedDedupsByOrigin(t *testing.T) {
	s := NewState(1)
	origin := NodeID{SysID: 2, Timeline: 1, DBID: 1}

	if !s.MarkDeclinedLocked(origin) {
		t.Fatal("first DECLINE from origin should be new")
	}
	if s.MarkDeclinedLocked(origin) {
		t.Fatal("retransmitted DECLINE from the same origin should not be new")
	}
	if s.AcquireDeclinedLocked() != 1 {
		t.Fatalf("acquireDeclined = %d, want 1", s.AcquireDeclinedLocked())
	}
}

// TestBeginAcquireLockedResetsDedupSets ensures a fresh acquisition starts
// with a clean confirm/decline set, so a peer that confirmed a prior
// acquisition can confirm again on the next one.
func TestBeginAcquireLockedResetsDedupSets(t *testing.T) {
	s := NewState(1)
	self := NodeID{SysID: 1, Timeline: 1, DBID: 1}
	origin := NodeID{SysID: 2, Timeline: 1, DBID: 1}

	s.BeginAcquireLocked(Ddl, self, NewWakeHandle())
	s.MarkConfirmedLocked(origin)
	if s.AcquireConfirmedLocked() != 1 {
		t.Fatalf("acquireConfirmed = %d, want 1", s.AcquireConfirmedLocked())
	}

	s.BeginAcquireLocked(Write, self, NewWakeHandle())
	if s.AcquireConfirmedLocked() != 0 {
		t.Fatalf("acquireConfirmed = %d after new acquire, want 0", s.AcquireConfirmedLocked())
	}
	if !s.MarkConfirmedLocked(origin) {
		t.Fatal("origin should be able to confirm again on a new acquisition")
	}
}
