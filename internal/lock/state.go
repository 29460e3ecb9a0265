package lock

import (
	"container/list"
	"sync"
	"time"
)

// State is the shared, per-database record the Coordinator and Waiter Gate
// both mutate: a single mutex-guarded struct that every caller in the
// process reaches through the same pointer, with the journal (see package
// journal) standing in for a WAL file as the durable write.
//
// Every field below is guarded by mu. Code outside this package must never
// read or write a field directly — use the accessor methods, which take the
// lock for you and document which invariant they preserve.
type State struct {
	mu sync.Mutex

	// slot identity
	inUse bool
	dbid  uint32

	// peerCount is the quorum denominator, protected by mu rather than
	// read lock-free the way some shared-memory ports do it. That makes
	// membership changes mid-acquire undefined: callers must not change
	// peer count while an acquisition is in flight.
	peerCount int

	// ready is set once Startup has finished the recovery scan; before
	// that, check_dml blocks and acquire fails with ErrNotReady.
	ready bool

	// held, holder and kind together encode invariant 1: held == 0 iff
	// holder is the zero NodeID iff kind == None.
	held   uint32
	holder NodeID
	kind   Kind

	thisTxnAcquired bool

	acquireConfirmed int
	acquireDeclined  int
	confirmedFrom    map[NodeID]bool // dedups retransmitted CONFIRM/DECLINE by origin
	declinedFrom     map[NodeID]bool

	replayConfirmed int
	replayWaitLSN   uint64

	requestorWake *WakeHandle
	waiters       *list.List // of *WakeHandle, FIFO: PushBack to enqueue, Front to drain

	acquiredAt time.Time
}

// NewState constructs an unused slot for dbid. Slots are allocated once by
// the Table and then reused for the lifetime of the process.
func NewState(dbid uint32) *State {
	return &State{
		dbid:    dbid,
		waiters: list.New(),
	}
}

// Snapshot is a read-only copy of a State, used for diagnostics (the admin
// HTTP surface) and for tests that want to assert on the whole slot without
// reaching into private fields.
type Snapshot struct {
	DBID             uint32
	PeerCount        int
	Ready            bool
	Held             uint32
	Holder           NodeID
	Kind             Kind
	AcquireConfirmed int
	AcquireDeclined  int
	ReplayConfirmed  int
	ReplayWaitLSN    uint64
	WaiterCount      int
	AcquiredAt       time.Time
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		DBID:             s.dbid,
		PeerCount:        s.peerCount,
		Ready:            s.ready,
		Held:             s.held,
		Holder:           s.holder,
		Kind:             s.kind,
		AcquireConfirmed: s.acquireConfirmed,
		AcquireDeclined:  s.acquireDeclined,
		ReplayConfirmed:  s.replayConfirmed,
		ReplayWaitLSN:    s.replayWaitLSN,
		WaiterCount:      s.waiters.Len(),
		AcquiredAt:       s.acquiredAt,
	}
}

// Lock/Unlock expose the slot mutex directly to package coordinator and
// package waiter, which are the only callers allowed to hold it across a
// multi-field transition. Everything else should prefer the narrower
// accessors below.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

func (s *State) DBID() uint32 { return s.dbid }

func (s *State) SetPeerCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerCount = n
}

func (s *State) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerCount
}

func (s *State) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *State) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Unlocked accessors below assume the caller already holds mu — they exist
// so the Coordinator can read/write several fields inside one critical
// section without repeated lock acquisition.

func (s *State) HeldLocked() uint32        { return s.held }
func (s *State) HolderLocked() NodeID      { return s.holder }
func (s *State) KindLocked() Kind          { return s.kind }
func (s *State) PeerCountLocked() int      { return s.peerCount }
func (s *State) ThisTxnAcquiredLocked() bool { return s.thisTxnAcquired }

// BeginAcquireLocked transitions Idle -> Requesting: the caller has already
// verified held == 0 (or that it already owns the lock at a lower kind).
// self becomes the recorded holder immediately, before any peer confirms,
// matching the original's local-acquire fast path.
func (s *State) BeginAcquireLocked(kind Kind, self NodeID, wake *WakeHandle) {
	s.held = 1
	s.holder = self
	s.thisTxnAcquired = true
	s.kind = kind
	s.acquireConfirmed = 0
	s.acquireDeclined = 0
	s.confirmedFrom = make(map[NodeID]bool)
	s.declinedFrom = make(map[NodeID]bool)
	s.requestorWake = wake
	s.acquiredAt = time.Now()
}

// GrantRemoteLocked transitions Idle -> Held(kind) on behalf of a remote
// holder, used by on_acquire when this node is not the requestor.
func (s *State) GrantRemoteLocked(holder NodeID, kind Kind) {
	s.held = 1
	s.holder = holder
	s.kind = kind
	s.acquiredAt = time.Now()
}

// UpgradeLocked bumps kind for the existing holder; held and holder are
// unchanged. Callers must update the journal's kind column first — on
// crash between the two writes, startup recovery rebuilds kind from the
// persisted row, so the journal write must happen before this one.
func (s *State) UpgradeLocked(kind Kind) {
	s.kind = kind
}

// ClearLocked resets the slot to Idle. Called after a release, a crash
// cleanup, or a declined local acquisition rolling back.
func (s *State) ClearLocked() {
	s.held = 0
	s.holder = NodeID{}
	s.kind = None
	s.thisTxnAcquired = false
	s.acquireConfirmed = 0
	s.acquireDeclined = 0
	s.confirmedFrom = nil
	s.declinedFrom = nil
	s.replayConfirmed = 0
	s.replayWaitLSN = 0
	s.requestorWake = nil
}

func (s *State) SetHolderLocked(h NodeID) { s.holder = h }

// MarkConfirmedLocked records a CONFIRM from origin, incrementing the
// quorum counter only the first time this origin is heard from — a
// retransmitted CONFIRM from a peer that already confirmed must not count
// twice toward peer_count. Returns whether this was a new origin.
func (s *State) MarkConfirmedLocked(origin NodeID) bool {
	if s.confirmedFrom == nil {
		s.confirmedFrom = make(map[NodeID]bool)
	}
	if s.confirmedFrom[origin] {
		return false
	}
	s.confirmedFrom[origin] = true
	s.acquireConfirmed++
	return true
}

// MarkDeclinedLocked is MarkConfirmedLocked's DECLINE counterpart.
func (s *State) MarkDeclinedLocked(origin NodeID) bool {
	if s.declinedFrom == nil {
		s.declinedFrom = make(map[NodeID]bool)
	}
	if s.declinedFrom[origin] {
		return false
	}
	s.declinedFrom[origin] = true
	s.acquireDeclined++
	return true
}

func (s *State) AcquireConfirmedLocked() int { return s.acquireConfirmed }
func (s *State) AcquireDeclinedLocked() int  { return s.acquireDeclined }

func (s *State) BeginReplayWaitLocked(lsn uint64) {
	s.replayConfirmed = 0
	s.replayWaitLSN = lsn
}
func (s *State) ReplayWaitLSNLocked() uint64 { return s.replayWaitLSN }
func (s *State) IncrReplayConfirmedLocked()  { s.replayConfirmed++ }
func (s *State) ReplayConfirmedLocked() int  { return s.replayConfirmed }

func (s *State) RequestorWakeLocked() *WakeHandle { return s.requestorWake }

// PushWaiterLocked enqueues a blocked local DML session (invariant 5: the
// queue is only ever drained when held transitions to 0).
func (s *State) PushWaiterLocked(w *WakeHandle) {
	s.waiters.PushBack(w)
}

// DrainWaitersLocked wakes every queued waiter and empties the queue. Must
// only be called with held == 0, immediately after the transition.
func (s *State) DrainWaitersLocked() {
	for e := s.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(*WakeHandle).Set()
	}
	s.waiters.Init()
}
