// Package coordinator is the state machine at the center of the lock: it
// owns the per-database State slots, drives the acquire path, and
// dispatches the seven peer message kinds to the handlers that mutate
// state and talk to the journal. Everything here runs under the
// database's single State mutex — suspension only ever happens outside
// a critical section, matching the scheduling model the rest of the
// daemon assumes.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"distributed-ddlock/internal/journal"
	"distributed-ddlock/internal/lock"
	"distributed-ddlock/internal/peers"
	"distributed-ddlock/internal/protocol"
	"distributed-ddlock/internal/transport"
	"distributed-ddlock/internal/waiter"
)

// Config holds the operator-tunable knobs for this component specifically
// (the rest — logging, HTTP, transport DSNs — live in package config).
type Config struct {
	PermitDDLLocking bool
	DDLGraceTimeout  time.Duration
	MaxDatabases     int
	// SkipDDLLocking makes Acquire return success at once without taking
	// the lock or contacting peers. The Waiter Gate's CheckDML does not
	// consult it.
	SkipDDLLocking bool
}

// DefaultConfig returns the conservative defaults: DDL locking disabled
// until an operator opts in, a 10s grace period before cancelling a
// conflicting writer, and room for 16 concurrently tracked databases.
func DefaultConfig() Config {
	return Config{
		PermitDDLLocking: false,
		DDLGraceTimeout:  10 * time.Second,
		MaxDatabases:     16,
	}
}

// Coordinator is the per-node instance of the lock protocol, holding one
// State slot per configured database. A replication stream — and hence a
// Transport — is scoped to a single database, the same way a BDR node's
// per-database apply workers each carry their own connection; Coordinator
// fans its dispatch out across however many databases are registered with
// it via RegisterDatabase.
type Coordinator struct {
	cfg      Config
	self     lock.NodeID
	table    *lock.Table
	journal  journal.Journal
	peers    *peers.Registry
	backends waiter.BackendLister
	gate     *waiter.Gate
	log      zerolog.Logger

	mu         sync.RWMutex
	transports map[uint32]transport.Transport
}

// New wires a Coordinator with no databases registered yet. Call
// RegisterDatabase once per configured database before calling Acquire.
// backends may be nil if Write-class locks are never requested.
func New(cfg Config, self lock.NodeID, j journal.Journal, pr *peers.Registry, backends waiter.BackendLister, log zerolog.Logger) *Coordinator {
	table := lock.NewTable(cfg.MaxDatabases)
	c := &Coordinator{
		cfg:        cfg,
		self:       self,
		table:      table,
		journal:    j,
		peers:      pr,
		backends:   backends,
		gate:       waiter.NewGate(table),
		log:        log.With().Str("component", "coordinator").Str("node_id", self.String()).Logger(),
		transports: make(map[uint32]transport.Transport),
	}
	pr.OnChange(func(count int) {
		for _, s := range c.table.All() {
			s.SetPeerCount(count)
		}
	})
	return c
}

// RegisterDatabase binds tp as the replication transport for dbid,
// allocates its State slot, and subscribes the Coordinator's dispatch for
// messages arriving on that transport. It does not run startup recovery —
// call Startup afterward once the transport is actually receiving.
func (c *Coordinator) RegisterDatabase(dbid uint32, tp transport.Transport) (*lock.State, error) {
	s, err := c.table.FindOrCreate(dbid)
	if err != nil {
		return nil, err
	}
	s.SetPeerCount(c.peers.Count())

	c.mu.Lock()
	c.transports[dbid] = tp
	c.mu.Unlock()

	tp.Subscribe(func(origin lock.NodeID, msg protocol.Message) {
		c.handleMessage(dbid, origin, msg)
	})
	return s, nil
}

func (c *Coordinator) transportFor(dbid uint32) (transport.Transport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tp, ok := c.transports[dbid]
	if !ok {
		return nil, fmt.Errorf("coordinator: no transport registered for database %d", dbid)
	}
	return tp, nil
}

// slotFor returns (allocating if needed) the State for dbid, setting its
// initial peer count from the registry.
func (c *Coordinator) slotFor(dbid uint32) (*lock.State, error) {
	s, err := c.table.FindOrCreate(dbid)
	if err != nil {
		return nil, err
	}
	if s.PeerCount() == 0 {
		s.SetPeerCount(c.peers.Count())
	}
	return s, nil
}

// Acquire requests kind on dbid and blocks until every peer has confirmed
// it or one has declined.
func (c *Coordinator) Acquire(ctx context.Context, dbid uint32, kind lock.Kind) error {
	if !c.cfg.PermitDDLLocking {
		return ErrPermissionDenied{}
	}
	if c.cfg.SkipDDLLocking {
		return nil
	}

	s, err := c.slotFor(dbid)
	if err != nil {
		return err
	}
	if !s.IsReady() {
		return ErrNotReady{Reason: "startup recovery not finished"}
	}
	if s.PeerCount() == 0 {
		return ErrNotReady{Reason: "no peers known"}
	}
	tp, err := c.transportFor(dbid)
	if err != nil {
		return err
	}

	s.Lock()
	if s.HeldLocked() > 0 {
		if s.ThisTxnAcquiredLocked() && s.KindLocked() >= kind {
			s.Unlock()
			return nil
		}
		if !s.ThisTxnAcquiredLocked() {
			holder := s.HolderLocked()
			s.Unlock()
			return ErrLockUnavailable{DBID: dbid, Holder: holder}
		}
		// Upgrade path: this transaction already holds the lock at a
		// lower kind. Fall through to re-request at the stronger kind.
	}

	wake := lock.NewWakeHandle()
	s.BeginAcquireLocked(kind, c.self, wake)
	s.Unlock()

	payload, err := protocol.Encode(protocol.Message{
		Kind:        protocol.KindAcquire,
		Origin:      c.self,
		AcquireKind: kind,
	})
	if err != nil {
		return err
	}
	lsn, err := tp.LogStandbyMessage(ctx, payload, false)
	if err != nil {
		return err
	}
	if err := tp.XLogFlush(ctx, lsn); err != nil {
		return err
	}

	return c.waitForQuorum(ctx, dbid, s, tp, wake)
}

// waitForQuorum blocks until acquire_confirmed reaches peer_count or
// acquire_declined goes positive. The 10s per-wake timeout bounds each
// iteration so the loop can still observe ctx cancellation promptly even
// if no wake ever arrives.
func (c *Coordinator) waitForQuorum(ctx context.Context, dbid uint32, s *lock.State, tp transport.Transport, wake *lock.WakeHandle) error {
	const pollTimeout = 10 * time.Second

	for {
		s.Lock()
		if s.AcquireDeclinedLocked() > 0 {
			s.ClearLocked()
			s.Unlock()
			return ErrLockUnavailable{DBID: dbid}
		}
		if s.AcquireConfirmedLocked() >= s.PeerCountLocked() {
			s.Unlock()
			return nil
		}
		s.Unlock()

		select {
		case <-ctx.Done():
			c.rollback(context.Background(), s, tp)
			return ctx.Err()
		case <-wake.C():
		case <-time.After(pollTimeout):
		}
	}
}

// rollback emits RELEASE and clears local state, used when acquire is
// cancelled mid-wait.
func (c *Coordinator) rollback(ctx context.Context, s *lock.State, tp transport.Transport) {
	s.Lock()
	s.ClearLocked()
	s.Unlock()

	payload, err := protocol.Encode(protocol.Message{
		Kind:   protocol.KindRelease,
		Origin: c.self,
		Target: c.self,
	})
	if err != nil {
		c.log.Error().Err(err).Msg("encode release on cancellation")
		return
	}
	if _, err := tp.LogStandbyMessage(ctx, payload, false); err != nil {
		c.log.Error().Err(err).Msg("send release on cancellation")
	}
}

// ReleaseOnEnd is the transaction-end hook. It must be called exactly
// once per transaction that ever called Acquire and observed success, on
// both commit and abort.
func (c *Coordinator) ReleaseOnEnd(ctx context.Context, dbid uint32) error {
	s, ok := c.table.Find(dbid)
	if !ok {
		return nil
	}

	s.Lock()
	if s.HeldLocked() == 0 || !s.ThisTxnAcquiredLocked() {
		s.Unlock()
		return nil
	}
	s.ClearLocked()
	s.DrainWaitersLocked()
	s.Unlock()

	tp, err := c.transportFor(dbid)
	if err != nil {
		return err
	}

	payload, err := protocol.Encode(protocol.Message{
		Kind:   protocol.KindRelease,
		Origin: c.self,
		Target: c.self,
	})
	if err != nil {
		return err
	}
	lsn, err := tp.LogStandbyMessage(ctx, payload, false)
	if err != nil {
		return err
	}
	return tp.XLogFlush(ctx, lsn)
}

// Gate returns the Waiter Gate sharing this Coordinator's Table, for the
// executor hook to call CheckDML against.
func (c *Coordinator) Gate() *waiter.Gate {
	return c.gate
}

// cancelAndDrain cancels and waits out conflicting local writers before a
// Write-class lock is granted.
func (c *Coordinator) cancelAndDrain(ctx context.Context, dbid uint32) {
	waiter.CancelAndDrain(ctx, dbid, c.backends, c.cfg.DDLGraceTimeout, c.log)
}

// Snapshot exposes the current state of dbid's slot for the admin HTTP
// surface.
func (c *Coordinator) Snapshot(dbid uint32) (lock.Snapshot, bool) {
	s, ok := c.table.Find(dbid)
	if !ok {
		return lock.Snapshot{}, false
	}
	return s.Snapshot(), true
}
