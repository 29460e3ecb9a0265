package coordinator

import (
	"context"
	"errors"

	"distributed-ddlock/internal/journal"
	"distributed-ddlock/internal/lock"
	"distributed-ddlock/internal/protocol"
)

// handleMessage dispatches one inbound message to its peer-message
// handler by kind. It runs on whatever goroutine the Transport's receive
// loop calls it from — a single Run loop per transport, carrying messages
// from every peer of that database — and is expected to return quickly.
func (c *Coordinator) handleMessage(dbid uint32, origin lock.NodeID, msg protocol.Message) {
	ctx := context.Background()

	s, err := c.slotFor(dbid)
	if err != nil {
		c.log.Error().Err(err).Uint32("dbid", dbid).Msg("no slot for inbound message")
		return
	}
	tp, err := c.transportFor(dbid)
	if err != nil {
		c.log.Error().Err(err).Uint32("dbid", dbid).Msg("no transport for inbound message")
		return
	}

	switch msg.Kind {
	case protocol.KindStart:
		c.onStart(ctx, dbid, s, origin)
	case protocol.KindAcquire:
		c.onAcquire(ctx, dbid, s, tp, origin, msg.AcquireKind)
	case protocol.KindRequestReplay:
		c.onRequestReplay(ctx, tp, origin, msg.WaitLSN)
	case protocol.KindReplayConfirm:
		c.onReplayConfirm(ctx, dbid, s, tp, origin, msg.RequestLSN)
	case protocol.KindConfirm:
		c.onConfirm(s, origin, msg.Target, msg.TargetKind)
	case protocol.KindDecline:
		c.onDecline(s, origin, msg.Target, msg.TargetKind)
	case protocol.KindRelease:
		c.onRelease(ctx, dbid, s, origin, msg.Target)
	default:
		c.log.Warn().Stringer("kind", msg.Kind).Msg("unhandled message kind")
	}
}

// onAcquire handles an inbound ACQUIRE from origin requesting kind.
func (c *Coordinator) onAcquire(ctx context.Context, dbid uint32, s *lock.State, tp transportSender, origin lock.NodeID, kind lock.Kind) {
	s.Lock()
	held := s.HeldLocked()

	switch {
	case held == 0:
		s.Unlock()
		err := c.journal.InsertCatchup(ctx, journal.Row{
			DBID: dbid, Kind: kind, Holder: origin, Owner: c.self,
		})
		if errors.Is(err, journal.ErrUniqueViolation) {
			c.decline(ctx, tp, origin, kind)
			return
		}
		if err != nil {
			c.log.Error().Err(err).Msg("insert catchup")
			return
		}

		s.Lock()
		s.GrantRemoteLocked(origin, kind)
		s.Unlock()

		if kind >= lock.Write {
			c.cancelAndDrain(ctx, dbid)
			c.requestReplay(ctx, dbid, tp)
		} else {
			c.confirm(ctx, dbid, s, tp, origin, kind)
		}

	case s.HolderLocked() == origin && kind > s.KindLocked():
		s.Unlock()
		// Upgrade: journal write happens before the in-memory kind
		// write so a crash between the two is recovered correctly from
		// disk (see lock.State.UpgradeLocked).
		if err := c.journal.Promote(ctx, dbid, origin); err != nil && !errors.Is(err, journal.ErrNotFound) {
			c.log.Error().Err(err).Msg("upgrade: promote journal row")
		}
		s.Lock()
		s.UpgradeLocked(kind)
		s.Unlock()

		if kind >= lock.Write {
			c.cancelAndDrain(ctx, dbid)
			c.requestReplay(ctx, dbid, tp)
		} else {
			c.confirm(ctx, dbid, s, tp, origin, kind)
		}

	default:
		s.Unlock()
		c.decline(ctx, tp, origin, kind)
	}
}

// transportSender is the subset of transport.Transport handlers need,
// named separately so handlers.go doesn't have to import the concrete
// package just to pass a value through.
type transportSender interface {
	LogStandbyMessage(ctx context.Context, payload []byte, transactional bool) (uint64, error)
	XLogFlush(ctx context.Context, lsn uint64) error
	CurrentPosition(ctx context.Context) (uint64, error)
}

func (c *Coordinator) send(ctx context.Context, tp transportSender, msg protocol.Message, transactional bool) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	lsn, err := tp.LogStandbyMessage(ctx, payload, transactional)
	if err != nil {
		return err
	}
	return tp.XLogFlush(ctx, lsn)
}

func (c *Coordinator) decline(ctx context.Context, tp transportSender, target lock.NodeID, kind lock.Kind) {
	if err := c.send(ctx, tp, protocol.Message{
		Kind: protocol.KindDecline, Origin: c.self, Target: target, TargetKind: kind,
	}, false); err != nil {
		c.log.Error().Err(err).Msg("send decline")
	}
}

func (c *Coordinator) requestReplay(ctx context.Context, dbid uint32, tp transportSender) {
	s, _ := c.table.Find(dbid)
	if s == nil {
		return
	}
	s.Lock()
	lsn := s.ReplayWaitLSNLocked()
	s.Unlock()

	if lsn == 0 {
		pos, err := tp.CurrentPosition(ctx)
		if err != nil {
			c.log.Error().Err(err).Msg("request_replay: current position")
			return
		}
		s.Lock()
		s.BeginReplayWaitLocked(pos)
		lsn = s.ReplayWaitLSNLocked()
		s.Unlock()
	}

	if err := c.send(ctx, tp, protocol.Message{
		Kind: protocol.KindRequestReplay, Origin: c.self, WaitLSN: lsn,
	}, false); err != nil {
		c.log.Error().Err(err).Msg("send request_replay")
	}
}

// onRequestReplay replies to an inbound REQUEST_REPLAY immediately, since
// seeing the request at all means the apply stream has already processed
// up to lsn.
func (c *Coordinator) onRequestReplay(ctx context.Context, tp transportSender, origin lock.NodeID, lsn uint64) {
	if err := c.send(ctx, tp, protocol.Message{
		Kind: protocol.KindReplayConfirm, Origin: c.self, RequestLSN: lsn,
	}, false); err != nil {
		c.log.Error().Err(err).Msg("send replay_confirm")
	}
}

// onReplayConfirm implements the REPLAY_CONFIRM handler: increments
// replay_confirmed if it matches the outstanding wait, and invokes Confirm
// on reaching quorum.
func (c *Coordinator) onReplayConfirm(ctx context.Context, dbid uint32, s *lock.State, tp transportSender, origin lock.NodeID, lsn uint64) {
	s.Lock()
	if s.ReplayWaitLSNLocked() != lsn {
		s.Unlock()
		return
	}
	s.IncrReplayConfirmedLocked()
	reached := s.ReplayConfirmedLocked() >= s.PeerCountLocked()
	holder := s.HolderLocked()
	kind := s.KindLocked()
	s.Unlock()

	if reached {
		c.confirm(ctx, dbid, s, tp, holder, kind)
	}
}

// confirm promotes the journal row, then emits a transactional CONFIRM.
// The two are separate commits: Promote commits on its own before the
// send. A crash before the promote commits leaves the "catchup" row, and
// recovery's startup scan re-drives replay; a crash after the promote and
// before the send leaves an "acquired" row, and recovery does not resend
// the CONFIRM.
func (c *Coordinator) confirm(ctx context.Context, dbid uint32, s *lock.State, tp transportSender, holder lock.NodeID, kind lock.Kind) {
	if err := c.journal.Promote(ctx, dbid, holder); err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			c.log.Warn().Stringer("holder", holder).Msg("confirm: no catchup row to promote")
		} else {
			c.log.Error().Err(err).Msg("confirm: promote journal row")
		}
		return
	}
	if err := c.send(ctx, tp, protocol.Message{
		Kind: protocol.KindConfirm, Origin: c.self, Target: holder, TargetKind: kind,
	}, true); err != nil {
		c.log.Error().Err(err).Msg("send confirm")
	}
}

// onConfirm is the remote CONFIRM handler on the requesting node. origin
// must be a registered peer — a message from anyone else is discarded —
// and a retransmitted CONFIRM from a peer that already confirmed must not
// double-count toward quorum.
func (c *Coordinator) onConfirm(s *lock.State, origin lock.NodeID, target lock.NodeID, kind lock.Kind) {
	if _, ok := c.peers.Get(origin); !ok {
		c.log.Warn().Stringer("origin", origin).Msg("confirm: discarding message from unknown peer")
		return
	}
	s.Lock()
	defer s.Unlock()
	if target != c.self {
		return
	}
	if s.KindLocked() != kind {
		c.log.Warn().Stringer("expected", s.KindLocked()).Stringer("got", kind).Msg("confirm: mismatched kind")
	}
	if !s.MarkConfirmedLocked(origin) {
		return
	}
	s.RequestorWakeLocked().Set()
}

// onDecline is the remote DECLINE handler, mirroring onConfirm.
func (c *Coordinator) onDecline(s *lock.State, origin lock.NodeID, target lock.NodeID, kind lock.Kind) {
	if _, ok := c.peers.Get(origin); !ok {
		c.log.Warn().Stringer("origin", origin).Msg("decline: discarding message from unknown peer")
		return
	}
	s.Lock()
	defer s.Unlock()
	if target != c.self {
		return
	}
	if !s.MarkDeclinedLocked(origin) {
		return
	}
	s.RequestorWakeLocked().Set()
}

// onRelease is the remote RELEASE handler.
func (c *Coordinator) onRelease(ctx context.Context, dbid uint32, s *lock.State, origin lock.NodeID, target lock.NodeID) {
	n, err := c.journal.Delete(ctx, dbid, target)
	if err != nil {
		c.log.Error().Err(err).Msg("release: delete journal row")
	}
	if n == 0 {
		c.log.Warn().Stringer("target", target).Msg("release: no journal row to delete")
	}

	s.Lock()
	if s.HeldLocked() > 0 {
		s.ClearLocked()
	}
	s.DrainWaitersLocked()
	wake := s.RequestorWakeLocked()
	s.Unlock()
	wake.Set()
}

// onStart is the remote START handler: origin just (re)started, so any
// journal rows it held are stale.
func (c *Coordinator) onStart(ctx context.Context, dbid uint32, s *lock.State, origin lock.NodeID) {
	removed, err := c.journal.DeleteByHolderNode(ctx, origin)
	if err != nil {
		c.log.Error().Err(err).Msg("start: delete journal rows for restarted node")
		return
	}
	if len(removed) == 0 {
		return
	}

	s.Lock()
	if s.HolderLocked() == origin {
		s.ClearLocked()
		s.DrainWaitersLocked()
	}
	s.Unlock()
}
