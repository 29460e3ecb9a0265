package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/rs/zerolog"

	"distributed-ddlock/internal/lock"
	"distributed-ddlock/internal/protocol"
)

// Postgres is the real Transport adapter: it emits protocol messages as
// generic logical-decoding messages on a dedicated replication connection
// (the walsender side) and consumes a second replication connection's
// stream to receive them back out, the same pglogrepl receive loop shape
// the migration decoder uses, retagged to decode protocol.Message instead
// of row changes.
type Postgres struct {
	send *pgconn.PgConn // ordinary connection used for pg_logical_emit_message
	recv *pgconn.PgConn // replication connection
	self lock.NodeID
	log  zerolog.Logger

	slotName    string
	publication string
	startLSN    pglogrepl.LSN

	mu             sync.Mutex
	confirmedLSN   pglogrepl.LSN
	lastStatusTime time.Time

	handler atomic.Pointer[Handler]
	done    chan struct{}
}

// NewPostgres wires a Postgres transport over two already-established
// connections: send for emitting messages transactionally via
// pg_logical_emit_message, recv dedicated to the replication protocol.
func NewPostgres(send, recv *pgconn.PgConn, self lock.NodeID, slotName, publication string, log zerolog.Logger) *Postgres {
	return &Postgres{
		send:        send,
		recv:        recv,
		self:        self,
		log:         log.With().Str("component", "transport").Logger(),
		slotName:    slotName,
		publication: publication,
		done:        make(chan struct{}),
	}
}

// LogStandbyMessage calls pg_logical_emit_message(transactional, prefix,
// content) and returns the LSN the server assigned it.
func (p *Postgres) LogStandbyMessage(ctx context.Context, payload []byte, transactional bool) (uint64, error) {
	sql := fmt.Sprintf(
		"SELECT pg_logical_emit_message(%t, '%s', $1)",
		transactional, protocol.Channel,
	)
	result := p.send.ExecParams(ctx, sql, [][]byte{payload}, nil, nil, nil)
	rows, err := result.Read()
	if err != nil {
		return 0, fmt.Errorf("transport: emit message: %w", err)
	}
	if len(rows.Rows) == 0 || len(rows.Rows[0]) == 0 {
		return 0, fmt.Errorf("transport: emit message: no LSN returned")
	}
	lsn, err := pglogrepl.ParseLSN(string(rows.Rows[0][0]))
	if err != nil {
		return 0, fmt.Errorf("transport: parse emitted LSN: %w", err)
	}
	return uint64(lsn), nil
}

// XLogFlush blocks until the replication stream has confirmed lsn as
// flushed on this connection's standby-status feedback.
func (p *Postgres) XLogFlush(ctx context.Context, lsn uint64) error {
	target := pglogrepl.LSN(lsn)
	for {
		p.mu.Lock()
		reached := p.confirmedLSN >= target
		p.mu.Unlock()
		if reached {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// CurrentPosition returns the latest LSN this connection has observed
// from the replication stream's feedback, tracked continuously by Run as
// confirmedLSN. A REQUEST_REPLAY sent with this as wait_lsn asks peers to
// drain at least up to what this node itself has already seen committed.
func (p *Postgres) CurrentPosition(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint64(p.confirmedLSN), nil
}

func (p *Postgres) Subscribe(h Handler) {
	p.handler.Store(&h)
}

// Run starts logical replication at startLSN and decodes inbound generic
// messages tagged with protocol.Channel, dispatching each to the
// registered Handler. It mirrors the pg-migrator decoder's receive loop:
// keepalive/standby-status bookkeeping plus a XLogData decode branch, but
// narrowed to the one message type this protocol cares about.
func (p *Postgres) Run(ctx context.Context) error {
	defer close(p.done)

	err := pglogrepl.StartReplication(ctx, p.recv, p.slotName, p.startLSN,
		pglogrepl.StartReplicationOptions{
			PluginArgs: []string{
				"proto_version '1'",
				fmt.Sprintf("publication_names '%s'", p.publication),
			},
		})
	if err != nil {
		return fmt.Errorf("transport: start replication: %w", err)
	}

	p.mu.Lock()
	p.confirmedLSN = p.startLSN
	p.lastStatusTime = time.Now()
	p.mu.Unlock()

	standbyInterval := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.mu.Lock()
		due := time.Since(p.lastStatusTime) >= standbyInterval
		p.mu.Unlock()
		if due {
			if err := p.sendStandbyStatus(ctx); err != nil {
				p.log.Err(err).Msg("standby status update failed")
			}
		}

		recvCtx, cancel := context.WithDeadline(ctx, time.Now().Add(2*time.Second))
		rawMsg, err := p.recv.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if pgconn.Timeout(err) {
				continue
			}
			return fmt.Errorf("transport: receive message: %w", err)
		}

		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			continue
		}
		if len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				p.log.Err(err).Msg("parse keepalive")
				continue
			}
			if pkm.ReplyRequested {
				if err := p.sendStandbyStatus(ctx); err != nil {
					p.log.Err(err).Msg("keepalive reply failed")
				}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				p.log.Err(err).Msg("parse xlogdata")
				continue
			}
			p.handleXLogData(xld)
		}
	}
}

func (p *Postgres) handleXLogData(xld pglogrepl.XLogData) {
	logicalMsg, err := pglogrepl.Parse(xld.WALData)
	if err != nil {
		p.log.Err(err).Msg("parse WAL data")
		return
	}

	mm, ok := logicalMsg.(*pglogrepl.LogicalDecodingMessage)
	if !ok || mm.Prefix != protocol.Channel {
		p.mu.Lock()
		p.confirmedLSN = pglogrepl.LSN(xld.WALStart)
		p.mu.Unlock()
		return
	}

	msg, err := protocol.Decode(mm.Content)
	if err != nil {
		p.log.Err(err).Msg("decode protocol message")
		return
	}

	p.mu.Lock()
	p.confirmedLSN = pglogrepl.LSN(xld.WALStart)
	p.mu.Unlock()

	if h := p.handler.Load(); h != nil {
		(*h)(msg.Origin, msg)
	}
}

func (p *Postgres) sendStandbyStatus(ctx context.Context) error {
	p.mu.Lock()
	lsn := p.confirmedLSN
	p.lastStatusTime = time.Now()
	p.mu.Unlock()

	return pglogrepl.SendStandbyStatusUpdate(ctx, p.recv, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	})
}
