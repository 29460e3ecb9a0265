// Package transport is the boundary between the Coordinator and whatever
// actually carries protocol bytes between nodes. The contract covers
// three primitives: inject a byte string into the replication stream,
// block until a given position is durable, and hand decoded inbound
// messages to a dispatcher — plus a concrete Postgres logical-replication
// adapter and an in-memory stand-in for tests, so the Coordinator never
// has to know which one it's talking to.
package transport

import (
	"context"

	"distributed-ddlock/internal/lock"
	"distributed-ddlock/internal/protocol"
)

// Handler is invoked once per inbound message, already decoded and
// attributed to its origin. Implementations must not block for long —
// Coordinator handlers take a lock internally and return quickly.
type Handler func(origin lock.NodeID, msg protocol.Message)

// Transport is what the Coordinator depends on to talk to its peers. It
// is deliberately narrow: everything about framing, retries, and connection
// management lives in the concrete adapters below.
type Transport interface {
	// LogStandbyMessage injects payload (an Encode'd protocol.Message)
	// into the replication stream and returns the LSN it was assigned.
	// When transactional is true the message commits atomically with
	// whatever local transaction produced it.
	LogStandbyMessage(ctx context.Context, payload []byte, transactional bool) (uint64, error)

	// XLogFlush blocks until lsn is known to be durable, the primitive
	// REQUEST_REPLAY's quorum wait is built on.
	XLogFlush(ctx context.Context, lsn uint64) error

	// CurrentPosition returns this node's current replication insert
	// position, the wait_lsn a REQUEST_REPLAY asks peers to drain up to.
	CurrentPosition(ctx context.Context) (uint64, error)

	// Subscribe registers the single dispatcher for inbound messages.
	// Only one handler is supported; the Coordinator is the only caller.
	Subscribe(h Handler)

	// Run drives the receive loop until ctx is cancelled.
	Run(ctx context.Context) error
}
