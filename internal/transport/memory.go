package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"distributed-ddlock/internal/lock"
	"distributed-ddlock/internal/protocol"
)

// Bus is the shared fabric an in-process cluster of Memory transports
// publishes to — standing in for the replication stream. Every Memory
// registered on the same Bus sees every other member's messages in the
// order they were sent, the single-process analogue of a replication
// stream's ordering guarantee.
type Bus struct {
	mu      sync.Mutex
	lsn     uint64
	members map[lock.NodeID]*Memory
}

func NewBus() *Bus {
	return &Bus{members: make(map[lock.NodeID]*Memory)}
}

func (b *Bus) register(self lock.NodeID, m *Memory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[self] = m
}

// currentLSN returns the last LSN assigned to any publish on the bus, the
// in-process analogue of a node's current WAL insert position — every
// Memory shares the same counter, so this is also "this node's position"
// whether or not it has published anything itself yet.
func (b *Bus) currentLSN() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lsn
}

func (b *Bus) publish(from lock.NodeID, payload []byte) uint64 {
	b.mu.Lock()
	b.lsn++
	lsn := b.lsn
	targets := make([]*Memory, 0, len(b.members))
	for id, m := range b.members {
		if id == from {
			continue
		}
		targets = append(targets, m)
	}
	b.mu.Unlock()

	msg, err := protocol.Decode(payload)
	if err != nil {
		return lsn
	}
	for _, m := range targets {
		m.deliver(from, msg)
	}
	return lsn
}

// Memory is an in-process Transport, used for tests and single-process
// demonstrations in place of a real logical-replication connection.
type Memory struct {
	bus     *Bus
	self    lock.NodeID
	inbox   chan inboundMsg
	handler atomic.Pointer[Handler]
	flushed atomic.Uint64
}

type inboundMsg struct {
	origin lock.NodeID
	msg    protocol.Message
}

// NewMemory attaches a node's transport to bus.
func NewMemory(bus *Bus, self lock.NodeID) *Memory {
	m := &Memory{
		bus:   bus,
		self:  self,
		inbox: make(chan inboundMsg, 256),
	}
	bus.register(self, m)
	return m
}

func (m *Memory) deliver(origin lock.NodeID, msg protocol.Message) {
	m.inbox <- inboundMsg{origin: origin, msg: msg}
}

func (m *Memory) LogStandbyMessage(ctx context.Context, payload []byte, transactional bool) (uint64, error) {
	lsn := m.bus.publish(m.self, payload)
	return lsn, nil
}

func (m *Memory) XLogFlush(ctx context.Context, lsn uint64) error {
	// publish() has already fanned the message out to every peer's inbox
	// by the time LogStandbyMessage returns, so anything assigned an LSN
	// is already "durable" — there is no disk to wait on in-process.
	return nil
}

func (m *Memory) CurrentPosition(ctx context.Context) (uint64, error) {
	return m.bus.currentLSN(), nil
}

func (m *Memory) Subscribe(h Handler) {
	m.handler.Store(&h)
}

func (m *Memory) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case im := <-m.inbox:
			m.flushed.Add(1)
			if h := m.handler.Load(); h != nil {
				(*h)(im.origin, im.msg)
			}
		}
	}
}
