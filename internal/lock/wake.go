package lock

// WakeHandle is a per-goroutine signalable latch, standing in for the
// per-backend Latch of the original design. It is set by others and
// cleared only by its owner — the owner is the only goroutine that ever
// receives from C().
//
// Cyclic references are avoided deliberately: a waiter stores only a
// WakeHandle, never a pointer into its own private state, so the Coordinator
// never needs to know anything about who it is waking beyond "send on this
// channel".
type WakeHandle struct {
	ch chan struct{}
}

// NewWakeHandle allocates a fresh, unset latch.
func NewWakeHandle() *WakeHandle {
	return &WakeHandle{ch: make(chan struct{}, 1)}
}

// Set signals the latch. Safe to call from any goroutine, any number of
// times; excess signals coalesce because the channel is buffered to depth 1.
func (w *WakeHandle) Set() {
	if w == nil {
		return
	}
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// C returns the channel the owner selects/receives on to observe a Set.
func (w *WakeHandle) C() <-chan struct{} {
	return w.ch
}
