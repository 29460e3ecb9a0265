package waiter

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackendLister is the Gate's view into which local sessions are
// mid-write, so CancelAndDrain knows who to wait on. It is supplied by
// whatever embeds the Gate (the daemon's session tracker); the Gate never
// enumerates backends itself.
type BackendLister interface {
	// WritersInDatabase returns one Backend per local session with an
	// in-progress write in dbid.
	WritersInDatabase(dbid uint32) []Backend
}

// Backend is one enumerated in-progress writer.
type Backend struct {
	ID     string
	Cancel func()
	Done   <-chan struct{} // closed when the backend finishes or is cancelled
}

// CancelAndDrain is called before granting a Write-class lock. Each
// conflicting writer gets a grace period with exponential backoff to
// finish on its own; if it is still alive at the deadline, its statement
// is cancelled.
func CancelAndDrain(ctx context.Context, dbid uint32, backends BackendLister, grace time.Duration, log zerolog.Logger) {
	if backends == nil {
		return
	}
	writers := backends.WritersInDatabase(dbid)
	if len(writers) == 0 {
		return
	}

	deadline := time.Now().Add(grace)
	for _, b := range writers {
		drainOne(ctx, b, deadline, log)
	}
}

func drainOne(ctx context.Context, b Backend, deadline time.Time, log zerolog.Logger) {
	backoff := time.Millisecond
	const maxBackoff = time.Second

	for {
		select {
		case <-b.Done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if time.Now().After(deadline) {
			log.Warn().Str("backend", b.ID).Msg("cancel_and_drain: grace period expired, cancelling backend")
			if b.Cancel != nil {
				b.Cancel()
			}
			select {
			case <-b.Done:
			case <-ctx.Done():
			case <-time.After(maxBackoff):
			}
			return
		}

		select {
		case <-b.Done:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
