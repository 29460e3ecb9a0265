package coordinator

import (
	"fmt"

	"distributed-ddlock/internal/lock"
)

// ErrLockUnavailable is raised when acquire finds the lock already held
// by a different node, or when it is later declined by a peer.
type ErrLockUnavailable struct {
	DBID   uint32
	Holder lock.NodeID
}

func (e ErrLockUnavailable) Error() string {
	if e.Holder.Zero() {
		return fmt.Sprintf("lock on database %d unavailable: declined by a peer", e.DBID)
	}
	return fmt.Sprintf("lock on database %d unavailable: held by node %s", e.DBID, e.Holder)
}

// ErrNotReady is raised when acquire is called before startup recovery
// has finished, or when no peers are known yet. check_dml waits for
// recovery instead of returning it.
type ErrNotReady struct {
	Reason string
}

func (e ErrNotReady) Error() string {
	return fmt.Sprintf("lock coordinator not ready: %s", e.Reason)
}

// ErrPermissionDenied is raised when permit_ddl_locking is false.
type ErrPermissionDenied struct{}

func (ErrPermissionDenied) Error() string {
	return "ddl locking is not permitted by configuration"
}
