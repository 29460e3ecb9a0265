package lock

import "fmt"

// NodeID identifies an origin uniquely across the lifetime of the cluster.
// sysid comes from the origin's system identifier, timeline from its current
// timeline, and dbid from the specific database within that node — the same
// triple a replication origin uses to tell "which node, which database".
type NodeID struct {
	SysID    uint64
	Timeline uint32
	DBID     uint32
}

func (n NodeID) String() string {
	return fmt.Sprintf("%d/%d/%d", n.SysID, n.Timeline, n.DBID)
}

// Zero reports whether n is the zero-value NodeID, used to tell "no holder"
// apart from a legitimately configured node whose sysid happens to be small.
func (n NodeID) Zero() bool {
	return n == NodeID{}
}
