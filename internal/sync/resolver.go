package sync

import (
	"time"

	"github.com/hyperengineering/tasksync/internal/types"
)

// Winner names the side whose data survives a conflict.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerServer Winner = "server"
)

// Side is one party to a conflict: when it wrote and what kind of write it was.
type Side struct {
	Timestamp time.Time
	Kind      types.OperationKind
}

// kindPriority ranks kinds for equal-timestamp tie-breaks. A delete must
// never be resurrected by an update carrying the same timestamp.
var kindPriority = map[types.OperationKind]int{
	types.OperationCreate: 0,
	types.OperationUpdate: 1,
	types.OperationDelete: 2,
}

// Resolve applies last-write-wins. The strictly later timestamp wins; on
// equal timestamps the higher kind priority wins (delete > update > create);
// on a full tie the local side wins, so a replayed write re-applies the same
// data rather than reporting a conflict.
func Resolve(local, server Side) Winner {
	switch {
	case local.Timestamp.After(server.Timestamp):
		return WinnerLocal
	case local.Timestamp.Before(server.Timestamp):
		return WinnerServer
	}

	lp, sp := kindPriority[local.Kind], kindPriority[server.Kind]
	if sp > lp {
		return WinnerServer
	}
	return WinnerLocal
}
