package sync

import (
	"sort"

	"github.com/hyperengineering/tasksync/internal/types"
)

// SortOperations orders ops in place by target id, then operation timestamp,
// then enqueue time, then id. Grouping by record is implied by the first key,
// so each record's operations form a contiguous, chronological run.
func SortOperations(ops []types.QueuedOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return operationLess(&ops[i], &ops[j])
	})
}

func operationLess(a, b *types.QueuedOperation) bool {
	if a.TargetID != b.TargetID {
		return a.TargetID < b.TargetID
	}
	if !a.OperationTimestamp.Equal(b.OperationTimestamp) {
		return a.OperationTimestamp.Before(b.OperationTimestamp)
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}

// IsOrdered reports whether ops already satisfy the per-record ordering.
func IsOrdered(ops []types.QueuedOperation) bool {
	for i := 1; i < len(ops); i++ {
		if operationLess(&ops[i], &ops[i-1]) {
			return false
		}
	}
	return true
}
