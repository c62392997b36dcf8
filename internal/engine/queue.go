package engine

import (
	"time"

	"spendsync/internal/core"
)

type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// PendingMutation is an intent deferred while offline.
type PendingMutation struct {
	Kind   MutationKind       `json:"kind"`
	Create core.CreateRequest `json:"create,omitempty"`
	Update core.UpdateRequest `json:"update,omitempty"`
	Delete core.ExpenseID     `json:"delete,omitempty"`
	// OptimisticID is the local id a queued create is shown under.
	OptimisticID core.ExpenseID `json:"optimisticId,omitempty"`
	EnqueuedAt   time.Time      `json:"enqueuedAt"`
}

// target is the id an update or delete applies to.
func (m PendingMutation) target() core.ExpenseID {
	switch m.Kind {
	case MutationUpdate:
		return m.Update.ID
	case MutationDelete:
		return m.Delete
	default:
		return m.OptimisticID
	}
}

// DeadLetter records a queued mutation that failed on replay.
type DeadLetter struct {
	Mutation PendingMutation `json:"mutation"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failedAt"`
}

// enqueue appends m, folding it into a queued create of the same optimistic
// record when there is one. Replay order of the remaining items is unchanged.
func enqueue(queue []PendingMutation, m PendingMutation) []PendingMutation {
	target := m.target()
	if m.Kind == MutationCreate || !target.IsOptimistic() {
		return append(queue, m)
	}
	for i, q := range queue {
		if q.Kind != MutationCreate || q.OptimisticID != target {
			continue
		}
		if m.Kind == MutationDelete {
			return append(queue[:i:i], queue[i+1:]...)
		}
		queue[i].Create = foldUpdate(q.Create, m.Update)
		return queue
	}
	return append(queue, m)
}

func foldUpdate(c core.CreateRequest, u core.UpdateRequest) core.CreateRequest {
	if u.Amount != nil {
		c.Amount = *u.Amount
	}
	if u.Category != nil {
		c.Category = *u.Category
	}
	if u.Description != nil {
		c.Description = *u.Description
	}
	if u.Date != nil {
		c.Date = *u.Date
	}
	return c.Normalize()
}
