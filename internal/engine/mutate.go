package engine

import (
	"context"
	"fmt"

	"spendsync/internal/core"
	"spendsync/internal/gateway"
)

// CreateExpense records a new expense. With optimistic updates the record is
// visible under an optimistic id before this returns. While offline the
// intent is queued and the call succeeds without contacting the gateway.
func (e *Engine) CreateExpense(ctx context.Context, req core.CreateRequest) (core.Expense, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return core.Expense{}, err
	}
	return e.mutate(ctx, PendingMutation{Kind: MutationCreate, Create: req})
}

// UpdateExpense patches an expense. The returned record is the gateway's
// response, or the optimistic patch when the intent was queued.
func (e *Engine) UpdateExpense(ctx context.Context, req core.UpdateRequest) (core.Expense, error) {
	if err := req.Validate(); err != nil {
		return core.Expense{}, err
	}
	return e.mutate(ctx, PendingMutation{Kind: MutationUpdate, Update: req})
}

func (e *Engine) DeleteExpense(ctx context.Context, id core.ExpenseID) error {
	if id.IsZero() {
		return core.ErrNotFound
	}
	_, err := e.mutate(ctx, PendingMutation{Kind: MutationDelete, Delete: id})
	return err
}

func (e *Engine) mutate(ctx context.Context, m PendingMutation) (core.Expense, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.Expense{}, core.ErrEngineClosed
	}
	e.state.PendingOperations++
	e.publishLocked()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state.PendingOperations--
		if !e.closed {
			e.publishLocked()
		}
		e.mu.Unlock()
	}()

	user, err := e.currentUser(ctx)
	if err != nil {
		e.setError(err)
		return core.Expense{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.Expense{}, core.ErrEngineClosed
	}
	offline := !e.state.IsOnline && e.config.EnableOfflineSupport
	if offline && m.Kind != MutationCreate {
		if _, ok := e.state.Find(m.target()); !ok {
			e.mu.Unlock()
			return core.Expense{}, core.ErrNotFound
		}
	}

	before := append([]core.Expense{}, e.state.Expenses...)
	var local core.Expense
	if e.config.EnableOptimisticUpdates {
		local = e.applyOptimisticLocked(&m, user)
	}

	if offline {
		if m.Kind == MutationUpdate && !e.config.EnableOptimisticUpdates {
			current, _ := e.state.Find(m.Update.ID)
			local = m.Update.Apply(current, e.now())
		}
		m.EnqueuedAt = e.now()
		e.queue = enqueue(e.queue, m)
		e.publishLocked()
		queued := len(e.queue)
		e.mu.Unlock()

		e.logger.InfoContext(ctx, "Mutation saved offline", "kind", m.Kind, "queued", queued)
		e.notify(ctx, savedOffline())
		return local, nil
	}
	e.mu.Unlock()

	opCtx, cancel := e.opContext(ctx)
	result, err := e.execute(opCtx, m)
	cancel()
	if err != nil {
		e.rollback(ctx, before)
		e.setError(err)
		e.notify(ctx, failure(err))
		e.logger.WarnContext(ctx, "Mutation failed, rolled back", "kind", m.Kind, "error", err)
		return core.Expense{}, err
	}

	e.mu.Lock()
	if !e.closed {
		e.reconcileLocked(m, result)
		e.publishLocked()
	}
	e.mu.Unlock()

	switch m.Kind {
	case MutationCreate:
		e.notify(ctx, expenseAdded(result))
	case MutationDelete:
		e.notify(ctx, expenseDeleted())
	}
	return result, nil
}

// applyOptimisticLocked applies m to the visible list as if it had already
// succeeded and returns the affected record. Creates get an optimistic id
// recorded on m.
func (e *Engine) applyOptimisticLocked(m *PendingMutation, user core.User) core.Expense {
	now := e.now()
	var affected core.Expense
	switch m.Kind {
	case MutationCreate:
		affected = core.NewExpense(core.NewOptimisticID(), user.ID, m.Create, now)
		m.OptimisticID = affected.ID
		e.state.Expenses = append([]core.Expense{affected}, e.state.Expenses...)
	case MutationUpdate:
		for i, x := range e.state.Expenses {
			if x.ID == m.Update.ID {
				affected = m.Update.Apply(x, now)
				list := append([]core.Expense{}, e.state.Expenses...)
				list[i] = affected
				e.state.Expenses = list
				break
			}
		}
	case MutationDelete:
		e.state.Expenses = without(e.state.Expenses, m.Delete)
	}
	e.recomputeLocked()
	e.publishLocked()
	return affected
}

// reconcileLocked folds a gateway response into the visible list. A snapshot
// may already have delivered the durable record; it is never duplicated.
func (e *Engine) reconcileLocked(m PendingMutation, result core.Expense) {
	switch m.Kind {
	case MutationCreate:
		_, hasDurable := e.state.Find(result.ID)
		out := make([]core.Expense, 0, len(e.state.Expenses)+1)
		placed := hasDurable
		for _, x := range e.state.Expenses {
			if !m.OptimisticID.IsZero() && x.ID == m.OptimisticID {
				if !placed {
					out = append(out, result)
					placed = true
				}
				continue
			}
			out = append(out, x)
		}
		if !placed {
			out = append([]core.Expense{result}, out...)
		}
		e.state.Expenses = out
	case MutationUpdate:
		list := append([]core.Expense{}, e.state.Expenses...)
		for i, x := range list {
			if x.ID == result.ID {
				list[i] = result
			}
		}
		e.state.Expenses = list
	case MutationDelete:
		e.state.Expenses = without(e.state.Expenses, m.Delete)
	}
	e.recomputeLocked()
}

// rollback discards optimistic changes by refetching. When the refetch also
// fails the list from before the mutation is restored.
func (e *Engine) rollback(ctx context.Context, before []core.Expense) {
	opCtx, cancel := e.opContext(ctx)
	list, err := e.gw.GetExpenses(opCtx, gateway.Query{})
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if err != nil {
		e.logger.WarnContext(ctx, "Rollback refetch failed, restoring previous list", "error", err)
		e.state.Expenses = before
		e.recomputeLocked()
	} else {
		e.applySnapshotLocked(list)
	}
	e.publishLocked()
}

func (e *Engine) execute(ctx context.Context, m PendingMutation) (core.Expense, error) {
	switch m.Kind {
	case MutationCreate:
		return e.gw.CreateExpense(ctx, m.Create)
	case MutationUpdate:
		return e.gw.UpdateExpense(ctx, m.Update)
	case MutationDelete:
		return core.Expense{}, e.gw.DeleteExpense(ctx, m.Delete)
	default:
		return core.Expense{}, fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

// SetOnline records network reachability. Coming back online drains the
// offline queue before returning. Going offline marks the subscription as
// disconnected.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	was := e.state.IsOnline
	e.state.IsOnline = online
	switch {
	case !online:
		e.state.IsConnected = false
	case !was:
		e.state.IsConnected = e.sub != nil && e.subLive
	}
	e.publishLocked()
	e.mu.Unlock()

	if was == online {
		return
	}
	e.logger.InfoContext(ctx, "Connectivity changed", "online", online)
	if online && e.config.EnableOfflineSupport {
		// The queue belongs to the engine, not to whoever reported the
		// reconnect.
		e.drain(context.WithoutCancel(ctx))
	}
}

// drain replays queued mutations in enqueue order. A failed replay is
// dropped and kept as a dead letter.
func (e *Engine) drain(ctx context.Context) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	synced, failed := 0, 0
	for {
		e.mu.Lock()
		if e.closed || !e.state.IsOnline || len(e.queue) == 0 {
			e.mu.Unlock()
			break
		}
		m := e.queue[0]
		e.queue = e.queue[1:]
		e.publishLocked()
		e.mu.Unlock()

		if synced+failed == 0 {
			e.logger.InfoContext(ctx, "Draining offline queue")
		}

		opCtx, cancel := e.opContext(ctx)
		result, err := e.execute(opCtx, m)
		cancel()
		if err != nil {
			failed++
			replayErr := fmt.Errorf("%w: %s: %w", core.ErrOfflineReplay, m.Kind, err)
			e.logger.WarnContext(ctx, "Dropping offline mutation", "kind", m.Kind, "error", replayErr)
			e.recordDeadLetter(m, replayErr)
			continue
		}
		synced++

		e.mu.Lock()
		if !e.closed {
			e.reconcileLocked(m, result)
			e.publishLocked()
		}
		e.mu.Unlock()
	}

	if synced+failed == 0 {
		return
	}
	e.logger.InfoContext(ctx, "Offline queue drained", "synced", synced, "failed", failed)
	e.notify(ctx, syncComplete(synced))
	if failed > 0 {
		err := fmt.Errorf("%w: %d offline change(s) could not be synced", core.ErrOfflineReplay, failed)
		e.notify(ctx, failure(err))
		e.rollback(ctx, e.State().Expenses)
	}
}

func (e *Engine) recordDeadLetter(m PendingMutation, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deadLetters = append(e.deadLetters, DeadLetter{Mutation: m, Error: err.Error(), FailedAt: e.now()})
	if limit := e.config.DeadLetterLimit; limit > 0 && len(e.deadLetters) > limit {
		e.deadLetters = e.deadLetters[len(e.deadLetters)-limit:]
	}
}

func without(list []core.Expense, id core.ExpenseID) []core.Expense {
	out := make([]core.Expense, 0, len(list))
	for _, x := range list {
		if x.ID != id {
			out = append(out, x)
		}
	}
	return out
}
