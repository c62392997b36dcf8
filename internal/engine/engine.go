// Package engine keeps a local view of a user's expenses consistent with the
// remote gateway. It applies mutations optimistically, queues them while
// offline, and replaces its state wholesale with every authoritative
// snapshot the gateway delivers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spendsync/internal/aggregate"
	"spendsync/internal/core"
	"spendsync/internal/gateway"
	"spendsync/internal/log"
)

var errAlreadyStarted = errors.New("engine already started")

// Engine is safe for concurrent use. Gateway calls never run under its lock.
type Engine struct {
	gw       gateway.Gateway
	auth     gateway.Authenticator
	notifier Notifier
	config   Config
	logger   *log.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       State
	user        core.User
	queue       []PendingMutation
	deadLetters []DeadLetter
	sub         gateway.Subscription
	subLive     bool
	stopPoll    chan struct{}
	closed      bool
	watchers    map[chan State]struct{}

	// drainMu keeps replays strictly sequential.
	drainMu sync.Mutex
}

// New creates an engine over gw. A nil notifier disables nothing; it is
// replaced by NopNotifier.
func New(gw gateway.Gateway, auth gateway.Authenticator, notifier Notifier, config Config) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if config.RecentLimit <= 0 {
		config.RecentLimit = aggregate.DefaultRecentLimit
	}
	e := &Engine{
		gw:       gw,
		auth:     auth,
		notifier: notifier,
		config:   config,
		logger:   log.ForComponent(log.ComponentEngine),
		now:      time.Now,
		watchers: make(map[chan State]struct{}),
	}
	e.state = State{
		Status:         StatusUninitialized,
		Expenses:       []core.Expense{},
		DashboardStats: aggregate.ComputeDashboard(nil, config.RecentLimit),
		IsOnline:       true,
	}
	return e
}

// Start runs the initialization protocol: authenticate, fetch, subscribe,
// drain the offline queue and start the polling fallback. It may be retried
// after a failure.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.ErrEngineClosed
	}
	if e.state.Status == StatusLoading || e.state.Status == StatusReady {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", errAlreadyStarted, e.state.Status)
	}
	e.state.Status = StatusLoading
	e.state.IsLoading = true
	e.state.Error = ""
	e.publishLocked()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Engine starting")

	user, err := e.auth.CurrentUser(ctx)
	if err != nil {
		if !errors.Is(err, core.ErrAuthRequired) {
			err = fmt.Errorf("%w: %v", core.ErrAuthRequired, err)
		}
		return e.failStart(ctx, err)
	}

	opCtx, cancel := e.opContext(ctx)
	list, err := e.gw.GetExpenses(opCtx, gateway.Query{})
	cancel()
	if err != nil {
		return e.failStart(ctx, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.ErrEngineClosed
	}
	e.user = user
	e.applySnapshotLocked(list)
	e.state.Status = StatusReady
	e.state.IsLoading = false
	e.publishLocked()
	e.mu.Unlock()

	sub, err := e.gw.Subscribe(ctx, gateway.Listener{
		OnChange:     e.onRemoteChange,
		OnDisconnect: e.onDisconnect,
	})
	if err != nil {
		return e.failStart(ctx, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sub.Unsubscribe()
		return core.ErrEngineClosed
	}
	e.sub = sub
	e.subLive = true
	e.state.IsConnected = true
	online := e.state.IsOnline
	e.publishLocked()
	e.mu.Unlock()

	if online && e.config.EnableOfflineSupport {
		e.drain(context.WithoutCancel(ctx))
	}
	e.startPolling()

	e.logger.InfoContext(ctx, "Engine ready", "user_id", user.ID, "expenses", len(list))
	return nil
}

func (e *Engine) failStart(ctx context.Context, err error) error {
	e.mu.Lock()
	if !e.closed {
		e.state.Status = StatusError
		e.state.IsLoading = false
		e.state.Error = core.Message(err)
		e.publishLocked()
	}
	e.mu.Unlock()
	e.logger.ErrorContext(ctx, "Engine initialization failed", "error", err)
	return err
}

// StartRetrying calls Start until it succeeds, the engine is closed or ctx
// ends. The wait between attempts doubles from minDelay up to maxDelay.
func (e *Engine) StartRetrying(ctx context.Context, minDelay, maxDelay time.Duration) error {
	delay := minDelay
	for attempt := 1; ; attempt++ {
		err := e.Start(ctx)
		switch {
		case err == nil, errors.Is(err, errAlreadyStarted):
			return nil
		case errors.Is(err, core.ErrEngineClosed):
			return err
		}
		e.logger.WarnContext(ctx, "Engine start failed, retrying", "attempt", attempt, "retry_in", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
}

// Close releases the subscription and stops polling. It is idempotent and
// does not wait for in-flight gateway calls; their results are discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sub := e.sub
	e.sub = nil
	stop := e.stopPoll
	e.stopPoll = nil
	for ch := range e.watchers {
		close(ch)
		delete(e.watchers, ch)
	}
	e.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if stop != nil {
		close(stop)
	}
	e.logger.Info("Engine closed")
}

// State returns a snapshot of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Watch returns a channel that always holds the latest state snapshot,
// and a function that stops the feed.
func (e *Engine) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	e.watchers[ch] = struct{}{}
	ch <- e.state.clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.watchers[ch]; ok {
				delete(e.watchers, ch)
				close(ch)
			}
		})
	}
}

// Queue returns the mutations waiting for connectivity, oldest first.
func (e *Engine) Queue() []PendingMutation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PendingMutation{}, e.queue...)
}

// DeadLetters returns the queued mutations that failed on replay.
func (e *Engine) DeadLetters() []DeadLetter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]DeadLetter{}, e.deadLetters...)
}

// Refresh refetches the authoritative list. On failure the current data is
// kept and the error is surfaced. An engine whose start failed runs the
// whole initialization again.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.ErrEngineClosed
	}
	if e.state.Status == StatusError {
		e.mu.Unlock()
		e.logger.InfoContext(ctx, "Refresh after failed start, reinitializing")
		return e.Start(ctx)
	}
	e.state.IsLoading = true
	e.publishLocked()
	e.mu.Unlock()

	if _, err := e.currentUser(ctx); err != nil {
		e.setError(err)
		return err
	}

	opCtx, cancel := e.opContext(ctx)
	list, err := e.gw.GetExpenses(opCtx, gateway.Query{})
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return core.ErrEngineClosed
	}
	e.state.IsLoading = false
	if err != nil {
		e.state.Error = core.Message(err)
		e.publishLocked()
		e.logger.WarnContext(ctx, "Refresh failed", "error", err)
		return err
	}
	e.applySnapshotLocked(list)
	e.state.Error = ""
	e.publishLocked()
	return nil
}

// ClearError empties the error field.
func (e *Engine) ClearError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state.Error == "" {
		return
	}
	e.state.Error = ""
	e.publishLocked()
}

func (e *Engine) onRemoteChange(list []core.Expense) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.applySnapshotLocked(list)
	e.subLive = true
	e.state.IsConnected = true
	e.state.Error = ""
	e.publishLocked()
	e.logger.Debug("Applied remote snapshot", "expenses", len(e.state.Expenses))
}

func (e *Engine) onDisconnect(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.subLive = false
	e.state.IsConnected = false
	e.publishLocked()
	e.logger.Warn("Subscription disconnected", "error", err)
}

func (e *Engine) startPolling() {
	if e.config.PollInterval <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.stopPoll != nil {
		return
	}
	stop := make(chan struct{})
	e.stopPoll = stop
	go e.pollLoop(stop)
}

func (e *Engine) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.pollOnce(context.Background())
		}
	}
}

// pollOnce refetches only when the subscription is down. Connectivity is
// read at fire time.
func (e *Engine) pollOnce(ctx context.Context) {
	e.mu.Lock()
	skip := e.closed || e.state.IsConnected || !e.state.IsOnline
	e.mu.Unlock()
	if skip {
		return
	}

	e.logger.DebugContext(ctx, "Polling for expenses")
	opCtx, cancel := e.opContext(ctx)
	list, err := e.gw.GetExpenses(opCtx, gateway.Query{})
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if err != nil {
		e.state.Error = core.Message(err)
		e.publishLocked()
		e.logger.WarnContext(ctx, "Poll failed", "error", err)
		return
	}
	e.applySnapshotLocked(list)
	e.state.Error = ""
	e.publishLocked()
}

func (e *Engine) currentUser(ctx context.Context) (core.User, error) {
	e.mu.Lock()
	u := e.user
	e.mu.Unlock()
	if u.ID != "" {
		return u, nil
	}
	u, err := e.auth.CurrentUser(ctx)
	if err != nil {
		return core.User{}, err
	}
	e.mu.Lock()
	e.user = u
	e.mu.Unlock()
	return u, nil
}

func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.OperationTimeout > 0 {
		return context.WithTimeout(ctx, e.config.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) setError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.state.IsLoading = false
	e.state.Error = core.Message(err)
	e.publishLocked()
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	if !e.config.EnableNotifications {
		return
	}
	e.notifier.Notify(ctx, n)
}

// applySnapshotLocked replaces the visible list with an authoritative one,
// keeping only the signed-in user's records.
func (e *Engine) applySnapshotLocked(list []core.Expense) {
	out := make([]core.Expense, 0, len(list))
	for _, x := range list {
		if e.user.ID == "" || x.UserID == e.user.ID {
			out = append(out, x)
		}
	}
	e.state.Expenses = out
	e.state.LastUpdated = e.now()
	e.recomputeLocked()
}

func (e *Engine) recomputeLocked() {
	e.state.DashboardStats = aggregate.ComputeDashboard(e.state.Expenses, e.config.RecentLimit)
}

func (e *Engine) publishLocked() {
	e.state.QueuedMutations = len(e.queue)
	if len(e.watchers) == 0 {
		return
	}
	snap := e.state.clone()
	for ch := range e.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
