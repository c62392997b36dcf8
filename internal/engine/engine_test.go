package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"spendsync/internal/core"
	"spendsync/internal/gateway"
)

var testUser = core.User{ID: "u1", Email: "ada@example.com", Name: "Ada"}

type fakeAuth struct {
	user core.User
	err  error
}

func (a fakeAuth) CurrentUser(context.Context) (core.User, error) {
	if a.err != nil {
		return core.User{}, a.err
	}
	return a.user, nil
}

// fakeGateway records the order of mutating calls and can block or fail them.
type fakeGateway struct {
	mu       sync.Mutex
	expenses []core.Expense
	calls    []string
	creates  []core.CreateRequest
	lists    int
	nextID   int

	createErr    error
	updateErr    error
	deleteErr    error
	listErr      error
	subscribeErr error
	// block, when set, holds CreateExpense until closed or ctx ends.
	block chan struct{}

	listener     gateway.Listener
	unsubscribed bool
}

func (g *fakeGateway) seed(list ...core.Expense) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expenses = append(g.expenses, list...)
}

func (g *fakeGateway) CreateExpense(ctx context.Context, req core.CreateRequest) (core.Expense, error) {
	if err := ctx.Err(); err != nil {
		return core.Expense{}, err
	}
	g.mu.Lock()
	g.calls = append(g.calls, "create:"+req.Description)
	g.creates = append(g.creates, req)
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return core.Expense{}, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return core.Expense{}, g.createErr
	}
	g.nextID++
	e := core.NewExpense(core.DurableID(fmt.Sprintf("d-%d", g.nextID)), testUser.ID, req, time.Now())
	g.expenses = append([]core.Expense{e}, g.expenses...)
	return e, nil
}

func (g *fakeGateway) GetExpenses(context.Context, gateway.Query) ([]core.Expense, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lists++
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]core.Expense{}, g.expenses...), nil
}

func (g *fakeGateway) UpdateExpense(_ context.Context, req core.UpdateRequest) (core.Expense, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "update:"+req.ID.String())
	if g.updateErr != nil {
		return core.Expense{}, g.updateErr
	}
	for i, x := range g.expenses {
		if x.ID == req.ID {
			g.expenses[i] = req.Apply(x, time.Now())
			return g.expenses[i], nil
		}
	}
	return core.Expense{}, core.ErrNotFound
}

func (g *fakeGateway) DeleteExpense(_ context.Context, id core.ExpenseID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "delete:"+id.String())
	if g.deleteErr != nil {
		return g.deleteErr
	}
	for i, x := range g.expenses {
		if x.ID == id {
			g.expenses = append(g.expenses[:i], g.expenses[i+1:]...)
			return nil
		}
	}
	return core.ErrNotFound
}

func (g *fakeGateway) Subscribe(_ context.Context, l gateway.Listener) (gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subscribeErr != nil {
		return nil, g.subscribeErr
	}
	g.listener = l
	return gateway.SubscriptionFunc(func() {
		g.mu.Lock()
		g.unsubscribed = true
		g.mu.Unlock()
	}), nil
}

func (g *fakeGateway) mutatingCalls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.calls...)
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

type recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recorder) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recorder) find(kind NotificationKind) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.sent {
		if n.Kind == kind {
			return n, true
		}
	}
	return Notification{}, false
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 0
	cfg.OperationTimeout = time.Second
	return cfg
}

func startEngine(t *testing.T, gw *fakeGateway, cfg Config) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := New(gw, fakeAuth{user: testUser}, rec, cfg)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Close)
	return e, rec
}

func lunch() core.CreateRequest {
	return core.CreateRequest{
		Amount:      core.Money{Cents: 4250},
		Category:    core.Food,
		Description: "Lunch",
		Date:        core.NewDate(2024, 1, 15),
	}
}

func named(desc string) core.CreateRequest {
	r := lunch()
	r.Description = desc
	return r
}

func durable(id string, cents int64, cat core.Category) core.Expense {
	return core.Expense{
		ID:          core.DurableID(id),
		UserID:      testUser.ID,
		Amount:      core.Money{Cents: cents},
		Category:    cat,
		Description: "seed " + id,
		Date:        core.NewDate(2024, 1, 10),
		CreatedAt:   time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func waitFor(t *testing.T, e *Engine, what string, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := e.State(); cond(s) {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; state: %+v", what, e.State())
	return State{}
}

func hasOptimistic(s State) bool {
	for _, x := range s.Expenses {
		if x.ID.IsOptimistic() {
			return true
		}
	}
	return false
}

func TestStartLoadsAndSubscribes(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("a", 1000, core.Food), core.Expense{ID: core.DurableID("x"), UserID: "someone-else", Amount: core.Money{Cents: 5}})

	e, _ := startEngine(t, gw, testConfig())
	s := e.State()

	if s.Status != StatusReady || s.IsLoading || !s.IsConnected || !s.IsOnline {
		t.Fatalf("unexpected state after start: %+v", s)
	}
	if len(s.Expenses) != 1 || s.Expenses[0].ID != core.DurableID("a") {
		t.Fatalf("expected only the user's expense, got %+v", s.Expenses)
	}
	if s.LastUpdated.IsZero() {
		t.Fatalf("expected lastUpdated to be set")
	}
	if err := e.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start to fail")
	}
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name    string
		auth    fakeAuth
		gw      *fakeGateway
		wantErr error
		wantMsg string
	}{
		{
			name:    "unauthenticated",
			auth:    fakeAuth{err: core.ErrAuthRequired},
			gw:      &fakeGateway{},
			wantErr: core.ErrAuthRequired,
			wantMsg: "Authentication required",
		},
		{
			name:    "fetch fails",
			auth:    fakeAuth{user: testUser},
			gw:      &fakeGateway{listErr: errors.New("network down")},
			wantMsg: "network down",
		},
		{
			name:    "subscribe fails",
			auth:    fakeAuth{user: testUser},
			gw:      &fakeGateway{subscribeErr: errors.New("socket refused")},
			wantMsg: "socket refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.gw, tt.auth, nil, testConfig())
			defer e.Close()

			err := e.Start(context.Background())
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			s := e.State()
			if s.Status != StatusError || s.IsLoading {
				t.Fatalf("expected error status, got %+v", s)
			}
			if s.Error != tt.wantMsg {
				t.Fatalf("expected error %q, got %q", tt.wantMsg, s.Error)
			}
		})
	}
}

func TestStartCanBeRetried(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("network down")}
	e := New(gw, fakeAuth{user: testUser}, nil, testConfig())
	defer e.Close()

	if err := e.Start(context.Background()); err == nil {
		t.Fatalf("expected first start to fail")
	}
	gw.set(func(g *fakeGateway) { g.listErr = nil })
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s := e.State(); s.Status != StatusReady || s.Error != "" {
		t.Fatalf("unexpected state after retry: %+v", s)
	}
}

func TestCreateOnline(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := startEngine(t, gw, testConfig())

	got, err := e.CreateExpense(context.Background(), lunch())
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	if got.ID.IsOptimistic() {
		t.Fatalf("expected durable id, got %v", got.ID)
	}

	s := e.State()
	if len(s.Expenses) != 1 {
		t.Fatalf("expected exactly one expense, got %+v", s.Expenses)
	}
	x := s.Expenses[0]
	if x.Amount.Float() != 42.5 || x.Category != core.Food || x.ID != got.ID {
		t.Fatalf("unexpected expense %+v", x)
	}
	if s.DashboardStats.TotalAmount.Float() != 42.5 || s.DashboardStats.TotalCount != 1 {
		t.Fatalf("unexpected stats %+v", s.DashboardStats)
	}
	n, ok := rec.find(KindCreated)
	if !ok || n.Body != "Lunch - $42.50" {
		t.Fatalf("expected created notification, got %+v", rec.sent)
	}
}

func TestCreateIsVisibleBeforeGatewayResolves(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	e, _ := startEngine(t, gw, testConfig())

	done := make(chan error, 1)
	go func() {
		_, err := e.CreateExpense(context.Background(), lunch())
		done <- err
	}()

	s := waitFor(t, e, "optimistic record", hasOptimistic)
	if s.PendingOperations != 1 {
		t.Fatalf("expected one pending operation, got %d", s.PendingOperations)
	}
	if s.DashboardStats.TotalAmount.Cents != 4250 {
		t.Fatalf("stats not recomputed for optimistic record: %+v", s.DashboardStats)
	}

	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	s = e.State()
	if hasOptimistic(s) || len(s.Expenses) != 1 || s.PendingOperations != 0 {
		t.Fatalf("expected optimistic record replaced, got %+v", s)
	}
}

func TestCreateWithoutOptimisticUpdates(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	cfg := testConfig()
	cfg.EnableOptimisticUpdates = false
	e, _ := startEngine(t, gw, cfg)

	done := make(chan error, 1)
	go func() {
		_, err := e.CreateExpense(context.Background(), lunch())
		done <- err
	}()

	waitFor(t, e, "pending operation", func(s State) bool { return s.PendingOperations == 1 })
	if s := e.State(); len(s.Expenses) != 0 {
		t.Fatalf("expected nothing visible before response, got %+v", s.Expenses)
	}
	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	if s := e.State(); len(s.Expenses) != 1 {
		t.Fatalf("expected the durable record, got %+v", s.Expenses)
	}
}

func TestCreateFailureRollsBack(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("server exploded")}
	gw.seed(durable("a", 1000, core.Food))
	e, rec := startEngine(t, gw, testConfig())

	_, err := e.CreateExpense(context.Background(), lunch())
	if err == nil {
		t.Fatalf("expected error")
	}

	s := e.State()
	if hasOptimistic(s) || len(s.Expenses) != 1 {
		t.Fatalf("optimistic record survived rollback: %+v", s.Expenses)
	}
	if s.Error == "" {
		t.Fatalf("expected error to be surfaced")
	}
	if _, ok := rec.find(KindError); !ok {
		t.Fatalf("expected error notification, got %v", rec.kinds())
	}
}

func TestRollbackRestoresListWhenRefetchFails(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("a", 1000, core.Food))
	e, _ := startEngine(t, gw, testConfig())

	gw.set(func(g *fakeGateway) {
		g.createErr = errors.New("server exploded")
		g.listErr = errors.New("still down")
	})
	if _, err := e.CreateExpense(context.Background(), lunch()); err == nil {
		t.Fatalf("expected error")
	}
	s := e.State()
	if len(s.Expenses) != 1 || s.Expenses[0].ID != core.DurableID("a") {
		t.Fatalf("expected pre-mutation list, got %+v", s.Expenses)
	}
}

func TestPendingOperationsBalance(t *testing.T) {
	tests := []struct {
		name string
		prep func(g *fakeGateway)
		run  func(e *Engine) error
	}{
		{
			name: "create succeeds",
			run: func(e *Engine) error {
				_, err := e.CreateExpense(context.Background(), lunch())
				return err
			},
		},
		{
			name: "create fails",
			prep: func(g *fakeGateway) { g.createErr = errors.New("boom") },
			run: func(e *Engine) error {
				_, err := e.CreateExpense(context.Background(), lunch())
				return err
			},
		},
		{
			name: "validation fails",
			run: func(e *Engine) error {
				_, err := e.CreateExpense(context.Background(), core.CreateRequest{})
				return err
			},
		},
		{
			name: "update succeeds",
			run: func(e *Engine) error {
				desc := "renamed"
				_, err := e.UpdateExpense(context.Background(), core.UpdateRequest{ID: core.DurableID("a"), Description: &desc})
				return err
			},
		},
		{
			name: "delete missing",
			run: func(e *Engine) error {
				return e.DeleteExpense(context.Background(), core.DurableID("missing"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			gw.seed(durable("a", 1000, core.Food))
			e, _ := startEngine(t, gw, testConfig())
			if tt.prep != nil {
				gw.set(tt.prep)
			}

			before := e.State().PendingOperations
			_ = tt.run(e)
			if after := e.State().PendingOperations; after != before {
				t.Fatalf("pendingOperations %d -> %d", before, after)
			}
		})
	}
}

func TestValidationErrorLeavesStateAlone(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := startEngine(t, gw, testConfig())

	_, err := e.CreateExpense(context.Background(), core.CreateRequest{Amount: core.Money{Cents: 100}, Category: "nope"})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(gw.mutatingCalls()) != 0 {
		t.Fatalf("gateway should not be called on invalid input")
	}
	if s := e.State(); len(s.Expenses) != 0 || s.Error != "" {
		t.Fatalf("state changed by invalid input: %+v", s)
	}
}

func TestCategoryBreakdownThroughEngine(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("a", 1000, core.Food), durable("b", 2000, core.Food))
	e, _ := startEngine(t, gw, testConfig())

	got := e.State().DashboardStats.CategoryBreakdown
	if len(got) != 1 {
		t.Fatalf("expected one category, got %+v", got)
	}
	if got[0].Category != core.Food || got[0].Amount.Cents != 3000 || got[0].Count != 2 {
		t.Fatalf("unexpected breakdown %+v", got[0])
	}
}

func TestUpdateOnline(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("a", 1000, core.Food))
	e, _ := startEngine(t, gw, testConfig())

	amount := core.Money{Cents: 2500}
	got, err := e.UpdateExpense(context.Background(), core.UpdateRequest{ID: core.DurableID("a"), Amount: &amount})
	if err != nil {
		t.Fatalf("UpdateExpense: %v", err)
	}
	if got.Amount != amount {
		t.Fatalf("unexpected result %+v", got)
	}
	if s := e.State(); s.Expenses[0].Amount != amount || s.DashboardStats.TotalAmount != amount {
		t.Fatalf("update not reflected: %+v", s)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("a", 1000, core.Food))
	e, _ := startEngine(t, gw, testConfig())
	before := e.State().Expenses

	err := e.DeleteExpense(context.Background(), core.DurableID("missing"))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	after := e.State().Expenses
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Fatalf("list changed: %+v -> %+v", before, after)
	}
}

func TestDeleteOnline(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("a", 1000, core.Food))
	e, rec := startEngine(t, gw, testConfig())

	if err := e.DeleteExpense(context.Background(), core.DurableID("a")); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}
	if s := e.State(); len(s.Expenses) != 0 || s.DashboardStats.TotalCount != 0 {
		t.Fatalf("expected empty list, got %+v", s)
	}
	if _, ok := rec.find(KindDeleted); !ok {
		t.Fatalf("expected deleted notification")
	}
}

func TestOfflineCreateIsQueued(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := startEngine(t, gw, testConfig())
	e.SetOnline(context.Background(), false)

	got, err := e.CreateExpense(context.Background(), lunch())
	if err != nil {
		t.Fatalf("offline create: %v", err)
	}
	if !got.ID.IsOptimistic() {
		t.Fatalf("expected optimistic id, got %v", got.ID)
	}
	if calls := gw.mutatingCalls(); len(calls) != 0 {
		t.Fatalf("gateway called while offline: %v", calls)
	}
	q := e.Queue()
	if len(q) != 1 || q[0].Kind != MutationCreate || q[0].OptimisticID != got.ID {
		t.Fatalf("unexpected queue %+v", q)
	}
	s := e.State()
	if s.QueuedMutations != 1 || s.IsConnected || s.IsOnline {
		t.Fatalf("unexpected state %+v", s)
	}
	if _, ok := s.Find(got.ID); !ok {
		t.Fatalf("queued create not visible")
	}
	if _, ok := rec.find(KindSavedOffline); !ok {
		t.Fatalf("expected saved offline notification, got %v", rec.kinds())
	}
}

func TestReconnectReplaysQueue(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := startEngine(t, gw, testConfig())
	e.SetOnline(context.Background(), false)
	if _, err := e.CreateExpense(context.Background(), lunch()); err != nil {
		t.Fatalf("offline create: %v", err)
	}

	e.SetOnline(context.Background(), true)

	gw.mu.Lock()
	creates := append([]core.CreateRequest{}, gw.creates...)
	gw.mu.Unlock()
	if len(creates) != 1 || creates[0] != lunch() {
		t.Fatalf("expected one create with the original payload, got %+v", creates)
	}
	if q := e.Queue(); len(q) != 0 {
		t.Fatalf("expected empty queue, got %+v", q)
	}
	s := e.State()
	if hasOptimistic(s) || len(s.Expenses) != 1 || s.QueuedMutations != 0 {
		t.Fatalf("expected durable record only, got %+v", s)
	}
	n, ok := rec.find(KindSyncComplete)
	if !ok || n.Body != "1 offline change(s) synced" {
		t.Fatalf("expected sync complete notification, got %+v", rec.sent)
	}
}

func TestReplayKeepsEnqueueOrder(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("x", 1000, core.Food))
	e, _ := startEngine(t, gw, testConfig())
	ctx := context.Background()

	e.SetOnline(ctx, false)
	if _, err := e.CreateExpense(ctx, named("A")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateExpense(ctx, named("B")); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteExpense(ctx, core.DurableID("x")); err != nil {
		t.Fatal(err)
	}
	e.SetOnline(ctx, true)

	got := strings.Join(gw.mutatingCalls(), ",")
	if want := "create:A,create:B,delete:x"; got != want {
		t.Fatalf("replay order %q, want %q", got, want)
	}
}

func TestOfflineEditsFoldIntoQueuedCreate(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := startEngine(t, gw, testConfig())
	ctx := context.Background()
	e.SetOnline(ctx, false)

	created, err := e.CreateExpense(ctx, lunch())
	if err != nil {
		t.Fatal(err)
	}
	desc := "Dinner"
	if _, err := e.UpdateExpense(ctx, core.UpdateRequest{ID: created.ID, Description: &desc}); err != nil {
		t.Fatalf("offline update: %v", err)
	}
	q := e.Queue()
	if len(q) != 1 || q[0].Create.Description != "Dinner" {
		t.Fatalf("update not folded into create: %+v", q)
	}
	if x, _ := e.State().Find(created.ID); x.Description != "Dinner" {
		t.Fatalf("visible record not patched: %+v", x)
	}

	if err := e.DeleteExpense(ctx, created.ID); err != nil {
		t.Fatalf("offline delete: %v", err)
	}
	if q := e.Queue(); len(q) != 0 {
		t.Fatalf("expected create and delete to cancel out, got %+v", q)
	}
	if s := e.State(); len(s.Expenses) != 0 {
		t.Fatalf("expected record gone, got %+v", s.Expenses)
	}

	e.SetOnline(ctx, true)
	if calls := gw.mutatingCalls(); len(calls) != 0 {
		t.Fatalf("nothing should be replayed, got %v", calls)
	}
}

func TestOfflineMutationOfUnknownIDIsNotFound(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := startEngine(t, gw, testConfig())
	e.SetOnline(context.Background(), false)

	err := e.DeleteExpense(context.Background(), core.DurableID("missing"))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if q := e.Queue(); len(q) != 0 {
		t.Fatalf("nothing should be queued, got %+v", q)
	}
}

func TestFailedReplayBecomesDeadLetter(t *testing.T) {
	gw := &fakeGateway{}
	e, rec := startEngine(t, gw, testConfig())
	ctx := context.Background()

	e.SetOnline(ctx, false)
	if _, err := e.CreateExpense(ctx, lunch()); err != nil {
		t.Fatal(err)
	}
	gw.set(func(g *fakeGateway) { g.createErr = errors.New("rejected") })
	e.SetOnline(ctx, true)

	dead := e.DeadLetters()
	if len(dead) != 1 || dead[0].Mutation.Kind != MutationCreate {
		t.Fatalf("expected one dead letter, got %+v", dead)
	}
	if !strings.Contains(dead[0].Error, "rejected") {
		t.Fatalf("dead letter lost the cause: %q", dead[0].Error)
	}
	if q := e.Queue(); len(q) != 0 {
		t.Fatalf("failed replay should not be retried, queue %+v", q)
	}
	if hasOptimistic(e.State()) {
		t.Fatalf("optimistic record should be dropped after refetch")
	}
	kinds := rec.kinds()
	if _, ok := rec.find(KindError); !ok {
		t.Fatalf("expected error notification, got %v", kinds)
	}
}

func TestDeadLettersAreBounded(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testConfig()
	cfg.DeadLetterLimit = 2
	e, _ := startEngine(t, gw, cfg)
	ctx := context.Background()

	e.SetOnline(ctx, false)
	for _, d := range []string{"A", "B", "C"} {
		if _, err := e.CreateExpense(ctx, named(d)); err != nil {
			t.Fatal(err)
		}
	}
	gw.set(func(g *fakeGateway) { g.createErr = errors.New("rejected") })
	e.SetOnline(ctx, true)

	dead := e.DeadLetters()
	if len(dead) != 2 || dead[0].Mutation.Create.Description != "B" || dead[1].Mutation.Create.Description != "C" {
		t.Fatalf("expected the two newest dead letters, got %+v", dead)
	}
}

func TestRemoteSnapshotReplacesState(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("a", 1000, core.Food))
	e, _ := startEngine(t, gw, testConfig())

	gw.mu.Lock()
	l := gw.listener
	gw.mu.Unlock()

	l.OnDisconnect(errors.New("socket closed"))
	if e.State().IsConnected {
		t.Fatalf("expected disconnected")
	}

	l.OnChange([]core.Expense{
		durable("b", 500, core.Travel),
		{ID: core.DurableID("z"), UserID: "intruder", Amount: core.Money{Cents: 1}},
	})
	s := e.State()
	if len(s.Expenses) != 1 || s.Expenses[0].ID != core.DurableID("b") {
		t.Fatalf("snapshot not applied wholesale: %+v", s.Expenses)
	}
	if !s.IsConnected || s.DashboardStats.TotalAmount.Cents != 500 {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestPollOnlyWhenDisconnected(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := startEngine(t, gw, testConfig())
	ctx := context.Background()

	gw.mu.Lock()
	base := gw.lists
	l := gw.listener
	gw.mu.Unlock()

	e.pollOnce(ctx)
	if gw.lists != base {
		t.Fatalf("poll should be skipped while connected")
	}

	l.OnDisconnect(errors.New("gone"))
	gw.seed(durable("late", 700, core.Bills))
	e.pollOnce(ctx)
	if _, ok := e.State().Find(core.DurableID("late")); !ok {
		t.Fatalf("poll did not apply the fetched list")
	}

	e.SetOnline(ctx, false)
	gw.mu.Lock()
	base = gw.lists
	gw.mu.Unlock()
	e.pollOnce(ctx)
	if gw.lists != base {
		t.Fatalf("poll should be skipped while offline")
	}
}

func TestPollingLoopRefreshes(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testConfig()
	cfg.PollInterval = 5 * time.Millisecond
	e, _ := startEngine(t, gw, cfg)

	gw.mu.Lock()
	l := gw.listener
	gw.mu.Unlock()
	l.OnDisconnect(errors.New("gone"))
	gw.seed(durable("polled", 300, core.Health))

	waitFor(t, e, "polled record", func(s State) bool {
		_, ok := s.Find(core.DurableID("polled"))
		return ok
	})
}

func TestRefreshFailureKeepsData(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("a", 1000, core.Food))
	e, _ := startEngine(t, gw, testConfig())

	gw.set(func(g *fakeGateway) { g.listErr = errors.New("timeout") })
	if err := e.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	s := e.State()
	if len(s.Expenses) != 1 || s.Error != "timeout" || s.IsLoading {
		t.Fatalf("unexpected state %+v", s)
	}

	e.ClearError()
	if e.State().Error != "" {
		t.Fatalf("expected error cleared")
	}
}

func TestOperationTimeout(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	cfg := testConfig()
	cfg.OperationTimeout = 20 * time.Millisecond
	e, _ := startEngine(t, gw, cfg)

	_, err := e.CreateExpense(context.Background(), lunch())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if s := e.State(); hasOptimistic(s) || s.PendingOperations != 0 {
		t.Fatalf("timed out create not rolled back: %+v", s)
	}
}

func TestNotificationsDisabled(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testConfig()
	cfg.EnableNotifications = false
	e, rec := startEngine(t, gw, cfg)

	if _, err := e.CreateExpense(context.Background(), lunch()); err != nil {
		t.Fatal(err)
	}
	if k := rec.kinds(); len(k) != 0 {
		t.Fatalf("expected no notifications, got %v", k)
	}
}

func TestOfflineSupportDisabledCallsGateway(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testConfig()
	cfg.EnableOfflineSupport = false
	e, _ := startEngine(t, gw, cfg)

	e.SetOnline(context.Background(), false)
	if _, err := e.CreateExpense(context.Background(), lunch()); err != nil {
		t.Fatal(err)
	}
	if calls := gw.mutatingCalls(); len(calls) != 1 {
		t.Fatalf("expected direct gateway call, got %v", calls)
	}
	if q := e.Queue(); len(q) != 0 {
		t.Fatalf("nothing should be queued, got %+v", q)
	}
}

func TestWatchDeliversLatestState(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := startEngine(t, gw, testConfig())

	ch, stop := e.Watch()
	first := <-ch
	if first.Status != StatusReady {
		t.Fatalf("expected current state first, got %+v", first)
	}

	if _, err := e.CreateExpense(context.Background(), lunch()); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-ch:
		if len(s.Expenses) != 1 {
			t.Fatalf("expected latest snapshot, got %+v", s.Expenses)
		}
	case <-time.After(time.Second):
		t.Fatalf("no state delivered")
	}

	stop()
	stop()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after stop")
	}
}

func TestCloseIgnoresLateResponses(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	e, _ := startEngine(t, gw, testConfig())

	ch, _ := e.Watch()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.CreateExpense(context.Background(), lunch())
	}()
	waitFor(t, e, "optimistic record", hasOptimistic)

	e.Close()
	e.Close()
	close(gw.block)
	<-done

	s := e.State()
	for _, x := range s.Expenses {
		if !x.ID.IsOptimistic() {
			t.Fatalf("late response applied after close: %+v", s.Expenses)
		}
	}
	gw.mu.Lock()
	unsubscribed := gw.unsubscribed
	gw.mu.Unlock()
	if !unsubscribed {
		t.Fatalf("expected subscription released")
	}
	for range ch {
	}
	if _, err := e.CreateExpense(context.Background(), lunch()); !errors.Is(err, core.ErrEngineClosed) {
		t.Fatalf("expected engine closed, got %v", err)
	}
}

func TestReconnectOutlivesCallerContext(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := startEngine(t, gw, testConfig())
	e.SetOnline(context.Background(), false)
	for _, d := range []string{"Lunch", "Taxi"} {
		req := lunch()
		req.Description = d
		if _, err := e.CreateExpense(context.Background(), req); err != nil {
			t.Fatalf("offline create: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.SetOnline(ctx, true)

	if dl := e.DeadLetters(); len(dl) != 0 {
		t.Fatalf("cancelled caller must not dead-letter the queue: %+v", dl)
	}
	if q := e.Queue(); len(q) != 0 {
		t.Fatalf("expected empty queue, got %+v", q)
	}
	want := []string{"create:Lunch", "create:Taxi"}
	if got := gw.mutatingCalls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if s := e.State(); len(s.Expenses) != 2 || hasOptimistic(s) {
		t.Fatalf("expected both durable records, got %+v", s.Expenses)
	}
}

func TestRefreshReinitializesAfterFailedStart(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("network down")}
	gw.seed(durable("a", 1000, core.Food))
	e := New(gw, fakeAuth{user: testUser}, nil, testConfig())
	defer e.Close()

	if err := e.Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail")
	}
	gw.set(func(g *fakeGateway) { g.listErr = nil })
	e.ClearError()

	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	s := e.State()
	if s.Status != StatusReady || !s.IsConnected || len(s.Expenses) != 1 {
		t.Fatalf("expected a ready, subscribed engine, got %+v", s)
	}
	gw.mu.Lock()
	subscribed := gw.listener.OnChange != nil
	gw.mu.Unlock()
	if !subscribed {
		t.Fatalf("refresh did not open the subscription")
	}
}

func TestStartRetryingRecovers(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("network down")}
	e := New(gw, fakeAuth{user: testUser}, nil, testConfig())
	defer e.Close()

	done := make(chan error, 1)
	go func() { done <- e.StartRetrying(context.Background(), 5*time.Millisecond, 20*time.Millisecond) }()

	waitFor(t, e, "failed start", func(s State) bool { return s.Status == StatusError })
	gw.set(func(g *fakeGateway) { g.listErr = nil })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StartRetrying: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("StartRetrying did not return")
	}
	if s := e.State(); s.Status != StatusReady {
		t.Fatalf("expected ready, got %s", s.Status)
	}
}

func TestStartRetryingStopsWithContext(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("network down")}
	e := New(gw, fakeAuth{user: testUser}, nil, testConfig())
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := e.StartRetrying(ctx, 5*time.Millisecond, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestReconnectRestoresLiveSubscription(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := startEngine(t, gw, testConfig())
	ctx := context.Background()

	e.SetOnline(ctx, false)
	e.SetOnline(ctx, true)
	if !e.State().IsConnected {
		t.Fatalf("live subscription should count as connected after reconnect")
	}

	gw.mu.Lock()
	l := gw.listener
	gw.mu.Unlock()
	e.SetOnline(ctx, false)
	l.OnDisconnect(errors.New("gone"))
	e.SetOnline(ctx, true)
	if e.State().IsConnected {
		t.Fatalf("a dropped subscription must stay disconnected until it delivers again")
	}
}

func TestOfflineUpdateWithoutOptimisticReturnsPatch(t *testing.T) {
	gw := &fakeGateway{}
	gw.seed(durable("a", 1000, core.Food))
	cfg := testConfig()
	cfg.EnableOptimisticUpdates = false
	e, _ := startEngine(t, gw, cfg)
	e.SetOnline(context.Background(), false)

	desc := "Dinner"
	got, err := e.UpdateExpense(context.Background(), core.UpdateRequest{ID: core.DurableID("a"), Description: &desc})
	if err != nil {
		t.Fatalf("UpdateExpense: %v", err)
	}
	if got.ID != core.DurableID("a") || got.Description != "Dinner" || got.Amount.Cents != 1000 {
		t.Fatalf("expected the patched record, got %+v", got)
	}
	if s := e.State(); s.Expenses[0].Description != "seed a" {
		t.Fatalf("visible list must not change without optimistic updates: %+v", s.Expenses)
	}
}

func TestStateIsStale(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		updated time.Time
		want    bool
	}{
		{"never fetched", time.Time{}, true},
		{"fresh", now.Add(-30 * time.Second), false},
		{"at the limit", now.Add(-time.Minute), false},
		{"old", now.Add(-2 * time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (State{LastUpdated: tt.updated}).IsStale(now, time.Minute); got != tt.want {
				t.Fatalf("IsStale = %v, want %v", got, tt.want)
			}
		})
	}
}
