package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"spendsync/internal/amqp"
	"spendsync/internal/core"
)

// ServiceConfig holds the knobs of a Service.
type ServiceConfig struct {
	// Name labels the strategy in logs.
	Name string
	// RefetchTimeout bounds the list fetch triggered by a change notification.
	RefetchTimeout time.Duration
	Now            func() time.Time
}

// DefaultServiceConfig returns sensible defaults for a Service.
func DefaultServiceConfig(name string) ServiceConfig {
	return ServiceConfig{
		Name:           name,
		RefetchTimeout: 15 * time.Second,
		Now:            time.Now,
	}
}

// Service implements Gateway over a Repository and a ChangeBus.
type Service struct {
	repo   Repository
	bus    ChangeBus
	auth   Authenticator
	config ServiceConfig
	flight singleflight.Group
}

func NewService(repo Repository, bus ChangeBus, auth Authenticator, config ServiceConfig) *Service {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.RefetchTimeout <= 0 {
		config.RefetchTimeout = 15 * time.Second
	}
	return &Service{repo: repo, bus: bus, auth: auth, config: config}
}

// Name returns the strategy label.
func (s *Service) Name() string { return s.config.Name }

// Ping probes the underlying repository.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) CreateExpense(ctx context.Context, req core.CreateRequest) (core.Expense, error) {
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return core.Expense{}, err
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return core.Expense{}, err
	}

	e := core.NewExpense(core.NewDurableID(), user.ID, req, s.config.Now().UTC())
	if err := s.repo.InsertExpense(ctx, e); err != nil {
		return core.Expense{}, core.RemoteFailure("create expense", err)
	}
	s.publish(ctx, Change{UserID: user.ID, ExpenseID: e.ID.String(), Op: amqp.OpCreated})
	return e, nil
}

func (s *Service) GetExpenses(ctx context.Context, q Query) ([]core.Expense, error) {
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.repo.ListExpenses(ctx, user.ID)
	if err != nil {
		return nil, core.RemoteFailure("get expenses", err)
	}
	return ApplyQuery(list, q), nil
}

func (s *Service) UpdateExpense(ctx context.Context, req core.UpdateRequest) (core.Expense, error) {
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return core.Expense{}, err
	}
	if err := req.Validate(); err != nil {
		return core.Expense{}, err
	}
	if req.ID.IsOptimistic() {
		return core.Expense{}, core.ErrNotFound
	}

	existing, err := s.repo.GetExpense(ctx, user.ID, req.ID)
	if err != nil {
		return core.Expense{}, core.RemoteFailure("update expense", err)
	}
	updated := req.Apply(existing, s.config.Now().UTC())
	if err := s.repo.UpdateExpense(ctx, updated); err != nil {
		return core.Expense{}, core.RemoteFailure("update expense", err)
	}
	s.publish(ctx, Change{UserID: user.ID, ExpenseID: updated.ID.String(), Op: amqp.OpUpdated})
	return updated, nil
}

func (s *Service) DeleteExpense(ctx context.Context, id core.ExpenseID) error {
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if id.IsZero() || id.IsOptimistic() {
		return core.ErrNotFound
	}
	if err := s.repo.DeleteExpense(ctx, user.ID, id); err != nil {
		return core.RemoteFailure("delete expense", err)
	}
	s.publish(ctx, Change{UserID: user.ID, ExpenseID: id.String(), Op: amqp.OpDeleted})
	return nil
}

// Subscribe listens for the current user's changes. The feed outlives ctx
// and ends on Unsubscribe.
func (s *Service) Subscribe(ctx context.Context, l Listener) (Subscription, error) {
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	onChange := func(c Change) {
		list, err := s.refetch(subCtx, user.ID)
		if err != nil {
			slog.WarnContext(subCtx, "Refetch after change notification failed",
				"gateway", s.config.Name, "user_id", user.ID, "error", err)
			return
		}
		slog.DebugContext(subCtx, "Delivering change snapshot",
			"gateway", s.config.Name, "user_id", user.ID, "op", c.Op, "count", len(list))
		if l.OnChange != nil {
			l.OnChange(list)
		}
	}
	onError := func(err error) {
		if l.OnDisconnect != nil {
			l.OnDisconnect(err)
		}
	}

	stop, err := s.bus.Listen(subCtx, user.ID, onChange, onError)
	if err != nil {
		cancel()
		return nil, core.RemoteFailure("subscribe", err)
	}
	slog.InfoContext(ctx, "Subscribed to expense changes", "gateway", s.config.Name, "user_id", user.ID)
	return SubscriptionFunc(func() {
		stop()
		cancel()
	}), nil
}

// refetch collapses concurrent list fetches for the same user into one.
func (s *Service) refetch(ctx context.Context, userID string) ([]core.Expense, error) {
	v, err, _ := s.flight.Do(userID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, s.config.RefetchTimeout)
		defer cancel()
		return s.repo.ListExpenses(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("refetch expenses: %w", err)
	}
	list := v.([]core.Expense)
	out := make([]core.Expense, len(list))
	copy(out, list)
	return out, nil
}

func (s *Service) publish(ctx context.Context, c Change) {
	if err := s.bus.Publish(ctx, c); err != nil {
		slog.WarnContext(ctx, "Failed to publish expense change",
			"gateway", s.config.Name, "user_id", c.UserID, "expense_id", c.ExpenseID, "error", err)
	}
}
