package gateway

import (
	"context"
	"sync"

	"spendsync/internal/amqp"
)

// LocalBus delivers changes in-process. Publish calls every matching
// listener before it returns.
type LocalBus struct {
	mu        sync.Mutex
	next      int
	listeners map[int]localListener
}

type localListener struct {
	userID   string
	onChange func(Change)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{listeners: make(map[int]localListener)}
}

func (b *LocalBus) Publish(_ context.Context, c Change) error {
	b.mu.Lock()
	var targets []func(Change)
	for _, l := range b.listeners {
		if l.userID == c.UserID {
			targets = append(targets, l.onChange)
		}
	}
	b.mu.Unlock()

	for _, fn := range targets {
		fn(c)
	}
	return nil
}

func (b *LocalBus) Listen(_ context.Context, userID string, onChange func(Change), _ func(error)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.listeners[id] = localListener{userID: userID, onChange: onChange}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}, nil
}

// Listeners returns the number of active listeners.
func (b *LocalBus) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// ChangeClient is the part of the AMQP client the bus needs.
type ChangeClient interface {
	PublishChange(ctx context.Context, msg *amqp.ExpenseChangeMessage) error
	ConsumeChanges(ctx context.Context, userID string, handler func(*amqp.ExpenseChangeMessage), onDisconnect func(error)) error
}

// AMQPBus carries changes over RabbitMQ so every process sharing the
// store sees them.
type AMQPBus struct {
	client ChangeClient
}

func NewAMQPBus(client ChangeClient) *AMQPBus {
	return &AMQPBus{client: client}
}

func (b *AMQPBus) Publish(ctx context.Context, c Change) error {
	return b.client.PublishChange(ctx, amqp.NewExpenseChangeMessage(c.UserID, c.ExpenseID, c.Op))
}

func (b *AMQPBus) Listen(ctx context.Context, userID string, onChange func(Change), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		_ = b.client.ConsumeChanges(ctx, userID, func(m *amqp.ExpenseChangeMessage) {
			onChange(Change{UserID: m.UserID, ExpenseID: m.ExpenseID, Op: m.Op})
		}, onError)
	}()
	return cancel, nil
}
