package engine

import (
	"time"

	"spendsync/internal/aggregate"
)

// Config holds the engine's recognized options.
type Config struct {
	// EnableOptimisticUpdates applies mutations to local state before the
	// remote call resolves (default: true)
	EnableOptimisticUpdates bool

	// EnableOfflineSupport queues mutations while offline and replays them
	// on reconnect (default: true)
	EnableOfflineSupport bool

	// EnableNotifications turns the notification side-channel on (default: true)
	EnableNotifications bool

	// PollInterval is how often to refetch while the subscription is not
	// connected. Zero disables polling (default: 30s)
	PollInterval time.Duration

	// OperationTimeout bounds every gateway call. Zero means no bound (default: 15s)
	OperationTimeout time.Duration

	// RecentLimit is how many recent expenses the dashboard lists (default: 5)
	RecentLimit int

	// DeadLetterLimit caps how many failed replays are remembered (default: 50)
	DeadLetterLimit int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		EnableOptimisticUpdates: true,
		EnableOfflineSupport:    true,
		EnableNotifications:     true,
		PollInterval:            30 * time.Second,
		OperationTimeout:        15 * time.Second,
		RecentLimit:             aggregate.DefaultRecentLimit,
		DeadLetterLimit:         50,
	}
}
