package gateway

import (
	"context"
	"log/slog"
)

type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// Prober is a Gateway that can check its backing store is reachable.
type Prober interface {
	Gateway
	Ping(ctx context.Context) error
}

// Select picks the strategy for the whole session: remote when a user is
// signed in and the remote store answers, local otherwise. The choice is
// made once and never revisited.
func Select(ctx context.Context, auth Authenticator, remote Prober, local Gateway) (Gateway, Mode) {
	if remote == nil {
		slog.InfoContext(ctx, "Using local gateway", "reason", "no remote configured")
		return local, ModeLocal
	}
	if _, err := auth.CurrentUser(ctx); err != nil {
		slog.InfoContext(ctx, "Using local gateway", "reason", "not authenticated", "error", err)
		return local, ModeLocal
	}
	if err := remote.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "Using local gateway", "reason", "remote unreachable", "error", err)
		return local, ModeLocal
	}
	slog.InfoContext(ctx, "Using remote gateway")
	return remote, ModeRemote
}
