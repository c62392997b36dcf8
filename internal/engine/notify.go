package engine

import (
	"context"
	"fmt"

	"spendsync/internal/core"
	"spendsync/internal/log"
)

type NotificationKind string

const (
	KindSavedOffline NotificationKind = "saved_offline"
	KindCreated      NotificationKind = "created"
	KindDeleted      NotificationKind = "deleted"
	KindSyncComplete NotificationKind = "sync_complete"
	KindError        NotificationKind = "error"
)

// Notification is a user-facing message about a significant engine event.
type Notification struct {
	Kind  NotificationKind `json:"kind"`
	Title string           `json:"title"`
	Body  string           `json:"body"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) {}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) {
	log.ForComponent(log.ComponentEngine).InfoContext(ctx, "Notification", "kind", n.Kind, "title", n.Title, "body", n.Body)
}

// Notifiers fans a notification out to every non-nil notifier.
func Notifiers(ns ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, n Notification) {
		for _, x := range ns {
			if x != nil {
				x.Notify(ctx, n)
			}
		}
	})
}

func savedOffline() Notification {
	return Notification{Kind: KindSavedOffline, Title: "💾 Saved Offline", Body: "Expense will sync when online"}
}

func expenseAdded(e core.Expense) Notification {
	return Notification{Kind: KindCreated, Title: "✅ Expense Added", Body: fmt.Sprintf("%s - $%s", e.Description, e.Amount)}
}

func expenseDeleted() Notification {
	return Notification{Kind: KindDeleted, Title: "🗑️ Expense Deleted", Body: "Expense removed successfully"}
}

func syncComplete(synced int) Notification {
	return Notification{Kind: KindSyncComplete, Title: "💰 Sync Complete", Body: fmt.Sprintf("%d offline change(s) synced", synced)}
}

func failure(err error) Notification {
	return Notification{Kind: KindError, Title: "❌ Error", Body: core.Message(err)}
}
