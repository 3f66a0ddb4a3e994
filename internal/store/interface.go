package store

import (
	"context"

	"github.com/samims/keepsake/internal/model"
)

// NotificationStorage persists owner-facing notifications.
type NotificationStorage interface {
	Insert(ctx context.Context, n *model.Notification) error
	Ping(ctx context.Context) error
}
