package oxia

import (
	"context"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/palisade-io/palisade/internal/metadata"
)

// notificationStream adapts Oxia's notification channel to
// metadata.NotificationStream. Oxia notifications are key-only; consumers
// such as the policy manager refetch the value on change.
type notificationStream struct {
	notifications oxiaclient.Notifications
	ctx           context.Context
}

// Next blocks until a notification arrives, the caller's context is
// cancelled, or the stream's parent context (the store's lifetime) ends.
func (s *notificationStream) Next(ctx context.Context) (metadata.Notification, error) {
	select {
	case <-ctx.Done():
		return metadata.Notification{}, ctx.Err()
	case <-s.ctx.Done():
		return metadata.Notification{}, s.ctx.Err()
	case n, ok := <-s.notifications.Ch():
		if !ok {
			return metadata.Notification{}, metadata.ErrStoreClosed
		}
		return convertNotification(n), nil
	}
}

func (s *notificationStream) Close() error {
	return s.notifications.Close()
}

func convertNotification(n *oxiaclient.Notification) metadata.Notification {
	deleted := n.Type == oxiaclient.KeyDeleted || n.Type == oxiaclient.KeyRangeRangeDeleted
	return metadata.Notification{
		Key:     n.Key,
		Version: metadata.Version(n.VersionId),
		Deleted: deleted,
	}
}
