package gormstore

import (
	"context"

	"sentinel/internal/store/model"
)

// SaveNotification records one user-facing send attempt. Audit queries join
// these rows against intents, so every send must be recorded, delivered or
// not.
func (s *Store) SaveNotification(ctx context.Context, n *model.NotificationModel) error {
	if n.CreatedAtUnix == 0 {
		n.CreatedAtUnix = nowUnix()
	}
	return s.db.WithContext(ctx).Create(n).Error
}
