package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sentinel/internal/store/model"
)

// FindBracket returns nil, nil when no attempt exists for the parent order.
func (s *Store) FindBracket(ctx context.Context, parentOrderID string) (*model.BracketAttemptModel, error) {
	var attempt model.BracketAttemptModel
	err := s.db.WithContext(ctx).
		Where("parent_order_id = ?", parentOrderID).
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// SaveBracket upserts the attempt keyed by parent order id.
func (s *Store) SaveBracket(ctx context.Context, attempt *model.BracketAttemptModel) error {
	if attempt.CreatedAtUnix == 0 {
		attempt.CreatedAtUnix = nowUnix()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "parent_order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sl_order_id", "tp_order_id", "outcome", "failure_reason",
		}),
	}).Create(attempt).Error
}
