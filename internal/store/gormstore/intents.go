package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"sentinel/internal/store/model"
)

// CreateIntent inserts a fresh intent row. The unique index on dedup_key is
// the last line of defense against two concurrent evaluations of the same
// signal; a collision maps to ErrDuplicateIntent.
func (s *Store) CreateIntent(ctx context.Context, intent *model.OrderIntentModel) error {
	intent.CreatedAtUnix = nowUnix()
	intent.UpdatedAtUnix = intent.CreatedAtUnix
	err := s.db.WithContext(ctx).Create(intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateIntent
		}
		return err
	}
	return nil
}

// FindIntentByDedupKey returns nil, nil when no intent carries the key.
func (s *Store) FindIntentByDedupKey(ctx context.Context, key string) (*model.OrderIntentModel, error) {
	var intent model.OrderIntentModel
	err := s.db.WithContext(ctx).Where("dedup_key = ?", key).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// SaveIntent persists updated decision fields and context on an existing row.
func (s *Store) SaveIntent(ctx context.Context, intent *model.OrderIntentModel) error {
	intent.UpdatedAtUnix = nowUnix()
	return s.db.WithContext(ctx).Save(intent).Error
}

// ListIntents returns recent intents, newest first, optionally filtered by
// symbol. Used by the diagnostics endpoint.
func (s *Store) ListIntents(ctx context.Context, symbol string, limit int) ([]model.OrderIntentModel, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var out []model.OrderIntentModel
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
