package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sentinel/internal/store/model"
)

// GetThrottle returns nil, nil when no state exists yet for the key.
func (s *Store) GetThrottle(ctx context.Context, symbol, side, strategy string) (*model.ThrottleStateModel, error) {
	var state model.ThrottleStateModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND side = ? AND strategy_key = ?", symbol, side, strategy).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// UpsertThrottle writes the state row, replacing the mutable columns when the
// (symbol, side, strategy) key already exists.
func (s *Store) UpsertThrottle(ctx context.Context, state *model.ThrottleStateModel) error {
	state.UpdatedAtUnix = nowUnix()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "side"}, {Name: "strategy_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_allowed_at", "last_allowed_price", "force_next", "updated_at",
		}),
	}).Create(state).Error
}

// ResetThrottle clears last-allowed state and arms force_next on every
// existing row for the symbol (one side, or both when side is empty). Rows
// that do not exist yet need no reset: a first evaluation always passes.
func (s *Store) ResetThrottle(ctx context.Context, symbol, side string) error {
	q := s.db.WithContext(ctx).Model(&model.ThrottleStateModel{}).Where("symbol = ?", symbol)
	if side != "" {
		q = q.Where("side = ?", side)
	}
	return q.Updates(map[string]any{
		"last_allowed_at":    nil,
		"last_allowed_price": "",
		"force_next":         true,
		"updated_at":         nowUnix(),
	}).Error
}
