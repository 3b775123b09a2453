package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sentinel/internal/store/model"
)

// openStatuses are the exchange states that count toward the concurrent
// open-order guard.
var openStatuses = []string{"NEW", "PARTIALLY_FILLED"}

// SaveOrder upserts by exchange order id.
func (s *Store) SaveOrder(ctx context.Context, order *model.OrderModel) error {
	now := nowUnix()
	if order.CreatedAtUnix == 0 {
		order.CreatedAtUnix = now
	}
	order.UpdatedAtUnix = now
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "quantity", "price", "parent_order_id", "updated_at",
		}),
	}).Create(order).Error
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	return s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"status": status, "updated_at": nowUnix()}).Error
}

// CountOpenOrders counts exchange-open orders for the symbol.
func (s *Store) CountOpenOrders(ctx context.Context, symbol string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Where("symbol = ? AND status IN ?", symbol, openStatuses).
		Count(&count).Error
	return count, err
}

// ListOpenOrders returns exchange-open orders for the position-value guard.
func (s *Store) ListOpenOrders(ctx context.Context, symbol string) ([]model.OrderModel, error) {
	var out []model.OrderModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND status IN ?", symbol, openStatuses).
		Find(&out).Error
	return out, err
}

// LastOrderCreatedAt returns the creation time of the newest order for the
// symbol, or the zero time when none exists. Drives the recent-order
// cooldown guard.
func (s *Store) LastOrderCreatedAt(ctx context.Context, symbol string) (time.Time, error) {
	var order model.OrderModel
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(order.CreatedAtUnix, 0), nil
}

// OrdersByParent lists SL/TP children of a filled parent order.
func (s *Store) OrdersByParent(ctx context.Context, parentOrderID string) ([]model.OrderModel, error) {
	var out []model.OrderModel
	err := s.db.WithContext(ctx).
		Where("parent_order_id = ?", parentOrderID).
		Find(&out).Error
	return out, err
}
