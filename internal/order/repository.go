package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when looking up an order that does not exist.
var ErrNotFound = errors.New("order not found")

// Repository is the narrow CRUD gateway the pipeline uses to persist state
// transitions. The relational store behind it is the single source of truth.
type Repository interface {
	Create(ctx context.Context, req CreateRequest) (*Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, fields StatusFields) (*Order, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]*Order, error)
}

// GormRepository implements Repository on gorm.
type GormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRepository creates a gorm-backed order repository.
func NewGormRepository(db *gorm.DB, logger *zap.Logger) *GormRepository {
	return &GormRepository{db: db, logger: logger}
}

// Create persists a new order in status PENDING with a zero retry count.
func (r *GormRepository) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	o := &Order{
		ID:       uuid.New(),
		UserID:   req.UserID,
		Kind:     req.Kind,
		TokenIn:  req.TokenIn,
		TokenOut: req.TokenOut,
		AmountIn: req.AmountIn,
		Status:   StatusPending,
	}

	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		r.logger.Error("Failed to create order", zap.Error(err), zap.String("user_id", req.UserID))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Debug("Order created", zap.String("order_id", o.ID.String()))
	return o, nil
}

// GetByID fetches a single order, returning ErrNotFound when missing.
func (r *GormRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	var o Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// UpdateStatus applies a partial-field status transition and returns the
// updated record.
func (r *GormRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, fields StatusFields) (*Order, error) {
	updates := map[string]interface{}{"status": status}

	if fields.SelectedVenue != "" {
		updates["selected_venue"] = fields.SelectedVenue
	}
	if fields.TxHash != "" {
		updates["tx_hash"] = fields.TxHash
	}
	if fields.ExecutedPrice != nil {
		updates["executed_price"] = *fields.ExecutedPrice
	}
	if fields.AmountOut != nil {
		updates["amount_out"] = *fields.AmountOut
	}
	if fields.FailureReason != "" {
		updates["failure_reason"] = fields.FailureReason
	}
	if fields.RetryCount != nil {
		updates["retry_count"] = *fields.RetryCount
	}

	res := r.db.WithContext(ctx).Model(&Order{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		r.logger.Error("Failed to update order status",
			zap.Error(res.Error),
			zap.String("order_id", id.String()),
			zap.String("status", status))
		return nil, fmt.Errorf("failed to update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	return r.GetByID(ctx, id)
}

// ListRecent returns up to limit orders, newest first, scoped to a user
// when userID is non-empty.
func (r *GormRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var orders []*Order
	if err := q.
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}
