// Package order defines the swap order model and its persistence gateway.
package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses. PENDING and the two terminal statuses are the only
// statuses a persisted record rests in between queue deliveries; ROUTING,
// BUILDING and SUBMITTED are visible only while a delivery is in progress.
const (
	StatusPending   = "pending"
	StatusRouting   = "routing"
	StatusBuilding  = "building"
	StatusSubmitted = "submitted"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Order kinds.
const (
	KindMarket = "market"
	KindLimit  = "limit"
	KindSniper = "sniper"
)

// Kinds lists every accepted order kind.
var Kinds = []string{KindMarket, KindLimit, KindSniper}

// ValidKind reports whether k is an accepted order kind.
func ValidKind(k string) bool {
	for _, kind := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Order is the unit of work moving through the execution pipeline. It is
// created PENDING by the submission path and mutated only by the worker.
type Order struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        string           `gorm:"index;not null" json:"userId"`
	Kind          string           `gorm:"not null" json:"orderType"`
	TokenIn       string           `gorm:"not null" json:"tokenIn"`
	TokenOut      string           `gorm:"not null" json:"tokenOut"`
	AmountIn      decimal.Decimal  `gorm:"type:numeric(30,12);not null" json:"amountIn"`
	AmountOut     *decimal.Decimal `gorm:"type:numeric(30,12)" json:"amountOut,omitempty"`
	SelectedVenue string           `json:"selectedDex,omitempty"`
	Status        string           `gorm:"not null;index" json:"status"`
	TxHash        string           `json:"txHash,omitempty"`
	ExecutedPrice *decimal.Decimal `gorm:"type:numeric(30,12)" json:"executedPrice,omitempty"`
	FailureReason string           `json:"failureReason,omitempty"`
	RetryCount    int              `gorm:"not null;default:0" json:"retryCount"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// CreateRequest carries the validated fields for a new order.
type CreateRequest struct {
	UserID   string
	Kind     string
	TokenIn  string
	TokenOut string
	AmountIn decimal.Decimal
}

// StatusFields are the optional columns touched by a status transition.
// Zero values are left untouched, so each transition updates only the
// fields it owns.
type StatusFields struct {
	SelectedVenue string
	TxHash        string
	ExecutedPrice *decimal.Decimal
	AmountOut     *decimal.Decimal
	FailureReason string
	RetryCount    *int
}
