package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Commission statuses.
const (
	CommissionPending  = "pending"
	CommissionPayable  = "payable"
	CommissionPaid     = "paid"
	CommissionCanceled = "canceled"
	CommissionAdjusted = "adjusted"
)

// Routine variants an order line can be attributed to.
const (
	VariantBase    = "base"
	VariantUpsell1 = "upsell_1"
	VariantUpsell2 = "upsell_2"
)

// ValidVariant reports whether v is a known routine variant.
func ValidVariant(v string) bool {
	switch v {
	case VariantBase, VariantUpsell1, VariantUpsell2:
		return true
	}
	return false
}

// IsUpsell reports whether v is one of the upsell variants.
func IsUpsell(v string) bool {
	return v == VariantUpsell1 || v == VariantUpsell2
}

// Commission is the credit owed to a creator for one order line.
type Commission struct {
	ID               uuid.UUID       `json:"id"`
	CreatorID        uuid.UUID       `json:"creator_id"`
	OrderID          string          `json:"order_id"`
	RoutineID        string          `json:"routine_id,omitempty"`
	Variant          string          `json:"variant"`
	GrossAmountCents int64           `json:"gross_amount_cents"`
	Rate             decimal.Decimal `json:"rate"`
	AmountCents      int64           `json:"amount_cents"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	UnlockAt         time.Time       `json:"unlock_at"`
	// PayoutItemID is set while the commission is attached to a non-failed payout item.
	PayoutItemID *uuid.UUID `json:"payout_item_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
}

// InLockWindow reports whether the commission is still inside its hold window at now.
func (c *Commission) InLockWindow(now time.Time) bool {
	return now.Before(c.UnlockAt)
}

// Attached reports whether the commission belongs to an active payout item.
func (c *Commission) Attached() bool {
	return c.PayoutItemID != nil
}

// Accruing reports whether the commission still waits for its unlock (pending or adjusted).
func (c *Commission) Accruing() bool {
	return c.Status == CommissionPending || c.Status == CommissionAdjusted
}
