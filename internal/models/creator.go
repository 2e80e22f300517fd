package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Creator is an onboarded participant earning commissions through a discount code.
type Creator struct {
	ID           uuid.UUID        `json:"id"`
	DiscountCode string           `json:"discount_code"`
	DisplayName  string           `json:"display_name"`
	Email        string           `json:"email"`
	RateOverride *decimal.Decimal `json:"rate_override,omitempty"`
	LockDays     int              `json:"lock_days"`
	// PayoutDestination is the provider-side bank reference. Never serialized.
	PayoutDestination string    `json:"-"`
	BankVerified      bool      `json:"bank_verified"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasDestination reports whether a payout destination is on file.
func (c *Creator) HasDestination() bool {
	return c.PayoutDestination != ""
}

// CanReceivePayouts reports whether transfers may be initiated for the creator.
func (c *Creator) CanReceivePayouts() bool {
	return c.Active && c.BankVerified && c.HasDestination()
}
