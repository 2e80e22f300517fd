package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionTier is a rate band a creator reaches through monthly commission revenue.
type CommissionTier struct {
	ID                     uuid.UUID       `json:"id"`
	Name                   string          `json:"name"`
	MinMonthlyRevenueCents int64           `json:"min_monthly_revenue_cents"`
	Rate                   decimal.Decimal `json:"rate"`
	Benefits               []string        `json:"benefits"`
}
