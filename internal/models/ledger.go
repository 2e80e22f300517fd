package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger transaction types.
const (
	LedgerCommissionEarned   = "commission_earned"
	LedgerCommissionCanceled = "commission_canceled"
	LedgerCommissionAdjusted = "commission_adjusted"
	LedgerPayoutInitiated    = "payout_initiated"
	LedgerPayoutSent         = "payout_sent"
	LedgerPayoutCompleted    = "payout_completed"
	LedgerPayoutFailed       = "payout_failed"
	LedgerPayoutFee          = "payout_fee"
	LedgerBalanceAdjustment  = "balance_adjustment"
	LedgerRefundProcessed    = "refund_processed"
)

// LedgerTypes lists every transaction type in a stable order.
var LedgerTypes = []string{
	LedgerCommissionEarned,
	LedgerCommissionCanceled,
	LedgerCommissionAdjusted,
	LedgerPayoutInitiated,
	LedgerPayoutSent,
	LedgerPayoutCompleted,
	LedgerPayoutFailed,
	LedgerPayoutFee,
	LedgerBalanceAdjustment,
	LedgerRefundProcessed,
}

// ValidLedgerType reports whether t is a known transaction type.
func ValidLedgerType(t string) bool {
	for _, lt := range LedgerTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// LedgerEntry is one immutable balance-affecting event. Amount is signed.
type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	CreatorID    uuid.UUID  `json:"creator_id"`
	Type         string     `json:"transaction_type"`
	AmountCents  int64      `json:"amount_cents"`
	CommissionID *uuid.UUID `json:"commission_id,omitempty"`
	PayoutItemID *uuid.UUID `json:"payout_item_id,omitempty"`
	Description  string     `json:"description"`
	CreatedAt    time.Time  `json:"created_at"`
}
