package models

import (
	"time"

	"github.com/google/uuid"
)

// Payout batch statuses.
const (
	BatchDraft           = "draft"
	BatchProcessing      = "processing"
	BatchCompleted       = "completed"
	BatchPartiallyFailed = "partially_failed"
)

// Payout item statuses.
const (
	ItemPending    = "pending"
	ItemProcessing = "processing"
	ItemCompleted  = "completed"
	ItemFailed     = "failed"
)

// PayoutBatch groups the items created by one orchestration run.
type PayoutBatch struct {
	ID          uuid.UUID `json:"id"`
	Status      string    `json:"status"`
	TriggeredBy string    `json:"triggered_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PayoutItem is one creator's settlement inside a batch.
type PayoutItem struct {
	ID                 uuid.UUID   `json:"id"`
	BatchID            uuid.UUID   `json:"batch_id"`
	CreatorID          uuid.UUID   `json:"creator_id"`
	AmountCents        int64       `json:"amount_cents"`
	FeeCents           int64       `json:"fee_cents"`
	Currency           string      `json:"currency"`
	Status             string      `json:"status"`
	Destination        string      `json:"-"`
	IdempotencyKey     string      `json:"idempotency_key"`
	ProviderTransferID string      `json:"provider_transfer_id,omitempty"`
	FailureClass       string      `json:"failure_class,omitempty"`
	FailureCode        string      `json:"failure_code,omitempty"`
	FailureMessage     string      `json:"failure_message,omitempty"`
	RetryOfID          *uuid.UUID  `json:"retry_of_id,omitempty"`
	Attempts           int         `json:"attempts"`
	CommissionIDs      []uuid.UUID `json:"commission_ids"`
	SentAt             *time.Time  `json:"sent_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	FailedAt           *time.Time  `json:"failed_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

var itemTransitions = map[string][]string{
	ItemPending:    {ItemProcessing, ItemFailed},
	ItemProcessing: {ItemCompleted, ItemFailed},
	// A provider may reverse a transfer after reporting it settled.
	ItemCompleted: {ItemFailed},
}

// CanTransitionItem reports whether a payout item may move from one status to another.
func CanTransitionItem(from, to string) bool {
	for _, s := range itemTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether the item still claims its commissions.
func (p *PayoutItem) Active() bool {
	return p.Status != ItemFailed
}

// CreatorStatus is the plain-language status shown to creators.
func (p *PayoutItem) CreatorStatus() (status, message string) {
	switch p.Status {
	case ItemCompleted:
		return ItemCompleted, "Your payout has arrived."
	case ItemFailed:
		return ItemFailed, "We could not complete this transfer. Your earnings are safe and will be included in a future payout."
	default:
		return ItemProcessing, "Your payout is on its way."
	}
}
