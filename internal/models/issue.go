package models

import (
	"time"

	"github.com/google/uuid"
)

// Reconciliation issue kinds raised for operators.
const (
	IssueSettledCancellation    = "settled_cancellation"
	IssuePermanentPayoutFailure = "permanent_payout_failure"
	IssuePostCompletionReversal = "post_completion_reversal"
	IssueAmbiguousTransfer      = "ambiguous_transfer"
)

const (
	IssueOpen     = "open"
	IssueResolved = "resolved"
)

// ReconciliationIssue is an entry in the operator queue. Nothing in it is auto-resolved.
type ReconciliationIssue struct {
	ID           uuid.UUID  `json:"id"`
	Kind         string     `json:"kind"`
	CreatorID    uuid.UUID  `json:"creator_id"`
	CommissionID *uuid.UUID `json:"commission_id,omitempty"`
	PayoutItemID *uuid.UUID `json:"payout_item_id,omitempty"`
	Detail       string     `json:"detail"`
	Status       string     `json:"status"`
	Resolution   string     `json:"resolution,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}
