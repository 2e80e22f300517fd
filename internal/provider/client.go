// Package provider talks to the external transfer provider that moves payout money.
package provider

import (
	"context"
	"errors"
)

// Transfer statuses reported by the provider.
const (
	StatusSent      = "sent"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrTransferNotFound is returned by Lookup when no transfer carries the idempotency key.
var ErrTransferNotFound = errors.New("transfer not found")

type TransferRequest struct {
	Destination    string `json:"destination"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Transfer is the provider's view of one transfer.
type Transfer struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	AmountCents    int64  `json:"amount_cents"`
	FeeCents       int64  `json:"fee_cents"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	// Permanent marks a failure that needs the destination re-verified before another attempt.
	Permanent bool `json:"permanent,omitempty"`
}

// Client is implemented by every provider adapter. Initiate must be idempotent on
// IdempotencyKey: a repeated request returns the transfer created by the first one.
type Client interface {
	Initiate(ctx context.Context, req TransferRequest) (*Transfer, error)
	Get(ctx context.Context, transferID string) (*Transfer, error)
	Lookup(ctx context.Context, idempotencyKey string) (*Transfer, error)
}

// ValidStatus reports whether s is a transfer status this service understands.
func ValidStatus(s string) bool {
	return s == StatusSent || s == StatusCompleted || s == StatusFailed
}
