package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/metrics"
	"github.com/yeoskin/backend/internal/models"
)

// Bucket is a count and sum of commissions.
type Bucket struct {
	Count       int   `json:"count"`
	AmountCents int64 `json:"amount_cents"`
}

func (b *Bucket) add(c *models.Commission) {
	b.Count++
	b.AmountCents += c.AmountCents
}

// Position classifies a creator's commissions at one instant.
type Position struct {
	// Pending holds commissions that have not been promoted yet, including adjusted ones.
	Pending Bucket `json:"pending"`
	// Locked is the part of Pending still inside its hold window.
	Locked Bucket `json:"locked"`
	// Payable excludes commissions already claimed by an active payout item.
	Payable      Bucket     `json:"payable"`
	InPayout     Bucket     `json:"in_payout"`
	Paid         Bucket     `json:"paid"`
	Canceled     Bucket     `json:"canceled"`
	NextUnlockAt *time.Time `json:"next_unlock_at,omitempty"`
}

// Classify buckets commissions as of now. It reads status only and never mutates.
func Classify(commissions []*models.Commission, now time.Time) Position {
	var p Position
	for _, c := range commissions {
		switch {
		case c.Accruing():
			p.Pending.add(c)
			if c.InLockWindow(now) {
				p.Locked.add(c)
			}
			if p.NextUnlockAt == nil || c.UnlockAt.Before(*p.NextUnlockAt) {
				u := c.UnlockAt
				p.NextUnlockAt = &u
			}
		case c.Status == models.CommissionPayable && !c.Attached():
			p.Payable.add(c)
		case c.Status == models.CommissionPayable:
			p.InPayout.add(c)
		case c.Status == models.CommissionPaid:
			p.Paid.add(c)
		case c.Status == models.CommissionCanceled:
			p.Canceled.add(c)
		}
	}
	return p
}

// EligibilityService promotes commissions out of their hold window.
type EligibilityService struct {
	Commissions CommissionStore
	Events      events.Publisher
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

func NewEligibilityService(commissions CommissionStore, pub events.Publisher, clock clockwork.Clock, logger *slog.Logger) *EligibilityService {
	return &EligibilityService{Commissions: commissions, Events: pub, Clock: clock, Logger: logger}
}

// Reclassify moves every pending or adjusted commission whose unlock time has passed to
// payable. It writes no ledger entries and is safe to run repeatedly.
func (s *EligibilityService) Reclassify(ctx context.Context) (int, error) {
	now := clockOrReal(s.Clock).Now()
	promoted, err := s.Commissions.PromoteUnlocked(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("promote unlocked commissions: %w", err)
	}
	if len(promoted) == 0 {
		return 0, nil
	}
	var pending events.Pending
	for _, c := range promoted {
		pending.Add(events.Event{Kind: events.KindCommissionStatus, CreatorID: c.CreatorID, Ref: c.ID, Status: c.Status, At: now})
	}
	if s.Events != nil {
		pending.Flush(s.Events)
	}
	metrics.CommissionsUnlockedTotal.Add(float64(len(promoted)))
	loggerOrDefault(s.Logger).Info("commissions unlocked", "count", len(promoted))
	return len(promoted), nil
}

// Position classifies the creator's commissions as of now.
func (s *EligibilityService) Position(ctx context.Context, creatorID uuid.UUID) (Position, error) {
	list, err := s.Commissions.ListByCreator(ctx, creatorID)
	if err != nil {
		return Position{}, err
	}
	return Classify(list, clockOrReal(s.Clock).Now()), nil
}
