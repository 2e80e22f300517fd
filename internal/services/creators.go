package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/money"
)

// DefaultLockDays covers the return window when an admin does not set one.
const DefaultLockDays = 30

type CreateCreatorInput struct {
	DiscountCode      string  `json:"discount_code"`
	DisplayName       string  `json:"display_name"`
	Email             string  `json:"email"`
	RateOverride      *string `json:"rate_override"`
	LockDays          *int    `json:"lock_days"`
	PayoutDestination string  `json:"payout_destination"`
}

// UpdateCreatorInput carries the fields to change; nil fields are left as they are.
type UpdateCreatorInput struct {
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
	// RateOverride set to "" clears the override so the tier rate applies again.
	RateOverride      *string `json:"rate_override"`
	LockDays          *int    `json:"lock_days"`
	PayoutDestination *string `json:"payout_destination"`
}

type CreatorService struct {
	Pool     TxBeginner
	Creators CreatorStore
	Events   events.Publisher
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

func parseOverride(s *string) (*decimal.Decimal, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	r, err := money.ParseRate(*s)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *CreatorService) Create(ctx context.Context, in CreateCreatorInput) (*models.Creator, error) {
	code := strings.ToUpper(strings.TrimSpace(in.DiscountCode))
	if code == "" {
		return nil, models.Invalid("discount_code is required")
	}
	lockDays := DefaultLockDays
	if in.LockDays != nil {
		lockDays = *in.LockDays
	}
	if lockDays < 0 {
		return nil, models.Invalid("lock_days must not be negative")
	}
	rate, err := parseOverride(in.RateOverride)
	if err != nil {
		return nil, err
	}
	c := &models.Creator{
		ID:                uuid.New(),
		DiscountCode:      code,
		DisplayName:       strings.TrimSpace(in.DisplayName),
		Email:             strings.TrimSpace(in.Email),
		RateOverride:      rate,
		LockDays:          lockDays,
		PayoutDestination: strings.TrimSpace(in.PayoutDestination),
		Active:            true,
	}
	if err := s.Creators.Create(ctx, c); err != nil {
		return nil, err
	}
	loggerOrDefault(s.Logger).Info("creator created", "creator_id", c.ID, "discount_code", c.DiscountCode)
	return c, nil
}

func (s *CreatorService) Get(ctx context.Context, id uuid.UUID) (*models.Creator, error) {
	return s.Creators.GetByID(ctx, id)
}

func (s *CreatorService) List(ctx context.Context, activeOnly bool) ([]*models.Creator, error) {
	return s.Creators.List(ctx, activeOnly)
}

// Update applies in. Changing the payout destination clears its verification.
func (s *CreatorService) Update(ctx context.Context, id uuid.UUID, in UpdateCreatorInput) (*models.Creator, error) {
	var rate *decimal.Decimal
	if in.RateOverride != nil {
		var err error
		if rate, err = parseOverride(in.RateOverride); err != nil {
			return nil, err
		}
	}
	if in.LockDays != nil && *in.LockDays < 0 {
		return nil, models.Invalid("lock_days must not be negative")
	}
	return s.mutate(ctx, id, func(c *models.Creator) error {
		if in.DisplayName != nil {
			c.DisplayName = strings.TrimSpace(*in.DisplayName)
		}
		if in.Email != nil {
			c.Email = strings.TrimSpace(*in.Email)
		}
		if in.RateOverride != nil {
			c.RateOverride = rate
		}
		if in.LockDays != nil {
			c.LockDays = *in.LockDays
		}
		if in.PayoutDestination != nil {
			dest := strings.TrimSpace(*in.PayoutDestination)
			if dest != c.PayoutDestination {
				c.PayoutDestination = dest
				c.BankVerified = false
			}
		}
		return nil
	})
}

// SetBankVerified marks the creator's payout destination verified or unverified.
func (s *CreatorService) SetBankVerified(ctx context.Context, id uuid.UUID, verified bool) (*models.Creator, error) {
	return s.mutate(ctx, id, func(c *models.Creator) error {
		if verified && !c.HasDestination() {
			return models.Invalid("creator %s has no payout destination to verify", c.ID)
		}
		c.BankVerified = verified
		return nil
	})
}

// Deactivate stops accrual and payouts for the creator. History is kept.
func (s *CreatorService) Deactivate(ctx context.Context, id uuid.UUID) (*models.Creator, error) {
	return s.mutate(ctx, id, func(c *models.Creator) error {
		c.Active = false
		return nil
	})
}

func (s *CreatorService) mutate(ctx context.Context, id uuid.UUID, fn func(c *models.Creator) error) (*models.Creator, error) {
	var c *models.Creator
	err := inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		var err error
		c, err = s.Creators.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = clockOrReal(s.Clock).Now()
		if err := s.Creators.UpdateTx(ctx, tx, c); err != nil {
			return fmt.Errorf("update creator: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Events != nil {
		s.Events.Publish(events.Event{Kind: events.KindCreatorUpdated, CreatorID: c.ID, Ref: c.ID, At: c.UpdatedAt})
	}
	loggerOrDefault(s.Logger).Info("creator updated", "creator_id", c.ID, "active", c.Active, "bank_verified", c.BankVerified)
	return c, nil
}
