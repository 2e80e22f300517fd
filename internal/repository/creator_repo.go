package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/yeoskin/backend/internal/models"
)

type CreatorRepo struct {
	pool *pgxpool.Pool
}

func NewCreatorRepo(pool *pgxpool.Pool) *CreatorRepo {
	return &CreatorRepo{pool: pool}
}

const creatorColumns = `id, discount_code, display_name, email, rate_override::text, lock_days, payout_destination, bank_verified, active, created_at, updated_at`

func scanCreator(row pgx.Row) (*models.Creator, error) {
	var c models.Creator
	var rate *string
	if err := row.Scan(&c.ID, &c.DiscountCode, &c.DisplayName, &c.Email, &rate, &c.LockDays, &c.PayoutDestination, &c.BankVerified, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	if rate != nil {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			return nil, fmt.Errorf("creator %s rate_override: %w", c.ID, err)
		}
		c.RateOverride = &d
	}
	return &c, nil
}

func rateArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func (r *CreatorRepo) Create(ctx context.Context, c *models.Creator) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO creators (id, discount_code, display_name, email, rate_override, lock_days, payout_destination, bank_verified, active)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, c.ID, c.DiscountCode, c.DisplayName, c.Email, rateArg(c.RateOverride), c.LockDays, c.PayoutDestination, c.BankVerified, c.Active).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err, "") {
		return fmt.Errorf("%w: discount code %q already in use", models.ErrConflict, c.DiscountCode)
	}
	return err
}

func (r *CreatorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Creator, error) {
	return scanCreator(r.pool.QueryRow(ctx, `SELECT `+creatorColumns+` FROM creators WHERE id = $1`, id))
}

// GetByIDForUpdate locks the creator row. All per-creator money movements serialize on this lock.
func (r *CreatorRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Creator, error) {
	return scanCreator(tx.QueryRow(ctx, `SELECT `+creatorColumns+` FROM creators WHERE id = $1 FOR UPDATE`, id))
}

func (r *CreatorRepo) List(ctx context.Context, activeOnly bool) ([]*models.Creator, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+creatorColumns+` FROM creators
		WHERE NOT $1 OR active
		ORDER BY created_at, id
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// UpdateTx writes the mutable creator attributes.
func (r *CreatorRepo) UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Creator) error {
	tag, err := tx.Exec(ctx, `
		UPDATE creators SET display_name = $2, email = $3, rate_override = $4::numeric, lock_days = $5,
			payout_destination = $6, bank_verified = $7, active = $8, updated_at = now()
		WHERE id = $1
	`, c.ID, c.DisplayName, c.Email, rateArg(c.RateOverride), c.LockDays, c.PayoutDestination, c.BankVerified, c.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetBankVerifiedTx flips the verification flag, e.g. after a permanent provider failure.
func (r *CreatorRepo) SetBankVerifiedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, verified bool) error {
	_, err := tx.Exec(ctx, `UPDATE creators SET bank_verified = $2, updated_at = now() WHERE id = $1`, id, verified)
	return err
}
