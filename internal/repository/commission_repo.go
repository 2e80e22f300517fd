package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/yeoskin/backend/internal/models"
)

type CommissionRepo struct {
	pool *pgxpool.Pool
}

func NewCommissionRepo(pool *pgxpool.Pool) *CommissionRepo {
	return &CommissionRepo{pool: pool}
}

const commissionColumns = `id, creator_id, order_id, routine_id, variant, gross_amount_cents, rate::text, amount_cents, currency,
	status, unlock_at, payout_item_id, created_at, updated_at, paid_at, canceled_at`

func scanCommission(row pgx.Row) (*models.Commission, error) {
	var c models.Commission
	var rate string
	if err := row.Scan(&c.ID, &c.CreatorID, &c.OrderID, &c.RoutineID, &c.Variant, &c.GrossAmountCents, &rate, &c.AmountCents, &c.Currency,
		&c.Status, &c.UnlockAt, &c.PayoutItemID, &c.CreatedAt, &c.UpdatedAt, &c.PaidAt, &c.CanceledAt); err != nil {
		return nil, notFound(err)
	}
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("commission %s rate: %w", c.ID, err)
	}
	c.Rate = d
	return &c, nil
}

func collectCommissions(rows pgx.Rows, err error) ([]*models.Commission, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// CreateTx inserts a commission. A clash on (creator_id, order_id, variant) returns models.ErrDuplicateEvent.
func (r *CommissionRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.Commission) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO commissions (id, creator_id, order_id, routine_id, variant, gross_amount_cents, rate, amount_cents, currency,
			status, unlock_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $12)
	`, c.ID, c.CreatorID, c.OrderID, c.RoutineID, c.Variant, c.GrossAmountCents, c.Rate.String(), c.AmountCents, c.Currency,
		c.Status, c.UnlockAt, c.CreatedAt)
	if isUniqueViolation(err, "commissions_dedupe_key") {
		return models.ErrDuplicateEvent
	}
	return err
}

// ExistsTx reports whether the dedupe key is already taken.
func (r *CommissionRepo) ExistsTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, orderID, variant string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM commissions WHERE creator_id = $1 AND order_id = $2 AND variant = $3)
	`, creatorID, orderID, variant).Scan(&exists)
	return exists, err
}

func (r *CommissionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	return scanCommission(r.pool.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id = $1`, id))
}

func (r *CommissionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Commission, error) {
	return scanCommission(tx.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id = $1 FOR UPDATE`, id))
}

// OrderCreatorsTx returns the creators that earned commission on an order, without locking.
func (r *CommissionRepo) OrderCreatorsTx(ctx context.Context, tx pgx.Tx, orderID string) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `SELECT DISTINCT creator_id FROM commissions WHERE order_id = $1 ORDER BY creator_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByOrderForUpdate locks every commission of an order, across variants.
func (r *CommissionRepo) ListByOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) ([]*models.Commission, error) {
	return collectCommissions(tx.Query(ctx, `
		SELECT `+commissionColumns+` FROM commissions WHERE order_id = $1 ORDER BY id FOR UPDATE
	`, orderID))
}

func (r *CommissionRepo) ListByIDsForUpdate(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]*models.Commission, error) {
	return collectCommissions(tx.Query(ctx, `
		SELECT `+commissionColumns+` FROM commissions WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`, ids))
}

// SelectPayableForUpdate locks the creator's payable commissions not claimed by any active payout item.
func (r *CommissionRepo) SelectPayableForUpdate(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID) ([]*models.Commission, error) {
	return collectCommissions(tx.Query(ctx, `
		SELECT `+commissionColumns+` FROM commissions
		WHERE creator_id = $1 AND status = 'payable' AND payout_item_id IS NULL
		ORDER BY unlock_at, id
		FOR UPDATE
	`, creatorID))
}

// UpdateTx writes the mutable state of a commission.
func (r *CommissionRepo) UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Commission) error {
	tag, err := tx.Exec(ctx, `
		UPDATE commissions SET status = $2, amount_cents = $3, payout_item_id = $4, paid_at = $5, canceled_at = $6, updated_at = $7
		WHERE id = $1
	`, c.ID, c.Status, c.AmountCents, c.PayoutItemID, c.PaidAt, c.CanceledAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// PromoteUnlocked moves pending and adjusted commissions whose unlock time has passed to payable.
func (r *CommissionRepo) PromoteUnlocked(ctx context.Context, now time.Time) ([]*models.Commission, error) {
	return collectCommissions(r.pool.Query(ctx, `
		UPDATE commissions SET status = 'payable', updated_at = $1
		WHERE status IN ('pending', 'adjusted') AND unlock_at <= $1
		RETURNING `+commissionColumns, now))
}

func (r *CommissionRepo) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Commission, error) {
	return collectCommissions(r.pool.Query(ctx, `
		SELECT `+commissionColumns+` FROM commissions WHERE creator_id = $1 ORDER BY created_at DESC, id
	`, creatorID))
}

const revenueQuery = `
	SELECT COALESCE(SUM(amount_cents), 0)::bigint FROM commissions
	WHERE creator_id = $1 AND status <> 'canceled' AND created_at >= $2 AND created_at < $3`

// RevenueBetween sums non-canceled commission amounts created in [from, to).
func (r *CommissionRepo) RevenueBetween(ctx context.Context, creatorID uuid.UUID, from, to time.Time) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, revenueQuery, creatorID, from, to).Scan(&sum)
	return sum, err
}

func (r *CommissionRepo) RevenueBetweenTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, from, to time.Time) (int64, error) {
	var sum int64
	err := tx.QueryRow(ctx, revenueQuery, creatorID, from, to).Scan(&sum)
	return sum, err
}

// PayableTotals returns the unclaimed payable sum per creator.
func (r *CommissionRepo) PayableTotals(ctx context.Context) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT creator_id, SUM(amount_cents)::bigint FROM commissions
		WHERE status = 'payable' AND payout_item_id IS NULL
		GROUP BY creator_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var sum int64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}
