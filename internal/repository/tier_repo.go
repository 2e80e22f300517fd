package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/yeoskin/backend/internal/models"
)

type TierRepo struct {
	pool *pgxpool.Pool
}

func NewTierRepo(pool *pgxpool.Pool) *TierRepo {
	return &TierRepo{pool: pool}
}

// List returns the tier table ordered by threshold.
func (r *TierRepo) List(ctx context.Context) ([]*models.CommissionTier, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, min_monthly_revenue_cents, rate::text, benefits
		FROM commission_tiers ORDER BY min_monthly_revenue_cents
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CommissionTier
	for rows.Next() {
		var t models.CommissionTier
		var rate string
		if err := rows.Scan(&t.ID, &t.Name, &t.MinMonthlyRevenueCents, &rate, &t.Benefits); err != nil {
			return nil, err
		}
		if t.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("tier %s rate: %w", t.Name, err)
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
