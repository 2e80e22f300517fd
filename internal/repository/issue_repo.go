package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yeoskin/backend/internal/models"
)

type IssueRepo struct {
	pool *pgxpool.Pool
}

func NewIssueRepo(pool *pgxpool.Pool) *IssueRepo {
	return &IssueRepo{pool: pool}
}

const issueColumns = `id, kind, creator_id, commission_id, payout_item_id, detail, status, resolution, created_at, resolved_at`

func scanIssue(row pgx.Row) (*models.ReconciliationIssue, error) {
	var i models.ReconciliationIssue
	if err := row.Scan(&i.ID, &i.Kind, &i.CreatorID, &i.CommissionID, &i.PayoutItemID, &i.Detail, &i.Status, &i.Resolution, &i.CreatedAt, &i.ResolvedAt); err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

func (r *IssueRepo) CreateTx(ctx context.Context, tx pgx.Tx, i *models.ReconciliationIssue) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reconciliation_issues (id, kind, creator_id, commission_id, payout_item_id, detail, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, i.ID, i.Kind, i.CreatorID, i.CommissionID, i.PayoutItemID, i.Detail, i.Status, i.CreatedAt)
	return err
}

// HasOpenTx reports whether an open issue of kind already references ref as commission or payout item.
func (r *IssueRepo) HasOpenTx(ctx context.Context, tx pgx.Tx, kind string, ref uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reconciliation_issues
			WHERE kind = $1 AND status = 'open' AND (commission_id = $2 OR payout_item_id = $2)
		)
	`, kind, ref).Scan(&exists)
	return exists, err
}

func (r *IssueRepo) List(ctx context.Context, status string, limit, offset int) ([]*models.ReconciliationIssue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+issueColumns+` FROM reconciliation_issues
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ReconciliationIssue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, i)
	}
	return list, rows.Err()
}

// Resolve closes an open issue. Resolving twice returns models.ErrInvalidTransition.
func (r *IssueRepo) Resolve(ctx context.Context, id uuid.UUID, resolution string, at time.Time) (*models.ReconciliationIssue, error) {
	i, err := scanIssue(r.pool.QueryRow(ctx, `
		UPDATE reconciliation_issues SET status = 'resolved', resolution = $2, resolved_at = $3
		WHERE id = $1 AND status = 'open'
		RETURNING `+issueColumns, id, resolution, at))
	if err == models.ErrNotFound {
		if _, getErr := scanIssue(r.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM reconciliation_issues WHERE id = $1`, id)); getErr == nil {
			return nil, models.ErrInvalidTransition
		}
	}
	return i, err
}
