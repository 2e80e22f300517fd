package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yeoskin/backend/internal/models"
)

// Filter narrows a ledger listing. Zero Limit means no limit.
type Filter struct {
	Type   string
	Limit  int
	Offset int
}

// Store is the persistence contract of the ledger.
type Store interface {
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	ListByCreator(ctx context.Context, creatorID uuid.UUID, f Filter) ([]*models.LedgerEntry, error)
	SumByCreator(ctx context.Context, creatorID uuid.UUID) (int64, error)
}

// Repository persists ledger_entries. Rows are only ever inserted.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// AppendTx inserts an entry inside the caller's transaction.
func (r *Repository) AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, creator_id, transaction_type, amount_cents, commission_id, payout_item_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.CreatorID, e.Type, e.AmountCents, e.CommissionID, e.PayoutItemID, e.Description).Scan(&e.CreatedAt)
}

// ListByCreator returns entries newest first.
func (r *Repository) ListByCreator(ctx context.Context, creatorID uuid.UUID, f Filter) ([]*models.LedgerEntry, error) {
	q := `
		SELECT id, creator_id, transaction_type, amount_cents, commission_id, payout_item_id, description, created_at
		FROM ledger_entries
		WHERE creator_id = $1 AND ($2 = '' OR transaction_type = $2)
		ORDER BY created_at DESC, id DESC
		OFFSET $3`
	args := []any{creatorID, f.Type, f.Offset}
	if f.Limit > 0 {
		q += ` LIMIT $4`
		args = append(args, f.Limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.CreatorID, &e.Type, &e.AmountCents, &e.CommissionID, &e.PayoutItemID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) SumByCreator(ctx context.Context, creatorID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)::bigint FROM ledger_entries WHERE creator_id = $1
	`, creatorID).Scan(&sum)
	return sum, err
}
