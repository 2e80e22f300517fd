package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yeoskin/backend/internal/models"
)

// ItemFilter narrows a payout item listing. Zero values match everything.
type ItemFilter struct {
	BatchID   *uuid.UUID
	CreatorID *uuid.UUID
	Status    string
	Limit     int
	Offset    int
}

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

func (r *PayoutRepo) CreateBatch(ctx context.Context, b *models.PayoutBatch) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payout_batches (id, status, triggered_by) VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, b.ID, b.Status, b.TriggeredBy).Scan(&b.CreatedAt, &b.UpdatedAt)
}

// CreateBatchTx inserts a batch inside the caller's transaction.
func (r *PayoutRepo) CreateBatchTx(ctx context.Context, tx pgx.Tx, b *models.PayoutBatch) error {
	return tx.QueryRow(ctx, `
		INSERT INTO payout_batches (id, status, triggered_by) VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, b.ID, b.Status, b.TriggeredBy).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *PayoutRepo) GetBatch(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	var b models.PayoutBatch
	err := r.pool.QueryRow(ctx, `
		SELECT id, status, triggered_by, created_at, updated_at FROM payout_batches WHERE id = $1
	`, id).Scan(&b.ID, &b.Status, &b.TriggeredBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *PayoutRepo) ListBatches(ctx context.Context, limit, offset int) ([]*models.PayoutBatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, status, triggered_by, created_at, updated_at FROM payout_batches
		ORDER BY created_at DESC, id LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PayoutBatch
	for rows.Next() {
		var b models.PayoutBatch
		if err := rows.Scan(&b.ID, &b.Status, &b.TriggeredBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &b)
	}
	return list, rows.Err()
}

// GetBatchForUpdate locks the batch row. Status recomputation serializes on it.
func (r *PayoutRepo) GetBatchForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutBatch, error) {
	var b models.PayoutBatch
	err := tx.QueryRow(ctx, `
		SELECT id, status, triggered_by, created_at, updated_at FROM payout_batches WHERE id = $1 FOR UPDATE
	`, id).Scan(&b.ID, &b.Status, &b.TriggeredBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *PayoutRepo) UpdateBatchStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	tag, err := tx.Exec(ctx, `UPDATE payout_batches SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListBatchStatusesTx returns the status of every item in the batch.
func (r *PayoutRepo) ListBatchStatusesTx(ctx context.Context, tx pgx.Tx, batchID uuid.UUID) ([]string, error) {
	rows, err := tx.Query(ctx, `SELECT status FROM payout_items WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateItemTx inserts the item and links it to the commissions it settles.
// The partial unique index on active links rejects a commission already claimed by another item.
func (r *PayoutRepo) CreateItemTx(ctx context.Context, tx pgx.Tx, item *models.PayoutItem, commissions []*models.Commission) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO payout_items (id, batch_id, creator_id, amount_cents, fee_cents, currency, status, destination,
			idempotency_key, retry_of_id, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING created_at, updated_at
	`, item.ID, item.BatchID, item.CreatorID, item.AmountCents, item.FeeCents, item.Currency, item.Status, item.Destination,
		item.IdempotencyKey, item.RetryOfID, item.Attempts, item.CreatedAt).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, c := range commissions {
		batch.Queue(`
			INSERT INTO payout_item_commissions (payout_item_id, commission_id, amount_cents) VALUES ($1, $2, $3)
		`, item.ID, c.ID, c.AmountCents)
	}
	results := tx.SendBatch(ctx, batch)
	for range commissions {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isUniqueViolation(err, "payout_item_commissions_active_idx") {
				return models.ErrInvariant
			}
			return err
		}
	}
	return results.Close()
}

const itemColumns = `i.id, i.batch_id, i.creator_id, i.amount_cents, i.fee_cents, i.currency, i.status, i.destination,
	i.idempotency_key, COALESCE(i.provider_transfer_id, ''), i.failure_class, i.failure_code, i.failure_message,
	i.retry_of_id, i.attempts, i.sent_at, i.completed_at, i.failed_at, i.created_at, i.updated_at,
	COALESCE((SELECT array_agg(l.commission_id ORDER BY l.commission_id) FROM payout_item_commissions l WHERE l.payout_item_id = i.id), '{}')`

func scanItem(row pgx.Row) (*models.PayoutItem, error) {
	var it models.PayoutItem
	if err := row.Scan(&it.ID, &it.BatchID, &it.CreatorID, &it.AmountCents, &it.FeeCents, &it.Currency, &it.Status, &it.Destination,
		&it.IdempotencyKey, &it.ProviderTransferID, &it.FailureClass, &it.FailureCode, &it.FailureMessage,
		&it.RetryOfID, &it.Attempts, &it.SentAt, &it.CompletedAt, &it.FailedAt, &it.CreatedAt, &it.UpdatedAt,
		&it.CommissionIDs); err != nil {
		return nil, notFound(err)
	}
	return &it, nil
}

func (r *PayoutRepo) GetItem(ctx context.Context, id uuid.UUID) (*models.PayoutItem, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM payout_items i WHERE i.id = $1`, id))
}

func (r *PayoutRepo) GetItemForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutItem, error) {
	return scanItem(tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM payout_items i WHERE i.id = $1 FOR UPDATE OF i`, id))
}

func (r *PayoutRepo) GetItemByTransferID(ctx context.Context, transferID string) (*models.PayoutItem, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM payout_items i WHERE i.provider_transfer_id = $1`, transferID))
}

// UpdateItemTx writes the mutable state of an item.
func (r *PayoutRepo) UpdateItemTx(ctx context.Context, tx pgx.Tx, it *models.PayoutItem) error {
	var transferID *string
	if it.ProviderTransferID != "" {
		transferID = &it.ProviderTransferID
	}
	tag, err := tx.Exec(ctx, `
		UPDATE payout_items SET status = $2, fee_cents = $3, provider_transfer_id = $4, failure_class = $5, failure_code = $6,
			failure_message = $7, attempts = $8, sent_at = $9, completed_at = $10, failed_at = $11, updated_at = $12
		WHERE id = $1
	`, it.ID, it.Status, it.FeeCents, transferID, it.FailureClass, it.FailureCode,
		it.FailureMessage, it.Attempts, it.SentAt, it.CompletedAt, it.FailedAt, it.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeactivateLinksTx releases the item's claim on its commissions.
func (r *PayoutRepo) DeactivateLinksTx(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE payout_item_commissions SET active = FALSE WHERE payout_item_id = $1`, itemID)
	return err
}

func (r *PayoutRepo) ListItems(ctx context.Context, f ItemFilter) ([]*models.PayoutItem, error) {
	q := `SELECT ` + itemColumns + ` FROM payout_items i
		WHERE ($1::uuid IS NULL OR i.batch_id = $1)
		  AND ($2::uuid IS NULL OR i.creator_id = $2)
		  AND ($3 = '' OR i.status = $3)
		ORDER BY i.created_at DESC, i.id
		OFFSET $4`
	args := []any{f.BatchID, f.CreatorID, f.Status, f.Offset}
	if f.Limit > 0 {
		q += ` LIMIT $5`
		args = append(args, f.Limit)
	}
	return collectItems(r.pool.Query(ctx, q, args...))
}

// ListOpenItems returns pending and processing items not touched since before.
func (r *PayoutRepo) ListOpenItems(ctx context.Context, before time.Time) ([]*models.PayoutItem, error) {
	return collectItems(r.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM payout_items i
		WHERE i.status IN ('pending', 'processing') AND i.updated_at < $1
		ORDER BY i.updated_at
	`, before))
}

func collectItems(rows pgx.Rows, err error) ([]*models.PayoutItem, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PayoutItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, it)
	}
	return list, rows.Err()
}
