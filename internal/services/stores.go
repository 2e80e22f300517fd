package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/repository"
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CreatorStore is the creator repository as seen by the services.
type CreatorStore interface {
	Create(ctx context.Context, c *models.Creator) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Creator, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Creator, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Creator, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Creator) error
	SetBankVerifiedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, verified bool) error
}

type TierStore interface {
	List(ctx context.Context) ([]*models.CommissionTier, error)
}

// RevenueReader sums a creator's commission revenue over a window.
type RevenueReader interface {
	RevenueBetween(ctx context.Context, creatorID uuid.UUID, from, to time.Time) (int64, error)
}

type CommissionStore interface {
	RevenueReader
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.Commission) error
	ExistsTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, orderID, variant string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Commission, error)
	OrderCreatorsTx(ctx context.Context, tx pgx.Tx, orderID string) ([]uuid.UUID, error)
	ListByOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) ([]*models.Commission, error)
	ListByIDsForUpdate(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]*models.Commission, error)
	SelectPayableForUpdate(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID) ([]*models.Commission, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Commission) error
	PromoteUnlocked(ctx context.Context, now time.Time) ([]*models.Commission, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Commission, error)
	RevenueBetweenTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, from, to time.Time) (int64, error)
	PayableTotals(ctx context.Context) (map[uuid.UUID]int64, error)
}

type PayoutStore interface {
	CreateBatch(ctx context.Context, b *models.PayoutBatch) error
	CreateBatchTx(ctx context.Context, tx pgx.Tx, b *models.PayoutBatch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error)
	GetBatchForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutBatch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*models.PayoutBatch, error)
	UpdateBatchStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	ListBatchStatusesTx(ctx context.Context, tx pgx.Tx, batchID uuid.UUID) ([]string, error)
	CreateItemTx(ctx context.Context, tx pgx.Tx, item *models.PayoutItem, commissions []*models.Commission) error
	GetItem(ctx context.Context, id uuid.UUID) (*models.PayoutItem, error)
	GetItemForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutItem, error)
	GetItemByTransferID(ctx context.Context, transferID string) (*models.PayoutItem, error)
	UpdateItemTx(ctx context.Context, tx pgx.Tx, it *models.PayoutItem) error
	DeactivateLinksTx(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) error
	ListItems(ctx context.Context, f repository.ItemFilter) ([]*models.PayoutItem, error)
	ListOpenItems(ctx context.Context, before time.Time) ([]*models.PayoutItem, error)
}

type IssueStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, i *models.ReconciliationIssue) error
	HasOpenTx(ctx context.Context, tx pgx.Tx, kind string, ref uuid.UUID) (bool, error)
	List(ctx context.Context, status string, limit, offset int) ([]*models.ReconciliationIssue, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution string, at time.Time) (*models.ReconciliationIssue, error)
}

// LedgerWriter appends ledger entries inside a caller-owned transaction.
type LedgerWriter interface {
	Append(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

var (
	_ CreatorStore    = (*repository.CreatorRepo)(nil)
	_ TierStore       = (*repository.TierRepo)(nil)
	_ CommissionStore = (*repository.CommissionRepo)(nil)
	_ PayoutStore     = (*repository.PayoutRepo)(nil)
	_ IssueStore      = (*repository.IssueRepo)(nil)
)
