package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/services"
)

type SubmitPayoutItemArgs struct {
	PayoutItemID uuid.UUID `json:"payout_item_id"`
}

func (SubmitPayoutItemArgs) Kind() string { return "submit_payout_item" }

type UnlockCommissionsArgs struct{}

func (UnlockCommissionsArgs) Kind() string { return "unlock_commissions" }

type ReconcilePayoutsArgs struct{}

func (ReconcilePayoutsArgs) Kind() string { return "reconcile_payouts" }

type RunPayoutBatchArgs struct {
	TriggeredBy string `json:"triggered_by"`
}

func (RunPayoutBatchArgs) Kind() string { return "run_payout_batch" }

// PayoutService is what the payout workers need from the orchestrator.
type PayoutService interface {
	SubmitItem(ctx context.Context, itemID uuid.UUID) (*models.PayoutItem, error)
	ReconcileStale(ctx context.Context) (services.ReconcileReport, error)
	RunBatch(ctx context.Context, req services.BatchRequest) (*services.BatchResult, error)
}

// Reclassifier runs the lock and eligibility pass.
type Reclassifier interface {
	Reclassify(ctx context.Context) (int, error)
}

// SubmitPayoutItemWorker sends one pending payout item to the provider. The service retries
// transient errors itself; an error returned here means the outcome is still unknown, so the
// job is retried by River and the item is looked up again on the next attempt.
type SubmitPayoutItemWorker struct {
	river.WorkerDefaults[SubmitPayoutItemArgs]
	payouts PayoutService
	timeout time.Duration
	log     *slog.Logger
}

func NewSubmitPayoutItemWorker(payouts PayoutService, timeout time.Duration, log *slog.Logger) *SubmitPayoutItemWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SubmitPayoutItemWorker{payouts: payouts, timeout: timeout, log: log}
}

func (w *SubmitPayoutItemWorker) Timeout(*river.Job[SubmitPayoutItemArgs]) time.Duration {
	if w.timeout <= 0 {
		return time.Minute
	}
	return w.timeout
}

func (w *SubmitPayoutItemWorker) Work(ctx context.Context, job *river.Job[SubmitPayoutItemArgs]) error {
	item, err := w.payouts.SubmitItem(ctx, job.Args.PayoutItemID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return river.JobCancel(fmt.Errorf("payout item %s: %w", job.Args.PayoutItemID, err))
	case errors.Is(err, models.ErrInvariant):
		// Retrying cannot fix a broken claim; the operator has to look.
		w.log.Error("payout item violates settlement invariants", "payout_item_id", job.Args.PayoutItemID, "error", err)
		return river.JobCancel(err)
	case err != nil:
		return fmt.Errorf("submit payout item %s: %w", job.Args.PayoutItemID, err)
	}
	w.log.Info("payout item submitted", "payout_item_id", item.ID, "status", item.Status, "attempt", job.Attempt)
	return nil
}

// UnlockCommissionsWorker promotes commissions whose hold window has passed.
type UnlockCommissionsWorker struct {
	river.WorkerDefaults[UnlockCommissionsArgs]
	eligibility Reclassifier
}

func NewUnlockCommissionsWorker(eligibility Reclassifier) *UnlockCommissionsWorker {
	return &UnlockCommissionsWorker{eligibility: eligibility}
}

func (w *UnlockCommissionsWorker) Work(ctx context.Context, _ *river.Job[UnlockCommissionsArgs]) error {
	if _, err := w.eligibility.Reclassify(ctx); err != nil {
		return fmt.Errorf("unlock commissions: %w", err)
	}
	return nil
}

// ReconcilePayoutsWorker re-queries the provider for items stuck in pending or processing.
type ReconcilePayoutsWorker struct {
	river.WorkerDefaults[ReconcilePayoutsArgs]
	payouts PayoutService
}

func NewReconcilePayoutsWorker(payouts PayoutService) *ReconcilePayoutsWorker {
	return &ReconcilePayoutsWorker{payouts: payouts}
}

func (w *ReconcilePayoutsWorker) Work(ctx context.Context, _ *river.Job[ReconcilePayoutsArgs]) error {
	// Items that could not be reconciled stay open and are picked up by the next run.
	if _, err := w.payouts.ReconcileStale(ctx); err != nil {
		return fmt.Errorf("reconcile payouts: %w", err)
	}
	return nil
}

// RunPayoutBatchWorker pays every eligible creator.
type RunPayoutBatchWorker struct {
	river.WorkerDefaults[RunPayoutBatchArgs]
	payouts PayoutService
	log     *slog.Logger
}

func NewRunPayoutBatchWorker(payouts PayoutService, log *slog.Logger) *RunPayoutBatchWorker {
	if log == nil {
		log = slog.Default()
	}
	return &RunPayoutBatchWorker{payouts: payouts, log: log}
}

func (w *RunPayoutBatchWorker) Work(ctx context.Context, job *river.Job[RunPayoutBatchArgs]) error {
	triggeredBy := job.Args.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "schedule"
	}
	res, err := w.payouts.RunBatch(ctx, services.BatchRequest{TriggeredBy: triggeredBy})
	if err != nil {
		return fmt.Errorf("run payout batch: %w", err)
	}
	w.log.Info("scheduled payout batch finished", "batch_id", res.Batch.ID, "items", len(res.Items), "skipped", len(res.Skipped))
	return nil
}
