package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// Schedule holds the intervals of the periodic jobs. A zero interval disables the job.
type Schedule struct {
	Unlock    time.Duration
	Reconcile time.Duration
	AutoRun   time.Duration
}

// NewWorkers registers every worker of the service.
func NewWorkers(payouts PayoutService, eligibility Reclassifier, submitTimeout time.Duration, log *slog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewSubmitPayoutItemWorker(payouts, submitTimeout, log))
	river.AddWorker(workers, NewUnlockCommissionsWorker(eligibility))
	river.AddWorker(workers, NewReconcilePayoutsWorker(payouts))
	river.AddWorker(workers, NewRunPayoutBatchWorker(payouts, log))
	return workers
}

// PeriodicJobs returns the periodic jobs enabled by s.
func PeriodicJobs(s Schedule) []*river.PeriodicJob {
	var jobs []*river.PeriodicJob
	add := func(every time.Duration, args river.JobArgs) {
		if every <= 0 {
			return
		}
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(every),
			func() (river.JobArgs, *river.InsertOpts) {
				return args, &river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: every}}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	add(s.Unlock, UnlockCommissionsArgs{})
	add(s.Reconcile, ReconcilePayoutsArgs{})
	add(s.AutoRun, RunPayoutBatchArgs{TriggeredBy: "schedule"})
	return jobs
}

// SubmitEnqueuer inserts submit jobs inside the caller's transaction. The River client is
// created after the services that enqueue, so the insert func is bound late.
type SubmitEnqueuer struct {
	mu     sync.Mutex
	insert func(ctx context.Context, tx pgx.Tx, args SubmitPayoutItemArgs) error
}

// Bind sets the insert func, usually a closure over river.Client.InsertTx.
func (e *SubmitEnqueuer) Bind(insert func(ctx context.Context, tx pgx.Tx, args SubmitPayoutItemArgs) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insert = insert
}

// Enqueue matches services.PayoutService.EnqueueSubmit.
func (e *SubmitEnqueuer) Enqueue(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) error {
	e.mu.Lock()
	fn := e.insert
	e.mu.Unlock()
	if fn == nil {
		panic("river insert not wired")
	}
	return fn(ctx, tx, SubmitPayoutItemArgs{PayoutItemID: itemID})
}
