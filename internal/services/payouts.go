package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/yeoskin/backend/internal/alerting"
	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/metrics"
	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/money"
	"github.com/yeoskin/backend/internal/provider"
	"github.com/yeoskin/backend/internal/repository"
	"github.com/yeoskin/backend/internal/retry"
)

// PayoutService creates payout batches and drives their items through the provider.
type PayoutService struct {
	Pool        TxBeginner
	Creators    CreatorStore
	Commissions CommissionStore
	Payouts     PayoutStore
	Issues      IssueStore
	Ledger      LedgerWriter
	Provider    provider.Client
	// EnqueueSubmit schedules SubmitItem for a new item inside the transaction that created it.
	// When nil, items stay pending until SubmitItem or ReconcileStale picks them up.
	EnqueueSubmit func(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) error
	Events        events.Publisher
	Alerts        alerting.Notifier
	Clock         clockwork.Clock
	Retry         retry.Config
	// MinimumCents is the provider minimum; a creator is paid only above it.
	MinimumCents    int64
	Currency        string
	MaxConcurrency  int
	ProviderTimeout time.Duration
	ReconcileAfter  time.Duration
	Logger          *slog.Logger
}

// BatchRequest selects the creators of a run. An empty CreatorIDs means every creator
// with a payable balance above the minimum.
type BatchRequest struct {
	CreatorIDs  []uuid.UUID `json:"creator_ids"`
	TriggeredBy string      `json:"triggered_by"`
}

type SkippedCreator struct {
	CreatorID uuid.UUID `json:"creator_id"`
	Reason    string    `json:"reason"`
}

type BatchResult struct {
	Batch   *models.PayoutBatch  `json:"batch"`
	Items   []*models.PayoutItem `json:"items"`
	Skipped []SkippedCreator     `json:"skipped"`
}

// Callback is the provider's asynchronous settlement notice. It is only a hint: the
// transfer is re-read from the provider before anything changes.
type Callback struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	FeeCents   int64  `json:"fee"`
}

type ReconcileReport struct {
	Checked int `json:"checked"`
	Changed int `json:"changed"`
	Errors  int `json:"errors"`
}

func (s *PayoutService) clock() clockwork.Clock { return clockOrReal(s.Clock) }
func (s *PayoutService) log() *slog.Logger      { return loggerOrDefault(s.Logger) }

func (s *PayoutService) concurrency() int {
	if s.MaxConcurrency < 1 {
		return 1
	}
	return s.MaxConcurrency
}

func (s *PayoutService) retryConfig() retry.Config {
	cfg := s.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = s.Clock
	}
	return cfg
}

func (s *PayoutService) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.ProviderTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

var errSkipCreator = errors.New("creator skipped")

// RunBatch creates one batch and, per selected creator, one payout item claiming the
// creator's payable commissions. Each creator runs in its own transaction; a failure for one
// creator is reported in Skipped and does not affect the others.
func (s *PayoutService) RunBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	candidates, err := s.candidates(ctx, req.CreatorIDs)
	if err != nil {
		return nil, err
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "system"
	}
	batch := &models.PayoutBatch{ID: uuid.New(), Status: models.BatchDraft, TriggeredBy: req.TriggeredBy}
	if err := s.Payouts.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	log := s.log().With("batch_id", batch.ID)
	log.Info("payout batch started", "candidates", len(candidates), "triggered_by", req.TriggeredBy)

	res := &BatchResult{Batch: batch}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency())
	for _, creatorID := range candidates {
		creatorID := creatorID
		g.Go(func() error {
			item, reason, err := s.createItem(ctx, batch.ID, creatorID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				log.Error("payout item creation failed", "creator_id", creatorID, "error", err)
				res.Skipped = append(res.Skipped, SkippedCreator{CreatorID: creatorID, Reason: err.Error()})
			case item == nil:
				res.Skipped = append(res.Skipped, SkippedCreator{CreatorID: creatorID, Reason: reason})
			default:
				log.Info("payout item created", "creator_id", creatorID, "payout_item_id", item.ID,
					"amount_cents", item.AmountCents, "commissions", len(item.CommissionIDs))
				res.Items = append(res.Items, item)
			}
			return nil
		})
	}
	_ = g.Wait()

	var fx effects
	err = inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		return s.refreshBatchTx(ctx, tx, batch.ID, &fx)
	})
	if err != nil {
		return nil, fmt.Errorf("refresh batch %s: %w", batch.ID, err)
	}
	fx.flush(s.Events, s.Alerts)
	if b, err := s.Payouts.GetBatch(ctx, batch.ID); err == nil {
		res.Batch = b
	}
	sort.Slice(res.Items, func(i, j int) bool { return res.Items[i].CreatorID.String() < res.Items[j].CreatorID.String() })
	sort.Slice(res.Skipped, func(i, j int) bool { return res.Skipped[i].CreatorID.String() < res.Skipped[j].CreatorID.String() })
	log.Info("payout batch created", "items", len(res.Items), "skipped", len(res.Skipped), "status", res.Batch.Status)
	return res, nil
}

func (s *PayoutService) candidates(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) > 0 {
		seen := make(map[uuid.UUID]bool, len(ids))
		out := make([]uuid.UUID, 0, len(ids))
		for _, id := range ids {
			if id == uuid.Nil {
				return nil, models.Invalid("creator id must not be empty")
			}
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		return out, nil
	}
	totals, err := s.Commissions.PayableTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("payable totals: %w", err)
	}
	var out []uuid.UUID
	for id, total := range totals {
		if total > s.MinimumCents {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// createItem selects the creator's payable commissions and claims them for a new item in
// the same transaction, so no commission can be selected by two items.
func (s *PayoutService) createItem(ctx context.Context, batchID, creatorID uuid.UUID) (*models.PayoutItem, string, error) {
	now := s.clock().Now()
	var (
		item   *models.PayoutItem
		reason string
		fx     effects
	)
	err := inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		creator, err := s.Creators.GetByIDForUpdate(ctx, tx, creatorID)
		if err != nil {
			return err
		}
		if !creator.CanReceivePayouts() {
			reason = "creator cannot receive payouts: inactive or destination unverified"
			return errSkipCreator
		}
		commissions, err := s.Commissions.SelectPayableForUpdate(ctx, tx, creatorID)
		if err != nil {
			return err
		}
		var total int64
		for _, c := range commissions {
			total += c.AmountCents
		}
		if total <= s.MinimumCents {
			reason = fmt.Sprintf("payable %s does not exceed the minimum %s",
				money.FormatCents(total, s.Currency), money.FormatCents(s.MinimumCents, s.Currency))
			return errSkipCreator
		}
		item, err = s.attach(ctx, tx, batchID, creator, commissions, nil, now)
		if err != nil {
			return err
		}
		fx.event(events.KindPayoutItemStatus, events.Event{CreatorID: creatorID, Ref: item.ID, Status: item.Status, At: now})
		return nil
	})
	if errors.Is(err, errSkipCreator) {
		return nil, reason, nil
	}
	if err != nil {
		return nil, "", err
	}
	fx.flush(s.Events, s.Alerts)
	return item, "", nil
}

// attach creates a pending item for commissions and points each of them at it.
func (s *PayoutService) attach(ctx context.Context, tx pgx.Tx, batchID uuid.UUID, creator *models.Creator,
	commissions []*models.Commission, retryOf *uuid.UUID, now time.Time) (*models.PayoutItem, error) {
	item := &models.PayoutItem{
		ID:          uuid.New(),
		BatchID:     batchID,
		CreatorID:   creator.ID,
		Currency:    s.Currency,
		Status:      models.ItemPending,
		Destination: creator.PayoutDestination,
		RetryOfID:   retryOf,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	item.IdempotencyKey = item.ID.String()
	for _, c := range commissions {
		item.AmountCents += c.AmountCents
		item.CommissionIDs = append(item.CommissionIDs, c.ID)
	}
	if err := s.Payouts.CreateItemTx(ctx, tx, item, commissions); err != nil {
		return nil, fmt.Errorf("create payout item: %w", err)
	}
	for _, c := range commissions {
		c.PayoutItemID = &item.ID
		c.UpdatedAt = now
		if err := s.Commissions.UpdateTx(ctx, tx, c); err != nil {
			return nil, fmt.Errorf("attach commission %s: %w", c.ID, err)
		}
	}
	if s.EnqueueSubmit != nil {
		if err := s.EnqueueSubmit(ctx, tx, item.ID); err != nil {
			return nil, fmt.Errorf("enqueue submit: %w", err)
		}
	}
	return item, nil
}

// SubmitItem asks the provider to send a pending item. Transient errors are retried with
// backoff using the same idempotency key. When retries run out the provider is asked whether
// the transfer exists before the item is failed, so an ambiguous outcome is never assumed.
func (s *PayoutService) SubmitItem(ctx context.Context, itemID uuid.UUID) (*models.PayoutItem, error) {
	item, err := s.Payouts.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ItemPending {
		return item, nil
	}
	log := s.log().With("payout_item_id", item.ID, "creator_id", item.CreatorID, "batch_id", item.BatchID)

	var (
		transfer *provider.Transfer
		attempts int
	)
	err = retry.Do(ctx, s.retryConfig(), func(attempt int) error {
		attempts = attempt
		cctx, cancel := s.callCtx(ctx)
		defer cancel()
		start := time.Now()
		t, err := s.Provider.Initiate(cctx, provider.TransferRequest{
			Destination:    item.Destination,
			AmountCents:    item.AmountCents,
			Currency:       item.Currency,
			IdempotencyKey: item.IdempotencyKey,
		})
		metrics.RecordProviderCall("initiate", time.Since(start), outcome(err))
		if err != nil {
			log.Warn("provider initiate failed", "attempt", attempt, "error", err)
			return err
		}
		transfer = t
		return nil
	})
	attempts += item.Attempts

	switch {
	case err == nil:
		return s.applyTransfer(ctx, item.ID, transfer, attempts)
	case models.IsPermanent(err):
		return s.failPending(ctx, item.ID, err, attempts, true)
	case errors.Is(err, retry.ErrExhausted):
		t, lerr := s.lookup(ctx, item.IdempotencyKey)
		switch {
		case lerr == nil:
			log.Info("transfer found after retries", "transfer_id", t.ID, "status", t.Status)
			return s.applyTransfer(ctx, item.ID, t, attempts)
		case errors.Is(lerr, provider.ErrTransferNotFound):
			return s.failPending(ctx, item.ID, err, attempts, false)
		default:
			if aerr := s.markAmbiguous(ctx, item.ID, attempts, lerr); aerr != nil {
				return nil, aerr
			}
			return nil, fmt.Errorf("transfer outcome unknown for payout item %s: %w", item.ID, lerr)
		}
	default:
		return nil, err
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case models.IsTransient(err):
		return "transient"
	case models.IsPermanent(err):
		return "permanent"
	case errors.Is(err, provider.ErrTransferNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (s *PayoutService) lookup(ctx context.Context, key string) (*provider.Transfer, error) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	start := time.Now()
	t, err := s.Provider.Lookup(cctx, key)
	metrics.RecordProviderCall("lookup", time.Since(start), outcome(err))
	return t, err
}

func (s *PayoutService) get(ctx context.Context, transferID string) (*provider.Transfer, error) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	start := time.Now()
	t, err := s.Provider.Get(cctx, transferID)
	metrics.RecordProviderCall("get", time.Since(start), outcome(err))
	return t, err
}

// lockItem locks the item's creator and then the item, the order every payout write uses.
func (s *PayoutService) lockItem(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*models.Creator, *models.PayoutItem, error) {
	peek, err := s.Payouts.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	creator, err := s.Creators.GetByIDForUpdate(ctx, tx, peek.CreatorID)
	if err != nil {
		return nil, nil, err
	}
	item, err := s.Payouts.GetItemForUpdate(ctx, tx, itemID)
	if err != nil {
		return nil, nil, err
	}
	return creator, item, nil
}

func (s *PayoutService) setItemStatus(ctx context.Context, tx pgx.Tx, item *models.PayoutItem, status string, now time.Time, fx *effects) error {
	if !models.CanTransitionItem(item.Status, status) {
		return fmt.Errorf("%w: payout item %s %s -> %s", models.ErrInvalidTransition, item.ID, item.Status, status)
	}
	item.Status = status
	item.UpdatedAt = now
	if err := s.Payouts.UpdateItemTx(ctx, tx, item); err != nil {
		return fmt.Errorf("update payout item: %w", err)
	}
	cp := *item
	fx.items = append(fx.items, &cp)
	fx.event(events.KindPayoutItemStatus, events.Event{CreatorID: item.CreatorID, Ref: item.ID, Status: status, At: now})
	return nil
}

// applyTransfer moves the item to match the provider's authoritative transfer state.
// Repeated calls with the same state change nothing.
func (s *PayoutService) applyTransfer(ctx context.Context, itemID uuid.UUID, t *provider.Transfer, attempts int) (*models.PayoutItem, error) {
	if t == nil || !provider.ValidStatus(t.Status) {
		return nil, fmt.Errorf("%w: unusable transfer state for item %s", models.ErrValidation, itemID)
	}
	now := s.clock().Now()
	var (
		out *models.PayoutItem
		fx  effects
	)
	err := inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		fx = effects{}
		creator, item, err := s.lockItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if attempts > item.Attempts {
			item.Attempts = attempts
		}
		switch t.Status {
		case provider.StatusSent:
			if item.Status == models.ItemPending {
				if err := s.acceptTx(ctx, tx, item, t, now, &fx); err != nil {
					return err
				}
			}
		case provider.StatusCompleted:
			if item.Status == models.ItemPending {
				if err := s.acceptTx(ctx, tx, item, t, now, &fx); err != nil {
					return err
				}
			}
			if item.Status == models.ItemProcessing {
				if err := s.completeTx(ctx, tx, item, t, now, &fx); err != nil {
					return err
				}
			}
		case provider.StatusFailed:
			switch item.Status {
			case models.ItemPending:
				perr := &models.ProviderError{Class: failureClass(t), Code: t.FailureCode, Message: t.FailureMessage}
				if err := s.failPendingTx(ctx, tx, creator, item, perr, t.Permanent, now, &fx); err != nil {
					return err
				}
			case models.ItemProcessing, models.ItemCompleted:
				if err := s.reverseTx(ctx, tx, creator, item, t, now, &fx); err != nil {
					return err
				}
			}
		}
		if err := s.refreshBatchTx(ctx, tx, item.BatchID, &fx); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvariant) {
			s.log().Error("payout invariant violated", "payout_item_id", itemID, "error", err)
		}
		return nil, err
	}
	fx.flush(s.Events, s.Alerts)
	return out, nil
}

func failureClass(t *provider.Transfer) models.ProviderErrorClass {
	if t.Permanent {
		return models.ProviderPermanent
	}
	return models.ProviderTransient
}

// acceptTx marks the item processing, records payout_sent and marks every claimed
// commission paid. It refuses when the claimed set no longer matches the item.
func (s *PayoutService) acceptTx(ctx context.Context, tx pgx.Tx, item *models.PayoutItem, t *provider.Transfer, now time.Time, fx *effects) error {
	commissions, err := s.Commissions.ListByIDsForUpdate(ctx, tx, item.CommissionIDs)
	if err != nil {
		return err
	}
	if len(commissions) != len(item.CommissionIDs) {
		return fmt.Errorf("%w: payout item %s claims %d commissions, found %d",
			models.ErrInvariant, item.ID, len(item.CommissionIDs), len(commissions))
	}
	var sum int64
	for _, c := range commissions {
		if c.Status != models.CommissionPayable || c.PayoutItemID == nil || *c.PayoutItemID != item.ID {
			return fmt.Errorf("%w: commission %s is %s and no longer claimed by payout item %s",
				models.ErrInvariant, c.ID, c.Status, item.ID)
		}
		sum += c.AmountCents
	}
	if sum != item.AmountCents {
		return fmt.Errorf("%w: payout item %s amount %d differs from its commissions %d",
			models.ErrInvariant, item.ID, item.AmountCents, sum)
	}

	item.ProviderTransferID = t.ID
	item.SentAt = &now
	if err := s.setItemStatus(ctx, tx, item, models.ItemProcessing, now, fx); err != nil {
		return err
	}
	if err := s.Ledger.Append(ctx, tx, &models.LedgerEntry{
		CreatorID:    item.CreatorID,
		Type:         models.LedgerPayoutSent,
		AmountCents:  -item.AmountCents,
		PayoutItemID: &item.ID,
		Description:  fmt.Sprintf("Payout of %s sent", money.FormatCents(item.AmountCents, item.Currency)),
		CreatedAt:    now,
	}); err != nil {
		return err
	}
	for _, c := range commissions {
		c.Status = models.CommissionPaid
		c.PaidAt = &now
		c.UpdatedAt = now
		if err := s.Commissions.UpdateTx(ctx, tx, c); err != nil {
			return fmt.Errorf("mark commission %s paid: %w", c.ID, err)
		}
		fx.event(events.KindCommissionStatus, events.Event{CreatorID: c.CreatorID, Ref: c.ID, Status: c.Status, At: now})
	}
	fx.event(events.KindLedgerAppended, events.Event{CreatorID: item.CreatorID, Ref: item.ID, At: now})
	s.log().Info("payout item accepted", "creator_id", item.CreatorID, "payout_item_id", item.ID,
		"batch_id", item.BatchID, "transfer_id", t.ID, "amount_cents", item.AmountCents)
	return nil
}

// completeTx marks a processing item completed. The provider fee is recorded once, as its
// own entry; payout_completed carries no amount because payout_sent already moved the balance.
func (s *PayoutService) completeTx(ctx context.Context, tx pgx.Tx, item *models.PayoutItem, t *provider.Transfer, now time.Time, fx *effects) error {
	item.CompletedAt = &now
	if t.FeeCents > 0 && item.FeeCents == 0 {
		item.FeeCents = t.FeeCents
		if err := s.Ledger.Append(ctx, tx, &models.LedgerEntry{
			CreatorID:    item.CreatorID,
			Type:         models.LedgerPayoutFee,
			AmountCents:  -t.FeeCents,
			PayoutItemID: &item.ID,
			Description:  fmt.Sprintf("Transfer fee %s", money.FormatCents(t.FeeCents, item.Currency)),
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}
	if err := s.setItemStatus(ctx, tx, item, models.ItemCompleted, now, fx); err != nil {
		return err
	}
	if err := s.Ledger.Append(ctx, tx, &models.LedgerEntry{
		CreatorID:    item.CreatorID,
		Type:         models.LedgerPayoutCompleted,
		AmountCents:  0,
		PayoutItemID: &item.ID,
		Description:  fmt.Sprintf("Payout of %s completed", money.FormatCents(item.AmountCents, item.Currency)),
		CreatedAt:    now,
	}); err != nil {
		return err
	}
	fx.event(events.KindLedgerAppended, events.Event{CreatorID: item.CreatorID, Ref: item.ID, At: now})
	s.log().Info("payout item completed", "creator_id", item.CreatorID, "payout_item_id", item.ID,
		"batch_id", item.BatchID, "fee_cents", item.FeeCents)
	return nil
}

// reverseTx fails an item the provider had accepted: the sent amount is credited back and
// the commissions return to the payable pool.
func (s *PayoutService) reverseTx(ctx context.Context, tx pgx.Tx, creator *models.Creator, item *models.PayoutItem, t *provider.Transfer, now time.Time, fx *effects) error {
	from := item.Status
	commissions, err := s.Commissions.ListByIDsForUpdate(ctx, tx, item.CommissionIDs)
	if err != nil {
		return err
	}
	item.FailedAt = &now
	item.FailureClass = string(failureClass(t))
	item.FailureCode = t.FailureCode
	item.FailureMessage = t.FailureMessage
	if err := s.setItemStatus(ctx, tx, item, models.ItemFailed, now, fx); err != nil {
		return err
	}
	if err := s.Ledger.Append(ctx, tx, &models.LedgerEntry{
		CreatorID:    item.CreatorID,
		Type:         models.LedgerPayoutFailed,
		AmountCents:  item.AmountCents,
		PayoutItemID: &item.ID,
		Description:  fmt.Sprintf("Payout of %s returned", money.FormatCents(item.AmountCents, item.Currency)),
		CreatedAt:    now,
	}); err != nil {
		return err
	}
	for _, c := range commissions {
		if c.Status != models.CommissionPaid || c.PayoutItemID == nil || *c.PayoutItemID != item.ID {
			continue
		}
		c.Status = models.CommissionPayable
		c.PaidAt = nil
		c.PayoutItemID = nil
		c.UpdatedAt = now
		if err := s.Commissions.UpdateTx(ctx, tx, c); err != nil {
			return fmt.Errorf("revert commission %s: %w", c.ID, err)
		}
		fx.event(events.KindCommissionStatus, events.Event{CreatorID: c.CreatorID, Ref: c.ID, Status: c.Status, At: now})
	}
	if err := s.Payouts.DeactivateLinksTx(ctx, tx, item.ID); err != nil {
		return err
	}
	fx.event(events.KindLedgerAppended, events.Event{CreatorID: item.CreatorID, Ref: item.ID, At: now})

	if t.Permanent {
		if err := s.blockDestinationTx(ctx, tx, creator, item, now, fx); err != nil {
			return err
		}
	}
	if from == models.ItemCompleted {
		detail := fmt.Sprintf("provider reversed transfer %s of %s after reporting it completed",
			item.ProviderTransferID, money.FormatCents(item.AmountCents, item.Currency))
		if err := raiseIssue(ctx, tx, s.Issues, fx, s.Clock, models.IssuePostCompletionReversal,
			item.CreatorID, issueRef{payoutItemID: &item.ID}, detail); err != nil {
			return err
		}
	}
	s.log().Warn("payout item failed after acceptance", "creator_id", item.CreatorID, "payout_item_id", item.ID,
		"batch_id", item.BatchID, "from", from, "failure_code", item.FailureCode)
	return nil
}

// blockDestinationTx unverifies the creator's destination and raises the failure to an operator.
func (s *PayoutService) blockDestinationTx(ctx context.Context, tx pgx.Tx, creator *models.Creator, item *models.PayoutItem, now time.Time, fx *effects) error {
	if creator.BankVerified {
		if err := s.Creators.SetBankVerifiedTx(ctx, tx, creator.ID, false); err != nil {
			return err
		}
		creator.BankVerified = false
		fx.event(events.KindCreatorUpdated, events.Event{CreatorID: creator.ID, Ref: creator.ID, At: now})
	}
	detail := fmt.Sprintf("permanent provider failure %s: %s; re-verify the payout destination before retrying",
		item.FailureCode, item.FailureMessage)
	return raiseIssue(ctx, tx, s.Issues, fx, s.Clock, models.IssuePermanentPayoutFailure,
		item.CreatorID, issueRef{payoutItemID: &item.ID}, detail)
}

// failPending fails an item the provider never accepted.
func (s *PayoutService) failPending(ctx context.Context, itemID uuid.UUID, cause error, attempts int, permanent bool) (*models.PayoutItem, error) {
	now := s.clock().Now()
	var (
		out *models.PayoutItem
		fx  effects
	)
	err := inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		fx = effects{}
		creator, item, err := s.lockItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		out = item
		if item.Status != models.ItemPending {
			return nil
		}
		item.Attempts = attempts
		if err := s.failPendingTx(ctx, tx, creator, item, cause, permanent, now, &fx); err != nil {
			return err
		}
		return s.refreshBatchTx(ctx, tx, item.BatchID, &fx)
	})
	if err != nil {
		return nil, err
	}
	fx.flush(s.Events, s.Alerts)
	return out, nil
}

// failPendingTx releases the item's commissions without touching the ledger, since nothing
// was recorded before acceptance.
func (s *PayoutService) failPendingTx(ctx context.Context, tx pgx.Tx, creator *models.Creator, item *models.PayoutItem,
	cause error, permanent bool, now time.Time, fx *effects) error {
	item.FailedAt = &now
	item.FailureClass = string(models.ProviderTransient)
	if permanent {
		item.FailureClass = string(models.ProviderPermanent)
	}
	var pe *models.ProviderError
	if errors.As(cause, &pe) {
		item.FailureCode = pe.Code
		item.FailureMessage = pe.Message
	} else if cause != nil {
		item.FailureMessage = cause.Error()
	}
	if err := s.setItemStatus(ctx, tx, item, models.ItemFailed, now, fx); err != nil {
		return err
	}
	commissions, err := s.Commissions.ListByIDsForUpdate(ctx, tx, item.CommissionIDs)
	if err != nil {
		return err
	}
	for _, c := range commissions {
		if c.PayoutItemID == nil || *c.PayoutItemID != item.ID {
			continue
		}
		c.PayoutItemID = nil
		c.UpdatedAt = now
		if err := s.Commissions.UpdateTx(ctx, tx, c); err != nil {
			return fmt.Errorf("release commission %s: %w", c.ID, err)
		}
	}
	if err := s.Payouts.DeactivateLinksTx(ctx, tx, item.ID); err != nil {
		return err
	}
	if permanent {
		if err := s.blockDestinationTx(ctx, tx, creator, item, now, fx); err != nil {
			return err
		}
	}
	s.log().Warn("payout item failed before acceptance", "creator_id", item.CreatorID, "payout_item_id", item.ID,
		"batch_id", item.BatchID, "permanent", permanent, "failure_code", item.FailureCode, "attempts", item.Attempts)
	return nil
}

// markAmbiguous keeps the item pending after the provider could not tell whether the
// transfer exists, and asks an operator to look.
func (s *PayoutService) markAmbiguous(ctx context.Context, itemID uuid.UUID, attempts int, cause error) error {
	now := s.clock().Now()
	var fx effects
	err := inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		fx = effects{}
		_, item, err := s.lockItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if item.Status != models.ItemPending {
			return nil
		}
		item.Attempts = attempts
		item.FailureClass = string(models.ProviderTransient)
		item.FailureMessage = cause.Error()
		item.UpdatedAt = now
		if err := s.Payouts.UpdateItemTx(ctx, tx, item); err != nil {
			return err
		}
		detail := fmt.Sprintf("provider did not confirm whether transfer %s exists after %d attempts: %v",
			item.IdempotencyKey, attempts, cause)
		return raiseIssue(ctx, tx, s.Issues, &fx, s.Clock, models.IssueAmbiguousTransfer,
			item.CreatorID, issueRef{payoutItemID: &item.ID}, detail)
	})
	if err != nil {
		return err
	}
	fx.flush(s.Events, s.Alerts)
	s.log().Warn("payout item outcome unknown", "payout_item_id", itemID, "attempts", attempts, "error", cause)
	return nil
}

// refreshBatchTx derives the batch status from its items under the batch row lock.
func (s *PayoutService) refreshBatchTx(ctx context.Context, tx pgx.Tx, batchID uuid.UUID, fx *effects) error {
	batch, err := s.Payouts.GetBatchForUpdate(ctx, tx, batchID)
	if err != nil {
		return err
	}
	statuses, err := s.Payouts.ListBatchStatusesTx(ctx, tx, batchID)
	if err != nil {
		return err
	}
	next := BatchStatus(statuses)
	if next == batch.Status {
		return nil
	}
	if err := s.Payouts.UpdateBatchStatusTx(ctx, tx, batchID, next); err != nil {
		return err
	}
	fx.event(events.KindPayoutBatchStatus, events.Event{Ref: batchID, Status: next, At: s.clock().Now()})
	return nil
}

// BatchStatus derives a batch status from the statuses of its items.
func BatchStatus(items []string) string {
	if len(items) == 0 {
		return models.BatchCompleted
	}
	var pending, failed, completed int
	for _, st := range items {
		switch st {
		case models.ItemPending:
			pending++
		case models.ItemFailed:
			failed++
		case models.ItemCompleted:
			completed++
		}
	}
	switch {
	case failed+completed == len(items) && failed > 0:
		return models.BatchPartiallyFailed
	case completed == len(items):
		return models.BatchCompleted
	case pending == len(items):
		return models.BatchDraft
	default:
		return models.BatchProcessing
	}
}

// HandleCallback re-reads the transfer named by a provider callback and applies the
// provider's current state. Redelivered callbacks change nothing.
func (s *PayoutService) HandleCallback(ctx context.Context, cb Callback) (*models.PayoutItem, error) {
	if cb.TransferID == "" {
		return nil, models.Invalid("transfer_id is required")
	}
	if cb.Status != "" && !provider.ValidStatus(cb.Status) {
		return nil, models.Invalid("unknown transfer status %q", cb.Status)
	}
	item, err := s.Payouts.GetItemByTransferID(ctx, cb.TransferID)
	if err != nil {
		return nil, fmt.Errorf("payout item for transfer %s: %w", cb.TransferID, err)
	}
	t, err := s.get(ctx, cb.TransferID)
	if err != nil {
		return nil, fmt.Errorf("re-read transfer %s: %w", cb.TransferID, err)
	}
	if t.Status != cb.Status {
		s.log().Info("callback status differs from provider", "transfer_id", cb.TransferID,
			"callback_status", cb.Status, "provider_status", t.Status)
	}
	return s.applyTransfer(ctx, item.ID, t, item.Attempts)
}

// ReconcileStale re-queries the provider for items that have been pending or processing
// for longer than ReconcileAfter.
func (s *PayoutService) ReconcileStale(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	before := s.clock().Now().Add(-s.ReconcileAfter)
	items, err := s.Payouts.ListOpenItems(ctx, before)
	if err != nil {
		return rep, fmt.Errorf("list open items: %w", err)
	}
	for _, item := range items {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Checked++
		changed, err := s.reconcileItem(ctx, item)
		if err != nil {
			rep.Errors++
			s.log().Warn("reconcile payout item failed", "payout_item_id", item.ID, "error", err)
			continue
		}
		if changed {
			rep.Changed++
		}
	}
	if rep.Checked > 0 {
		s.log().Info("payout reconciliation finished", "checked", rep.Checked, "changed", rep.Changed, "errors", rep.Errors)
	}
	return rep, nil
}

func (s *PayoutService) reconcileItem(ctx context.Context, item *models.PayoutItem) (bool, error) {
	var (
		updated *models.PayoutItem
		err     error
	)
	switch item.Status {
	case models.ItemPending:
		t, lerr := s.lookup(ctx, item.IdempotencyKey)
		switch {
		case lerr == nil:
			updated, err = s.applyTransfer(ctx, item.ID, t, item.Attempts)
		case errors.Is(lerr, provider.ErrTransferNotFound):
			updated, err = s.SubmitItem(ctx, item.ID)
		default:
			return false, lerr
		}
	case models.ItemProcessing:
		t, gerr := s.get(ctx, item.ProviderTransferID)
		if gerr != nil {
			return false, gerr
		}
		updated, err = s.applyTransfer(ctx, item.ID, t, item.Attempts)
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return updated != nil && updated.Status != item.Status, nil
}

// RetryItem creates a new item, in a new batch, for the commissions of a failed item that
// are still payable and unclaimed.
func (s *PayoutService) RetryItem(ctx context.Context, failedItemID uuid.UUID, triggeredBy string) (*models.PayoutItem, error) {
	failed, err := s.Payouts.GetItem(ctx, failedItemID)
	if err != nil {
		return nil, err
	}
	if failed.Status != models.ItemFailed {
		return nil, fmt.Errorf("%w: payout item %s is %s, only failed items can be retried",
			models.ErrInvalidTransition, failed.ID, failed.Status)
	}
	if triggeredBy == "" {
		triggeredBy = "retry"
	}
	now := s.clock().Now()
	var (
		item *models.PayoutItem
		fx   effects
	)
	err = inTx(ctx, s.Pool, func(tx pgx.Tx) error {
		fx = effects{}
		creator, err := s.Creators.GetByIDForUpdate(ctx, tx, failed.CreatorID)
		if err != nil {
			return err
		}
		if !creator.CanReceivePayouts() {
			return fmt.Errorf("%w: creator %s", models.ErrDestinationUnverified, creator.ID)
		}
		commissions, err := s.Commissions.ListByIDsForUpdate(ctx, tx, failed.CommissionIDs)
		if err != nil {
			return err
		}
		var eligible []*models.Commission
		for _, c := range commissions {
			if c.Status == models.CommissionPayable && !c.Attached() {
				eligible = append(eligible, c)
			}
		}
		if len(eligible) == 0 {
			return models.Invalid("no commission of payout item %s is still payable", failed.ID)
		}
		batch := &models.PayoutBatch{ID: uuid.New(), Status: models.BatchDraft, TriggeredBy: triggeredBy}
		if err := s.Payouts.CreateBatchTx(ctx, tx, batch); err != nil {
			return err
		}
		item, err = s.attach(ctx, tx, batch.ID, creator, eligible, &failed.ID, now)
		if err != nil {
			return err
		}
		fx.event(events.KindPayoutItemStatus, events.Event{CreatorID: item.CreatorID, Ref: item.ID, Status: item.Status, At: now})
		return nil
	})
	if err != nil {
		return nil, err
	}
	fx.flush(s.Events, s.Alerts)
	s.log().Info("payout item retried", "creator_id", item.CreatorID, "payout_item_id", item.ID,
		"batch_id", item.BatchID, "retry_of", failed.ID, "amount_cents", item.AmountCents)
	return item, nil
}

// BatchView is a batch with one page of its items. HasMore is set when items remain past
// the page.
type BatchView struct {
	Batch   *models.PayoutBatch  `json:"batch"`
	Items   []*models.PayoutItem `json:"items"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
	HasMore bool                 `json:"has_more"`
}

func (s *PayoutService) GetBatch(ctx context.Context, id uuid.UUID, limit, offset int) (*BatchView, error) {
	limit, offset, err := PageBounds(limit, offset)
	if err != nil {
		return nil, err
	}
	b, err := s.Payouts.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.Payouts.ListItems(ctx, repository.ItemFilter{BatchID: &id, Limit: limit + 1, Offset: offset})
	if err != nil {
		return nil, err
	}
	view := &BatchView{Batch: b, Items: items, Limit: limit, Offset: offset}
	if len(items) > limit {
		view.Items, view.HasMore = items[:limit], true
	}
	if view.Items == nil {
		view.Items = []*models.PayoutItem{}
	}
	return view, nil
}

func (s *PayoutService) ListBatches(ctx context.Context, limit, offset int) ([]*models.PayoutBatch, error) {
	limit, offset, err := PageBounds(limit, offset)
	if err != nil {
		return nil, err
	}
	return s.Payouts.ListBatches(ctx, limit, offset)
}

func (s *PayoutService) ListItems(ctx context.Context, f repository.ItemFilter) ([]*models.PayoutItem, error) {
	if f.Status != "" && f.Status != models.ItemPending && f.Status != models.ItemProcessing &&
		f.Status != models.ItemCompleted && f.Status != models.ItemFailed {
		return nil, models.Invalid("unknown payout item status %q", f.Status)
	}
	var err error
	f.Limit, f.Offset, err = PageBounds(f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return s.Payouts.ListItems(ctx, f)
}

func (s *PayoutService) GetItem(ctx context.Context, id uuid.UUID) (*models.PayoutItem, error) {
	return s.Payouts.GetItem(ctx, id)
}
