package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/yeoskin/backend/internal/models"
)

// IssueService is the operator queue for problems that are never resolved automatically.
type IssueService struct {
	Issues IssueStore
	Clock  clockwork.Clock
}

func NewIssueService(issues IssueStore, clock clockwork.Clock) *IssueService {
	return &IssueService{Issues: issues, Clock: clock}
}

func (s *IssueService) List(ctx context.Context, status string, limit, offset int) ([]*models.ReconciliationIssue, error) {
	if status != "" && status != models.IssueOpen && status != models.IssueResolved {
		return nil, models.Invalid("unknown issue status %q", status)
	}
	limit, offset, err := PageBounds(limit, offset)
	if err != nil {
		return nil, err
	}
	return s.Issues.List(ctx, status, limit, offset)
}

func (s *IssueService) Resolve(ctx context.Context, id uuid.UUID, resolution string) (*models.ReconciliationIssue, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, models.Invalid("resolution is required")
	}
	return s.Issues.Resolve(ctx, id, resolution, clockOrReal(s.Clock).Now())
}

type issueRef struct {
	commissionID *uuid.UUID
	payoutItemID *uuid.UUID
}

// raiseIssue records an open issue in tx unless one of the same kind is already open for
// the referenced row. The created issue is added to fx for alerting after commit.
func raiseIssue(ctx context.Context, tx pgx.Tx, store IssueStore, fx *effects, clock clockwork.Clock,
	kind string, creatorID uuid.UUID, ref issueRef, detail string) error {
	key := creatorID
	switch {
	case ref.payoutItemID != nil:
		key = *ref.payoutItemID
	case ref.commissionID != nil:
		key = *ref.commissionID
	}
	open, err := store.HasOpenTx(ctx, tx, kind, key)
	if err != nil {
		return fmt.Errorf("check open %s issue: %w", kind, err)
	}
	if open {
		return nil
	}
	issue := &models.ReconciliationIssue{
		ID:           uuid.New(),
		Kind:         kind,
		CreatorID:    creatorID,
		CommissionID: ref.commissionID,
		PayoutItemID: ref.payoutItemID,
		Detail:       detail,
		Status:       models.IssueOpen,
		CreatedAt:    clockOrReal(clock).Now(),
	}
	if err := store.CreateTx(ctx, tx, issue); err != nil {
		return fmt.Errorf("create %s issue: %w", kind, err)
	}
	fx.issues = append(fx.issues, issue)
	return nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageBounds applies the default page size and caps the limit.
func PageBounds(limit, offset int) (int, int, error) {
	if limit < 0 || offset < 0 {
		return 0, 0, models.Invalid("limit and offset must not be negative")
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, nil
}
