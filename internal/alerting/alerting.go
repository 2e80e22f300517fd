// Package alerting forwards operator-queue issues to Sentry when a DSN is configured.
package alerting

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/yeoskin/backend/internal/models"
)

// Notifier receives issues raised to the operator queue.
type Notifier interface {
	IssueRaised(issue *models.ReconciliationIssue)
}

// Nop ignores every issue.
type Nop struct{}

func (Nop) IssueRaised(*models.ReconciliationIssue) {}

// Sentry reports issues as Sentry messages.
type Sentry struct {
	log *slog.Logger
}

// New returns a Sentry notifier, or Nop when dsn is empty.
func New(dsn, environment string, log *slog.Logger) (Notifier, func(), error) {
	if dsn == "" {
		return Nop{}, func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return nil, nil, fmt.Errorf("sentry init: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	flush := func() { sentry.Flush(2 * time.Second) }
	return &Sentry{log: log}, flush, nil
}

func (s *Sentry) IssueRaised(issue *models.ReconciliationIssue) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("issue_kind", issue.Kind)
		scope.SetTag("creator_id", issue.CreatorID.String())
		if issue.PayoutItemID != nil {
			scope.SetTag("payout_item_id", issue.PayoutItemID.String())
		}
		if issue.CommissionID != nil {
			scope.SetTag("commission_id", issue.CommissionID.String())
		}
		id := sentry.CaptureMessage(fmt.Sprintf("reconciliation issue %s: %s", issue.Kind, issue.Detail))
		if id != nil {
			s.log.Debug("issue reported to sentry", "issue_id", issue.ID, "event_id", string(*id))
		}
	})
}
