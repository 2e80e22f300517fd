package services

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/yeoskin/backend/internal/alerting"
	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/metrics"
	"github.com/yeoskin/backend/internal/models"
)

// inTx runs fn in a transaction and commits when it returns nil.
func inTx(ctx context.Context, pool TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// effects collects what a transaction produced so it can be announced after commit.
type effects struct {
	events events.Pending
	issues []*models.ReconciliationIssue
	items  []*models.PayoutItem
}

func (fx *effects) event(kind string, e events.Event) {
	e.Kind = kind
	fx.events.Add(e)
}

func (fx *effects) flush(pub events.Publisher, alerts alerting.Notifier) {
	if pub == nil {
		pub = events.Nop{}
	}
	fx.events.Flush(pub)
	for _, it := range fx.items {
		metrics.RecordPayoutItem(it.Status, it.AmountCents)
	}
	for _, issue := range fx.issues {
		metrics.RecordIssue(issue.Kind)
		if alerts != nil {
			alerts.IssueRaised(issue)
		}
	}
	*fx = effects{}
}

func clockOrReal(c clockwork.Clock) clockwork.Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
