// Package testutil provides an in-memory transactional store for service tests.
// Transactions are serialized; Rollback without Commit restores the state seen at Begin.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yeoskin/backend/internal/ledger"
	"github.com/yeoskin/backend/internal/models"
	"github.com/yeoskin/backend/internal/repository"
)

type link struct {
	itemID       uuid.UUID
	commissionID uuid.UUID
	amount       int64
	active       bool
}

type data struct {
	creators    map[uuid.UUID]models.Creator
	tiers       []models.CommissionTier
	commissions map[uuid.UUID]models.Commission
	ledger      []models.LedgerEntry
	batches     map[uuid.UUID]models.PayoutBatch
	items       map[uuid.UUID]models.PayoutItem
	links       []link
	issues      map[uuid.UUID]models.ReconciliationIssue
}

func newData() data {
	return data{
		creators:    make(map[uuid.UUID]models.Creator),
		commissions: make(map[uuid.UUID]models.Commission),
		batches:     make(map[uuid.UUID]models.PayoutBatch),
		items:       make(map[uuid.UUID]models.PayoutItem),
		issues:      make(map[uuid.UUID]models.ReconciliationIssue),
	}
}

func (d data) clone() data {
	c := newData()
	for k, v := range d.creators {
		c.creators[k] = v
	}
	c.tiers = append([]models.CommissionTier(nil), d.tiers...)
	for k, v := range d.commissions {
		c.commissions[k] = v
	}
	c.ledger = append([]models.LedgerEntry(nil), d.ledger...)
	for k, v := range d.batches {
		c.batches[k] = v
	}
	for k, v := range d.items {
		c.items[k] = v
	}
	c.links = append([]link(nil), d.links...)
	for k, v := range d.issues {
		c.issues[k] = v
	}
	return c
}

// Store is the shared state behind every fake repository.
type Store struct {
	txMu sync.Mutex // held for the lifetime of a transaction
	mu   sync.Mutex
	d    data
	now  func() time.Time

	failures map[string]error
	begins   int
	commits  int
}

// NewStore returns an empty store. now stamps created_at columns; nil uses time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{d: newData(), now: now, failures: make(map[string]error)}
}

// FailOn makes the named operation return err until cleared with a nil err.
// Names: "ledger.append", "commission.create", "commission.update", "item.create", "item.update", "issue.create".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	return s.failures[op]
}

// Commits returns the number of committed transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Begin starts a transaction. It blocks while another transaction is open.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.Lock()
	snap := s.d.clone()
	s.begins++
	s.mu.Unlock()
	return &Tx{s: s, snapshot: snap}, nil
}

// autocommit runs a pool-level write as its own transaction.
func (s *Store) autocommit(fn func() error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Store) read(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Tx satisfies pgx.Tx; only Commit and Rollback do anything.
type Tx struct {
	s        *Store
	snapshot data
	done     bool
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions are not supported")
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.mu.Lock()
	t.s.commits++
	t.s.mu.Unlock()
	t.s.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.mu.Lock()
	t.s.d = t.snapshot
	t.s.mu.Unlock()
	t.s.txMu.Unlock()
	return nil
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *Tx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// Seeding and inspection helpers
// ---------------------------------------------------------------------------

// SeedTiers replaces the tier table.
func (s *Store) SeedTiers(tiers ...*models.CommissionTier) {
	s.read(func() {
		s.d.tiers = nil
		for _, t := range tiers {
			cp := *t
			if cp.ID == uuid.Nil {
				cp.ID = uuid.New()
			}
			s.d.tiers = append(s.d.tiers, cp)
		}
	})
}

// SeedCreator inserts a creator as-is.
func (s *Store) SeedCreator(c *models.Creator) {
	s.read(func() { s.d.creators[c.ID] = *c })
}

// SeedCommission inserts a commission as-is, without a ledger entry.
func (s *Store) SeedCommission(c *models.Commission) {
	s.read(func() { s.d.commissions[c.ID] = *c })
}

// LedgerEntries returns a copy of the ledger in append order.
func (s *Store) LedgerEntries() []*models.LedgerEntry {
	var out []*models.LedgerEntry
	s.read(func() {
		for i := range s.d.ledger {
			e := s.d.ledger[i]
			out = append(out, &e)
		}
	})
	return out
}

// AllCommissions returns every commission.
func (s *Store) AllCommissions() []*models.Commission {
	var out []*models.Commission
	s.read(func() {
		for _, c := range s.d.commissions {
			c := c
			out = append(out, &c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AllItems returns every payout item.
func (s *Store) AllItems() []*models.PayoutItem {
	var out []*models.PayoutItem
	s.read(func() {
		for _, it := range s.d.items {
			out = append(out, s.itemWithLinks(it))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveLinks returns, per commission, how many active payout items claim it.
func (s *Store) ActiveLinks() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	s.read(func() {
		for _, l := range s.d.links {
			if l.active {
				out[l.commissionID]++
			}
		}
	})
	return out
}

// AllIssues returns every reconciliation issue.
func (s *Store) AllIssues() []*models.ReconciliationIssue {
	var out []*models.ReconciliationIssue
	s.read(func() {
		for _, i := range s.d.issues {
			i := i
			out = append(out, &i)
		}
	})
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Balance sums the creator's ledger.
func (s *Store) Balance(creatorID uuid.UUID) int64 {
	var sum int64
	s.read(func() {
		for _, e := range s.d.ledger {
			if e.CreatorID == creatorID {
				sum += e.AmountCents
			}
		}
	})
	return sum
}

// ---------------------------------------------------------------------------
// Repository views
// ---------------------------------------------------------------------------

func (s *Store) Creators() *Creators       { return &Creators{s} }
func (s *Store) Tiers() *Tiers             { return &Tiers{s} }
func (s *Store) Commissions() *Commissions { return &Commissions{s} }
func (s *Store) Ledger() *Ledger           { return &Ledger{s} }
func (s *Store) Payouts() *Payouts         { return &Payouts{s} }
func (s *Store) Issues() *Issues           { return &Issues{s} }

// --- creators ---

type Creators struct{ s *Store }

func (r *Creators) Create(_ context.Context, c *models.Creator) error {
	return r.s.autocommit(func() error {
		for _, existing := range r.s.d.creators {
			if existing.DiscountCode == c.DiscountCode {
				return fmt.Errorf("%w: discount code %q already in use", models.ErrConflict, c.DiscountCode)
			}
		}
		c.CreatedAt = r.s.now()
		c.UpdatedAt = c.CreatedAt
		r.s.d.creators[c.ID] = *c
		return nil
	})
}

func (r *Creators) get(id uuid.UUID) (*models.Creator, error) {
	var out *models.Creator
	r.s.read(func() {
		if c, ok := r.s.d.creators[id]; ok {
			out = &c
		}
	})
	if out == nil {
		return nil, models.ErrNotFound
	}
	return out, nil
}

func (r *Creators) GetByID(_ context.Context, id uuid.UUID) (*models.Creator, error) {
	return r.get(id)
}

func (r *Creators) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Creator, error) {
	return r.get(id)
}

func (r *Creators) List(_ context.Context, activeOnly bool) ([]*models.Creator, error) {
	var out []*models.Creator
	r.s.read(func() {
		for _, c := range r.s.d.creators {
			if activeOnly && !c.Active {
				continue
			}
			c := c
			out = append(out, &c)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Creators) UpdateTx(_ context.Context, _ pgx.Tx, c *models.Creator) error {
	var err error
	r.s.read(func() {
		if _, ok := r.s.d.creators[c.ID]; !ok {
			err = models.ErrNotFound
			return
		}
		c.UpdatedAt = r.s.now()
		r.s.d.creators[c.ID] = *c
	})
	return err
}

func (r *Creators) SetBankVerifiedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, verified bool) error {
	r.s.read(func() {
		if c, ok := r.s.d.creators[id]; ok {
			c.BankVerified = verified
			c.UpdatedAt = r.s.now()
			r.s.d.creators[id] = c
		}
	})
	return nil
}

// --- tiers ---

type Tiers struct{ s *Store }

func (r *Tiers) List(context.Context) ([]*models.CommissionTier, error) {
	var out []*models.CommissionTier
	r.s.read(func() {
		for _, t := range r.s.d.tiers {
			t := t
			out = append(out, &t)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].MinMonthlyRevenueCents < out[j].MinMonthlyRevenueCents })
	return out, nil
}

// --- commissions ---

type Commissions struct{ s *Store }

func (r *Commissions) CreateTx(_ context.Context, _ pgx.Tx, c *models.Commission) error {
	var err error
	r.s.read(func() {
		if err = r.s.fail("commission.create"); err != nil {
			return
		}
		for _, existing := range r.s.d.commissions {
			if existing.CreatorID == c.CreatorID && existing.OrderID == c.OrderID && existing.Variant == c.Variant {
				err = models.ErrDuplicateEvent
				return
			}
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = c.CreatedAt
		}
		r.s.d.commissions[c.ID] = *c
	})
	return err
}

func (r *Commissions) ExistsTx(_ context.Context, _ pgx.Tx, creatorID uuid.UUID, orderID, variant string) (bool, error) {
	found := false
	r.s.read(func() {
		for _, c := range r.s.d.commissions {
			if c.CreatorID == creatorID && c.OrderID == orderID && c.Variant == variant {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (r *Commissions) get(id uuid.UUID) (*models.Commission, error) {
	var out *models.Commission
	r.s.read(func() {
		if c, ok := r.s.d.commissions[id]; ok {
			out = &c
		}
	})
	if out == nil {
		return nil, models.ErrNotFound
	}
	return out, nil
}

func (r *Commissions) GetByID(_ context.Context, id uuid.UUID) (*models.Commission, error) {
	return r.get(id)
}

func (r *Commissions) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Commission, error) {
	return r.get(id)
}

func (r *Commissions) filter(keep func(models.Commission) bool) []*models.Commission {
	var out []*models.Commission
	r.s.read(func() {
		for _, c := range r.s.d.commissions {
			if keep(c) {
				c := c
				out = append(out, &c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockAt.Equal(out[j].UnlockAt) {
			return out[i].UnlockAt.Before(out[j].UnlockAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *Commissions) OrderCreatorsTx(_ context.Context, _ pgx.Tx, orderID string) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, c := range r.filter(func(c models.Commission) bool { return c.OrderID == orderID }) {
		if !seen[c.CreatorID] {
			seen[c.CreatorID] = true
			ids = append(ids, c.CreatorID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (r *Commissions) ListByOrderForUpdate(_ context.Context, _ pgx.Tx, orderID string) ([]*models.Commission, error) {
	return r.filter(func(c models.Commission) bool { return c.OrderID == orderID }), nil
}

func (r *Commissions) ListByIDsForUpdate(_ context.Context, _ pgx.Tx, ids []uuid.UUID) ([]*models.Commission, error) {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return r.filter(func(c models.Commission) bool { return want[c.ID] }), nil
}

func (r *Commissions) SelectPayableForUpdate(_ context.Context, _ pgx.Tx, creatorID uuid.UUID) ([]*models.Commission, error) {
	return r.filter(func(c models.Commission) bool {
		return c.CreatorID == creatorID && c.Status == models.CommissionPayable && c.PayoutItemID == nil
	}), nil
}

func (r *Commissions) UpdateTx(_ context.Context, _ pgx.Tx, c *models.Commission) error {
	var err error
	r.s.read(func() {
		if err = r.s.fail("commission.update"); err != nil {
			return
		}
		if _, ok := r.s.d.commissions[c.ID]; !ok {
			err = models.ErrNotFound
			return
		}
		r.s.d.commissions[c.ID] = *c
	})
	return err
}

func (r *Commissions) PromoteUnlocked(_ context.Context, now time.Time) ([]*models.Commission, error) {
	var out []*models.Commission
	err := r.s.autocommit(func() error {
		for id, c := range r.s.d.commissions {
			if (c.Status == models.CommissionPending || c.Status == models.CommissionAdjusted) && !c.UnlockAt.After(now) {
				c.Status = models.CommissionPayable
				c.UpdatedAt = now
				r.s.d.commissions[id] = c
				c := c
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}

func (r *Commissions) ListByCreator(_ context.Context, creatorID uuid.UUID) ([]*models.Commission, error) {
	out := r.filter(func(c models.Commission) bool { return c.CreatorID == creatorID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Commissions) RevenueBetween(_ context.Context, creatorID uuid.UUID, from, to time.Time) (int64, error) {
	var sum int64
	for _, c := range r.filter(func(c models.Commission) bool { return c.CreatorID == creatorID }) {
		if c.Status != models.CommissionCanceled && !c.CreatedAt.Before(from) && c.CreatedAt.Before(to) {
			sum += c.AmountCents
		}
	}
	return sum, nil
}

func (r *Commissions) RevenueBetweenTx(ctx context.Context, _ pgx.Tx, creatorID uuid.UUID, from, to time.Time) (int64, error) {
	return r.RevenueBetween(ctx, creatorID, from, to)
}

func (r *Commissions) PayableTotals(context.Context) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64)
	for _, c := range r.filter(func(c models.Commission) bool {
		return c.Status == models.CommissionPayable && c.PayoutItemID == nil
	}) {
		out[c.CreatorID] += c.AmountCents
	}
	return out, nil
}

// --- ledger ---

type Ledger struct{ s *Store }

var _ ledger.Store = (*Ledger)(nil)

func (r *Ledger) AppendTx(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	var err error
	r.s.read(func() {
		if err = r.s.fail("ledger.append"); err != nil {
			return
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = r.s.now()
		}
		r.s.d.ledger = append(r.s.d.ledger, *e)
	})
	return err
}

func (r *Ledger) ListByCreator(_ context.Context, creatorID uuid.UUID, f ledger.Filter) ([]*models.LedgerEntry, error) {
	var out []*models.LedgerEntry
	r.s.read(func() {
		for i := len(r.s.d.ledger) - 1; i >= 0; i-- {
			e := r.s.d.ledger[i]
			if e.CreatorID == creatorID && (f.Type == "" || e.Type == f.Type) {
				out = append(out, &e)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (r *Ledger) SumByCreator(_ context.Context, creatorID uuid.UUID) (int64, error) {
	return r.s.Balance(creatorID), nil
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

// --- payouts ---

type Payouts struct{ s *Store }

func (r *Payouts) CreateBatch(_ context.Context, b *models.PayoutBatch) error {
	return r.s.autocommit(func() error {
		b.CreatedAt = r.s.now()
		b.UpdatedAt = b.CreatedAt
		r.s.d.batches[b.ID] = *b
		return nil
	})
}

func (r *Payouts) CreateBatchTx(_ context.Context, _ pgx.Tx, b *models.PayoutBatch) error {
	r.s.read(func() {
		b.CreatedAt = r.s.now()
		b.UpdatedAt = b.CreatedAt
		r.s.d.batches[b.ID] = *b
	})
	return nil
}

func (r *Payouts) GetBatch(_ context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	var out *models.PayoutBatch
	r.s.read(func() {
		if b, ok := r.s.d.batches[id]; ok {
			out = &b
		}
	})
	if out == nil {
		return nil, models.ErrNotFound
	}
	return out, nil
}

func (r *Payouts) GetBatchForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.PayoutBatch, error) {
	return r.GetBatch(ctx, id)
}

func (r *Payouts) ListBatches(_ context.Context, limit, offset int) ([]*models.PayoutBatch, error) {
	var out []*models.PayoutBatch
	r.s.read(func() {
		for _, b := range r.s.d.batches {
			b := b
			out = append(out, &b)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *Payouts) UpdateBatchStatusTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status string) error {
	var err error
	r.s.read(func() {
		b, ok := r.s.d.batches[id]
		if !ok {
			err = models.ErrNotFound
			return
		}
		b.Status = status
		b.UpdatedAt = r.s.now()
		r.s.d.batches[id] = b
	})
	return err
}

func (r *Payouts) ListBatchStatusesTx(_ context.Context, _ pgx.Tx, batchID uuid.UUID) ([]string, error) {
	var out []string
	r.s.read(func() {
		for _, it := range r.s.d.items {
			if it.BatchID == batchID {
				out = append(out, it.Status)
			}
		}
	})
	return out, nil
}

func (r *Payouts) CreateItemTx(_ context.Context, _ pgx.Tx, item *models.PayoutItem, commissions []*models.Commission) error {
	var err error
	r.s.read(func() {
		if err = r.s.fail("item.create"); err != nil {
			return
		}
		for _, c := range commissions {
			for _, l := range r.s.d.links {
				if l.active && l.commissionID == c.ID {
					err = models.ErrInvariant
					return
				}
			}
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = r.s.now()
		}
		item.UpdatedAt = item.CreatedAt
		stored := *item
		stored.CommissionIDs = nil
		r.s.d.items[item.ID] = stored
		for _, c := range commissions {
			r.s.d.links = append(r.s.d.links, link{itemID: item.ID, commissionID: c.ID, amount: c.AmountCents, active: true})
		}
	})
	return err
}

// itemWithLinks must be called with s.mu held.
func (s *Store) itemWithLinks(it models.PayoutItem) *models.PayoutItem {
	var ids []uuid.UUID
	for _, l := range s.d.links {
		if l.itemID == it.ID {
			ids = append(ids, l.commissionID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	it.CommissionIDs = ids
	return &it
}

func (r *Payouts) findItem(match func(models.PayoutItem) bool) (*models.PayoutItem, error) {
	var out *models.PayoutItem
	r.s.read(func() {
		for _, it := range r.s.d.items {
			if match(it) {
				out = r.s.itemWithLinks(it)
				return
			}
		}
	})
	if out == nil {
		return nil, models.ErrNotFound
	}
	return out, nil
}

func (r *Payouts) GetItem(_ context.Context, id uuid.UUID) (*models.PayoutItem, error) {
	return r.findItem(func(it models.PayoutItem) bool { return it.ID == id })
}

func (r *Payouts) GetItemForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.PayoutItem, error) {
	return r.GetItem(ctx, id)
}

func (r *Payouts) GetItemByTransferID(_ context.Context, transferID string) (*models.PayoutItem, error) {
	if transferID == "" {
		return nil, models.ErrNotFound
	}
	return r.findItem(func(it models.PayoutItem) bool { return it.ProviderTransferID == transferID })
}

func (r *Payouts) UpdateItemTx(_ context.Context, _ pgx.Tx, it *models.PayoutItem) error {
	var err error
	r.s.read(func() {
		if err = r.s.fail("item.update"); err != nil {
			return
		}
		if _, ok := r.s.d.items[it.ID]; !ok {
			err = models.ErrNotFound
			return
		}
		stored := *it
		stored.CommissionIDs = nil
		r.s.d.items[it.ID] = stored
	})
	return err
}

func (r *Payouts) DeactivateLinksTx(_ context.Context, _ pgx.Tx, itemID uuid.UUID) error {
	r.s.read(func() {
		for i := range r.s.d.links {
			if r.s.d.links[i].itemID == itemID {
				r.s.d.links[i].active = false
			}
		}
	})
	return nil
}

func (r *Payouts) ListItems(_ context.Context, f repository.ItemFilter) ([]*models.PayoutItem, error) {
	var out []*models.PayoutItem
	r.s.read(func() {
		for _, it := range r.s.d.items {
			if f.BatchID != nil && it.BatchID != *f.BatchID {
				continue
			}
			if f.CreatorID != nil && it.CreatorID != *f.CreatorID {
				continue
			}
			if f.Status != "" && it.Status != f.Status {
				continue
			}
			out = append(out, r.s.itemWithLinks(it))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

func (r *Payouts) ListOpenItems(_ context.Context, before time.Time) ([]*models.PayoutItem, error) {
	var out []*models.PayoutItem
	r.s.read(func() {
		for _, it := range r.s.d.items {
			if (it.Status == models.ItemPending || it.Status == models.ItemProcessing) && it.UpdatedAt.Before(before) {
				out = append(out, r.s.itemWithLinks(it))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// --- issues ---

type Issues struct{ s *Store }

func (r *Issues) CreateTx(_ context.Context, _ pgx.Tx, i *models.ReconciliationIssue) error {
	var err error
	r.s.read(func() {
		if err = r.s.fail("issue.create"); err != nil {
			return
		}
		r.s.d.issues[i.ID] = *i
	})
	return err
}

func (r *Issues) HasOpenTx(_ context.Context, _ pgx.Tx, kind string, ref uuid.UUID) (bool, error) {
	found := false
	r.s.read(func() {
		for _, i := range r.s.d.issues {
			if i.Kind != kind || i.Status != models.IssueOpen {
				continue
			}
			if (i.CommissionID != nil && *i.CommissionID == ref) || (i.PayoutItemID != nil && *i.PayoutItemID == ref) {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (r *Issues) List(_ context.Context, status string, limit, offset int) ([]*models.ReconciliationIssue, error) {
	var out []*models.ReconciliationIssue
	r.s.read(func() {
		for _, i := range r.s.d.issues {
			if status == "" || i.Status == status {
				i := i
				out = append(out, &i)
			}
		}
	})
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *Issues) Resolve(_ context.Context, id uuid.UUID, resolution string, at time.Time) (*models.ReconciliationIssue, error) {
	var out *models.ReconciliationIssue
	err := r.s.autocommit(func() error {
		i, ok := r.s.d.issues[id]
		if !ok {
			return models.ErrNotFound
		}
		if i.Status != models.IssueOpen {
			return models.ErrInvalidTransition
		}
		i.Status = models.IssueResolved
		i.Resolution = resolution
		i.ResolvedAt = &at
		r.s.d.issues[id] = i
		out = &i
		return nil
	})
	return out, err
}
