package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yeoskin/backend/internal/models"
)

// Sandbox is an in-memory provider for local runs and tests. Transfers start as sent and
// settle after SettleAfter (when set) or through Settle. Failures can be scripted.
type Sandbox struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	seq         int
	byID        map[string]*sandboxTransfer
	byKey       map[string]string
	initiateErr []error
	dropped     int
	lookupErr   error
	getErr      error

	FeeCents    int64
	SettleAfter time.Duration
	calls       map[string]int
}

type sandboxTransfer struct {
	Transfer
	createdAt time.Time
}

func NewSandbox(clock clockwork.Clock) *Sandbox {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sandbox{
		clock: clock,
		byID:  make(map[string]*sandboxTransfer),
		byKey: make(map[string]string),
		calls: make(map[string]int),
	}
}

var _ Client = (*Sandbox)(nil)

// FailInitiate queues errors returned by the next Initiate calls, one per call.
func (s *Sandbox) FailInitiate(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiateErr = append(s.initiateErr, errs...)
}

// DropResponses makes the next n Initiate calls create the transfer but report a timeout.
func (s *Sandbox) DropResponses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = n
}

// FailLookups makes Lookup return err until called again with nil.
func (s *Sandbox) FailLookups(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupErr = err
}

// FailGets makes Get return err until called again with nil.
func (s *Sandbox) FailGets(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// Calls returns how many times op ("initiate", "get", "lookup") was called.
func (s *Sandbox) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Sandbox) Initiate(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["initiate"]++
	if len(s.initiateErr) > 0 {
		err := s.initiateErr[0]
		s.initiateErr = s.initiateErr[1:]
		return nil, err
	}
	if req.AmountCents <= 0 {
		return nil, &models.ProviderError{Class: models.ProviderPermanent, Code: "invalid_amount", Message: "amount must be positive", HTTPStatus: 422}
	}
	if req.Destination == "" {
		return nil, &models.ProviderError{Class: models.ProviderPermanent, Code: "invalid_destination", Message: "destination is required", HTTPStatus: 422}
	}
	if id, ok := s.byKey[req.IdempotencyKey]; ok {
		t := s.byID[id].Transfer
		return &t, nil
	}
	s.seq++
	t := &sandboxTransfer{
		Transfer: Transfer{
			ID:             fmt.Sprintf("sbx_%06d", s.seq),
			Status:         StatusSent,
			AmountCents:    req.AmountCents,
			Currency:       req.Currency,
			IdempotencyKey: req.IdempotencyKey,
		},
		createdAt: s.clock.Now(),
	}
	s.byID[t.ID] = t
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = t.ID
	}
	if s.dropped > 0 {
		s.dropped--
		return nil, &models.ProviderError{Class: models.ProviderTransient, Code: "timeout", Message: "response lost"}
	}
	out := t.Transfer
	return &out, nil
}

func (s *Sandbox) Get(ctx context.Context, transferID string) (*Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get"]++
	if s.getErr != nil {
		return nil, s.getErr
	}
	t, ok := s.byID[transferID]
	if !ok {
		return nil, ErrTransferNotFound
	}
	s.autoSettle(t)
	out := t.Transfer
	return &out, nil
}

func (s *Sandbox) Lookup(ctx context.Context, idempotencyKey string) (*Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["lookup"]++
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	id, ok := s.byKey[idempotencyKey]
	if !ok {
		return nil, ErrTransferNotFound
	}
	t := s.byID[id]
	s.autoSettle(t)
	out := t.Transfer
	return &out, nil
}

// autoSettle must be called with s.mu held.
func (s *Sandbox) autoSettle(t *sandboxTransfer) {
	if s.SettleAfter <= 0 || t.Status != StatusSent {
		return
	}
	if s.clock.Since(t.createdAt) >= s.SettleAfter {
		t.Status = StatusCompleted
		t.FeeCents = s.FeeCents
	}
}

// Settle moves a transfer to completed or failed, as the provider's back office would.
func (s *Sandbox) Settle(transferID, status string, feeCents int64, permanent bool) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("settle %s: unsupported status %q", transferID, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[transferID]
	if !ok {
		return ErrTransferNotFound
	}
	t.Status = status
	t.FeeCents = feeCents
	t.Permanent = permanent
	if status == StatusFailed {
		t.FailureCode = "transfer_returned"
		t.FailureMessage = "transfer returned by the receiving bank"
	}
	return nil
}

// Transfers returns a snapshot of every transfer created so far.
func (s *Sandbox) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transfer, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t.Transfer)
	}
	return out
}
