// Package events carries change notifications from the write side to read-side consumers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	KindLedgerAppended    = "ledger.appended"
	KindCommissionStatus  = "commission.status"
	KindPayoutItemStatus  = "payout_item.status"
	KindPayoutBatchStatus = "payout_batch.status"
	KindCreatorUpdated    = "creator.updated"
)

// Event describes a committed change. Ref is the id of the changed row.
type Event struct {
	Kind      string    `json:"kind"`
	CreatorID uuid.UUID `json:"creator_id"`
	Ref       uuid.UUID `json:"ref"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher is implemented by anything that fans events out. Publish must not block writers.
type Publisher interface {
	Publish(events ...Event)
}

// Bus is an in-process Publisher with synchronous subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

var _ Publisher = (*Bus)(nil)

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(events ...Event) {
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()
	for _, e := range events {
		for _, fn := range subs {
			fn(e)
		}
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(...Event) {}

// Pending collects events produced inside a transaction so they can be published after commit.
type Pending struct {
	events []Event
}

func (p *Pending) Add(e Event) {
	p.events = append(p.events, e)
}

// Flush publishes the collected events and clears the buffer.
func (p *Pending) Flush(pub Publisher) {
	if pub == nil || len(p.events) == 0 {
		return
	}
	pub.Publish(p.events...)
	p.events = nil
}
