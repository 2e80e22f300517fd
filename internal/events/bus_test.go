package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBus_SubscribeAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	var got []Event
	unsub := bus.Subscribe(func(e Event) { got = append(got, e) })

	creator := uuid.New()
	bus.Publish(Event{Kind: KindLedgerAppended, CreatorID: creator})
	assert.Len(t, got, 1)
	assert.Equal(t, creator, got[0].CreatorID)

	unsub()
	bus.Publish(Event{Kind: KindLedgerAppended, CreatorID: creator})
	assert.Len(t, got, 1)
}

func TestPending_FlushOnlyOnce(t *testing.T) {
	bus := NewBus()
	n := 0
	bus.Subscribe(func(Event) { n++ })

	var p Pending
	p.Add(Event{Kind: KindCommissionStatus})
	p.Add(Event{Kind: KindLedgerAppended})
	p.Flush(bus)
	p.Flush(bus)
	assert.Equal(t, 2, n)
}
