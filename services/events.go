package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an event on the bus.
type EventType string

const (
	// EventTrigger carries a TriggerEvent from the host into coinsync.
	EventTrigger EventType = "trigger"
	// EventCoinsEarned carries a CoinsEarned out to the host.
	EventCoinsEarned EventType = "coins_earned"
)

// Event is one message on the bus.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	Payload    any
}

// NewEvent stamps a payload with an id and time.
func NewEvent(typ EventType, payload any) Event {
	return Event{ID: uuid.NewString(), Type: typ, OccurredAt: time.Now().UTC(), Payload: payload}
}

// CoinsEarned is published after a successful award.
type CoinsEarned struct {
	UserID    uint `json:"user_id"`
	ContextID uint `json:"context_id"`
	Amount    int  `json:"amount"`
}

// Handler consumes events. Handlers run synchronously on the publisher's goroutine.
type Handler func(ctx context.Context, ev Event)

// EventBus is a small in-process pub/sub.
type EventBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[EventType]map[int]Handler
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventType]map[int]Handler)}
}

// Subscribe registers h for typ and returns a function that removes it.
func (b *EventBus) Subscribe(typ EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[typ] == nil {
		b.handlers[typ] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.handlers[typ][id] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers[typ], id)
		b.mu.Unlock()
	}
}

// Publish delivers ev to every handler of its type, in subscription order.
func (b *EventBus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := b.handlers[ev.Type]
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	hs := make([]Handler, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		hs = append(hs, subs[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ctx, ev)
	}
}
