// Package eventbus is an in-memory publish/subscribe channel the execution
// engine uses to announce run and node lifecycle transitions. It is a
// near-direct port of a conventional internal/event/bus.go, renamed from
// flow-run terminology to this package's run/node-run vocabulary.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string
	RunID     string
	NodeRunID string
	NodeID    string
	Data      map[string]any
	Timestamp int64
}

// Subscriber receives published events.
type Subscriber func(event *Event)

// Bus is an in-memory event bus for publishing events to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber // channel -> subscribers
	logger      *zap.SugaredLogger
}

// New constructs an empty Bus.
func New(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
		logger:      logger,
	}
}

// Subscribe registers sub for channel, which is either "*" for every event
// or "run:<id>" for one run's events.
func (b *Bus) Subscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], sub)
}

// Unsubscribe removes every subscriber registered for channel.
func (b *Bus) Unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, channel)
}

// Publish notifies wildcard subscribers and, when evt.RunID is set, the
// subscribers of that run's specific channel.
func (b *Bus) Publish(evt *Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.logger != nil {
		b.logger.Debugw("publishing event", "type", evt.Type, "run_id", evt.RunID, "node_run_id", evt.NodeRunID)
	}

	for _, sub := range b.subscribers["*"] {
		sub(evt)
	}

	if evt.RunID != "" {
		channel := "run:" + evt.RunID
		for _, sub := range b.subscribers[channel] {
			sub(evt)
		}
	}
}
