// Package events carries structured stress-run events to the harness.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes events.
type EventType string

const (
	StressStarted     EventType = "stress.started"
	StressFinished    EventType = "stress.finished"
	StressFailed      EventType = "stress.failed"
	StressSoftTimeout EventType = "stress.soft_timeout"
)

// Severity of an event.
type Severity string

const (
	SeverityNormal   Severity = "NORMAL"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event is one record in the run's event stream.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	Node      string        `json:"node"`
	StressCmd string        `json:"stress_cmd"`
	LogFile   string        `json:"log_file"`
	Duration  time.Duration `json:"duration,omitempty"`
	Errors    []string      `json:"errors,omitempty"`
}

// Handler processes events.
type Handler func(ctx context.Context, event Event) error

// Bus is where components publish and the harness subscribes.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler Handler)
}

// SimpleBus is an in-memory Bus keeping a bounded history.
type SimpleBus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]Handler
	events    []Event
	maxEvents int
}

// NewSimpleBus creates an in-memory bus.
func NewSimpleBus() *SimpleBus {
	return &SimpleBus{
		handlers:  make(map[EventType][]Handler),
		maxEvents: 10000,
	}
}

// Publish appends the event to history and fans it out to subscribers.
func (b *SimpleBus) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		b.events = b.events[len(b.events)-b.maxEvents:]
	}
	handlers := append([]Handler(nil), b.handlers[event.Type]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for one event type.
func (b *SimpleBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// History returns a copy of the retained events.
func (b *SimpleBus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.events...)
}
