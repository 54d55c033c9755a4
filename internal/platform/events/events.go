// Package events publishes domain events such as a finalized intake or a
// reviewed claim to an external broker. Publishing is best effort: callers
// log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	IntakeCheckpointed = "intake.checkpointed"
	IntakeFinalized    = "intake.finalized"
	ClaimReviewed      = "claim.reviewed"
	DocumentUploaded   = "document.uploaded"
)

// Event is one domain event. Key groups related events (the child id) so
// brokers keep them ordered.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// New stamps an event with an id and the current time.
func New(eventType, key string, payload any) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

func (e Event) encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.Type, err)
	}
	return data, nil
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info().
		Str("event_id", e.ID).
		Str("event_type", e.Type).
		Str("key", e.Key).
		Interface("payload", e.Payload).
		Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher records events in order. Tests use it to assert on
// emitted events.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (p *MemoryPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of the recorded events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Types returns the recorded event types in order.
func (p *MemoryPublisher) Types() []string {
	var out []string
	for _, e := range p.Events() {
		out = append(out, e.Type)
	}
	return out
}

// Emit publishes e and logs a warning on failure.
func Emit(ctx context.Context, pub Publisher, logger zerolog.Logger, e Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, e); err != nil {
		logger.Warn().Err(err).Str("event_type", e.Type).Str("key", e.Key).Msg("event publish failed")
	}
}
