// Package publisher turns audit events into outbox entries.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	audit "healthcred/pkg/platform/audit"
	"healthcred/pkg/platform/audit/outbox"
)

// Publisher appends audit events to the outbox. The outbox worker later
// publishes them to Kafka.
type Publisher struct {
	store outbox.Store
	now   func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithClock overrides the clock used for missing event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store outbox.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit serializes event and appends it to the outbox.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	aggregateID := event.Reference
	if aggregateID == "" {
		aggregateID = event.EntityID
	}
	entry := outbox.NewEntry(audit.AggregateType(event.Action), aggregateID, event.Action, payload, event.Timestamp)
	if err := p.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit event to outbox: %w", err)
	}
	return nil
}

// EmitDocument appends an arbitrary JSON document, such as a batch report,
// under the given aggregate.
func (p *Publisher) EmitDocument(ctx context.Context, aggregateType, aggregateID, eventType string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	entry := outbox.NewEntry(aggregateType, aggregateID, eventType, payload, p.now())
	if err := p.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append %s to outbox: %w", eventType, err)
	}
	return nil
}
