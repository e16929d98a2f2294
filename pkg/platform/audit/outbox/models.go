package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one pending event in the outbox table.
type Entry struct {
	ID            uuid.UUID
	AggregateType string // "submission", "batch" or "bundle"
	AggregateID   string // submission id or batch id
	EventType     string // audit action, e.g. "submission_persisted"
	Payload       []byte // JSON-encoded audit.Event
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil until published to Kafka
}

// IsPending returns true if this entry has not been published yet.
func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry creates an outbox entry with a generated id.
func NewEntry(aggregateType, aggregateID, eventType string, payload []byte, createdAt time.Time) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     createdAt,
	}
}
