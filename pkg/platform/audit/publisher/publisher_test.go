package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "healthcred/pkg/platform/audit"
	"healthcred/pkg/platform/audit/outbox"
)

type failingStore struct {
	outbox.Store
	err error
}

func (s *failingStore) Append(context.Context, *outbox.Entry) error {
	return s.err
}

func TestEmitAppendsOutboxEntry(t *testing.T) {
	store := outbox.NewMemoryStore()
	pub := NewPublisher(store)

	err := pub.Emit(context.Background(), audit.Event{
		EntityID:  "org-1",
		Action:    audit.ActionBatchCompleted,
		Reference: "batch-9",
	})
	require.NoError(t, err)

	entries, err := store.FetchUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "batch", entries[0].AggregateType)
	assert.Equal(t, "batch-9", entries[0].AggregateID)
	assert.Equal(t, audit.ActionBatchCompleted, entries[0].EventType)

	var decoded audit.Event
	require.NoError(t, json.Unmarshal(entries[0].Payload, &decoded))
	assert.Equal(t, "org-1", decoded.EntityID)
}

func TestEmitSetsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := outbox.NewMemoryStore()
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))

	require.NoError(t, pub.Emit(context.Background(), audit.Event{EntityID: "org-1", Action: audit.ActionSubmissionRejected}))

	entries, err := store.FetchUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fixed, entries[0].CreatedAt)
	assert.Equal(t, "org-1", entries[0].AggregateID, "entity id is the fallback aggregate id")
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
}

func TestEmitPropagatesStoreError(t *testing.T) {
	pub := NewPublisher(&failingStore{err: errors.New("db down")})
	err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionSubmissionPersisted})
	require.Error(t, err)
}

func TestEmitDocument(t *testing.T) {
	store := outbox.NewMemoryStore()
	pub := NewPublisher(store)

	doc := map[string]any{"batchId": "batch-3", "successCount": 4}
	require.NoError(t, pub.EmitDocument(context.Background(), "batch", "batch-3", "batch_report", doc))

	entries, err := store.FetchUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "batch_report", entries[0].EventType)
	assert.JSONEq(t, `{"batchId":"batch-3","successCount":4}`, string(entries[0].Payload))

	failing := NewPublisher(&failingStore{err: errors.New("db down")})
	assert.Error(t, failing.EmitDocument(context.Background(), "batch", "batch-3", "batch_report", doc))
}
