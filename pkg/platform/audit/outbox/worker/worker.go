// Package worker relays outbox entries to Kafka. Audit markers and batch
// reports are written to the outbox in the same step that produces them;
// this worker publishes them afterwards and marks them processed.
package worker

import (
	"context"
	"log/slog"
	"time"

	"healthcred/internal/platform/kafka/producer"
	"healthcred/pkg/platform/audit/outbox"
	"healthcred/pkg/platform/audit/outbox/metrics"
)

const drainTimeout = 10 * time.Second

type Worker struct {
	store        outbox.Store
	publisher    producer.Publisher
	topic        string
	routes       map[string]string
	batchSize    int
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Worker)

// WithTopic sets the default topic.
func WithTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

// WithEventTopic sends entries of one event type to their own topic.
func WithEventTopic(eventType, topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.routes[eventType] = topic
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func New(store outbox.Store, pub producer.Publisher, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		publisher:    pub,
		topic:        "healthcred.events",
		routes:       map[string]string{},
		batchSize:    100,
		pollInterval: time.Second,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled, then drains what is left within
// drainTimeout. It always returns nil.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case <-ticker.C:
			w.Poll(ctx)
			w.refreshPending(ctx)
		}
	}
}

// Poll publishes one batch of pending entries, oldest first, and returns how
// many were published and marked. Failed entries stay pending.
func (w *Worker) Poll(ctx context.Context) int {
	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to fetch outbox entries", "error", err)
		w.failed("fetch")
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	if w.metrics != nil {
		w.metrics.ObservePoll(len(entries))
		w.metrics.SetOldestPending(w.now().Sub(entries[0].CreatedAt).Seconds())
	}

	published := 0
	for _, entry := range entries {
		if err := w.publish(ctx, entry); err != nil {
			w.logger.ErrorContext(ctx, "failed to publish outbox entry",
				"outbox_id", entry.ID,
				"event_type", entry.EventType,
				"aggregate_id", entry.AggregateID,
				"error", err,
			)
			w.failed(entry.EventType)
			continue
		}
		// An unmarked entry is published again on the next poll; consumers
		// dedupe on the outbox_id header.
		if err := w.store.MarkProcessed(ctx, entry.ID, w.now()); err != nil {
			w.logger.ErrorContext(ctx, "failed to mark outbox entry processed", "outbox_id", entry.ID, "error", err)
			continue
		}
		published++
		if w.metrics != nil {
			w.metrics.Published(entry.EventType)
		}
	}
	return published
}

// TopicFor returns the topic entries of eventType are published to.
func (w *Worker) TopicFor(eventType string) string {
	if t, ok := w.routes[eventType]; ok {
		return t
	}
	return w.topic
}

// publish keys records by aggregate so one submission's or one batch's
// events land on the same partition in order.
func (w *Worker) publish(ctx context.Context, entry *outbox.Entry) error {
	start := w.now()
	err := w.publisher.Produce(ctx, &producer.Message{
		Topic: w.TopicFor(entry.EventType),
		Key:   []byte(entry.AggregateID),
		Value: entry.Payload,
		Headers: map[string]string{
			"outbox_id":      entry.ID.String(),
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID,
			"event_type":     entry.EventType,
		},
	})
	if err == nil && w.metrics != nil {
		w.metrics.ObservePublish(w.now().Sub(start).Seconds())
	}
	return err
}

func (w *Worker) failed(eventType string) {
	if w.metrics != nil {
		w.metrics.Failed(eventType)
	}
}

func (w *Worker) refreshPending(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	n, err := w.store.CountPending(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to count pending outbox entries", "error", err)
		return
	}
	w.metrics.SetPending(n)
}

func (w *Worker) drain() {
	w.logger.Info("draining outbox worker")
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for ctx.Err() == nil {
		if w.Poll(ctx) == 0 {
			return
		}
	}
}
