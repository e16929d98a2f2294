// Package service is the batch ingestion coordinator: it queues parsed rows
// in chunks, waits for the queue to read back every row, and hands the
// batch to the worker without waiting for it to finish.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"healthcred/internal/batch/models"
	"healthcred/internal/platform/metrics"
	"healthcred/internal/platform/tracing"
	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/middleware/requesttime"
	"healthcred/pkg/platform/sentinel"
	"healthcred/pkg/validation"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Queue,Reports,Scheduler

const (
	defaultChunkSize        = 100
	defaultReadbackAttempts = 3
	defaultReadbackDelay    = time.Second
)

type Queue interface {
	Insert(ctx context.Context, rows []models.Row) error
	Count(ctx context.Context, entityID, batchID string) (int, error)
	DeleteBatch(ctx context.Context, entityID, batchID string) (int, error)
}

type Reports interface {
	GetReport(ctx context.Context, entityID, batchID string) (*models.Report, error)
}

// Scheduler accepts a queued batch for background processing.
type Scheduler interface {
	Enqueue(job models.Job) error
}

type Service struct {
	queue            Queue
	reports          Reports
	scheduler        Scheduler
	chunkSize        int
	readbackAttempts int
	readbackDelay    time.Duration
	sleep            func(ctx context.Context, d time.Duration) error
	newID            func() string
	logger           *slog.Logger
	tracer           tracing.Tracer
}

type Option func(*Service)

func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithReadback sets how many times the queue is read back after insert and
// how long to wait before each read.
func WithReadback(attempts int, delay time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.readbackAttempts = attempts
		}
		s.readbackDelay = delay
	}
}

// WithSleeper replaces the read-back wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		s.sleep = sleep
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(t tracing.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(queue Queue, reports Reports, scheduler Scheduler, opts ...Option) *Service {
	s := &Service{
		queue:            queue,
		reports:          reports,
		scheduler:        scheduler,
		chunkSize:        defaultChunkSize,
		readbackAttempts: defaultReadbackAttempts,
		readbackDelay:    defaultReadbackDelay,
		sleep:            sleepContext,
		newID:            uuid.NewString,
		logger:           slog.Default(),
		tracer:           tracing.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload queues the rows of one batch and starts processing in the
// background. It returns once every row is readable from the queue; the
// caller polls Status for the outcome.
func (s *Service) Upload(ctx context.Context, req models.UploadRequest) (_ *models.Accepted, err error) {
	if err := validation.Validate(&req); err != nil {
		return nil, err
	}
	if req.BatchID == "" {
		req.BatchID = s.newID()
	}
	ctx, span := s.tracer.Start(ctx, tracing.SpanBatchUpload,
		tracing.String(tracing.AttrEntityID, req.EntityID),
		tracing.String(tracing.AttrBatchID, req.BatchID),
		tracing.Int("batch.rows", len(req.Rows)),
	)
	defer func() { span.End(err) }()

	queued, err := s.queueRows(ctx, req)
	if err != nil {
		return nil, err
	}

	job := models.Job{
		EntityID:    req.EntityID,
		BatchID:     req.BatchID,
		DocType:     req.DocType,
		FileName:    req.FileName,
		RowCount:    queued,
		SubmittedAt: requesttime.Now(ctx),
	}
	if err := s.scheduler.Enqueue(job); err != nil {
		s.discard(ctx, req.EntityID, req.BatchID)
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "batch worker is not accepting work")
	}

	s.logger.InfoContext(ctx, "batch queued",
		"entity_id", req.EntityID,
		"batch_id", req.BatchID,
		"rows", queued,
	)
	return &models.Accepted{BatchID: req.BatchID, QueuedRows: queued, Status: models.StatusProcessing}, nil
}

// queueRows inserts rows in fixed-size chunks and then reads the queue back
// until it holds every row.
func (s *Service) queueRows(ctx context.Context, req models.UploadRequest) (int, error) {
	rows := make([]models.Row, len(req.Rows))
	for i, fields := range req.Rows {
		rows[i] = models.Row{
			EntityID: req.EntityID,
			BatchID:  req.BatchID,
			RowID:    i + 1,
			DocType:  req.DocType,
			Fields:   fields,
		}
	}

	for start := 0; start < len(rows); start += s.chunkSize {
		end := min(start+s.chunkSize, len(rows))
		if err := s.queue.Insert(ctx, rows[start:end]); err != nil {
			// A conflict means the rows belong to an earlier upload.
			if errors.Is(err, sentinel.ErrConflict) {
				return 0, dErrors.Wrap(err, dErrors.CodeConflict, fmt.Sprintf("batch %s is already queued", req.BatchID))
			}
			if start > 0 {
				s.discard(ctx, req.EntityID, req.BatchID)
			}
			return 0, dErrors.Wrap(err, dErrors.CodePersistence, "failed to queue batch rows")
		}
	}

	if err := s.readBack(ctx, req.EntityID, req.BatchID, len(rows)); err != nil {
		s.discard(ctx, req.EntityID, req.BatchID)
		return 0, err
	}
	return len(rows), nil
}

// discard removes the rows of an upload that will not be processed, so the
// batch id can be uploaded again. It runs even if the request was cancelled.
func (s *Service) discard(ctx context.Context, entityID, batchID string) {
	n, err := s.queue.DeleteBatch(context.WithoutCancel(ctx), entityID, batchID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to discard queued batch rows",
			"entity_id", entityID,
			"batch_id", batchID,
			"error", err,
		)
		return
	}
	s.logger.WarnContext(ctx, "discarded queued batch rows",
		"entity_id", entityID,
		"batch_id", batchID,
		"rows", n,
	)
}

func (s *Service) readBack(ctx context.Context, entityID, batchID string, want int) error {
	got := 0
	for attempt := 1; attempt <= s.readbackAttempts; attempt++ {
		if err := s.sleep(ctx, s.readbackDelay); err != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "batch read-back interrupted")
		}
		n, err := s.queue.Count(ctx, entityID, batchID)
		if err != nil {
			s.logger.WarnContext(ctx, "batch read-back failed",
				"batch_id", batchID,
				"attempt", attempt,
				"error", err,
			)
		} else if n == want {
			return nil
		} else {
			got = n
		}
		metrics.ReadbackRetries.Inc()
	}
	return dErrors.New(dErrors.CodeConsistency,
		fmt.Sprintf("batch %s: queue holds %d of %d rows after %d reads", batchID, got, want, s.readbackAttempts))
}

// Status reports the batch report once the run has ended, or "processing"
// while rows are still queued.
func (s *Service) Status(ctx context.Context, entityID, batchID string) (*models.Status, error) {
	report, err := s.reports.GetReport(ctx, entityID, batchID)
	if err == nil {
		status := models.StatusCompleted
		if report.Halted() {
			status = models.StatusHalted
		}
		return &models.Status{BatchID: batchID, Status: status, Report: report}, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read batch report")
	}

	n, err := s.queue.Count(ctx, entityID, batchID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read batch queue")
	}
	if n == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "batch not found")
	}
	return &models.Status{BatchID: batchID, Status: models.StatusProcessing}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
