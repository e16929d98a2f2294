// Package worker drains queued batches one row at a time. A single goroutine
// consumes batch jobs; rows are issued through the rate-limited issuance
// service and submitted through the single-credential path.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"healthcred/internal/batch/models"
	"healthcred/internal/batch/store"
	"healthcred/internal/issuance"
	"healthcred/internal/platform/metrics"
	"healthcred/internal/platform/tracing"
	submission "healthcred/internal/submission/service"
	"healthcred/pkg/platform/audit"
	"healthcred/pkg/platform/circuit"
	pstrings "healthcred/pkg/platform/strings"
)

//go:generate mockgen -source=worker.go -destination=mocks/mocks.go -package=mocks Issuer,Submitter

const (
	defaultQueueSize   = 16
	defaultPageSize    = 100
	defaultThreshold   = 10
	defaultMinInterval = time.Second

	// EventBatchReport is the outbox event type of published reports.
	EventBatchReport = "batch_report"
)

// ErrBusy is returned by Enqueue when the job queue is full.
var ErrBusy = errors.New("batch worker queue is full")

type Queue interface {
	Pending(ctx context.Context, q store.Query) (*store.Page, error)
	Delete(ctx context.Context, entityID, batchID string, rowID int) error
	Annotate(ctx context.Context, entityID, batchID string, rowID int, msg string) error
}

type ReportWriter interface {
	PutReport(ctx context.Context, r *models.Report) error
}

// Preparer turns a row into an issuance request. Organization categories
// implement it.
type Preparer interface {
	PrepareProfileCredentialData(ctx context.Context, row models.Row) (issuance.Request, error)
}

// Capabilities resolves the Preparer of an organization.
type Capabilities interface {
	For(ctx context.Context, entityID string) (Preparer, error)
}

// CapabilityFunc adapts a function to Capabilities.
type CapabilityFunc func(ctx context.Context, entityID string) (Preparer, error)

func (f CapabilityFunc) For(ctx context.Context, entityID string) (Preparer, error) {
	return f(ctx, entityID)
}

type Issuer interface {
	Issue(ctx context.Context, req issuance.Request) (json.RawMessage, error)
}

type Submitter interface {
	SubmitCredential(ctx context.Context, req submission.CredentialRequest) (*submission.Outcome, error)
}

// Publisher appends documents to the outbox.
type Publisher interface {
	EmitDocument(ctx context.Context, aggregateType, aggregateID, eventType string, doc any) error
}

type Auditor interface {
	Record(ctx context.Context, event audit.Event)
}

// Deps groups the worker's collaborators. Publisher and Auditor are optional.
type Deps struct {
	Queue        Queue
	Reports      ReportWriter
	Capabilities Capabilities
	Issuer       Issuer
	Submitter    Submitter
	Publisher    Publisher
	Auditor      Auditor
}

type Worker struct {
	deps      Deps
	jobs      chan models.Job
	limiter   *rate.Limiter
	threshold int
	pageSize  int
	logger    *slog.Logger
	tracer    tracing.Tracer
}

type Option func(*Worker)

// WithMinInterval sets the minimum delay between two rows. Zero disables
// the limit.
func WithMinInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.limiter = newLimiter(d)
	}
}

// WithErrorThreshold sets how many failed rows halt a batch.
func WithErrorThreshold(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.threshold = n
		}
	}
}

func WithPageSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.pageSize = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.jobs = make(chan models.Job, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithTracer(t tracing.Tracer) Option {
	return func(w *Worker) {
		w.tracer = t
	}
}

func New(deps Deps, opts ...Option) *Worker {
	w := &Worker{
		deps:      deps,
		jobs:      make(chan models.Job, defaultQueueSize),
		limiter:   newLimiter(defaultMinInterval),
		threshold: defaultThreshold,
		pageSize:  defaultPageSize,
		logger:    slog.Default(),
		tracer:    tracing.Noop{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func newLimiter(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

// Enqueue hands a batch to the worker without waiting for it to run.
func (w *Worker) Enqueue(job models.Job) error {
	select {
	case w.jobs <- job:
		return nil
	default:
		return ErrBusy
	}
}

// Run consumes jobs until ctx is done. Only one batch runs at a time.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "batch worker started",
		"error_threshold", w.threshold,
		"min_interval", minInterval(w.limiter),
	)
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "batch worker stopped", "pending_jobs", len(w.jobs))
			return nil
		case job := <-w.jobs:
			w.Process(ctx, job)
		}
	}
}

// Process drains one batch and returns its report. The report is written,
// audited and published whether the batch completed or halted.
func (w *Worker) Process(ctx context.Context, job models.Job) *models.Report {
	ctx, span := w.tracer.Start(ctx, tracing.SpanBatchRun,
		tracing.String(tracing.AttrEntityID, job.EntityID),
		tracing.String(tracing.AttrBatchID, job.BatchID),
	)
	report := &models.Report{
		EntityID:             job.EntityID,
		BatchID:              job.BatchID,
		RowCount:             job.RowCount,
		FailedRows:           []models.FailedRow{},
		BatchFailureMessages: []string{},
		SubmittedTimestamp:   job.SubmittedAt,
		FileName:             job.FileName,
	}

	w.drain(ctx, job, report)
	w.finish(context.WithoutCancel(ctx), job, report)

	span.SetAttributes(
		tracing.Int("batch.succeeded", report.SuccessCount),
		tracing.Int("batch.failed", report.FailureCount),
		tracing.Bool("batch.halted", report.Halted()),
	)
	var spanErr error
	if report.Halted() {
		spanErr = errors.New(report.BatchFailureMessages[0])
	}
	span.End(spanErr)
	return report
}

func (w *Worker) drain(ctx context.Context, job models.Job, report *models.Report) {
	prep, err := w.deps.Capabilities.For(ctx, job.EntityID)
	if err != nil {
		report.BatchFailureMessages = append(report.BatchFailureMessages,
			fmt.Sprintf("organization cannot process batches: %v", err))
		return
	}

	budget := circuit.NewBudget(w.threshold)
	bookmark := ""
	for {
		page, err := w.deps.Queue.Pending(ctx, store.Query{
			EntityID: job.EntityID,
			BatchID:  job.BatchID,
			Limit:    w.pageSize,
			Bookmark: bookmark,
		})
		if err != nil {
			report.BatchFailureMessages = append(report.BatchFailureMessages,
				fmt.Sprintf("failed to read queued rows: %v", err))
			return
		}
		for _, row := range page.Rows {
			if err := w.limiter.Wait(ctx); err != nil {
				report.BatchFailureMessages = append(report.BatchFailureMessages,
					fmt.Sprintf("batch interrupted: %v", err))
				return
			}
			if open := w.handleRow(ctx, prep, job, row, report, budget); open {
				metrics.BreakerTrips.Inc()
				msg := fmt.Sprintf("error threshold of %d failed rows reached; processing halted", w.threshold)
				report.BatchFailureMessages = append(report.BatchFailureMessages, msg)
				w.logger.WarnContext(ctx, "batch halted",
					"entity_id", job.EntityID,
					"batch_id", job.BatchID,
					"succeeded", report.SuccessCount,
					"failed", report.FailureCount,
				)
				return
			}
		}
		if page.Bookmark == "" {
			return
		}
		bookmark = page.Bookmark
	}
}

// handleRow processes one row and reports whether the error budget is spent.
func (w *Worker) handleRow(ctx context.Context, prep Preparer, job models.Job, row models.Row, report *models.Report, budget *circuit.Budget) bool {
	ctx, span := w.tracer.Start(ctx, tracing.SpanBatchRow,
		tracing.String(tracing.AttrBatchID, job.BatchID),
		tracing.Int(tracing.AttrRowID, row.RowID),
	)
	err := w.processRow(ctx, prep, job, row)
	span.End(err)

	if err == nil {
		report.SuccessCount++
		metrics.BatchRows.WithLabelValues(metrics.OutcomeSuccess).Inc()
		if delErr := w.deps.Queue.Delete(ctx, row.EntityID, row.BatchID, row.RowID); delErr != nil {
			w.logger.ErrorContext(ctx, "failed to dequeue processed row",
				"batch_id", row.BatchID,
				"row_id", row.RowID,
				"error", delErr,
			)
		}
		return false
	}

	msg := err.Error()
	report.FailureCount++
	report.FailedRows = append(report.FailedRows, models.FailedRow{RowID: row.RowID, Error: msg})
	metrics.BatchRows.WithLabelValues(metrics.OutcomeFailure).Inc()
	w.logger.InfoContext(ctx, "batch row failed",
		"batch_id", row.BatchID,
		"row_id", row.RowID,
		"error", msg,
	)
	if annErr := w.deps.Queue.Annotate(ctx, row.EntityID, row.BatchID, row.RowID, msg); annErr != nil {
		w.logger.ErrorContext(ctx, "failed to annotate row",
			"batch_id", row.BatchID,
			"row_id", row.RowID,
			"error", annErr,
		)
	}
	return budget.Fail()
}

func (w *Worker) processRow(ctx context.Context, prep Preparer, job models.Job, row models.Row) error {
	req, err := prep.PrepareProfileCredentialData(ctx, row)
	if err != nil {
		return err
	}
	cred, err := w.deps.Issuer.Issue(ctx, req)
	if err != nil {
		return fmt.Errorf("issuance failed: %w", err)
	}
	out, err := w.deps.Submitter.SubmitCredential(ctx, submission.CredentialRequest{
		EntityID:   job.EntityID,
		HolderID:   req.HolderID,
		BatchID:    job.BatchID,
		Credential: cred,
	})
	if err != nil {
		return fmt.Errorf("submission failed: %w", err)
	}
	if !out.Processed() {
		return errors.New(rejection(out))
	}
	return nil
}

func rejection(out *submission.Outcome) string {
	if len(out.InvalidCredentials) == 0 {
		return out.Message
	}
	reasons := make([]string, 0, len(out.InvalidCredentials))
	for _, inv := range out.InvalidCredentials {
		reasons = append(reasons, inv.Reason)
	}
	return out.Message + ": " + strings.Join(pstrings.DedupeAndTrim(reasons), "; ")
}

func (w *Worker) finish(ctx context.Context, job models.Job, report *models.Report) {
	if err := w.deps.Reports.PutReport(ctx, report); err != nil {
		w.logger.ErrorContext(ctx, "failed to write batch report",
			"entity_id", job.EntityID,
			"batch_id", job.BatchID,
			"error", err,
		)
	}

	action := audit.ActionBatchCompleted
	if report.Halted() {
		action = audit.ActionBatchHalted
	}
	if w.deps.Auditor != nil {
		w.deps.Auditor.Record(ctx, audit.Event{
			EntityID:  job.EntityID,
			Action:    action,
			Reference: job.BatchID,
			Detail:    fmt.Sprintf("%d succeeded, %d failed", report.SuccessCount, report.FailureCount),
		})
	}
	if w.deps.Publisher != nil {
		if err := w.deps.Publisher.EmitDocument(ctx, audit.AggregateType(action), job.BatchID, EventBatchReport, report); err != nil {
			w.logger.ErrorContext(ctx, "failed to publish batch report",
				"batch_id", job.BatchID,
				"error", err,
			)
		}
	}

	w.logger.InfoContext(ctx, "batch finished",
		"entity_id", job.EntityID,
		"batch_id", job.BatchID,
		"rows", report.RowCount,
		"succeeded", report.SuccessCount,
		"failed", report.FailureCount,
		"halted", report.Halted(),
	)
}

func minInterval(l *rate.Limiter) time.Duration {
	if l.Limit() == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.Limit()))
}
