// Package service assembles submissions: it opens a holder's bundle, checks
// consent and every credential, persists the accepted payload and records
// stats.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"healthcred/internal/bundle"
	"healthcred/internal/bundle/cipher"
	"healthcred/internal/consent"
	"healthcred/internal/credential/models"
	"healthcred/internal/credential/validator"
	"healthcred/internal/holder"
	"healthcred/internal/orgcontext"
	"healthcred/internal/platform/metrics"
	"healthcred/internal/platform/objectstore"
	"healthcred/internal/platform/tracing"
	"healthcred/internal/verifier"
	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/audit"
	"healthcred/pkg/platform/middleware/requesttime"
	"healthcred/pkg/platform/sentinel"
	psync "healthcred/pkg/platform/sync"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks HolderStore,EntityStore,StatsWriter

type HolderStore interface {
	Get(ctx context.Context, holderID string) (*holder.Profile, error)
}

type EntityStore interface {
	Get(ctx context.Context, entityID string) (*models.EntityConfig, error)
}

// Documents fetches uploaded bundles.
type Documents interface {
	Fetch(ctx context.Context, documentID, linkID, token string) (string, error)
}

// OrgContexts hands out per-organization verification state.
// *orgcontext.Registry implements it.
type OrgContexts interface {
	Get(entityID string) *orgcontext.Context
}

type ConsentValidator interface {
	Select(ctx context.Context, items []bundle.Item) (*models.ConsentReceipt, string)
	Validate(ctx context.Context, receipt *models.ConsentReceipt, h consent.HolderContext) consent.Result
}

type CredentialValidator interface {
	Validate(ctx context.Context, item models.RawItem, req validator.Request) validator.Outcome
}

type StatsWriter interface {
	BulkInsert(ctx context.Context, docs []models.StatDoc) error
}

type Auditor interface {
	Record(ctx context.Context, event audit.Event)
}

// Service is the submission assembler.
type Service struct {
	holders     HolderStore
	entities    EntityStore
	documents   Documents
	orgs        OrgContexts
	consent     ConsentValidator
	credentials CredentialValidator
	objects     objectstore.Store
	stats       StatsWriter
	auditor     Auditor
	logger      *slog.Logger
	tracer      tracing.Tracer
	newID       func() string
	holderLocks *psync.KeyedMutex
}

// Deps groups the collaborators a Service needs.
type Deps struct {
	Holders     HolderStore
	Entities    EntityStore
	Documents   Documents
	Orgs        OrgContexts
	Consent     ConsentValidator
	Credentials CredentialValidator
	Objects     objectstore.Store
	Stats       StatsWriter
	Auditor     Auditor
}

type Option func(*Service)

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

// WithIDGenerator replaces uuid-based submission ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		holders:     deps.Holders,
		entities:    deps.Entities,
		documents:   deps.Documents,
		orgs:        deps.Orgs,
		consent:     deps.Consent,
		credentials: deps.Credentials,
		objects:     deps.Objects,
		stats:       deps.Stats,
		auditor:     deps.Auditor,
		logger:      slog.Default(),
		tracer:      tracing.Noop{},
		newID:       uuid.NewString,
		holderLocks: psync.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run is the working state of one submission.
type run struct {
	id       string
	entity   *models.EntityConfig
	holderID string
	batchID  string
	at       time.Time
	machine  *machine

	consentMeta map[string]any
	valid       []map[string]any
	metadata    []map[string]any
	invalid     []models.InvalidCredential
	stats       []models.StatDoc
}

// Submit processes a holder's uploaded bundle. Rejections (no consent, no
// valid credential) come back as an Outcome with a nil error; a failure to
// persist returns both the Outcome and a CodePersistence error. Submissions
// of one holder run one at a time.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Outcome, error) {
	s.holderLocks.Lock(req.HolderID)
	defer s.holderLocks.Unlock(req.HolderID)

	start := time.Now()
	profile, err := s.holders.Get(ctx, req.HolderID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "holder not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load holder profile")
	}
	entity, err := s.entityConfig(ctx, profile.EntityID)
	if err != nil {
		return nil, err
	}

	r := s.newRun(ctx, entity, profile.HolderID, "")
	ctx, span := s.tracer.Start(ctx, tracing.SpanSubmission,
		tracing.String(tracing.AttrEntityID, entity.EntityID),
		tracing.String(tracing.AttrHolderHash, tracing.HashHolderID(profile.HolderID)),
		tracing.String(tracing.AttrSubmissionID, r.id),
	)

	out, err := s.submitBundle(ctx, r, profile, req.DocumentID)
	s.finish(ctx, span, "interactive", start, out, err)
	return out, err
}

func (s *Service) submitBundle(ctx context.Context, r *run, profile *holder.Profile, documentID string) (*Outcome, error) {
	content, err := s.documents.Fetch(ctx, documentID, profile.LinkID, profile.DownloadToken)
	if err != nil {
		if holder.IsMissing(err) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "bundle not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fetch bundle")
	}
	plaintext, err := cipher.DecryptBase64(content, profile.SymmetricKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "bundle could not be decrypted")
	}
	r.machine.must(StateBundleDecrypted)

	b, err := bundle.Parse(plaintext)
	if err != nil {
		return nil, err
	}
	r.machine.must(StateItemsClassified)

	receipt, _ := s.consent.Select(ctx, b.Consents())
	res := s.consent.Validate(ctx, receipt, consent.FromProfile(profile, r.entity, documentID))
	r.machine.must(StateConsentChecked)
	if !res.Valid {
		return s.reject(ctx, r, MsgNoConsent, res.ErrorMessage), nil
	}
	r.consentMeta = res.Metadata

	vctx := s.verifyContext(r, profile)
	for _, it := range b.Credentials() {
		s.check(ctx, r, it.Raw, vctx)
	}
	r.machine.must(StateCredentialsChecked)

	return s.conclude(ctx, r)
}

// SubmitCredential runs the single-credential path: no bundle and no
// consent receipt, one credential verified and persisted as its own
// submission.
func (s *Service) SubmitCredential(ctx context.Context, req CredentialRequest) (*Outcome, error) {
	start := time.Now()
	entity, err := s.entityConfig(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	r := s.newRun(ctx, entity, req.HolderID, req.BatchID)
	ctx, span := s.tracer.Start(ctx, tracing.SpanSubmission,
		tracing.String(tracing.AttrEntityID, entity.EntityID),
		tracing.String(tracing.AttrHolderHash, tracing.HashHolderID(req.HolderID)),
		tracing.String(tracing.AttrSubmissionID, r.id),
		tracing.String(tracing.AttrBatchID, req.BatchID),
	)

	item := bundle.Classify(0, req.Credential)
	if item.Kind != bundle.KindCredential {
		err := dErrors.New(dErrors.CodeValidation, "expected a credential, got a consent receipt")
		s.finish(ctx, span, "single", start, nil, err)
		return nil, err
	}
	profile, err := s.holderProfile(ctx, req.HolderID)
	if err != nil {
		s.finish(ctx, span, "single", start, nil, err)
		return nil, err
	}
	r.machine.must(StateCredentialsChecked)
	s.check(ctx, r, item.Raw, s.verifyContext(r, profile))

	out, err := s.conclude(ctx, r)
	s.finish(ctx, span, "single", start, out, err)
	return out, err
}

func (s *Service) newRun(ctx context.Context, entity *models.EntityConfig, holderID, batchID string) *run {
	return &run{
		id:       s.newID(),
		entity:   entity,
		holderID: holderID,
		batchID:  batchID,
		at:       requesttime.Now(ctx),
		machine:  newMachine(),
	}
}

// verifyContext combines the organization's issuer keys with the holder's
// declared key. profile may be nil for holders without a profile.
func (s *Service) verifyContext(r *run, profile *holder.Profile) verifier.Context {
	vctx := verifier.Context{EntityID: r.entity.EntityID, Now: r.at}
	if s.orgs != nil {
		vctx = s.orgs.Get(r.entity.EntityID).VerifyContext(r.at)
	}
	if profile != nil {
		vctx.HolderPublicKey = profile.PublicKey
		vctx.HolderKeyEncoding = profile.KeyEncoding
	}
	return vctx
}

// holderProfile loads the holder's profile for its declared key. Batch rows
// name holders that may have none, so a missing profile is not an error.
func (s *Service) holderProfile(ctx context.Context, holderID string) (*holder.Profile, error) {
	if holderID == "" {
		return nil, nil
	}
	profile, err := s.holders.Get(ctx, holderID)
	if err == nil {
		return profile, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load holder profile")
}

func (s *Service) check(ctx context.Context, r *run, item models.RawItem, vctx verifier.Context) {
	out := s.credentials.Validate(ctx, item, validator.Request{
		Entity:       r.entity,
		HolderID:     r.holderID,
		SubmissionID: r.id,
		BatchID:      r.batchID,
		SubmittedAt:  r.at,
		Verify:       vctx,
	})
	if !out.Valid {
		r.invalid = append(r.invalid, *out.Invalid)
		return
	}
	r.valid = append(r.valid, out.Credential)
	r.stats = append(r.stats, *out.Stat)
	if out.Metadata != nil {
		r.metadata = append(r.metadata, out.Metadata)
	}
}

// conclude rejects a run without valid credentials, otherwise persists the
// payload and records stats.
func (s *Service) conclude(ctx context.Context, r *run) (*Outcome, error) {
	if len(r.valid) == 0 {
		return s.reject(ctx, r, MsgNoCredentials, ""), nil
	}

	fileName := r.id + ".json"
	payload, err := json.Marshal(s.payload(r))
	if err != nil {
		return s.outcome(r, StatusNotProcessed, MsgPersistFailed, ""),
			dErrors.Wrap(err, dErrors.CodePersistence, MsgPersistFailed)
	}
	if err := s.objects.Put(ctx, objectstore.ContainerFor(r.entity.EntityID), fileName, payload); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist submission",
			"entity_id", r.entity.EntityID,
			"submission_id", r.id,
			"error", err,
		)
		return s.outcome(r, StatusNotProcessed, MsgPersistFailed, ""),
			dErrors.Wrap(err, dErrors.CodePersistence, MsgPersistFailed)
	}
	r.machine.must(StatePersisted)

	s.audit(ctx, r, audit.ActionSubmissionPersisted, fileName)

	if err := s.stats.BulkInsert(ctx, r.stats); err != nil {
		s.logger.ErrorContext(ctx, "failed to record submission stats",
			"entity_id", r.entity.EntityID,
			"submission_id", r.id,
			"count", len(r.stats),
			"error", err,
		)
	}
	r.machine.must(StateStatsRecorded)

	out := s.outcome(r, StatusProcessed, "", fileName)
	out.Stats = r.stats
	return out, nil
}

// payload is the persisted document: accepted credentials in bundle order
// followed by one synthesized metadata item.
func (s *Service) payload(r *run) []map[string]any {
	items := make([]map[string]any, 0, len(r.valid)+1)
	items = append(items, r.valid...)
	meta := map[string]any{
		"type":            MetadataItemType,
		"submissionId":    r.id,
		"entityId":        r.entity.EntityID,
		"holderId":        r.holderID,
		"submittedAt":     r.at.UTC().Format(time.RFC3339),
		"credentialCount": len(r.valid),
		"rejectedCount":   len(r.invalid),
	}
	if r.batchID != "" {
		meta["batchId"] = r.batchID
	}
	if r.consentMeta != nil {
		meta["consent"] = r.consentMeta
	}
	if len(r.metadata) > 0 {
		meta["credentials"] = r.metadata
	}
	return append(items, meta)
}

func (s *Service) reject(ctx context.Context, r *run, msg, detail string) *Outcome {
	r.machine.must(StateRejected)
	s.logger.InfoContext(ctx, "submission rejected",
		"entity_id", r.entity.EntityID,
		"submission_id", r.id,
		"reason", msg,
		"detail", detail,
		"invalid_count", len(r.invalid),
	)
	s.audit(ctx, r, audit.ActionSubmissionRejected, msg)
	return s.outcome(r, StatusNotProcessed, msg, "")
}

func (s *Service) outcome(r *run, status, msg, fileName string) *Outcome {
	out := &Outcome{
		SubmissionID:       r.id,
		Status:             status,
		State:              r.machine.state,
		Message:            msg,
		FileName:           fileName,
		ValidCredentials:   r.valid,
		InvalidCredentials: r.invalid,
	}
	if out.ValidCredentials == nil {
		out.ValidCredentials = []map[string]any{}
	}
	if out.InvalidCredentials == nil {
		out.InvalidCredentials = []models.InvalidCredential{}
	}
	return out
}

func (s *Service) audit(ctx context.Context, r *run, action, detail string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, audit.Event{
		Timestamp: r.at,
		EntityID:  r.entity.EntityID,
		HolderID:  r.holderID,
		Action:    action,
		Reference: r.id,
		Detail:    detail,
	})
}

// entityConfig loads the organization's configuration. Organizations
// without a stored configuration get the individual defaults.
func (s *Service) entityConfig(ctx context.Context, entityID string) (*models.EntityConfig, error) {
	if entityID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "entity id is required")
	}
	cfg, err := s.entities.Get(ctx, entityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return &models.EntityConfig{EntityID: entityID, Category: models.CategoryIndividual}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organization config")
	}
	return cfg, nil
}

func (s *Service) finish(ctx context.Context, span tracing.Span, mode string, start time.Time, out *Outcome, err error) {
	metrics.SubmissionLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	status := "error"
	if out != nil {
		status = out.Status
		span.SetAttributes(tracing.String(tracing.AttrStatus, out.Status))
	}
	metrics.Submissions.WithLabelValues(status).Inc()
	if err != nil {
		s.logger.WarnContext(ctx, "submission failed", "mode", mode, "error", err)
	}
	span.End(err)
}
