// Package consent validates the single consent receipt a submission needs:
// time window first, then the holder's signature.
package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"healthcred/internal/bundle"
	"healthcred/internal/credential/models"
	"healthcred/internal/holder"
	"healthcred/internal/platform/metrics"
	"healthcred/internal/platform/tracing"
	"healthcred/internal/verifier"
	"healthcred/pkg/platform/audit"
	"healthcred/pkg/platform/middleware/requesttime"
)

const (
	defaultMaxAge    = 8 * 7 * 24 * time.Hour
	defaultClockSkew = 5 * time.Second
)

// Rejection reasons, also used as metric labels.
const (
	ReasonMissing   = "missing"
	ReasonMalformed = "malformed"
	ReasonFuture    = "future"
	ReasonExpired   = "expired"
	ReasonSignature = "signature"
	ReasonMapping   = "mapping"
)

// Verifier checks a receipt's signature. *verifier.Registry implements it.
type Verifier interface {
	VerifyConsent(ctx context.Context, receipt *models.ConsentReceipt, vctx verifier.Context) models.VerificationResult
}

// Transformer applies a named mapping. *mapper.Engine implements it.
type Transformer interface {
	Apply(ctx context.Context, doc map[string]any, name string) (map[string]any, error)
}

// Deleter removes a holder's uploaded bundle.
type Deleter interface {
	Delete(ctx context.Context, documentID, linkID, token string) error
}

// Auditor records audit events. *audit.Logger implements it.
type Auditor interface {
	Record(ctx context.Context, event audit.Event)
}

// HolderContext identifies the holder and the bundle under validation.
// Entity, when set, selects the organization's consent mapper.
type HolderContext struct {
	HolderID    string
	EntityID    string
	Entity      *models.EntityConfig
	PublicKey   string
	KeyEncoding models.KeyEncoding
	DocumentID  string
	LinkID      string
	Token       string
}

// FromProfile builds a HolderContext for the bundle stored under documentID.
func FromProfile(p *holder.Profile, entity *models.EntityConfig, documentID string) HolderContext {
	return HolderContext{
		HolderID:    p.HolderID,
		EntityID:    p.EntityID,
		Entity:      entity,
		PublicKey:   p.PublicKey,
		KeyEncoding: p.KeyEncoding,
		DocumentID:  documentID,
		LinkID:      p.LinkID,
		Token:       p.UploadToken,
	}
}

// Result is the outcome of validating one receipt.
type Result struct {
	Valid        bool
	Receipt      *models.ConsentReceipt
	Metadata     map[string]any
	Reason       string
	ErrorMessage string
}

type Validator struct {
	verifier    Verifier
	documents   Deleter
	transformer Transformer
	maxAge      time.Duration
	clockSkew   time.Duration
	now         func(ctx context.Context) time.Time
	logger      *slog.Logger
	tracer      tracing.Tracer
	auditor     Auditor
}

type Option func(*Validator)

// WithMaxAge sets the retention window. Default 8 weeks.
func WithMaxAge(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.maxAge = d
		}
	}
}

// WithClockSkew sets how far in the future a receipt may be. Default 5s.
func WithClockSkew(d time.Duration) Option {
	return func(v *Validator) {
		if d >= 0 {
			v.clockSkew = d
		}
	}
}

// WithClock overrides the request time. By default the window is measured
// from requesttime.Now, the same instant the submission is stamped with.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = func(context.Context) time.Time { return now() }
	}
}

// WithTransformer normalises receipts of organizations that have a consent
// mapper configured.
func WithTransformer(t Transformer) Option {
	return func(v *Validator) {
		v.transformer = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithAuditor records deleted bundles.
func WithAuditor(a Auditor) Option {
	return func(v *Validator) {
		v.auditor = a
	}
}

func WithTracer(t tracing.Tracer) Option {
	return func(v *Validator) {
		v.tracer = t
	}
}

// NewValidator creates a validator. documents may be nil, in which case
// untrusted bundles are not deleted.
func NewValidator(v Verifier, documents Deleter, opts ...Option) *Validator {
	val := &Validator{
		verifier:  v,
		documents: documents,
		maxAge:    defaultMaxAge,
		clockSkew: defaultClockSkew,
		now:       requesttime.Now,
		logger:    slog.Default(),
		tracer:    tracing.Noop{},
	}
	for _, opt := range opts {
		opt(val)
	}
	return val
}

// Select picks the receipt to validate from a bundle's consent items. The
// first structurally valid receipt wins; later ones are dropped with a
// warning. It returns nil and a reason when there is none.
func (v *Validator) Select(ctx context.Context, items []bundle.Item) (*models.ConsentReceipt, string) {
	var chosen *models.ConsentReceipt
	malformed := 0
	for _, it := range items {
		if it.Consent == nil {
			malformed++
			v.logger.WarnContext(ctx, "consent receipt ignored",
				"index", it.Raw.Index,
				"error", it.ParseErr,
			)
			continue
		}
		if chosen != nil {
			v.logger.WarnContext(ctx, "additional consent receipt dropped",
				"used", chosen.ID,
				"dropped", it.Consent.ID,
				"index", it.Raw.Index,
			)
			continue
		}
		chosen = it.Consent
	}
	switch {
	case chosen != nil:
		return chosen, ""
	case malformed > 0:
		return nil, ReasonMalformed
	default:
		return nil, ReasonMissing
	}
}

// Validate normalises the receipt through the organization's consent mapper
// when one is configured, then checks its timestamp window and its signature
// against the holder's declared key. A signature failure triggers a
// best-effort delete of the holder's bundle.
func (v *Validator) Validate(ctx context.Context, receipt *models.ConsentReceipt, h HolderContext) Result {
	ctx, span := v.tracer.Start(ctx, tracing.SpanConsent,
		tracing.String(tracing.AttrEntityID, h.EntityID),
		tracing.String(tracing.AttrHolderHash, tracing.HashHolderID(h.HolderID)),
	)
	res := v.validate(ctx, receipt, h)
	span.SetAttributes(tracing.Bool("consent.valid", res.Valid))
	if res.Valid {
		span.End(nil)
		return res
	}

	metrics.ConsentRejections.WithLabelValues(res.Reason).Inc()
	v.logger.InfoContext(ctx, "consent receipt rejected",
		"entity_id", h.EntityID,
		"reason", res.Reason,
		"error", res.ErrorMessage,
	)
	span.End(errors.New(res.ErrorMessage))
	return res
}

func (v *Validator) validate(ctx context.Context, receipt *models.ConsentReceipt, h HolderContext) Result {
	if receipt == nil {
		return reject(ReasonMissing, "no valid consent receipt")
	}
	receipt, err := v.normalize(ctx, receipt, h.Entity)
	if err != nil {
		return reject(ReasonMapping, err.Error())
	}

	now := v.now(ctx)
	at := receipt.ConsentTimestamp
	if at.After(now.Add(v.clockSkew)) {
		return reject(ReasonFuture, fmt.Sprintf("consent receipt %s is timestamped in the future", receipt.ID))
	}
	if now.Sub(at) > v.maxAge {
		return reject(ReasonExpired, fmt.Sprintf("consent receipt %s has expired", receipt.ID))
	}

	vr := v.verifier.VerifyConsent(ctx, receipt, verifier.Context{
		EntityID:          h.EntityID,
		HolderPublicKey:   h.PublicKey,
		HolderKeyEncoding: h.KeyEncoding,
		Now:               now,
	})
	if !vr.Success {
		v.deleteBundle(ctx, h)
		return reject(ReasonSignature, fmt.Sprintf("consent receipt %s failed verification: %s", receipt.ID, vr.Message))
	}

	return Result{
		Valid:   true,
		Receipt: receipt,
		Metadata: map[string]any{
			"consentId":        receipt.ID,
			"consentTimestamp": at.UTC().Format(time.RFC3339),
			"purpose":          receipt.Purpose,
			"verifiedBy":       vr.Plugin,
		},
	}
}

// normalize maps the receipt document into the canonical receipt shape.
// Raw and Proof are kept from the original, since the signature covers the
// document as the holder signed it.
func (v *Validator) normalize(ctx context.Context, receipt *models.ConsentReceipt, entity *models.EntityConfig) (*models.ConsentReceipt, error) {
	if v.transformer == nil || entity == nil || !entity.TransformEnabled || entity.ConsentMapperName == "" {
		return receipt, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(receipt.Raw, &doc); err != nil {
		return nil, fmt.Errorf("consent receipt %s is not a JSON object: %w", receipt.ID, err)
	}
	out, err := v.transformer.Apply(ctx, doc, entity.ConsentMapperName)
	if err != nil {
		return nil, fmt.Errorf("consent receipt %s could not be mapped: %w", receipt.ID, err)
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("consent receipt %s could not be mapped: %w", receipt.ID, err)
	}
	var mapped models.ConsentReceipt
	if err := json.Unmarshal(encoded, &mapped); err != nil {
		return nil, fmt.Errorf("consent receipt %s mapped to an invalid receipt: %w", receipt.ID, err)
	}
	if mapped.ID == "" {
		mapped.ID = receipt.ID
	}
	if mapped.ConsentTimestamp.IsZero() {
		return nil, fmt.Errorf("consent receipt %s has no timestamp after mapping", receipt.ID)
	}
	mapped.Proof = receipt.Proof
	mapped.Raw = receipt.Raw
	return &mapped, nil
}

func (v *Validator) deleteBundle(ctx context.Context, h HolderContext) {
	if v.documents == nil || h.DocumentID == "" {
		return
	}
	if err := v.documents.Delete(ctx, h.DocumentID, h.LinkID, h.Token); err != nil {
		v.logger.ErrorContext(ctx, "failed to delete untrusted bundle",
			"entity_id", h.EntityID,
			"document_id", h.DocumentID,
			"error", err,
		)
		return
	}
	if v.auditor != nil {
		v.auditor.Record(ctx, audit.Event{
			EntityID:  h.EntityID,
			HolderID:  h.HolderID,
			Action:    audit.ActionBundleDeleted,
			Reference: h.DocumentID,
			Detail:    "consent signature invalid",
		})
	}
}

func reject(reason, msg string) Result {
	return Result{Valid: false, Reason: reason, ErrorMessage: msg}
}
