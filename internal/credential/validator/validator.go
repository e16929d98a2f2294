// Package validator runs one credential through verification, logical type
// extraction, the optional organization transform and the metadata pass,
// and assembles its StatDoc.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"healthcred/internal/credential/models"
	"healthcred/internal/platform/metrics"
	"healthcred/internal/platform/tracing"
	"healthcred/internal/verifier"
)

//go:generate mockgen -source=validator.go -destination=mocks/mocks.go -package=mocks Verifier,Transformer

// Verifier dispatches an item to its plugin. *verifier.Registry implements it.
type Verifier interface {
	Verify(ctx context.Context, item models.RawItem, vctx verifier.Context) models.VerificationResult
}

// Transformer applies a named mapping. *mapper.Engine implements it.
type Transformer interface {
	Apply(ctx context.Context, doc map[string]any, name string) (map[string]any, error)
}

// Request carries the per-submission inputs shared by every credential.
type Request struct {
	Entity       *models.EntityConfig
	HolderID     string
	SubmissionID string
	BatchID      string
	SubmittedAt  time.Time
	Verify       verifier.Context
}

// Outcome is the result for one credential. Exactly one of Credential and
// Invalid is set.
type Outcome struct {
	Valid       bool
	Type        models.LogicalType
	Credential  map[string]any
	Invalid     *models.InvalidCredential
	Stat        *models.StatDoc
	Metadata    map[string]any
	MetadataErr error
}

type Validator struct {
	verifier    Verifier
	transformer Transformer
	metadata    *metadataGenerator
	logger      *slog.Logger
	tracer      tracing.Tracer
}

type Option func(*Validator)

func WithTransformer(t Transformer) Option {
	return func(v *Validator) {
		v.transformer = t
	}
}

// WithMetadataProfiles replaces the default metadata profiles.
func WithMetadataProfiles(profiles ...MetadataProfile) Option {
	return func(v *Validator) {
		v.metadata = newMetadataGenerator(profiles)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func WithTracer(t tracing.Tracer) Option {
	return func(v *Validator) {
		v.tracer = t
	}
}

func New(v Verifier, opts ...Option) *Validator {
	val := &Validator{
		verifier: v,
		metadata: newMetadataGenerator(DefaultMetadataProfiles()),
		logger:   slog.Default(),
		tracer:   tracing.Noop{},
	}
	for _, opt := range opts {
		opt(val)
	}
	return val
}

// Validate never returns an error; every failure becomes an invalid outcome.
// The same item and request always produce the same reason.
func (v *Validator) Validate(ctx context.Context, item models.RawItem, req Request) Outcome {
	ctx, span := v.tracer.Start(ctx, tracing.SpanCredential,
		tracing.String(tracing.AttrEntityID, req.Verify.EntityID),
		tracing.String("credential.format", string(item.Format)),
		tracing.Int("credential.index", item.Index),
	)
	out := v.validate(ctx, item, req)
	span.SetAttributes(
		tracing.String(tracing.AttrCredType, out.Type.CredType),
		tracing.Bool("credential.valid", out.Valid),
	)

	outcome := metrics.OutcomeValid
	var spanErr error
	if !out.Valid {
		outcome = metrics.OutcomeInvalid
		spanErr = errors.New(out.Invalid.Reason)
	}
	metrics.CredentialsValidated.WithLabelValues(out.Type.CredType, outcome).Inc()
	span.End(spanErr)
	return out
}

func (v *Validator) validate(ctx context.Context, item models.RawItem, req Request) Outcome {
	vr := v.verifier.Verify(ctx, item, req.Verify)
	if !vr.Success {
		lt := models.LogicalType{ID: fallbackID(item), CredType: models.CredTypeUnknown}
		if vr.Credential != nil {
			lt = LogicalType(vr.Credential)
			if lt.ID == "" {
				lt.ID = fallbackID(item)
			}
		}
		return invalid(lt, vr.Message)
	}

	cred := vr.Credential
	lt := LogicalType(cred)
	if lt.ID == "" {
		lt.ID = fallbackID(item)
	}
	if lt.CredType == models.CredTypeUnknown {
		return invalid(lt, "unknown credential type")
	}

	doc := cred.Document
	if req.Entity != nil && req.Entity.TransformEnabled {
		transformed, err := v.transform(ctx, doc, req.Entity)
		if err != nil {
			v.logger.WarnContext(ctx, "credential transform failed",
				"entity_id", req.Entity.EntityID,
				"mapper", req.Entity.MapperName,
				"credential_id", lt.ID,
				"error", err,
			)
			return invalid(lt, fmt.Sprintf("transform failed: %v", err))
		}
		doc = transformed
	}

	out := Outcome{
		Valid:      true,
		Type:       lt,
		Credential: doc,
		Stat: &models.StatDoc{
			EntityID:            req.Verify.EntityID,
			HolderID:            req.HolderID,
			CredID:              lt.ID,
			SchemaID:            lt.SchemaID,
			CredType:            lt.CredType,
			SubmissionID:        req.SubmissionID,
			BatchID:             req.BatchID,
			SubmissionTimestamp: req.SubmittedAt,
		},
	}

	if req.Entity != nil && req.Entity.MetadataEnabled {
		md, err := v.metadata.generate(lt.CredType, cred.Subject)
		if err != nil {
			// the credential stays valid; only its metadata is discarded
			v.logger.InfoContext(ctx, "credential metadata discarded",
				"credential_id", lt.ID,
				"error", err,
			)
			out.MetadataErr = err
		}
		if md != nil {
			md["credId"] = lt.ID
			md["plugin"] = vr.Plugin
			out.Metadata = md
		}
	}
	return out
}

func (v *Validator) transform(ctx context.Context, doc map[string]any, cfg *models.EntityConfig) (map[string]any, error) {
	if v.transformer == nil {
		return nil, errors.New("no mapping engine configured")
	}
	if cfg.MapperName == "" {
		return nil, errors.New("organization has no mapper configured")
	}
	return v.transformer.Apply(ctx, doc, cfg.MapperName)
}

func invalid(lt models.LogicalType, reason string) Outcome {
	return Outcome{
		Type:    lt,
		Invalid: &models.InvalidCredential{Type: lt.CredType, ID: lt.ID, Reason: reason},
	}
}

func fallbackID(item models.RawItem) string {
	return fmt.Sprintf("item-%d", item.Index)
}
