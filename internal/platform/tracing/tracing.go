// Package tracing is a thin span seam over OpenTelemetry. Pipeline code
// depends on Tracer; tests use Noop.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"healthcred/internal/platform/privacy"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute { return Attribute{Key: key, Value: value} }
func Int(key string, value int) Attribute { return Attribute{Key: key, Value: value} }
func Bool(key string, value bool) Attribute { return Attribute{Key: key, Value: value} }

// HashHolderID is the span attribute value for a holder; spans never carry
// the raw identifier.
func HashHolderID(holderID string) string {
	return privacy.HolderToken(holderID)
}

// Span names.
const (
	SpanSubmission   = "pipeline.submission"
	SpanConsent      = "pipeline.consent"
	SpanCredential   = "pipeline.credential"
	SpanBatchUpload  = "pipeline.batch.upload"
	SpanBatchRun     = "pipeline.batch.run"
	SpanBatchRow     = "pipeline.batch.row"
	SpanIssuerLookup = "pipeline.issuer_key"
)

// Attribute keys.
const (
	AttrEntityID     = "entity.id"
	AttrHolderHash   = "holder.hash"
	AttrSubmissionID = "submission.id"
	AttrBatchID      = "batch.id"
	AttrRowID        = "batch.row_id"
	AttrCredType     = "credential.type"
	AttrPlugin       = "verifier.plugin"
	AttrStatus       = "status"
)

// OTel adapts an OpenTelemetry tracer.
type OTel struct {
	tracer trace.Tracer
}

// NewOTel uses the global provider unless a tracer is given.
func NewOTel(t trace.Tracer) *OTel {
	if t == nil {
		t = otel.Tracer("healthcred/pipeline")
	}
	return &OTel{tracer: t}
}

func (t *OTel) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toOTel(attrs)...))
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

func (s *otelSpan) SetAttributes(attrs ...Attribute) {
	s.span.SetAttributes(toOTel(attrs)...)
}

func (s *otelSpan) AddEvent(name string, attrs ...Attribute) {
	s.span.AddEvent(name, trace.WithAttributes(toOTel(attrs)...))
}

func toOTel(attrs []Attribute) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			out = append(out, attribute.String(a.Key, v))
		case bool:
			out = append(out, attribute.Bool(a.Key, v))
		case int:
			out = append(out, attribute.Int(a.Key, v))
		case int64:
			out = append(out, attribute.Int64(a.Key, v))
		}
	}
	return out
}

// Noop discards spans.
type Noop struct{}

func (Noop) Start(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error)                     {}
func (noopSpan) SetAttributes(...Attribute)    {}
func (noopSpan) AddEvent(string, ...Attribute) {}

var (
	_ Tracer = (*OTel)(nil)
	_ Tracer = Noop{}
)
