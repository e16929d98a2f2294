// Package verifier dispatches credentials and consent receipts to signature
// plugins and normalizes their outcomes into a VerificationResult.
package verifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"healthcred/internal/credential/models"
)

var verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "healthcred_verifications_total",
	Help: "Verification outcomes by plugin and result",
}, []string{"plugin", "outcome"})

// Registry holds plugins in registration order.
// Register all plugins during startup; the registry is read-only afterwards.
type Registry struct {
	plugins []Plugin
	names   map[string]struct{}
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{names: make(map[string]struct{}), logger: logger}
}

// Register appends a plugin. Names must be unique.
func (r *Registry) Register(p Plugin) error {
	if _, exists := r.names[p.Name()]; exists {
		return fmt.Errorf("plugin %s already registered", p.Name())
	}
	r.names[p.Name()] = struct{}{}
	r.plugins = append(r.plugins, p)
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(plugins ...Plugin) *Registry {
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Plugins returns the registered plugin names in dispatch order.
func (r *Registry) Plugins() []string {
	out := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Name())
	}
	return out
}

// Select returns the first plugin that claims the item. When several claim
// it the earliest registration wins and the tie is logged.
func (r *Registry) Select(ctx context.Context, item models.RawItem, vctx Context) Plugin {
	var chosen Plugin
	var others []string
	for _, p := range r.plugins {
		if !p.Claims(item, vctx) {
			continue
		}
		if chosen == nil {
			chosen = p
			continue
		}
		others = append(others, p.Name())
	}
	if chosen != nil && len(others) > 0 {
		r.logger.WarnContext(ctx, "multiple plugins claim credential",
			"chosen", chosen.Name(),
			"also_matched", others,
			"format", item.Format,
			"index", item.Index,
		)
	}
	return chosen
}

// Verify decodes and verifies one credential item. It never returns an
// error: every failure is folded into an unsuccessful result.
func (r *Registry) Verify(ctx context.Context, item models.RawItem, vctx Context) models.VerificationResult {
	p := r.Select(ctx, item, vctx)
	if p == nil {
		verificationsTotal.WithLabelValues("none", "unsupported").Inc()
		return models.VerificationResult{
			Success:  false,
			CredType: models.CredTypeUnknown,
			Message:  ErrUnsupported.Error(),
		}
	}

	cred, err := p.Decode(item)
	if err != nil {
		verificationsTotal.WithLabelValues(p.Name(), string(FailureMalformed)).Inc()
		return models.VerificationResult{
			Success:  false,
			CredType: models.CredTypeUnknown,
			Plugin:   p.Name(),
			Message:  err.Error(),
		}
	}
	cred.Raw = item

	if err := p.Verify(ctx, cred, vctx); err != nil {
		category := CategoryOf(err)
		verificationsTotal.WithLabelValues(p.Name(), string(category)).Inc()
		r.logger.InfoContext(ctx, "credential failed verification",
			"plugin", p.Name(),
			"category", category,
			"credential_id", cred.ID,
			"error", err,
		)
		return models.VerificationResult{
			Success:    false,
			CredType:   models.CredTypeUnknown,
			Plugin:     p.Name(),
			Message:    err.Error(),
			Credential: cred,
		}
	}

	verificationsTotal.WithLabelValues(p.Name(), "ok").Inc()
	return models.VerificationResult{
		Success:    true,
		Plugin:     p.Name(),
		Credential: cred,
	}
}

// VerifyConsent checks a consent receipt with the first plugin that accepts
// the holder's declared key encoding.
func (r *Registry) VerifyConsent(ctx context.Context, receipt *models.ConsentReceipt, vctx Context) models.VerificationResult {
	for _, p := range r.plugins {
		cv, ok := p.(ConsentVerifier)
		if !ok || !cv.AcceptsHolderKey(vctx.HolderKeyEncoding) {
			continue
		}
		if err := cv.VerifyConsent(ctx, receipt, vctx); err != nil {
			verificationsTotal.WithLabelValues(p.Name(), "consent_"+string(CategoryOf(err))).Inc()
			return models.VerificationResult{Success: false, Plugin: p.Name(), Message: err.Error()}
		}
		verificationsTotal.WithLabelValues(p.Name(), "consent_ok").Inc()
		return models.VerificationResult{Success: true, Plugin: p.Name()}
	}
	verificationsTotal.WithLabelValues("none", "consent_unsupported").Inc()
	return models.VerificationResult{
		Success: false,
		Message: fmt.Sprintf("no verifier for holder key encoding %q", vctx.HolderKeyEncoding),
	}
}
