// Package category selects per-organization behavior. Each organization
// category implements Capability once; the Registry is filled at startup and
// resolves an organization's capability from its stored configuration.
package category

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	batchmodels "healthcred/internal/batch/models"
	"healthcred/internal/credential/models"
	"healthcred/internal/holder"
	"healthcred/internal/issuance"
	submission "healthcred/internal/submission/service"
	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/sentinel"
)

// HolderRef identifies a holder either by profile or by batch row.
type HolderRef struct {
	Profile *holder.Profile
	Row     *batchmodels.Row
}

// Capability is the behavior that differs between organization categories.
type Capability interface {
	Name() string
	// PrepareUserCredentialData builds the issuance request for a credential
	// about an enrolled holder.
	PrepareUserCredentialData(ctx context.Context, profile *holder.Profile, docType string, claims map[string]any) (issuance.Request, error)
	// PrepareProfileCredentialData builds the issuance request for one batch row.
	PrepareProfileCredentialData(ctx context.Context, row batchmodels.Row) (issuance.Request, error)
	SubmitEntityData(ctx context.Context, req submission.SubmitRequest) (*submission.Outcome, error)
	UploadEntityData(ctx context.Context, req batchmodels.UploadRequest) (*batchmodels.Accepted, error)
	HolderID(ref HolderRef) (string, error)
}

// Submitter is the bundle submission path.
type Submitter interface {
	Submit(ctx context.Context, req submission.SubmitRequest) (*submission.Outcome, error)
}

// Uploader is the batch coordinator.
type Uploader interface {
	Upload(ctx context.Context, req batchmodels.UploadRequest) (*batchmodels.Accepted, error)
}

// EntityStore loads organization configuration.
type EntityStore interface {
	Get(ctx context.Context, entityID string) (*models.EntityConfig, error)
}

// Registry maps category names to capabilities.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Capability
	entities EntityStore
	logger   *slog.Logger
}

func NewRegistry(entities EntityStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{byName: make(map[string]Capability), entities: entities, logger: logger}
}

// Register adds capabilities. A second capability with the same name is an
// error.
func (r *Registry) Register(caps ...Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range caps {
		if _, ok := r.byName[c.Name()]; ok {
			return fmt.Errorf("category %q already registered", c.Name())
		}
		r.byName[c.Name()] = c
	}
	return nil
}

// Names lists registered categories.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byName))
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, error) {
	r.mu.RLock()
	c, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown organization category %q", name))
	}
	return c, nil
}

// For resolves the capability of an organization. Organizations without a
// stored configuration are individual.
func (r *Registry) For(ctx context.Context, entityID string) (Capability, error) {
	name := models.CategoryIndividual
	cfg, err := r.entities.Get(ctx, entityID)
	switch {
	case err == nil:
		if cfg.Category != "" {
			name = cfg.Category
		}
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organization config")
	}
	c, err := r.Lookup(name)
	if err != nil {
		r.logger.ErrorContext(ctx, "organization has an unregistered category",
			"entity_id", entityID,
			"category", name,
		)
		return nil, err
	}
	return c, nil
}
