// Package orgcontext keeps per-organization verification state (issuer keys
// and any registered caches) behind a registry with explicit invalidation.
package orgcontext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"healthcred/internal/issuerkeys"
	"healthcred/internal/verifier"
)

// Context is the verification state of one organization.
type Context struct {
	EntityID  string
	Keys      *issuerkeys.Cache
	CreatedAt time.Time
}

// VerifyContext builds the per-item verification context. Holder key
// fields are left for the caller.
func (c *Context) VerifyContext(now time.Time) verifier.Context {
	return verifier.Context{EntityID: c.EntityID, Keys: c.Keys, Now: now}
}

// InvalidationHook is called with the entity id whenever an organization's
// context is invalidated or refreshed, so dependent caches can follow.
type InvalidationHook func(ctx context.Context, entityID string)

// Registry creates organization contexts lazily and hands out the same
// instance until it is invalidated.
type Registry struct {
	mu       sync.Mutex
	contexts map[string]*Context
	keys     issuerkeys.Source
	hooks    []InvalidationHook
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithInvalidationHook registers a callback run on Invalidate and Refresh.
func WithInvalidationHook(hook InvalidationHook) Option {
	return func(r *Registry) {
		r.hooks = append(r.hooks, hook)
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(keys issuerkeys.Source, opts ...Option) *Registry {
	r := &Registry{
		contexts: make(map[string]*Context),
		keys:     keys,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the organization's context, creating it on first use.
func (r *Registry) Get(entityID string) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contexts[entityID]; ok {
		return c
	}
	c := r.build(entityID)
	r.contexts[entityID] = c
	return c
}

// Invalidate drops the organization's context. The next Get rebuilds it.
func (r *Registry) Invalidate(ctx context.Context, entityID string) {
	r.mu.Lock()
	old, ok := r.contexts[entityID]
	delete(r.contexts, entityID)
	r.mu.Unlock()

	if ok {
		old.Keys.Invalidate()
	}
	r.runHooks(ctx, entityID)
	r.logger.InfoContext(ctx, "organization context invalidated", "entity_id", entityID)
}

// Refresh replaces the organization's context with a fresh one and warms
// its issuer key cache. In-flight work holding the previous context keeps
// using it.
func (r *Registry) Refresh(ctx context.Context, entityID string) (*Context, error) {
	c := r.build(entityID)
	if err := c.Keys.Warm(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.contexts[entityID] = c
	r.mu.Unlock()

	r.runHooks(ctx, entityID)
	r.logger.InfoContext(ctx, "organization context refreshed",
		"entity_id", entityID,
		"issuer_keys", c.Keys.Len(),
	)
	return c, nil
}

// Len returns the number of live contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

func (r *Registry) build(entityID string) *Context {
	return &Context{
		EntityID:  entityID,
		Keys:      issuerkeys.NewCache(entityID, r.keys, r.logger),
		CreatedAt: r.now(),
	}
}

func (r *Registry) runHooks(ctx context.Context, entityID string) {
	for _, hook := range r.hooks {
		hook(ctx, entityID)
	}
}
