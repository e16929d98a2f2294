// Package issuerkeys resolves issuer verification keys from the key service
// and caches them per organization.
package issuerkeys

import (
	"context"
	"crypto"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"healthcred/internal/platform/httpclient"
	"healthcred/internal/verifier"
	dErrors "healthcred/pkg/domain-errors"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthcred_issuer_key_cache_hits_total",
		Help: "Issuer key lookups served from the per-organization cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthcred_issuer_key_cache_misses_total",
		Help: "Issuer key lookups that went to the key service",
	})
)

// Source fetches a single issuer key for an organization.
type Source interface {
	FetchKey(ctx context.Context, entityID, issuerID, keyID string) (crypto.PublicKey, error)
}

// KeyRef names one issuer key.
type KeyRef struct {
	IssuerID string `json:"issuerId"`
	KeyID    string `json:"keyId"`
}

// Lister is implemented by sources that can enumerate an organization's
// trusted keys, used to warm a cache on refresh.
type Lister interface {
	ListKeys(ctx context.Context, entityID string) ([]KeyRef, error)
}

// HTTPSource reads JWKs from the issuer key service.
type HTTPSource struct {
	client *httpclient.Client
}

func NewHTTPSource(client *httpclient.Client) *HTTPSource {
	return &HTTPSource{client: client}
}

func (s *HTTPSource) FetchKey(ctx context.Context, entityID, issuerID, keyID string) (crypto.PublicKey, error) {
	path := fmt.Sprintf("/entities/%s/issuers/%s/keys/%s",
		url.PathEscape(entityID), url.PathEscape(issuerID), url.PathEscape(keyID))
	raw, err := s.client.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("issuer %s has no key %s", issuerID, keyID))
		}
		return nil, err
	}
	key, err := verifier.ParsePublicKeyJWK(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "key service returned an unusable key")
	}
	return key, nil
}

func (s *HTTPSource) ListKeys(ctx context.Context, entityID string) ([]KeyRef, error) {
	var out struct {
		Keys []KeyRef `json:"keys"`
	}
	if err := s.client.GetJSON(ctx, fmt.Sprintf("/entities/%s/issuers/keys", url.PathEscape(entityID)), &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// Cache is one organization's issuer key cache. It implements
// verifier.KeyResolver. Failed lookups are not cached.
type Cache struct {
	entityID string
	source   Source
	logger   *slog.Logger

	mu   sync.RWMutex
	keys map[KeyRef]crypto.PublicKey
}

func NewCache(entityID string, source Source, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entityID: entityID,
		source:   source,
		logger:   logger,
		keys:     make(map[KeyRef]crypto.PublicKey),
	}
}

func (c *Cache) Resolve(ctx context.Context, issuerID, keyID string) (crypto.PublicKey, error) {
	ref := KeyRef{IssuerID: issuerID, KeyID: keyID}

	c.mu.RLock()
	key, ok := c.keys[ref]
	c.mu.RUnlock()
	if ok {
		cacheHits.Inc()
		return key, nil
	}

	cacheMisses.Inc()
	key, err := c.source.FetchKey(ctx, c.entityID, issuerID, keyID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.keys[ref] = key
	c.mu.Unlock()
	return key, nil
}

// Warm loads every key the source lists for this organization. Individual
// failures are logged and skipped.
func (c *Cache) Warm(ctx context.Context) error {
	lister, ok := c.source.(Lister)
	if !ok {
		return nil
	}
	refs, err := lister.ListKeys(ctx, c.entityID)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if _, err := c.Resolve(ctx, ref.IssuerID, ref.KeyID); err != nil {
			c.logger.WarnContext(ctx, "failed to warm issuer key",
				"entity_id", c.entityID,
				"issuer_id", ref.IssuerID,
				"key_id", ref.KeyID,
				"error", err,
			)
		}
	}
	return nil
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// Invalidate drops every cached key.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.keys = make(map[KeyRef]crypto.PublicKey)
	c.mu.Unlock()
}
