// Package entity loads per-organization pipeline configuration.
package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"healthcred/internal/credential/models"
	"healthcred/pkg/platform/sentinel"
)

// Store returns sentinel.ErrNotFound for an unknown organization.
type Store interface {
	Get(ctx context.Context, entityID string) (*models.EntityConfig, error)
	Put(ctx context.Context, cfg *models.EntityConfig) error
}

// Memory keeps configurations in a map.
type Memory struct {
	mu      sync.RWMutex
	configs map[string]models.EntityConfig
}

func NewMemory(seed ...*models.EntityConfig) *Memory {
	m := &Memory{configs: make(map[string]models.EntityConfig)}
	for _, c := range seed {
		m.configs[c.EntityID] = *c
	}
	return m
}

func (m *Memory) Get(_ context.Context, entityID string) (*models.EntityConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[entityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

func (m *Memory) Put(_ context.Context, cfg *models.EntityConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.EntityID] = *cfg
	return nil
}

// Postgres reads the entities table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Get(ctx context.Context, entityID string) (*models.EntityConfig, error) {
	cfg := models.EntityConfig{EntityID: entityID}
	err := s.db.QueryRowContext(ctx, `
		SELECT category, transform_enabled, mapper_name, consent_mapper_name, metadata_enabled
		FROM entities WHERE entity_id = $1`, entityID,
	).Scan(&cfg.Category, &cfg.TransformEnabled, &cfg.MapperName, &cfg.ConsentMapperName, &cfg.MetadataEnabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find entity: %w", err)
	}
	return &cfg, nil
}

func (s *Postgres) Put(ctx context.Context, cfg *models.EntityConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (entity_id, category, transform_enabled, mapper_name, consent_mapper_name, metadata_enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (entity_id) DO UPDATE
		SET category = EXCLUDED.category,
		    transform_enabled = EXCLUDED.transform_enabled,
		    mapper_name = EXCLUDED.mapper_name,
		    consent_mapper_name = EXCLUDED.consent_mapper_name,
		    metadata_enabled = EXCLUDED.metadata_enabled,
		    updated_at = now()`,
		cfg.EntityID, cfg.Category, cfg.TransformEnabled, cfg.MapperName, cfg.ConsentMapperName, cfg.MetadataEnabled)
	if err != nil {
		return fmt.Errorf("save entity: %w", err)
	}
	return nil
}
