package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"healthcred/internal/mapper"
	"healthcred/pkg/platform/sentinel"
)

// Postgres stores mappers in the mappers table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed mapper store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Get(ctx context.Context, name string) (*mapper.Mapper, error) {
	var (
		m      = mapper.Mapper{Name: name}
		spec   []byte
		schema []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT spec, output_schema, updated_at FROM mappers WHERE name = $1`, name,
	).Scan(&spec, &schema, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find mapper: %w", err)
	}
	if err := json.Unmarshal(spec, &m.Spec); err != nil {
		return nil, fmt.Errorf("decode mapper spec: %w", err)
	}
	if len(schema) > 0 {
		m.OutputSchema = schema
	}
	return &m, nil
}

func (s *Postgres) Put(ctx context.Context, m *mapper.Mapper) error {
	spec, err := json.Marshal(m.Spec)
	if err != nil {
		return fmt.Errorf("encode mapper spec: %w", err)
	}
	var schema []byte
	if len(m.OutputSchema) > 0 {
		schema = m.OutputSchema
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mappers (name, spec, output_schema, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET spec = EXCLUDED.spec, output_schema = EXCLUDED.output_schema, updated_at = EXCLUDED.updated_at`,
		m.Name, spec, schema, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save mapper: %w", err)
	}
	return nil
}
