package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"healthcred/internal/credential/models"
	"healthcred/internal/holder"
	"healthcred/pkg/platform/sentinel"
)

// Postgres reads profiles from the holder_profiles table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Get(ctx context.Context, holderID string) (*holder.Profile, error) {
	query := `
		SELECT entity_id, public_key, key_encoding, symmetric_key,
		       upload_token, download_token, link_id, created_at
		FROM holder_profiles
		WHERE holder_id = $1
	`
	var (
		p        = holder.Profile{HolderID: holderID}
		encoding string
		keyJSON  []byte
	)
	err := s.db.QueryRowContext(ctx, query, holderID).Scan(
		&p.EntityID, &p.PublicKey, &encoding, &keyJSON,
		&p.UploadToken, &p.DownloadToken, &p.LinkID, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find holder profile: %w", err)
	}
	p.KeyEncoding = models.KeyEncoding(encoding)
	if err := json.Unmarshal(keyJSON, &p.SymmetricKey); err != nil {
		return nil, fmt.Errorf("decode symmetric key: %w", sentinel.ErrInvalidData)
	}
	return &p, nil
}

func (s *Postgres) Put(ctx context.Context, p *holder.Profile) error {
	keyJSON, err := json.Marshal(p.SymmetricKey)
	if err != nil {
		return fmt.Errorf("encode symmetric key: %w", err)
	}
	query := `
		INSERT INTO holder_profiles (holder_id, entity_id, public_key, key_encoding, symmetric_key,
		                             upload_token, download_token, link_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (holder_id) DO UPDATE
		SET public_key = EXCLUDED.public_key,
		    key_encoding = EXCLUDED.key_encoding,
		    symmetric_key = EXCLUDED.symmetric_key,
		    upload_token = EXCLUDED.upload_token,
		    download_token = EXCLUDED.download_token,
		    link_id = EXCLUDED.link_id
	`
	_, err = s.db.ExecContext(ctx, query,
		p.HolderID, p.EntityID, p.PublicKey, string(p.KeyEncoding), keyJSON,
		p.UploadToken, p.DownloadToken, p.LinkID, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save holder profile: %w", err)
	}
	return nil
}
