// Package holder holds the holder profile model and the client for the
// remote document service where holders upload their encrypted bundles.
package holder

import (
	"context"
	"time"

	"healthcred/internal/bundle/cipher"
	"healthcred/internal/credential/models"
)

// Profile is the per-holder record the pipeline needs to open and verify a
// submission. Profiles are created elsewhere; the pipeline only reads them.
type Profile struct {
	HolderID      string             `json:"holderId"`
	EntityID      string             `json:"entityId"`
	PublicKey     string             `json:"publicKey"`
	KeyEncoding   models.KeyEncoding `json:"keyEncoding"`
	SymmetricKey  cipher.Key         `json:"symmetricKey"`
	UploadToken   string             `json:"uploadToken"`
	DownloadToken string             `json:"downloadToken"`
	LinkID        string             `json:"linkId"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// Store looks up holder profiles. Get returns sentinel.ErrNotFound for an
// unknown holder.
type Store interface {
	Get(ctx context.Context, holderID string) (*Profile, error)
	Put(ctx context.Context, p *Profile) error
}

// Documents fetches and removes uploaded bundles.
type Documents interface {
	Fetch(ctx context.Context, documentID, linkID, token string) (string, error)
	Delete(ctx context.Context, documentID, linkID, token string) error
}
