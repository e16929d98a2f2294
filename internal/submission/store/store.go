// Package store persists StatDocs, the append-only audit records of
// processed credentials.
package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"healthcred/internal/credential/models"
	"healthcred/pkg/platform/sentinel"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Query selects stats for one organization, oldest first. Bookmark is the
// opaque value returned by the previous page.
type Query struct {
	EntityID string
	HolderID string
	BatchID  string
	Limit    int
	Bookmark string
}

// Page is one slice of a stats query. Bookmark is empty on the last page.
type Page struct {
	Docs     []models.StatDoc
	Bookmark string
}

// Stats is the stats collection.
type Stats interface {
	BulkInsert(ctx context.Context, docs []models.StatDoc) error
	List(ctx context.Context, q Query) (*Page, error)
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultPageSize
	case q.Limit > maxPageSize:
		return maxPageSize
	}
	return q.Limit
}

func encodeBookmark(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

func decodeBookmark(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("bookmark: %w", sentinel.ErrInvalidData)
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("bookmark: %w", sentinel.ErrInvalidData)
	}
	return seq, nil
}
