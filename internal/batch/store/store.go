// Package store persists the batch queue and batch reports.
package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"healthcred/internal/batch/models"
	"healthcred/pkg/platform/sentinel"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Query selects the pending rows of one batch in row-id order.
type Query struct {
	EntityID string
	BatchID  string
	Limit    int
	Bookmark string
}

// Page is one slice of pending rows. Bookmark is empty on the last page.
type Page struct {
	Rows     []models.Row
	Bookmark string
}

// Queue is the durable batch queue. Rows are consumed at most once: Delete
// on success, Annotate on failure.
type Queue interface {
	Insert(ctx context.Context, rows []models.Row) error
	Count(ctx context.Context, entityID, batchID string) (int, error)
	Pending(ctx context.Context, q Query) (*Page, error)
	Delete(ctx context.Context, entityID, batchID string, rowID int) error
	Annotate(ctx context.Context, entityID, batchID string, rowID int, msg string) error
	// DeleteBatch drops every queued row of a batch and returns how many
	// were removed.
	DeleteBatch(ctx context.Context, entityID, batchID string) (int, error)
}

// Reports keeps one report per batch.
type Reports interface {
	PutReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, entityID, batchID string) (*models.Report, error)
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

func encodeBookmark(rowID int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(rowID)))
}

// decodeBookmark returns the last row id of the previous page, or -1.
func decodeBookmark(s string) (int, error) {
	if s == "" {
		return -1, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("bookmark: %w", sentinel.ErrInvalidData)
	}
	id, err := strconv.Atoi(string(raw))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("bookmark: %w", sentinel.ErrInvalidData)
	}
	return id, nil
}
