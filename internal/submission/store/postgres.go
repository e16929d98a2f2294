package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"healthcred/internal/credential/models"
)

// Postgres stores stats in the submission_stats table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// BulkInsert writes all docs in one statement.
func (s *Postgres) BulkInsert(ctx context.Context, docs []models.StatDoc) error {
	if len(docs) == 0 {
		return nil
	}
	var (
		b    strings.Builder
		args = make([]any, 0, len(docs)*8)
	)
	b.WriteString(`INSERT INTO submission_stats
		(entity_id, holder_id, cred_id, schema_id, cred_type, submission_id, batch_id, submitted_at) VALUES `)
	for i, d := range docs {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 8
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
		args = append(args, d.EntityID, d.HolderID, d.CredID, d.SchemaID, d.CredType, d.SubmissionID, d.BatchID, d.SubmissionTimestamp)
	}
	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert stats: %w", err)
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, q Query) (*Page, error) {
	after, err := decodeBookmark(q.Bookmark)
	if err != nil {
		return nil, err
	}
	limit := q.limit()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, holder_id, cred_id, schema_id, cred_type, submission_id, batch_id, submitted_at
		FROM submission_stats
		WHERE entity_id = $1 AND id > $2
		  AND ($3 = '' OR holder_id = $3)
		  AND ($4 = '' OR batch_id = $4)
		ORDER BY id
		LIMIT $5`,
		q.EntityID, after, q.HolderID, q.BatchID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	var last int64
	for rows.Next() {
		var (
			seq int64
			d   models.StatDoc
		)
		if err := rows.Scan(&seq, &d.EntityID, &d.HolderID, &d.CredID, &d.SchemaID, &d.CredType,
			&d.SubmissionID, &d.BatchID, &d.SubmissionTimestamp); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		if len(page.Docs) == limit {
			page.Bookmark = encodeBookmark(last)
			break
		}
		page.Docs = append(page.Docs, d)
		last = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return page, nil
}
