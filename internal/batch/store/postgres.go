package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"healthcred/internal/batch/models"
	"healthcred/pkg/platform/sentinel"
)

// Postgres keeps the queue in batch_queue and reports in batch_reports.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Insert writes one chunk in a single statement. A row id already queued
// for the batch fails the whole chunk with sentinel.ErrConflict.
func (s *Postgres) Insert(ctx context.Context, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}
	var (
		b    strings.Builder
		args = make([]any, 0, len(rows)*5)
	)
	b.WriteString(`INSERT INTO batch_queue (entity_id, batch_id, row_id, doc_type, fields) VALUES `)
	for i, r := range rows {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", r.RowID, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, r.EntityID, r.BatchID, r.RowID, r.DocType, fields)
	}
	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert batch rows: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert batch rows: %w", err)
	}
	return nil
}

func (s *Postgres) Count(ctx context.Context, entityID, batchID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batch_queue WHERE entity_id = $1 AND batch_id = $2`,
		entityID, batchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count batch rows: %w", err)
	}
	return n, nil
}

func (s *Postgres) Pending(ctx context.Context, q Query) (*Page, error) {
	after, err := decodeBookmark(q.Bookmark)
	if err != nil {
		return nil, err
	}
	limit := q.limit()

	rows, err := s.db.QueryContext(ctx, `
		SELECT row_id, doc_type, fields, created_at
		FROM batch_queue
		WHERE entity_id = $1 AND batch_id = $2 AND row_id > $3 AND error_message IS NULL
		ORDER BY row_id
		LIMIT $4`,
		q.EntityID, q.BatchID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list batch rows: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		r := models.Row{EntityID: q.EntityID, BatchID: q.BatchID}
		var fields []byte
		if err := rows.Scan(&r.RowID, &r.DocType, &fields, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		if len(page.Rows) == limit {
			page.Bookmark = encodeBookmark(page.Rows[limit-1].RowID)
			break
		}
		if err := json.Unmarshal(fields, &r.Fields); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", r.RowID, sentinel.ErrInvalidData)
		}
		page.Rows = append(page.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch rows: %w", err)
	}
	return page, nil
}

func (s *Postgres) Delete(ctx context.Context, entityID, batchID string, rowID int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM batch_queue WHERE entity_id = $1 AND batch_id = $2 AND row_id = $3`,
		entityID, batchID, rowID)
	if err != nil {
		return fmt.Errorf("delete batch row: %w", err)
	}
	return requireOne(res)
}

func (s *Postgres) DeleteBatch(ctx context.Context, entityID, batchID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM batch_queue WHERE entity_id = $1 AND batch_id = $2`,
		entityID, batchID)
	if err != nil {
		return 0, fmt.Errorf("delete batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete batch: %w", err)
	}
	return int(n), nil
}

func (s *Postgres) Annotate(ctx context.Context, entityID, batchID string, rowID int, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_queue SET error_message = $4 WHERE entity_id = $1 AND batch_id = $2 AND row_id = $3`,
		entityID, batchID, rowID, msg)
	if err != nil {
		return fmt.Errorf("annotate batch row: %w", err)
	}
	return requireOne(res)
}

func (s *Postgres) PutReport(ctx context.Context, r *models.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_reports (entity_id, batch_id, report)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_id, batch_id) DO UPDATE SET report = EXCLUDED.report`,
		r.EntityID, r.BatchID, body)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (s *Postgres) GetReport(ctx context.Context, entityID, batchID string) (*models.Report, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM batch_reports WHERE entity_id = $1 AND batch_id = $2`,
		entityID, batchID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r models.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", sentinel.ErrInvalidData)
	}
	return &r, nil
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
