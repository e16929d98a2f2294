package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcred/internal/credential/models"
	"healthcred/pkg/platform/sentinel"
)

var at = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func stat(entity, holder, cred string) models.StatDoc {
	return models.StatDoc{
		EntityID: entity, HolderID: holder, CredID: cred,
		CredType: "VaccinationCertificate", SubmissionID: "sub-1", SubmissionTimestamp: at,
	}
}

func TestMemory_ListPaginates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.BulkInsert(ctx, []models.StatDoc{
		stat("org-1", "h1", "c1"),
		stat("org-2", "h1", "c2"),
		stat("org-1", "h2", "c3"),
		stat("org-1", "h1", "c4"),
	}))

	first, err := m.List(ctx, Query{EntityID: "org-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Docs, 2)
	assert.Equal(t, "c1", first.Docs[0].CredID)
	assert.Equal(t, "c3", first.Docs[1].CredID)
	require.NotEmpty(t, first.Bookmark)

	second, err := m.List(ctx, Query{EntityID: "org-1", Limit: 2, Bookmark: first.Bookmark})
	require.NoError(t, err)
	require.Len(t, second.Docs, 1)
	assert.Equal(t, "c4", second.Docs[0].CredID)
	assert.Empty(t, second.Bookmark)

	byHolder, err := m.List(ctx, Query{EntityID: "org-1", HolderID: "h1"})
	require.NoError(t, err)
	assert.Len(t, byHolder.Docs, 2)

	_, err = m.List(ctx, Query{EntityID: "org-1", Bookmark: "%%%"})
	assert.ErrorIs(t, err, sentinel.ErrInvalidData)
}

func TestPostgres_BulkInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a, b := stat("org-1", "h1", "c1"), stat("org-1", "h1", "c2")
	mock.ExpectExec(regexp.QuoteMeta("($1, $2, $3, $4, $5, $6, $7, $8), ($9, $10, $11, $12, $13, $14, $15, $16)")).
		WithArgs(
			a.EntityID, a.HolderID, a.CredID, a.SchemaID, a.CredType, a.SubmissionID, a.BatchID, a.SubmissionTimestamp,
			b.EntityID, b.HolderID, b.CredID, b.SchemaID, b.CredType, b.SubmissionID, b.BatchID, b.SubmissionTimestamp,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	s := NewPostgres(db)
	require.NoError(t, s.BulkInsert(context.Background(), []models.StatDoc{a, b}))
	require.NoError(t, s.BulkInsert(context.Background(), nil), "empty insert is a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "entity_id", "holder_id", "cred_id", "schema_id", "cred_type", "submission_id", "batch_id", "submitted_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM submission_stats")).
		WithArgs("org-1", int64(0), "", "", 3).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(7), "org-1", "h1", "c1", "", "T", "s", "", at).
			AddRow(int64(9), "org-1", "h1", "c2", "", "T", "s", "", at).
			AddRow(int64(12), "org-1", "h1", "c3", "", "T", "s", "", at))

	page, err := NewPostgres(db).List(context.Background(), Query{EntityID: "org-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Docs, 2)
	assert.Equal(t, encodeBookmark(9), page.Bookmark)

	after, err := decodeBookmark(page.Bookmark)
	require.NoError(t, err)
	assert.Equal(t, int64(9), after)
	require.NoError(t, mock.ExpectationsWereMet())
}
