package entity

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcred/internal/credential/models"
	"healthcred/pkg/platform/sentinel"
)

func TestPostgresGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgres(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM entities WHERE entity_id = $1")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"category", "transform_enabled", "mapper_name", "consent_mapper_name", "metadata_enabled"}).
			AddRow("organization", true, "vaccination-v1", "consent-v1", false))

	cfg, err := s.Get(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, &models.EntityConfig{
		EntityID:          "org-1",
		Category:          models.CategoryOrganization,
		TransformEnabled:  true,
		MapperName:        "vaccination-v1",
		ConsentMapperName: "consent-v1",
	}, cfg)

	mock.ExpectQuery(regexp.QuoteMeta("FROM entities")).WithArgs("org-x").WillReturnError(sql.ErrNoRows)
	_, err = s.Get(context.Background(), "org-x")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory(t *testing.T) {
	m := NewMemory(&models.EntityConfig{EntityID: "org-1", Category: models.CategoryIndividual})
	require.NoError(t, m.Put(context.Background(), &models.EntityConfig{EntityID: "org-2", Category: models.CategoryOrganization}))

	cfg, err := m.Get(context.Background(), "org-2")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryOrganization, cfg.Category)

	_, err = m.Get(context.Background(), "org-3")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
