package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func offeringRows(id, code string, capacity int, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "course_id", "term_id", "enrollment_code", "capacity", "active", "created_at", "updated_at"}).
		AddRow(id, "course-1", "term-1", code, capacity, active, now, now)
}

func TestOfferingRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewOfferingRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM offerings WHERE id = $1")).
		WithArgs("off-1").
		WillReturnRows(offeringRows("off-1", "JOIN42", 30, true))

	offering, err := repo.FindByID(context.Background(), "off-1")
	require.NoError(t, err)
	require.Equal(t, "off-1", offering.ID)
	require.Equal(t, 30, offering.Capacity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingRepositoryFindByEnrollmentCode(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewOfferingRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE enrollment_code = $1 AND active = TRUE")).
		WithArgs("JOIN42").
		WillReturnRows(offeringRows("off-1", "JOIN42", 30, true))

	offering, err := repo.FindByEnrollmentCode(context.Background(), "JOIN42")
	require.NoError(t, err)
	require.Equal(t, "off-1", offering.ID)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE enrollment_code = $1 AND active = TRUE")).
		WithArgs("STALE1").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindByEnrollmentCode(context.Background(), "STALE1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
