package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryRepositoryStudentPlacement(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()

	repo := NewDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM grade_enrollments e")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "grade_id", "academic_year_id"}).AddRow("stu-1", "grade-10", "year-2024"))

	placement, err := repo.StudentPlacement(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "grade-10", placement.GradeID)
	assert.Equal(t, "year-2024", placement.AcademicYearID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryRepositoryHasVerifyPermission(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()

	repo := NewDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM users WHERE id = ? AND active = TRUE AND role IN (?, ?))")).
		WithArgs("admin-1", "ADMIN", "SUPERADMIN").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.HasVerifyPermission(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryRepositoryStaffExistsIncludesStaffRole(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()

	repo := NewDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("role IN (?, ?, ?)")).
		WithArgs("staff-1", "STAFF", "ADMIN", "SUPERADMIN").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.StaffExists(context.Background(), "staff-1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
