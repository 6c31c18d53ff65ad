package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

var assignmentRowColumns = []string{"id", "student_id", "fee_structure_id", "academic_year_id", "total_amount", "paid_amount", "pending_amount", "status",
	"created_at", "updated_at", "cancelled_at", "fee_category_id", "category_name", "semester", "due_date", "late_fee_amount", "late_fee_days"}

func TestFeeAssignmentRepositoryMaterializeReturnsStoredRow(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()

	repo := NewFeeAssignmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_fee_assignments")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now()
	due := time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(assignmentRowColumns).
		AddRow("asg-existing", "stu-1", "fs-1", "year-2024", "5000", "1000", "4000", "partial", now, now, nil, "cat-tuition", "Tuition", "sem1", due, "50", 7)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id, a.student_id")).
		WithArgs("stu-1", "fs-1", "year-2024").
		WillReturnRows(rows)

	fresh := &models.StudentFeeAssignment{
		StudentID:      "stu-1",
		FeeStructureID: "fs-1",
		AcademicYearID: "year-2024",
		TotalAmount:    decimal.NewFromInt(5000),
		PaidAmount:     decimal.Zero,
		PendingAmount:  decimal.NewFromInt(5000),
		Status:         models.AssignmentStatusPending,
	}
	stored, err := repo.Materialize(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, "asg-existing", stored.ID)
	assert.True(t, stored.PendingAmount.Equal(decimal.NewFromInt(4000)))
	require.NotNil(t, stored.LateFeeDays)
	assert.Equal(t, 7, *stored.LateFeeDays)
	require.NoError(t, stored.CheckBalance())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeAssignmentRepositoryListForStudentScopesYear(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()

	repo := NewFeeAssignmentRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(assignmentRowColumns).
		AddRow("asg-1", "stu-1", "fs-1", "year-2024", "5000", "0", "5000", "pending", now, now, nil, "cat-tuition", "Tuition", "sem1", nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("a.cancelled_at IS NULL AND a.academic_year_id = $2")).
		WithArgs("stu-1", "year-2024").
		WillReturnRows(rows)

	list, err := repo.ListForStudent(context.Background(), "stu-1", "year-2024")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].DueDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeAssignmentRepositorySweepOverdue(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()

	repo := NewFeeAssignmentRepository(db)
	asOf := time.Date(2024, 9, 1, 13, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'overdue'")).
		WithArgs(models.DateOnly(asOf), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("SET status = CASE WHEN a.paid_amount > 0")).
		WithArgs(models.DateOnly(asOf), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.SweepOverdue(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeAssignmentRepositoryCancelUnpaid(t *testing.T) {
	db, mock, cleanup := newFeeRepoMock(t)
	defer cleanup()

	repo := NewFeeAssignmentRepository(db)
	at := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND cancelled_at IS NULL AND paid_amount = 0")).
		WithArgs("asg-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_fee_assignments SET cancelled_at")).
		WithArgs("asg-2", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cancelled, err := repo.CancelUnpaid(context.Background(), "asg-1", at)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = repo.CancelUnpaid(context.Background(), "asg-2", at)
	require.NoError(t, err)
	assert.False(t, cancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}
