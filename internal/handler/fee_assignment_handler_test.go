package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-api/internal/dto"
	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type resolverMock struct {
	semester models.Semester
	err      error
}

func (m *resolverMock) Resolve(ctx context.Context, studentID string, semester models.Semester) (*models.ObligationSet, error) {
	m.semester = semester
	if m.err != nil {
		return nil, m.err
	}
	return &models.ObligationSet{StudentID: studentID, Semester: semester}, nil
}

type assignmentLedgerMock struct {
	year string
	asOf time.Time
}

func (m *assignmentLedgerMock) ListForStudent(ctx context.Context, studentID, academicYearID string) ([]models.StudentFeeAssignment, error) {
	m.year = academicYearID
	return []models.StudentFeeAssignment{{ID: "asg-1", StudentID: studentID}}, nil
}

func (m *assignmentLedgerMock) LateFeePreview(ctx context.Context, assignmentID string, asOf time.Time) (*dto.LateFeePreview, error) {
	m.asOf = asOf
	return &dto.LateFeePreview{AssignmentID: assignmentID, LateFee: decimal.NewFromInt(200)}, nil
}

type sweepMock struct {
	ranAt      time.Time
	triggered  time.Time
	triggerErr error
}

func (m *sweepMock) RunNow(ctx context.Context, asOf time.Time) (int64, error) {
	m.ranAt = asOf
	return 3, nil
}

func (m *sweepMock) Trigger(asOf time.Time) error {
	m.triggered = asOf
	return m.triggerErr
}

func TestFeeAssignmentHandlerObligations(t *testing.T) {
	resolver := &resolverMock{}
	h := NewFeeAssignmentHandler(resolver, &assignmentLedgerMock{}, &sweepMock{})

	c, w := feeTestContext(http.MethodGet, "/fees/students/stu-1/obligations?semester=sem1", nil, cashier, gin.Param{Key: "studentId", Value: "stu-1"})
	h.Obligations(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SemesterOne, resolver.semester)

	resolver.err = appErrors.Clone(appErrors.ErrNotFound, "student has no enrollment")
	c, w = feeTestContext(http.MethodGet, "/fees/students/stu-9/obligations?semester=sem1", nil, cashier, gin.Param{Key: "studentId", Value: "stu-9"})
	h.Obligations(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeeAssignmentHandlerAssignmentsAndLateFee(t *testing.T) {
	ledger := &assignmentLedgerMock{}
	h := NewFeeAssignmentHandler(&resolverMock{}, ledger, &sweepMock{})

	c, w := feeTestContext(http.MethodGet, "/fees/students/stu-1/assignments?academicYearId=year-2023", nil, cashier, gin.Param{Key: "studentId", Value: "stu-1"})
	h.Assignments(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "year-2023", ledger.year)

	c, w = feeTestContext(http.MethodGet, "/fees/assignments/asg-1/late-fee?asOf=2024-06-20", nil, cashier, gin.Param{Key: "id", Value: "asg-1"})
	h.LateFee(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC), ledger.asOf)
	assert.Contains(t, w.Body.String(), `"late_fee":"200"`)

	c, w = feeTestContext(http.MethodGet, "/fees/assignments/asg-1/late-fee?asOf=20-06-2024", nil, cashier, gin.Param{Key: "id", Value: "asg-1"})
	h.LateFee(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeeAssignmentHandlerOverdueSweep(t *testing.T) {
	sweeper := &sweepMock{}
	h := NewFeeAssignmentHandler(&resolverMock{}, &assignmentLedgerMock{}, sweeper)
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	c, w := feeTestContext(http.MethodPost, "/fees/overdue-sweep?asOf=2024-07-01", nil, admin)
	h.OverdueSweep(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), sweeper.ranAt)
	assert.Contains(t, w.Body.String(), `"updated":3`)

	c, w = feeTestContext(http.MethodPost, "/fees/overdue-sweep?asOf=2024-07-02&async=true", nil, admin)
	h.OverdueSweep(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC), sweeper.triggered)

	sweeper.triggerErr = errors.New("queue is not started")
	c, w = feeTestContext(http.MethodPost, "/fees/overdue-sweep?async=true", nil, admin)
	h.OverdueSweep(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
