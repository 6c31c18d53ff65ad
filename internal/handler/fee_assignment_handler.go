package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/dto"
	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

type obligationResolver interface {
	Resolve(ctx context.Context, studentID string, semester models.Semester) (*models.ObligationSet, error)
}

type assignmentLedger interface {
	ListForStudent(ctx context.Context, studentID, academicYearID string) ([]models.StudentFeeAssignment, error)
	LateFeePreview(ctx context.Context, assignmentID string, asOf time.Time) (*dto.LateFeePreview, error)
}

type overdueSweepRunner interface {
	RunNow(ctx context.Context, asOf time.Time) (int64, error)
	Trigger(asOf time.Time) error
}

// FeeAssignmentHandler exposes obligation and assignment endpoints.
type FeeAssignmentHandler struct {
	resolver obligationResolver
	ledger   assignmentLedger
	sweeper  overdueSweepRunner
}

// NewFeeAssignmentHandler builds a new handler.
func NewFeeAssignmentHandler(resolver obligationResolver, ledger assignmentLedger, sweeper overdueSweepRunner) *FeeAssignmentHandler {
	return &FeeAssignmentHandler{resolver: resolver, ledger: ledger, sweeper: sweeper}
}

// Obligations godoc
// @Summary Resolve a student's fee obligations
// @Description Materializes mandatory assignments for the student's grade and lists optional offerings.
// @Tags Fee Assignments
// @Produce json
// @Param studentId path string true "Student ID"
// @Param semester query string true "sem1, sem2 or both"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /fees/students/{studentId}/obligations [get]
func (h *FeeAssignmentHandler) Obligations(c *gin.Context) {
	set, err := h.resolver.Resolve(c.Request.Context(), c.Param("studentId"), models.Semester(c.Query("semester")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, set, nil)
}

// Assignments godoc
// @Summary List a student's fee assignments
// @Tags Fee Assignments
// @Produce json
// @Param studentId path string true "Student ID"
// @Param academicYearId query string false "Academic year (defaults to the current enrollment)"
// @Success 200 {object} response.Envelope
// @Router /fees/students/{studentId}/assignments [get]
func (h *FeeAssignmentHandler) Assignments(c *gin.Context) {
	items, err := h.ledger.ListForStudent(c.Request.Context(), c.Param("studentId"), c.Query("academicYearId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// LateFee godoc
// @Summary Preview the late fee of an assignment
// @Tags Fee Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Param asOf query string false "Date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /fees/assignments/{id}/late-fee [get]
func (h *FeeAssignmentHandler) LateFee(c *gin.Context) {
	asOf, err := parseOptionalDate(c.Query("asOf"), "asOf")
	if err != nil {
		response.Error(c, err)
		return
	}
	preview, err := h.ledger.LateFeePreview(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// OverdueSweep godoc
// @Summary Recompute overdue statuses
// @Description Runs the sweep synchronously. With async=true the sweep is queued and 202 is returned.
// @Tags Fee Assignments
// @Produce json
// @Param asOf query string false "Date (YYYY-MM-DD), defaults to today"
// @Param async query bool false "Queue instead of running inline"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /fees/overdue-sweep [post]
func (h *FeeAssignmentHandler) OverdueSweep(c *gin.Context) {
	asOf, err := parseOptionalDate(c.Query("asOf"), "asOf")
	if err != nil {
		response.Error(c, err)
		return
	}
	if c.Query("async") == "true" {
		if asOf.IsZero() {
			asOf = time.Now().UTC()
		}
		if err := h.sweeper.Trigger(asOf); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue overdue sweep"))
			return
		}
		response.Accepted(c, dto.SweepResult{AsOf: asOf.Format("2006-01-02")})
		return
	}
	updated, err := h.sweeper.RunNow(c.Request.Context(), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	response.JSON(c, http.StatusOK, dto.SweepResult{AsOf: asOf.Format("2006-01-02"), Updated: updated}, nil)
}

func parseOptionalDate(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, appErrors.Field(field, "must be a date in YYYY-MM-DD format")
	}
	return parsed, nil
}
