package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/dto"
	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/repository"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type assignmentStore interface {
	Materialize(ctx context.Context, assignment *models.StudentFeeAssignment) (*models.StudentFeeAssignment, error)
	GetByID(ctx context.Context, id string) (*models.StudentFeeAssignment, error)
	ListForStudent(ctx context.Context, studentID, academicYearID string) ([]models.StudentFeeAssignment, error)
	SweepOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

type structureGetter interface {
	GetStructure(ctx context.Context, id string) (*models.FeeStructure, error)
}

type ledgerTransactor interface {
	InTx(ctx context.Context, fn func(repository.LedgerTx) error) error
}

// AssignmentLedgerService owns per-student obligation balances.
type AssignmentLedgerService struct {
	assignments assignmentStore
	structures  structureGetter
	ledger      ledgerTransactor
	directory   studentDirectory
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewAssignmentLedgerService constructs the assignment ledger.
func NewAssignmentLedgerService(assignments assignmentStore, structures structureGetter, ledger ledgerTransactor, directory studentDirectory, metrics *MetricsService, logger *zap.Logger) *AssignmentLedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentLedgerService{
		assignments: assignments,
		structures:  structures,
		ledger:      ledger,
		directory:   directory,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Materialize creates the student's assignment for a mandatory structure, or returns the existing one.
func (s *AssignmentLedgerService) Materialize(ctx context.Context, structureID, studentID string) (*models.StudentFeeAssignment, error) {
	structure, err := s.structures.GetStructure(ctx, structureID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee structure")
	}
	if !structure.IsMandatory {
		return nil, appErrors.Field("fee_structure_id", "optional structures are paid as line items and never materialized")
	}
	assignment, err := s.assignments.Materialize(ctx, models.NewAssignment(studentID, *structure, s.now()))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to materialize fee assignment")
	}
	return assignment, nil
}

// ApplyPayment posts amount against the assignment under a row lock.
func (s *AssignmentLedgerService) ApplyPayment(ctx context.Context, assignmentID string, amount decimal.Decimal) (*models.StudentFeeAssignment, error) {
	var result *models.StudentFeeAssignment
	err := s.ledger.InTx(ctx, func(tx repository.LedgerTx) error {
		assignment, err := tx.LockAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if err := applyToAssignment(assignment, amount, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateAssignmentBalance(ctx, assignment.BalanceUpdate(s.now())); err != nil {
			return err
		}
		result = assignment
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err, "failed to apply payment")
	}
	return result, nil
}

// RecomputeOverdue reconciles assignment statuses with their due dates and returns the number of rows changed.
func (s *AssignmentLedgerService) RecomputeOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	start := time.Now()
	updated, err := s.assignments.SweepOverdue(ctx, models.DateOnly(asOf))
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to recompute overdue assignments")
	}
	if s.metrics != nil {
		s.metrics.RecordOverdueSweep(updated, time.Since(start))
	}
	s.logger.Info("overdue sweep completed", zap.Time("as_of", models.DateOnly(asOf)), zap.Int64("updated", updated))
	return updated, nil
}

// ListForStudent returns live and settled assignments; an empty academic year means the student's current one.
func (s *AssignmentLedgerService) ListForStudent(ctx context.Context, studentID, academicYearID string) ([]models.StudentFeeAssignment, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, appErrors.Field("student_id", "student id is required")
	}
	if strings.TrimSpace(academicYearID) == "" {
		placement, err := s.directory.StudentPlacement(ctx, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student has no active enrollment")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student placement")
		}
		academicYearID = placement.AcademicYearID
	}
	assignments, err := s.assignments.ListForStudent(ctx, studentID, academicYearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee assignments")
	}
	return assignments, nil
}

// LateFeePreview evaluates the late fee for an assignment without posting anything.
func (s *AssignmentLedgerService) LateFeePreview(ctx context.Context, assignmentID string, asOf time.Time) (*dto.LateFeePreview, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee assignment")
	}
	preview := &dto.LateFeePreview{
		AssignmentID:  assignment.ID,
		AsOf:          models.DateOnly(asOf).Format("2006-01-02"),
		PendingAmount: assignment.PendingAmount,
		LateFee:       assignmentLateFee(*assignment, asOf),
	}
	if end := assignment.OverdueAfter(); end != nil {
		formatted := end.Format("2006-01-02")
		preview.OverdueAfter = &formatted
	}
	return preview, nil
}

// applyToAssignment checks the locked row and moves amount from pending to paid.
func applyToAssignment(assignment *models.StudentFeeAssignment, amount decimal.Decimal, asOf time.Time) error {
	if assignment.CancelledAt != nil {
		return appErrors.Field("pending.assignment_id", "assignment has been cancelled")
	}
	switch err := assignment.ApplyPayment(amount, asOf); {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrAmountExceedsPending):
		return appErrors.Clone(appErrors.ErrOverpayment, fmt.Sprintf("amount %s exceeds pending balance %s", amount.StringFixed(2), assignment.PendingAmount.StringFixed(2)))
	case errors.Is(err, models.ErrNonPositiveAmount):
		return appErrors.Field("amount", "amount must be greater than zero")
	default:
		return err
	}
}

// mapLedgerError keeps typed errors raised inside a ledger transaction and wraps everything else.
func mapLedgerError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "record not found")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}
