package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/pkg/database"
)

const assignmentColumns = `a.id, a.student_id, a.fee_structure_id, a.academic_year_id, a.total_amount, a.paid_amount, a.pending_amount, a.status,
a.created_at, a.updated_at, a.cancelled_at, s.fee_category_id, c.name AS category_name, s.semester, s.due_date, s.late_fee_amount, s.late_fee_days`

const assignmentFrom = `FROM student_fee_assignments a
JOIN fee_structures s ON s.id = a.fee_structure_id
JOIN fee_categories c ON c.id = s.fee_category_id`

// FeeAssignmentRepository persists student fee assignments.
type FeeAssignmentRepository struct {
	db *sqlx.DB
}

// NewFeeAssignmentRepository constructs an assignment repository.
func NewFeeAssignmentRepository(db *sqlx.DB) *FeeAssignmentRepository {
	return &FeeAssignmentRepository{db: db}
}

// Materialize inserts the assignment unless one already exists for (student, structure, year),
// then returns the stored row. Concurrent callers converge on the same row.
func (r *FeeAssignmentRepository) Materialize(ctx context.Context, assignment *models.StudentFeeAssignment) (*models.StudentFeeAssignment, error) {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	const query = `INSERT INTO student_fee_assignments (id, student_id, fee_structure_id, academic_year_id, total_amount, paid_amount, pending_amount, status, created_at, updated_at)
VALUES (:id, :student_id, :fee_structure_id, :academic_year_id, :total_amount, :paid_amount, :pending_amount, :status, :created_at, :updated_at)
ON CONFLICT (student_id, fee_structure_id, academic_year_id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return nil, fmt.Errorf("materialize fee assignment: %w", err)
	}
	return r.FindByKey(ctx, assignment.StudentID, assignment.FeeStructureID, assignment.AcademicYearID)
}

// FindByKey returns the student's assignment against a structure in an academic year, cancelled or not.
func (r *FeeAssignmentRepository) FindByKey(ctx context.Context, studentID, structureID, academicYearID string) (*models.StudentFeeAssignment, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE a.student_id = $1 AND a.fee_structure_id = $2 AND a.academic_year_id = $3`, assignmentColumns, assignmentFrom)
	var assignment models.StudentFeeAssignment
	if err := r.db.GetContext(ctx, &assignment, query, studentID, structureID, academicYearID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find fee assignment: %w", err)
	}
	return &assignment, nil
}

// CancelUnpaid cancels an assignment nothing has been paid against. It reports false when the row
// is already cancelled or a payment was posted first.
func (r *FeeAssignmentRepository) CancelUnpaid(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE student_fee_assignments SET cancelled_at = $2, updated_at = $2
WHERE id = $1 AND cancelled_at IS NULL AND paid_amount = 0`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("cancel unpaid fee assignment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel unpaid fee assignment: %w", err)
	}
	return rows > 0, nil
}

// GetByID returns an assignment including cancelled ones.
func (r *FeeAssignmentRepository) GetByID(ctx context.Context, id string) (*models.StudentFeeAssignment, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE a.id = $1`, assignmentColumns, assignmentFrom)
	var assignment models.StudentFeeAssignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get fee assignment: %w", err)
	}
	return &assignment, nil
}

// ListForStudent returns the uncancelled assignments of a student, optionally scoped to a year.
func (r *FeeAssignmentRepository) ListForStudent(ctx context.Context, studentID, academicYearID string) ([]models.StudentFeeAssignment, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE a.student_id = $1 AND a.cancelled_at IS NULL`, assignmentColumns, assignmentFrom)
	args := []interface{}{studentID}
	if academicYearID != "" {
		query += " AND a.academic_year_id = $2"
		args = append(args, academicYearID)
	}
	query += " ORDER BY s.due_date NULLS LAST, c.name ASC"
	var assignments []models.StudentFeeAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, fmt.Errorf("list student fee assignments: %w", err)
	}
	return assignments, nil
}

// SweepOverdue re-derives overdue status for every open assignment as of the given day.
// Rows past their grace period become overdue; rows whose grace period moved out again revert.
func (r *FeeAssignmentRepository) SweepOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	day := models.DateOnly(asOf)
	now := time.Now().UTC()

	const markOverdue = `UPDATE student_fee_assignments a SET status = 'overdue', updated_at = $2
FROM fee_structures s
WHERE s.id = a.fee_structure_id AND a.cancelled_at IS NULL AND a.pending_amount > 0 AND a.status <> 'overdue'
AND s.due_date IS NOT NULL AND s.due_date + COALESCE(s.late_fee_days, 0) < $1::date`
	const revert = `UPDATE student_fee_assignments a
SET status = CASE WHEN a.paid_amount > 0 THEN 'partial' ELSE 'pending' END, updated_at = $2
FROM fee_structures s
WHERE s.id = a.fee_structure_id AND a.cancelled_at IS NULL AND a.pending_amount > 0 AND a.status = 'overdue'
AND (s.due_date IS NULL OR s.due_date + COALESCE(s.late_fee_days, 0) >= $1::date)`

	var updated int64
	err := database.WithTx(ctx, r.db, "overdue sweep", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, markOverdue, day, now)
		if err != nil {
			return fmt.Errorf("mark overdue assignments: %w", err)
		}
		marked, _ := res.RowsAffected()

		res, err = tx.ExecContext(ctx, revert, day, now)
		if err != nil {
			return fmt.Errorf("revert overdue assignments: %w", err)
		}
		reverted, _ := res.RowsAffected()
		updated = marked + reverted
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}
