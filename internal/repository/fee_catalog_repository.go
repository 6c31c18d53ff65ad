package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/pkg/database"
)

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.New("duplicate record")

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

const structureColumns = `s.id, s.fee_category_id, c.name AS category_name, s.grade_id, s.academic_year_id, s.semester, s.amount, s.is_mandatory, s.due_date, s.late_fee_amount, s.late_fee_days, s.description, s.created_at, s.updated_at, s.deleted_at`

const structureFrom = `FROM fee_structures s JOIN fee_categories c ON c.id = s.fee_category_id`

// FeeCatalogRepository persists fee categories and fee structures.
type FeeCatalogRepository struct {
	db *sqlx.DB
}

// NewFeeCatalogRepository constructs a catalog repository.
func NewFeeCatalogRepository(db *sqlx.DB) *FeeCatalogRepository {
	return &FeeCatalogRepository{db: db}
}

// ListCategories returns all categories ordered by name.
func (r *FeeCatalogRepository) ListCategories(ctx context.Context) ([]models.FeeCategory, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM fee_categories ORDER BY name ASC`
	var categories []models.FeeCategory
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("list fee categories: %w", err)
	}
	return categories, nil
}

// GetCategory fetches a category by id.
func (r *FeeCatalogRepository) GetCategory(ctx context.Context, id string) (*models.FeeCategory, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM fee_categories WHERE id = $1`
	var category models.FeeCategory
	if err := r.db.GetContext(ctx, &category, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get fee category: %w", err)
	}
	return &category, nil
}

// CreateCategory inserts a new category.
func (r *FeeCatalogRepository) CreateCategory(ctx context.Context, category *models.FeeCategory) error {
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	category.CreatedAt = now
	category.UpdatedAt = now
	const query = `INSERT INTO fee_categories (id, name, description, created_at, updated_at) VALUES (:id, :name, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, category); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create fee category: %w", err)
	}
	return nil
}

// UpdateCategory updates name and description.
func (r *FeeCatalogRepository) UpdateCategory(ctx context.Context, category *models.FeeCategory) error {
	category.UpdatedAt = time.Now().UTC()
	const query = `UPDATE fee_categories SET name = :name, description = :description, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, category)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update fee category: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountLiveAssignmentsByCategory counts uncancelled assignments with money owed under the category.
func (r *FeeCatalogRepository) CountLiveAssignmentsByCategory(ctx context.Context, categoryID string) (int, error) {
	const query = `SELECT COUNT(*) FROM student_fee_assignments a JOIN fee_structures s ON s.id = a.fee_structure_id
WHERE s.fee_category_id = $1 AND a.cancelled_at IS NULL AND a.pending_amount > 0`
	var total int
	if err := r.db.GetContext(ctx, &total, query, categoryID); err != nil {
		return 0, fmt.Errorf("count live assignments by category: %w", err)
	}
	return total, nil
}

// GetStructure fetches a live structure by id.
func (r *FeeCatalogRepository) GetStructure(ctx context.Context, id string) (*models.FeeStructure, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE s.id = $1 AND s.deleted_at IS NULL`, structureColumns, structureFrom)
	var structure models.FeeStructure
	if err := r.db.GetContext(ctx, &structure, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get fee structure: %w", err)
	}
	return &structure, nil
}

// FindStructuresByIDs returns the live structures among ids.
func (r *FeeCatalogRepository) FindStructuresByIDs(ctx context.Context, ids []string) ([]models.FeeStructure, error) {
	if len(ids) == 0 {
		return []models.FeeStructure{}, nil
	}
	query := fmt.Sprintf(`SELECT %s %s WHERE s.id = ANY($1) AND s.deleted_at IS NULL`, structureColumns, structureFrom)
	var structures []models.FeeStructure
	if err := r.db.SelectContext(ctx, &structures, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find fee structures by ids: %w", err)
	}
	return structures, nil
}

// ListStructures returns live structures matching the filter.
func (r *FeeCatalogRepository) ListStructures(ctx context.Context, filter models.FeeStructureFilter) ([]models.FeeStructure, error) {
	var conditions []string
	var args []interface{}
	conditions = append(conditions, "s.deleted_at IS NULL")

	if filter.AcademicYearID != "" {
		args = append(args, filter.AcademicYearID)
		conditions = append(conditions, fmt.Sprintf("s.academic_year_id = $%d", len(args)))
	}
	if filter.GradeID != "" {
		args = append(args, filter.GradeID)
		if filter.IncludeGlobal {
			conditions = append(conditions, fmt.Sprintf("(s.grade_id = $%d OR s.grade_id IS NULL)", len(args)))
		} else {
			conditions = append(conditions, fmt.Sprintf("s.grade_id = $%d", len(args)))
		}
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		conditions = append(conditions, fmt.Sprintf("s.fee_category_id = $%d", len(args)))
	}
	if filter.Semester != "" {
		args = append(args, filter.Semester)
		conditions = append(conditions, fmt.Sprintf("(s.semester = $%d OR s.semester = 'both')", len(args)))
	}
	if filter.Mandatory != nil {
		args = append(args, *filter.Mandatory)
		conditions = append(conditions, fmt.Sprintf("s.is_mandatory = $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY s.is_mandatory DESC, s.grade_id NULLS LAST, c.name ASC, s.created_at ASC`,
		structureColumns, structureFrom, strings.Join(conditions, " AND "))
	var structures []models.FeeStructure
	if err := r.db.SelectContext(ctx, &structures, query, args...); err != nil {
		return nil, fmt.Errorf("list fee structures: %w", err)
	}
	return structures, nil
}

// FindMandatoryOverlap returns a live mandatory structure in the same scope whose semester overlaps.
func (r *FeeCatalogRepository) FindMandatoryOverlap(ctx context.Context, structure models.FeeStructure) (*models.FeeStructure, error) {
	args := []interface{}{structure.FeeCategoryID, structure.AcademicYearID, structure.GradeID, structure.Semester}
	exclude := ""
	if structure.ID != "" {
		args = append(args, structure.ID)
		exclude = "AND s.id <> $5"
	}
	query := fmt.Sprintf(`SELECT %s %s
WHERE s.deleted_at IS NULL AND s.is_mandatory = TRUE
AND s.fee_category_id = $1 AND s.academic_year_id = $2 AND s.grade_id IS NOT DISTINCT FROM $3
AND (s.semester = $4 OR s.semester = 'both' OR $4 = 'both')
%s
LIMIT 1`, structureColumns, structureFrom, exclude)
	var existing models.FeeStructure
	err := r.db.GetContext(ctx, &existing, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find overlapping mandatory structure: %w", err)
	}
	return &existing, nil
}

// CreateStructure inserts a new structure.
func (r *FeeCatalogRepository) CreateStructure(ctx context.Context, structure *models.FeeStructure) error {
	if structure.ID == "" {
		structure.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	structure.CreatedAt = now
	structure.UpdatedAt = now
	const query = `INSERT INTO fee_structures (id, fee_category_id, grade_id, academic_year_id, semester, amount, is_mandatory, due_date, late_fee_amount, late_fee_days, description, created_at, updated_at)
VALUES (:id, :fee_category_id, :grade_id, :academic_year_id, :semester, :amount, :is_mandatory, :due_date, :late_fee_amount, :late_fee_days, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, structure); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create fee structure: %w", err)
	}
	return nil
}

// UpdateStructure rewrites the mutable columns of a live structure.
func (r *FeeCatalogRepository) UpdateStructure(ctx context.Context, structure *models.FeeStructure) error {
	structure.UpdatedAt = time.Now().UTC()
	const query = `UPDATE fee_structures SET fee_category_id = :fee_category_id, grade_id = :grade_id, academic_year_id = :academic_year_id,
semester = :semester, amount = :amount, is_mandatory = :is_mandatory, due_date = :due_date, late_fee_amount = :late_fee_amount,
late_fee_days = :late_fee_days, description = :description, updated_at = :updated_at
WHERE id = :id AND deleted_at IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, structure)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update fee structure: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountLiveAssignments counts uncancelled assignments with money owed against the structure.
func (r *FeeCatalogRepository) CountLiveAssignments(ctx context.Context, structureID string) (int, error) {
	const query = `SELECT COUNT(*) FROM student_fee_assignments WHERE fee_structure_id = $1 AND cancelled_at IS NULL AND pending_amount > 0`
	var total int
	if err := r.db.GetContext(ctx, &total, query, structureID); err != nil {
		return 0, fmt.Errorf("count live assignments: %w", err)
	}
	return total, nil
}

// SoftDeleteStructure hides the structure and, when cancelAssignments is set, cancels its open assignments.
// It returns the number of cancelled assignments.
func (r *FeeCatalogRepository) SoftDeleteStructure(ctx context.Context, id string, cancelAssignments bool) (int64, error) {
	var cancelled int64
	err := database.WithTx(ctx, r.db, "delete structure", func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `UPDATE fee_structures SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, now)
		if err != nil {
			return fmt.Errorf("soft delete fee structure: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return sql.ErrNoRows
		}
		if !cancelAssignments {
			return nil
		}
		res, err = tx.ExecContext(ctx, `UPDATE student_fee_assignments SET cancelled_at = $2, updated_at = $2 WHERE fee_structure_id = $1 AND cancelled_at IS NULL`, id, now)
		if err != nil {
			return fmt.Errorf("cancel structure assignments: %w", err)
		}
		cancelled, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}
