package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// DirectoryRepository answers identity questions owned by the school directory.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs a directory repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// StudentPlacement returns the active grade enrollment of a student.
func (r *DirectoryRepository) StudentPlacement(ctx context.Context, studentID string) (*models.StudentPlacement, error) {
	const query = `SELECT e.student_id, e.grade_id, e.academic_year_id FROM grade_enrollments e
JOIN students st ON st.id = e.student_id
WHERE e.student_id = $1 AND e.active = TRUE AND st.active = TRUE
ORDER BY e.enrolled_at DESC LIMIT 1`
	var placement models.StudentPlacement
	if err := r.db.GetContext(ctx, &placement, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get student placement: %w", err)
	}
	return &placement, nil
}

// StudentExists reports whether an active student record exists.
func (r *DirectoryRepository) StudentExists(ctx context.Context, studentID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM students WHERE id = $1 AND active = TRUE)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID); err != nil {
		return false, fmt.Errorf("check student exists: %w", err)
	}
	return exists, nil
}

// StaffExists reports whether the user is an active account allowed to collect fees.
func (r *DirectoryRepository) StaffExists(ctx context.Context, staffID string) (bool, error) {
	return r.userHasRole(ctx, staffID, models.RoleStaff, models.RoleAdmin, models.RoleSuperAdmin)
}

// HasVerifyPermission reports whether the user is an active administrator.
func (r *DirectoryRepository) HasVerifyPermission(ctx context.Context, adminID string) (bool, error) {
	return r.userHasRole(ctx, adminID, models.RoleAdmin, models.RoleSuperAdmin)
}

func (r *DirectoryRepository) userHasRole(ctx context.Context, userID string, roles ...models.UserRole) (bool, error) {
	query, args, err := sqlx.In(`SELECT EXISTS(SELECT 1 FROM users WHERE id = ? AND active = TRUE AND role IN (?))`, userID, roles)
	if err != nil {
		return false, fmt.Errorf("build role query: %w", err)
	}
	var ok bool
	if err := r.db.GetContext(ctx, &ok, r.db.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("check user role: %w", err)
	}
	return ok, nil
}
