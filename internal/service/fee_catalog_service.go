package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/dto"
	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/repository"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type feeCatalogStore interface {
	ListCategories(ctx context.Context) ([]models.FeeCategory, error)
	GetCategory(ctx context.Context, id string) (*models.FeeCategory, error)
	CreateCategory(ctx context.Context, category *models.FeeCategory) error
	UpdateCategory(ctx context.Context, category *models.FeeCategory) error
	CountLiveAssignmentsByCategory(ctx context.Context, categoryID string) (int, error)
	GetStructure(ctx context.Context, id string) (*models.FeeStructure, error)
	ListStructures(ctx context.Context, filter models.FeeStructureFilter) ([]models.FeeStructure, error)
	FindMandatoryOverlap(ctx context.Context, structure models.FeeStructure) (*models.FeeStructure, error)
	CreateStructure(ctx context.Context, structure *models.FeeStructure) error
	UpdateStructure(ctx context.Context, structure *models.FeeStructure) error
	CountLiveAssignments(ctx context.Context, structureID string) (int, error)
	SoftDeleteStructure(ctx context.Context, id string, cancelAssignments bool) (int64, error)
}

// FeeCatalogService manages fee categories and fee structures.
type FeeCatalogService struct {
	repo      feeCatalogStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFeeCatalogService constructs the catalog service.
func NewFeeCatalogService(repo feeCatalogStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *FeeCatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeCatalogService{repo: repo, audit: audit, validator: registerFeeValidations(validate), logger: logger}
}

// ListCategories returns every fee category.
func (s *FeeCatalogService) ListCategories(ctx context.Context) ([]models.FeeCategory, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee categories")
	}
	return categories, nil
}

// CreateCategory registers a new category.
func (s *FeeCatalogService) CreateCategory(ctx context.Context, req dto.FeeCategoryRequest) (*models.FeeCategory, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.FromValidation(err, "invalid fee category payload")
	}
	category := &models.FeeCategory{Name: strings.TrimSpace(req.Name), Description: strings.TrimSpace(req.Description)}
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "fee category name already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create fee category")
	}
	return category, nil
}

// UpdateCategory renames a category. Categories with money still owed under them are frozen.
func (s *FeeCatalogService) UpdateCategory(ctx context.Context, id string, req dto.FeeCategoryRequest) (*models.FeeCategory, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.FromValidation(err, "invalid fee category payload")
	}
	category, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee category not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee category")
	}
	live, err := s.repo.CountLiveAssignmentsByCategory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check category usage")
	}
	if live > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("category has %d assignments with a pending balance", live))
	}
	category.Name = strings.TrimSpace(req.Name)
	category.Description = strings.TrimSpace(req.Description)
	if err := s.repo.UpdateCategory(ctx, category); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Clone(appErrors.ErrConflict, "fee category name already exists")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee category not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update fee category")
	}
	return category, nil
}

// ListStructures returns live structures matching the query.
func (s *FeeCatalogService) ListStructures(ctx context.Context, query dto.FeeStructureQuery) ([]models.FeeStructure, error) {
	if query.Semester != "" && !query.Semester.Valid() {
		return nil, appErrors.Field("semester", "unsupported semester")
	}
	structures, err := s.repo.ListStructures(ctx, models.FeeStructureFilter{
		AcademicYearID: query.AcademicYearID,
		GradeID:        query.GradeID,
		IncludeGlobal:  true,
		CategoryID:     query.CategoryID,
		Semester:       query.Semester,
		Mandatory:      query.Mandatory,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee structures")
	}
	return structures, nil
}

// GetStructure returns a live structure.
func (s *FeeCatalogService) GetStructure(ctx context.Context, id string) (*models.FeeStructure, error) {
	structure, err := s.repo.GetStructure(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee structure")
	}
	return structure, nil
}

// CreateStructure adds a catalog entry, rejecting a second mandatory structure for an overlapping scope.
func (s *FeeCatalogService) CreateStructure(ctx context.Context, req dto.FeeStructureRequest) (*models.FeeStructure, error) {
	structure, err := s.structureFromRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	structure.ID = uuid.NewString()
	if err := s.ensureNoMandatoryOverlap(ctx, *structure); err != nil {
		return nil, err
	}
	if err := s.repo.CreateStructure(ctx, structure); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a mandatory structure already exists for this category, grade and semester")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create fee structure")
	}
	return structure, nil
}

// UpdateStructure edits a catalog entry. While assignments still owe money only the description,
// due date and late fee rule may change.
func (s *FeeCatalogService) UpdateStructure(ctx context.Context, id string, req dto.FeeStructureRequest) (*models.FeeStructure, error) {
	current, err := s.GetStructure(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := s.structureFromRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt

	if billingChanged(*current, *next) {
		live, err := s.repo.CountLiveAssignments(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check structure usage")
		}
		if live > 0 {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("structure has %d assignments with a pending balance", live))
		}
	}
	if err := s.ensureNoMandatoryOverlap(ctx, *next); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStructure(ctx, next); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Clone(appErrors.ErrConflict, "a mandatory structure already exists for this category, grade and semester")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update fee structure")
	}
	return next, nil
}

// DeleteStructure soft-deletes a structure. Without force it refuses while assignments still owe money;
// with force those assignments are cancelled in the same transaction.
func (s *FeeCatalogService) DeleteStructure(ctx context.Context, id string, force bool, actorID string) error {
	structure, err := s.GetStructure(ctx, id)
	if err != nil {
		return err
	}
	if !force {
		live, err := s.repo.CountLiveAssignments(ctx, id)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check structure usage")
		}
		if live > 0 {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("structure has %d assignments with a pending balance; use force to cancel them", live))
		}
	}
	cancelled, err := s.repo.SoftDeleteStructure(ctx, id, force)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "fee structure not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete fee structure")
	}
	s.logger.Info("fee structure deleted", zap.String("structure_id", id), zap.Bool("force", force), zap.Int64("cancelled_assignments", cancelled))

	oldValues, _ := json.Marshal(structure)
	newValues, _ := json.Marshal(map[string]interface{}{"force": force, "cancelled_assignments": cancelled})
	emitAudit(ctx, s.audit, s.logger, "fee-catalog-service", &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionFeeStructureDelete,
		Resource:   "fee_structure",
		ResourceID: &structure.ID,
		OldValues:  oldValues,
		NewValues:  newValues,
	})
	return nil
}

func (s *FeeCatalogService) structureFromRequest(ctx context.Context, req dto.FeeStructureRequest) (*models.FeeStructure, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.FromValidation(err, "invalid fee structure payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Field("amount", "amount must be greater than zero")
	}
	structure := &models.FeeStructure{
		FeeCategoryID:  strings.TrimSpace(req.FeeCategoryID),
		AcademicYearID: strings.TrimSpace(req.AcademicYearID),
		Semester:       models.Semester(strings.ToLower(string(req.Semester))),
		Amount:         req.Amount,
		IsMandatory:    req.IsMandatory,
		Description:    strings.TrimSpace(req.Description),
		GradeID:        optionalString(derefString(req.GradeID)),
	}
	if req.DueDate != "" {
		due, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			return nil, appErrors.Field("due_date", "due date must be formatted 2006-01-02")
		}
		structure.DueDate = &due
	}
	switch {
	case req.LateFeeAmount != nil:
		if req.LateFeeAmount.IsNegative() {
			return nil, appErrors.Field("late_fee_amount", "late fee cannot be negative")
		}
		if req.LateFeeDays == nil {
			return nil, appErrors.Field("late_fee_days", "late fee days are required with a late fee amount")
		}
		if structure.DueDate == nil {
			return nil, appErrors.Field("due_date", "a due date is required with a late fee rule")
		}
		structure.LateFeeAmount.Decimal = *req.LateFeeAmount
		structure.LateFeeAmount.Valid = true
		days := *req.LateFeeDays
		structure.LateFeeDays = &days
	case req.LateFeeDays != nil:
		return nil, appErrors.Field("late_fee_amount", "late fee amount is required with late fee days")
	}

	if _, err := s.repo.GetCategory(ctx, structure.FeeCategoryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Field("fee_category_id", "fee category not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee category")
	}
	return structure, nil
}

func (s *FeeCatalogService) ensureNoMandatoryOverlap(ctx context.Context, structure models.FeeStructure) error {
	if !structure.IsMandatory {
		return nil
	}
	existing, err := s.repo.FindMandatoryOverlap(ctx, structure)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check mandatory structures")
	}
	if existing != nil {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("mandatory structure %s already covers %s for this category and grade", existing.ID, existing.Semester))
	}
	return nil
}

func billingChanged(current, next models.FeeStructure) bool {
	return current.FeeCategoryID != next.FeeCategoryID ||
		current.AcademicYearID != next.AcademicYearID ||
		current.Semester != next.Semester ||
		current.IsMandatory != next.IsMandatory ||
		!current.Amount.Equal(next.Amount) ||
		!current.SameScope(next)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}
