package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type studentDirectory interface {
	StudentPlacement(ctx context.Context, studentID string) (*models.StudentPlacement, error)
}

type structureLister interface {
	ListStructures(ctx context.Context, filter models.FeeStructureFilter) ([]models.FeeStructure, error)
}

type assignmentMaterializer interface {
	Materialize(ctx context.Context, assignment *models.StudentFeeAssignment) (*models.StudentFeeAssignment, error)
	FindByKey(ctx context.Context, studentID, structureID, academicYearID string) (*models.StudentFeeAssignment, error)
	CancelUnpaid(ctx context.Context, id string, at time.Time) (bool, error)
}

// ObligationService resolves which fee structures apply to a student and materializes the mandatory ones.
type ObligationService struct {
	directory   studentDirectory
	structures  structureLister
	assignments assignmentMaterializer
	logger      *zap.Logger
	now         func() time.Time
}

// NewObligationService wires the resolver dependencies.
func NewObligationService(directory studentDirectory, structures structureLister, assignments assignmentMaterializer, logger *zap.Logger) *ObligationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObligationService{
		directory:   directory,
		structures:  structures,
		assignments: assignments,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the student's mandatory assignments and optional offerings for the semester.
// A grade-specific mandatory structure shadows a global one of the same category.
func (s *ObligationService) Resolve(ctx context.Context, studentID string, semester models.Semester) (*models.ObligationSet, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, appErrors.Field("student_id", "student id is required")
	}
	semester = models.Semester(strings.ToLower(string(semester)))
	if !semester.Valid() {
		return nil, appErrors.Field("semester", "semester must be one of sem1, sem2 or both")
	}

	placement, err := s.directory.StudentPlacement(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student has no active enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student placement")
	}

	filter := models.FeeStructureFilter{
		AcademicYearID: placement.AcademicYearID,
		GradeID:        placement.GradeID,
		IncludeGlobal:  true,
		Semester:       semester,
	}
	structures, err := s.structures.ListStructures(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee structures")
	}

	set := &models.ObligationSet{
		StudentID:      studentID,
		GradeID:        placement.GradeID,
		AcademicYearID: placement.AcademicYearID,
		Semester:       semester,
		Mandatory:      []models.ResolvedObligation{},
		Optional:       []models.OptionalOffering{},
		Superseded:     []models.StudentFeeAssignment{},
	}

	var mandatory []models.FeeStructure
	for _, structure := range structures {
		if structure.IsMandatory {
			mandatory = append(mandatory, structure)
			continue
		}
		set.Optional = append(set.Optional, models.OptionalOffering{
			FeeStructureID: structure.ID,
			FeeCategoryID:  structure.FeeCategoryID,
			CategoryName:   structure.CategoryName,
			Description:    structure.Description,
			Semester:       structure.Semester,
			Amount:         structure.Amount,
			IsGlobal:       structure.IsGlobal(),
			DueDate:        structure.DueDate,
		})
	}

	asOf := s.now()
	applicable, shadowedGlobal := shadowGlobalMandatory(mandatory)
	for _, structure := range shadowedGlobal {
		superseded, err := s.retireShadowed(ctx, studentID, structure, asOf)
		if err != nil {
			return nil, err
		}
		if superseded != nil {
			set.Superseded = append(set.Superseded, *superseded)
		}
	}
	for _, structure := range applicable {
		assignment, err := s.assignments.Materialize(ctx, models.NewAssignment(studentID, structure, asOf))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to materialize fee assignment")
		}
		if assignment.CancelledAt != nil {
			continue
		}
		set.Mandatory = append(set.Mandatory, models.ResolvedObligation{
			StudentFeeAssignment: *assignment,
			LateFee:              LateFee(structure, *assignment, asOf),
		})
	}
	s.logger.Debug("obligations resolved",
		zap.String("student_id", studentID),
		zap.String("semester", string(semester)),
		zap.Int("mandatory", len(set.Mandatory)),
		zap.Int("optional", len(set.Optional)),
		zap.Int("superseded", len(set.Superseded)),
	)
	return set, nil
}

// retireShadowed cancels the student's unpaid assignment against a shadowed global structure.
// A partly paid one is returned instead so it can be settled.
func (s *ObligationService) retireShadowed(ctx context.Context, studentID string, structure models.FeeStructure, asOf time.Time) (*models.StudentFeeAssignment, error) {
	existing, err := s.assignments.FindByKey(ctx, studentID, structure.ID, structure.AcademicYearID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shadowed fee assignment")
	}
	if !existing.IsLive() {
		return nil, nil
	}
	if existing.PaidAmount.IsZero() {
		cancelled, err := s.assignments.CancelUnpaid(ctx, existing.ID, asOf)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel shadowed fee assignment")
		}
		if cancelled {
			s.logger.Info("cancelled shadowed global assignment",
				zap.String("assignment_id", existing.ID),
				zap.String("fee_structure_id", structure.ID),
			)
			return nil, nil
		}
		if existing, err = s.assignments.FindByKey(ctx, studentID, structure.ID, structure.AcademicYearID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload shadowed fee assignment")
		}
		if !existing.IsLive() {
			return nil, nil
		}
	}
	return existing, nil
}

// shadowGlobalMandatory splits off global structures whose category and semester are covered by a grade-specific one.
func shadowGlobalMandatory(structures []models.FeeStructure) (applicable, shadowedGlobal []models.FeeStructure) {
	specific := make(map[string][]models.Semester)
	for _, structure := range structures {
		if !structure.IsGlobal() {
			specific[structure.FeeCategoryID] = append(specific[structure.FeeCategoryID], structure.Semester)
		}
	}
	applicable = make([]models.FeeStructure, 0, len(structures))
	for _, structure := range structures {
		if structure.IsGlobal() && shadowed(specific[structure.FeeCategoryID], structure.Semester) {
			shadowedGlobal = append(shadowedGlobal, structure)
			continue
		}
		applicable = append(applicable, structure)
	}
	return applicable, shadowedGlobal
}

func shadowed(semesters []models.Semester, semester models.Semester) bool {
	for _, candidate := range semesters {
		if candidate.Overlaps(semester) {
			return true
		}
	}
	return false
}
