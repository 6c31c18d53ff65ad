package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Semester scopes a fee structure to part of the academic year.
type Semester string

const (
	SemesterOne  Semester = "sem1"
	SemesterTwo  Semester = "sem2"
	SemesterBoth Semester = "both"
)

// Valid reports whether the semester is one of the known values.
func (s Semester) Valid() bool {
	switch s {
	case SemesterOne, SemesterTwo, SemesterBoth:
		return true
	default:
		return false
	}
}

// Overlaps reports whether two semester scopes cover a common semester.
func (s Semester) Overlaps(other Semester) bool {
	if s == SemesterBoth || other == SemesterBoth {
		return true
	}
	return s == other
}

// FeeCategory groups fee structures under a common label (tuition, transport, lab...).
type FeeCategory struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// FeeStructure is a catalog definition of an amount owed for a grade (or all grades) in an academic year.
type FeeStructure struct {
	ID             string              `db:"id" json:"id"`
	FeeCategoryID  string              `db:"fee_category_id" json:"fee_category_id"`
	CategoryName   string              `db:"category_name" json:"category_name,omitempty"`
	GradeID        *string             `db:"grade_id" json:"grade_id,omitempty"`
	AcademicYearID string              `db:"academic_year_id" json:"academic_year_id"`
	Semester       Semester            `db:"semester" json:"semester"`
	Amount         decimal.Decimal     `db:"amount" json:"amount"`
	IsMandatory    bool                `db:"is_mandatory" json:"is_mandatory"`
	DueDate        *time.Time          `db:"due_date" json:"due_date,omitempty"`
	LateFeeAmount  decimal.NullDecimal `db:"late_fee_amount" json:"late_fee_amount"`
	LateFeeDays    *int                `db:"late_fee_days" json:"late_fee_days,omitempty"`
	Description    string              `db:"description" json:"description"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time          `db:"deleted_at" json:"-"`
}

// IsGlobal reports whether the structure applies to every grade.
func (s FeeStructure) IsGlobal() bool {
	return s.GradeID == nil || *s.GradeID == ""
}

// AppliesTo reports whether the structure is billed in the requested semester.
func (s FeeStructure) AppliesTo(semester Semester) bool {
	return s.Semester == SemesterBoth || s.Semester == semester
}

// SameScope reports whether both structures share category, grade scope and academic year.
func (s FeeStructure) SameScope(other FeeStructure) bool {
	if s.FeeCategoryID != other.FeeCategoryID || s.AcademicYearID != other.AcademicYearID {
		return false
	}
	if s.IsGlobal() || other.IsGlobal() {
		return s.IsGlobal() && other.IsGlobal()
	}
	return *s.GradeID == *other.GradeID
}

// GraceEnd returns the last day a balance may remain unpaid before it is overdue.
func (s FeeStructure) GraceEnd() *time.Time {
	return graceEnd(s.DueDate, s.LateFeeDays)
}

// FeeStructureFilter constrains catalog listing.
type FeeStructureFilter struct {
	AcademicYearID string
	GradeID        string
	IncludeGlobal  bool
	CategoryID     string
	Semester       Semester
	Mandatory      *bool
}

// OptionalOffering is a selectable optional fee shown next to a student's obligations.
type OptionalOffering struct {
	FeeStructureID string          `json:"fee_structure_id"`
	FeeCategoryID  string          `json:"fee_category_id"`
	CategoryName   string          `json:"category_name"`
	Description    string          `json:"description"`
	Semester       Semester        `json:"semester"`
	Amount         decimal.Decimal `json:"amount"`
	IsGlobal       bool            `json:"is_global"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
}

// StudentPlacement is the grade and academic year a student is enrolled in.
type StudentPlacement struct {
	StudentID      string `db:"student_id" json:"student_id"`
	GradeID        string `db:"grade_id" json:"grade_id"`
	AcademicYearID string `db:"academic_year_id" json:"academic_year_id"`
}

// DateOnly truncates a timestamp to its UTC calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func graceEnd(due *time.Time, lateFeeDays *int) *time.Time {
	if due == nil {
		return nil
	}
	end := DateOnly(*due)
	if lateFeeDays != nil && *lateFeeDays > 0 {
		end = end.AddDate(0, 0, *lateFeeDays)
	}
	return &end
}
