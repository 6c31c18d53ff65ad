package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// FeeCategoryRequest creates or renames a fee category.
type FeeCategoryRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// FeeStructureRequest defines a catalog entry.
type FeeStructureRequest struct {
	FeeCategoryID  string           `json:"fee_category_id" validate:"required"`
	GradeID        *string          `json:"grade_id"`
	AcademicYearID string           `json:"academic_year_id" validate:"required"`
	Semester       models.Semester  `json:"semester" validate:"required,semester"`
	Amount         decimal.Decimal  `json:"amount"`
	IsMandatory    bool             `json:"is_mandatory"`
	DueDate        string           `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	LateFeeAmount  *decimal.Decimal `json:"late_fee_amount"`
	LateFeeDays    *int             `json:"late_fee_days" validate:"omitempty,min=1"`
	Description    string           `json:"description" validate:"max=500"`
}

// FeeStructureQuery mirrors catalog listing filters.
type FeeStructureQuery struct {
	AcademicYearID string
	GradeID        string
	CategoryID     string
	Semester       models.Semester
	Mandatory      *bool
}

// PendingSelection pays a mandatory assignment and/or optional fees.
type PendingSelection struct {
	AssignmentID   string   `json:"assignment_id" validate:"omitempty,uuid"`
	OptionalFeeIDs []string `json:"optional_fee_ids" validate:"omitempty,dive,uuid"`
	IncludeLateFee bool     `json:"include_late_fee"`
	// ExpectedPendingAmount enables the optimistic balance check.
	ExpectedPendingAmount *decimal.Decimal `json:"expected_pending_amount"`
}

// DirectSelection records an ad-hoc payment against a category.
type DirectSelection struct {
	FeeCategoryID string `json:"fee_category_id" validate:"required,uuid"`
	Description   string `json:"description" validate:"required"`
}

// CollectFeeRequest is the single payload behind buildAndCollect. Exactly one of Pending or Direct is set.
type CollectFeeRequest struct {
	StudentID       string             `json:"student_id" validate:"required,uuid"`
	PaymentMode     models.PaymentMode `json:"payment_mode" validate:"required,payment_mode"`
	ReferenceNumber string             `json:"reference_number" validate:"max=100"`
	Remarks         string             `json:"remarks" validate:"max=500"`
	Semester        models.Semester    `json:"semester" validate:"omitempty,semester"`
	CollectionDate  string             `json:"collection_date" validate:"omitempty,datetime=2006-01-02"`
	Amount          *decimal.Decimal   `json:"amount"`
	Pending         *PendingSelection  `json:"pending"`
	Direct          *DirectSelection   `json:"direct"`
}

// AmendCollectionRequest edits non-financial fields of an unverified collection.
type AmendCollectionRequest struct {
	Remarks         *string `json:"remarks" validate:"omitempty,max=500"`
	ReferenceNumber *string `json:"reference_number" validate:"omitempty,max=100"`
}

// CollectionQuery mirrors supported collection listing filters.
type CollectionQuery struct {
	StudentID   string
	StaffID     string
	PaymentMode models.PaymentMode
	Verified    *bool
	Semester    models.Semester
	From        string
	To          string
	Page        int
	PageSize    int
}

// SweepResult reports the outcome of an overdue sweep.
type SweepResult struct {
	AsOf    string `json:"as_of"`
	Updated int64  `json:"updated"`
}

// LateFeePreview reports the late fee an assignment attracts on a given day.
type LateFeePreview struct {
	AssignmentID  string          `json:"assignment_id"`
	AsOf          string          `json:"as_of"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	OverdueAfter  *string         `json:"overdue_after,omitempty"`
	LateFee       decimal.Decimal `json:"late_fee"`
}
