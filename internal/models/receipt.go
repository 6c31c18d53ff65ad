package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptView is the read-only, human-facing projection of a committed collection.
type ReceiptView struct {
	CollectionID       string          `db:"collection_id" json:"collection_id"`
	ReceiptNumber      string          `db:"receipt_number" json:"receipt_number"`
	SchoolName         string          `db:"-" json:"school_name"`
	StudentID          string          `db:"student_id" json:"student_id"`
	StudentName        string          `db:"student_name" json:"student_name"`
	StudentNumber      string          `db:"student_number" json:"student_number"`
	CollectedByStaffID string          `db:"collected_by_staff_id" json:"collected_by_staff_id"`
	CollectedByName    string          `db:"collected_by_name" json:"collected_by_name"`
	CollectionDate     time.Time       `db:"collection_date" json:"collection_date"`
	PaymentMode        PaymentMode     `db:"payment_mode" json:"payment_mode"`
	ReferenceNumber    *string         `db:"reference_number" json:"reference_number,omitempty"`
	Remarks            string          `db:"remarks" json:"remarks"`
	Amount             decimal.Decimal `db:"amount" json:"amount"`
	Semester           *Semester       `db:"semester" json:"semester,omitempty"`
	FundingKind        FundingKind     `db:"funding_kind" json:"funding_kind"`
	IsVerified         bool            `db:"is_verified" json:"is_verified"`
	VerifiedByAdminID  *string         `db:"verified_by_admin_id" json:"verified_by_admin_id,omitempty"`
	VerifiedAt         *time.Time      `db:"verified_at" json:"verified_at,omitempty"`
	DirectCategoryName *string         `db:"direct_category_name" json:"direct_category_name,omitempty"`

	AssignmentID           *string             `db:"assignment_id" json:"-"`
	AssignmentCategory     *string             `db:"assignment_category" json:"-"`
	AssignmentTotal        decimal.NullDecimal `db:"assignment_total" json:"-"`
	AssignmentAmount       decimal.NullDecimal `db:"assignment_amount" json:"-"`
	AssignmentPendingAfter decimal.NullDecimal `db:"assignment_pending_after" json:"-"`

	Assignment       *ReceiptAssignment `db:"-" json:"assignment,omitempty"`
	Lines            []ReceiptLine      `db:"-" json:"lines"`
	VerificationCode string             `db:"-" json:"verification_code"`
}

// ReceiptAssignment shows the obligation a receipt paid down and its balance right after posting.
type ReceiptAssignment struct {
	AssignmentID  string          `json:"assignment_id"`
	CategoryName  string          `json:"category_name"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AmountApplied decimal.Decimal `json:"amount_applied"`
	PendingAfter  decimal.Decimal `json:"pending_after"`
}

// ReceiptLine is one printed line of a receipt.
type ReceiptLine struct {
	Description    string          `json:"description"`
	FeeStructureID *string         `json:"fee_structure_id,omitempty"`
	Kind           string          `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
}

// ReceiptCheck reports whether a printed receipt code matches the ledger.
type ReceiptCheck struct {
	ReceiptNumber string          `json:"receipt_number"`
	Valid         bool            `json:"valid"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	IsVerified    bool            `json:"is_verified"`
}
