package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AssignmentStatus is derived from the balance and due date, never written independently.
type AssignmentStatus string

const (
	AssignmentStatusPending AssignmentStatus = "pending"
	AssignmentStatusPartial AssignmentStatus = "partial"
	AssignmentStatusPaid    AssignmentStatus = "paid"
	AssignmentStatusOverdue AssignmentStatus = "overdue"
)

var (
	// ErrAmountExceedsPending is returned when a payment would drive the pending balance negative.
	ErrAmountExceedsPending = errors.New("amount exceeds pending balance")
	// ErrNonPositiveAmount is returned for zero or negative payments.
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	// ErrBalanceMismatch flags a row whose paid and pending amounts do not add up to the total.
	ErrBalanceMismatch = errors.New("paid and pending amounts do not sum to total")
)

// StudentFeeAssignment is a student's materialized obligation against one mandatory fee structure.
type StudentFeeAssignment struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	FeeStructureID string           `db:"fee_structure_id" json:"fee_structure_id"`
	AcademicYearID string           `db:"academic_year_id" json:"academic_year_id"`
	TotalAmount    decimal.Decimal  `db:"total_amount" json:"total_amount"`
	PaidAmount     decimal.Decimal  `db:"paid_amount" json:"paid_amount"`
	PendingAmount  decimal.Decimal  `db:"pending_amount" json:"pending_amount"`
	Status         AssignmentStatus `db:"status" json:"status"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
	CancelledAt    *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`

	// Joined from fee_structures / fee_categories.
	FeeCategoryID string              `db:"fee_category_id" json:"fee_category_id,omitempty"`
	CategoryName  string              `db:"category_name" json:"category_name,omitempty"`
	Semester      Semester            `db:"semester" json:"semester,omitempty"`
	DueDate       *time.Time          `db:"due_date" json:"due_date,omitempty"`
	LateFeeAmount decimal.NullDecimal `db:"late_fee_amount" json:"late_fee_amount"`
	LateFeeDays   *int                `db:"late_fee_days" json:"late_fee_days,omitempty"`
}

// NewAssignment builds a fresh pending obligation for the structure.
func NewAssignment(studentID string, structure FeeStructure, asOf time.Time) *StudentFeeAssignment {
	a := &StudentFeeAssignment{
		StudentID:      studentID,
		FeeStructureID: structure.ID,
		AcademicYearID: structure.AcademicYearID,
		TotalAmount:    structure.Amount,
		PaidAmount:     decimal.Zero,
		PendingAmount:  structure.Amount,
		FeeCategoryID:  structure.FeeCategoryID,
		CategoryName:   structure.CategoryName,
		Semester:       structure.Semester,
		DueDate:        structure.DueDate,
		LateFeeAmount:  structure.LateFeeAmount,
		LateFeeDays:    structure.LateFeeDays,
	}
	a.Status = a.DeriveStatus(asOf)
	return a
}

// OverdueAfter returns the last day before the balance counts as overdue, nil when no due date is set.
func (a StudentFeeAssignment) OverdueAfter() *time.Time {
	return graceEnd(a.DueDate, a.LateFeeDays)
}

// DeriveStatus computes the status from the balance and due date as of the given day.
func (a StudentFeeAssignment) DeriveStatus(asOf time.Time) AssignmentStatus {
	if !a.PendingAmount.IsPositive() {
		return AssignmentStatusPaid
	}
	if end := a.OverdueAfter(); end != nil && DateOnly(asOf).After(*end) {
		return AssignmentStatusOverdue
	}
	if a.PaidAmount.IsPositive() {
		return AssignmentStatusPartial
	}
	return AssignmentStatusPending
}

// ApplyPayment moves amount from pending to paid and re-derives the status.
// It rejects amounts above the pending balance instead of clamping them.
func (a *StudentFeeAssignment) ApplyPayment(amount decimal.Decimal, asOf time.Time) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if amount.GreaterThan(a.PendingAmount) {
		return ErrAmountExceedsPending
	}
	a.PaidAmount = a.PaidAmount.Add(amount)
	a.PendingAmount = a.PendingAmount.Sub(amount)
	a.Status = a.DeriveStatus(asOf)
	return a.CheckBalance()
}

// CheckBalance verifies paid + pending = total and pending >= 0.
func (a StudentFeeAssignment) CheckBalance() error {
	if a.PendingAmount.IsNegative() || !a.PaidAmount.Add(a.PendingAmount).Equal(a.TotalAmount) {
		return ErrBalanceMismatch
	}
	return nil
}

// IsLive reports whether the obligation still has money owed and is not cancelled.
func (a StudentFeeAssignment) IsLive() bool {
	return a.CancelledAt == nil && a.PendingAmount.IsPositive()
}

// AssignmentBalanceUpdate carries recomputed ledger columns for persistence.
type AssignmentBalanceUpdate struct {
	ID            string           `db:"id"`
	PaidAmount    decimal.Decimal  `db:"paid_amount"`
	PendingAmount decimal.Decimal  `db:"pending_amount"`
	Status        AssignmentStatus `db:"status"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

// BalanceUpdate snapshots the mutable ledger columns.
func (a StudentFeeAssignment) BalanceUpdate(at time.Time) AssignmentBalanceUpdate {
	return AssignmentBalanceUpdate{
		ID:            a.ID,
		PaidAmount:    a.PaidAmount,
		PendingAmount: a.PendingAmount,
		Status:        a.Status,
		UpdatedAt:     at,
	}
}

// ObligationSet is the resolver output for one student and semester.
type ObligationSet struct {
	StudentID      string               `json:"student_id"`
	GradeID        string               `json:"grade_id"`
	AcademicYearID string               `json:"academic_year_id"`
	Semester       Semester             `json:"semester"`
	Mandatory      []ResolvedObligation `json:"mandatory"`
	Optional       []OptionalOffering   `json:"optional"`
	// Superseded lists partly paid assignments whose global structure is now shadowed by a
	// grade-specific one. They stay collectable until settled.
	Superseded []StudentFeeAssignment `json:"superseded"`
}

// ResolvedObligation pairs an assignment with its informational late fee.
type ResolvedObligation struct {
	StudentFeeAssignment
	LateFee decimal.Decimal `json:"late_fee"`
}
