package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// LateFee returns the late fee an assignment has attracted as of the given day.
// The amount is informational and never folded into the pending balance.
func LateFee(structure models.FeeStructure, assignment models.StudentFeeAssignment, asOf time.Time) decimal.Decimal {
	if !structure.LateFeeAmount.Valid || !structure.LateFeeAmount.Decimal.IsPositive() {
		return decimal.Zero
	}
	if assignment.CancelledAt != nil || !assignment.PendingAmount.IsPositive() {
		return decimal.Zero
	}
	end := structure.GraceEnd()
	if end == nil || !models.DateOnly(asOf).After(*end) {
		return decimal.Zero
	}
	return structure.LateFeeAmount.Decimal
}

// assignmentLateFee evaluates LateFee against the structure columns joined onto the assignment.
func assignmentLateFee(a models.StudentFeeAssignment, asOf time.Time) decimal.Decimal {
	return LateFee(models.FeeStructure{
		ID:            a.FeeStructureID,
		DueDate:       a.DueDate,
		LateFeeAmount: a.LateFeeAmount,
		LateFeeDays:   a.LateFeeDays,
	}, a, asOf)
}
