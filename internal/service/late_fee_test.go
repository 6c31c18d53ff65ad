package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

func lateFeeStructure() models.FeeStructure {
	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	days := 7
	return models.FeeStructure{
		ID:            "fs-a",
		DueDate:       &due,
		LateFeeAmount: decimal.NewNullDecimal(decimal.NewFromInt(200)),
		LateFeeDays:   &days,
	}
}

func TestLateFee(t *testing.T) {
	structure := lateFeeStructure()
	open := models.StudentFeeAssignment{TotalAmount: decimal.NewFromInt(5000), PendingAmount: decimal.NewFromInt(5000)}
	paid := models.StudentFeeAssignment{TotalAmount: decimal.NewFromInt(5000), PaidAmount: decimal.NewFromInt(5000), PendingAmount: decimal.Zero}
	cancelledAt := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	cancelled := open
	cancelled.CancelledAt = &cancelledAt

	noDue := structure
	noDue.DueDate = nil
	noAmount := structure
	noAmount.LateFeeAmount = decimal.NullDecimal{}

	cases := []struct {
		name       string
		structure  models.FeeStructure
		assignment models.StudentFeeAssignment
		asOf       time.Time
		want       int64
	}{
		{"on due date", structure, open, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), 0},
		{"last grace day", structure, open, time.Date(2024, 6, 8, 23, 0, 0, 0, time.UTC), 0},
		{"after grace", structure, open, time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC), 200},
		{"paid assignment", structure, paid, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), 0},
		{"cancelled assignment", structure, cancelled, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), 0},
		{"no due date", noDue, open, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 0},
		{"no late fee configured", noAmount, open, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LateFee(tc.structure, tc.assignment, tc.asOf)
			assert.True(t, got.Equal(decimal.NewFromInt(tc.want)), "got %s", got)
		})
	}
}

func TestAssignmentLateFeeUsesJoinedColumns(t *testing.T) {
	structure := lateFeeStructure()
	assignment := models.StudentFeeAssignment{
		FeeStructureID: structure.ID,
		TotalAmount:    decimal.NewFromInt(5000),
		PaidAmount:     decimal.NewFromInt(3000),
		PendingAmount:  decimal.NewFromInt(2000),
		DueDate:        structure.DueDate,
		LateFeeAmount:  structure.LateFeeAmount,
		LateFeeDays:    structure.LateFeeDays,
	}
	got := assignmentLateFee(assignment, time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))
	assert.True(t, got.Equal(decimal.NewFromInt(200)))
}
