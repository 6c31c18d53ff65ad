package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

// DirectPayment selects the ad-hoc path: a payment against a category with no ledger cap.
type DirectPayment struct {
	CategoryID  string
	Description string
}

// CollectionInput holds a request after its referenced records have been loaded.
type CollectionInput struct {
	StudentID       string
	StaffID         string
	PaymentMode     models.PaymentMode
	ReferenceNumber string
	Remarks         string
	Semester        models.Semester
	CollectionDate  time.Time
	// Amount is the requested partial amount; nil means the authoritative total.
	Amount *decimal.Decimal

	Placement             *models.StudentPlacement
	Assignment            *models.StudentFeeAssignment
	OptionalFeeIDs        []string
	Optional              []models.FeeStructure
	IncludeLateFee        bool
	ExpectedPendingAmount *decimal.Decimal

	Direct *DirectPayment
}

// CollectionDraft is a validated collection ready for the payment ledger.
type CollectionDraft struct {
	Collection      models.FeeCollection
	Authoritative   decimal.Decimal
	AssignmentShare decimal.Decimal
	ExpectedPending *decimal.Decimal
}

// AssignmentID returns the funded assignment, empty when none.
func (d CollectionDraft) AssignmentID() string {
	if d.Collection.StudentFeeAssignmentID == nil {
		return ""
	}
	return *d.Collection.StudentFeeAssignmentID
}

// BuildCollection recomputes the payable total from the selection and validates the submitted amount against it.
// Line items are all-or-nothing; any shortfall is taken from the assignment share.
func BuildCollection(in CollectionInput) (*CollectionDraft, error) {
	if !in.PaymentMode.Valid() {
		return nil, appErrors.Field("payment_mode", "unsupported payment mode")
	}
	reference := strings.TrimSpace(in.ReferenceNumber)
	if in.PaymentMode.RequiresReference() && reference == "" {
		return nil, appErrors.Field("reference_number", fmt.Sprintf("reference number is required for %s payments", in.PaymentMode))
	}
	if in.Semester != "" && !in.Semester.Valid() {
		return nil, appErrors.Field("semester", "unsupported semester")
	}
	if in.Amount != nil && !in.Amount.IsPositive() {
		return nil, appErrors.Field("amount", "amount must be greater than zero")
	}

	collection := models.FeeCollection{
		StudentID:          in.StudentID,
		PaymentMode:        in.PaymentMode,
		Remarks:            strings.TrimSpace(in.Remarks),
		CollectedByStaffID: in.StaffID,
		CollectionDate:     models.DateOnly(in.CollectionDate),
	}
	if reference != "" {
		collection.ReferenceNumber = &reference
	}

	pendingSelected := in.Assignment != nil || len(in.OptionalFeeIDs) > 0 || in.IncludeLateFee
	if in.Direct != nil {
		if pendingSelected {
			return nil, appErrors.Field("funding", "choose either a pending payment or a direct payment, not both")
		}
		return buildDirect(in, collection)
	}
	return buildPending(in, collection)
}

func buildDirect(in CollectionInput, collection models.FeeCollection) (*CollectionDraft, error) {
	categoryID := strings.TrimSpace(in.Direct.CategoryID)
	description := strings.TrimSpace(in.Direct.Description)
	if categoryID == "" {
		return nil, appErrors.Field("direct.fee_category_id", "fee category is required for direct payments")
	}
	if description == "" {
		return nil, appErrors.Field("direct.description", "description is required for direct payments")
	}
	if in.Amount == nil {
		return nil, appErrors.Field("amount", "amount is required for direct payments")
	}
	if collection.Remarks != "" && collection.Remarks != description {
		description = description + " - " + collection.Remarks
	}
	collection.Remarks = description
	collection.Amount = *in.Amount
	collection.SetFunding(models.DirectFunding{CategoryID: categoryID, Description: description})

	return &CollectionDraft{Collection: collection, Authoritative: *in.Amount}, nil
}

func buildPending(in CollectionInput, collection models.FeeCollection) (*CollectionDraft, error) {
	assignment := in.Assignment
	if assignment != nil {
		if assignment.StudentID != in.StudentID {
			return nil, appErrors.Field("pending.assignment_id", "assignment does not belong to the student")
		}
		if assignment.CancelledAt != nil {
			return nil, appErrors.Field("pending.assignment_id", "assignment has been cancelled")
		}
		if in.ExpectedPendingAmount != nil && !in.ExpectedPendingAmount.Equal(assignment.PendingAmount) {
			return nil, appErrors.Clone(appErrors.ErrStaleAssignment, fmt.Sprintf("assignment pending is %s, expected %s", assignment.PendingAmount.StringFixed(2), in.ExpectedPendingAmount.StringFixed(2)))
		}
	}

	items, err := optionalLineItems(in)
	if err != nil {
		return nil, err
	}

	if in.IncludeLateFee {
		if assignment == nil {
			return nil, appErrors.Field("pending.include_late_fee", "late fee requires an assignment")
		}
		fee := assignmentLateFee(*assignment, in.CollectionDate)
		if !fee.IsPositive() {
			return nil, appErrors.Field("pending.include_late_fee", "no late fee is due on this assignment")
		}
		items = append(items, models.CollectionLineItem{
			FeeStructureID: assignment.FeeStructureID,
			Kind:           models.LineItemLateFee,
			Amount:         fee,
			Description:    fmt.Sprintf("Late fee: %s", assignment.CategoryName),
		})
	}

	// A settled assignment contributes nothing and is not a funding source on its own.
	if assignment != nil && !assignment.PendingAmount.IsPositive() {
		assignment = nil
	}
	if assignment == nil && len(items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoFundingSource, "select an assignment with a pending balance or at least one optional fee")
	}

	lineTotal := decimal.Zero
	for _, item := range items {
		lineTotal = lineTotal.Add(item.Amount)
	}
	pending := decimal.Zero
	if assignment != nil {
		pending = assignment.PendingAmount
	}
	authoritative := pending.Add(lineTotal)

	submitted := authoritative
	if in.Amount != nil {
		submitted = *in.Amount
	}
	if submitted.GreaterThan(authoritative) {
		return nil, appErrors.Clone(appErrors.ErrOverpayment, fmt.Sprintf("amount %s exceeds payable total %s", submitted.StringFixed(2), authoritative.StringFixed(2)))
	}
	if submitted.LessThan(lineTotal) {
		return nil, appErrors.Clone(appErrors.ErrUnderfundedMultiItem, fmt.Sprintf("amount %s does not cover selected items totalling %s", submitted.StringFixed(2), lineTotal.StringFixed(2)))
	}

	share := submitted.Sub(lineTotal)
	draft := &CollectionDraft{Authoritative: authoritative, ExpectedPending: in.ExpectedPendingAmount}
	if assignment != nil {
		if !share.IsPositive() {
			return nil, appErrors.Clone(appErrors.ErrUnderfundedMultiItem, "amount leaves nothing for the selected assignment")
		}
		draft.AssignmentShare = share
		collection.SetFunding(models.AssignmentFunding{AssignmentID: assignment.ID, Amount: share})
		if in.Semester == "" {
			semester := assignment.Semester
			collection.Semester = &semester
		}
	} else {
		collection.SetFunding(models.OptionalBundleFunding{})
	}
	if in.Semester != "" {
		semester := in.Semester
		collection.Semester = &semester
	}

	collection.Amount = submitted
	collection.LineItems = items
	draft.Collection = collection
	return draft, nil
}

func optionalLineItems(in CollectionInput) ([]models.CollectionLineItem, error) {
	if len(in.OptionalFeeIDs) == 0 {
		return nil, nil
	}
	byID := make(map[string]models.FeeStructure, len(in.Optional))
	for _, structure := range in.Optional {
		byID[structure.ID] = structure
	}

	seen := make(map[string]struct{}, len(in.OptionalFeeIDs))
	items := make([]models.CollectionLineItem, 0, len(in.OptionalFeeIDs))
	for _, id := range in.OptionalFeeIDs {
		if _, dup := seen[id]; dup {
			return nil, appErrors.Field("pending.optional_fee_ids", fmt.Sprintf("optional fee %s selected more than once", id))
		}
		seen[id] = struct{}{}

		structure, ok := byID[id]
		if !ok {
			return nil, appErrors.Field("pending.optional_fee_ids", fmt.Sprintf("optional fee %s not found", id))
		}
		if structure.IsMandatory {
			return nil, appErrors.Field("pending.optional_fee_ids", fmt.Sprintf("fee %s is mandatory and is paid through its assignment", id))
		}
		if in.Placement != nil {
			if structure.AcademicYearID != in.Placement.AcademicYearID {
				return nil, appErrors.Field("pending.optional_fee_ids", fmt.Sprintf("optional fee %s belongs to another academic year", id))
			}
			if !structure.IsGlobal() && *structure.GradeID != in.Placement.GradeID {
				return nil, appErrors.Field("pending.optional_fee_ids", fmt.Sprintf("optional fee %s is not offered to the student's grade", id))
			}
		}
		if in.Semester != "" && in.Semester != models.SemesterBoth && !structure.AppliesTo(in.Semester) {
			return nil, appErrors.Field("pending.optional_fee_ids", fmt.Sprintf("optional fee %s is not offered in %s", id, in.Semester))
		}

		description := structure.CategoryName
		if structure.Description != "" {
			description = structure.Description
		}
		items = append(items, models.CollectionLineItem{
			FeeStructureID: structure.ID,
			Kind:           models.LineItemOptional,
			Amount:         structure.Amount,
			Description:    description,
		})
	}
	return items, nil
}
