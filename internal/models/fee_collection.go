package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMode enumerates accepted payment instruments.
type PaymentMode string

const (
	PaymentModeCash         PaymentMode = "cash"
	PaymentModeCard         PaymentMode = "card"
	PaymentModeOnline       PaymentMode = "online"
	PaymentModeCheque       PaymentMode = "cheque"
	PaymentModeDD           PaymentMode = "dd"
	PaymentModeUPI          PaymentMode = "upi"
	PaymentModeBankTransfer PaymentMode = "bank_transfer"
)

// Valid reports whether the payment mode is supported.
func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentModeCash, PaymentModeCard, PaymentModeOnline, PaymentModeCheque,
		PaymentModeDD, PaymentModeUPI, PaymentModeBankTransfer:
		return true
	default:
		return false
	}
}

// RequiresReference reports whether the instrument must carry a reference number.
func (m PaymentMode) RequiresReference() bool {
	switch m {
	case PaymentModeCard, PaymentModeOnline, PaymentModeCheque, PaymentModeDD:
		return true
	default:
		return false
	}
}

// FundingKind tags the funding source persisted with a collection.
type FundingKind string

const (
	FundingKindAssignment     FundingKind = "assignment"
	FundingKindOptionalBundle FundingKind = "optional_bundle"
	FundingKindDirect         FundingKind = "direct"
)

// FundingSource is the concrete origin of a collected amount.
// Implementations: AssignmentFunding, OptionalBundleFunding, DirectFunding.
type FundingSource interface {
	Kind() FundingKind
}

// AssignmentFunding pays down a mandatory assignment, possibly alongside optional line items.
type AssignmentFunding struct {
	AssignmentID string
	// Amount is the share of the collection applied to the assignment balance.
	Amount decimal.Decimal
}

// Kind implements FundingSource.
func (AssignmentFunding) Kind() FundingKind { return FundingKindAssignment }

// OptionalBundleFunding pays only optional line items.
type OptionalBundleFunding struct{}

// Kind implements FundingSource.
func (OptionalBundleFunding) Kind() FundingKind { return FundingKindOptionalBundle }

// DirectFunding is an ad-hoc payment against a category with no ledger cap.
type DirectFunding struct {
	CategoryID  string
	Description string
}

// Kind implements FundingSource.
func (DirectFunding) Kind() FundingKind { return FundingKindDirect }

// LineItemKind distinguishes optional fees from explicitly included late fees.
type LineItemKind string

const (
	LineItemOptional LineItemKind = "optional"
	LineItemLateFee  LineItemKind = "late_fee"
)

// CollectionLineItem is one all-or-nothing item funded by a collection.
type CollectionLineItem struct {
	ID             string          `db:"id" json:"id"`
	CollectionID   string          `db:"collection_id" json:"collection_id"`
	Position       int             `db:"position" json:"position"`
	FeeStructureID string          `db:"fee_structure_id" json:"fee_structure_id"`
	Kind           LineItemKind    `db:"kind" json:"kind"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Description    string          `db:"description" json:"description"`
}

// FeeCollection is an append-only payment transaction.
type FeeCollection struct {
	ID                     string              `db:"id" json:"id"`
	StudentID              string              `db:"student_id" json:"student_id"`
	ReceiptNumber          string              `db:"receipt_number" json:"receipt_number"`
	Amount                 decimal.Decimal     `db:"amount" json:"amount"`
	PaymentMode            PaymentMode         `db:"payment_mode" json:"payment_mode"`
	ReferenceNumber        *string             `db:"reference_number" json:"reference_number,omitempty"`
	Remarks                string              `db:"remarks" json:"remarks"`
	CollectedByStaffID     string              `db:"collected_by_staff_id" json:"collected_by_staff_id"`
	CollectionDate         time.Time           `db:"collection_date" json:"collection_date"`
	IsVerified             bool                `db:"is_verified" json:"is_verified"`
	VerifiedByAdminID      *string             `db:"verified_by_admin_id" json:"verified_by_admin_id,omitempty"`
	VerifiedAt             *time.Time          `db:"verified_at" json:"verified_at,omitempty"`
	Semester               *Semester           `db:"semester" json:"semester,omitempty"`
	FundingKind            FundingKind         `db:"funding_kind" json:"funding_kind"`
	StudentFeeAssignmentID *string             `db:"student_fee_assignment_id" json:"student_fee_assignment_id,omitempty"`
	AssignmentAmount       decimal.NullDecimal `db:"assignment_amount" json:"assignment_amount"`
	AssignmentPendingAfter decimal.NullDecimal `db:"assignment_pending_after" json:"assignment_pending_after"`
	IsDirectPayment        bool                `db:"is_direct_payment" json:"is_direct_payment"`
	DirectFeeCategoryID    *string             `db:"direct_fee_category_id" json:"direct_fee_category_id,omitempty"`
	CreatedAt              time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time           `db:"updated_at" json:"updated_at"`

	LineItems []CollectionLineItem `db:"-" json:"line_items"`
}

// SetFunding writes the funding variant into the persisted columns, clearing the others.
func (c *FeeCollection) SetFunding(source FundingSource) {
	c.StudentFeeAssignmentID = nil
	c.AssignmentAmount = decimal.NullDecimal{}
	c.AssignmentPendingAfter = decimal.NullDecimal{}
	c.IsDirectPayment = false
	c.DirectFeeCategoryID = nil
	c.FundingKind = source.Kind()
	switch f := source.(type) {
	case AssignmentFunding:
		id := f.AssignmentID
		c.StudentFeeAssignmentID = &id
		c.AssignmentAmount = decimal.NewNullDecimal(f.Amount)
	case DirectFunding:
		id := f.CategoryID
		c.IsDirectPayment = true
		c.DirectFeeCategoryID = &id
	}
}

// Funding decodes the persisted columns back into the funding variant.
func (c FeeCollection) Funding() (FundingSource, error) {
	switch c.FundingKind {
	case FundingKindAssignment:
		if c.StudentFeeAssignmentID == nil || !c.AssignmentAmount.Valid || c.IsDirectPayment {
			return nil, fmt.Errorf("collection %s: malformed assignment funding", c.ID)
		}
		return AssignmentFunding{AssignmentID: *c.StudentFeeAssignmentID, Amount: c.AssignmentAmount.Decimal}, nil
	case FundingKindOptionalBundle:
		if c.StudentFeeAssignmentID != nil || c.IsDirectPayment {
			return nil, fmt.Errorf("collection %s: malformed optional bundle funding", c.ID)
		}
		return OptionalBundleFunding{}, nil
	case FundingKindDirect:
		if !c.IsDirectPayment || c.DirectFeeCategoryID == nil || c.StudentFeeAssignmentID != nil {
			return nil, fmt.Errorf("collection %s: malformed direct funding", c.ID)
		}
		return DirectFunding{CategoryID: *c.DirectFeeCategoryID, Description: c.Remarks}, nil
	default:
		return nil, fmt.Errorf("collection %s: unknown funding kind %q", c.ID, c.FundingKind)
	}
}

// CollectionFilter constrains collection listings.
type CollectionFilter struct {
	StudentID   string
	StaffID     string
	PaymentMode PaymentMode
	Verified    *bool
	Semester    Semester
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// CollectionResult is returned to the caller after a successful collect.
type CollectionResult struct {
	CollectionID  string          `json:"collection_id"`
	ReceiptNumber string          `json:"receipt_number"`
	Amount        decimal.Decimal `json:"amount"`
}
