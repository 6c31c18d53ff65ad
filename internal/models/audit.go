package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionPasswordChange = "PASSWORD_CHANGE"

	AuditActionFeeCollect         = "FEE_COLLECT"
	AuditActionFeeVerify          = "FEE_VERIFY"
	AuditActionFeeAmend           = "FEE_AMEND"
	AuditActionFeeCategoryCreate  = "FEE_CATEGORY_CREATE"
	AuditActionFeeCategoryUpdate  = "FEE_CATEGORY_UPDATE"
	AuditActionFeeStructureCreate = "FEE_STRUCTURE_CREATE"
	AuditActionFeeStructureUpdate = "FEE_STRUCTURE_UPDATE"
	AuditActionFeeStructureDelete = "FEE_STRUCTURE_DELETE"
	AuditActionOverdueSweep       = "FEE_OVERDUE_SWEEP"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
