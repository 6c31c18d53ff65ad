package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Status  int               `json:"status"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned sentinels still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Fee ledger business-rule and state errors.
var (
	ErrOverpayment          = New("OVERPAYMENT", http.StatusUnprocessableEntity, "amount exceeds pending balance")
	ErrUnderfundedMultiItem = New("UNDERFUNDED_MULTI_ITEM", http.StatusUnprocessableEntity, "amount does not fully cover the selected fee items")
	ErrNoFundingSource      = New("NO_FUNDING_SOURCE", http.StatusUnprocessableEntity, "no payable fee selected")
	ErrStaleAssignment      = New("STALE_ASSIGNMENT", http.StatusConflict, "assignment balance changed, reload and retry")
	ErrAlreadyVerified      = New("ALREADY_VERIFIED", http.StatusConflict, "collection already verified")
	ErrImmutableRecord      = New("IMMUTABLE_RECORD", http.StatusConflict, "verified collection cannot be modified")
	ErrReceiptNotFound      = New("RECEIPT_NOT_FOUND", http.StatusNotFound, "receipt not found")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Field returns a validation error carrying a single field message.
func Field(field, message string) *Error {
	clone := Clone(ErrValidation, message)
	clone.Fields = map[string]string{field: message}
	return clone
}

// FromValidation converts validator output into a VALIDATION_ERROR with per-field messages.
func FromValidation(err error, message string) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Wrap(err, ErrValidation.Code, ErrValidation.Status, message)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[jsonFieldName(fe)] = describeTag(fe)
	}
	out := Wrap(err, ErrValidation.Code, ErrValidation.Status, message)
	out.Fields = fields
	return out
}

// jsonFieldName reports nested fields by their path below the validated struct, e.g. "direct.fee_category_id".
func jsonFieldName(fe validator.FieldError) string {
	if fe.Field() == "" {
		return strings.ToLower(fe.StructField())
	}
	if _, path, ok := strings.Cut(fe.Namespace(), "."); ok && path != "" {
		return path
	}
	return fe.Field()
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return "is required"
	case "gt", "gte", "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "uuid", "uuid4":
		return "must be a valid id"
	case "datetime":
		return fmt.Sprintf("must be a date formatted %s", fe.Param())
	case "payment_mode":
		return "must be one of: cash card online cheque dd upi bank_transfer"
	case "semester":
		return "must be one of: sem1 sem2 both"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
