package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeMalformedSnapshot     = "MALFORMED_SNAPSHOT"
	ErrCodeDuplicateIdentifier   = "DUPLICATE_IDENTIFIER"
	ErrCodeSchemaValidation      = "SCHEMA_VALIDATION"
	ErrCodeInvalidFilter         = "INVALID_FILTER"
	ErrCodeValidationUnavailable = "VALIDATION_UNAVAILABLE"
	ErrCodeValidationRejected    = "VALIDATION_REJECTED"
	ErrCodeScopeViolation        = "SCOPE_VIOLATION"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeIndexNotLoaded        = "INDEX_NOT_LOADED"
	ErrCodeInternalServer        = "INTERNAL_SERVER_ERROR"
)

// Sentinels for errors.Is matching. Every typed error below unwraps to one.
var (
	ErrNotFound              = errors.New("not found")
	ErrMalformedSnapshot     = errors.New("malformed ontology snapshot")
	ErrDuplicateIdentifier   = errors.New("duplicate ontology identifier")
	ErrSchemaValidation      = errors.New("schema validation failed")
	ErrInvalidFilter         = errors.New("invalid filter expression")
	ErrValidationUnavailable = errors.New("validation service unavailable")
	ErrValidationRejected    = errors.New("descriptor rejected by validator")
	ErrIndexNotLoaded        = errors.New("no ontology index loaded")
	ErrScopeViolation        = errors.New("access scope violation")
)

// MalformedSnapshotError reports a concept missing a required field.
type MalformedSnapshotError struct {
	Line   int    `json:"line,omitempty"`
	TermID string `json:"term_id,omitempty"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *MalformedSnapshotError) Error() string {
	var b strings.Builder
	b.WriteString("malformed snapshot")
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	if e.TermID != "" {
		fmt.Fprintf(&b, " (term %s)", e.TermID)
	}
	fmt.Fprintf(&b, ": field '%s' %s", e.Field, e.Reason)
	return b.String()
}

func (e *MalformedSnapshotError) Unwrap() error { return ErrMalformedSnapshot }

// DuplicateIdentifierError reports two concepts sharing an identifier.
type DuplicateIdentifierError struct {
	ID string `json:"id"`
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("duplicate ontology identifier %s", e.ID)
}

func (e *DuplicateIdentifierError) Unwrap() error { return ErrDuplicateIdentifier }

// SchemaValidationError aborts a whole harmonization batch.
type SchemaValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation error for field '%s': %s", e.Field, e.Reason)
}

func (e *SchemaValidationError) Unwrap() error { return ErrSchemaValidation }

// HarmonizationWarning reports a skipped or partially harmonized row. It is
// collected alongside results, never returned as the operation's error.
type HarmonizationWarning struct {
	Row    int    `json:"row"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
	// Skipped is true when the row produced no record.
	Skipped bool `json:"skipped"`
}

func (w HarmonizationWarning) String() string {
	if w.Field == "" {
		return fmt.Sprintf("row %d: %s", w.Row, w.Reason)
	}
	return fmt.Sprintf("row %d, field '%s': %s", w.Row, w.Field, w.Reason)
}

// InvalidFilterExpressionError reports a structurally invalid query.
type InvalidFilterExpressionError struct {
	Tier   int    `json:"tier"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *InvalidFilterExpressionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid filter expression in tier %d: %s", e.Tier, e.Reason)
	}
	return fmt.Sprintf("invalid filter expression in tier %d, field '%s': %s", e.Tier, e.Field, e.Reason)
}

func (e *InvalidFilterExpressionError) Unwrap() error { return ErrInvalidFilter }

// ValidationUnavailableError means the validator could not be reached or did
// not answer in time. Callers may retry.
type ValidationUnavailableError struct {
	Descriptor string `json:"descriptor"`
	Cause      error  `json:"-"`
}

func (e *ValidationUnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("validation unavailable for %s", e.Descriptor)
	}
	return fmt.Sprintf("validation unavailable for %s: %v", e.Descriptor, e.Cause)
}

// Is matches both the sentinel and the wrapped cause.
func (e *ValidationUnavailableError) Is(target error) bool {
	return target == ErrValidationUnavailable
}

func (e *ValidationUnavailableError) Unwrap() error { return e.Cause }

// ValidationRejectedError means the descriptor is syntactically or
// semantically invalid. Retrying will not help.
type ValidationRejectedError struct {
	Descriptor string   `json:"descriptor"`
	Messages   []string `json:"messages"`
}

func (e *ValidationRejectedError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("descriptor %s rejected", e.Descriptor)
	}
	return fmt.Sprintf("descriptor %s rejected: %s", e.Descriptor, strings.Join(e.Messages, "; "))
}

func (e *ValidationRejectedError) Unwrap() error { return ErrValidationRejected }

// ScopeViolationError reports records whose storage location scope may not
// leave this deployment.
type ScopeViolationError struct {
	Location string `json:"location"`
	Scope    string `json:"scope"`
	Records  int    `json:"records"`
}

func (e *ScopeViolationError) Error() string {
	return fmt.Sprintf("%d record(s) in location %s have scope %q, which is not allowed here", e.Records, e.Location, e.Scope)
}

func (e *ScopeViolationError) Unwrap() error { return ErrScopeViolation }

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ErrorCode maps an error onto the API error code it should be reported as.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedSnapshot):
		return ErrCodeMalformedSnapshot
	case errors.Is(err, ErrDuplicateIdentifier):
		return ErrCodeDuplicateIdentifier
	case errors.Is(err, ErrSchemaValidation):
		return ErrCodeSchemaValidation
	case errors.Is(err, ErrInvalidFilter):
		return ErrCodeInvalidFilter
	case errors.Is(err, ErrValidationUnavailable):
		return ErrCodeValidationUnavailable
	case errors.Is(err, ErrValidationRejected):
		return ErrCodeValidationRejected
	case errors.Is(err, ErrIndexNotLoaded):
		return ErrCodeIndexNotLoaded
	case errors.Is(err, ErrScopeViolation):
		return ErrCodeScopeViolation
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	default:
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ErrCodeInvalidInput
		}
		return ErrCodeInternalServer
	}
}
