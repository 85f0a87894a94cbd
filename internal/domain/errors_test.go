package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Invalid filter",
			code:      ErrCodeInvalidFilter,
			message:   "Unknown field",
			details:   "tier 1 predicate references field 'colour'",
			requestID: "req-123",
		},
		{
			name:      "Validator down",
			code:      ErrCodeValidationUnavailable,
			message:   "Validator unreachable",
			details:   "dial tcp: connection refused",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		code     string
	}{
		{"malformed", &MalformedSnapshotError{Line: 12, Field: "name", Reason: "is required"}, ErrMalformedSnapshot, ErrCodeMalformedSnapshot},
		{"duplicate", &DuplicateIdentifierError{ID: "HP:0000001"}, ErrDuplicateIdentifier, ErrCodeDuplicateIdentifier},
		{"schema", &SchemaValidationError{Field: "gene_symbol", Reason: "no column mapped"}, ErrSchemaValidation, ErrCodeSchemaValidation},
		{"filter", &InvalidFilterExpressionError{Tier: 1, Field: "colour", Reason: "unknown field"}, ErrInvalidFilter, ErrCodeInvalidFilter},
		{"unavailable", &ValidationUnavailableError{Descriptor: "c.1A>G", Cause: context.DeadlineExceeded}, ErrValidationUnavailable, ErrCodeValidationUnavailable},
		{"rejected", &ValidationRejectedError{Descriptor: "c.1A>G", Messages: []string{"bad ref"}}, ErrValidationRejected, ErrCodeValidationRejected},
		{"scope", &ScopeViolationError{Location: "research", Scope: "research", Records: 2}, ErrScopeViolation, ErrCodeScopeViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("operation: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("expected %v to match sentinel %v", wrapped, tt.sentinel)
			}
			if got := ErrorCode(wrapped); got != tt.code {
				t.Errorf("ErrorCode() = %s, want %s", got, tt.code)
			}
		})
	}
}

func TestValidationUnavailableIsDistinctFromRejected(t *testing.T) {
	unavailable := &ValidationUnavailableError{Descriptor: "NM_007294.4:c.68_69del", Cause: context.DeadlineExceeded}

	if errors.Is(unavailable, ErrValidationRejected) {
		t.Error("timeout must not look like a rejection")
	}
	if !errors.Is(unavailable, context.DeadlineExceeded) {
		t.Error("timeout cause should remain inspectable")
	}

	rejected := &ValidationRejectedError{Descriptor: "NM_007294.4:c.68_69del"}
	if errors.Is(rejected, ErrValidationUnavailable) {
		t.Error("rejection must not look retryable")
	}
}

func TestMalformedSnapshotErrorMessage(t *testing.T) {
	err := &MalformedSnapshotError{Line: 40, TermID: "HP:0000118", Field: "name", Reason: "is required"}
	want := "malformed snapshot at line 40 (term HP:0000118): field 'name' is required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("descriptor", "Invalid format", "c.?")
	expected := "validation error for field 'descriptor': Invalid format"
	if err.Error() != expected {
		t.Errorf("Expected error string %s, got %s", expected, err.Error())
	}
	if ErrorCode(err) != ErrCodeInvalidInput {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidInput, ErrorCode(err))
	}
}
