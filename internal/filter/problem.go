package filter

import (
	"fmt"
	"strings"

	"github.com/pitabwire/storefront/model"
)

// Reason is a machine-readable validation failure code.
type Reason string

// Reason codes produced by the pipeline stages. Semantic rules bring their
// own codes (see rules.go).
const (
	UnknownParameter   Reason = "UnknownParameter"
	UnknownSortKey     Reason = "UnknownSortKey"
	DuplicateParameter Reason = "DuplicateParameter"
	EmptyValue         Reason = "EmptyValue"
	NotANumber         Reason = "NotANumber"
	BelowMinimum       Reason = "BelowMinimum"
	InvalidBoolean     Reason = "InvalidBoolean"
	InvalidTimeFormat  Reason = "InvalidTimeFormat"
	InvalidChoice      Reason = "InvalidChoice"
	RangeInverted      Reason = "RangeInverted"
)

// Problem is one validation failure attached to a query-string key.
type Problem struct {
	Field   string
	Reason  Reason
	Message string
	// Allowed lists the accepted names or codes when that helps the client
	// correct the request (unknown parameters, sort keys, enum choices).
	Allowed []string
}

// ValidationError carries every problem found in one Normalize call, in
// pipeline order.
type ValidationError struct {
	Problems []Problem
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + ": " + p.Message
	}
	return fmt.Sprintf("filter: %d invalid parameter(s): %s", len(e.Problems), strings.Join(parts, "; "))
}

// Has reports whether a problem with the given field and reason was recorded.
func (e *ValidationError) Has(field string, reason Reason) bool {
	for _, p := range e.Problems {
		if p.Field == field && p.Reason == reason {
			return true
		}
	}
	return false
}

// Reasons returns the reason codes in pipeline order.
func (e *ValidationError) Reasons() []Reason {
	out := make([]Reason, len(e.Problems))
	for i, p := range e.Problems {
		out[i] = p.Reason
	}
	return out
}

// FieldErrors converts the problems to response field errors.
func (e *ValidationError) FieldErrors() []model.FieldError {
	out := make([]model.FieldError, len(e.Problems))
	for i, p := range e.Problems {
		out[i] = model.FieldError{Field: p.Field, Code: string(p.Reason), Message: p.Message}
	}
	return out
}

// Envelope renders the error as an INVALID_QUERY envelope.
func (e *ValidationError) Envelope() *model.ErrorEnvelope {
	return model.NewInvalidQueryError(e.FieldErrors())
}
