package isolation

import (
	"errors"
	"fmt"
)

// ErrPolicyMismatch is returned when a placement query is issued for a
// namespace this policy does not govern. It indicates a caller defect;
// the caller must select the correct policy before retrying.
var ErrPolicyMismatch = errors.New("isolation: namespace does not match policy")

// Pattern list field names used in PatternError.
const (
	FieldNamespaces = "namespaces"
	FieldPrimary    = "primary"
	FieldSecondary  = "secondary"
)

// PatternError reports a pattern that failed to compile at policy
// construction time. A policy with any invalid pattern is never built.
type PatternError struct {
	// Field is the pattern list the pattern belongs to.
	Field string
	// Pattern is the offending pattern source.
	Pattern string
	// Err is the underlying compile error.
	Err error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("isolation: invalid %s pattern %q: %v", e.Field, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}
