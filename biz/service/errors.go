package service

import (
	"errors"
	"fmt"
)

// Error taxonomy of the trading core. Handlers map these to HTTP codes;
// an InconsistencyError always aborts the enclosing transaction.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("order not found")
	ErrNotCancellable    = errors.New("order not cancellable")
	ErrOracleUnavailable = errors.New("price oracle unavailable")
)

// ValidationError reports a rejected request. No state change occurred.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InconsistencyError marks a broken ledger invariant, e.g. a release
// larger than the locked funds backing it. It is fatal to the operation
// and must never be absorbed silently.
type InconsistencyError struct {
	Op     string
	Detail string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("internal inconsistency in %s: %s", e.Op, e.Detail)
}

func inconsistencyf(op, format string, args ...any) error {
	return &InconsistencyError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// IsInconsistency reports whether err is a broken internal invariant.
func IsInconsistency(err error) bool {
	var ie *InconsistencyError
	return errors.As(err, &ie)
}
