package engine

import (
	"errors"
	"fmt"
)

// AllocationError represents an error detected by the allocation engine.
//
// Allocation errors fall into two groups:
//   - Precondition errors: wrong transaction type, non-positive amount, duplicate
//     transaction, deleting a pool that is in use, insufficient funds under the
//     reject policy. The state is untouched.
//   - Invariant violations: a consumption references a missing pool, or the
//     conservation identity does not hold. Callers must schedule a full rebuild.
type AllocationError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// PoolID identifies the affected pool, if any.
	PoolID string

	// TransactionID identifies the affected transaction, if any.
	TransactionID string
}

// ErrorCode categorizes allocation errors.
type ErrorCode string

const (
	ErrCodeInvalidTransactionType ErrorCode = "INVALID_TRANSACTION_TYPE"
	ErrCodeInvalidAmount          ErrorCode = "INVALID_AMOUNT"
	ErrCodeDuplicateTransaction   ErrorCode = "DUPLICATE_TRANSACTION"
	ErrCodeConsumptionNotFound    ErrorCode = "CONSUMPTION_NOT_FOUND"
	ErrCodePoolNotFound           ErrorCode = "POOL_NOT_FOUND"
	ErrCodePoolInUse              ErrorCode = "POOL_IN_USE"
	ErrCodeInsufficientFunds      ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeConservation           ErrorCode = "CONSERVATION_VIOLATION"
)

// Sentinels for errors.Is. Matching compares the code only.
var (
	ErrInvalidTransactionType = &AllocationError{Code: ErrCodeInvalidTransactionType, Message: "wrong transaction type"}
	ErrInvalidAmount          = &AllocationError{Code: ErrCodeInvalidAmount, Message: "amount must be positive"}
	ErrDuplicateTransaction   = &AllocationError{Code: ErrCodeDuplicateTransaction, Message: "transaction already processed"}
	ErrConsumptionNotFound    = &AllocationError{Code: ErrCodeConsumptionNotFound, Message: "no consumptions for expense"}
	ErrPoolNotFound           = &AllocationError{Code: ErrCodePoolNotFound, Message: "pool not found"}
	ErrPoolInUse              = &AllocationError{Code: ErrCodePoolInUse, Message: "pool has been consumed"}
	ErrInsufficientFunds      = &AllocationError{Code: ErrCodeInsufficientFunds, Message: "insufficient funds"}
	ErrConservation           = &AllocationError{Code: ErrCodeConservation, Message: "conservation violated"}
)

// Error implements the error interface.
func (e *AllocationError) Error() string {
	switch {
	case e.TransactionID != "" && e.PoolID != "":
		return fmt.Sprintf("%s: %s (tx=%s, pool=%s)", e.Code, e.Message, e.TransactionID, e.PoolID)
	case e.TransactionID != "":
		return fmt.Sprintf("%s: %s (tx=%s)", e.Code, e.Message, e.TransactionID)
	case e.PoolID != "":
		return fmt.Sprintf("%s: %s (pool=%s)", e.Code, e.Message, e.PoolID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AllocationError with the same code.
func (e *AllocationError) Is(target error) bool {
	t, ok := target.(*AllocationError)
	return ok && t.Code == e.Code
}

func newError(code ErrorCode, txID, poolID, format string, args ...any) *AllocationError {
	return &AllocationError{
		Code:          code,
		Message:       fmt.Sprintf(format, args...),
		TransactionID: txID,
		PoolID:        poolID,
	}
}

// CodeOf returns the code of an AllocationError anywhere in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var ae *AllocationError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

// IsPoolInUse reports whether err is a pool-in-use error.
func IsPoolInUse(err error) bool {
	return errors.Is(err, ErrPoolInUse)
}

// IsConsumptionNotFound reports whether err is a consumption-not-found error.
func IsConsumptionNotFound(err error) bool {
	return errors.Is(err, ErrConsumptionNotFound)
}

// IsInsufficientFunds reports whether err refused an expense under DeficitReject.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsInvariantViolation reports whether err means the in-memory state no longer
// matches the log and a rebuild is required.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrPoolNotFound) || errors.Is(err, ErrConservation)
}

// IsPrecondition reports whether err is a rejected input that left the state untouched.
func IsPrecondition(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrCodeInvalidTransactionType, ErrCodeInvalidAmount, ErrCodeDuplicateTransaction,
		ErrCodePoolInUse, ErrCodeInsufficientFunds:
		return true
	}
	return false
}
