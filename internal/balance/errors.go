package balance

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyClaimed    = errors.New("reward already claimed")
	ErrAlreadyInProgress = errors.New("unlock already in progress")
	ErrService           = errors.New("balance service unavailable")
	ErrTimeout           = errors.New("balance service timed out")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidRequest    = errors.New("invalid balance request")
	ErrAccountNotFound   = errors.New("account not found")
	ErrUnauthorized      = errors.New("not authorized")

	// ErrRequestConflict reports a request id reused for a different
	// operation. It is a kind of ErrInvalidRequest.
	ErrRequestConflict = fmt.Errorf("%w: request id already used for a different operation", ErrInvalidRequest)
)

// InsufficientFundsError carries the numbers a purchase prompt needs.
type InsufficientFundsError struct {
	Balance int64
	Amount  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, need %d", e.Balance, e.Amount)
}

// Owed is how many more coins the account needs.
func (e *InsufficientFundsError) Owed() int64 {
	if e.Amount <= e.Balance {
		return 0
	}
	return e.Amount - e.Balance
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// IsPermanent reports whether err is a terminal answer that retrying with the
// same request cannot change.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrAlreadyInProgress)
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrService) || errors.Is(err, ErrTimeout)
}
