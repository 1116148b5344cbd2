package ledger

import "errors"

var (
	// ErrUserNotFound means the balance row to lock does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidAmount means a non-positive amount was supplied.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance means a withdrawal would drive the balance
	// negative. The operation is rejected with no state change.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
