package ledger

import "errors"

var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrUserMismatch            = errors.New("transaction belongs to another user")
	ErrInvalidTransactionState = errors.New("transaction is not in a valid state for this operation")
	ErrIllegalRefund           = errors.New("refund exceeds the refundable remainder")
	ErrInvalidAmount           = errors.New("amount must be a positive number of cents")
	ErrUserBanned              = errors.New("user is banned")
	ErrRequestAlreadyFulfilled = errors.New("payment request already fulfilled")
)
