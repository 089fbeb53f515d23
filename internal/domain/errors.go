package domain

import "errors"

// Business outcomes surfaced to callers with a specific message. Anything not
// matching one of these is treated as an unexpected storage/connectivity
// failure: logged in full server-side, returned to the caller as a generic
// error.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrProductNotFound     = errors.New("product not found or inactive")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("transaction status does not allow this operation")
	ErrAlreadyCompleted    = errors.New("transaction already completed")
	ErrAlreadyCancelled    = errors.New("transaction already cancelled")
	ErrAlreadyRefunded     = errors.New("transaction already refunded")
)
