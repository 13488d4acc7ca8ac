package models

import "errors"

// Ledger error taxonomy. Services wrap these with context via fmt.Errorf("...: %w", err);
// handlers map them to HTTP statuses with errors.Is.
var (
	// Validation
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidProvider   = errors.New("invalid provider address")
	ErrDuplicateJob      = errors.New("escrow already exists for job")
	ErrInsufficientFunds = errors.New("insufficient available balance")

	// Authorization
	ErrUnauthorized = errors.New("caller is not allowed to perform this operation")

	// State
	ErrNotFound       = errors.New("escrow not found")
	ErrAlreadySettled = errors.New("escrow already settled")
	ErrTooEarly       = errors.New("refund window has not opened yet")

	// External dependencies
	ErrVerifierNotConfigured = errors.New("no proof verifier configured")
	ErrVerificationFailed    = errors.New("proof verification failed")
	ErrTransferFailed        = errors.New("payout transfer failed")
	ErrNoResidual            = errors.New("no residual treasury balance to sweep")
)
