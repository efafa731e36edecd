package marketplace

import "errors"

// Error kinds surfaced by ledger operations. Every failed operation leaves
// the ledger state unchanged; match with errors.Is.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotListed           = errors.New("not listed")
	ErrAlreadyListed       = errors.New("already listed")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInvalidFeeRate      = errors.New("invalid fee rate")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrSettlementFailed    = errors.New("settlement failed")
	ErrOperatorMismatch    = errors.New("operator mismatch")
	ErrNotInitialized      = errors.New("ledger not initialized")
)
