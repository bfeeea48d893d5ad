package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Callers wrap them
// with fmt.Errorf("...: %w") and match with errors.Is.

var (
	// Ledger errors
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidKind       = errors.New("transaction kind not allowed for this operation")
	ErrBalanceNotFound   = errors.New("balance not found")
	ErrBalanceExists     = errors.New("balance already activated")

	// Lending errors
	ErrBorrowingLimitExceeded = errors.New("borrowing limit exceeded")
	ErrBelowMinimumLoan       = errors.New("amount below minimum loan")
	ErrLoanNotFound           = errors.New("loan not found")
	ErrLoanClosed             = errors.New("loan already repaid")
	ErrInvalidRepayment       = errors.New("invalid repayment method or purpose")

	// Marketplace errors
	ErrInvalidCategory   = errors.New("unknown service category")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrServiceNotFound   = errors.New("service not found")
	ErrRequestNotFound   = errors.New("service request not found")
	ErrHoursNotFound     = errors.New("service hour entry not found")
	ErrForbidden         = errors.New("participant not allowed to perform this action")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")

	// Participant errors
	ErrParticipantNotFound = errors.New("participant not found")
	ErrEmailTaken          = errors.New("email already registered")

	// Matching errors — never surfaced to users.
	ErrStaleTick = errors.New("matching snapshot changed during tick")
)
