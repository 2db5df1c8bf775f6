package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Market creation.
	ErrInvalidQuestionLength = errors.New("question length out of bounds")
	ErrInvalidCloseTime      = errors.New("close time must be in the future")

	// Betting.
	ErrBettingClosed    = errors.New("betting is closed for this market")
	ErrBetAmountInvalid = errors.New("bet amount is invalid")
	ErrBetExists        = errors.New("bet already placed on this market")

	// Resolution.
	ErrAlreadyResolved = errors.New("market already resolved")
	ErrNotResolved     = errors.New("market not yet resolved")
	ErrMarketNotClosed = errors.New("market close time has not passed")

	// Claiming.
	ErrAlreadyClaimed = errors.New("winnings already claimed")
	ErrWrongBet       = errors.New("bet outcome is not the winner")
	ErrMarketMismatch = errors.New("market mismatch for this bet")
	ErrNoWinningPool  = errors.New("no stake on the winning side")

	// Arithmetic and ledger.
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvariantViolation marks a state the engine must never reach, such
	// as a pool balance going negative. It is not retryable.
	ErrInvariantViolation = errors.New("invariant violation")
)
