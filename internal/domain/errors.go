package domain

import "errors"

var (
	// Precondition violations. State is unchanged and the call is safe to
	// retry once the offending condition has passed.
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrEventNotStartedYet      = errors.New("event has not started yet")
	ErrEventAlreadyEnded       = errors.New("event has already ended")
	ErrEventNotEndedYet        = errors.New("event has not ended yet")
	ErrMarketAlreadyLiquidated = errors.New("market already liquidated")
	ErrInvalidCoordinates      = errors.New("invalid coordinates")
	ErrInvalidTimeParameters   = errors.New("invalid time parameters")

	// Oracle/data errors. State is unchanged; the submitter is expected to
	// retry with a freshly produced proof.
	ErrInvalidOracleData = errors.New("invalid oracle data")
	ErrMalformedPayload  = errors.New("malformed attestation payload")

	// Vault gating errors, surfaced to depositors by the pool layer.
	ErrDepositsClosed      = errors.New("deposits closed")
	ErrWithdrawalsClosed   = errors.New("withdrawals closed")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// Lookup and infrastructure errors.
	ErrMarketNotFound = errors.New("market not found")
	ErrNotFound       = errors.New("not found")
	ErrLockHeld       = errors.New("lock already held")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limited")
)
