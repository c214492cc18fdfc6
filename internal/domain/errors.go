package domain

import "errors"

// Ledger rejection kinds. Every operation that returns one of these has made
// no state change.
var (
	ErrSystemPaused            = errors.New("system paused")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrDelegationNotActive     = errors.New("delegation not active")
	ErrMaxTradesReached        = errors.New("max concurrent trades reached")
	ErrPositionTooLarge        = errors.New("position size exceeds maximum")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidPrice            = errors.New("invalid price")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrPositionNotOpen         = errors.New("position not open")
	ErrPositionStillOpen       = errors.New("position still open")
	ErrInvalidPosition         = errors.New("position does not belong to delegation")
	ErrInvalidStrategy         = errors.New("invalid strategy")
	ErrCannotReduceBelowActive = errors.New("cannot reduce max trades below active trades")
	ErrHasActiveTrades         = errors.New("delegation has active trades")
	ErrMathOverflow            = errors.New("math overflow")
	ErrNotFound                = errors.New("not found")
)

// Lifecycle and storage errors.
var (
	ErrAlreadyExists      = errors.New("already exists")
	ErrAlreadyInitialized = errors.New("config already initialized")
	ErrNotInitialized     = errors.New("config not initialized")
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrVersionConflict    = errors.New("version conflict")
	ErrLockHeld           = errors.New("lock already held")
	ErrRateLimited        = errors.New("rate limited")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrSystemPaused, "SystemPaused"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrDelegationNotActive, "DelegationNotActive"},
	{ErrMaxTradesReached, "MaxTradesReached"},
	{ErrPositionTooLarge, "PositionTooLarge"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidPrice, "InvalidPrice"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrPositionNotOpen, "PositionNotOpen"},
	{ErrPositionStillOpen, "PositionStillOpen"},
	{ErrInvalidPosition, "InvalidPosition"},
	{ErrInvalidStrategy, "InvalidStrategy"},
	{ErrCannotReduceBelowActive, "CannotReduceBelowActive"},
	{ErrHasActiveTrades, "HasActiveTrades"},
	{ErrMathOverflow, "MathOverflow"},
	{ErrNotFound, "NotFound"},
	{ErrAlreadyExists, "AlreadyExists"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrInvalidIdentity, "InvalidIdentity"},
	{ErrVersionConflict, "VersionConflict"},
	{ErrLockHeld, "LockHeld"},
	{ErrRateLimited, "RateLimited"},
}

// ErrorCode returns the stable kind name for err, or "Internal" when err does
// not wrap any ledger error.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}

// ErrorForCode is the inverse of ErrorCode. It returns nil for "Internal" and
// unknown codes.
func ErrorForCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
