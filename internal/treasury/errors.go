package treasury

import "errors"

// Operation failures. Every error aborts the whole operation with no partial
// effect; callers observe exactly one of these kinds (possibly wrapped with
// context) and may resubmit with corrected parameters.
var (
	// ErrInvalidMaturity is returned when creating a series whose maturity
	// is not strictly in the future.
	ErrInvalidMaturity = errors.New("treasury: maturity must be in the future")

	// ErrInvalidAmount is returned for non-positive or otherwise malformed
	// amounts.
	ErrInvalidAmount = errors.New("treasury: invalid amount")

	// ErrInsufficientBalance is returned when a withdrawal or unlock
	// exceeds the tracked balance.
	ErrInsufficientBalance = errors.New("treasury: insufficient balance")

	// ErrInsufficientTokenBalance is returned when a burn exceeds the
	// holder's debt-token balance. The check runs before any mutation.
	ErrInsufficientTokenBalance = errors.New("treasury: insufficient token balance")

	// ErrUnderCollateralized is returned when issuance would leave the
	// repo below the issuance collateral ratio.
	ErrUnderCollateralized = errors.New("treasury: position would be undercollateralized")

	// ErrNotLiquidatable is returned when liquidation is attempted on a
	// repo at or above the minimum collateral ratio.
	ErrNotLiquidatable = errors.New("treasury: repo is not liquidatable")

	// ErrExcessiveLiquidation is returned when a liquidation payout would
	// exceed the repo's locked collateral.
	ErrExcessiveLiquidation = errors.New("treasury: liquidation payout exceeds locked collateral")

	// ErrNotMatured is returned when settling a series before maturity.
	ErrNotMatured = errors.New("treasury: series has not matured")

	// ErrAlreadySettled is returned when settling a settled series, or
	// when issuing into or liquidating within one.
	ErrAlreadySettled = errors.New("treasury: series already settled")

	// ErrNotSettled is returned when redeeming or closing against a series
	// whose settlement price has not been frozen yet.
	ErrNotSettled = errors.New("treasury: series not settled")

	// ErrSeriesNotFound is returned for unknown series ids.
	ErrSeriesNotFound = errors.New("treasury: series not found")

	// ErrRepoNotFound is returned when no position exists for the
	// (series, account) pair.
	ErrRepoNotFound = errors.New("treasury: repo not found")

	// ErrOracleNotSet is returned by price-dependent operations before the
	// one-time setOracle call.
	ErrOracleNotSet = errors.New("treasury: oracle not configured")

	// ErrOracleAlreadySet is returned by a second setOracle call.
	ErrOracleAlreadySet = errors.New("treasury: oracle already configured")
)
