// Package ratio implements the collateralization arithmetic for the
// treasurer: the issuance gate, the liquidation trigger, and the payout
// formulas used at liquidation, redemption, and close.
//
// The oracle price is the number of collateral units backing one unit of
// debt-token face value (e.g. 0.01 collateral per face unit). With that
// orientation every check in the protocol is a pure multiplication and
// comparison, so all arithmetic here is exact.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ratio

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRatio is returned when a deployment ratio is not above 1.
	ErrInvalidRatio = errors.New("ratio: collateralization ratios must exceed 1")

	// ErrRatioOrdering is returned when the issuance ratio does not
	// strictly exceed the liquidation ratio.
	ErrRatioOrdering = errors.New("ratio: collateral ratio must exceed min collateral ratio")

	// ErrInvalidPenalty is returned when the liquidation penalty is not
	// above 1.
	ErrInvalidPenalty = errors.New("ratio: liquidation penalty must exceed 1")
)

// Params are the fixed deployment parameters of the treasury. They are set
// once at construction and never change.
type Params struct {
	// CollateralRatio gates issuance: new debt requires
	// locked >= debt * price * CollateralRatio. Typically 1.5.
	CollateralRatio decimal.Decimal

	// MinCollateralRatio is the liquidation threshold: a repo is
	// liquidatable once locked < debt * price * MinCollateralRatio.
	// Typically 1.05, strictly below CollateralRatio.
	MinCollateralRatio decimal.Decimal

	// LiquidationPenalty scales the liquidator's collateral payout above
	// par to make liquidation profitable. Typically 1.05.
	LiquidationPenalty decimal.Decimal
}

// NewParams validates the deployment parameters.
func NewParams(collateralRatio, minCollateralRatio, liquidationPenalty decimal.Decimal) (Params, error) {
	one := decimal.NewFromInt(1)
	if collateralRatio.LessThanOrEqual(one) || minCollateralRatio.LessThanOrEqual(one) {
		return Params{}, ErrInvalidRatio
	}
	if collateralRatio.LessThanOrEqual(minCollateralRatio) {
		return Params{}, ErrRatioOrdering
	}
	if liquidationPenalty.LessThanOrEqual(one) {
		return Params{}, ErrInvalidPenalty
	}
	return Params{
		CollateralRatio:    collateralRatio,
		MinCollateralRatio: minCollateralRatio,
		LiquidationPenalty: liquidationPenalty,
	}, nil
}

// IssuanceOK reports whether a repo holding locked collateral against debt
// face value satisfies the issuance gate at the given price. The boundary is
// inclusive: a position at exactly CollateralRatio may issue.
func (p Params) IssuanceOK(locked, debt, price decimal.Decimal) bool {
	if debt.IsZero() {
		return true
	}
	required := debt.Mul(price).Mul(p.CollateralRatio)
	return locked.GreaterThanOrEqual(required)
}

// Liquidatable reports whether a repo has crossed the safety threshold.
// The boundary is exclusive: a position at exactly MinCollateralRatio is
// still safe.
func (p Params) Liquidatable(locked, debt, price decimal.Decimal) bool {
	if debt.IsZero() {
		return false
	}
	floor := debt.Mul(price).Mul(p.MinCollateralRatio)
	return locked.LessThan(floor)
}

// LiquidationPayout computes the collateral paid to a liquidator covering
// the given face amount of debt at the given price.
func (p Params) LiquidationPayout(cover, price decimal.Decimal) decimal.Decimal {
	return cover.Mul(price).Mul(p.LiquidationPenalty)
}

// RedemptionPayout computes the collateral owed for a face amount redeemed
// at the frozen settlement price.
func RedemptionPayout(face, settledPrice decimal.Decimal) decimal.Decimal {
	return face.Mul(settledPrice)
}

// CloseLeftover computes the collateral returned to a position holder when
// closing a repo after settlement: locked minus the debt's settlement value.
// Negative leftovers indicate an insolvent repo and are reported as-is for
// the caller to reject.
func CloseLeftover(locked, debt, settledPrice decimal.Decimal) decimal.Decimal {
	return locked.Sub(debt.Mul(settledPrice))
}
