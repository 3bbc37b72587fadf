// Package risk implements optional issuance position limits.
//
// Deployments can cap the face value of debt a single repo may carry and the
// aggregate debt one account may carry across all series. Both caps default
// to zero, which means unlimited — the limiter then never rejects.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/aniemerg/yieldtoken/internal/model"
)

var (
	// ErrRepoLimitExceeded is returned when issuance would push a single
	// repo's debt beyond the per-repo maximum.
	ErrRepoLimitExceeded = errors.New("risk: per-repo debt limit exceeded")

	// ErrAccountLimitExceeded is returned when issuance would push an
	// account's aggregate debt across series beyond the account maximum.
	ErrAccountLimitExceeded = errors.New("risk: aggregate account debt limit exceeded")
)

// PositionLimiter enforces issuance debt caps.
type PositionLimiter struct {
	// MaxDebtPerRepo is the maximum debt face value in any single repo.
	// Zero means unlimited.
	MaxDebtPerRepo decimal.Decimal

	// MaxDebtPerAccount is the maximum aggregate debt face value one
	// account may carry across all series. Zero means unlimited.
	MaxDebtPerAccount decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given caps.
func NewPositionLimiter(maxPerRepo, maxPerAccount decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxDebtPerRepo:    maxPerRepo,
		MaxDebtPerAccount: maxPerAccount,
	}
}

// CheckIssue validates whether adding debtDelta to the target repo respects
// the configured caps.
//
// Parameters:
//   - target: series being issued into
//   - repoDebt: the target repo's debt before the issuance
//   - debtDelta: face value being issued
//   - accountDebt: the account's current debt per series, target included
func (l *PositionLimiter) CheckIssue(
	target model.SeriesID,
	repoDebt, debtDelta decimal.Decimal,
	accountDebt map[model.SeriesID]decimal.Decimal,
) error {
	if l == nil {
		return nil
	}

	// 1. Per-repo cap.
	newRepoDebt := repoDebt.Add(debtDelta)
	if l.MaxDebtPerRepo.IsPositive() && newRepoDebt.GreaterThan(l.MaxDebtPerRepo) {
		return ErrRepoLimitExceeded
	}

	// 2. Aggregate cap across all of the account's series.
	if l.MaxDebtPerAccount.IsPositive() {
		total := newRepoDebt
		for series, debt := range accountDebt {
			if series == target {
				continue // already counted via newRepoDebt above
			}
			total = total.Add(debt)
		}
		if total.GreaterThan(l.MaxDebtPerAccount) {
			return ErrAccountLimitExceeded
		}
	}

	return nil
}
