// Package model defines the core domain types shared across the treasurer.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is an opaque address-like identifier for a protocol participant.
type Account string

// SeriesID identifies a debt series. IDs are dense, monotonically increasing
// integers assigned at creation and never reused.
type SeriesID int64

// NoSeries marks journal entries for vault-level operations that are not
// scoped to any series.
const NoSeries SeriesID = -1

// Series lifecycle states.
const (
	SeriesActive  = "active"
	SeriesSettled = "settled"
)

// Series is one cohort of debt tokens sharing a maturity time and, once
// settled, a frozen redemption price. SettledPrice is write-once: it is nil
// until settlement and never mutated afterward.
type Series struct {
	ID           SeriesID         `json:"id" db:"id"`
	MaturityTime time.Time        `json:"maturity_time" db:"maturity_time"`
	TokenTicker  string           `json:"token_ticker" db:"token_ticker"`
	Status       string           `json:"status" db:"status"`
	SettledPrice *decimal.Decimal `json:"settled_price,omitempty" db:"settled_price"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

// Settled reports whether the series' redemption price has been frozen.
func (s *Series) Settled() bool {
	return s.SettledPrice != nil
}

// Repo is an account's collateralized debt position within one series.
// Both fields are non-negative at all times. A repo with both fields zero is
// logically deleted.
type Repo struct {
	Series    SeriesID        `json:"series" db:"series_id"`
	Account   Account         `json:"account" db:"account"`
	Locked    decimal.Decimal `json:"locked_collateral" db:"locked_collateral"`
	Debt      decimal.Decimal `json:"debt" db:"debt"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Zero reports whether the repo holds no collateral and no debt.
func (r *Repo) Zero() bool {
	return r.Locked.IsZero() && r.Debt.IsZero()
}

// Journal operation kinds.
const (
	OpDeposit   = "deposit"
	OpWithdraw  = "withdraw"
	OpIssue     = "issue"
	OpWipe      = "wipe"
	OpLiquidate = "liquidate"
	OpSettle    = "settle"
	OpRedeem    = "redeem"
	OpClose     = "close"
)

// JournalEntry is an immutable record of one completed mutating operation.
// Once created, these are never modified or deleted.
type JournalEntry struct {
	ID           string          `json:"id" db:"id"`
	Op           string          `json:"op" db:"op"`
	Series       SeriesID        `json:"series" db:"series_id"`
	Account      Account         `json:"account" db:"account"`
	Counterparty Account         `json:"counterparty,omitempty" db:"counterparty"`
	Debt         decimal.Decimal `json:"debt" db:"debt"`             // signed debt delta
	Collateral   decimal.Decimal `json:"collateral" db:"collateral"` // signed collateral delta
	Price        decimal.Decimal `json:"price" db:"price"`           // oracle price snapshotted by the op
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}
