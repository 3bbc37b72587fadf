// Package token provides the fungible-asset capabilities the treasury
// depends on: the collateral asset it holds in custody and the per-series
// debt tokens it mints and burns. The treasury only ever sees the Asset and
// Token interfaces; the in-process ledger implementations here stand in for
// whatever transfer mechanics a deployment wires up.
//
// All monetary values use shopspring/decimal — never float64 for money.
package token

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aniemerg/yieldtoken/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a transfer or burn exceeds the
	// holder's balance.
	ErrInsufficientFunds = errors.New("token: insufficient funds")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("token: amount must be positive")
)

// Asset is the transferable collateral asset. The treasury pulls deposits
// from accounts into its custody address and pushes withdrawals and payouts
// back out.
type Asset interface {
	// Transfer moves amount from one holder to another.
	Transfer(from, to model.Account, amount decimal.Decimal) error

	// BalanceOf returns the holder's balance.
	BalanceOf(holder model.Account) decimal.Decimal
}

// Token is one series' debt token. Instances are created only by the
// Factory and minted/burned only by the treasury core.
type Token interface {
	// Ticker returns the token's identity string.
	Ticker() string

	// Mint credits newly issued face value to a holder.
	Mint(to model.Account, amount decimal.Decimal) error

	// Burn destroys face value held by a holder.
	Burn(from model.Account, amount decimal.Decimal) error

	// Transfer moves face value between holders.
	Transfer(from, to model.Account, amount decimal.Decimal) error

	// BalanceOf returns the holder's face-value balance.
	BalanceOf(holder model.Account) decimal.Decimal

	// TotalSupply returns the outstanding face value.
	TotalSupply() decimal.Decimal
}

// ledger is a balance map shared by the in-process Asset and Token
// implementations.
type ledger struct {
	mu       sync.RWMutex
	balances map[model.Account]decimal.Decimal
}

func newLedger() *ledger {
	return &ledger{balances: make(map[model.Account]decimal.Decimal)}
}

func (l *ledger) credit(to model.Account, amount decimal.Decimal) {
	l.balances[to] = l.balances[to].Add(amount)
}

func (l *ledger) debit(from model.Account, amount decimal.Decimal) error {
	if l.balances[from].LessThan(amount) {
		return ErrInsufficientFunds
	}
	l.balances[from] = l.balances[from].Sub(amount)
	return nil
}

func (l *ledger) move(from, to model.Account, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

func (l *ledger) balanceOf(holder model.Account) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[holder]
}

// MemoryAsset is an in-process collateral asset ledger.
type MemoryAsset struct {
	ledger *ledger
}

// NewMemoryAsset creates an empty collateral asset ledger.
func NewMemoryAsset() *MemoryAsset {
	return &MemoryAsset{ledger: newLedger()}
}

// Issue credits freshly created collateral to a holder. Deployment/faucet
// concern, not part of the Asset capability the treasury sees.
func (a *MemoryAsset) Issue(to model.Account, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	a.ledger.credit(to, amount)
	return nil
}

func (a *MemoryAsset) Transfer(from, to model.Account, amount decimal.Decimal) error {
	return a.ledger.move(from, to, amount)
}

func (a *MemoryAsset) BalanceOf(holder model.Account) decimal.Decimal {
	return a.ledger.balanceOf(holder)
}

// MemoryToken is an in-process debt token ledger scoped to one series.
type MemoryToken struct {
	ticker string
	ledger *ledger
	supply decimal.Decimal
}

func (t *MemoryToken) Ticker() string { return t.ticker }

func (t *MemoryToken) Mint(to model.Account, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	t.ledger.credit(to, amount)
	t.supply = t.supply.Add(amount)
	return nil
}

func (t *MemoryToken) Burn(from model.Account, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	if err := t.ledger.debit(from, amount); err != nil {
		return err
	}
	t.supply = t.supply.Sub(amount)
	return nil
}

func (t *MemoryToken) Transfer(from, to model.Account, amount decimal.Decimal) error {
	return t.ledger.move(from, to, amount)
}

func (t *MemoryToken) BalanceOf(holder model.Account) decimal.Decimal {
	return t.ledger.balanceOf(holder)
}

func (t *MemoryToken) TotalSupply() decimal.Decimal {
	t.ledger.mu.RLock()
	defer t.ledger.mu.RUnlock()
	return t.supply
}

// Factory produces one fresh debt token instance per series.
type Factory interface {
	// NewToken instantiates the debt token for a series. The ticker is
	// derived from the series id and maturity via FormatTicker.
	NewToken(ticker string) Token
}

// MemoryFactory produces MemoryToken instances.
type MemoryFactory struct{}

func (MemoryFactory) NewToken(ticker string) Token {
	return &MemoryToken{ticker: ticker, ledger: newLedger()}
}
