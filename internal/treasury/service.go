// Package treasury implements the core of the collateralized debt issuance
// protocol: the vault of unlocked collateral, the series registry, the repo
// ledger, and the issuance, repayment, liquidation, settlement, redemption,
// and close operations over them.
//
// All monetary values use shopspring/decimal — never float64 for money.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aniemerg/yieldtoken/internal/clock"
	"github.com/aniemerg/yieldtoken/internal/metrics"
	"github.com/aniemerg/yieldtoken/internal/model"
	"github.com/aniemerg/yieldtoken/internal/oracle"
	"github.com/aniemerg/yieldtoken/internal/ratio"
	"github.com/aniemerg/yieldtoken/internal/risk"
	"github.com/aniemerg/yieldtoken/internal/store"
	"github.com/aniemerg/yieldtoken/internal/token"
)

// VaultAccount is the custody address holding all collateral the treasury
// controls: unlocked vault balances, locked repo collateral, and the
// settlement reserve backing unredeemed tokens.
const VaultAccount = model.Account("treasury-vault")

// Service executes all protocol operations. A single mutex serializes every
// mutating operation so that validation, persistence, and token effects of
// one operation never interleave with another (single-instance deployment).
type Service struct {
	params  ratio.Params
	store   store.Store
	asset   token.Asset
	factory token.Factory
	clock   clock.Clock
	limiter *risk.PositionLimiter
	hub     *Hub // optional WebSocket hub for real-time broadcasts

	mu     sync.Mutex
	oracle oracle.Oracle
	tokens map[model.SeriesID]token.Token
	nextID model.SeriesID
}

// NewService creates a treasury over the given collaborators. Pass nil for
// limiter to disable position limits, nil for hub if WebSocket broadcasting
// is not needed, and nil for clk to use the system clock.
func NewService(params ratio.Params, st store.Store, asset token.Asset, factory token.Factory, clk clock.Clock, limiter *risk.PositionLimiter, hub *Hub) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		params:  params,
		store:   st,
		asset:   asset,
		factory: factory,
		clock:   clk,
		limiter: limiter,
		hub:     hub,
		tokens:  make(map[model.SeriesID]token.Token),
	}
}

// Restore reloads the series registry from the store and reinstantiates the
// debt token for each known series. Token balances live in the external
// token ledgers and are not reconstructed here.
func (s *Service) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.store.ListSeries(ctx)
	if err != nil {
		return fmt.Errorf("restore series: %w", err)
	}

	active := 0
	for i := range all {
		sr := &all[i]
		s.tokens[sr.ID] = s.factory.NewToken(sr.TokenTicker)
		if sr.ID >= s.nextID {
			s.nextID = sr.ID + 1
		}
		if !sr.Settled() {
			active++
		}
	}
	metrics.ActiveSeries.Set(float64(active))

	slog.Info("treasury restored", "series", len(all), "active", active)
	return nil
}

// SetOracle wires the price source. One-time: a second call fails and leaves
// the original oracle in place.
func (s *Service) SetOracle(o oracle.Oracle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.oracle != nil {
		return ErrOracleAlreadySet
	}
	s.oracle = o
	slog.Info("oracle configured", "source", o.Source())
	return nil
}

// OracleSource returns the configured price source description.
func (s *Service) OracleSource() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.oracle == nil {
		return "", ErrOracleNotSet
	}
	return s.oracle.Source(), nil
}

// price reads the oracle exactly once. Every check an operation performs
// uses the single snapshot returned here.
func (s *Service) price(ctx context.Context) (decimal.Decimal, error) {
	if s.oracle == nil {
		return decimal.Zero, ErrOracleNotSet
	}
	p, err := s.oracle.CurrentPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.IsPositive() {
		return decimal.Zero, oracle.ErrInvalidPrice
	}
	return p, nil
}

// --- Mutating operations ---

// TopUpCollateral pulls collateral from the account into vault custody and
// credits the account's unlocked balance.
func (s *Service) TopUpCollateral(ctx context.Context, account model.Account, amount decimal.Decimal) (err error) {
	start := time.Now()
	defer func() { observe(model.OpDeposit, start, err) }()

	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.store.GetBalance(ctx, account)
	if err != nil {
		return err
	}

	// The asset transfer is the only fallible external effect; it runs
	// before any durable write and is reversed if the write fails.
	if err = s.asset.Transfer(account, VaultAccount, amount); err != nil {
		return err
	}

	entry := s.journal(model.OpDeposit, model.NoSeries, account, "", decimal.Zero, amount, decimal.Zero)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.PutBalance(ctx, account, balance.Add(amount)); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, entry)
	})
	if err != nil {
		s.asset.Transfer(VaultAccount, account, amount)
		return err
	}

	slog.Info("collateral deposited", "account", account, "amount", amount.String())
	s.emit(Event{Type: "collateral_deposited", Series: int64(model.NoSeries), Account: string(account), Collateral: amount.String()})
	return nil
}

// WithdrawCollateral debits the account's unlocked balance and pushes the
// collateral from vault custody back to the account.
func (s *Service) WithdrawCollateral(ctx context.Context, account model.Account, amount decimal.Decimal) (err error) {
	start := time.Now()
	defer func() { observe(model.OpWithdraw, start, err) }()

	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.store.GetBalance(ctx, account)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return ErrInsufficientBalance
	}

	if err = s.asset.Transfer(VaultAccount, account, amount); err != nil {
		return err
	}

	entry := s.journal(model.OpWithdraw, model.NoSeries, account, "", decimal.Zero, amount.Neg(), decimal.Zero)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.PutBalance(ctx, account, balance.Sub(amount)); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, entry)
	})
	if err != nil {
		s.asset.Transfer(account, VaultAccount, amount)
		return err
	}

	slog.Info("collateral withdrawn", "account", account, "amount", amount.String())
	s.emit(Event{Type: "collateral_withdrawn", Series: int64(model.NoSeries), Account: string(account), Collateral: amount.Neg().String()})
	return nil
}

// CreateSeries registers a new debt series maturing at the given time and
// instantiates its debt token. Series ids are dense and never reused.
func (s *Service) CreateSeries(ctx context.Context, maturity time.Time) (_ model.SeriesID, err error) {
	start := time.Now()
	defer func() { observe("create_series", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !maturity.After(now) {
		return 0, ErrInvalidMaturity
	}

	id := s.nextID
	ticker := token.FormatTicker(id, maturity)
	series := &model.Series{
		ID:           id,
		MaturityTime: maturity.UTC(),
		TokenTicker:  ticker,
		Status:       model.SeriesActive,
		CreatedAt:    now,
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		return tx.CreateSeries(ctx, series)
	})
	if err != nil {
		return 0, err
	}

	s.tokens[id] = s.factory.NewToken(ticker)
	s.nextID = id + 1
	metrics.ActiveSeries.Inc()

	slog.Info("series created", "series", id, "ticker", ticker, "maturity", maturity.UTC().Format(time.RFC3339))
	s.emit(Event{Type: "series_created", Series: int64(id), Ticker: ticker})
	return id, nil
}

// IssueDebt locks collateral from the account's unlocked balance into its
// repo and mints newly issued face value, provided the resulting position
// satisfies the issuance collateral ratio at the current oracle price. The
// boundary is inclusive: a position at exactly the ratio may issue.
func (s *Service) IssueDebt(ctx context.Context, account model.Account, id model.SeriesID, debtAmount, collateralToLock decimal.Decimal) (err error) {
	start := time.Now()
	defer func() { observe(model.OpIssue, start, err) }()

	if !debtAmount.IsPositive() || collateralToLock.IsNegative() {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series, err := s.getSeries(ctx, id)
	if err != nil {
		return err
	}
	if series.Settled() {
		return ErrAlreadySettled
	}

	price, err := s.price(ctx)
	if err != nil {
		return err
	}

	balance, err := s.store.GetBalance(ctx, account)
	if err != nil {
		return err
	}
	if balance.LessThan(collateralToLock) {
		return ErrInsufficientBalance
	}

	repo, err := s.loadRepo(ctx, id, account)
	if err != nil {
		return err
	}

	newLocked := repo.Locked.Add(collateralToLock)
	newDebt := repo.Debt.Add(debtAmount)
	if !s.params.IssuanceOK(newLocked, newDebt, price) {
		return ErrUnderCollateralized
	}

	if s.limiter != nil {
		accountDebt, err := s.accountDebt(ctx, account)
		if err != nil {
			return err
		}
		if err := s.limiter.CheckIssue(id, repo.Debt, debtAmount, accountDebt); err != nil {
			return err
		}
	}

	entry := s.journal(model.OpIssue, id, account, "", debtAmount, collateralToLock, price)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.PutBalance(ctx, account, balance.Sub(collateralToLock)); err != nil {
			return err
		}
		if err := tx.PutRepo(ctx, &model.Repo{
			Series:    id,
			Account:   account,
			Locked:    newLocked,
			Debt:      newDebt,
			UpdatedAt: s.clock.Now(),
		}); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, entry)
	})
	if err != nil {
		return err
	}

	// Mint cannot fail for a validated positive amount.
	s.tokens[id].Mint(account, debtAmount)
	metrics.LockedCollateral.Add(gauge(collateralToLock))

	slog.Info("debt issued",
		"series", id,
		"account", account,
		"debt", debtAmount.String(),
		"locked", collateralToLock.String(),
		"price", price.String(),
	)
	s.emit(Event{
		Type:       "debt_issued",
		Series:     int64(id),
		Account:    string(account),
		Debt:       debtAmount.String(),
		Collateral: collateralToLock.String(),
		Price:      price.String(),
	})
	return nil
}

// WipeDebt burns face value from the caller's token balance against the
// repo's debt and unlocks collateral back to the caller's unlocked balance.
// The token balance check runs before any state mutation. No ratio re-check
// follows the unlock; the caller may leave the position at any ratio.
func (s *Service) WipeDebt(ctx context.Context, account model.Account, id model.SeriesID, debtToBurn, collateralToUnlock decimal.Decimal) (err error) {
	start := time.Now()
	defer func() { observe(model.OpWipe, start, err) }()

	if debtToBurn.IsNegative() || collateralToUnlock.IsNegative() {
		return ErrInvalidAmount
	}
	if debtToBurn.IsZero() && collateralToUnlock.IsZero() {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err = s.getSeries(ctx, id); err != nil {
		return err
	}

	tok := s.tokens[id]
	if tok.BalanceOf(account).LessThan(debtToBurn) {
		return ErrInsufficientTokenBalance
	}

	repo, err := s.getRepo(ctx, id, account)
	if err != nil {
		return err
	}
	if repo.Debt.LessThan(debtToBurn) {
		return fmt.Errorf("%w: repo debt %s below %s", ErrInsufficientBalance, repo.Debt, debtToBurn)
	}
	if repo.Locked.LessThan(collateralToUnlock) {
		return fmt.Errorf("%w: repo collateral %s below %s", ErrInsufficientBalance, repo.Locked, collateralToUnlock)
	}

	balance, err := s.store.GetBalance(ctx, account)
	if err != nil {
		return err
	}

	entry := s.journal(model.OpWipe, id, account, "", debtToBurn.Neg(), collateralToUnlock.Neg(), decimal.Zero)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.PutRepo(ctx, &model.Repo{
			Series:    id,
			Account:   account,
			Locked:    repo.Locked.Sub(collateralToUnlock),
			Debt:      repo.Debt.Sub(debtToBurn),
			UpdatedAt: s.clock.Now(),
		}); err != nil {
			return err
		}
		if err := tx.PutBalance(ctx, account, balance.Add(collateralToUnlock)); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, entry)
	})
	if err != nil {
		return err
	}

	// Burn cannot fail after the balance check above.
	if debtToBurn.IsPositive() {
		tok.Burn(account, debtToBurn)
	}
	metrics.LockedCollateral.Sub(gauge(collateralToUnlock))

	slog.Info("debt wiped",
		"series", id,
		"account", account,
		"burned", debtToBurn.String(),
		"unlocked", collateralToUnlock.String(),
	)
	s.emit(Event{
		Type:       "debt_wiped",
		Series:     int64(id),
		Account:    string(account),
		Debt:       debtToBurn.Neg().String(),
		Collateral: collateralToUnlock.Neg().String(),
	})
	return nil
}

// Liquidate lets a third party cover part of an undercollateralized repo's
// debt in exchange for a penalty-scaled share of its collateral, paid
// directly from vault custody to the liquidator.
func (s *Service) Liquidate(ctx context.Context, liquidator model.Account, id model.SeriesID, debtor model.Account, cover decimal.Decimal) (err error) {
	start := time.Now()
	defer func() { observe(model.OpLiquidate, start, err) }()

	if !cover.IsPositive() {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series, err := s.getSeries(ctx, id)
	if err != nil {
		return err
	}
	if series.Settled() {
		return ErrAlreadySettled
	}

	price, err := s.price(ctx)
	if err != nil {
		return err
	}

	repo, err := s.getRepo(ctx, id, debtor)
	if err != nil {
		return err
	}
	if !s.params.Liquidatable(repo.Locked, repo.Debt, price) {
		return ErrNotLiquidatable
	}
	if cover.GreaterThan(repo.Debt) {
		return fmt.Errorf("%w: cover %s exceeds repo debt %s", ErrInvalidAmount, cover, repo.Debt)
	}

	tok := s.tokens[id]
	if tok.BalanceOf(liquidator).LessThan(cover) {
		return ErrInsufficientTokenBalance
	}

	payout := s.params.LiquidationPayout(cover, price)
	if payout.GreaterThan(repo.Locked) {
		return ErrExcessiveLiquidation
	}

	// All preconditions hold; the burn cannot fail, and the payout leaves
	// the vault which custodies at least the repo's locked collateral.
	tok.Burn(liquidator, cover)
	if err = s.asset.Transfer(VaultAccount, liquidator, payout); err != nil {
		tok.Mint(liquidator, cover)
		return err
	}

	entry := s.journal(model.OpLiquidate, id, debtor, liquidator, cover.Neg(), payout.Neg(), price)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.PutRepo(ctx, &model.Repo{
			Series:    id,
			Account:   debtor,
			Locked:    repo.Locked.Sub(payout),
			Debt:      repo.Debt.Sub(cover),
			UpdatedAt: s.clock.Now(),
		}); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, entry)
	})
	if err != nil {
		s.asset.Transfer(liquidator, VaultAccount, payout)
		tok.Mint(liquidator, cover)
		return err
	}

	metrics.LiquidationsTotal.Inc()
	metrics.LockedCollateral.Sub(gauge(payout))

	slog.Info("repo liquidated",
		"series", id,
		"debtor", debtor,
		"liquidator", liquidator,
		"covered", cover.String(),
		"payout", payout.String(),
		"price", price.String(),
	)
	s.emit(Event{
		Type:         "repo_liquidated",
		Series:       int64(id),
		Account:      string(debtor),
		Counterparty: string(liquidator),
		Debt:         cover.Neg().String(),
		Collateral:   payout.Neg().String(),
		Price:        price.String(),
	})
	return nil
}

// Settle freezes the series' redemption price at the current oracle price.
// One-way transition: no further issuance or liquidation afterward.
func (s *Service) Settle(ctx context.Context, id model.SeriesID) (err error) {
	start := time.Now()
	defer func() { observe(model.OpSettle, start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	series, err := s.getSeries(ctx, id)
	if err != nil {
		return err
	}
	if series.Settled() {
		return ErrAlreadySettled
	}
	if s.clock.Now().Before(series.MaturityTime) {
		return ErrNotMatured
	}

	price, err := s.price(ctx)
	if err != nil {
		return err
	}

	entry := s.journal(model.OpSettle, id, "", "", decimal.Zero, decimal.Zero, price)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.SettleSeries(ctx, id, price); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, entry)
	})
	if err != nil {
		return err
	}

	metrics.ActiveSeries.Dec()

	slog.Info("series settled", "series", id, "price", price.String())
	s.emit(Event{Type: "series_settled", Series: int64(id), Price: price.String()})
	return nil
}

// WithdrawFaceValue redeems face value after settlement: burns the caller's
// tokens and pays out collateral at the frozen settlement price, directly
// from vault custody.
func (s *Service) WithdrawFaceValue(ctx context.Context, account model.Account, id model.SeriesID, face decimal.Decimal) (err error) {
	start := time.Now()
	defer func() { observe(model.OpRedeem, start, err) }()

	if !face.IsPositive() {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series, err := s.getSeries(ctx, id)
	if err != nil {
		return err
	}
	if !series.Settled() {
		return ErrNotSettled
	}

	tok := s.tokens[id]
	if tok.BalanceOf(account).LessThan(face) {
		return ErrInsufficientTokenBalance
	}

	payout := ratio.RedemptionPayout(face, *series.SettledPrice)

	tok.Burn(account, face)
	if payout.IsPositive() {
		if err = s.asset.Transfer(VaultAccount, account, payout); err != nil {
			tok.Mint(account, face)
			return err
		}
	}

	entry := s.journal(model.OpRedeem, id, account, "", face.Neg(), payout.Neg(), *series.SettledPrice)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		return tx.AppendJournal(ctx, entry)
	})
	if err != nil {
		if payout.IsPositive() {
			s.asset.Transfer(account, VaultAccount, payout)
		}
		tok.Mint(account, face)
		return err
	}

	slog.Info("face value withdrawn",
		"series", id,
		"account", account,
		"face", face.String(),
		"payout", payout.String(),
	)
	s.emit(Event{
		Type:       "face_value_withdrawn",
		Series:     int64(id),
		Account:    string(account),
		Debt:       face.Neg().String(),
		Collateral: payout.String(),
		Price:      series.SettledPrice.String(),
	})
	return nil
}

// CloseRepo winds down a position after settlement: the debt's settlement
// value stays in vault custody backing unredeemed tokens, and the leftover
// collateral is paid directly to the position holder. The repo is zeroed.
func (s *Service) CloseRepo(ctx context.Context, account model.Account, id model.SeriesID) (err error) {
	start := time.Now()
	defer func() { observe(model.OpClose, start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	series, err := s.getSeries(ctx, id)
	if err != nil {
		return err
	}
	if !series.Settled() {
		return ErrNotSettled
	}

	repo, err := s.getRepo(ctx, id, account)
	if err != nil {
		return err
	}

	leftover := ratio.CloseLeftover(repo.Locked, repo.Debt, *series.SettledPrice)
	if leftover.IsNegative() {
		return fmt.Errorf("%w: repo insolvent at settlement price", ErrInsufficientBalance)
	}

	if leftover.IsPositive() {
		if err = s.asset.Transfer(VaultAccount, account, leftover); err != nil {
			return err
		}
	}

	entry := s.journal(model.OpClose, id, account, "", repo.Debt.Neg(), leftover.Neg(), *series.SettledPrice)
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.PutRepo(ctx, &model.Repo{
			Series:    id,
			Account:   account,
			Locked:    decimal.Zero,
			Debt:      decimal.Zero,
			UpdatedAt: s.clock.Now(),
		}); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, entry)
	})
	if err != nil {
		if leftover.IsPositive() {
			s.asset.Transfer(account, VaultAccount, leftover)
		}
		return err
	}

	metrics.LockedCollateral.Sub(gauge(repo.Locked))

	slog.Info("repo closed",
		"series", id,
		"account", account,
		"leftover", leftover.String(),
	)
	s.emit(Event{
		Type:       "repo_closed",
		Series:     int64(id),
		Account:    string(account),
		Debt:       repo.Debt.Neg().String(),
		Collateral: leftover.String(),
		Price:      series.SettledPrice.String(),
	})
	return nil
}

// --- Queries ---

// UnlockedBalance returns an account's unlocked vault balance.
func (s *Service) UnlockedBalance(ctx context.Context, account model.Account) (decimal.Decimal, error) {
	return s.store.GetBalance(ctx, account)
}

// GetSeries returns a series record.
func (s *Service) GetSeries(ctx context.Context, id model.SeriesID) (*model.Series, error) {
	return s.getSeries(ctx, id)
}

// ListSeries returns all series in id order.
func (s *Service) ListSeries(ctx context.Context) ([]model.Series, error) {
	return s.store.ListSeries(ctx)
}

// GetRepo returns the position for (series, account).
func (s *Service) GetRepo(ctx context.Context, id model.SeriesID, account model.Account) (*model.Repo, error) {
	if _, err := s.getSeries(ctx, id); err != nil {
		return nil, err
	}
	return s.getRepo(ctx, id, account)
}

// DebtTokenOf returns the debt token capability for a series.
func (s *Service) DebtTokenOf(id model.SeriesID) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	return tok, nil
}

// SettledPrice returns a series' frozen settlement price, or ErrNotSettled
// while the series is still active.
func (s *Service) SettledPrice(ctx context.Context, id model.SeriesID) (decimal.Decimal, error) {
	series, err := s.getSeries(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if !series.Settled() {
		return decimal.Zero, ErrNotSettled
	}
	return *series.SettledPrice, nil
}

// JournalBySeries returns all journal entries for a series.
func (s *Service) JournalBySeries(ctx context.Context, id model.SeriesID) ([]model.JournalEntry, error) {
	return s.store.JournalBySeries(ctx, id)
}

// JournalByAccount returns all journal entries touching an account.
func (s *Service) JournalByAccount(ctx context.Context, account model.Account) ([]model.JournalEntry, error) {
	return s.store.JournalByAccount(ctx, account)
}

// Params returns the fixed deployment parameters.
func (s *Service) Params() ratio.Params {
	return s.params
}

// --- Internal helpers ---

func (s *Service) getSeries(ctx context.Context, id model.SeriesID) (*model.Series, error) {
	series, err := s.store.GetSeries(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSeriesNotFound
	}
	return series, err
}

// getRepo requires an existing, non-empty position.
func (s *Service) getRepo(ctx context.Context, id model.SeriesID, account model.Account) (*model.Repo, error) {
	repo, err := s.store.GetRepo(ctx, id, account)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, err
	}
	if repo.Zero() {
		return nil, ErrRepoNotFound
	}
	return repo, nil
}

// loadRepo returns the position or an empty one for first-time issuers.
func (s *Service) loadRepo(ctx context.Context, id model.SeriesID, account model.Account) (*model.Repo, error) {
	repo, err := s.store.GetRepo(ctx, id, account)
	if errors.Is(err, store.ErrNotFound) {
		return &model.Repo{
			Series:  id,
			Account: account,
			Locked:  decimal.Zero,
			Debt:    decimal.Zero,
		}, nil
	}
	return repo, err
}

// accountDebt collects the account's current debt per series for the
// position limiter.
func (s *Service) accountDebt(ctx context.Context, account model.Account) (map[model.SeriesID]decimal.Decimal, error) {
	repos, err := s.store.ListAccountRepos(ctx, account)
	if err != nil {
		return nil, err
	}
	debt := make(map[model.SeriesID]decimal.Decimal, len(repos))
	for i := range repos {
		debt[repos[i].Series] = repos[i].Debt
	}
	return debt, nil
}

func (s *Service) journal(op string, id model.SeriesID, account, counterparty model.Account, debt, collateral, price decimal.Decimal) *model.JournalEntry {
	return &model.JournalEntry{
		ID:           uuid.New().String(),
		Op:           op,
		Series:       id,
		Account:      account,
		Counterparty: counterparty,
		Debt:         debt,
		Collateral:   collateral,
		Price:        price,
		Timestamp:    s.clock.Now(),
	}
}

func (s *Service) emit(ev Event) {
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

func observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "rejected"
	}
	metrics.OperationsTotal.WithLabelValues(op, status).Inc()
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// gauge converts a decimal for Prometheus gauges. Metrics only; protocol
// arithmetic never touches float64.
func gauge(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
