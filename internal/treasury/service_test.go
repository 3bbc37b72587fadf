package treasury_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aniemerg/yieldtoken/internal/clock"
	"github.com/aniemerg/yieldtoken/internal/model"
	"github.com/aniemerg/yieldtoken/internal/oracle"
	"github.com/aniemerg/yieldtoken/internal/ratio"
	"github.com/aniemerg/yieldtoken/internal/risk"
	"github.com/aniemerg/yieldtoken/internal/store"
	"github.com/aniemerg/yieldtoken/internal/token"
	"github.com/aniemerg/yieldtoken/internal/treasury"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type env struct {
	svc   *treasury.Service
	st    *store.MemoryStore
	asset *token.MemoryAsset
	ora   *oracle.Fixed
	clk   *clock.Manual
}

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// newBareEnv creates a test Service without an oracle wired.
func newBareEnv(t *testing.T, limiter *risk.PositionLimiter) *env {
	t.Helper()

	params, err := ratio.NewParams(d(1.5), d(1.05), d(1.05))
	if err != nil {
		t.Fatalf("params: %v", err)
	}

	st := store.NewMemoryStore()
	asset := token.NewMemoryAsset()
	clk := clock.NewManual(testStart)
	svc := treasury.NewService(params, st, asset, token.MemoryFactory{}, clk, limiter, nil)

	return &env{svc: svc, st: st, asset: asset, clk: clk}
}

// newTestEnv creates a test Service with a fixed oracle at price 0.01
// (1 collateral unit backs 100 face units).
func newTestEnv(t *testing.T) *env {
	t.Helper()
	e := newBareEnv(t, nil)

	ora, err := oracle.NewFixed(d(0.01))
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	if err := e.svc.SetOracle(ora); err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	e.ora = ora
	return e
}

// fund mints collateral to the account and deposits it into the vault.
func (e *env) fund(t *testing.T, account model.Account, amount decimal.Decimal) {
	t.Helper()
	if err := e.asset.Issue(account, amount); err != nil {
		t.Fatalf("issue collateral: %v", err)
	}
	if err := e.svc.TopUpCollateral(context.Background(), account, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

// newSeries creates a series maturing 30 days from the manual clock.
func (e *env) newSeries(t *testing.T) model.SeriesID {
	t.Helper()
	id, err := e.svc.CreateSeries(context.Background(), e.clk.Now().Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	return id
}

// --- Vault tests ---

func TestTopUpCollateral(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(10))

	balance, err := e.svc.UnlockedBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(d(10)) {
		t.Errorf("expected balance 10, got %s", balance)
	}
	if got := e.asset.BalanceOf(treasury.VaultAccount); !got.Equal(d(10)) {
		t.Errorf("vault custody should hold 10, got %s", got)
	}
	if got := e.asset.BalanceOf("alice"); !got.IsZero() {
		t.Errorf("alice should hold 0 after deposit, got %s", got)
	}
}

func TestTopUpCollateral_NoFunds(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	err := e.svc.TopUpCollateral(ctx, "alice", d(10))
	if !errors.Is(err, token.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	balance, _ := e.svc.UnlockedBalance(ctx, "alice")
	if !balance.IsZero() {
		t.Errorf("balance should stay zero, got %s", balance)
	}
}

func TestWithdrawCollateral(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(10))
	if err := e.svc.WithdrawCollateral(ctx, "alice", d(4)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	balance, _ := e.svc.UnlockedBalance(ctx, "alice")
	if !balance.Equal(d(6)) {
		t.Errorf("expected balance 6, got %s", balance)
	}
	if got := e.asset.BalanceOf("alice"); !got.Equal(d(4)) {
		t.Errorf("alice should hold 4, got %s", got)
	}
}

func TestWithdrawCollateral_Insufficient(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(10))
	err := e.svc.WithdrawCollateral(ctx, "alice", d(11))
	if !errors.Is(err, treasury.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	balance, _ := e.svc.UnlockedBalance(ctx, "alice")
	if !balance.Equal(d(10)) {
		t.Errorf("balance should stay 10, got %s", balance)
	}
}

// --- Series registry tests ---

func TestCreateSeries_DenseIDs(t *testing.T) {
	e := newTestEnv(t)

	first := e.newSeries(t)
	second := e.newSeries(t)

	if first != 0 || second != 1 {
		t.Errorf("expected ids 0 and 1, got %d and %d", first, second)
	}

	series, err := e.svc.GetSeries(context.Background(), first)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if series.TokenTicker != "YTK-0-20260131" {
		t.Errorf("unexpected ticker %s", series.TokenTicker)
	}
	if series.Settled() {
		t.Error("fresh series should not be settled")
	}
}

func TestCreateSeries_PastMaturity(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.svc.CreateSeries(context.Background(), e.clk.Now().Add(-time.Hour))
	if !errors.Is(err, treasury.ErrInvalidMaturity) {
		t.Fatalf("expected invalid maturity, got %v", err)
	}

	_, err = e.svc.CreateSeries(context.Background(), e.clk.Now())
	if !errors.Is(err, treasury.ErrInvalidMaturity) {
		t.Fatalf("maturity equal to now should be rejected, got %v", err)
	}
}

func TestSetOracle_Once(t *testing.T) {
	e := newTestEnv(t)

	second, _ := oracle.NewFixed(d(0.02))
	if err := e.svc.SetOracle(second); !errors.Is(err, treasury.ErrOracleAlreadySet) {
		t.Fatalf("expected oracle already set, got %v", err)
	}

	source, err := e.svc.OracleSource()
	if err != nil {
		t.Fatalf("oracle source: %v", err)
	}
	if source != "fixed" {
		t.Errorf("original oracle should remain, got %s", source)
	}
}

// --- Issuance tests ---

// Lock 1.5 collateral against 100 face at price 0.01: required collateral is
// exactly 100 x 0.01 x 1.5 = 1.5, and the inclusive boundary admits it.
func TestIssueDebt_AtExactRatio(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)

	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue at exact ratio should succeed: %v", err)
	}

	repo, err := e.svc.GetRepo(ctx, id, "alice")
	if err != nil {
		t.Fatalf("get repo: %v", err)
	}
	if !repo.Locked.Equal(d(1.5)) || !repo.Debt.Equal(d(100)) {
		t.Errorf("expected repo 1.5/100, got %s/%s", repo.Locked, repo.Debt)
	}

	tok, err := e.svc.DebtTokenOf(id)
	if err != nil {
		t.Fatalf("debt token: %v", err)
	}
	if !tok.BalanceOf("alice").Equal(d(100)) {
		t.Errorf("alice should hold 100 face, got %s", tok.BalanceOf("alice"))
	}
	if !tok.TotalSupply().Equal(d(100)) {
		t.Errorf("supply should be 100, got %s", tok.TotalSupply())
	}

	balance, _ := e.svc.UnlockedBalance(ctx, "alice")
	if !balance.IsZero() {
		t.Errorf("unlocked balance should be zero, got %s", balance)
	}
}

// Issuing 101 face against 1.5 locked at price 0.01 breaches the gate; the
// rejection must leave every balance untouched.
func TestIssueDebt_UnderCollateralized(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)

	err := e.svc.IssueDebt(ctx, "alice", id, d(101), d(1.5))
	if !errors.Is(err, treasury.ErrUnderCollateralized) {
		t.Fatalf("expected undercollateralized, got %v", err)
	}

	balance, _ := e.svc.UnlockedBalance(ctx, "alice")
	if !balance.Equal(d(1.5)) {
		t.Errorf("balance should stay 1.5, got %s", balance)
	}
	if _, err := e.svc.GetRepo(ctx, id, "alice"); !errors.Is(err, treasury.ErrRepoNotFound) {
		t.Errorf("no repo should exist, got %v", err)
	}
	tok, _ := e.svc.DebtTokenOf(id)
	if !tok.TotalSupply().IsZero() {
		t.Errorf("no tokens should be minted, got %s", tok.TotalSupply())
	}
}

func TestIssueDebt_InsufficientBalance(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1))
	id := e.newSeries(t)

	err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5))
	if !errors.Is(err, treasury.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestIssueDebt_OracleNotSet(t *testing.T) {
	e := newBareEnv(t, nil)
	ctx := context.Background()

	if err := e.asset.Issue("alice", d(1.5)); err != nil {
		t.Fatalf("issue collateral: %v", err)
	}
	if err := e.svc.TopUpCollateral(ctx, "alice", d(1.5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := e.svc.CreateSeries(ctx, e.clk.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("create series: %v", err)
	}

	err = e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5))
	if !errors.Is(err, treasury.ErrOracleNotSet) {
		t.Fatalf("expected oracle not set, got %v", err)
	}
}

func TestIssueDebt_UnknownSeries(t *testing.T) {
	e := newTestEnv(t)

	err := e.svc.IssueDebt(context.Background(), "alice", 42, d(100), d(1.5))
	if !errors.Is(err, treasury.ErrSeriesNotFound) {
		t.Fatalf("expected series not found, got %v", err)
	}
}

// Adding debt against already-locked collateral with zero new collateral is
// allowed as long as the gate still holds.
func TestIssueDebt_AgainstExistingCollateral(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(3))
	id := e.newSeries(t)

	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(3)); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	// 3 locked supports up to 200 face at price 0.01.
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), decimal.Zero); err != nil {
		t.Fatalf("second issue with zero lock: %v", err)
	}

	repo, _ := e.svc.GetRepo(ctx, id, "alice")
	if !repo.Debt.Equal(d(200)) {
		t.Errorf("expected debt 200, got %s", repo.Debt)
	}

	err := e.svc.IssueDebt(ctx, "alice", id, d(1), decimal.Zero)
	if !errors.Is(err, treasury.ErrUnderCollateralized) {
		t.Fatalf("issuance past the gate should fail, got %v", err)
	}
}

func TestIssueDebt_PositionLimit(t *testing.T) {
	limiter := risk.NewPositionLimiter(d(100), decimal.Zero)
	e := newBareEnv(t, limiter)
	ctx := context.Background()

	ora, _ := oracle.NewFixed(d(0.01))
	if err := e.svc.SetOracle(ora); err != nil {
		t.Fatalf("set oracle: %v", err)
	}

	if err := e.asset.Issue("alice", d(10)); err != nil {
		t.Fatalf("issue collateral: %v", err)
	}
	if err := e.svc.TopUpCollateral(ctx, "alice", d(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := e.svc.CreateSeries(ctx, e.clk.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("create series: %v", err)
	}

	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(10)); err != nil {
		t.Fatalf("issue at the cap should succeed: %v", err)
	}
	err = e.svc.IssueDebt(ctx, "alice", id, d(1), decimal.Zero)
	if !errors.Is(err, risk.ErrRepoLimitExceeded) {
		t.Fatalf("expected repo limit exceeded, got %v", err)
	}
}

// --- Repayment tests ---

func TestWipeDebt(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := e.svc.WipeDebt(ctx, "alice", id, d(40), d(0.6)); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	repo, _ := e.svc.GetRepo(ctx, id, "alice")
	if !repo.Locked.Equal(d(0.9)) || !repo.Debt.Equal(d(60)) {
		t.Errorf("expected repo 0.9/60, got %s/%s", repo.Locked, repo.Debt)
	}

	balance, _ := e.svc.UnlockedBalance(ctx, "alice")
	if !balance.Equal(d(0.6)) {
		t.Errorf("expected balance 0.6, got %s", balance)
	}

	tok, _ := e.svc.DebtTokenOf(id)
	if !tok.BalanceOf("alice").Equal(d(60)) {
		t.Errorf("expected 60 face remaining, got %s", tok.BalanceOf("alice"))
	}
	if !tok.TotalSupply().Equal(d(60)) {
		t.Errorf("expected supply 60, got %s", tok.TotalSupply())
	}
}

// The token balance check runs before any state mutation: a failed wipe
// leaves the repo and vault untouched.
func TestWipeDebt_InsufficientTokenBalance(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Alice moves her tokens away, then attempts to wipe.
	tok, _ := e.svc.DebtTokenOf(id)
	if err := tok.Transfer("alice", "bob", d(80)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	err := e.svc.WipeDebt(ctx, "alice", id, d(50), d(0.5))
	if !errors.Is(err, treasury.ErrInsufficientTokenBalance) {
		t.Fatalf("expected insufficient token balance, got %v", err)
	}

	repo, _ := e.svc.GetRepo(ctx, id, "alice")
	if !repo.Locked.Equal(d(1.5)) || !repo.Debt.Equal(d(100)) {
		t.Errorf("repo should stay 1.5/100, got %s/%s", repo.Locked, repo.Debt)
	}
	balance, _ := e.svc.UnlockedBalance(ctx, "alice")
	if !balance.IsZero() {
		t.Errorf("balance should stay zero, got %s", balance)
	}
}

// No ratio re-check follows a wipe: the caller may leave the position at any
// ratio, as long as neither field goes below zero.
func TestWipeDebt_NoRatioRecheck(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Burn 1 face but unlock a third of the collateral, dropping the
	// position well below the issuance ratio.
	if err := e.svc.WipeDebt(ctx, "alice", id, d(1), d(0.5)); err != nil {
		t.Fatalf("wipe without ratio re-check should succeed: %v", err)
	}

	repo, _ := e.svc.GetRepo(ctx, id, "alice")
	if !repo.Locked.Equal(d(1)) || !repo.Debt.Equal(d(99)) {
		t.Errorf("expected repo 1/99, got %s/%s", repo.Locked, repo.Debt)
	}
}

func TestWipeDebt_ExceedsRepo(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := e.svc.WipeDebt(ctx, "alice", id, decimal.Zero, d(2)); !errors.Is(err, treasury.ErrInsufficientBalance) {
		t.Fatalf("unlock beyond locked should fail, got %v", err)
	}

	// Extra tokens from elsewhere cannot wipe more debt than the repo holds.
	tok, _ := e.svc.DebtTokenOf(id)
	if err := tok.Mint("alice", d(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := e.svc.WipeDebt(ctx, "alice", id, d(150), decimal.Zero); !errors.Is(err, treasury.ErrInsufficientBalance) {
		t.Fatalf("burn beyond repo debt should fail, got %v", err)
	}
}

// --- Liquidation tests ---

// Price doubles from 0.01 to 0.02: a 1.5/100 repo is now worth half its debt
// floor and can be liquidated. Covering 50 face pays 50 x 0.02 x 1.05 = 1.05
// collateral straight to the liquidator.
func TestLiquidate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Bob acquires 50 face from alice.
	tok, _ := e.svc.DebtTokenOf(id)
	if err := tok.Transfer("alice", "bob", d(50)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if err := e.ora.SetPrice(d(0.02)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	if err := e.svc.Liquidate(ctx, "bob", id, "alice", d(50)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if got := e.asset.BalanceOf("bob"); !got.Equal(d(1.05)) {
		t.Errorf("liquidator payout should be 1.05, got %s", got)
	}
	if !tok.BalanceOf("bob").IsZero() {
		t.Errorf("bob's cover should be burned, got %s", tok.BalanceOf("bob"))
	}

	repo, _ := e.svc.GetRepo(ctx, id, "alice")
	if !repo.Locked.Equal(d(0.45)) || !repo.Debt.Equal(d(50)) {
		t.Errorf("expected repo 0.45/50, got %s/%s", repo.Locked, repo.Debt)
	}
}

func TestLiquidate_NotLiquidatable(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Price unchanged; the repo is healthy.
	err := e.svc.Liquidate(ctx, "bob", id, "alice", d(50))
	if !errors.Is(err, treasury.ErrNotLiquidatable) {
		t.Fatalf("expected not liquidatable, got %v", err)
	}
}

// A position at exactly the minimum ratio is still safe: the liquidation
// boundary is exclusive.
func TestLiquidate_ExactMinRatio(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// 1.5 locked against 100 debt at price 0.015 sits exactly at
	// 100 x 0.015 x 1.05 = 1.575 > 1.5, so liquidatable. Use 1.575 locked
	// for the exact boundary instead.
	e.fund(t, "alice", d(2.3625))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(2.3625)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Price moves so the floor is exactly the locked amount:
	// 100 x 0.0225 x 1.05 = 2.3625.
	if err := e.ora.SetPrice(d(0.0225)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	err := e.svc.Liquidate(ctx, "bob", id, "alice", d(10))
	if !errors.Is(err, treasury.ErrNotLiquidatable) {
		t.Fatalf("position at exact min ratio should be safe, got %v", err)
	}
}

func TestLiquidate_Excessive(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	tok, _ := e.svc.DebtTokenOf(id)
	if err := tok.Transfer("alice", "bob", d(100)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// At price 0.02, covering all 100 face would pay 2.1 > 1.5 locked.
	if err := e.ora.SetPrice(d(0.02)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	err := e.svc.Liquidate(ctx, "bob", id, "alice", d(100))
	if !errors.Is(err, treasury.ErrExcessiveLiquidation) {
		t.Fatalf("expected excessive liquidation, got %v", err)
	}

	// State untouched after the rejection.
	repo, _ := e.svc.GetRepo(ctx, id, "alice")
	if !repo.Locked.Equal(d(1.5)) || !repo.Debt.Equal(d(100)) {
		t.Errorf("repo should stay 1.5/100, got %s/%s", repo.Locked, repo.Debt)
	}
	if !tok.BalanceOf("bob").Equal(d(100)) {
		t.Errorf("bob's tokens should survive, got %s", tok.BalanceOf("bob"))
	}
}

func TestLiquidate_LiquidatorLacksTokens(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := e.ora.SetPrice(d(0.02)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	err := e.svc.Liquidate(ctx, "bob", id, "alice", d(50))
	if !errors.Is(err, treasury.ErrInsufficientTokenBalance) {
		t.Fatalf("expected insufficient token balance, got %v", err)
	}
}

// --- Settlement tests ---

func TestSettle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	id := e.newSeries(t)

	err := e.svc.Settle(ctx, id)
	if !errors.Is(err, treasury.ErrNotMatured) {
		t.Fatalf("expected not matured, got %v", err)
	}

	e.clk.Advance(31 * 24 * time.Hour)
	if err := e.svc.Settle(ctx, id); err != nil {
		t.Fatalf("settle: %v", err)
	}

	price, err := e.svc.SettledPrice(ctx, id)
	if err != nil {
		t.Fatalf("settled price: %v", err)
	}
	if !price.Equal(d(0.01)) {
		t.Errorf("expected settled price 0.01, got %s", price)
	}

	// Settlement is one-way and one-time.
	if err := e.svc.Settle(ctx, id); !errors.Is(err, treasury.ErrAlreadySettled) {
		t.Fatalf("second settle should fail, got %v", err)
	}
}

// The settlement price freezes at settle time; later oracle moves do not
// affect redemption.
func TestSettle_PriceFrozen(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	id := e.newSeries(t)
	e.clk.Advance(31 * 24 * time.Hour)
	if err := e.svc.Settle(ctx, id); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if err := e.ora.SetPrice(d(0.05)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	price, _ := e.svc.SettledPrice(ctx, id)
	if !price.Equal(d(0.01)) {
		t.Errorf("settled price should stay 0.01, got %s", price)
	}
}

func TestSettle_BlocksIssuanceAndLiquidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(3))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	e.clk.Advance(31 * 24 * time.Hour)
	if err := e.svc.Settle(ctx, id); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if err := e.svc.IssueDebt(ctx, "alice", id, d(10), d(1.5)); !errors.Is(err, treasury.ErrAlreadySettled) {
		t.Fatalf("issuance after settle should fail, got %v", err)
	}
	if err := e.svc.Liquidate(ctx, "bob", id, "alice", d(10)); !errors.Is(err, treasury.ErrAlreadySettled) {
		t.Fatalf("liquidation after settle should fail, got %v", err)
	}
}

// --- Redemption and close tests ---

// Redeeming 25 face at settled price 0.01 pays exactly 0.25 collateral.
func TestWithdrawFaceValue(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	e.clk.Advance(31 * 24 * time.Hour)
	if err := e.svc.Settle(ctx, id); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if err := e.svc.WithdrawFaceValue(ctx, "alice", id, d(25)); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if got := e.asset.BalanceOf("alice"); !got.Equal(d(0.25)) {
		t.Errorf("expected payout 0.25, got %s", got)
	}

	tok, _ := e.svc.DebtTokenOf(id)
	if !tok.BalanceOf("alice").Equal(d(75)) {
		t.Errorf("expected 75 face remaining, got %s", tok.BalanceOf("alice"))
	}
}

func TestWithdrawFaceValue_BeforeSettlement(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	err := e.svc.WithdrawFaceValue(ctx, "alice", id, d(25))
	if !errors.Is(err, treasury.ErrNotSettled) {
		t.Fatalf("expected not settled, got %v", err)
	}
}

// Closing a 1.5/100 repo settled at 0.01 pays out the leftover
// 1.5 - 100 x 0.01 = 0.5 and zeroes the position.
func TestCloseRepo(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	e.clk.Advance(31 * 24 * time.Hour)
	if err := e.svc.Settle(ctx, id); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if err := e.svc.CloseRepo(ctx, "alice", id); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := e.asset.BalanceOf("alice"); !got.Equal(d(0.5)) {
		t.Errorf("expected leftover 0.5, got %s", got)
	}

	// The repo is zeroed; a second close fails.
	if err := e.svc.CloseRepo(ctx, "alice", id); !errors.Is(err, treasury.ErrRepoNotFound) {
		t.Fatalf("second close should fail, got %v", err)
	}
}

func TestCloseRepo_BeforeSettlement(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := e.svc.CloseRepo(ctx, "alice", id); !errors.Is(err, treasury.ErrNotSettled) {
		t.Fatalf("expected not settled, got %v", err)
	}
}

// Full lifecycle: everything locked into a series flows back out through
// redemption and close, and never more. The vault ends exactly solvent.
func TestSolvency_FullLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	e.clk.Advance(31 * 24 * time.Hour)
	if err := e.svc.Settle(ctx, id); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if err := e.svc.WithdrawFaceValue(ctx, "alice", id, d(100)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := e.svc.CloseRepo(ctx, "alice", id); err != nil {
		t.Fatalf("close: %v", err)
	}

	// 100 x 0.01 = 1.0 redeemed plus 0.5 leftover is exactly the 1.5
	// locked; the vault is left empty and never overdrawn.
	if got := e.asset.BalanceOf("alice"); !got.Equal(d(1.5)) {
		t.Errorf("total payouts should equal locked 1.5, got %s", got)
	}
	if got := e.asset.BalanceOf(treasury.VaultAccount); !got.IsZero() {
		t.Errorf("vault should end empty, got %s", got)
	}
}

// --- Journal tests ---

func TestJournal_RecordsLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := e.svc.WipeDebt(ctx, "alice", id, d(40), d(0.6)); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	entries, err := e.svc.JournalBySeries(ctx, id)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 series entries, got %d", len(entries))
	}
	if entries[0].Op != model.OpIssue || entries[1].Op != model.OpWipe {
		t.Errorf("unexpected ops %s, %s", entries[0].Op, entries[1].Op)
	}
	if !entries[0].Debt.Equal(d(100)) || !entries[0].Collateral.Equal(d(1.5)) {
		t.Errorf("issue deltas wrong: %s/%s", entries[0].Debt, entries[0].Collateral)
	}
	if !entries[1].Debt.Equal(d(-40)) || !entries[1].Collateral.Equal(d(-0.6)) {
		t.Errorf("wipe deltas wrong: %s/%s", entries[1].Debt, entries[1].Collateral)
	}

	// The deposit shows up in the account view.
	byAccount, err := e.svc.JournalByAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("journal by account: %v", err)
	}
	if len(byAccount) != 3 {
		t.Fatalf("expected 3 account entries, got %d", len(byAccount))
	}
	if byAccount[0].Op != model.OpDeposit {
		t.Errorf("first entry should be the deposit, got %s", byAccount[0].Op)
	}
}

func TestJournal_LiquidationCounterparty(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.fund(t, "alice", d(1.5))
	id := e.newSeries(t)
	if err := e.svc.IssueDebt(ctx, "alice", id, d(100), d(1.5)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	tok, _ := e.svc.DebtTokenOf(id)
	if err := tok.Transfer("alice", "bob", d(50)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := e.ora.SetPrice(d(0.02)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := e.svc.Liquidate(ctx, "bob", id, "alice", d(50)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// The liquidation is visible from the liquidator's account view.
	entries, err := e.svc.JournalByAccount(ctx, "bob")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	found := false
	for _, entry := range entries {
		if entry.Op == model.OpLiquidate && entry.Counterparty == "bob" && entry.Account == "alice" {
			found = true
			if !entry.Price.Equal(d(0.02)) {
				t.Errorf("expected snapshot price 0.02, got %s", entry.Price)
			}
		}
	}
	if !found {
		t.Error("liquidation entry not visible to counterparty")
	}
}

// --- Restore tests ---

func TestRestore(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	first := e.newSeries(t)
	second := e.newSeries(t)
	e.clk.Advance(31 * 24 * time.Hour)
	if err := e.svc.Settle(ctx, first); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// A fresh service over the same store picks up the registry.
	params, _ := ratio.NewParams(d(1.5), d(1.05), d(1.05))
	revived := treasury.NewService(params, e.st, e.asset, token.MemoryFactory{}, e.clk, nil, nil)
	if err := revived.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	tok, err := revived.DebtTokenOf(second)
	if err != nil {
		t.Fatalf("debt token after restore: %v", err)
	}
	if tok.Ticker() == "" {
		t.Error("expected restored token ticker")
	}

	// Series ids keep counting from where they left off.
	next, err := revived.CreateSeries(ctx, e.clk.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("create series after restore: %v", err)
	}
	if next != 2 {
		t.Errorf("expected next id 2, got %d", next)
	}
}
