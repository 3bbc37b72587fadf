// Package store defines the persistence interface for the treasurer.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/aniemerg/yieldtoken/internal/model"
)

// ErrNotFound is returned when a requested series or repo does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Vault balances ---

	// GetBalance returns an account's unlocked collateral balance.
	// Accounts with no record have a zero balance.
	GetBalance(ctx context.Context, account model.Account) (decimal.Decimal, error)

	// PutBalance upserts an account's unlocked collateral balance.
	PutBalance(ctx context.Context, account model.Account, amount decimal.Decimal) error

	// ListBalances returns every non-zero unlocked balance.
	ListBalances(ctx context.Context) (map[model.Account]decimal.Decimal, error)

	// --- Series registry ---

	// CreateSeries persists a newly created series record.
	CreateSeries(ctx context.Context, series *model.Series) error

	// GetSeries retrieves a series by id.
	GetSeries(ctx context.Context, id model.SeriesID) (*model.Series, error)

	// ListSeries returns all series in id order.
	ListSeries(ctx context.Context) ([]model.Series, error)

	// SettleSeries freezes a series' settlement price and marks it settled.
	SettleSeries(ctx context.Context, id model.SeriesID, price decimal.Decimal) error

	// --- Repo ledger ---

	// GetRepo retrieves the position for (series, account). Returns
	// ErrNotFound when no position has been created.
	GetRepo(ctx context.Context, series model.SeriesID, account model.Account) (*model.Repo, error)

	// PutRepo upserts a position.
	PutRepo(ctx context.Context, repo *model.Repo) error

	// ListRepos returns all positions in a series.
	ListRepos(ctx context.Context, series model.SeriesID) ([]model.Repo, error)

	// ListAccountRepos returns all of an account's positions across series.
	ListAccountRepos(ctx context.Context, account model.Account) ([]model.Repo, error)

	// --- Immutable journal ---

	// AppendJournal appends an immutable operation record.
	AppendJournal(ctx context.Context, entry *model.JournalEntry) error

	// JournalBySeries returns all journal entries for a series.
	JournalBySeries(ctx context.Context, series model.SeriesID) ([]model.JournalEntry, error)

	// JournalByAccount returns all journal entries touching an account.
	JournalByAccount(ctx context.Context, account model.Account) ([]model.JournalEntry, error)

	// --- Transactions ---

	// WithTx runs fn against a transactional view of the store. Either
	// every write fn performs commits, or none do. The memory store is
	// write-failure-free and runs fn directly.
	WithTx(ctx context.Context, fn func(Store) error) error
}
