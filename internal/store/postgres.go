package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aniemerg/yieldtoken/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the same
// store methods run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	db   querier
	pool *pgxpool.Pool // nil inside a transaction
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

func (s *PostgresStore) GetBalance(ctx context.Context, account model.Account) (decimal.Decimal, error) {
	var amountS string
	err := s.db.QueryRow(ctx,
		`SELECT amount::TEXT FROM vault_balances WHERE account = $1`,
		string(account)).Scan(&amountS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", account, err)
	}
	amount, err := decimal.NewFromString(amountS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", account, err)
	}
	return amount, nil
}

func (s *PostgresStore) PutBalance(ctx context.Context, account model.Account, amount decimal.Decimal) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO vault_balances (account, amount)
		 VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (account) DO UPDATE SET amount = EXCLUDED.amount`,
		string(account), amount.String())
	return err
}

func (s *PostgresStore) ListBalances(ctx context.Context) (map[model.Account]decimal.Decimal, error) {
	rows, err := s.db.Query(ctx,
		`SELECT account, amount::TEXT FROM vault_balances WHERE amount <> 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.Account]decimal.Decimal)
	for rows.Next() {
		var account, amountS string
		if err := rows.Scan(&account, &amountS); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountS)
		if err != nil {
			return nil, err
		}
		out[model.Account(account)] = amount
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateSeries(ctx context.Context, series *model.Series) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO series (id, maturity_time, token_ticker, status, settled_price, created_at)
		 VALUES ($1, $2, $3, $4, NULL, $5)`,
		int64(series.ID), series.MaturityTime, series.TokenTicker, series.Status, series.CreatedAt)
	return err
}

func (s *PostgresStore) GetSeries(ctx context.Context, id model.SeriesID) (*model.Series, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, maturity_time, token_ticker, status, settled_price::TEXT, created_at
		 FROM series WHERE id = $1`, int64(id))
	series, err := scanSeries(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get series %d: %w", id, err)
	}
	return series, nil
}

func (s *PostgresStore) ListSeries(ctx context.Context) ([]model.Series, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, maturity_time, token_ticker, status, settled_price::TEXT, created_at
		 FROM series ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Series
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *series)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SettleSeries(ctx context.Context, id model.SeriesID, price decimal.Decimal) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE series SET settled_price = $2::NUMERIC, status = $3
		 WHERE id = $1 AND settled_price IS NULL`,
		int64(id), price.String(), model.SeriesSettled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetRepo(ctx context.Context, series model.SeriesID, account model.Account) (*model.Repo, error) {
	var r model.Repo
	var id int64
	var acct, lockedS, debtS string

	err := s.db.QueryRow(ctx,
		`SELECT series_id, account, locked_collateral::TEXT, debt::TEXT, updated_at
		 FROM repos WHERE series_id = $1 AND account = $2`,
		int64(series), string(account)).
		Scan(&id, &acct, &lockedS, &debtS, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repo %d/%s: %w", series, account, err)
	}

	r.Series = model.SeriesID(id)
	r.Account = model.Account(acct)
	if r.Locked, err = decimal.NewFromString(lockedS); err != nil {
		return nil, err
	}
	if r.Debt, err = decimal.NewFromString(debtS); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) PutRepo(ctx context.Context, repo *model.Repo) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO repos (series_id, account, locked_collateral, debt, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (series_id, account) DO UPDATE
		 SET locked_collateral = EXCLUDED.locked_collateral,
		     debt = EXCLUDED.debt,
		     updated_at = EXCLUDED.updated_at`,
		int64(repo.Series), string(repo.Account),
		repo.Locked.String(), repo.Debt.String(), repo.UpdatedAt)
	return err
}

func (s *PostgresStore) ListRepos(ctx context.Context, series model.SeriesID) ([]model.Repo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT series_id, account, locked_collateral::TEXT, debt::TEXT, updated_at
		 FROM repos WHERE series_id = $1 ORDER BY account`, int64(series))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRepos(rows)
}

func (s *PostgresStore) ListAccountRepos(ctx context.Context, account model.Account) ([]model.Repo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT series_id, account, locked_collateral::TEXT, debt::TEXT, updated_at
		 FROM repos WHERE account = $1 ORDER BY series_id`, string(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRepos(rows)
}

func (s *PostgresStore) AppendJournal(ctx context.Context, e *model.JournalEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO journal_entries (id, op, series_id, account, counterparty, debt, collateral, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		e.ID, e.Op, int64(e.Series), string(e.Account), string(e.Counterparty),
		e.Debt.String(), e.Collateral.String(), e.Price.String(), e.Timestamp)
	return err
}

func (s *PostgresStore) JournalBySeries(ctx context.Context, series model.SeriesID) ([]model.JournalEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, op, series_id, account, counterparty,
		        debt::TEXT, collateral::TEXT, price::TEXT, timestamp
		 FROM journal_entries WHERE series_id = $1 ORDER BY timestamp`, int64(series))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

func (s *PostgresStore) JournalByAccount(ctx context.Context, account model.Account) ([]model.JournalEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, op, series_id, account, counterparty,
		        debt::TEXT, collateral::TEXT, price::TEXT, timestamp
		 FROM journal_entries WHERE account = $1 OR counterparty = $1 ORDER BY timestamp`,
		string(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

// WithTx runs fn against a pgx transaction; outside a pool-backed store
// (i.e. when already inside a transaction) fn runs against the current view.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(&PostgresStore{db: tx}); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// --- Row scanning helpers ---

func scanSeries(row pgx.Row) (*model.Series, error) {
	var s model.Series
	var id int64
	var settledS *string

	if err := row.Scan(&id, &s.MaturityTime, &s.TokenTicker, &s.Status, &settledS, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.ID = model.SeriesID(id)
	if settledS != nil {
		price, err := decimal.NewFromString(*settledS)
		if err != nil {
			return nil, err
		}
		s.SettledPrice = &price
	}
	return &s, nil
}

func scanRepos(rows pgx.Rows) ([]model.Repo, error) {
	var out []model.Repo
	for rows.Next() {
		var r model.Repo
		var id int64
		var acct, lockedS, debtS string

		if err := rows.Scan(&id, &acct, &lockedS, &debtS, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Series = model.SeriesID(id)
		r.Account = model.Account(acct)
		var err error
		if r.Locked, err = decimal.NewFromString(lockedS); err != nil {
			return nil, err
		}
		if r.Debt, err = decimal.NewFromString(debtS); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanJournalEntries(rows pgx.Rows) ([]model.JournalEntry, error) {
	var out []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var id int64
		var acct, counter, debtS, collateralS, priceS string

		if err := rows.Scan(&e.ID, &e.Op, &id, &acct, &counter,
			&debtS, &collateralS, &priceS, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Series = model.SeriesID(id)
		e.Account = model.Account(acct)
		e.Counterparty = model.Account(counter)
		var err error
		if e.Debt, err = decimal.NewFromString(debtS); err != nil {
			return nil, err
		}
		if e.Collateral, err = decimal.NewFromString(collateralS); err != nil {
			return nil, err
		}
		if e.Price, err = decimal.NewFromString(priceS); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
