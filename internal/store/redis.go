package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/aniemerg/yieldtoken/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot entities: series records, repos, and vault balances.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetBalance(ctx context.Context, account model.Account) (decimal.Decimal, error) {
	if raw, err := s.rdb.Get(ctx, balanceKey(account)).Result(); err == nil {
		if amount, err := decimal.NewFromString(raw); err == nil {
			return amount, nil
		}
	}

	amount, err := s.primary.GetBalance(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	s.rdb.Set(ctx, balanceKey(account), amount.String(), s.ttl)
	return amount, nil
}

func (s *CachedStore) GetSeries(ctx context.Context, id model.SeriesID) (*model.Series, error) {
	if data, err := s.rdb.Get(ctx, seriesKey(id)).Bytes(); err == nil {
		var series model.Series
		if json.Unmarshal(data, &series) == nil {
			return &series, nil
		}
	}

	series, err := s.primary.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSeries(ctx, series)
	return series, nil
}

func (s *CachedStore) GetRepo(ctx context.Context, series model.SeriesID, account model.Account) (*model.Repo, error) {
	if data, err := s.rdb.Get(ctx, repoCacheKey(series, account)).Bytes(); err == nil {
		var repo model.Repo
		if json.Unmarshal(data, &repo) == nil {
			return &repo, nil
		}
	}

	repo, err := s.primary.GetRepo(ctx, series, account)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(repo); err == nil {
		s.rdb.Set(ctx, repoCacheKey(series, account), data, s.ttl)
	}
	return repo, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutBalance(ctx context.Context, account model.Account, amount decimal.Decimal) error {
	if err := s.primary.PutBalance(ctx, account, amount); err != nil {
		return err
	}
	s.rdb.Set(ctx, balanceKey(account), amount.String(), s.ttl)
	return nil
}

func (s *CachedStore) CreateSeries(ctx context.Context, series *model.Series) error {
	if err := s.primary.CreateSeries(ctx, series); err != nil {
		return err
	}
	s.cacheSeries(ctx, series)
	return nil
}

func (s *CachedStore) SettleSeries(ctx context.Context, id model.SeriesID, price decimal.Decimal) error {
	if err := s.primary.SettleSeries(ctx, id, price); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the frozen price.
	s.rdb.Del(ctx, seriesKey(id))
	return nil
}

func (s *CachedStore) PutRepo(ctx context.Context, repo *model.Repo) error {
	if err := s.primary.PutRepo(ctx, repo); err != nil {
		return err
	}
	s.rdb.Del(ctx, repoCacheKey(repo.Series, repo.Account))
	return nil
}

func (s *CachedStore) AppendJournal(ctx context.Context, entry *model.JournalEntry) error {
	return s.primary.AppendJournal(ctx, entry)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListBalances(ctx context.Context) (map[model.Account]decimal.Decimal, error) {
	return s.primary.ListBalances(ctx)
}

func (s *CachedStore) ListSeries(ctx context.Context) ([]model.Series, error) {
	return s.primary.ListSeries(ctx)
}

func (s *CachedStore) ListRepos(ctx context.Context, series model.SeriesID) ([]model.Repo, error) {
	return s.primary.ListRepos(ctx, series)
}

func (s *CachedStore) ListAccountRepos(ctx context.Context, account model.Account) ([]model.Repo, error) {
	return s.primary.ListAccountRepos(ctx, account)
}

func (s *CachedStore) JournalBySeries(ctx context.Context, series model.SeriesID) ([]model.JournalEntry, error) {
	return s.primary.JournalBySeries(ctx, series)
}

func (s *CachedStore) JournalByAccount(ctx context.Context, account model.Account) ([]model.JournalEntry, error) {
	return s.primary.JournalByAccount(ctx, account)
}

// WithTx delegates to the primary's transaction and invalidates every key
// the transaction touched once it commits.
func (s *CachedStore) WithTx(ctx context.Context, fn func(Store) error) error {
	recorder := &txRecorder{}
	err := s.primary.WithTx(ctx, func(tx Store) error {
		return fn(&recordingStore{Store: tx, recorder: recorder})
	})
	if err != nil {
		return err
	}
	if len(recorder.keys) > 0 {
		s.rdb.Del(ctx, recorder.keys...)
	}
	return nil
}

// txRecorder collects cache keys dirtied inside a transaction.
type txRecorder struct {
	keys []string
}

// recordingStore forwards to the transactional store while noting which
// cache keys each write dirties.
type recordingStore struct {
	Store
	recorder *txRecorder
}

func (r *recordingStore) PutBalance(ctx context.Context, account model.Account, amount decimal.Decimal) error {
	r.recorder.keys = append(r.recorder.keys, balanceKey(account))
	return r.Store.PutBalance(ctx, account, amount)
}

func (r *recordingStore) CreateSeries(ctx context.Context, series *model.Series) error {
	r.recorder.keys = append(r.recorder.keys, seriesKey(series.ID))
	return r.Store.CreateSeries(ctx, series)
}

func (r *recordingStore) SettleSeries(ctx context.Context, id model.SeriesID, price decimal.Decimal) error {
	r.recorder.keys = append(r.recorder.keys, seriesKey(id))
	return r.Store.SettleSeries(ctx, id, price)
}

func (r *recordingStore) PutRepo(ctx context.Context, repo *model.Repo) error {
	r.recorder.keys = append(r.recorder.keys, repoCacheKey(repo.Series, repo.Account))
	return r.Store.PutRepo(ctx, repo)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSeries(ctx context.Context, series *model.Series) {
	if data, err := json.Marshal(series); err == nil {
		s.rdb.Set(ctx, seriesKey(series.ID), data, s.ttl)
	}
}

func seriesKey(id model.SeriesID) string { return fmt.Sprintf("series:%d", id) }

func balanceKey(account model.Account) string { return fmt.Sprintf("vault:%s", account) }

func repoCacheKey(series model.SeriesID, account model.Account) string {
	return fmt.Sprintf("repo:%d:%s", series, account)
}
