package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aniemerg/yieldtoken/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[model.Account]decimal.Decimal
	series   map[model.SeriesID]*model.Series
	repos    map[repoKey]*model.Repo
	journal  []model.JournalEntry
}

type repoKey struct {
	series  model.SeriesID
	account model.Account
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[model.Account]decimal.Decimal),
		series:   make(map[model.SeriesID]*model.Series),
		repos:    make(map[repoKey]*model.Repo),
	}
}

func (s *MemoryStore) GetBalance(_ context.Context, account model.Account) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[account], nil
}

func (s *MemoryStore) PutBalance(_ context.Context, account model.Account, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = amount
	return nil
}

func (s *MemoryStore) ListBalances(_ context.Context) (map[model.Account]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.Account]decimal.Decimal, len(s.balances))
	for account, amount := range s.balances {
		if !amount.IsZero() {
			out[account] = amount
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateSeries(_ context.Context, series *model.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *series
	s.series[series.ID] = &copy
	return nil
}

func (s *MemoryStore) GetSeries(_ context.Context, id model.SeriesID) (*model.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *series
	return &copy, nil
}

func (s *MemoryStore) ListSeries(_ context.Context) ([]model.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Series, 0, len(s.series))
	// SeriesIDs are dense, starting at zero.
	for id := model.SeriesID(0); int(id) < len(s.series); id++ {
		if series, ok := s.series[id]; ok {
			out = append(out, *series)
		}
	}
	return out, nil
}

func (s *MemoryStore) SettleSeries(_ context.Context, id model.SeriesID, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.series[id]
	if !ok {
		return ErrNotFound
	}
	frozen := price
	series.SettledPrice = &frozen
	series.Status = model.SeriesSettled
	return nil
}

func (s *MemoryStore) GetRepo(_ context.Context, series model.SeriesID, account model.Account) (*model.Repo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repo, ok := s.repos[repoKey{series, account}]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *repo
	return &copy, nil
}

func (s *MemoryStore) PutRepo(_ context.Context, repo *model.Repo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *repo
	s.repos[repoKey{repo.Series, repo.Account}] = &copy
	return nil
}

func (s *MemoryStore) ListRepos(_ context.Context, series model.SeriesID) ([]model.Repo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Repo
	for key, repo := range s.repos {
		if key.series == series {
			out = append(out, *repo)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAccountRepos(_ context.Context, account model.Account) ([]model.Repo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Repo
	for key, repo := range s.repos {
		if key.account == account {
			out = append(out, *repo)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendJournal(_ context.Context, entry *model.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, *entry)
	return nil
}

func (s *MemoryStore) JournalBySeries(_ context.Context, series model.SeriesID) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.JournalEntry
	for _, entry := range s.journal {
		if entry.Series == series {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *MemoryStore) JournalByAccount(_ context.Context, account model.Account) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.JournalEntry
	for _, entry := range s.journal {
		if entry.Account == account || entry.Counterparty == account {
			out = append(out, entry)
		}
	}
	return out, nil
}

// WithTx runs fn directly: memory writes cannot fail, and callers serialize
// operations above this layer.
func (s *MemoryStore) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(s)
}
