// Package oracle provides the price source abstraction for the treasurer.
//
// A price is the number of collateral units backing one unit of debt-token
// face value. Two implementations are provided: Fixed (a configured constant,
// used in tests and fixed-rate deployments) and HTTPFeed (a live JSON feed).
// The treasury reads the price exactly once per operation and threads the
// snapshot through every check it performs.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPrice is returned for non-positive prices.
	ErrInvalidPrice = errors.New("oracle: price must be positive")

	// ErrFeedUnavailable is returned when the live feed cannot be read.
	ErrFeedUnavailable = errors.New("oracle: feed unavailable")
)

// Oracle supplies the current collateral/face-value exchange rate.
type Oracle interface {
	// CurrentPrice returns the current price. Implementations must return
	// a positive decimal or an error.
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)

	// Source describes where prices come from, for the query surface.
	Source() string
}

// Fixed is a settable constant price source.
type Fixed struct {
	mu    sync.RWMutex
	price decimal.Decimal
}

// NewFixed creates a fixed price source.
func NewFixed(price decimal.Decimal) (*Fixed, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	return &Fixed{price: price}, nil
}

func (f *Fixed) CurrentPrice(_ context.Context) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price, nil
}

// SetPrice replaces the fixed price. Used by tests to simulate market moves.
func (f *Fixed) SetPrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	f.price = price
	f.mu.Unlock()
	return nil
}

func (f *Fixed) Source() string { return "fixed" }

// HTTPFeed reads prices from a JSON endpoint returning {"price":"0.01"}.
type HTTPFeed struct {
	url    string
	client *http.Client
}

// NewHTTPFeed creates a live feed reading from the given URL.
func NewHTTPFeed(url string) *HTTPFeed {
	return &HTTPFeed{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type feedResponse struct {
	Price decimal.Decimal `json:"price"`
}

func (f *HTTPFeed) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	if !body.Price.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	return body.Price, nil
}

func (f *HTTPFeed) Source() string { return f.url }
