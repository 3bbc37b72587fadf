package token

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/aniemerg/yieldtoken/internal/model"
)

// tickerRegex matches: YTK-{seriesID}-{YYYYMMDD}
// Example: YTK-3-20260915
var tickerRegex = regexp.MustCompile(`^YTK-(\d+)-(\d{8})$`)

// ErrInvalidTicker is returned when a ticker string does not parse.
var ErrInvalidTicker = errors.New("token: invalid ticker format")

// TickerInfo is the identity encoded in a debt-token ticker.
type TickerInfo struct {
	Ticker   string         `json:"ticker"`
	Series   model.SeriesID `json:"series"`
	Maturity time.Time      `json:"maturity"`
}

// FormatTicker derives the ticker for a series' debt token from its id and
// maturity date.
func FormatTicker(series model.SeriesID, maturity time.Time) string {
	return fmt.Sprintf("YTK-%d-%s", series, maturity.UTC().Format("20060102"))
}

// ParseTicker parses and validates a debt-token ticker string.
// Format: YTK-{seriesID}-{YYYYMMDD}
func ParseTicker(ticker string) (*TickerInfo, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected YTK-{series}-{YYYYMMDD})", ErrInvalidTicker, ticker)
	}

	id, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: series id %s", ErrInvalidTicker, matches[1])
	}

	maturity, err := time.Parse("20060102", matches[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidTicker, matches[2])
	}

	return &TickerInfo{
		Ticker:   ticker,
		Series:   model.SeriesID(id),
		Maturity: maturity,
	}, nil
}
