// Package marketdata caches time-sensitive market data fetched from an
// external source, with independent freshness policies per data kind.
package marketdata

import (
	"context"

	"github.com/paperfolio/portfolio-service/internal/models"
)

// Source is the external market-data provider. Implementations must surface
// distinguishable failures (models.UpstreamError) for missing credentials,
// rate limiting, malformed payloads and transport errors.
type Source interface {
	// GetQuote returns the latest quote for a symbol. An unknown symbol
	// yields a degenerate quote with zero price, previous close and
	// timestamp rather than an error.
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// GetProfile returns the company name for a symbol, or "" when the
	// provider has no profile for it.
	GetProfile(ctx context.Context, symbol string) (string, error)

	// Search looks up symbols matching a free-text query.
	Search(ctx context.Context, query string) ([]models.SearchResult, error)

	// GetHistorical returns the candle series for a symbol and timeframe,
	// date ascending. Individually malformed records are skipped and
	// counted in the series' Dropped field.
	GetHistorical(ctx context.Context, symbol, timeframe string) (*models.HistoricalSeries, error)
}
