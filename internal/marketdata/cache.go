package marketdata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/paperfolio/portfolio-service/internal/models"
)

// Default freshness windows
const (
	DefaultQuoteTTL   = 2 * time.Minute
	DefaultProfileTTL = 24 * time.Hour

	nameRefreshTimeout = 10 * time.Second
)

type quoteEntry struct {
	quote     models.Quote
	fetchedAt time.Time
}

type profileEntry struct {
	name      string
	fetchedAt time.Time
}

// Cache holds three independent tables: quotes (short TTL), company names
// (long TTL) and historical series (no TTL, replaced only by explicit
// refetch). Concurrent fetches for the same key are coalesced per key, so
// two callers racing on a cold symbol trigger a single upstream call.
type Cache struct {
	source     Source
	quoteTTL   time.Duration
	profileTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger

	mu         sync.RWMutex
	quotes     map[string]*quoteEntry
	profiles   map[string]*profileEntry
	historical map[string]*models.HistoricalSeries

	quoteFlight singleflight.Group
	nameFlight  singleflight.Group
	histFlight  singleflight.Group
}

// NewCache creates a Cache over the given source. Non-positive TTLs fall
// back to the defaults.
func NewCache(source Source, quoteTTL, profileTTL time.Duration) *Cache {
	if quoteTTL <= 0 {
		quoteTTL = DefaultQuoteTTL
	}
	if profileTTL <= 0 {
		profileTTL = DefaultProfileTTL
	}
	return &Cache{
		source:     source,
		quoteTTL:   quoteTTL,
		profileTTL: profileTTL,
		now:        time.Now,
		log:        log.With().Str("component", "marketdata").Logger(),
		quotes:     make(map[string]*quoteEntry),
		profiles:   make(map[string]*profileEntry),
		historical: make(map[string]*models.HistoricalSeries),
	}
}

// GetQuote returns the quote for a symbol, serving a fresh cache entry when
// one exists. A cached quote that still lacks a company name does not block:
// the price is returned and the name is refreshed in the background under
// its own TTL.
func (c *Cache) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = normalizeSymbol(symbol)
	now := c.now()

	// copy under the lock: Seed and refreshName mutate entries in place
	c.mu.RLock()
	var q models.Quote
	var fetchedAt time.Time
	entry, ok := c.quotes[symbol]
	if ok {
		q = entry.quote
		fetchedAt = entry.fetchedAt
	}
	c.mu.RUnlock()

	if ok && now.Sub(fetchedAt) < c.quoteTTL {
		if q.Name == "" {
			if name, fresh := c.cachedName(symbol); fresh {
				q.Name = name
			} else {
				go c.refreshName(symbol)
			}
		}
		return &q, nil
	}

	// the flight is shared with coalesced callers, so the fetch must not
	// die with whichever caller started it
	v, err, _ := c.quoteFlight.Do(symbol, func() (any, error) {
		return c.fetchQuote(context.WithoutCancel(ctx), symbol)
	})
	if err != nil {
		return nil, err
	}
	q = *(v.(*models.Quote))
	return &q, nil
}

// fetchQuote fetches quote and company name concurrently, rejects an
// all-zero quote as not found, merges and caches the result.
func (c *Cache) fetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	nameCh := make(chan string, 1)
	go func() {
		name, fresh := c.cachedName(symbol)
		if !fresh {
			name = c.lookupName(ctx, symbol)
		}
		nameCh <- name
	}()

	quote, err := c.source.GetQuote(ctx, symbol)
	if err != nil {
		<-nameCh
		return nil, err
	}
	if quote.Price == 0 && quote.PreviousClose == 0 && quote.FetchedAt.IsZero() {
		<-nameCh
		return nil, &models.NotFoundError{Symbol: symbol}
	}

	q := *quote
	q.Symbol = symbol
	q.Name = <-nameCh
	q.FetchedAt = c.now()

	c.mu.Lock()
	c.quotes[symbol] = &quoteEntry{quote: q, fetchedAt: q.FetchedAt}
	c.mu.Unlock()

	return &q, nil
}

// cachedName returns the cached company name and whether it is still fresh.
func (c *Cache) cachedName(symbol string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.profiles[symbol]
	if !ok || c.now().Sub(entry.fetchedAt) >= c.profileTTL {
		return "", false
	}
	return entry.name, true
}

// lookupName fetches the company name, coalescing concurrent calls per
// symbol. Failures are logged and reported as an empty name; the profile
// cache is only written on success, so a failed lookup is retried next time.
func (c *Cache) lookupName(ctx context.Context, symbol string) string {
	v, err, _ := c.nameFlight.Do(symbol, func() (any, error) {
		name, err := c.source.GetProfile(ctx, symbol)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.profiles[symbol] = &profileEntry{name: name, fetchedAt: c.now()}
		c.mu.Unlock()
		return name, nil
	})
	if err != nil {
		c.log.Debug().Err(err).Str("symbol", symbol).Msg("profile fetch failed")
		return ""
	}
	return v.(string)
}

// refreshName backfills the company name on a cached quote without blocking
// the caller that noticed it missing.
func (c *Cache) refreshName(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), nameRefreshTimeout)
	defer cancel()

	name := c.lookupName(ctx, symbol)
	if name == "" {
		return
	}
	c.mu.Lock()
	if entry, ok := c.quotes[symbol]; ok && entry.quote.Name == "" {
		entry.quote.Name = name
	}
	c.mu.Unlock()
}

// GetHistorical returns the candle series for (symbol, timeframe). Any
// cached entry wins, fresh or not; historical data is only replaced by an
// explicit refetch. Concurrent requests for the same key coalesce into one
// upstream fetch while unrelated keys proceed independently. Empty results
// are cached too.
func (c *Cache) GetHistorical(ctx context.Context, symbol, timeframe string) (*models.HistoricalSeries, error) {
	symbol = normalizeSymbol(symbol)
	key := symbol + "|" + timeframe

	c.mu.RLock()
	series, ok := c.historical[key]
	c.mu.RUnlock()
	if ok {
		return series, nil
	}

	v, err, _ := c.histFlight.Do(key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.historical[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched, err := c.source.GetHistorical(context.WithoutCancel(ctx), symbol, timeframe)
		if err != nil {
			return nil, err
		}
		if fetched.Dropped > 0 {
			c.log.Warn().
				Str("symbol", symbol).
				Str("timeframe", timeframe).
				Int("dropped", fetched.Dropped).
				Msg("historical fetch skipped malformed records")
		}

		c.mu.Lock()
		c.historical[key] = fetched
		c.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.HistoricalSeries), nil
}

// SearchSymbols passes a free-text query through to the source without
// caching. A malformed upstream response degrades to an empty list.
func (c *Cache) SearchSymbols(ctx context.Context, query string) ([]models.SearchResult, error) {
	results, err := c.source.Search(ctx, query)
	if err != nil {
		if models.UpstreamKind(err) == models.UpstreamMalformedPayload {
			return []models.SearchResult{}, nil
		}
		return nil, err
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	return results, nil
}

// GetQuotes refreshes quotes for a list of symbols sequentially. The first
// failure is remembered but does not stop the loop; partial success is the
// designed outcome for a watchlist refresh.
func (c *Cache) GetQuotes(ctx context.Context, symbols []string) (map[string]*models.Quote, error) {
	quotes := make(map[string]*models.Quote, len(symbols))
	var firstErr error
	for _, s := range symbols {
		symbol := normalizeSymbol(s)
		quote, err := c.GetQuote(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", symbol, err)
			}
			continue
		}
		quotes[symbol] = quote
	}
	return quotes, firstErr
}

// Seed pre-populates the quote cache with a just-traded price so the next
// read after a buy reflects it without an upstream round trip.
func (c *Cache) Seed(symbol string, price float64) {
	symbol = normalizeSymbol(symbol)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.quotes[symbol]; ok {
		entry.quote.Price = price
		entry.quote.FetchedAt = now
		entry.fetchedAt = now
		return
	}
	c.quotes[symbol] = &quoteEntry{
		quote:     models.Quote{Symbol: symbol, Price: price, FetchedAt: now},
		fetchedAt: now,
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
