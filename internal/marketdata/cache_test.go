package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperfolio/portfolio-service/internal/models"
)

// fakeSource is an in-memory Source that counts upstream calls.
type fakeSource struct {
	mu           sync.Mutex
	quoteCalls   int
	profileCalls int
	histCalls    int

	quotes     map[string]models.Quote
	quoteErrs  map[string]error
	names      map[string]string
	series     map[string]*models.HistoricalSeries
	histErr    error
	searchRes  []models.SearchResult
	searchErr  error
	quoteDelay time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		quotes:    make(map[string]models.Quote),
		quoteErrs: make(map[string]error),
		names:     make(map[string]string),
		series:    make(map[string]*models.HistoricalSeries),
	}
}

func (f *fakeSource) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	f.mu.Lock()
	f.quoteCalls++
	delay := f.quoteDelay
	err := f.quoteErrs[symbol]
	q, ok := f.quotes[symbol]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		// degenerate all-zero quote for unknown symbols
		return &models.Quote{Symbol: symbol}, nil
	}
	return &q, nil
}

func (f *fakeSource) GetProfile(_ context.Context, symbol string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	return f.names[symbol], nil
}

func (f *fakeSource) Search(_ context.Context, _ string) ([]models.SearchResult, error) {
	return f.searchRes, f.searchErr
}

func (f *fakeSource) GetHistorical(_ context.Context, symbol, timeframe string) (*models.HistoricalSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histCalls++
	if f.histErr != nil {
		return nil, f.histErr
	}
	if s, ok := f.series[symbol+"|"+timeframe]; ok {
		return s, nil
	}
	return &models.HistoricalSeries{Symbol: symbol, Timeframe: timeframe, Candles: []models.Candle{}}, nil
}

func (f *fakeSource) counts() (quotes, profiles, hist int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls, f.profileCalls, f.histCalls
}

func newTestCache(source Source) (*Cache, *time.Time) {
	c := NewCache(source, 2*time.Minute, 24*time.Hour)
	now := time.Date(2024, 6, 3, 15, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCacheGetQuote(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh entry is served without a second fetch", func(t *testing.T) {
		source := newFakeSource()
		source.quotes["AAPL"] = models.Quote{Symbol: "AAPL", Price: 170.5, PreviousClose: 168.2, FetchedAt: time.Now()}
		source.names["AAPL"] = "Apple Inc"
		cache, now := newTestCache(source)

		first, err := cache.GetQuote(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, 170.5, first.Price)
		assert.Equal(t, "Apple Inc", first.Name)

		second, err := cache.GetQuote(ctx, "aapl ")
		require.NoError(t, err)
		assert.Equal(t, first.Price, second.Price)

		quotes, profiles, _ := source.counts()
		assert.Equal(t, 1, quotes, "second call within TTL must not refetch")
		assert.Equal(t, 1, profiles)

		// simulate TTL expiry
		*now = now.Add(3 * time.Minute)

		_, err = cache.GetQuote(ctx, "AAPL")
		require.NoError(t, err)
		quotes, _, _ = source.counts()
		assert.Equal(t, 2, quotes, "stale entry must trigger a refetch")
	})

	t.Run("all-zero quote is reported as not found and not cached", func(t *testing.T) {
		source := newFakeSource()
		cache, _ := newTestCache(source)

		_, err := cache.GetQuote(ctx, "NOPE")
		var nf *models.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "NOPE", nf.Symbol)

		_, err = cache.GetQuote(ctx, "NOPE")
		require.Error(t, err)
		quotes, _, _ := source.counts()
		assert.Equal(t, 2, quotes, "not-found results are never cached")
	})

	t.Run("upstream errors propagate and leave the cache empty", func(t *testing.T) {
		source := newFakeSource()
		source.quoteErrs["MSFT"] = &models.UpstreamError{Kind: models.UpstreamRateLimited, Op: "quote"}
		cache, _ := newTestCache(source)

		_, err := cache.GetQuote(ctx, "MSFT")
		require.Error(t, err)
		assert.Equal(t, models.UpstreamRateLimited, models.UpstreamKind(err))
	})

	t.Run("concurrent cold fetches for one symbol coalesce", func(t *testing.T) {
		source := newFakeSource()
		source.quotes["NVDA"] = models.Quote{Symbol: "NVDA", Price: 890, PreviousClose: 880, FetchedAt: time.Now()}
		source.quoteDelay = 50 * time.Millisecond
		cache, _ := newTestCache(source)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q, err := cache.GetQuote(ctx, "NVDA")
				assert.NoError(t, err)
				assert.Equal(t, 890.0, q.Price)
			}()
		}
		wg.Wait()

		quotes, _, _ := source.counts()
		assert.Equal(t, 1, quotes, "racing callers must share one upstream fetch")
	})

	t.Run("concurrent seeds and reads on one symbol stay consistent", func(t *testing.T) {
		source := newFakeSource()
		cache, _ := newTestCache(source)
		cache.Seed("AAPL", 150)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				cache.Seed("AAPL", 150+float64(i))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				q, err := cache.GetQuote(ctx, "AAPL")
				assert.NoError(t, err)
				assert.GreaterOrEqual(t, q.Price, 150.0)
			}
		}()
		wg.Wait()

		q, err := cache.GetQuote(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, 349.0, q.Price)
	})

	t.Run("a cancelled caller does not fail the coalesced fetch", func(t *testing.T) {
		source := newFakeSource()
		source.quotes["NVDA"] = models.Quote{Symbol: "NVDA", Price: 890, PreviousClose: 880, FetchedAt: time.Now()}
		source.quoteDelay = 50 * time.Millisecond
		cache, _ := newTestCache(source)

		firstCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			q, err := cache.GetQuote(firstCtx, "NVDA")
			assert.NoError(t, err)
			assert.Equal(t, 890.0, q.Price)
		}()
		go func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			q, err := cache.GetQuote(ctx, "NVDA")
			assert.NoError(t, err)
			assert.Equal(t, 890.0, q.Price)
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		wg.Wait()

		quotes, _, _ := source.counts()
		assert.Equal(t, 1, quotes)
	})

	t.Run("seeded price is served fresh", func(t *testing.T) {
		source := newFakeSource()
		cache, _ := newTestCache(source)

		cache.Seed("AAPL", 151.25)

		q, err := cache.GetQuote(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, 151.25, q.Price)
		quotes, _, _ := source.counts()
		assert.Equal(t, 0, quotes, "seeded entry must satisfy the read")
	})
}

func TestCacheGetHistorical(t *testing.T) {
	ctx := context.Background()

	t.Run("cached series is returned without refetch, TTL-free", func(t *testing.T) {
		source := newFakeSource()
		source.series["AAPL|1M"] = &models.HistoricalSeries{
			Symbol:    "AAPL",
			Timeframe: "1M",
			Candles:   []models.Candle{{Close: 170, Volume: 100}},
		}
		cache, now := newTestCache(source)

		first, err := cache.GetHistorical(ctx, "AAPL", "1M")
		require.NoError(t, err)
		require.Len(t, first.Candles, 1)

		// historical entries never go stale on their own
		*now = now.Add(72 * time.Hour)

		second, err := cache.GetHistorical(ctx, "AAPL", "1M")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		_, _, hist := source.counts()
		assert.Equal(t, 1, hist)
	})

	t.Run("distinct timeframes are cached under distinct keys", func(t *testing.T) {
		source := newFakeSource()
		cache, _ := newTestCache(source)

		_, err := cache.GetHistorical(ctx, "AAPL", "1M")
		require.NoError(t, err)
		_, err = cache.GetHistorical(ctx, "AAPL", "1Y")
		require.NoError(t, err)

		_, _, hist := source.counts()
		assert.Equal(t, 2, hist)
	})

	t.Run("empty results are cached", func(t *testing.T) {
		source := newFakeSource()
		cache, _ := newTestCache(source)

		series, err := cache.GetHistorical(ctx, "EMPTY", "1M")
		require.NoError(t, err)
		assert.Empty(t, series.Candles)

		_, err = cache.GetHistorical(ctx, "EMPTY", "1M")
		require.NoError(t, err)
		_, _, hist := source.counts()
		assert.Equal(t, 1, hist, "an empty series still counts as cached")
	})

	t.Run("fetch errors are not cached", func(t *testing.T) {
		source := newFakeSource()
		source.histErr = &models.UpstreamError{Kind: models.UpstreamTransport, Op: "candles"}
		cache, _ := newTestCache(source)

		_, err := cache.GetHistorical(ctx, "AAPL", "1M")
		require.Error(t, err)

		source.mu.Lock()
		source.histErr = nil
		source.mu.Unlock()

		_, err = cache.GetHistorical(ctx, "AAPL", "1M")
		require.NoError(t, err)
		_, _, hist := source.counts()
		assert.Equal(t, 2, hist)
	})
}

func TestCacheSearchSymbols(t *testing.T) {
	ctx := context.Background()

	t.Run("results pass through uncached", func(t *testing.T) {
		source := newFakeSource()
		source.searchRes = []models.SearchResult{{Symbol: "AAPL", Name: "Apple Inc"}}
		cache, _ := newTestCache(source)

		results, err := cache.SearchSymbols(ctx, "apple")
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("malformed upstream shape degrades to an empty list", func(t *testing.T) {
		source := newFakeSource()
		source.searchErr = &models.UpstreamError{Kind: models.UpstreamMalformedPayload, Op: "search"}
		cache, _ := newTestCache(source)

		results, err := cache.SearchSymbols(ctx, "apple")
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("transport failures still surface", func(t *testing.T) {
		source := newFakeSource()
		source.searchErr = &models.UpstreamError{Kind: models.UpstreamTransport, Op: "search"}
		cache, _ := newTestCache(source)

		_, err := cache.SearchSymbols(ctx, "apple")
		require.Error(t, err)
	})
}

func TestCacheGetQuotes(t *testing.T) {
	ctx := context.Background()

	t.Run("one failing symbol does not stop the batch", func(t *testing.T) {
		source := newFakeSource()
		source.quotes["AAPL"] = models.Quote{Symbol: "AAPL", Price: 170, PreviousClose: 168, FetchedAt: time.Now()}
		source.quotes["TSLA"] = models.Quote{Symbol: "TSLA", Price: 250, PreviousClose: 245, FetchedAt: time.Now()}
		source.quoteErrs["BAD"] = &models.UpstreamError{Kind: models.UpstreamTransport, Op: "quote"}
		cache, _ := newTestCache(source)

		quotes, err := cache.GetQuotes(ctx, []string{"AAPL", "BAD", "TSLA"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "BAD", "first error must be attributable to the failing symbol")
		assert.Len(t, quotes, 2)
		assert.Contains(t, quotes, "AAPL")
		assert.Contains(t, quotes, "TSLA")
	})

	t.Run("only the first error is remembered", func(t *testing.T) {
		source := newFakeSource()
		source.quoteErrs["B1"] = &models.UpstreamError{Kind: models.UpstreamRateLimited, Op: "quote"}
		source.quoteErrs["B2"] = errors.New("later failure")
		cache, _ := newTestCache(source)

		_, err := cache.GetQuotes(ctx, []string{"B1", "B2"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "B1")
	})
}
