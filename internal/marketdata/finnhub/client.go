// Package finnhub implements the market-data source against the Finnhub
// REST API.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/paperfolio/portfolio-service/internal/marketdata"
	"github.com/paperfolio/portfolio-service/internal/models"
)

const defaultBaseURL = "https://finnhub.io/api/v1"

// Timeframes supported by GetHistorical, mapped to a candle resolution and
// a lookback window.
var timeframes = map[string]struct {
	resolution string
	lookback   time.Duration
}{
	"1W": {"60", 7 * 24 * time.Hour},
	"1M": {"D", 30 * 24 * time.Hour},
	"3M": {"D", 90 * 24 * time.Hour},
	"6M": {"D", 180 * 24 * time.Hour},
	"1Y": {"D", 365 * 24 * time.Hour},
}

// Client talks to the Finnhub REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. baseURL may be empty to use the public API.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// get performs a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	if c.apiKey == "" {
		return &models.UpstreamError{Kind: models.UpstreamMissingCredentials, Op: op}
	}

	params.Set("token", c.apiKey)
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &models.UpstreamError{Kind: models.UpstreamTransport, Op: op, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.UpstreamError{Kind: models.UpstreamTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &models.UpstreamError{Kind: models.UpstreamRateLimited, Op: op}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &models.UpstreamError{Kind: models.UpstreamMissingCredentials, Op: op,
			Err: fmt.Errorf("http %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &models.UpstreamError{Kind: models.UpstreamTransport, Op: op,
			Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.UpstreamError{Kind: models.UpstreamMalformedPayload, Op: op, Err: err}
	}
	return nil
}

// GetQuote fetches the latest quote. Finnhub answers unknown symbols with an
// all-zero payload; that degenerate quote is returned as-is for the caller
// to classify.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var payload struct {
		Current       float64 `json:"c"`
		Change        float64 `json:"d"`
		ChangePercent float64 `json:"dp"`
		PreviousClose float64 `json:"pc"`
		Timestamp     int64   `json:"t"`
	}

	params := url.Values{"symbol": {symbol}}
	if err := c.get(ctx, "quote", "/quote", params, &payload); err != nil {
		return nil, err
	}

	quote := &models.Quote{
		Symbol:        symbol,
		Price:         payload.Current,
		Change:        payload.Change,
		ChangePercent: payload.ChangePercent,
		PreviousClose: payload.PreviousClose,
	}
	if payload.Timestamp > 0 {
		quote.FetchedAt = time.Unix(payload.Timestamp, 0).UTC()
	}
	return quote, nil
}

// GetProfile fetches the company name. Finnhub returns an empty object for
// unknown symbols, which maps to an empty name.
func (c *Client) GetProfile(ctx context.Context, symbol string) (string, error) {
	var payload struct {
		Name string `json:"name"`
	}

	params := url.Values{"symbol": {symbol}}
	if err := c.get(ctx, "profile", "/stock/profile2", params, &payload); err != nil {
		return "", err
	}
	return payload.Name, nil
}

// Search looks up symbols matching a free-text query.
func (c *Client) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	var payload struct {
		Result []struct {
			Symbol      string `json:"symbol"`
			Description string `json:"description"`
		} `json:"result"`
	}

	params := url.Values{"q": {query}}
	if err := c.get(ctx, "search", "/search", params, &payload); err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(payload.Result))
	for _, r := range payload.Result {
		if r.Symbol == "" {
			continue
		}
		results = append(results, models.SearchResult{Symbol: r.Symbol, Name: r.Description})
	}
	return results, nil
}

// candleResponse is Finnhub's column-oriented candle payload.
type candleResponse struct {
	Status  string    `json:"s"`
	Close   []float64 `json:"c"`
	High    []float64 `json:"h"`
	Low     []float64 `json:"l"`
	Open    []float64 `json:"o"`
	Volume  []float64 `json:"v"`
	Seconds []int64   `json:"t"`
}

// GetHistorical fetches the candle series for a symbol and timeframe.
// Individual records that fail to parse are skipped and counted; the call
// only fails as a whole on an upstream error or unknown timeframe.
func (c *Client) GetHistorical(ctx context.Context, symbol, timeframe string) (*models.HistoricalSeries, error) {
	tf, ok := timeframes[timeframe]
	if !ok {
		return nil, models.NewValidationError("unknown timeframe %q", timeframe)
	}

	now := time.Now()
	params := url.Values{
		"symbol":     {symbol},
		"resolution": {tf.resolution},
		"from":       {fmt.Sprintf("%d", now.Add(-tf.lookback).Unix())},
		"to":         {fmt.Sprintf("%d", now.Unix())},
	}

	var payload candleResponse
	if err := c.get(ctx, "candles", "/stock/candle", params, &payload); err != nil {
		return nil, err
	}

	series := &models.HistoricalSeries{Symbol: symbol, Timeframe: timeframe}
	switch payload.Status {
	case "ok":
		series.Candles, series.Dropped = parseCandles(&payload)
	case "no_data":
		series.Candles = []models.Candle{}
	default:
		return nil, &models.UpstreamError{Kind: models.UpstreamMalformedPayload, Op: "candles",
			Err: fmt.Errorf("unexpected status %q", payload.Status)}
	}
	return series, nil
}

// parseCandles converts the column-oriented payload into candles, skipping
// records whose columns are missing or whose values make no sense.
func parseCandles(payload *candleResponse) ([]models.Candle, int) {
	candles := make([]models.Candle, 0, len(payload.Seconds))
	seen := make(map[int64]bool, len(payload.Seconds))
	dropped := 0

	for i, sec := range payload.Seconds {
		if i >= len(payload.Open) || i >= len(payload.High) ||
			i >= len(payload.Low) || i >= len(payload.Close) || i >= len(payload.Volume) {
			dropped++
			continue
		}
		candle := models.Candle{
			Date:   time.Unix(sec, 0).UTC(),
			Open:   payload.Open[i],
			High:   payload.High[i],
			Low:    payload.Low[i],
			Close:  payload.Close[i],
			Volume: int64(payload.Volume[i]),
		}
		if !validCandle(candle) || seen[sec] {
			dropped++
			continue
		}
		seen[sec] = true
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Date.Before(candles[j].Date)
	})
	return candles, dropped
}

var _ marketdata.Source = (*Client)(nil)

func validCandle(c models.Candle) bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.High >= c.Low && c.Volume >= 0
}
