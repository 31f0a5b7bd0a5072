package models

import "time"

// Quote represents the latest price information for a symbol.
// Name is filled in from the company profile when available; it has its own
// freshness clock, so a quote can carry a fresh price and no name.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	PreviousClose float64   `json:"previous_close"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Candle is a single OHLCV bar.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// HistoricalSeries is an ordered-by-date-ascending sequence of candles for
// one (symbol, timeframe) pair. Dropped counts individual records that
// failed to parse and were skipped; the series is still usable.
type HistoricalSeries struct {
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	Candles   []Candle `json:"candles"`
	Dropped   int      `json:"dropped,omitempty"`
}

// Partial reports whether any records were lost while building the series.
func (s *HistoricalSeries) Partial() bool {
	return s.Dropped > 0
}

// SearchResult is one symbol-lookup match.
type SearchResult struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}
