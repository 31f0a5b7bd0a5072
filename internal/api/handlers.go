package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/paperfolio/portfolio-service/internal/kafka"
	"github.com/paperfolio/portfolio-service/internal/marketdata"
	"github.com/paperfolio/portfolio-service/internal/models"
	"github.com/paperfolio/portfolio-service/internal/portfolio"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	portfolio *portfolio.Store
	market    *marketdata.Cache
	producer  *kafka.Producer
	userID    string
	log       zerolog.Logger
}

// NewHandler creates a new Handler. producer may be nil when trade events
// are disabled.
func NewHandler(store *portfolio.Store, market *marketdata.Cache, producer *kafka.Producer, userID string) *Handler {
	return &Handler{
		portfolio: store,
		market:    market,
		producer:  producer,
		userID:    userID,
		log:       log.With().Str("component", "api").Logger(),
	}
}

type tradeRequest struct {
	Symbol   string  `json:"symbol"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
}

type positionResponse struct {
	Symbol       string  `json:"symbol"`
	Quantity     int64   `json:"quantity"`
	CostBasis    float64 `json:"cost_basis"`
	AveragePrice float64 `json:"average_price"`
}

type portfolioResponse struct {
	Cash      float64            `json:"cash"`
	Positions []positionResponse `json:"positions"`
}

// GetPortfolio handles GET /portfolio
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	positions := h.portfolio.Positions()

	resp := portfolioResponse{
		Cash:      h.portfolio.Cash().InexactFloat64(),
		Positions: make([]positionResponse, 0, len(positions)),
	}
	for _, pos := range positions {
		resp.Positions = append(resp.Positions, positionResponse{
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity(),
			CostBasis:    pos.CostBasis().InexactFloat64(),
			AveragePrice: pos.AveragePrice().InexactFloat64(),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

// Buy handles POST /portfolio/buy
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, models.TradeSideBuy)
}

// Sell handles POST /portfolio/sell
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, models.TradeSideSell)
}

func (h *Handler) trade(w http.ResponseWriter, r *http.Request, side string) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	price := decimal.NewFromFloat(req.Price)

	var err error
	if side == models.TradeSideBuy {
		err = h.portfolio.Buy(r.Context(), symbol, req.Quantity, price)
	} else {
		err = h.portfolio.Sell(r.Context(), symbol, req.Quantity, price)
	}
	if err != nil {
		writeTradeError(w, err)
		return
	}

	if side == models.TradeSideBuy {
		// the next quote read reflects the traded price without an
		// upstream round trip
		h.market.Seed(symbol, req.Price)
	}

	if h.producer != nil {
		event := models.TradeEvent{
			UserID:     h.userID,
			Symbol:     symbol,
			Side:       side,
			Quantity:   req.Quantity,
			Price:      price,
			CashAfter:  h.portfolio.Cash(),
			ExecutedAt: time.Now(),
		}
		if err := h.producer.PublishTradeExecuted(r.Context(), event); err != nil {
			// the trade is already committed; event loss is logged only
			h.log.Error().Err(err).Str("symbol", symbol).Msg("failed to publish trade event")
		}
	}

	pos, _ := h.portfolio.Position(symbol)
	respondJSON(w, http.StatusOK, map[string]any{
		"cash": h.portfolio.Cash().InexactFloat64(),
		"position": positionResponse{
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity(),
			CostBasis:    pos.CostBasis().InexactFloat64(),
			AveragePrice: pos.AveragePrice().InexactFloat64(),
		},
	})
}

func writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNoIdentity):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case models.IsValidationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetQuote handles GET /quotes/{symbol}
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	quote, err := h.market.GetQuote(r.Context(), symbol)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, quote)
}

// GetQuotes handles GET /quotes?symbols=A,B,C
func (h *Handler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		http.Error(w, "symbols is required", http.StatusBadRequest)
		return
	}
	symbols := strings.Split(raw, ",")

	quotes, err := h.market.GetQuotes(r.Context(), symbols)

	// partial success is the designed outcome; the first failure rides
	// along instead of failing the response
	resp := map[string]any{"quotes": quotes}
	if err != nil {
		resp["failed"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Search handles GET /search?q=query
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}

	results, err := h.market.SearchSymbols(r.Context(), query)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, results)
}

// GetHistorical handles GET /historical/{symbol}?timeframe=1M
func (h *Handler) GetHistorical(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1M"
	}

	series, err := h.market.GetHistorical(r.Context(), symbol, timeframe)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, series)
}

func writeMarketError(w http.ResponseWriter, err error) {
	var nf *models.NotFoundError
	switch {
	case models.IsValidationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &nf):
		http.Error(w, err.Error(), http.StatusNotFound)
	case models.UpstreamKind(err) != "":
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Logout handles POST /logout: clears the persisted portfolio for the
// current identity
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.portfolio.Clear(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
