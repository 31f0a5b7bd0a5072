package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Portfolio routes
	api.HandleFunc("/portfolio", handler.GetPortfolio).Methods("GET")
	api.HandleFunc("/portfolio/buy", handler.Buy).Methods("POST")
	api.HandleFunc("/portfolio/sell", handler.Sell).Methods("POST")
	api.HandleFunc("/logout", handler.Logout).Methods("POST")

	// Market data routes
	api.HandleFunc("/quotes", handler.GetQuotes).Methods("GET")
	api.HandleFunc("/quotes/{symbol}", handler.GetQuote).Methods("GET")
	api.HandleFunc("/search", handler.Search).Methods("GET")
	api.HandleFunc("/historical/{symbol}", handler.GetHistorical).Methods("GET")

	return r
}
