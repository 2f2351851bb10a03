// Package handlers exposes the HTTP surface of the settlement core.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/LC208/rare-book/internal/auction"
	"github.com/LC208/rare-book/internal/identity"
	"github.com/LC208/rare-book/internal/models"
	"github.com/LC208/rare-book/internal/store"
	"github.com/LC208/rare-book/internal/validator"
)

type contextKey string

const principalKey contextKey = "principal"

// Handler contains the HTTP request handlers.
type Handler struct {
	engine   *auction.Engine
	provider identity.Provider
	log      zerolog.Logger
}

// New creates a handler over the engine and identity provider.
func New(engine *auction.Engine, provider identity.Provider, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, provider: provider, log: log}
}

// Router configures all HTTP routes.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions", h.ListAuctions).Methods("GET")
	api.Handle("/auctions", h.authenticated(h.CreateAuction)).Methods("POST")
	api.HandleFunc("/auctions/{id}", h.GetAuction).Methods("GET")
	api.HandleFunc("/auctions/{id}/bids", h.ListBids).Methods("GET")
	api.Handle("/auctions/{id}/bids", h.authenticated(h.PlaceBid)).Methods("POST")
	api.Handle("/auctions/{id}/cancel", h.authenticated(h.Cancel)).Methods("POST")

	router.Use(h.loggingMiddleware)
	router.Use(corsMiddleware)

	return router
}

// HealthCheck returns service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "auctiond",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateAuction registers a new scheduled auction.
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var params auction.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	a, err := h.engine.CreateAuction(r.Context(), params)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

// ListAuctions returns all auctions.
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.engine.ListAuctions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list auctions")
		return
	}
	respondJSON(w, http.StatusOK, auctions)
}

// GetAuction returns one auction's lifecycle state, window, high bid and
// settlement status.
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := h.engine.GetAuction(r.Context(), id)
	if errors.Is(err, store.ErrAuctionNotFound) {
		respondError(w, http.StatusNotFound, "Auction not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve auction")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// ListBids returns the auction's ledger history, highest amount first,
// earliest first among equal amounts.
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	bids, err := h.engine.History(r.Context(), id)
	if errors.Is(err, store.ErrAuctionNotFound) {
		respondError(w, http.StatusNotFound, "Auction not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to retrieve bids")
		return
	}
	if bids == nil {
		bids = []*models.Bid{}
	}
	respondJSON(w, http.StatusOK, bids)
}

// PlaceBid submits a bid for the authenticated principal.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	principal := principalFrom(r.Context())

	var req models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// A zero amount is a valid first bid on a free-starting auction; only
	// negative amounts are nonsense the validator never needs to see.
	if req.Amount.IsNegative() {
		respondError(w, http.StatusBadRequest, "Bid amount must not be negative")
		return
	}

	bid, err := h.engine.PlaceBid(r.Context(), id, principal.ID, req.Amount, time.Now().UTC())
	if err != nil {
		var rej *validator.Rejection
		switch {
		case errors.As(err, &rej):
			respondJSON(w, rejectionStatus(rej), rejectionResponse(rej))
		case errors.Is(err, store.ErrAuctionNotFound):
			respondError(w, http.StatusNotFound, "Auction not found")
		default:
			h.log.Error().Err(err).Str("auction_id", id).Msg("bid placement failed")
			respondError(w, http.StatusInternalServerError, "Failed to place bid")
		}
		return
	}

	respondJSON(w, http.StatusCreated, models.BidResponse{
		Accepted:   true,
		Bid:        bid,
		CurrentBid: bid.Amount,
	})
}

// Cancel moves a scheduled or active auction to cancelled.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.engine.Cancel(r.Context(), id, time.Now().UTC())
	switch {
	case errors.Is(err, store.ErrAuctionNotFound):
		respondError(w, http.StatusNotFound, "Auction not found")
	case errors.Is(err, auction.ErrTerminal):
		respondError(w, http.StatusConflict, "Auction already closed")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to cancel auction")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func rejectionStatus(rej *validator.Rejection) int {
	if rej.Reason == validator.ReasonConflict {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func rejectionResponse(rej *validator.Rejection) models.BidResponse {
	resp := models.BidResponse{
		Accepted: false,
		Reason:   string(rej.Reason),
	}
	switch rej.Reason {
	case validator.ReasonTooLow:
		min := rej.MinRequired
		resp.MinRequired = &min
	case validator.ReasonConflict:
		resp.CurrentBid = rej.CurrentBid
		min := rej.MinRequired
		resp.MinRequired = &min
	}
	return resp
}

// authenticated resolves the bearer token and stores the principal in the
// request context.
func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			respondError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		principal, err := h.provider.Resolve(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) *identity.Principal {
	p, _ := ctx.Value(principalKey).(*identity.Principal)
	return p
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Info().Str("method", r.Method).Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).Msg("request")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
