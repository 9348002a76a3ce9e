// Package api exposes the settlement engine over REST plus a WebSocket
// event stream for external indexers and order-book services.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/jmlee-dev/listex/pkg/engine"
	"github.com/jmlee-dev/listex/pkg/ledger"
)

// Server handles REST and WebSocket connections.
type Server struct {
	eng    *engine.Engine
	bank   *ledger.Bank
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer creates the API server around an existing hub. The hub
// implements engine.Sink; wire the same hub into the engine so committed
// events reach connected clients.
func NewServer(eng *engine.Engine, bank *ledger.Bank, hub *Hub, log *zap.SugaredLogger) *Server {
	s := &Server{
		eng:    eng,
		bank:   bank,
		router: mux.NewRouter(),
		hub:    hub,
		log:    log,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub for use as an event sink.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Settlement
	api.HandleFunc("/orders/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/orders/match/batch", s.handleBatchMatch).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/orders/cancel/batch", s.handleBatchCancel).Methods("POST")
	api.HandleFunc("/orders/refund", s.handleRefund).Methods("POST")
	api.HandleFunc("/orders/refund/batch", s.handleBatchRefund).Methods("POST")

	// Queries
	api.HandleFunc("/listings/{seller}/{listingId}", s.handleGetListing).Methods("GET")
	api.HandleFunc("/fees", s.handleGetFees).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	// Administration
	api.HandleFunc("/admin/fee-rate", s.handleSetFeeRate).Methods("POST")
	api.HandleFunc("/admin/fee-recipient", s.handleSetFeeRecipient).Methods("POST")
	api.HandleFunc("/admin/trusted-verifier", s.handleSetTrustedVerifier).Methods("POST")
	api.HandleFunc("/admin/features", s.handleSetFeatures).Methods("POST")

	// WebSocket event stream
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// Settlement handlers
// ==============================

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	buyer, ok := parseAddress(w, req.Buyer, "buyer")
	if !ok {
		return
	}
	if req.Order == nil {
		respondError(w, http.StatusBadRequest, "missing order", "")
		return
	}
	if err := s.eng.ExecuteOrder(buyer, req.Order, req.AttachedValue); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, okResponse{Status: "settled"})
}

func (s *Server) handleBatchMatch(w http.ResponseWriter, r *http.Request) {
	var req BatchMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	buyer, ok := parseAddress(w, req.Buyer, "buyer")
	if !ok {
		return
	}
	if err := s.eng.BatchMatchOrders(buyer, req.Orders, req.TotalAttachedValue); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, okResponse{Status: "settled"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req TerminateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	if req.Order == nil {
		respondError(w, http.StatusBadRequest, "missing order", "")
		return
	}
	if err := s.eng.CancelOrder(caller, req.Order); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, okResponse{Status: "canceled"})
}

func (s *Server) handleBatchCancel(w http.ResponseWriter, r *http.Request) {
	var req BatchTerminateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	if err := s.eng.BatchCancelOrders(caller, req.Orders); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, okResponse{Status: "canceled"})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req TerminateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	if req.Order == nil {
		respondError(w, http.StatusBadRequest, "missing order", "")
		return
	}
	if err := s.eng.Refund(caller, req.Order); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, okResponse{Status: "refunded"})
}

func (s *Server) handleBatchRefund(w http.ResponseWriter, r *http.Request) {
	var req BatchTerminateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	if err := s.eng.BatchRefund(caller, req.Orders); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, okResponse{Status: "refunded"})
}

// ==============================
// Query handlers
// ==============================

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	seller, ok := parseAddress(w, vars["seller"], "seller")
	if !ok {
		return
	}
	listingID := common.HexToHash(vars["listingId"])
	consumed, err := s.eng.IsConsumed(seller, listingID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	respondJSON(w, ListingStatus{
		Seller:    seller.Hex(),
		ListingID: listingID.Hex(),
		Consumed:  consumed,
	})
}

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, FeeInfo{
		RateBps:    s.eng.FeeRate(),
		CeilingBps: engine.MaxFeeRateBps,
		Recipient:  s.eng.FeeRecipient().Hex(),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, ok := parseAddress(w, vars["address"], "address")
	if !ok {
		return
	}
	respondJSON(w, AccountInfo{
		Address: addr.Hex(),
		Balance: s.bank.Balance(addr),
	})
}

// ==============================
// Admin handlers
// ==============================

func (s *Server) handleSetFeeRate(w http.ResponseWriter, r *http.Request) {
	var req FeeRateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	if err := s.eng.SetFeeRate(caller, req.Bps); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, okResponse{Status: "updated"})
}

func (s *Server) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	s.handleSetAddress(w, r, s.eng.SetFeeRecipient)
}

func (s *Server) handleSetTrustedVerifier(w http.ResponseWriter, r *http.Request) {
	s.handleSetAddress(w, r, s.eng.SetTrustedVerifier)
}

func (s *Server) handleSetAddress(w http.ResponseWriter, r *http.Request, set func(caller, addr common.Address) error) {
	var req AddressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	addr, ok := parseAddress(w, req.Address, "address")
	if !ok {
		return
	}
	if err := set(caller, addr); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, okResponse{Status: "updated"})
}

func (s *Server) handleSetFeatures(w http.ResponseWriter, r *http.Request) {
	var req FeaturesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	features := make([]engine.Feature, 0, len(req.Features))
	for _, name := range req.Features {
		f, err := engine.FeatureFromString(name)
		if err != nil {
			respondError(w, http.StatusBadRequest, "unknown feature", name)
			return
		}
		features = append(features, f)
	}
	if err := s.eng.SetFeatures(caller, features, req.Enabled); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, okResponse{Status: "updated"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, okResponse{Status: "ok"})
}

// ==============================
// Helpers
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, s, field string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", field)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg, Detail: detail})
}

// respondEngineError maps engine error kinds onto HTTP statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrFeatureDisabled):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidOrder):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrReentrantCall):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrTransferRejected),
		errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	}
	respondError(w, status, "settlement rejected", err.Error())
}
