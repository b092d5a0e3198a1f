package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/app/core/transaction"
	"github.com/xendbit/AssetManager/pkg/app/exchange"
	"github.com/xendbit/AssetManager/pkg/util"
)

const (
	maxRequestBytes   = 1 << 20
	defaultTradeLimit = 50
)

// Server serves the REST API and the WebSocket feed.
type Server struct {
	x        *exchange.Exchange
	verifier *transaction.Verifier
	hub      *Hub
	router   *mux.Router
	origins  []string
	log      *zap.SugaredLogger
}

func NewServer(x *exchange.Exchange, verifier *transaction.Verifier, hub *Hub, allowedOrigins []string, log *zap.SugaredLogger) *Server {
	log = util.OrNop(log)
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		x:        x,
		verifier: verifier,
		hub:      hub,
		router:   mux.NewRouter(),
		origins:  allowedOrigins,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/assets/{id:[0-9]+}", s.handleGetAsset).Methods("GET")
	api.HandleFunc("/assets/{id:[0-9]+}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/assets/{id:[0-9]+}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/assets/{id:[0-9]+}/holders/{address}", s.handleGetHolding).Methods("GET")

	api.HandleFunc("/issuers/{address}/assets", s.handleGetIssuedAssets).Methods("GET")

	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/assets", s.handleGetAccountAssets).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{key}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/requests", s.handleSubmitRequest).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.x.Assets())
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	a, err := s.x.Asset(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, a)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	d, err := s.x.Depth(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, d)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	if _, err := s.x.Asset(id); err != nil {
		s.respondErr(w, err)
		return
	}
	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "InvalidArgument", "limit must be a positive integer")
			return
		}
		limit = n
	}
	respondJSON(w, s.x.RecentTrades(id, limit))
}

func (s *Server) handleGetHolding(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	addr, ok := address(w, r)
	if !ok {
		return
	}
	h, err := s.x.OwnedShares(id, addr)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, HoldingInfo{Holding: h, Total: h.Total()})
}

func (s *Server) handleGetIssuedAssets(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	respondJSON(w, s.x.IssuedAssets(addr))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	wal := s.x.Wallet(addr)
	respondJSON(w, AccountInfo{
		Address:   addr.Hex(),
		Available: wal.Available,
		Escrow:    wal.Escrow,
		Total:     wal.Total(),
		Nonce:     wal.Nonce,
		Tokens:    s.x.TokenBalance(addr),
		Assets:    s.x.UserAssets(addr),
	})
}

func (s *Server) handleGetAccountAssets(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	respondJSON(w, s.x.UserAssets(addr))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	respondJSON(w, s.x.Orders(exchange.OrderFilter{Kind: exchange.FilterAccount, Account: addr}))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := exchange.ParseOrderFilter(q.Get("filter"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if v := q.Get("asset"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "InvalidArgument", "asset must be a numeric id")
			return
		}
		f.AssetID = id
	}
	respondJSON(w, s.x.Orders(f))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["key"]
	b, err := hexBytes(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "InvalidArgument", "order key must be 32 bytes of hex")
		return
	}
	o, err := s.x.Order(common.BytesToHash(b))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, o)
}

// handleSubmitRequest authenticates a signed envelope and runs it.
func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidArgument", "failed to read body: "+err.Error())
		return
	}
	req, err := transaction.Deserialize(body)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	caller, err := s.verifier.Verify(req)
	if err != nil {
		s.log.Debugw("request_signature_rejected", "caller", req.Caller.Hex(), "action", req.Action, "err", err)
		s.respondErr(w, err)
		return
	}

	result, err := s.x.Dispatch(r.Context(), exchange.Auth{Caller: caller, Nonce: req.Nonce}, req.Action, req.Payload)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "committed", Action: string(req.Action), Result: result})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthResponse{Status: "ok", Assets: len(s.x.Assets()), Clients: s.hub.Clients()})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrDuplicateID), errors.Is(err, errs.ErrAlreadyFinalized):
		return http.StatusConflict
	case errors.Is(err, errs.ErrInsufficientFunds), errors.Is(err, errs.ErrInsufficientHoldings):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("api_internal_error", "err", err)
	}
	respondError(w, status, errs.Kind(err), err.Error())
}

func assetID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidArgument", "invalid asset id")
		return 0, false
	}
	return id, true
}

func address(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	v := mux.Vars(r)["address"]
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "InvalidArgument", "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func hexBytes(s string) ([]byte, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return hexutil.Decode("0x" + s)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: kind, Message: message})
}
