package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
	"github.com/uhyunpark/gridquote/pkg/app/core/grid"
	"github.com/uhyunpark/gridquote/pkg/app/core/ledger"
	"github.com/uhyunpark/gridquote/pkg/app/core/market"
	"github.com/uhyunpark/gridquote/pkg/app/core/quoter"
	"github.com/uhyunpark/gridquote/pkg/app/core/swappath"
	"github.com/uhyunpark/gridquote/pkg/app/gridex"
	"github.com/uhyunpark/gridquote/pkg/crypto"
)

const (
	defaultBookDepth = 10
	defaultSwapLimit = 50
	maxBodyBytes     = 1 << 20
)

var errBadRequest = errors.New("bad request")

// Server handles REST API and WebSocket connections
type Server struct {
	app         *gridex.App
	router      *mux.Router
	hub         *Hub
	corsOrigins []string

	srvMu sync.Mutex
	srv   *http.Server
}

// NewServer creates the API server and subscribes it to executed swaps.
func NewServer(app *gridex.App, corsOrigins []string) *Server {
	s := &Server{
		app:         app,
		router:      mux.NewRouter(),
		hub:         NewHub(),
		corsOrigins: corsOrigins,
	}
	s.setupRoutes()
	app.OnSwap(s.broadcastSwap)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Grid endpoints
	api.HandleFunc("/grids", s.handleGetGrids).Methods("GET")
	api.HandleFunc("/grids", s.handleCreateGrid).Methods("POST")
	api.HandleFunc("/grids/{id}", s.handleGetGrid).Methods("GET")
	api.HandleFunc("/grids/{id}/books", s.handleGetBooks).Methods("GET")
	api.HandleFunc("/grids/{id}/swaps", s.handleGetSwaps).Methods("GET")
	api.HandleFunc("/grids/{id}/orders", s.handleGetOrders).Methods("GET")

	// Maker orders
	api.HandleFunc("/grids/{id}/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/grids/{id}/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Trading
	api.HandleFunc("/swap", s.handleSwap).Methods("POST")
	api.HandleFunc("/quote/exact-input", s.handleQuote(true)).Methods("POST")
	api.HandleFunc("/quote/exact-output", s.handleQuote(false)).Methods("POST")

	// Path codec
	api.HandleFunc("/path/encode", s.handleEncodePath).Methods("POST")
	api.HandleFunc("/path/decode", s.handleDecodePath).Methods("POST")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves until Shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srvMu.Lock()
	s.srv = srv
	s.srvMu.Unlock()

	log.Printf("[api] server starting on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	s.srvMu.Lock()
	srv := s.srv
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ==============================
// Grid Handlers
// ==============================

func (s *Server) handleGetGrids(w http.ResponseWriter, r *http.Request) {
	grids := s.app.Grids()
	response := make([]GridInfo, len(grids))
	for i, g := range grids {
		response[i] = toGridInfo(g)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	id, err := gridID(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	info, err := s.app.Grid(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, toGridInfo(info))
}

func (s *Server) handleCreateGrid(w http.ResponseWriter, r *http.Request) {
	var req CreateGridRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	tokenA, err := crypto.ParseAddress(req.TokenA)
	if err != nil {
		respondErr(w, err)
		return
	}
	tokenB, err := crypto.ParseAddress(req.TokenB)
	if err != nil {
		respondErr(w, err)
		return
	}
	price, err := initialPrice(&req)
	if err != nil {
		respondErr(w, err)
		return
	}

	id, err := s.app.CreateGrid(tokenA, tokenB, req.Resolution, price)
	if err != nil {
		respondErr(w, err)
		return
	}
	log.Printf("[api] grid created: id=%s resolution=%d", id.Hex(), req.Resolution)
	respondStatus(w, http.StatusCreated, CreateGridResponse{ID: id.Hex()})
}

func initialPrice(req *CreateGridRequest) (*big.Int, error) {
	set := 0
	for _, ok := range []bool{req.PriceX96 != "", req.Price != "", req.Boundary != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: give exactly one of priceX96, price, boundary", errBadRequest)
	}

	switch {
	case req.PriceX96 != "":
		return parseAmount("priceX96", req.PriceX96)
	case req.Price != "":
		d, err := decimal.NewFromString(req.Price)
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("%w: invalid price %q", errBadRequest, req.Price)
		}
		return boundary.DecimalToPrice(d), nil
	default:
		return boundary.PriceAtBoundary(*req.Boundary)
	}
}

func (s *Server) handleGetBooks(w http.ResponseWriter, r *http.Request) {
	id, err := gridID(r)
	if err != nil {
		respondErr(w, err)
		return
	}

	q := r.URL.Query()
	zero := true
	if v := q.Get("zero"); v != "" {
		if zero, err = strconv.ParseBool(v); err != nil {
			respondErr(w, fmt.Errorf("%w: zero=%q", errBadRequest, v))
			return
		}
	}
	maxCount, err := queryInt(r, "max", defaultBookDepth)
	if err != nil {
		respondErr(w, err)
		return
	}

	books, err := s.app.MakerBooks(id, zero, maxCount)
	if err != nil {
		respondErr(w, err)
		return
	}
	levels := make([]BookLevel, len(books))
	for i, b := range books {
		levels[i] = BookLevel{BoundaryLower: b.BoundaryLower, MakerAmountRemaining: b.Remaining.String()}
	}
	respondJSON(w, BooksSnapshot{
		GridID:    id.Hex(),
		Zero:      zero,
		Levels:    levels,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetSwaps(w http.ResponseWriter, r *http.Request) {
	id, err := gridID(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultSwapLimit)
	if err != nil {
		respondErr(w, err)
		return
	}
	recs, err := s.app.RecentSwaps(id, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	response := make([]SwapInfo, len(recs))
	for i, rec := range recs {
		response[i] = SwapInfo{
			ID:         rec.ID,
			ZeroForOne: rec.ZeroForOne,
			ExactInput: rec.ExactInput,
			AmountIn:   rec.AmountIn.String(),
			AmountOut:  rec.AmountOut.String(),
			PriceX96:   rec.PriceAfter.String(),
			Boundary:   rec.BoundaryAfter,
			Timestamp:  time.Unix(0, rec.Timestamp).UnixMilli(),
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	id, err := gridID(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	owner, err := crypto.ParseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		respondErr(w, err)
		return
	}
	orders, err := s.app.Orders(id, owner)
	if err != nil {
		respondErr(w, err)
		return
	}
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = toOrderInfo(o)
	}
	respondJSON(w, response)
}

// ==============================
// Maker Order Handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, err := gridID(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var req MakerOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	owner, err := crypto.ParseAddress(req.Owner)
	if err != nil {
		respondErr(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	nonce, err := parseAmount("nonce", req.Nonce)
	if err != nil {
		respondErr(w, err)
		return
	}

	orderID, err := s.app.PlaceMakerOrder(&crypto.MakerOrderEIP712{
		GridID:        id,
		Zero:          req.Zero,
		BoundaryLower: req.BoundaryLower,
		Amount:        amount,
		Nonce:         nonce,
		Owner:         owner,
	}, req.Signature)
	if err != nil {
		respondErr(w, err)
		return
	}

	log.Printf("[api] maker order placed: grid=%s id=%d owner=%s", id.Hex(), orderID, owner.Hex())
	respondJSON(w, MakerOrderResponse{Status: "resting", OrderID: orderID})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := gridID(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var req CancelOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	owner, err := crypto.ParseAddress(req.Owner)
	if err != nil {
		respondErr(w, err)
		return
	}
	nonce, err := parseAmount("nonce", req.Nonce)
	if err != nil {
		respondErr(w, err)
		return
	}

	refund, err := s.app.CancelMakerOrder(&crypto.CancelEIP712{
		GridID:  id,
		OrderID: req.OrderID,
		Nonce:   nonce,
		Owner:   owner,
	}, req.Signature)
	if err != nil {
		respondErr(w, err)
		return
	}

	log.Printf("[api] maker order cancelled: grid=%s id=%d", id.Hex(), req.OrderID)
	respondJSON(w, CancelOrderResponse{
		Status:   "cancelled",
		OrderID:  req.OrderID,
		Refund:   refund.Remaining.String(),
		Proceeds: refund.Proceeds.String(),
	})
}

// ==============================
// Quote and Swap Handlers
// ==============================

func (s *Server) handleQuote(exactInput bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QuoteRequest
		if err := decodeBody(w, r, &req); err != nil {
			respondErr(w, err)
			return
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			respondErr(w, err)
			return
		}

		var q *quoter.Quote
		if exactInput {
			q, err = s.app.Quoter().QuoteExactInput(r.Context(), req.Path, amount)
		} else {
			q, err = s.app.Quoter().QuoteExactOutput(r.Context(), req.Path, amount)
		}
		if err != nil {
			respondErr(w, err)
			return
		}

		response := QuoteResponse{
			QuoteID:                          uuid.NewString(),
			Amount:                           q.Amount.String(),
			PriceAfterList:                   make([]string, len(q.PriceAfterList)),
			InitializedBoundariesCrossedList: q.InitializedBoundariesCrossedList,
			Hops:                             make([]HopInfo, len(q.Hops)),
		}
		for i, p := range q.PriceAfterList {
			response.PriceAfterList[i] = p.String()
		}
		for i, h := range q.Hops {
			response.Hops[i] = HopInfo{
				TokenIn:           h.TokenIn.Hex(),
				TokenOut:          h.TokenOut.Hex(),
				Resolution:        h.Resolution,
				AmountIn:          h.AmountIn.String(),
				AmountOut:         h.AmountOut.String(),
				PriceAfter:        h.PriceAfter.String(),
				BoundariesCrossed: h.BoundariesCrossed,
			}
		}
		respondJSON(w, response)
	}
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	var limit *big.Int
	if req.Limit != "" {
		if limit, err = parseAmount("limit", req.Limit); err != nil {
			respondErr(w, err)
			return
		}
	}

	var rcpt *gridex.SwapReceipt
	if req.ExactInput {
		rcpt, err = s.app.SwapExactInput(r.Context(), req.Path, amount, limit)
	} else {
		rcpt, err = s.app.SwapExactOutput(r.Context(), req.Path, amount, limit)
	}
	if err != nil {
		respondErr(w, err)
		return
	}

	response := SwapResponse{
		SwapID:    rcpt.ID,
		AmountIn:  rcpt.AmountIn.String(),
		AmountOut: rcpt.AmountOut.String(),
		Hops:      make([]HopInfo, len(rcpt.Hops)),
	}
	for i, h := range rcpt.Hops {
		response.Hops[i] = HopInfo{
			GridID:     h.GridID.Hex(),
			TokenIn:    h.TokenIn.Hex(),
			TokenOut:   h.TokenOut.Hex(),
			AmountIn:   h.AmountIn.String(),
			AmountOut:  h.AmountOut.String(),
			PriceAfter: h.PriceX96.String(),
		}
	}
	log.Printf("[api] swap executed: id=%s in=%s out=%s hops=%d", rcpt.ID, response.AmountIn, response.AmountOut, len(rcpt.Hops))
	respondJSON(w, response)
}

// ==============================
// Path Handlers
// ==============================

func (s *Server) handleEncodePath(w http.ResponseWriter, r *http.Request) {
	var req PathEncodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	tokens := make([]common.Address, len(req.Tokens))
	for i, t := range req.Tokens {
		addr, err := crypto.ParseAddress(t)
		if err != nil {
			respondErr(w, err)
			return
		}
		tokens[i] = addr
	}
	protocols := req.Protocols
	if len(protocols) == 0 {
		protocols = make([]uint8, len(req.Resolutions))
		for i := range protocols {
			protocols[i] = swappath.ProtocolGrid
		}
	}

	path, err := swappath.Encode(tokens, protocols, req.Resolutions)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondPath(w, path)
}

func (s *Server) handleDecodePath(w http.ResponseWriter, r *http.Request) {
	var req PathDecodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, err)
		return
	}
	respondPath(w, req.Path)
}

func respondPath(w http.ResponseWriter, path []byte) {
	hops, err := swappath.Decode(path)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := PathResponse{Path: hexutil.Bytes(path), Hops: make([]PathHop, len(hops))}
	for i, h := range hops {
		out.Hops[i] = PathHop{
			TokenIn:    h.TokenIn.Hex(),
			TokenOut:   h.TokenOut.Hex(),
			Protocol:   h.Protocol,
			Resolution: h.Resolution,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.app.StateHash()
	respondJSON(w, HealthResponse{
		Status:    "ok",
		Grids:     len(s.app.Grids()),
		StateHash: hexutil.Encode(h[:]),
	})
}

// ==============================
// Broadcast Methods
// ==============================

// broadcastSwap pushes the new slot0 of a grid to its subscribers
func (s *Server) broadcastSwap(ev gridex.SwapEvent) {
	s.hub.BroadcastSlot0(ev.GridID, Slot0Update{
		Type:      "slot0",
		GridID:    ev.GridID.Hex(),
		SwapID:    ev.SwapID,
		PriceX96:  ev.PriceX96.String(),
		Boundary:  ev.Boundary,
		AmountIn:  ev.AmountIn.String(),
		AmountOut: ev.AmountOut.String(),
		Timestamp: time.Unix(0, ev.TimestampNano).UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func toGridInfo(g *gridex.GridInfo) GridInfo {
	return GridInfo{
		ID:         g.ID.Hex(),
		Token0:     g.Token0.Hex(),
		Token1:     g.Token1.Hex(),
		Resolution: g.Resolution,
		PriceX96:   g.PriceX96.String(),
		Price:      g.Price,
		Boundary:   g.Boundary,
		Status:     g.Status,
	}
}

func toOrderInfo(o *grid.Order) OrderInfo {
	return OrderInfo{
		ID:            o.ID,
		Owner:         o.Owner.Hex(),
		Zero:          o.Zero,
		BoundaryLower: o.BoundaryLower,
		Amount:        o.Amount.String(),
		Remaining:     o.Remaining.String(),
		Proceeds:      o.Proceeds.String(),
		Cancelled:     o.Cancelled,
	}
}

func gridID(r *http.Request) (common.Hash, error) {
	raw := mux.Vars(r)["id"]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: invalid grid id %q", errBadRequest, raw)
	}
	return common.BytesToHash(b), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive integer, got %q", errBadRequest, field, s)
	}
	return v, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", errBadRequest, key, v)
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, swappath.ErrMalformedPath),
		errors.Is(err, boundary.ErrInvalidResolution),
		errors.Is(err, boundary.ErrOutOfRange),
		errors.Is(err, ledger.ErrUnsupportedProtocol),
		errors.Is(err, quoter.ErrInvalidAmount),
		errors.Is(err, grid.ErrInvalidAmount),
		errors.Is(err, grid.ErrIdenticalTokens),
		errors.Is(err, crypto.ErrInvalidAddress),
		errors.Is(err, gridex.ErrRepeatedPool):
		return http.StatusBadRequest
	case errors.Is(err, gridex.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, grid.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrPoolNotFound),
		errors.Is(err, grid.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrGridExists),
		errors.Is(err, gridex.ErrNonceTooLow),
		errors.Is(err, grid.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientLiquidity),
		errors.Is(err, gridex.ErrSlippage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] internal error: %v", err)
	}
	respondError(w, status, http.StatusText(status), err.Error())
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
