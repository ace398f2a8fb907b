package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clob/internal/config"
	"clob/internal/exchange"
	"clob/internal/orderbook"
	"clob/internal/render"
	"clob/internal/store"
)

type Server struct {
	exchange    *exchange.Exchange
	store       *store.Store // optional journal, nil disables history endpoints
	hub         *Hub
	rateLimiter *RateLimiter // nil when disabled
	upgrader    websocket.Upgrader
	corsOrigins []string // Allowed CORS origins (empty = allow all)
	log         *zap.Logger

	watchMu sync.Mutex
	watched map[*orderbook.OrderBook]bool
}

func NewServer(ex *exchange.Exchange, st *store.Store, cfg config.Server, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		exchange:    ex,
		store:       st,
		hub:         NewHub(logger),
		corsOrigins: cfg.CORSOrigins,
		log:         logger,
		watched:     make(map[*orderbook.OrderBook]bool),
	}
	if cfg.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}

	// stream trades from every book, including ones opened later
	ex.OnBookCreated(s.watchBook)
	for _, id := range ex.Instruments() {
		if book, err := ex.Book(id); err == nil {
			s.watchBook(book)
		}
	}
	return s
}

// watchBook subscribes to a book's trades once, however often it is offered
func (s *Server) watchBook(book *orderbook.OrderBook) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watched[book] {
		return
	}
	s.watched[book] = true
	book.OnTrade(s.broadcastTrade)
}

// checkCORSOrigin checks if an origin is allowed
func (s *Server) checkCORSOrigin(origin string) bool {
	// Empty list = allow all (development mode)
	if len(s.corsOrigins) == 0 {
		return true
	}
	// Empty origin header = same-origin request, always allow
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"} // Allow all in development mode
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/instruments", s.listInstruments)
		r.Post("/instruments", s.createInstrument)

		r.Route("/instruments/{symbol}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if s.rateLimiter != nil {
					r.Use(s.rateLimiter.Middleware)
				}
				r.Post("/orders", s.submitOrder)
				r.Delete("/orders/{id}", s.cancelOrder)
			})
			r.Get("/orders/{id}", s.getOrder)
			r.Get("/book", s.getBook)
			r.Get("/trades", s.getTrades)
			r.Get("/history", s.getHistory)
		})
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orderbook.ErrInvalidOrder), errors.Is(err, exchange.ErrInvalidInstrument):
		status = http.StatusBadRequest
	case errors.Is(err, exchange.ErrUnknownInstrument),
		errors.Is(err, orderbook.ErrOrderNotFound),
		errors.Is(err, store.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrInstrumentExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

type InstrumentRequest struct {
	Instrument string `json:"instrument"`
}

func (s *Server) listInstruments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"instruments": s.exchange.Instruments()})
}

func (s *Server) createInstrument(w http.ResponseWriter, r *http.Request) {
	var req InstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	book, err := s.exchange.Create(req.Instrument)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, InstrumentRequest{Instrument: book.Instrument()})
}

type OrderRequest struct {
	Side     string           `json:"side"` // "buy" or "sell"
	Type     string           `json:"type"` // "limit" or "market"
	Quantity int64            `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"` // required for limit orders
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		s.writeError(w, err)
		return
	}
	orderType, err := orderbook.ParseOrderType(req.Type)
	if err != nil {
		s.writeError(w, err)
		return
	}
	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	}

	result, err := s.exchange.PlaceOrder(chi.URLParam(r, "symbol"), side, orderType, req.Quantity, price)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.broadcastBookUpdate(result.Instrument)
	writeJSON(w, http.StatusOK, result)
}

func parseOrderID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("order id must be a positive integer")
	}
	return id, nil
}

// OrderStatus is the API view of one order, live or journaled
type OrderStatus struct {
	ID         uint64          `json:"id"`
	Instrument string          `json:"instrument"`
	Side       string          `json:"side"`
	Type       string          `json:"type"`
	Price      decimal.Decimal `json:"price"`
	Market     bool            `json:"market"`
	Requested  int64           `json:"requested"`
	Remaining  int64           `json:"remaining"`
	Status     string          `json:"status"`
	Resting    bool            `json:"resting"`
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	book, err := s.exchange.Book(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if view, ok := book.Order(id); ok {
		status := orderbook.StatusResting
		if view.Quantity < view.Requested {
			status = orderbook.StatusPartiallyFilled
		}
		writeJSON(w, http.StatusOK, OrderStatus{
			ID:         view.ID,
			Instrument: book.Instrument(),
			Side:       view.Side.String(),
			Type:       view.Type.String(),
			Price:      view.Price,
			Market:     view.Market,
			Requested:  view.Requested,
			Remaining:  view.Quantity,
			Status:     status.String(),
			Resting:    true,
		})
		return
	}

	if s.store == nil {
		s.writeError(w, orderbook.ErrOrderNotFound)
		return
	}
	rec, err := s.store.GetOrder(id)
	if err == nil && rec.Instrument != book.Instrument() {
		err = store.ErrOrderNotFound
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OrderStatus{
		ID:         rec.ID,
		Instrument: rec.Instrument,
		Side:       rec.Side,
		Type:       rec.Type,
		Price:      rec.Price,
		Market:     rec.Type == orderbook.Market.String(),
		Requested:  rec.Requested,
		Remaining:  rec.Remaining,
		Status:     rec.Status,
	})
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := s.exchange.Cancel(chi.URLParam(r, "symbol"), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	book, _ := s.exchange.Book(chi.URLParam(r, "symbol"))
	if book != nil {
		s.broadcastBookUpdate(book.Instrument())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "order": view})
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.exchange.Book(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(render.Book(book.Snapshot())))
		return
	}
	if levelsStr := r.URL.Query().Get("levels"); levelsStr != "" {
		levels, err := strconv.Atoi(levelsStr)
		if err != nil {
			http.Error(w, "levels must be an integer", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, book.Depth(levels))
		return
	}
	writeJSON(w, http.StatusOK, book.Snapshot())
}

func queryLimit(r *http.Request) int {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	book, err := s.exchange.Book(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book.RecentTrades(queryLimit(r)))
}

// getHistory serves journaled trades, newest first
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "trade journal disabled", http.StatusNotFound)
		return
	}
	instrument, err := exchange.NormalizeInstrument(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	trades, err := s.store.Trades(instrument, queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if trades == nil {
		trades = []store.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	// Send initial depth for every book
	for _, id := range s.exchange.Instruments() {
		if book, err := s.exchange.Book(id); err == nil {
			s.hub.Send(client, map[string]any{
				"type": "book",
				"book": book.Depth(0),
			})
		}
	}

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) broadcastBookUpdate(instrument string) {
	book, err := s.exchange.Book(instrument)
	if err != nil {
		return
	}
	s.hub.Broadcast(map[string]any{
		"type": "book",
		"book": book.Depth(0),
	})
}

func (s *Server) broadcastTrade(trade orderbook.Trade) {
	s.hub.Broadcast(map[string]any{
		"type":  "trade",
		"trade": trade,
	})
}

// Shutdown stops internal goroutines (rate limiter, hub)
func (s *Server) Shutdown() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.hub.Stop()
}
