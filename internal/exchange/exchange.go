// Package exchange routes orders to one order book per instrument.
package exchange

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clob/internal/orderbook"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInstrumentExists  = errors.New("instrument already listed")
	ErrInvalidInstrument = errors.New("invalid instrument")
)

// Journal records what the books did. Implementations must not block for
// long; they run on the caller's goroutine after the book is unlocked.
type Journal interface {
	RecordExecution(result orderbook.ExecutionResult) error
	RecordCancel(instrument string, order orderbook.OrderView) error
}

type Options struct {
	// AutoCreate opens a book the first time an instrument is referenced.
	AutoCreate      bool
	MarketRemainder orderbook.MarketRemainderPolicy
	TradeHistory    int
}

// Exchange is the instrument registry. Books share nothing but the order id
// allocator, so different instruments match in parallel.
type Exchange struct {
	opts    Options
	ids     *orderbook.IDAllocator
	journal Journal
	log     *zap.Logger

	mu    sync.RWMutex
	books map[string]*orderbook.OrderBook
	order []string

	onBook []func(*orderbook.OrderBook)
}

// New creates an exchange. journal may be nil.
func New(opts Options, journal Journal, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{
		opts:    opts,
		ids:     orderbook.NewIDAllocator(),
		journal: journal,
		log:     logger,
		books:   make(map[string]*orderbook.OrderBook),
	}
}

// NormalizeInstrument trims and upper-cases an instrument id
func NormalizeInstrument(instrument string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	if s == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidInstrument)
	}
	return s, nil
}

// OnBookCreated registers a callback run whenever a new book is opened
func (e *Exchange) OnBookCreated(fn func(*orderbook.OrderBook)) {
	e.mu.Lock()
	e.onBook = append(e.onBook, fn)
	e.mu.Unlock()
}

func (e *Exchange) newBook(instrument string) *orderbook.OrderBook {
	opts := []orderbook.Option{orderbook.WithMarketRemainder(e.opts.MarketRemainder)}
	if e.opts.TradeHistory > 0 {
		opts = append(opts, orderbook.WithTradeHistory(e.opts.TradeHistory))
	}
	book := orderbook.New(instrument, opts...)
	e.books[instrument] = book
	e.order = append(e.order, instrument)
	e.log.Info("book opened",
		zap.String("instrument", instrument),
		zap.String("market_remainder", e.opts.MarketRemainder.String()))
	return book
}

func (e *Exchange) notifyBook(book *orderbook.OrderBook, callbacks []func(*orderbook.OrderBook)) {
	for _, fn := range callbacks {
		fn(book)
	}
}

// Create lists a new instrument
func (e *Exchange) Create(instrument string) (*orderbook.OrderBook, error) {
	id, err := NormalizeInstrument(instrument)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, exists := e.books[id]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInstrumentExists, id)
	}
	book := e.newBook(id)
	callbacks := e.onBook
	e.mu.Unlock()

	e.notifyBook(book, callbacks)
	return book, nil
}

// Book looks up an existing book
func (e *Exchange) Book(instrument string) (*orderbook.OrderBook, error) {
	id, err := NormalizeInstrument(instrument)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	book, ok := e.books[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, id)
	}
	return book, nil
}

// GetOrCreate returns the instrument's book, opening it when auto-creation is
// enabled.
func (e *Exchange) GetOrCreate(instrument string) (*orderbook.OrderBook, error) {
	book, err := e.Book(instrument)
	if err == nil || !errors.Is(err, ErrUnknownInstrument) || !e.opts.AutoCreate {
		return book, err
	}

	id, _ := NormalizeInstrument(instrument)
	e.mu.Lock()
	if book, ok := e.books[id]; ok {
		e.mu.Unlock()
		return book, nil
	}
	book = e.newBook(id)
	callbacks := e.onBook
	e.mu.Unlock()

	e.notifyBook(book, callbacks)
	return book, nil
}

// Instruments returns listed instruments in the order they were opened
func (e *Exchange) Instruments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Route places an already-constructed order on the instrument's book
func (e *Exchange) Route(instrument string, order *orderbook.Order) (orderbook.ExecutionResult, error) {
	book, err := e.GetOrCreate(instrument)
	if err != nil {
		return orderbook.ExecutionResult{}, err
	}

	result, err := book.Place(order)
	if err != nil {
		return result, err
	}

	e.log.Debug("order placed",
		zap.String("instrument", result.Instrument),
		zap.Uint64("order_id", result.OrderID),
		zap.Stringer("side", result.Side),
		zap.Stringer("type", result.Type),
		zap.Int("trades", len(result.Trades)),
		zap.Int64("filled", result.Filled),
		zap.Int64("remaining", result.Remaining),
		zap.Stringer("status", result.Status))

	if e.journal != nil {
		if err := e.journal.RecordExecution(result); err != nil {
			e.log.Error("journal execution failed",
				zap.String("instrument", result.Instrument),
				zap.Uint64("order_id", result.OrderID),
				zap.Error(err))
		}
	}
	return result, nil
}

// PlaceOrder builds an order from its parts with the shared id allocator and
// routes it. Market orders must pass a zero price.
func (e *Exchange) PlaceOrder(instrument string, side orderbook.Side, typ orderbook.OrderType, quantity int64, price decimal.Decimal) (orderbook.ExecutionResult, error) {
	book, err := e.GetOrCreate(instrument)
	if err != nil {
		return orderbook.ExecutionResult{}, err
	}
	order, err := orderbook.NewOrder(e.ids, side, typ, quantity, price)
	if err != nil {
		return orderbook.ExecutionResult{}, err
	}
	return e.Route(book.Instrument(), order)
}

// Cancel removes a resting order from the instrument's book
func (e *Exchange) Cancel(instrument string, orderID uint64) (orderbook.OrderView, error) {
	book, err := e.Book(instrument)
	if err != nil {
		return orderbook.OrderView{}, err
	}
	view, err := book.Cancel(orderID)
	if err != nil {
		return view, err
	}

	e.log.Debug("order cancelled",
		zap.String("instrument", book.Instrument()),
		zap.Uint64("order_id", orderID),
		zap.Int64("remaining", view.Quantity))

	if e.journal != nil {
		if err := e.journal.RecordCancel(book.Instrument(), view); err != nil {
			e.log.Error("journal cancel failed",
				zap.String("instrument", book.Instrument()),
				zap.Uint64("order_id", orderID),
				zap.Error(err))
		}
	}
	return view, nil
}

// IDs exposes the shared allocator for callers that build orders themselves
func (e *Exchange) IDs() *orderbook.IDAllocator {
	return e.ids
}
