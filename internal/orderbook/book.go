package orderbook

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketRemainderPolicy decides what happens to the unfilled part of a market
// order once the contra side can no longer fill it.
type MarketRemainderPolicy int

const (
	// RestMarketRemainder queues the remainder at the front of its side,
	// flagged as a market order.
	RestMarketRemainder MarketRemainderPolicy = iota
	// CancelMarketRemainder expires the remainder; it never rests.
	CancelMarketRemainder
)

func (p MarketRemainderPolicy) String() string {
	if p == CancelMarketRemainder {
		return "cancel"
	}
	return "rest"
}

const defaultTradeHistory = 1000

type Option func(*OrderBook)

func WithMarketRemainder(p MarketRemainderPolicy) Option {
	return func(ob *OrderBook) { ob.marketRemainder = p }
}

// WithTradeHistory bounds the number of trades kept for RecentTrades
func WithTradeHistory(n int) Option {
	return func(ob *OrderBook) {
		if n > 0 {
			ob.historySize = n
		}
	}
}

// OrderBook is an in-memory price-time priority book for a single instrument
type OrderBook struct {
	instrument string

	mu    sync.RWMutex
	bids  *bookSide
	asks  *bookSide
	index map[uint64]*list.Element

	marketRemainder MarketRemainderPolicy

	trades      []Trade
	historySize int

	onTrade []func(Trade)
}

func New(instrument string, opts ...Option) *OrderBook {
	ob := &OrderBook{
		instrument:  instrument,
		bids:        newBookSide(Buy),
		asks:        newBookSide(Sell),
		index:       make(map[uint64]*list.Element),
		historySize: defaultTradeHistory,
	}
	for _, opt := range opts {
		opt(ob)
	}
	return ob
}

func (ob *OrderBook) Instrument() string {
	return ob.instrument
}

// OnTrade registers a callback run for every trade, after the book lock has
// been released.
func (ob *OrderBook) OnTrade(fn func(Trade)) {
	ob.mu.Lock()
	ob.onTrade = append(ob.onTrade, fn)
	ob.mu.Unlock()
}

func (ob *OrderBook) sideFor(s Side) *bookSide {
	if s == Buy {
		return ob.bids
	}
	return ob.asks
}

// Place matches the order against the opposite side and rests whatever is
// left. The book takes ownership of the order; callers should only read it
// through the returned result or Order.
func (ob *OrderBook) Place(order *Order) (ExecutionResult, error) {
	if order == nil {
		return ExecutionResult{}, fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}

	ob.mu.Lock()
	if err := ob.admit(order); err != nil {
		ob.mu.Unlock()
		return ExecutionResult{}, err
	}

	trades := ob.match(order)

	result := ExecutionResult{
		OrderID:    order.ID,
		Instrument: ob.instrument,
		Side:       order.Side,
		Type:       order.Type,
		Trades:     trades,
		Filled:     order.Filled(),
	}

	switch {
	case order.Quantity == 0:
		result.Status = StatusFilled
	case order.IsMarket() && ob.marketRemainder == CancelMarketRemainder:
		result.Status = StatusExpired
	default:
		ob.index[order.ID] = ob.sideFor(order.Side).insert(order)
		result.Status = StatusResting
		if len(trades) > 0 {
			result.Status = StatusPartiallyFilled
		}
	}
	result.Remaining = order.Quantity
	result.Order = order.View()

	callbacks := ob.onTrade
	ob.mu.Unlock()

	for _, trade := range trades {
		for _, fn := range callbacks {
			fn(trade)
		}
	}
	return result, nil
}

// admit rejects orders that cannot enter the matching pass
func (ob *OrderBook) admit(order *Order) error {
	if order.ID == 0 {
		return fmt.Errorf("%w: order has no id", ErrInvalidOrder)
	}
	if order.Quantity <= 0 {
		return fmt.Errorf("%w: order %d has no remaining quantity", ErrInvalidOrder, order.ID)
	}
	if order.Type == Limit && !order.Price.IsPositive() {
		return fmt.Errorf("%w: order %d has non-positive limit price", ErrInvalidOrder, order.ID)
	}
	if order.Side != Buy && order.Side != Sell {
		return fmt.Errorf("%w: order %d has unknown side", ErrInvalidOrder, order.ID)
	}
	if _, exists := ob.index[order.ID]; exists {
		return fmt.Errorf("%w: order %d is already resting", ErrInvalidOrder, order.ID)
	}
	if !order.admitted.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: order %d was already placed", ErrInvalidOrder, order.ID)
	}
	return nil
}

func (ob *OrderBook) match(in *Order) []Trade {
	contra := ob.sideFor(in.Side.Opposite())

	var trades []Trade
	for in.Quantity > 0 {
		top, ok := contra.best()
		if !ok {
			break
		}
		price, ok := executionPrice(in, top)
		if !ok {
			break
		}

		qty := min(in.Quantity, top.Quantity)
		trades = append(trades, ob.recordTrade(in, top, price, qty))

		if in.Quantity < top.Quantity {
			contra.decrementFront(qty)
			in.Quantity = 0
			break
		}
		// top is used up; == and > both remove it, only > keeps looping
		contra.removeFront()
		delete(ob.index, top.ID)
		top.Quantity = 0
		in.Quantity -= qty
	}
	return trades
}

// executionPrice reports whether in crosses the resting order top and at what
// price. Trades print at the maker's price; a resting market order has none,
// so it trades at the incoming limit price. Two market orders never trade.
func executionPrice(in, top *Order) (decimal.Decimal, bool) {
	switch {
	case in.IsMarket() && top.IsMarket():
		return decimal.Decimal{}, false
	case in.IsMarket():
		return top.Price, true
	case top.IsMarket():
		return in.Price, true
	case in.Side == Buy:
		return top.Price, in.Price.GreaterThanOrEqual(top.Price)
	default:
		return top.Price, in.Price.LessThanOrEqual(top.Price)
	}
}

func (ob *OrderBook) recordTrade(taker, maker *Order, price decimal.Decimal, qty int64) Trade {
	buy, sell := taker, maker
	if taker.Side == Sell {
		buy, sell = maker, taker
	}
	trade := Trade{
		ID:           uuid.New().String(),
		Instrument:   ob.instrument,
		Price:        price,
		Quantity:     qty,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		BuyOrderID:   buy.ID,
		SellOrderID:  sell.ID,
		TakerSide:    taker.Side,
		Timestamp:    time.Now().UTC(),
	}
	ob.trades = append(ob.trades, trade)
	if over := len(ob.trades) - ob.historySize; over > 0 {
		ob.trades = append(ob.trades[:0], ob.trades[over:]...)
	}
	return trade
}

// Cancel removes a resting order from the book
func (ob *OrderBook) Cancel(orderID uint64) (OrderView, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	e, exists := ob.index[orderID]
	if !exists {
		return OrderView{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	order := e.Value.(*Order)
	if !ob.sideFor(order.Side).remove(order, e) {
		return OrderView{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	delete(ob.index, orderID)
	return order.View(), nil
}

// Order returns the current state of a resting order
func (ob *OrderBook) Order(orderID uint64) (OrderView, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	e, exists := ob.index[orderID]
	if !exists {
		return OrderView{}, false
	}
	return e.Value.(*Order).View(), true
}

// Len returns the number of resting orders on both sides
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.len() + ob.asks.len()
}

// BookSnapshot lists every resting order in priority order
type BookSnapshot struct {
	Instrument string      `json:"instrument"`
	Bids       []OrderView `json:"bids"`
	Asks       []OrderView `json:"asks"`
}

func (ob *OrderBook) Snapshot() BookSnapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	snap := BookSnapshot{
		Instrument: ob.instrument,
		Bids:       make([]OrderView, 0, ob.bids.len()),
		Asks:       make([]OrderView, 0, ob.asks.len()),
	}
	ob.bids.each(func(o *Order) bool {
		snap.Bids = append(snap.Bids, o.View())
		return true
	})
	ob.asks.each(func(o *Order) bool {
		snap.Asks = append(snap.Asks, o.View())
		return true
	})
	return snap
}

// DepthSnapshot aggregates each side by price level
type DepthSnapshot struct {
	Instrument string       `json:"instrument"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
}

// Depth returns up to levels price levels per side; levels <= 0 means all
func (ob *OrderBook) Depth(levels int) DepthSnapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return DepthSnapshot{
		Instrument: ob.instrument,
		Bids:       ob.bids.depth(levels),
		Asks:       ob.asks.depth(levels),
	}
}

// RecentTrades returns the last n trades, oldest first
func (ob *OrderBook) RecentTrades(n int) []Trade {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if n > len(ob.trades) {
		n = len(ob.trades)
	}
	start := len(ob.trades) - n
	result := make([]Trade, n)
	copy(result, ob.trades[start:])
	return result
}

// BestBid returns the top bid level. A resting market bid ranks first.
func (ob *OrderBook) BestBid() (PriceLevel, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	level := ob.bids.bestLevel()
	if level == nil {
		return PriceLevel{}, false
	}
	return level.view(), true
}

// BestAsk returns the top ask level. A resting market ask ranks first.
func (ob *OrderBook) BestAsk() (PriceLevel, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	level := ob.asks.bestLevel()
	if level == nil {
		return PriceLevel{}, false
	}
	return level.view(), true
}

// MidPrice returns the midpoint of the best priced bid and ask
func (ob *OrderBook) MidPrice() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	bid, ok := ob.bids.bestPriced()
	if !ok {
		return decimal.Decimal{}, false
	}
	ask, ok := ob.asks.bestPriced()
	if !ok {
		return decimal.Decimal{}, false
	}
	return bid.price.Add(ask.price).Div(decimal.NewFromInt(2)), true
}
