package orderbook

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrOrderNotFound = errors.New("order not found")
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the side an order of this side matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return Buy, fmt.Errorf("%w: side must be 'buy' or 'sell', got %q", ErrInvalidOrder, s)
}

type OrderType int

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "market"
	}
	return "limit"
}

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "limit":
		return Limit, nil
	case "market":
		return Market, nil
	}
	return Limit, fmt.Errorf("%w: type must be 'limit' or 'market', got %q", ErrInvalidOrder, s)
}

// IDAllocator hands out process-unique, strictly increasing order ids.
// Safe for concurrent use by any number of books.
type IDAllocator struct {
	last atomic.Uint64
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns the next id. The first id is 1.
func (a *IDAllocator) Next() uint64 {
	return a.last.Add(1)
}

// Order is one order's intent. Everything except Quantity is fixed at
// construction; Quantity is only ever reduced by the book while matching.
type Order struct {
	ID          uint64
	Side        Side
	Type        OrderType
	Price       decimal.Decimal // zero for market orders
	Quantity    int64           // remaining
	Requested   int64
	Sequence    uint64 // arrival stamp, ties at a price resolve on it
	SubmittedAt time.Time

	// set once the order has entered a book; an order is placed at most once
	admitted atomic.Bool
}

// NewOrder validates and stamps a new order. Limit orders need a positive
// price; market orders must not carry one.
func NewOrder(ids *IDAllocator, side Side, typ OrderType, quantity int64, price decimal.Decimal) (*Order, error) {
	if ids == nil {
		return nil, fmt.Errorf("%w: no id allocator", ErrInvalidOrder)
	}
	if side != Buy && side != Sell {
		return nil, fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, side)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, quantity)
	}
	switch typ {
	case Limit:
		if !price.IsPositive() {
			return nil, fmt.Errorf("%w: limit price must be positive, got %s", ErrInvalidOrder, price)
		}
	case Market:
		if !price.IsZero() {
			return nil, fmt.Errorf("%w: market orders carry no price, got %s", ErrInvalidOrder, price)
		}
	default:
		return nil, fmt.Errorf("%w: unknown order type %d", ErrInvalidOrder, typ)
	}

	id := ids.Next()
	return &Order{
		ID:          id,
		Side:        side,
		Type:        typ,
		Price:       price,
		Quantity:    quantity,
		Requested:   quantity,
		Sequence:    id,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func NewLimitOrder(ids *IDAllocator, side Side, quantity int64, price decimal.Decimal) (*Order, error) {
	return NewOrder(ids, side, Limit, quantity, price)
}

func NewMarketOrder(ids *IDAllocator, side Side, quantity int64) (*Order, error) {
	return NewOrder(ids, side, Market, quantity, decimal.Zero)
}

func (o *Order) IsMarket() bool {
	return o.Type == Market
}

func (o *Order) Filled() int64 {
	return o.Requested - o.Quantity
}

// View returns a read-only copy of the order's current state
func (o *Order) View() OrderView {
	return OrderView{
		ID:          o.ID,
		Side:        o.Side,
		Type:        o.Type,
		Price:       o.Price,
		Market:      o.IsMarket(),
		Quantity:    o.Quantity,
		Requested:   o.Requested,
		Sequence:    o.Sequence,
		SubmittedAt: o.SubmittedAt,
	}
}

// OrderView is a snapshot of an order handed out to callers. Mutating it has
// no effect on the book.
type OrderView struct {
	ID          uint64          `json:"id"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	Price       decimal.Decimal `json:"price"`
	Market      bool            `json:"market"`
	Quantity    int64           `json:"quantity"`
	Requested   int64           `json:"requested"`
	Sequence    uint64          `json:"sequence"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type Status int

const (
	StatusResting Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusExpired
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusResting:
		return "resting"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Trade struct {
	ID           string          `json:"id"`
	Instrument   string          `json:"instrument"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	MakerOrderID uint64          `json:"maker_order_id"`
	TakerOrderID uint64          `json:"taker_order_id"`
	BuyOrderID   uint64          `json:"buy_order_id"`
	SellOrderID  uint64          `json:"sell_order_id"`
	TakerSide    Side            `json:"taker_side"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ExecutionResult describes what one Place call did to the incoming order.
// Remaining is the unfilled quantity; it rests in the book unless Status is
// StatusExpired.
type ExecutionResult struct {
	OrderID    uint64    `json:"order_id"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Trades     []Trade   `json:"trades"`
	Filled     int64     `json:"filled"`
	Remaining  int64     `json:"remaining"`
	Status     Status    `json:"status"`
	// Order is the incoming order as it stood when Place returned
	Order OrderView `json:"order"`
}

// Resting reports whether any of the order is left in the book
func (r ExecutionResult) Resting() bool {
	return r.Status == StatusResting || r.Status == StatusPartiallyFilled
}
