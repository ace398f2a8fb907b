package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"clob/internal/orderbook"
)

var ErrOrderNotFound = errors.New("order not found")

// Store is the SQLite journal of every order and trade the exchange handled
type Store struct {
	db *sql.DB
}

// New opens the database and applies pending migrations
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection: SQLite has a single writer, and ":memory:" databases
	// are per connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// OrderRecord is a journaled order with its fill state derived from trades
type OrderRecord struct {
	ID          uint64          `json:"id"`
	Instrument  string          `json:"instrument"`
	Side        string          `json:"side"`
	Type        string          `json:"type"`
	Price       decimal.Decimal `json:"price"` // zero for market orders
	Requested   int64           `json:"requested"`
	Filled      int64           `json:"filled"`
	Remaining   int64           `json:"remaining"` // still working in the book
	Status      string          `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// TradeRecord is a journaled execution
type TradeRecord struct {
	ID           string          `json:"id"`
	Instrument   string          `json:"instrument"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	MakerOrderID uint64          `json:"maker_order_id"`
	TakerOrderID uint64          `json:"taker_order_id"`
	BuyOrderID   uint64          `json:"buy_order_id"`
	SellOrderID  uint64          `json:"sell_order_id"`
	TakerSide    string          `json:"taker_side"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

func priceColumn(o orderbook.OrderView) string {
	if o.Market {
		return ""
	}
	return o.Price.String()
}

func insertOrder(tx *sql.Tx, instrument string, o orderbook.OrderView) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO orders (id, instrument, side, type, price, requested, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, int64(o.ID), instrument, o.Side.String(), o.Type.String(), priceColumn(o), o.Requested, o.SubmittedAt)
	return err
}

// RecordExecution journals the incoming order and every trade it produced in
// one transaction. Maker fill state is derived from the trades, so results
// may arrive out of order across goroutines.
func (s *Store) RecordExecution(result orderbook.ExecutionResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertOrder(tx, result.Instrument, result.Order); err != nil {
		return fmt.Errorf("insert order %d: %w", result.OrderID, err)
	}

	for _, t := range result.Trades {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO trades (id, instrument, price, quantity, maker_order_id, taker_order_id,
				buy_order_id, sell_order_id, taker_side, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Instrument, t.Price.String(), t.Quantity, int64(t.MakerOrderID), int64(t.TakerOrderID),
			int64(t.BuyOrderID), int64(t.SellOrderID), t.TakerSide.String(), t.Timestamp)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}

	if result.Status == orderbook.StatusExpired {
		if err := closeOrder(tx, result.OrderID, orderbook.StatusExpired, result.Remaining); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordCancel marks a resting order as cancelled
func (s *Store) RecordCancel(instrument string, o orderbook.OrderView) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertOrder(tx, instrument, o); err != nil {
		return fmt.Errorf("insert order %d: %w", o.ID, err)
	}
	if err := closeOrder(tx, o.ID, orderbook.StatusCancelled, o.Quantity); err != nil {
		return err
	}
	return tx.Commit()
}

func closeOrder(tx *sql.Tx, id uint64, status orderbook.Status, remaining int64) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO order_closures (order_id, status, remaining)
		VALUES (?, ?, ?)
	`, int64(id), status.String(), remaining)
	if err != nil {
		return fmt.Errorf("close order %d: %w", id, err)
	}
	return nil
}

// GetOrder returns a journaled order with fills summed from its trades
func (s *Store) GetOrder(id uint64) (*OrderRecord, error) {
	var (
		o      OrderRecord
		rawID  int64
		price  string
		closed sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT o.id, o.instrument, o.side, o.type, o.price, o.requested, o.submitted_at,
			COALESCE((SELECT SUM(quantity) FROM trades WHERE maker_order_id = o.id OR taker_order_id = o.id), 0),
			c.status
		FROM orders o
		LEFT JOIN order_closures c ON c.order_id = o.id
		WHERE o.id = ?
	`, int64(id)).Scan(&rawID, &o.Instrument, &o.Side, &o.Type, &price, &o.Requested, &o.SubmittedAt,
		&o.Filled, &closed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	o.ID = uint64(rawID)
	if price != "" {
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order %d has bad price %q: %w", id, price, err)
		}
	}

	o.Remaining = o.Requested - o.Filled
	switch {
	case closed.Valid:
		o.Status = closed.String
		o.Remaining = 0
	case o.Remaining == 0:
		o.Status = orderbook.StatusFilled.String()
	case o.Filled > 0:
		o.Status = orderbook.StatusPartiallyFilled.String()
	default:
		o.Status = orderbook.StatusResting.String()
	}
	return &o, nil
}

// Trades returns the most recent trades for an instrument, newest first
func (s *Store) Trades(instrument string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, instrument, price, quantity, maker_order_id, taker_order_id,
			buy_order_id, sell_order_id, taker_side, executed_at
		FROM trades
		WHERE instrument = ?
		ORDER BY executed_at DESC, rowid DESC
		LIMIT ?
	`, instrument, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var price string
		var maker, taker, buy, sell int64
		if err := rows.Scan(&t.ID, &t.Instrument, &price, &t.Quantity, &maker, &taker,
			&buy, &sell, &t.TakerSide, &t.ExecutedAt); err != nil {
			return nil, err
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("trade %s has bad price %q: %w", t.ID, price, err)
		}
		t.MakerOrderID, t.TakerOrderID = uint64(maker), uint64(taker)
		t.BuyOrderID, t.SellOrderID = uint64(buy), uint64(sell)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
