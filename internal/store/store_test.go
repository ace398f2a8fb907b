package store

import (
	"errors"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"clob/internal/orderbook"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	// Create temp file for test database
	f, err := os.CreateTemp("", "clob-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	dbPath := f.Name()
	f.Close()

	store, err := New(dbPath)
	if err != nil {
		os.Remove(dbPath)
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(dbPath)
	}

	return store, cleanup
}

// execute runs orders through a real book and journals each result
func execute(t *testing.T, store *Store, book *orderbook.OrderBook, orders ...*orderbook.Order) []orderbook.ExecutionResult {
	t.Helper()
	var results []orderbook.ExecutionResult
	for _, o := range orders {
		res, err := book.Place(o)
		if err != nil {
			t.Fatalf("Place failed: %v", err)
		}
		if err := store.RecordExecution(res); err != nil {
			t.Fatalf("RecordExecution failed: %v", err)
		}
		results = append(results, res)
	}
	return results
}

func mustLimit(t *testing.T, ids *orderbook.IDAllocator, side orderbook.Side, qty, price int64) *orderbook.Order {
	t.Helper()
	o, err := orderbook.NewLimitOrder(ids, side, qty, decimal.NewFromInt(price))
	if err != nil {
		t.Fatalf("NewLimitOrder failed: %v", err)
	}
	return o
}

func mustMarket(t *testing.T, ids *orderbook.IDAllocator, side orderbook.Side, qty int64) *orderbook.Order {
	t.Helper()
	o, err := orderbook.NewMarketOrder(ids, side, qty)
	if err != nil {
		t.Fatalf("NewMarketOrder failed: %v", err)
	}
	return o
}

func TestMigrationsApplied(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	applied, pending, err := store.MigrationStatus()
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("expected %d applied migrations, got %v", len(migrations), applied)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending migrations, got %v", pending)
	}

	// running again is a no-op
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestRecordExecutionTracksBothSides(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ids := orderbook.NewIDAllocator()
	book := orderbook.New("AAPL")

	sell := mustLimit(t, ids, orderbook.Sell, 20, 100)
	buy := mustLimit(t, ids, orderbook.Buy, 8, 101)
	execute(t, store, book, sell, buy)

	maker, err := store.GetOrder(sell.ID)
	if err != nil {
		t.Fatalf("GetOrder(maker) failed: %v", err)
	}
	if maker.Filled != 8 || maker.Remaining != 12 {
		t.Errorf("maker: expected filled 8 remaining 12, got %d/%d", maker.Filled, maker.Remaining)
	}
	if maker.Status != "partially_filled" {
		t.Errorf("maker: expected partially_filled, got %s", maker.Status)
	}
	if !maker.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("maker: expected price 100, got %s", maker.Price)
	}

	taker, err := store.GetOrder(buy.ID)
	if err != nil {
		t.Fatalf("GetOrder(taker) failed: %v", err)
	}
	if taker.Status != "filled" || taker.Remaining != 0 {
		t.Errorf("taker: expected filled with nothing left, got %s/%d", taker.Status, taker.Remaining)
	}
	if taker.Side != "buy" || taker.Type != "limit" || taker.Instrument != "AAPL" {
		t.Errorf("taker: unexpected record %+v", taker)
	}

	trades, err := store.Trades("AAPL", 10)
	if err != nil {
		t.Fatalf("Trades failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Quantity != 8 || !tr.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected trade %+v", tr)
	}
	if tr.MakerOrderID != sell.ID || tr.TakerOrderID != buy.ID || tr.BuyOrderID != buy.ID || tr.SellOrderID != sell.ID {
		t.Errorf("unexpected trade order ids %+v", tr)
	}
	if tr.TakerSide != "buy" {
		t.Errorf("expected taker side buy, got %s", tr.TakerSide)
	}
}

func TestTradesNewestFirstAndLimited(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ids := orderbook.NewIDAllocator()
	book := orderbook.New("GOOG")

	execute(t, store, book, mustLimit(t, ids, orderbook.Sell, 30, 100))
	var buys []*orderbook.Order
	for i := 0; i < 3; i++ {
		b := mustLimit(t, ids, orderbook.Buy, 10, 100)
		buys = append(buys, b)
		execute(t, store, book, b)
	}

	trades, err := store.Trades("GOOG", 2)
	if err != nil {
		t.Fatalf("Trades failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].TakerOrderID != buys[2].ID || trades[1].TakerOrderID != buys[1].ID {
		t.Errorf("expected newest first, got takers %d, %d", trades[0].TakerOrderID, trades[1].TakerOrderID)
	}

	other, err := store.Trades("AAPL", 10)
	if err != nil {
		t.Fatalf("Trades failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no AAPL trades, got %d", len(other))
	}
}

func TestRecordCancel(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ids := orderbook.NewIDAllocator()
	book := orderbook.New("AAPL")

	bid := mustLimit(t, ids, orderbook.Buy, 10, 50)
	execute(t, store, book, bid, mustMarket(t, ids, orderbook.Sell, 4))

	view, err := book.Cancel(bid.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := store.RecordCancel("AAPL", view); err != nil {
		t.Fatalf("RecordCancel failed: %v", err)
	}

	rec, err := store.GetOrder(bid.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if rec.Status != "cancelled" || rec.Filled != 4 || rec.Remaining != 0 {
		t.Errorf("expected cancelled with 4 filled, got %s filled=%d remaining=%d", rec.Status, rec.Filled, rec.Remaining)
	}
}

func TestRecordExpiredMarketRemainder(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ids := orderbook.NewIDAllocator()
	book := orderbook.New("AAPL", orderbook.WithMarketRemainder(orderbook.CancelMarketRemainder))

	mkt := mustMarket(t, ids, orderbook.Buy, 10)
	execute(t, store, book, mustLimit(t, ids, orderbook.Sell, 3, 70), mkt)

	rec, err := store.GetOrder(mkt.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if rec.Status != "expired" || rec.Filled != 3 {
		t.Errorf("expected expired with 3 filled, got %s/%d", rec.Status, rec.Filled)
	}
	if !rec.Price.IsZero() || rec.Type != "market" {
		t.Errorf("market order should have no price, got %s (%s)", rec.Price, rec.Type)
	}
}

func TestOutOfOrderJournaling(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ids := orderbook.NewIDAllocator()
	book := orderbook.New("AAPL")

	maker := mustLimit(t, ids, orderbook.Sell, 10, 100)
	taker := mustLimit(t, ids, orderbook.Buy, 6, 100)
	makerRes, _ := book.Place(maker)
	takerRes, _ := book.Place(taker)

	// the taker's result lands first
	if err := store.RecordExecution(takerRes); err != nil {
		t.Fatalf("RecordExecution(taker) failed: %v", err)
	}
	if err := store.RecordExecution(makerRes); err != nil {
		t.Fatalf("RecordExecution(maker) failed: %v", err)
	}

	rec, err := store.GetOrder(maker.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if rec.Remaining != 4 || rec.Status != "partially_filled" {
		t.Errorf("expected 4 remaining, got %d (%s)", rec.Remaining, rec.Status)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.GetOrder(404)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) failed: %v", err)
	}
	defer store.Close()

	ids := orderbook.NewIDAllocator()
	book := orderbook.New("AAPL")
	execute(t, store, book, mustLimit(t, ids, orderbook.Buy, 1, 10), mustLimit(t, ids, orderbook.Sell, 1, 10))

	trades, err := store.Trades("AAPL", 0)
	if err != nil {
		t.Fatalf("Trades failed: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("expected 1 trade, got %d", len(trades))
	}
}
