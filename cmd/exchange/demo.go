package main

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"clob/internal/exchange"
	"clob/internal/orderbook"
	"clob/internal/render"
)

const demoInstrument = "DEMO"

// runDemo places a resting bid and a market sell against it on a scratch
// exchange, printing each order and the final book.
func runDemo(w io.Writer) error {
	ex := exchange.New(exchange.Options{AutoCreate: true}, nil, nil)

	orders := []struct {
		side  orderbook.Side
		typ   orderbook.OrderType
		qty   int64
		price decimal.Decimal
	}{
		{orderbook.Buy, orderbook.Limit, 50, decimal.NewFromInt(370)},
		{orderbook.Sell, orderbook.Market, 2, decimal.Zero},
	}

	for _, o := range orders {
		res, err := ex.PlaceOrder(demoInstrument, o.side, o.typ, o.qty, o.price)
		if err != nil {
			return fmt.Errorf("place demo order: %w", err)
		}
		fmt.Fprintln(w, render.Order(res.Order))
		fmt.Fprintln(w, render.Compact(res.Order))
		for _, t := range res.Trades {
			fmt.Fprintf(w, "Trade: %d @ %s (maker %d, taker %d)\n",
				t.Quantity, t.Price.StringFixed(2), t.MakerOrderID, t.TakerOrderID)
		}
	}

	book, err := ex.Book(demoInstrument)
	if err != nil {
		return err
	}
	fmt.Fprint(w, render.Book(book.Snapshot()))
	return nil
}
