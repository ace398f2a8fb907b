// Package render formats orders and books as human-readable text.
package render

import (
	"fmt"
	"strings"

	"clob/internal/orderbook"
)

const (
	longTime    = "15:04:05, January 02 2006"
	compactTime = "15:04:05, 01/02/06"
)

func sideLabel(s orderbook.Side) string {
	if s == orderbook.Buy {
		return "Buy"
	}
	return "Sell"
}

func priceLabel(o orderbook.OrderView) string {
	if o.Market {
		return "market price"
	}
	return "$" + o.Price.StringFixed(2)
}

// Order renders a two-line description of an order
func Order(o orderbook.OrderView) string {
	return fmt.Sprintf("Order %d placed at %s:\n\t%s %d at %s",
		o.ID, o.SubmittedAt.UTC().Format(longTime),
		sideLabel(o.Side), o.Quantity, priceLabel(o))
}

// Compact renders an order as a single fixed-width row
func Compact(o orderbook.OrderView) string {
	return fmt.Sprintf("Order: %5d | %4s | %4d | %12s | %s",
		o.ID, sideLabel(o.Side), o.Quantity, priceLabel(o),
		o.SubmittedAt.UTC().Format(compactTime))
}

// Book renders every resting order, bids first, in priority order
func Book(snap orderbook.BookSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total number of orders: %d\n", len(snap.Bids)+len(snap.Asks))
	writeSide := func(name string, orders []orderbook.OrderView) {
		if len(orders) == 0 {
			return
		}
		fmt.Fprintf(&b, "Number of %s: %d. See details below:\n", name, len(orders))
		for _, o := range orders {
			b.WriteString(Compact(o))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	writeSide("bids", snap.Bids)
	writeSide("asks", snap.Asks)
	return b.String()
}
