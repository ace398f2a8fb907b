package orderbook

import (
	"container/list"
	"sort"

	"github.com/shopspring/decimal"
)

// priceLevel holds all resting orders at one price, oldest first
type priceLevel struct {
	price  decimal.Decimal
	market bool
	orders *list.List // of *Order
	total  int64
}

func newPriceLevel(price decimal.Decimal, market bool) *priceLevel {
	return &priceLevel{price: price, market: market, orders: list.New()}
}

func (pl *priceLevel) push(o *Order) *list.Element {
	pl.total += o.Quantity
	return pl.orders.PushBack(o)
}

func (pl *priceLevel) remove(e *list.Element) *Order {
	o := pl.orders.Remove(e).(*Order)
	pl.total -= o.Quantity
	return o
}

func (pl *priceLevel) front() *list.Element {
	return pl.orders.Front()
}

func (pl *priceLevel) empty() bool {
	return pl.orders.Len() == 0
}

func (pl *priceLevel) view() PriceLevel {
	return PriceLevel{
		Price:    pl.price,
		Market:   pl.market,
		Quantity: pl.total,
		Orders:   pl.orders.Len(),
	}
}

// PriceLevel summarises one level of a side
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Market   bool            `json:"market"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// bookSide is one side of the book. Priced levels are kept best-first;
// resting market orders live in their own level which always ranks ahead of
// every priced level.
type bookSide struct {
	side   Side
	market *priceLevel
	levels []*priceLevel
	count  int
}

func newBookSide(side Side) *bookSide {
	return &bookSide{side: side}
}

// better reports whether price a ranks ahead of price b on this side
func (bs *bookSide) better(a, b decimal.Decimal) bool {
	if bs.side == Buy {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// search returns the index of the first level that does not rank ahead of
// price, and whether that level is exactly at price.
func (bs *bookSide) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(bs.levels), func(i int) bool {
		return !bs.better(bs.levels[i].price, price)
	})
	return i, i < len(bs.levels) && bs.levels[i].price.Equal(price)
}

func (bs *bookSide) len() int {
	return bs.count
}

func (bs *bookSide) bestLevel() *priceLevel {
	if bs.market != nil {
		return bs.market
	}
	if len(bs.levels) > 0 {
		return bs.levels[0]
	}
	return nil
}

// best returns the order with the highest priority without removing it
func (bs *bookSide) best() (*Order, bool) {
	level := bs.bestLevel()
	if level == nil {
		return nil, false
	}
	return level.front().Value.(*Order), true
}

// bestPriced returns the best level that carries a price
func (bs *bookSide) bestPriced() (*priceLevel, bool) {
	if len(bs.levels) == 0 {
		return nil, false
	}
	return bs.levels[0], true
}

// insert queues the order behind everything already at its price
func (bs *bookSide) insert(o *Order) *list.Element {
	bs.count++
	if o.IsMarket() {
		if bs.market == nil {
			bs.market = newPriceLevel(decimal.Zero, true)
		}
		return bs.market.push(o)
	}

	i, found := bs.search(o.Price)
	if !found {
		level := newPriceLevel(o.Price, false)
		bs.levels = append(bs.levels, nil)
		copy(bs.levels[i+1:], bs.levels[i:])
		bs.levels[i] = level
	}
	return bs.levels[i].push(o)
}

// removeFront pops the best order
func (bs *bookSide) removeFront() (*Order, bool) {
	level := bs.bestLevel()
	if level == nil {
		return nil, false
	}
	o := level.remove(level.front())
	bs.count--
	bs.dropIfEmpty(level)
	return o, true
}

// decrementFront reduces the best order's remaining quantity in place
func (bs *bookSide) decrementFront(qty int64) {
	level := bs.bestLevel()
	if level == nil {
		return
	}
	o := level.front().Value.(*Order)
	o.Quantity -= qty
	level.total -= qty
}

// remove takes an arbitrary resting order out of the side
func (bs *bookSide) remove(o *Order, e *list.Element) bool {
	var level *priceLevel
	if o.IsMarket() {
		level = bs.market
	} else if i, found := bs.search(o.Price); found {
		level = bs.levels[i]
	}
	if level == nil {
		return false
	}
	level.remove(e)
	bs.count--
	bs.dropIfEmpty(level)
	return true
}

func (bs *bookSide) dropIfEmpty(level *priceLevel) {
	if !level.empty() {
		return
	}
	if level.market {
		bs.market = nil
		return
	}
	i, found := bs.search(level.price)
	if !found {
		return
	}
	copy(bs.levels[i:], bs.levels[i+1:])
	bs.levels[len(bs.levels)-1] = nil
	bs.levels = bs.levels[:len(bs.levels)-1]
}

// each visits every order in priority order until fn returns false
func (bs *bookSide) each(fn func(*Order) bool) {
	visit := func(level *priceLevel) bool {
		for e := level.front(); e != nil; e = e.Next() {
			if !fn(e.Value.(*Order)) {
				return false
			}
		}
		return true
	}
	if bs.market != nil && !visit(bs.market) {
		return
	}
	for _, level := range bs.levels {
		if !visit(level) {
			return
		}
	}
}

// depth returns up to n levels best-first; n <= 0 means all
func (bs *bookSide) depth(n int) []PriceLevel {
	total := len(bs.levels)
	if bs.market != nil {
		total++
	}
	if n <= 0 || n > total {
		n = total
	}
	out := make([]PriceLevel, 0, n)
	if bs.market != nil && len(out) < n {
		out = append(out, bs.market.view())
	}
	for _, level := range bs.levels {
		if len(out) >= n {
			break
		}
		out = append(out, level.view())
	}
	return out
}
