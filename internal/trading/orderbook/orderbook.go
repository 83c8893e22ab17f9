// Package orderbook keeps the per-symbol resting order sides in price-time
// priority: bids descending by price, asks ascending, ties broken by arrival
// time.
package orderbook

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/openclear/permex/internal/trading/model"
)

// Book is one symbol's resting limit orders. Only limit orders rest; market
// orders cross the opposite side and never enter the book.
type Book struct {
	Symbol string
	bids   *btree.BTreeG[*model.Order]
	asks   *btree.BTreeG[*model.Order]
}

// New builds an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		Symbol: symbol,
		bids:   btree.NewBTreeG(lessBids),
		asks:   btree.NewBTreeG(lessAsks),
	}
}

func limitPrice(o *model.Order) decimal.Decimal {
	p, _ := o.Limit.Price()
	return p
}

// lessBids orders best bid first: highest price, then earliest arrival.
func lessBids(a, b *model.Order) bool {
	pa, pb := limitPrice(a), limitPrice(b)
	if !pa.Equal(pb) {
		return pa.GreaterThan(pb)
	}
	return lessArrival(a, b)
}

// lessAsks orders best ask first: lowest price, then earliest arrival.
func lessAsks(a, b *model.Order) bool {
	pa, pb := limitPrice(a), limitPrice(b)
	if !pa.Equal(pb) {
		return pa.LessThan(pb)
	}
	return lessArrival(a, b)
}

func lessArrival(a, b *model.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	// Equal timestamps: fall back to id so ordering stays deterministic.
	return strings.Compare(a.ID.String(), b.ID.String()) < 0
}

// Add inserts a resting limit order on its side.
func (b *Book) Add(o *model.Order) {
	b.side(o.Side).Set(o)
}

// Remove deletes the order from its side, reporting whether it was resting.
func (b *Book) Remove(o *model.Order) bool {
	_, ok := b.side(o.Side).Delete(o)
	return ok
}

func (b *Book) side(side string) *btree.BTreeG[*model.Order] {
	if side == model.OrderSideBuy {
		return b.bids
	}
	return b.asks
}

// BestBid returns the highest-priority bid, or nil when the side is empty.
func (b *Book) BestBid() *model.Order {
	if o, ok := b.bids.Min(); ok {
		return o
	}
	return nil
}

// BestAsk returns the highest-priority ask, or nil when the side is empty.
func (b *Book) BestAsk() *model.Order {
	if o, ok := b.asks.Min(); ok {
		return o
	}
	return nil
}

// Bids walks bids in priority order until fn returns false.
func (b *Book) Bids(fn func(o *model.Order) bool) {
	b.bids.Scan(fn)
}

// Asks walks asks in priority order until fn returns false.
func (b *Book) Asks(fn func(o *model.Order) bool) {
	b.asks.Scan(fn)
}

// BidLen returns the number of resting bids.
func (b *Book) BidLen() int { return b.bids.Len() }

// AskLen returns the number of resting asks.
func (b *Book) AskLen() int { return b.asks.Len() }

// View is the book's public projection for snapshots.
type View struct {
	Symbol string            `json:"symbol"`
	Bids   []model.OrderView `json:"bids"`
	Asks   []model.OrderView `json:"asks"`
}

// Snapshot projects both sides in priority order.
func (b *Book) Snapshot() View {
	v := View{Symbol: b.Symbol,
		Bids: make([]model.OrderView, 0, b.bids.Len()),
		Asks: make([]model.OrderView, 0, b.asks.Len()),
	}
	b.bids.Scan(func(o *model.Order) bool {
		v.Bids = append(v.Bids, o.View())
		return true
	})
	b.asks.Scan(func(o *model.Order) bool {
		v.Asks = append(v.Asks, o.View())
		return true
	})
	return v
}
