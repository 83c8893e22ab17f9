package orderbook

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclear/permex/internal/trading/model"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func limitOrder(side, price string, qty string, offset time.Duration) *model.Order {
	p, _ := decimal.NewFromString(price)
	q, _ := decimal.NewFromString(qty)
	return &model.Order{
		ID:        uuid.New(),
		Symbol:    "AAPL",
		Side:      side,
		Type:      model.OrderTypeLimit,
		Limit:     model.LimitAt(p),
		Quantity:  q,
		Remaining: q,
		Status:    model.OrderStatusOpen,
		CreatedAt: baseTime.Add(offset),
	}
}

func TestBidsOrderedByPriceThenTime(t *testing.T) {
	b := New("AAPL")

	low := limitOrder(model.OrderSideBuy, "99", "1", 0)
	highLate := limitOrder(model.OrderSideBuy, "101", "1", 2*time.Second)
	highEarly := limitOrder(model.OrderSideBuy, "101", "1", time.Second)

	b.Add(low)
	b.Add(highLate)
	b.Add(highEarly)

	require.Equal(t, 3, b.BidLen())
	assert.Same(t, highEarly, b.BestBid(), "price first, then earlier arrival")

	var got []*model.Order
	b.Bids(func(o *model.Order) bool { got = append(got, o); return true })
	assert.Equal(t, []*model.Order{highEarly, highLate, low}, got)
}

func TestAsksOrderedByPriceThenTime(t *testing.T) {
	b := New("AAPL")

	high := limitOrder(model.OrderSideSell, "105", "1", 0)
	lowLate := limitOrder(model.OrderSideSell, "100", "1", 2*time.Second)
	lowEarly := limitOrder(model.OrderSideSell, "100", "1", time.Second)

	b.Add(high)
	b.Add(lowLate)
	b.Add(lowEarly)

	assert.Same(t, lowEarly, b.BestAsk())

	var got []*model.Order
	b.Asks(func(o *model.Order) bool { got = append(got, o); return true })
	assert.Equal(t, []*model.Order{lowEarly, lowLate, high}, got)
}

func TestRemove(t *testing.T) {
	b := New("AAPL")
	o := limitOrder(model.OrderSideBuy, "100", "1", 0)
	b.Add(o)

	require.True(t, b.Remove(o))
	assert.Nil(t, b.BestBid())
	assert.False(t, b.Remove(o), "second removal reports not resting")
}

func TestEmptyBook(t *testing.T) {
	b := New("AAPL")
	assert.Nil(t, b.BestBid())
	assert.Nil(t, b.BestAsk())
	assert.Equal(t, 0, b.BidLen())
	assert.Equal(t, 0, b.AskLen())
}

func TestSnapshot(t *testing.T) {
	b := New("AAPL")
	b.Add(limitOrder(model.OrderSideBuy, "100", "2", 0))
	b.Add(limitOrder(model.OrderSideSell, "103", "1", 0))
	b.Add(limitOrder(model.OrderSideSell, "102", "4", time.Second))

	v := b.Snapshot()
	require.Len(t, v.Bids, 1)
	require.Len(t, v.Asks, 2)
	assert.Equal(t, "102", *v.Asks[0].Price, "asks snapshot ascending by price")
	assert.Equal(t, "103", *v.Asks[1].Price)
}
