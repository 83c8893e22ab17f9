package settlement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclear/permex/internal/trading/model"
)

type recordedEvent struct {
	Type    string
	Payload any
}

type fakeAudit struct {
	events []recordedEvent
}

func (f *fakeAudit) Record(eventType string, payload any) {
	f.events = append(f.events, recordedEvent{Type: eventType, Payload: payload})
}

func (f *fakeAudit) types() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTrade(buyer, seller, symbol, qty, price string, created time.Time) *model.Trade {
	return &model.Trade{
		ID:        uuid.New(),
		TenantID:  "t1",
		Symbol:    symbol,
		Quantity:  d(qty),
		Price:     d(price),
		BuyerID:   buyer,
		SellerID:  seller,
		CreatedAt: created,
	}
}

func TestInstantSettlement(t *testing.T) {
	audit := &fakeAudit{}
	p := NewProcessor(audit, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	buyer := model.NewAccount("t1", "alice", "Alice", []string{"AAPL"})
	seller := model.NewAccount("t1", "bob", "Bob", []string{"AAPL"})
	trade := newTrade("alice", "bob", "AAPL", "5", "100", now)

	var q Queue
	p.SettleOrQueue(model.SettlementInstant, 30*time.Second, buyer, seller, trade, &q, now)

	assert.Equal(t, model.TradeStatusSettled, trade.Status)
	assert.True(t, buyer.TokenBalance("AAPL").Equal(d("5")))
	assert.True(t, seller.USD.Equal(d("500")))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, []string{EventTradeSettled}, audit.types())
}

func TestDeferredQueuesTrade(t *testing.T) {
	audit := &fakeAudit{}
	p := NewProcessor(audit, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	buyer := model.NewAccount("t1", "alice", "Alice", []string{"AAPL"})
	seller := model.NewAccount("t1", "bob", "Bob", []string{"AAPL"})
	trade := newTrade("alice", "bob", "AAPL", "5", "100", now)

	var q Queue
	p.SettleOrQueue(model.SettlementDeferredNet, 30*time.Second, buyer, seller, trade, &q, now)

	assert.Equal(t, model.TradeStatusPending, trade.Status)
	require.NotNil(t, trade.SettleAt)
	assert.Equal(t, now.Add(30*time.Second), *trade.SettleAt)
	assert.Equal(t, 1, q.Len())
	assert.True(t, buyer.TokenBalance("AAPL").IsZero(), "no balance movement before the sweep")
	assert.Equal(t, []string{EventTradeQueued}, audit.types())
}

func TestSweepSkipsNotYetDue(t *testing.T) {
	audit := &fakeAudit{}
	p := NewProcessor(audit, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	accounts := map[string]*model.Account{
		"alice": model.NewAccount("t1", "alice", "Alice", []string{"AAPL"}),
		"bob":   model.NewAccount("t1", "bob", "Bob", []string{"AAPL"}),
	}
	lookup := func(id string) *model.Account { return accounts[id] }

	var q Queue
	trade := newTrade("alice", "bob", "AAPL", "5", "100", now)
	p.SettleOrQueue(model.SettlementDeferredNet, 30*time.Second, accounts["alice"], accounts["bob"], trade, &q, now)

	settled := p.Sweep("t1", &q, lookup, now.Add(10*time.Second))
	assert.Equal(t, 0, settled)
	assert.Equal(t, 1, q.Len())

	settled = p.Sweep("t1", &q, lookup, now.Add(30*time.Second))
	assert.Equal(t, 1, settled)
	assert.Equal(t, 0, q.Len())
	assert.True(t, accounts["alice"].TokenBalance("AAPL").Equal(d("5")))
	assert.True(t, accounts["bob"].USD.Equal(d("500")))
}

func TestSweepNetsOffsettingTrades(t *testing.T) {
	audit := &fakeAudit{}
	p := NewProcessor(audit, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Both accounts start flat; the sells that produced these trades had
	// their tokens debited at reservation time.
	accounts := map[string]*model.Account{
		"alice": model.NewAccount("t1", "alice", "Alice", []string{"X"}),
		"bob":   model.NewAccount("t1", "bob", "Bob", []string{"X"}),
	}
	lookup := func(id string) *model.Account { return accounts[id] }

	var q Queue
	t1 := newTrade("alice", "bob", "X", "3", "100", now)
	t2 := newTrade("bob", "alice", "X", "3", "100", now)
	p.SettleOrQueue(model.SettlementDeferredNet, time.Second, accounts["alice"], accounts["bob"], t1, &q, now)
	p.SettleOrQueue(model.SettlementDeferredNet, time.Second, accounts["bob"], accounts["alice"], t2, &q, now)

	settled := p.Sweep("t1", &q, lookup, now.Add(time.Minute))
	assert.Equal(t, 2, settled)
	assert.Equal(t, model.TradeStatusSettled, t1.Status)
	assert.Equal(t, model.TradeStatusSettled, t2.Status)

	// Each account sold 3 X (debited at reservation) and bought 3 X back:
	// the netted sweep restores both to their pre-trade position, and the
	// offsetting cash legs cancel as well.
	assert.True(t, accounts["alice"].TokenBalance("X").Equal(d("3")))
	assert.True(t, accounts["bob"].TokenBalance("X").Equal(d("3")))
	assert.True(t, accounts["alice"].USD.Equal(d("300")))
	assert.True(t, accounts["bob"].USD.Equal(d("300")))

	types := audit.types()
	assert.Equal(t, EventBatchNetting, types[len(types)-1])
}

func TestSweepIsIdempotentPerTrade(t *testing.T) {
	audit := &fakeAudit{}
	p := NewProcessor(audit, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	accounts := map[string]*model.Account{
		"alice": model.NewAccount("t1", "alice", "Alice", []string{"AAPL"}),
		"bob":   model.NewAccount("t1", "bob", "Bob", []string{"AAPL"}),
	}
	lookup := func(id string) *model.Account { return accounts[id] }

	var q Queue
	trade := newTrade("alice", "bob", "AAPL", "2", "50", now)
	p.SettleOrQueue(model.SettlementDeferredNet, time.Second, accounts["alice"], accounts["bob"], trade, &q, now)

	require.Equal(t, 1, p.Sweep("t1", &q, lookup, now.Add(time.Minute)))
	require.Equal(t, 0, p.Sweep("t1", &q, lookup, now.Add(2*time.Minute)), "settled trades left the queue")
	assert.True(t, accounts["alice"].TokenBalance("AAPL").Equal(d("2")), "no double settlement")
}
