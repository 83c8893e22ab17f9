// Package settlement applies matched trades to account balances, either
// instantly or through a deferred netting queue swept on a schedule.
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclear/permex/internal/trading/model"
	"github.com/openclear/permex/pkg/metrics"
)

// Audit receives one event per settlement state transition.
type Audit interface {
	Record(eventType string, payload any)
}

// Ledger event types emitted by the processor.
const (
	EventTradeSettled = "TRADE_SETTLED"
	EventTradeQueued  = "TRADE_QUEUED"
	EventBatchNetting = "BATCH_NETTING_APPLIED"
)

// Queue holds one tenant's pending deferred trades.
type Queue struct {
	pending []*model.Trade
}

// Len returns the number of queued trades.
func (q *Queue) Len() int { return len(q.pending) }

// Pending returns the queued trades in order.
func (q *Queue) Pending() []*model.Trade { return q.pending }

// Processor settles trades. It owns no tenant state; the caller passes the
// tenant's queue and account lookup, and holds the tenant lock throughout.
type Processor struct {
	audit  Audit
	logger *zap.Logger
}

// NewProcessor builds a settlement processor.
func NewProcessor(audit Audit, logger *zap.Logger) *Processor {
	return &Processor{audit: audit, logger: logger.Named("settlement")}
}

// SettleOrQueue dispatches one freshly matched trade: instant tenants settle
// in place, deferred-net tenants queue the trade until its scheduled time.
func (p *Processor) SettleOrQueue(mode string, delay time.Duration, buyer, seller *model.Account, trade *model.Trade, q *Queue, now time.Time) {
	if mode == model.SettlementInstant {
		p.settleInstant(buyer, seller, trade)
		return
	}

	trade.Status = model.TradeStatusPending
	at := now.Add(delay)
	trade.SettleAt = &at
	q.pending = append(q.pending, trade)
	p.audit.Record(EventTradeQueued, trade.View())
}

// settleInstant moves tokens to the buyer and cash to the seller. The
// matching engine already consumed both reservations, so only credits move.
func (p *Processor) settleInstant(buyer, seller *model.Account, trade *model.Trade) {
	buyer.Mint(trade.Symbol, trade.Quantity)
	seller.Credit(trade.Notional())
	trade.Status = model.TradeStatusSettled
	p.audit.Record(EventTradeSettled, trade.View())
	metrics.TradesSettled.WithLabelValues("instant").Inc()
}

type netPosition struct {
	usd    decimal.Decimal
	tokens map[string]decimal.Decimal
}

// Sweep settles every due pending trade in the queue, netting movements by
// (account, instrument) before applying them once per account. Settled
// trades leave the queue, so a trade can never be reprocessed. Returns the
// number of trades settled.
func (p *Processor) Sweep(tenantID string, q *Queue, lookup func(id string) *model.Account, now time.Time) int {
	due := 0
	for _, t := range q.pending {
		if t.Status == model.TradeStatusPending && t.SettleAt != nil && !t.SettleAt.After(now) {
			due++
		}
	}
	if due == 0 {
		return 0
	}

	net := make(map[string]*netPosition)
	pos := func(id string) *netPosition {
		n, ok := net[id]
		if !ok {
			n = &netPosition{usd: decimal.Zero, tokens: make(map[string]decimal.Decimal)}
			net[id] = n
		}
		return n
	}

	kept := q.pending[:0]
	for _, t := range q.pending {
		if t.Status != model.TradeStatusPending || t.SettleAt == nil || t.SettleAt.After(now) {
			kept = append(kept, t)
			continue
		}
		buyer := pos(t.BuyerID)
		buyer.tokens[t.Symbol] = buyer.tokens[t.Symbol].Add(t.Quantity)
		seller := pos(t.SellerID)
		seller.usd = seller.usd.Add(t.Notional())

		t.Status = model.TradeStatusSettled
		p.audit.Record(EventTradeSettled, t.View())
		metrics.TradesSettled.WithLabelValues("deferred").Inc()
	}
	q.pending = kept

	for id, n := range net {
		a := lookup(id)
		if a == nil {
			// Accounts are never destroyed, so this would mean corrupted
			// queue state. Surface loudly and skip.
			p.logger.Error("net settlement for unknown account",
				zap.String("tenant", tenantID), zap.String("account", id))
			continue
		}
		if n.usd.Sign() != 0 {
			a.Credit(n.usd)
		}
		for symbol, qty := range n.tokens {
			if qty.Sign() != 0 {
				a.Mint(symbol, qty)
			}
		}
	}

	p.audit.Record(EventBatchNetting, map[string]any{
		"tenant_id":     tenantID,
		"settled_count": due,
	})
	p.logger.Info("deferred settlement batch applied",
		zap.String("tenant", tenantID), zap.Int("settled", due))
	return due
}
