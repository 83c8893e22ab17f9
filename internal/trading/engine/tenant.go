package engine

import (
	"sync"
	"time"

	"github.com/openclear/permex/internal/trading/circuitbreaker"
	"github.com/openclear/permex/internal/trading/model"
	"github.com/openclear/permex/internal/trading/orderbook"
	"github.com/openclear/permex/internal/trading/settlement"
	"github.com/openclear/permex/pkg/errors"
)

// Tenant aggregates one trading venue's state: accounts, order books, the
// circuit breaker, the trade log, and the deferred settlement queue. Tenants
// are created on first reference and never destroyed.
//
// Mu serializes every operation touching the tenant. The caller locks it for
// the whole request unit (reserve, insert, match, settle-or-queue, audit),
// which is what rules out double reservation and stale-book races.
type Tenant struct {
	Mu sync.Mutex

	ID              string
	Name            string
	SettlementMode  string
	SettlementDelay time.Duration

	Accounts map[string]*model.Account
	Orders   map[string]*model.Order
	Books    map[string]*orderbook.Book
	Breaker  *circuitbreaker.Breaker
	Trades   []*model.Trade
	Queue    settlement.Queue
}

// Account resolves an account id or fails with USER_NOT_FOUND.
func (t *Tenant) Account(id string) (*model.Account, *errors.Error) {
	a, ok := t.Accounts[id]
	if !ok {
		return nil, errors.Newf(errors.KindUserNotFound, "user %q not found in tenant %s", id, t.ID)
	}
	return a, nil
}

// Book resolves a symbol's order book or fails with UNKNOWN_SYMBOL.
func (t *Tenant) Book(symbol string) (*orderbook.Book, *errors.Error) {
	b, ok := t.Books[symbol]
	if !ok {
		return nil, errors.Newf(errors.KindUnknownSymbol, "unknown symbol %q", symbol)
	}
	return b, nil
}

// Symbols lists the tenant's configured instruments.
func (t *Tenant) Symbols() []string {
	out := make([]string, 0, len(t.Books))
	for s := range t.Books {
		out = append(out, s)
	}
	return out
}

// RecentTrades returns up to n most recent trades, oldest first.
func (t *Tenant) RecentTrades(n int) []model.TradeView {
	start := 0
	if len(t.Trades) > n {
		start = len(t.Trades) - n
	}
	out := make([]model.TradeView, 0, len(t.Trades)-start)
	for _, tr := range t.Trades[start:] {
		out = append(out, tr.View())
	}
	return out
}
