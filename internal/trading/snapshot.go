package trading

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openclear/permex/internal/trading/circuitbreaker"
	"github.com/openclear/permex/internal/trading/engine"
	"github.com/openclear/permex/internal/trading/model"
)

// recentTradeDepth bounds how many trades per tenant a snapshot carries.
const recentTradeDepth = 50

// TenantView is the tenant's public projection.
type TenantView struct {
	ID              string                         `json:"id"`
	Name            string                         `json:"name"`
	SettlementMode  string                         `json:"settlement_mode"`
	SettlementDelay float64                        `json:"settlement_delay_seconds"`
	BreakerPct      decimal.Decimal                `json:"breaker_pct"`
	HaltSeconds     float64                        `json:"halt_seconds"`
	Halts           map[string]circuitbreaker.View `json:"halts"`
}

// BookView is one tenant-scoped order book with its halt state.
type BookView struct {
	TenantID    string            `json:"tenant_id"`
	Symbol      string            `json:"symbol"`
	Bids        []model.OrderView `json:"bids"`
	Asks        []model.OrderView `json:"asks"`
	Halted      bool              `json:"halted"`
	HaltedUntil int64             `json:"halted_until,omitempty"`
	HaltReason  string            `json:"halt_reason,omitempty"`
	RefPrice    decimal.Decimal   `json:"ref_price"`
}

// Snapshot is the full or tenant-scoped state view used by the UI and the
// websocket broadcast.
type Snapshot struct {
	Tenants []TenantView        `json:"tenants"`
	Users   []model.AccountView `json:"users"`
	Books   []BookView          `json:"books"`
	Trades  []model.TradeView   `json:"trades"`
}

// tenantView projects a tenant. Caller holds the tenant mutex.
func (s *Service) tenantView(t *engine.Tenant) TenantView {
	pct, dur := t.Breaker.Params()
	return TenantView{
		ID:              t.ID,
		Name:            t.Name,
		SettlementMode:  t.SettlementMode,
		SettlementDelay: t.SettlementDelay.Seconds(),
		BreakerPct:      pct,
		HaltSeconds:     dur.Seconds(),
		Halts:           t.Breaker.Snapshot(s.now()),
	}
}

// Snapshot projects every tenant, or just the named one when tenantID is
// non-empty. Tenant listings always cover all tenants, matching the
// multi-tenant UI.
func (s *Service) Snapshot(tenantID string) Snapshot {
	now := s.now()
	all := s.repo.All()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	snap := Snapshot{
		Tenants: make([]TenantView, 0, len(all)),
		Users:   []model.AccountView{},
		Books:   []BookView{},
		Trades:  []model.TradeView{},
	}

	for _, t := range all {
		t.Mu.Lock()
		snap.Tenants = append(snap.Tenants, s.tenantView(t))
		if tenantID == "" || t.ID == tenantID {
			appendTenantState(&snap, t, now)
		}
		t.Mu.Unlock()
	}
	return snap
}

func appendTenantState(snap *Snapshot, t *engine.Tenant, now time.Time) {
	userIDs := make([]string, 0, len(t.Accounts))
	for id := range t.Accounts {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)
	for _, id := range userIDs {
		snap.Users = append(snap.Users, t.Accounts[id].View())
	}

	symbols := t.Symbols()
	sort.Strings(symbols)
	for _, symbol := range symbols {
		book := t.Books[symbol]
		bv := book.Snapshot()
		halt := t.Breaker.State(symbol)
		view := BookView{
			TenantID: t.ID,
			Symbol:   symbol,
			Bids:     bv.Bids,
			Asks:     bv.Asks,
			RefPrice: halt.RefPrice,
		}
		if halt.HaltedUntil.After(now) {
			view.Halted = true
			view.HaltedUntil = halt.HaltedUntil.UnixMilli()
			view.HaltReason = halt.Reason
		}
		snap.Books = append(snap.Books, view)
	}

	snap.Trades = append(snap.Trades, t.RecentTrades(recentTradeDepth)...)
}
