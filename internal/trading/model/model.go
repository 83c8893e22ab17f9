// Package model holds the domain types of the exchange: accounts, orders,
// trades, reservations, and compliance flags. All money and quantity
// arithmetic is decimal; the engine never touches floats.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openclear/permex/pkg/errors"
)

// Constants for order types, sides, statuses, and settlement modes.
const (
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderStatusOpen     = "OPEN"
	OrderStatusFilled   = "FILLED"
	OrderStatusPartial  = "PARTIAL"
	OrderStatusCanceled = "CANCELED"

	TradeStatusPending = "PENDING"
	TradeStatusSettled = "SETTLED"

	SettlementInstant     = "INSTANT"
	SettlementDeferredNet = "DEFERRED_NET"
)

// PriceLimit is an order's optional limit price. Market orders carry an
// unlimited PriceLimit: "no cap" for buys and "no floor" for sells are a
// distinct state, never a numeric sentinel.
type PriceLimit struct {
	price   decimal.Decimal
	limited bool
}

// LimitAt returns a bounded price limit.
func LimitAt(price decimal.Decimal) PriceLimit {
	return PriceLimit{price: price, limited: true}
}

// Unlimited returns the absent limit used by market orders.
func Unlimited() PriceLimit {
	return PriceLimit{}
}

// Price returns the limit price and whether one exists.
func (pl PriceLimit) Price() (decimal.Decimal, bool) {
	return pl.price, pl.limited
}

// Limited reports whether a limit price exists.
func (pl PriceLimit) Limited() bool { return pl.limited }

// Compliance flag names accepted by administrative flag updates.
const (
	FlagHighVelocity    = "highVelocity"
	FlagOversizedOrders = "oversizedOrders"
	FlagSuspicious      = "suspicious"
)

// ComplianceFlags is the fixed set of per-account risk flags. Suspicious is
// derived from the contributing flags but may be cleared directly by a
// regulator.
type ComplianceFlags struct {
	HighVelocity    bool `json:"highVelocity"`
	OversizedOrders bool `json:"oversizedOrders"`
	Suspicious      bool `json:"suspicious"`
}

// Set updates one flag by name. Clearing a contributing flag re-derives
// Suspicious from the remaining ones; setting or clearing Suspicious itself
// is independent of them.
func (f *ComplianceFlags) Set(name string, value bool) *errors.Error {
	switch name {
	case FlagHighVelocity:
		f.HighVelocity = value
	case FlagOversizedOrders:
		f.OversizedOrders = value
	case FlagSuspicious:
		f.Suspicious = value
		return nil
	default:
		return errors.Newf(errors.KindUnknownFlag, "unknown flag %q", name)
	}
	if !value {
		f.Suspicious = f.HighVelocity || f.OversizedOrders
	}
	return nil
}

// Reservation is the funds or token quantity earmarked against one open
// order. Amounts only ever decrease: through a fill spend or an explicit
// release back to the account.
type Reservation struct {
	Cash   decimal.Decimal `json:"cash_reserved"`
	Tokens decimal.Decimal `json:"tokens_reserved"`
}

// Order is one resting or executing order.
type Order struct {
	ID        uuid.UUID
	TenantID  string
	UserID    string
	Symbol    string
	Side      string
	Type      string
	Limit     PriceLimit
	Quantity  decimal.Decimal
	Remaining decimal.Decimal
	Status    string
	CreatedAt time.Time
	Reserved  Reservation
}

// Crossable reports whether this order's limit admits an execution at the
// given price. Market orders cross at any price.
func (o *Order) Crossable(price decimal.Decimal) bool {
	limit, ok := o.Limit.Price()
	if !ok {
		return true
	}
	if o.Side == OrderSideBuy {
		return limit.GreaterThanOrEqual(price)
	}
	return limit.LessThanOrEqual(price)
}

// OrderView is the caller-facing projection of an order.
type OrderView struct {
	OrderID   string          `json:"order_id"`
	TS        int64           `json:"ts"`
	TenantID  string          `json:"tenant_id"`
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Price     *string         `json:"price"` // null for market orders
	Quantity  decimal.Decimal `json:"qty"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    string          `json:"status"`
}

// View builds the public projection of the order.
func (o *Order) View() OrderView {
	v := OrderView{
		OrderID:   o.ID.String(),
		TS:        o.CreatedAt.UnixMilli(),
		TenantID:  o.TenantID,
		UserID:    o.UserID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Type:      o.Type,
		Quantity:  o.Quantity,
		Remaining: o.Remaining,
		Status:    o.Status,
	}
	if p, ok := o.Limit.Price(); ok {
		s := p.String()
		v.Price = &s
	}
	return v
}

// Trade is one matched execution between two accounts of a tenant.
type Trade struct {
	ID        uuid.UUID
	TenantID  string
	Symbol    string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	BuyerID   string
	SellerID  string
	CreatedAt time.Time
	Status    string
	SettleAt  *time.Time
}

// Notional returns quantity times price.
func (t *Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// TradeView is the caller-facing projection of a trade.
type TradeView struct {
	TradeID  string          `json:"trade_id"`
	TS       int64           `json:"ts"`
	TenantID string          `json:"tenant_id"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	BuyerID  string          `json:"buyer_id"`
	SellerID string          `json:"seller_id"`
	Status   string          `json:"status"`
	SettleAt *int64          `json:"settle_at,omitempty"`
}

// View builds the public projection of the trade.
func (t *Trade) View() TradeView {
	v := TradeView{
		TradeID:  t.ID.String(),
		TS:       t.CreatedAt.UnixMilli(),
		TenantID: t.TenantID,
		Symbol:   t.Symbol,
		Quantity: t.Quantity,
		Price:    t.Price,
		BuyerID:  t.BuyerID,
		SellerID: t.SellerID,
		Status:   t.Status,
	}
	if t.SettleAt != nil {
		ms := t.SettleAt.UnixMilli()
		v.SettleAt = &ms
	}
	return v
}
