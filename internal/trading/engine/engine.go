// Package engine implements the continuous double-auction matching engine:
// price-time priority, maker-price execution, reservation-backed fills, and
// the circuit breaker and risk hooks invoked per fill.
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclear/permex/internal/trading/model"
	"github.com/openclear/permex/internal/trading/orderbook"
	"github.com/openclear/permex/internal/trading/risk"
	"github.com/openclear/permex/internal/trading/settlement"
	"github.com/openclear/permex/pkg/errors"
	"github.com/openclear/permex/pkg/metrics"
)

// Audit receives one event per engine state transition.
type Audit interface {
	Record(eventType string, payload any)
}

// Ledger event types emitted by the engine.
const (
	EventOrderPlaced     = "ORDER_PLACED"
	EventOrderFilled     = "ORDER_FILLED"
	EventOrderCanceled   = "ORDER_CANCELED"
	EventTradeMatched    = "TRADE_MATCHED"
	EventMarketOrderDone = "MARKET_ORDER_DONE"
	EventBreakerHalt     = "CIRCUIT_BREAKER_HALT"
)

// Engine matches orders against a tenant's books. It is stateless across
// calls; all tenant state lives on the Tenant aggregate, whose mutex the
// caller holds for the duration of each operation.
type Engine struct {
	risk   *risk.Monitor
	settle *settlement.Processor
	audit  Audit
	logger *zap.Logger
	now    func() time.Time
}

// New builds a matching engine.
func New(riskMonitor *risk.Monitor, settle *settlement.Processor, audit Audit, logger *zap.Logger) *Engine {
	return &Engine{
		risk:   riskMonitor,
		settle: settle,
		audit:  audit,
		logger: logger.Named("engine"),
		now:    time.Now,
	}
}

// PlacementResult is the order's public view plus the trades the placement
// produced.
type PlacementResult struct {
	Order  model.OrderView   `json:"order"`
	Trades []model.TradeView `json:"trades"`
}

// PlaceLimitOrder validates, reserves, inserts, and matches a limit order.
// The caller holds the tenant mutex.
func (e *Engine) PlaceLimitOrder(t *Tenant, userID, symbol, side string, qty, price decimal.Decimal) (*PlacementResult, *errors.Error) {
	if err := validateSide(side); err != nil {
		return nil, err
	}
	if qty.Sign() <= 0 || price.Sign() <= 0 {
		return nil, errors.New(errors.KindInvalidParams, "quantity and price must be positive")
	}
	book, err := t.Book(symbol)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := t.Breaker.Tradable(symbol, now); err != nil {
		return nil, err
	}
	account, err := t.Account(userID)
	if err != nil {
		return nil, err
	}
	if err := account.CanTrade(); err != nil {
		return nil, err
	}

	var reserved model.Reservation
	if side == model.OrderSideBuy {
		reserved, err = account.ReserveForBuy(price, qty)
	} else {
		reserved, err = account.ReserveForSell(symbol, qty)
	}
	if err != nil {
		return nil, err
	}

	// Risk signals count only placements that actually got funded.
	e.risk.Observe(account, qty, price, now)

	order := &model.Order{
		ID:        uuid.New(),
		TenantID:  t.ID,
		UserID:    userID,
		Symbol:    symbol,
		Side:      side,
		Type:      model.OrderTypeLimit,
		Limit:     model.LimitAt(price),
		Quantity:  qty,
		Remaining: qty,
		Status:    model.OrderStatusOpen,
		CreatedAt: now,
		Reserved:  reserved,
	}
	t.Orders[order.ID.String()] = order
	book.Add(order)

	e.audit.Record(EventOrderPlaced, order.View())
	metrics.OrdersPlaced.WithLabelValues(side, model.OrderTypeLimit).Inc()

	trades := e.matchLimit(t, book)

	return &PlacementResult{Order: order.View(), Trades: views(trades)}, nil
}

// matchLimit runs the crossing loop: while the best bid crosses the
// best ask, the earlier-arriving order is the maker and sets the price.
func (e *Engine) matchLimit(t *Tenant, book *orderbook.Book) []*model.Trade {
	var trades []*model.Trade

	for {
		bid, ask := book.BestBid(), book.BestAsk()
		if bid == nil || ask == nil {
			break
		}
		bidPrice, _ := bid.Limit.Price()
		askPrice, _ := ask.Limit.Price()
		if bidPrice.LessThan(askPrice) {
			break
		}

		maker := bid
		if ask.CreatedAt.Before(bid.CreatedAt) {
			maker = ask
		}
		price, _ := maker.Limit.Price()
		fill := decimal.Min(bid.Remaining, ask.Remaining)

		buyer := t.Accounts[bid.UserID]
		seller := t.Accounts[ask.UserID]

		// Price improvement: a taker buy executing below its own limit gets
		// the difference back immediately.
		if price.LessThan(bidPrice) {
			refund := bidPrice.Sub(price).Mul(fill)
			buyer.ReleaseCash(&bid.Reserved, refund)
		}
		model.SpendReservedCash(&bid.Reserved, price.Mul(fill))
		model.SpendReservedTokens(&ask.Reserved, fill)

		trade := e.executeTrade(t, book.Symbol, fill, price, bid.UserID, ask.UserID, buyer, seller)
		trades = append(trades, trade)

		e.fillOrder(t, book, bid, fill)
		e.fillOrder(t, book, ask, fill)

		// A halt triggered by this trade stops matching immediately, even
		// with crossable orders remaining.
		if t.Breaker.Tradable(book.Symbol, e.now()) != nil {
			break
		}
	}
	return trades
}

// executeTrade builds the trade, applies risk and breaker hooks, and hands
// it to settlement.
func (e *Engine) executeTrade(t *Tenant, symbol string, qty, price decimal.Decimal, buyerID, sellerID string, buyer, seller *model.Account) *model.Trade {
	now := e.now()
	trade := &model.Trade{
		ID:        uuid.New(),
		TenantID:  t.ID,
		Symbol:    symbol,
		Quantity:  qty,
		Price:     price,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		CreatedAt: now,
	}

	e.risk.Observe(buyer, qty, price, now)
	e.risk.Observe(seller, qty, price, now)

	if ev := t.Breaker.RecordTrade(symbol, price, now); ev != nil {
		e.audit.Record(EventBreakerHalt, ev)
		metrics.HaltsTriggered.WithLabelValues(symbol).Inc()
	}

	t.Trades = append(t.Trades, trade)
	e.audit.Record(EventTradeMatched, trade.View())
	metrics.TradesMatched.Inc()

	e.settle.SettleOrQueue(t.SettlementMode, t.SettlementDelay, buyer, seller, trade, &t.Queue, now)

	e.logger.Debug("trade matched",
		zap.String("tenant", t.ID),
		zap.String("symbol", symbol),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()))
	return trade
}

// fillOrder decrements a resting order and retires it once fully filled.
func (e *Engine) fillOrder(t *Tenant, book *orderbook.Book, o *model.Order, fill decimal.Decimal) {
	o.Remaining = o.Remaining.Sub(fill)
	if o.Remaining.Sign() == 0 {
		o.Status = model.OrderStatusFilled
		book.Remove(o)
		e.audit.Record(EventOrderFilled, map[string]string{
			"tenant_id": t.ID,
			"order_id":  o.ID.String(),
		})
	}
}

// PlaceMarketOrder executes a market order by crossing the opposite side
// until filled, liquidity runs out, or the symbol halts mid-execution. The
// reservation taken up front is an upper bound reconciled after execution.
func (e *Engine) PlaceMarketOrder(t *Tenant, userID, symbol, side string, qty decimal.Decimal) (*PlacementResult, *errors.Error) {
	if err := validateSide(side); err != nil {
		return nil, err
	}
	if qty.Sign() <= 0 {
		return nil, errors.New(errors.KindInvalidParams, "quantity must be positive")
	}
	book, err := t.Book(symbol)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := t.Breaker.Tradable(symbol, now); err != nil {
		return nil, err
	}
	account, err := t.Account(userID)
	if err != nil {
		return nil, err
	}
	if err := account.CanTrade(); err != nil {
		return nil, err
	}

	if oppositeLen(book, side) == 0 {
		return nil, errors.Newf(errors.KindInsufficientLiquidity, "no resting orders for %s", symbol)
	}

	// The tenant mutex is held from this walk through execution, so the
	// estimate cannot go stale: fills happen against exactly the levels
	// walked here, and only a self-triggered halt can cut execution short.
	var reserved model.Reservation
	if side == model.OrderSideBuy {
		estimate := estimateBuyCost(book, qty)
		reserved, err = account.ReserveCash(estimate)
	} else {
		reserved, err = account.ReserveForSell(symbol, qty)
	}
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:        uuid.New(),
		TenantID:  t.ID,
		UserID:    userID,
		Symbol:    symbol,
		Side:      side,
		Type:      model.OrderTypeMarket,
		Limit:     model.Unlimited(),
		Quantity:  qty,
		Remaining: qty,
		Status:    model.OrderStatusOpen,
		CreatedAt: now,
		Reserved:  reserved,
	}
	t.Orders[order.ID.String()] = order

	e.audit.Record(EventOrderPlaced, order.View())
	metrics.OrdersPlaced.WithLabelValues(side, model.OrderTypeMarket).Inc()

	trades := e.crossMarket(t, book, order, account)

	// Reconcile: release whatever the fills did not consume.
	if side == model.OrderSideBuy {
		account.ReleaseCash(&order.Reserved, order.Reserved.Cash)
	} else {
		account.ReleaseTokens(&order.Reserved, symbol, order.Reserved.Tokens)
	}

	if order.Remaining.Sign() == 0 {
		order.Status = model.OrderStatusFilled
	} else {
		order.Status = model.OrderStatusPartial
	}
	e.audit.Record(EventMarketOrderDone, map[string]string{
		"tenant_id": t.ID,
		"order_id":  order.ID.String(),
		"remaining": order.Remaining.String(),
	})

	return &PlacementResult{Order: order.View(), Trades: views(trades)}, nil
}

// crossMarket repeatedly takes the opposite top of book at its resting
// price. The resting order is always the maker, so no price-improvement
// refund arises here.
func (e *Engine) crossMarket(t *Tenant, book *orderbook.Book, order *model.Order, account *model.Account) []*model.Trade {
	var trades []*model.Trade

	for order.Remaining.Sign() > 0 {
		if t.Breaker.Tradable(book.Symbol, e.now()) != nil {
			break
		}
		var top *model.Order
		if order.Side == model.OrderSideBuy {
			top = book.BestAsk()
		} else {
			top = book.BestBid()
		}
		if top == nil {
			break
		}

		price, _ := top.Limit.Price()
		fill := decimal.Min(order.Remaining, top.Remaining)

		var trade *model.Trade
		if order.Side == model.OrderSideBuy {
			seller := t.Accounts[top.UserID]
			model.SpendReservedCash(&order.Reserved, price.Mul(fill))
			model.SpendReservedTokens(&top.Reserved, fill)
			trade = e.executeTrade(t, book.Symbol, fill, price, order.UserID, top.UserID, account, seller)
		} else {
			buyer := t.Accounts[top.UserID]
			model.SpendReservedCash(&top.Reserved, price.Mul(fill))
			model.SpendReservedTokens(&order.Reserved, fill)
			trade = e.executeTrade(t, book.Symbol, fill, price, top.UserID, order.UserID, buyer, account)
		}
		trades = append(trades, trade)

		order.Remaining = order.Remaining.Sub(fill)
		e.fillOrder(t, book, top, fill)
	}
	return trades
}

// CancelOrder removes an open order from the book and releases its unused
// reservation in the same step, so a fill and a cancel can never both win.
func (e *Engine) CancelOrder(t *Tenant, userID, orderID string) (model.OrderView, *errors.Error) {
	order, ok := t.Orders[orderID]
	if !ok {
		return model.OrderView{}, errors.Newf(errors.KindOrderNotFound, "order %q not found", orderID)
	}
	if order.UserID != userID {
		return model.OrderView{}, errors.Newf(errors.KindForbidden, "order %q belongs to another user", orderID)
	}
	if order.Status != model.OrderStatusOpen {
		return model.OrderView{}, errors.Newf(errors.KindNotOpen, "order %q is %s", orderID, order.Status)
	}

	account, err := t.Account(userID)
	if err != nil {
		return model.OrderView{}, err
	}
	if book, ok := t.Books[order.Symbol]; ok {
		book.Remove(order)
	}

	if order.Side == model.OrderSideBuy {
		account.ReleaseCash(&order.Reserved, order.Reserved.Cash)
	} else {
		account.ReleaseTokens(&order.Reserved, order.Symbol, order.Reserved.Tokens)
	}
	order.Status = model.OrderStatusCanceled

	e.audit.Record(EventOrderCanceled, map[string]string{
		"tenant_id": t.ID,
		"user_id":   userID,
		"order_id":  orderID,
	})
	return order.View(), nil
}

// estimateBuyCost walks resting asks best-first and prices filling up to qty
// against them. Levels beyond the available liquidity contribute nothing,
// so the estimate covers at most what execution can actually consume.
func estimateBuyCost(book *orderbook.Book, qty decimal.Decimal) decimal.Decimal {
	remaining := qty
	cost := decimal.Zero
	book.Asks(func(o *model.Order) bool {
		take := decimal.Min(remaining, o.Remaining)
		price, _ := o.Limit.Price()
		cost = cost.Add(take.Mul(price))
		remaining = remaining.Sub(take)
		return remaining.Sign() > 0
	})
	return cost
}

func oppositeLen(book *orderbook.Book, side string) int {
	if side == model.OrderSideBuy {
		return book.AskLen()
	}
	return book.BidLen()
}

func validateSide(side string) *errors.Error {
	if side != model.OrderSideBuy && side != model.OrderSideSell {
		return errors.Newf(errors.KindInvalidParams, "side must be BUY or SELL, got %q", side)
	}
	return nil
}

func views(trades []*model.Trade) []model.TradeView {
	out := make([]model.TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.View())
	}
	return out
}
