// Package circuitbreaker suspends matching for an instrument after an
// excessive price move against its reference price.
package circuitbreaker

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclear/permex/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// Halt is one symbol's halt state. The zero HaltedUntil means tradable.
type Halt struct {
	HaltedUntil time.Time
	Reason      string
	RefPrice    decimal.Decimal
}

// HaltEvent describes a halt the breaker just triggered.
type HaltEvent struct {
	Symbol      string          `json:"symbol"`
	TradePrice  decimal.Decimal `json:"trade_price"`
	RefPrice    decimal.Decimal `json:"ref_price"`
	PctMove     decimal.Decimal `json:"pct_move"`
	HaltedUntil time.Time       `json:"halted_until"`
}

// Breaker is one tenant's circuit breaker: shared move threshold and halt
// duration, per-symbol reference prices and halt state.
type Breaker struct {
	pct          decimal.Decimal
	haltDuration time.Duration
	halts        map[string]*Halt
	logger       *zap.Logger
}

// New builds a breaker seeded with each symbol's opening reference price.
func New(pct decimal.Decimal, haltDuration time.Duration, refPrices map[string]decimal.Decimal, logger *zap.Logger) *Breaker {
	halts := make(map[string]*Halt, len(refPrices))
	for symbol, ref := range refPrices {
		halts[symbol] = &Halt{RefPrice: ref}
	}
	return &Breaker{
		pct:          pct,
		haltDuration: haltDuration,
		halts:        halts,
		logger:       logger.Named("circuitbreaker"),
	}
}

// SetParams updates the move threshold and halt duration. Non-positive
// values leave the current setting unchanged.
func (b *Breaker) SetParams(pct decimal.Decimal, haltDuration time.Duration) {
	if pct.Sign() > 0 {
		b.pct = pct
	}
	if haltDuration > 0 {
		b.haltDuration = haltDuration
	}
}

// Params returns the current threshold and halt duration.
func (b *Breaker) Params() (decimal.Decimal, time.Duration) {
	return b.pct, b.haltDuration
}

// Knows reports whether the symbol is configured.
func (b *Breaker) Knows(symbol string) bool {
	_, ok := b.halts[symbol]
	return ok
}

// Tradable rejects with TRADING_HALTED while the symbol's halt is active.
func (b *Breaker) Tradable(symbol string, now time.Time) *errors.Error {
	h, ok := b.halts[symbol]
	if !ok {
		return errors.Newf(errors.KindUnknownSymbol, "unknown symbol %q", symbol)
	}
	if h.HaltedUntil.After(now) {
		return errors.Newf(errors.KindTradingHalted, "%s halted until %s (%s)",
			symbol, h.HaltedUntil.Format(time.RFC3339), h.Reason)
	}
	return nil
}

// RecordTrade evaluates one execution price against the reference price.
// A move at or above the threshold halts the symbol and leaves the reference
// price unchanged, so repeated rapid moves keep measuring against the
// pre-halt price. Otherwise the reference follows the last trade.
func (b *Breaker) RecordTrade(symbol string, price decimal.Decimal, now time.Time) *HaltEvent {
	h := b.halts[symbol]
	ref := h.RefPrice
	if ref.Sign() <= 0 {
		// No usable reference yet (config omitted the opening price). The
		// first execution seeds it and cannot itself trigger a halt.
		h.RefPrice = price
		return nil
	}
	pctMove := price.Sub(ref).Abs().Div(ref).Mul(hundred)

	if pctMove.GreaterThanOrEqual(b.pct) {
		h.HaltedUntil = now.Add(b.haltDuration)
		h.Reason = "Volatility " + pctMove.StringFixed(2) + "% >= " + b.pct.String() + "%"
		b.logger.Warn("volatility halt triggered",
			zap.String("symbol", symbol),
			zap.String("pct_move", pctMove.StringFixed(2)),
			zap.Time("halted_until", h.HaltedUntil))
		return &HaltEvent{
			Symbol:      symbol,
			TradePrice:  price,
			RefPrice:    ref,
			PctMove:     pctMove,
			HaltedUntil: h.HaltedUntil,
		}
	}

	h.RefPrice = price
	return nil
}

// State returns the symbol's halt state.
func (b *Breaker) State(symbol string) Halt {
	if h, ok := b.halts[symbol]; ok {
		return *h
	}
	return Halt{}
}

// View is one symbol's public halt projection.
type View struct {
	Symbol      string          `json:"symbol"`
	Halted      bool            `json:"halted"`
	HaltedUntil int64           `json:"halted_until,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	RefPrice    decimal.Decimal `json:"ref_price"`
}

// Snapshot projects every symbol's halt state.
func (b *Breaker) Snapshot(now time.Time) map[string]View {
	out := make(map[string]View, len(b.halts))
	for symbol, h := range b.halts {
		v := View{Symbol: symbol, RefPrice: h.RefPrice}
		if h.HaltedUntil.After(now) {
			v.Halted = true
			v.HaltedUntil = h.HaltedUntil.UnixMilli()
			v.Reason = h.Reason
		}
		out[symbol] = v
	}
	return out
}
