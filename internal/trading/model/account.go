package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/openclear/permex/pkg/errors"
)

// Account is one tenant-scoped trading account and its ledger state.
// Balances and holdings never go negative: any quantity moved into a
// reservation leaves the available balance in the same step, so two orders
// can never spend the same funds.
type Account struct {
	TenantID string
	ID       string
	Name     string
	Verified bool
	Frozen   bool
	Flags    ComplianceFlags
	USD      decimal.Decimal
	Tokens   map[string]decimal.Decimal

	// OrderTimes is the sliding velocity window maintained by the risk
	// monitor. Pruned on every observation, so it stays bounded.
	OrderTimes []time.Time
}

// NewAccount builds an unverified account with zero balances for the given
// symbols.
func NewAccount(tenantID, id, name string, symbols []string) *Account {
	tokens := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		tokens[s] = decimal.Zero
	}
	return &Account{
		TenantID: tenantID,
		ID:       id,
		Name:     name,
		USD:      decimal.Zero,
		Tokens:   tokens,
	}
}

// CanTrade gates order placement on compliance state.
func (a *Account) CanTrade() *errors.Error {
	if !a.Verified {
		return errors.Newf(errors.KindKYCRequired, "account %s is not KYC verified", a.ID)
	}
	if a.Frozen {
		return errors.Newf(errors.KindAccountFrozen, "account %s is frozen", a.ID)
	}
	return nil
}

// Credit adds cash to the available balance.
func (a *Account) Credit(amount decimal.Decimal) {
	a.USD = a.USD.Add(amount)
}

// Mint adds token quantity to the available holdings.
func (a *Account) Mint(symbol string, qty decimal.Decimal) {
	a.Tokens[symbol] = a.Tokens[symbol].Add(qty)
}

// TokenBalance returns the available holding for symbol.
func (a *Account) TokenBalance(symbol string) decimal.Decimal {
	return a.Tokens[symbol]
}

// ReserveForBuy earmarks price*qty cash against a buy order, debiting the
// available balance in the same step.
func (a *Account) ReserveForBuy(price, qty decimal.Decimal) (Reservation, *errors.Error) {
	cost := price.Mul(qty)
	return a.ReserveCash(cost)
}

// ReserveCash earmarks an exact cash amount (market buys reserve their
// walked cost estimate rather than price*qty).
func (a *Account) ReserveCash(cost decimal.Decimal) (Reservation, *errors.Error) {
	if a.USD.LessThan(cost) {
		return Reservation{}, errors.Newf(errors.KindInsufficientUSD,
			"need %s USD, have %s", cost, a.USD)
	}
	a.USD = a.USD.Sub(cost)
	return Reservation{Cash: cost, Tokens: decimal.Zero}, nil
}

// ReserveForSell earmarks token quantity against a sell order, debiting the
// available holding in the same step.
func (a *Account) ReserveForSell(symbol string, qty decimal.Decimal) (Reservation, *errors.Error) {
	held := a.Tokens[symbol]
	if held.LessThan(qty) {
		return Reservation{}, errors.Newf(errors.KindInsufficientTokens,
			"need %s %s, have %s", qty, symbol, held)
	}
	a.Tokens[symbol] = held.Sub(qty)
	return Reservation{Cash: decimal.Zero, Tokens: qty}, nil
}

// ReleaseCash credits unused reserved cash back to the account, never more
// than what remains reserved.
func (a *Account) ReleaseCash(res *Reservation, amount decimal.Decimal) {
	if amount.GreaterThan(res.Cash) {
		amount = res.Cash
	}
	if amount.Sign() <= 0 {
		return
	}
	a.USD = a.USD.Add(amount)
	res.Cash = res.Cash.Sub(amount)
}

// ReleaseTokens credits unused reserved tokens back to the account, never
// more than what remains reserved.
func (a *Account) ReleaseTokens(res *Reservation, symbol string, qty decimal.Decimal) {
	if qty.GreaterThan(res.Tokens) {
		qty = res.Tokens
	}
	if qty.Sign() <= 0 {
		return
	}
	a.Tokens[symbol] = a.Tokens[symbol].Add(qty)
	res.Tokens = res.Tokens.Sub(qty)
}

// SpendReservedCash consumes reserved cash for a fill. The cash was debited
// at reservation time, so only the bookkeeping moves.
func SpendReservedCash(res *Reservation, amount decimal.Decimal) {
	if amount.GreaterThan(res.Cash) {
		amount = res.Cash
	}
	res.Cash = res.Cash.Sub(amount)
}

// SpendReservedTokens consumes reserved tokens for a fill.
func SpendReservedTokens(res *Reservation, qty decimal.Decimal) {
	if qty.GreaterThan(res.Tokens) {
		qty = res.Tokens
	}
	res.Tokens = res.Tokens.Sub(qty)
}

// AccountView is the caller-facing projection of an account.
type AccountView struct {
	TenantID string                     `json:"tenant_id"`
	ID       string                     `json:"id"`
	Name     string                     `json:"name"`
	Verified bool                       `json:"verified"`
	Frozen   bool                       `json:"frozen"`
	Flags    ComplianceFlags            `json:"flags"`
	USD      decimal.Decimal            `json:"usd"`
	Tokens   map[string]decimal.Decimal `json:"tokens"`
}

// View builds the public projection of the account.
func (a *Account) View() AccountView {
	tokens := make(map[string]decimal.Decimal, len(a.Tokens))
	for s, q := range a.Tokens {
		tokens[s] = q
	}
	return AccountView{
		TenantID: a.TenantID,
		ID:       a.ID,
		Name:     a.Name,
		Verified: a.Verified,
		Frozen:   a.Frozen,
		Flags:    a.Flags,
		USD:      a.USD,
		Tokens:   tokens,
	}
}
