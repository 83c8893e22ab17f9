package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclear/permex/pkg/errors"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestComplianceFlagsDerivation(t *testing.T) {
	var f ComplianceFlags

	require.NoError(t, errAsStd(f.Set(FlagHighVelocity, true)))
	assert.False(t, f.Suspicious, "raising a contributing flag alone does not derive suspicious")

	f.HighVelocity = true
	f.Suspicious = true
	require.NoError(t, errAsStd(f.Set(FlagHighVelocity, false)))
	assert.False(t, f.Suspicious, "clearing the only contributing flag re-derives suspicious off")

	f = ComplianceFlags{HighVelocity: true, OversizedOrders: true, Suspicious: true}
	require.NoError(t, errAsStd(f.Set(FlagOversizedOrders, false)))
	assert.True(t, f.Suspicious, "one contributing flag still set keeps suspicious")

	require.NoError(t, errAsStd(f.Set(FlagSuspicious, false)))
	assert.False(t, f.Suspicious, "regulator may clear suspicious directly")
	assert.True(t, f.HighVelocity, "direct clear leaves contributing flags untouched")

	err := f.Set("arbitraryFlag", true)
	require.NotNil(t, err)
	assert.Equal(t, errors.KindUnknownFlag, err.Kind)
}

func errAsStd(e *errors.Error) error {
	if e == nil {
		return nil
	}
	return e
}

func TestReserveForBuy(t *testing.T) {
	a := NewAccount("t1", "alice", "Alice", []string{"AAPL"})
	a.Credit(d("1000"))

	res, err := a.ReserveForBuy(d("100"), d("10"))
	require.Nil(t, err)
	assert.True(t, a.USD.IsZero(), "reservation debits available cash immediately")
	assert.True(t, res.Cash.Equal(d("1000")))

	_, err = a.ReserveForBuy(d("1"), d("1"))
	require.NotNil(t, err)
	assert.Equal(t, errors.KindInsufficientUSD, err.Kind)
}

func TestReserveForSell(t *testing.T) {
	a := NewAccount("t1", "bob", "Bob", []string{"AAPL"})
	a.Mint("AAPL", d("5"))

	res, err := a.ReserveForSell("AAPL", d("5"))
	require.Nil(t, err)
	assert.True(t, a.TokenBalance("AAPL").IsZero())
	assert.True(t, res.Tokens.Equal(d("5")))

	_, err = a.ReserveForSell("AAPL", d("1"))
	require.NotNil(t, err)
	assert.Equal(t, errors.KindInsufficientTokens, err.Kind)
}

func TestReleaseNeverExceedsReserved(t *testing.T) {
	a := NewAccount("t1", "alice", "Alice", []string{"AAPL"})
	a.Credit(d("500"))
	res, err := a.ReserveCash(d("500"))
	require.Nil(t, err)

	a.ReleaseCash(&res, d("9999"))
	assert.True(t, a.USD.Equal(d("500")), "release is clamped to the reserved amount")
	assert.True(t, res.Cash.IsZero())

	// Releasing again is a no-op.
	a.ReleaseCash(&res, d("1"))
	assert.True(t, a.USD.Equal(d("500")))
}

func TestSpendReservedCash(t *testing.T) {
	res := Reservation{Cash: d("100")}
	SpendReservedCash(&res, d("40"))
	assert.True(t, res.Cash.Equal(d("60")))
	SpendReservedCash(&res, d("100"))
	assert.True(t, res.Cash.IsZero(), "spend is clamped, reservation never negative")
}

func TestCanTrade(t *testing.T) {
	a := NewAccount("t1", "alice", "Alice", nil)

	err := a.CanTrade()
	require.NotNil(t, err)
	assert.Equal(t, errors.KindKYCRequired, err.Kind)

	a.Verified = true
	require.Nil(t, a.CanTrade())

	a.Frozen = true
	err = a.CanTrade()
	require.NotNil(t, err)
	assert.Equal(t, errors.KindAccountFrozen, err.Kind)
}

func TestPriceLimit(t *testing.T) {
	pl := LimitAt(d("105"))
	p, ok := pl.Price()
	require.True(t, ok)
	assert.True(t, p.Equal(d("105")))

	market := Unlimited()
	_, ok = market.Price()
	assert.False(t, ok)
}

func TestCrossable(t *testing.T) {
	buy := &Order{Side: OrderSideBuy, Limit: LimitAt(d("105"))}
	assert.True(t, buy.Crossable(d("100")))
	assert.True(t, buy.Crossable(d("105")))
	assert.False(t, buy.Crossable(d("106")))

	sell := &Order{Side: OrderSideSell, Limit: LimitAt(d("100"))}
	assert.True(t, sell.Crossable(d("105")))
	assert.False(t, sell.Crossable(d("99")))

	marketBuy := &Order{Side: OrderSideBuy, Limit: Unlimited()}
	assert.True(t, marketBuy.Crossable(d("1000000")))

	marketSell := &Order{Side: OrderSideSell, Limit: Unlimited()}
	assert.True(t, marketSell.Crossable(d("0.01")))
}

func TestOrderViewMarketPriceIsNull(t *testing.T) {
	o := &Order{Side: OrderSideBuy, Type: OrderTypeMarket, Limit: Unlimited(),
		Quantity: d("5"), Remaining: d("5"), Status: OrderStatusOpen}
	v := o.View()
	assert.Nil(t, v.Price)

	o.Limit = LimitAt(d("100"))
	v = o.View()
	require.NotNil(t, v.Price)
	assert.Equal(t, "100", *v.Price)
}
