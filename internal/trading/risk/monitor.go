// Package risk derives behavioral compliance flags from order activity.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclear/permex/internal/trading/model"
)

// Config carries the monitor thresholds.
type Config struct {
	// VelocityWindow is the sliding window for order-rate detection.
	VelocityWindow time.Duration
	// VelocityLimit is the number of observations inside the window above
	// which the account is flagged highVelocity.
	VelocityLimit int
	// OversizedNotional flags any single observation whose qty*price
	// exceeds it.
	OversizedNotional decimal.Decimal
}

// Monitor watches per-account order activity and raises compliance flags.
// Flags latch on; only an administrative action clears them.
type Monitor struct {
	cfg    Config
	logger *zap.Logger
}

// NewMonitor builds a monitor with the given thresholds.
func NewMonitor(cfg Config, logger *zap.Logger) *Monitor {
	return &Monitor{cfg: cfg, logger: logger.Named("risk")}
}

// Observe records one order or fill event for the account and re-evaluates
// its flags. Both parties of a fill are observed separately.
func (m *Monitor) Observe(a *model.Account, qty, price decimal.Decimal, now time.Time) {
	cutoff := now.Add(-m.cfg.VelocityWindow)
	kept := a.OrderTimes[:0]
	for _, ts := range a.OrderTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	a.OrderTimes = append(kept, now)

	if len(a.OrderTimes) > m.cfg.VelocityLimit && !a.Flags.HighVelocity {
		a.Flags.HighVelocity = true
		m.logger.Info("high velocity flag raised",
			zap.String("tenant", a.TenantID),
			zap.String("account", a.ID),
			zap.Int("orders_in_window", len(a.OrderTimes)))
	}

	if qty.Mul(price).GreaterThan(m.cfg.OversizedNotional) && !a.Flags.OversizedOrders {
		a.Flags.OversizedOrders = true
		m.logger.Info("oversized order flag raised",
			zap.String("tenant", a.TenantID),
			zap.String("account", a.ID),
			zap.String("notional", qty.Mul(price).String()))
	}

	if a.Flags.HighVelocity || a.Flags.OversizedOrders {
		a.Flags.Suspicious = true
	}
}
