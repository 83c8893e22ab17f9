// Package trading wires the exchange together: the tenant repository, the
// matching engine, risk and settlement, and the audit ledger, behind a
// synchronous service façade.
//
// Every operation on a tenant runs under that tenant's mutex from first
// validation to the final ledger append, giving the run-to-completion unit
// the engine assumes: reserve, insert, match, settle-or-queue, audit, with
// nothing else touching the tenant in between.
package trading

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclear/permex/internal/ledger"
	"github.com/openclear/permex/internal/trading/engine"
	"github.com/openclear/permex/internal/trading/model"
	"github.com/openclear/permex/internal/trading/risk"
	"github.com/openclear/permex/internal/trading/settlement"
	"github.com/openclear/permex/pkg/errors"
	"github.com/openclear/permex/pkg/metrics"
)

// Ledger event types emitted by administrative operations.
const (
	EventKYCVerified       = "KYC_VERIFIED"
	EventKYCRevoked        = "KYC_REVOKED"
	EventFreezeSet         = "ACCOUNT_FREEZE_SET"
	EventFlagSet           = "USER_FLAG_SET"
	EventUSDCredit         = "USD_CREDIT"
	EventMint              = "MINT"
	EventSettlementModeSet = "SETTLEMENT_MODE_SET"
	EventBreakerParams     = "CIRCUIT_BREAKER_PARAMS"
)

// auditRecorder adapts the ledger to the engine and settlement Audit
// interfaces. Append only fails on an unmarshalable payload, which is a
// programming error worth surfacing loudly but not aborting the trade flow.
type auditRecorder struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

func (r *auditRecorder) Record(eventType string, payload any) {
	if _, err := r.ledger.Append(eventType, payload); err != nil {
		r.logger.Error("audit append failed",
			zap.String("type", eventType), zap.Error(err))
	}
}

// Service is the engine façade consumed by the transport layer.
type Service struct {
	repo   *Repository
	engine *engine.Engine
	settle *settlement.Processor
	ledger *ledger.Ledger
	audit  *auditRecorder
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds the fully wired exchange service.
func NewService(cfg Config, led *ledger.Ledger, logger *zap.Logger) *Service {
	audit := &auditRecorder{ledger: led, logger: logger.Named("audit")}
	monitor := risk.NewMonitor(cfg.Risk, logger)
	settle := settlement.NewProcessor(audit, logger)
	return &Service{
		repo:   NewRepository(cfg, logger),
		engine: engine.New(monitor, settle, audit, logger),
		settle: settle,
		ledger: led,
		audit:  audit,
		cfg:    cfg,
		logger: logger.Named("trading"),
		now:    time.Now,
	}
}

// Repo exposes the tenant repository (user/tenant creation, symbol list).
func (s *Service) Repo() *Repository { return s.repo }

// EnsureTenant creates the tenant on first reference and returns its view.
func (s *Service) EnsureTenant(id, name string) (TenantView, *errors.Error) {
	t, err := s.repo.Ensure(id, name)
	if err != nil {
		return TenantView{}, err
	}
	t.Mu.Lock()
	defer t.Mu.Unlock()
	return s.tenantView(t), nil
}

// Ledger exposes the audit ledger for read access and verification.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// PlaceLimitOrder places and matches a limit order for (tenant, user).
func (s *Service) PlaceLimitOrder(tenantID, userID, symbol, side string, qty, price decimal.Decimal) (*engine.PlacementResult, *errors.Error) {
	t, err := s.repo.Ensure(tenantID, "")
	if err != nil {
		return nil, err
	}
	start := time.Now()
	t.Mu.Lock()
	defer t.Mu.Unlock()
	res, err := s.engine.PlaceLimitOrder(t, userID, symbol, side, qty, price)
	observePlacement(start, err)
	return res, err
}

// PlaceMarketOrder executes a market order for (tenant, user).
func (s *Service) PlaceMarketOrder(tenantID, userID, symbol, side string, qty decimal.Decimal) (*engine.PlacementResult, *errors.Error) {
	t, err := s.repo.Ensure(tenantID, "")
	if err != nil {
		return nil, err
	}
	start := time.Now()
	t.Mu.Lock()
	defer t.Mu.Unlock()
	res, err := s.engine.PlaceMarketOrder(t, userID, symbol, side, qty)
	observePlacement(start, err)
	return res, err
}

func observePlacement(start time.Time, err *errors.Error) {
	metrics.OrderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(string(err.Kind)).Inc()
	}
}

// CancelOrder cancels an open order owned by (tenant, user).
func (s *Service) CancelOrder(tenantID, userID, orderID string) (model.OrderView, *errors.Error) {
	t, err := s.repo.Ensure(tenantID, "")
	if err != nil {
		return model.OrderView{}, err
	}
	t.Mu.Lock()
	defer t.Mu.Unlock()
	return s.engine.CancelOrder(t, userID, orderID)
}

// withAccount runs fn on a locked tenant's account.
func (s *Service) withAccount(tenantID, userID string, fn func(t *engine.Tenant, a *model.Account) *errors.Error) (model.AccountView, *errors.Error) {
	t, err := s.repo.Ensure(tenantID, "")
	if err != nil {
		return model.AccountView{}, err
	}
	t.Mu.Lock()
	defer t.Mu.Unlock()
	a, err := t.Account(userID)
	if err != nil {
		return model.AccountView{}, err
	}
	if err := fn(t, a); err != nil {
		return model.AccountView{}, err
	}
	return a.View(), nil
}

// VerifyUser marks the account KYC verified.
func (s *Service) VerifyUser(tenantID, userID string) (model.AccountView, *errors.Error) {
	return s.withAccount(tenantID, userID, func(t *engine.Tenant, a *model.Account) *errors.Error {
		a.Verified = true
		s.audit.Record(EventKYCVerified, accountEvent(tenantID, userID))
		return nil
	})
}

// RevokeVerification clears the account's KYC verification.
func (s *Service) RevokeVerification(tenantID, userID string) (model.AccountView, *errors.Error) {
	return s.withAccount(tenantID, userID, func(t *engine.Tenant, a *model.Account) *errors.Error {
		a.Verified = false
		s.audit.Record(EventKYCRevoked, accountEvent(tenantID, userID))
		return nil
	})
}

// SetFrozen freezes or unfreezes the account.
func (s *Service) SetFrozen(tenantID, userID string, frozen bool) (model.AccountView, *errors.Error) {
	return s.withAccount(tenantID, userID, func(t *engine.Tenant, a *model.Account) *errors.Error {
		a.Frozen = frozen
		ev := accountEvent(tenantID, userID)
		ev["frozen"] = frozen
		s.audit.Record(EventFreezeSet, ev)
		return nil
	})
}

// SetFlag sets or clears one compliance flag by name.
func (s *Service) SetFlag(tenantID, userID, flag string, value bool) (model.AccountView, *errors.Error) {
	return s.withAccount(tenantID, userID, func(t *engine.Tenant, a *model.Account) *errors.Error {
		if err := a.Flags.Set(flag, value); err != nil {
			return err
		}
		ev := accountEvent(tenantID, userID)
		ev["flag"] = flag
		ev["value"] = value
		s.audit.Record(EventFlagSet, ev)
		return nil
	})
}

// CreditCash adds cash to the account.
func (s *Service) CreditCash(tenantID, userID string, amount decimal.Decimal) (model.AccountView, *errors.Error) {
	if amount.Sign() <= 0 {
		return model.AccountView{}, errors.New(errors.KindInvalidParams, "amount must be positive")
	}
	return s.withAccount(tenantID, userID, func(t *engine.Tenant, a *model.Account) *errors.Error {
		a.Credit(amount)
		ev := accountEvent(tenantID, userID)
		ev["amount"] = amount
		s.audit.Record(EventUSDCredit, ev)
		return nil
	})
}

// MintTokens adds token quantity to the account.
func (s *Service) MintTokens(tenantID, userID, symbol string, qty decimal.Decimal) (model.AccountView, *errors.Error) {
	if qty.Sign() <= 0 {
		return model.AccountView{}, errors.New(errors.KindInvalidParams, "quantity must be positive")
	}
	return s.withAccount(tenantID, userID, func(t *engine.Tenant, a *model.Account) *errors.Error {
		if _, err := t.Book(symbol); err != nil {
			return err
		}
		a.Mint(symbol, qty)
		ev := accountEvent(tenantID, userID)
		ev["symbol"] = symbol
		ev["qty"] = qty
		s.audit.Record(EventMint, ev)
		return nil
	})
}

// SetSettlementMode switches the tenant between instant and deferred-net
// settlement. A non-positive delay keeps the current one.
func (s *Service) SetSettlementMode(tenantID, mode string, delay time.Duration) (TenantView, *errors.Error) {
	if mode != model.SettlementInstant && mode != model.SettlementDeferredNet {
		return TenantView{}, errors.Newf(errors.KindInvalidParams,
			"mode must be %s or %s", model.SettlementInstant, model.SettlementDeferredNet)
	}
	t, err := s.repo.Ensure(tenantID, "")
	if err != nil {
		return TenantView{}, err
	}
	t.Mu.Lock()
	defer t.Mu.Unlock()
	t.SettlementMode = mode
	if delay > 0 {
		t.SettlementDelay = delay
	}
	s.audit.Record(EventSettlementModeSet, map[string]any{
		"tenant_id":     tenantID,
		"mode":          mode,
		"delay_seconds": t.SettlementDelay.Seconds(),
	})
	return s.tenantView(t), nil
}

// SetCircuitBreakerParams updates the tenant's halt threshold and duration.
// Non-positive values keep current settings.
func (s *Service) SetCircuitBreakerParams(tenantID string, pct decimal.Decimal, haltDuration time.Duration) (TenantView, *errors.Error) {
	t, err := s.repo.Ensure(tenantID, "")
	if err != nil {
		return TenantView{}, err
	}
	t.Mu.Lock()
	defer t.Mu.Unlock()
	t.Breaker.SetParams(pct, haltDuration)
	newPct, newDur := t.Breaker.Params()
	s.audit.Record(EventBreakerParams, map[string]any{
		"tenant_id":    tenantID,
		"pct":          newPct,
		"halt_seconds": newDur.Seconds(),
	})
	return s.tenantView(t), nil
}

// TickSettlement sweeps every deferred-net tenant's due trades, netting per
// account before applying. Returns the number of trades settled.
func (s *Service) TickSettlement() int {
	now := s.now()
	settled := 0
	for _, t := range s.repo.All() {
		t.Mu.Lock()
		if t.SettlementMode == model.SettlementDeferredNet {
			settled += s.settle.Sweep(t.ID, &t.Queue, func(id string) *model.Account {
				return t.Accounts[id]
			}, now)
		}
		t.Mu.Unlock()
	}
	metrics.SettlementSweeps.Inc()
	return settled
}

// Run drives the periodic settlement sweep until ctx is done. When a sweep
// settles anything, notify fires with the count; the transport layer uses it
// to push fresh snapshots.
func (s *Service) Run(ctx context.Context, notify func(settled int)) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.TickSettlement(); n > 0 {
				s.logger.Info("settlement sweep", zap.Int("settled", n))
				if notify != nil {
					notify(n)
				}
			}
		}
	}
}

func accountEvent(tenantID, userID string) map[string]any {
	return map[string]any{"tenant_id": tenantID, "user_id": userID}
}
