package trading

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclear/permex/internal/trading/circuitbreaker"
	"github.com/openclear/permex/internal/trading/engine"
	"github.com/openclear/permex/internal/trading/model"
	"github.com/openclear/permex/internal/trading/orderbook"
	"github.com/openclear/permex/internal/trading/risk"
	"github.com/openclear/permex/pkg/errors"
)

// Config carries the defaults a new tenant starts with and the engine
// thresholds shared by all tenants.
type Config struct {
	// Symbols maps each tradable instrument to its opening reference price.
	Symbols map[string]decimal.Decimal
	Risk    risk.Config

	DefaultBreakerPct      decimal.Decimal
	DefaultHaltDuration    time.Duration
	DefaultSettlementDelay time.Duration
	SweepInterval          time.Duration
}

// Repository owns the tenant registry. Tenants are created on first
// reference and never destroyed; every component reaches them through here,
// no package-level state.
type Repository struct {
	mu      sync.RWMutex
	tenants map[string]*engine.Tenant
	cfg     Config
	logger  *zap.Logger
}

// NewRepository builds an empty registry.
func NewRepository(cfg Config, logger *zap.Logger) *Repository {
	return &Repository{
		tenants: make(map[string]*engine.Tenant),
		cfg:     cfg,
		logger:  logger.Named("repository"),
	}
}

// Ensure returns the tenant, creating it with default parameters on first
// reference. An empty id is a validation failure.
func (r *Repository) Ensure(id, name string) (*engine.Tenant, *errors.Error) {
	if id == "" {
		return nil, errors.New(errors.KindInvalidParams, "tenant id required")
	}

	r.mu.RLock()
	t, ok := r.tenants[id]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[id]; ok {
		return t, nil
	}

	if name == "" {
		name = id
	}
	books := make(map[string]*orderbook.Book, len(r.cfg.Symbols))
	for symbol := range r.cfg.Symbols {
		books[symbol] = orderbook.New(symbol)
	}
	t = &engine.Tenant{
		ID:              id,
		Name:            name,
		SettlementMode:  model.SettlementInstant,
		SettlementDelay: r.cfg.DefaultSettlementDelay,
		Accounts:        make(map[string]*model.Account),
		Orders:          make(map[string]*model.Order),
		Books:           books,
		Breaker: circuitbreaker.New(r.cfg.DefaultBreakerPct,
			r.cfg.DefaultHaltDuration, r.cfg.Symbols, r.logger),
	}
	r.tenants[id] = t
	r.logger.Info("tenant created", zap.String("tenant", id))
	return t, nil
}

// Get returns an existing tenant without creating one.
func (r *Repository) Get(id string) (*engine.Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	return t, ok
}

// All returns every tenant. The slice is a copy; tenants are shared.
func (r *Repository) All() []*engine.Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*engine.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	return out
}

// Symbols lists the configured instruments.
func (r *Repository) Symbols() []string {
	out := make([]string, 0, len(r.cfg.Symbols))
	for s := range r.cfg.Symbols {
		out = append(out, s)
	}
	return out
}

// CreateUser adds an account to the tenant, creating the tenant if needed.
// Duplicate ids fail.
func (r *Repository) CreateUser(tenantID, userID, name string) (*model.Account, *errors.Error) {
	if userID == "" || name == "" {
		return nil, errors.New(errors.KindInvalidParams, "user id and name required")
	}
	t, err := r.Ensure(tenantID, "")
	if err != nil {
		return nil, err
	}

	t.Mu.Lock()
	defer t.Mu.Unlock()
	if _, exists := t.Accounts[userID]; exists {
		return nil, errors.Newf(errors.KindUserExists, "user %q already exists in tenant %s", userID, tenantID)
	}
	a := model.NewAccount(tenantID, userID, name, symbolNames(r.cfg.Symbols))
	t.Accounts[userID] = a
	return a, nil
}

func symbolNames(symbols map[string]decimal.Decimal) []string {
	out := make([]string, 0, len(symbols))
	for s := range symbols {
		out = append(out, s)
	}
	return out
}
