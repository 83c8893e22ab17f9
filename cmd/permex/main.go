package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclear/permex/internal/config"
	"github.com/openclear/permex/internal/ledger"
	"github.com/openclear/permex/internal/server"
	"github.com/openclear/permex/internal/trading"
	"github.com/openclear/permex/internal/trading/risk"
	"github.com/openclear/permex/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("PERMEX_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	validators := make([]ledger.Validator, 0, len(cfg.Ledger.Validators))
	for _, v := range cfg.Ledger.Validators {
		validators = append(validators, ledger.Validator{ID: v.ID, Secret: v.Secret})
	}
	led := ledger.New(validators, cfg.Ledger.Quorum, zapLogger)

	svc := trading.NewService(tradingConfig(cfg), led, zapLogger)
	srv := server.New(svc, cfg.Server.AdminKey, zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go svc.Run(ctx, func(int) { srv.Broadcast() })

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLogger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("shutdown failed", zap.Error(err))
	}
}

// tradingConfig converts the loaded configuration into the engine's decimal
// domain types.
func tradingConfig(cfg *config.Config) trading.Config {
	symbols := make(map[string]decimal.Decimal, len(cfg.Market.Symbols))
	for _, s := range cfg.Market.Symbols {
		symbols[s.Symbol] = decimal.NewFromFloat(s.ReferencePrice)
	}
	return trading.Config{
		Symbols: symbols,
		Risk: risk.Config{
			VelocityWindow:    cfg.Risk.VelocityWindow,
			VelocityLimit:     cfg.Risk.VelocityLimit,
			OversizedNotional: decimal.NewFromFloat(cfg.Risk.OversizedNotional),
		},
		DefaultBreakerPct:      decimal.NewFromFloat(cfg.CircuitBreaker.DefaultPct),
		DefaultHaltDuration:    cfg.CircuitBreaker.HaltDuration,
		DefaultSettlementDelay: cfg.Settlement.DefaultDelay,
		SweepInterval:          cfg.Settlement.SweepInterval,
	}
}
