// Package server exposes the exchange over HTTP and WebSocket. Routes mirror
// the operator UI: tenant and user management, admin controls guarded by a
// shared key, order placement, and audit ledger reads. Every mutating call
// ends with a snapshot broadcast to connected WebSocket clients.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclear/permex/internal/trading"
	"github.com/openclear/permex/internal/ws"
	"github.com/openclear/permex/pkg/errors"
	"github.com/openclear/permex/pkg/metrics"
)

// Server holds the HTTP layer's dependencies.
type Server struct {
	svc      *trading.Service
	hub      *ws.Hub
	registry *prometheus.Registry
	adminKey string
	logger   *zap.Logger
}

// New wires the server. The hub greets new clients with a full snapshot.
func New(svc *trading.Service, adminKey string, logger *zap.Logger) *Server {
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	s := &Server{
		svc:      svc,
		hub:      ws.NewHub(logger),
		registry: registry,
		adminKey: adminKey,
		logger:   logger.Named("server"),
	}
	s.hub.Greeter = s.snapshotPayload
	registerValidations()
	return s
}

// Hub exposes the WebSocket hub, so the settlement loop can broadcast too.
func (s *Server) Hub() *ws.Hub { return s.hub }

func registerValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	// Strictly positive decimal, for order quantities and admin amounts.
	v.RegisterValidation("dpos", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && d.Sign() > 0
	})
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	api := router.Group("/api")
	{
		api.GET("/tenants", s.handleListTenants)
		api.POST("/tenants", s.handleCreateTenant)
		api.GET("/symbols", s.handleSymbols)
		api.GET("/snapshot", s.handleSnapshot)
		api.POST("/users", s.handleCreateUser)

		orders := api.Group("/orders")
		{
			orders.POST("/limit", s.handlePlaceLimit)
			orders.POST("/market", s.handlePlaceMarket)
			orders.POST("/cancel", s.handleCancelOrder)
		}

		admin := api.Group("/admin", s.adminGate())
		{
			admin.POST("/verify", s.handleVerify)
			admin.POST("/revoke-kyc", s.handleRevokeKYC)
			admin.POST("/freeze", s.handleFreeze)
			admin.POST("/flag", s.handleFlag)
			admin.POST("/credit-usd", s.handleCreditUSD)
			admin.POST("/mint", s.handleMint)
			admin.POST("/settlement-mode", s.handleSettlementMode)
			admin.POST("/circuit-breaker", s.handleBreakerParams)
			admin.POST("/settlement/tick", s.handleSettlementTick)
		}

		api.GET("/ledger", s.handleLedger)
		api.GET("/ledger/verify", s.handleLedgerVerify)
	}

	return router
}

// adminGate rejects requests without the shared admin key. The key comes from
// the X-Admin-Key header or, for parity with simple clients, an adminKey
// query parameter.
func (s *Server) adminGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = c.Query("adminKey")
		}
		if key != s.adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "UNAUTHORIZED", "message": "admin key required"})
			return
		}
		c.Next()
	}
}

// kindStatus maps the engine's failure taxonomy onto HTTP statuses.
func kindStatus(kind errors.Kind) int {
	switch kind {
	case errors.KindUserNotFound, errors.KindOrderNotFound, errors.KindUnknownSymbol:
		return http.StatusNotFound
	case errors.KindForbidden, errors.KindKYCRequired, errors.KindAccountFrozen:
		return http.StatusForbidden
	case errors.KindUserExists, errors.KindNotOpen, errors.KindTradingHalted:
		return http.StatusConflict
	case errors.KindInsufficientUSD, errors.KindInsufficientTokens,
		errors.KindInsufficientLiquidity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) fail(c *gin.Context, err *errors.Error) {
	c.JSON(kindStatus(err.Kind), gin.H{
		"error":   string(err.Kind),
		"message": err.Message,
	})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   string(errors.KindInvalidParams),
		"message": err.Error(),
	})
}

// snapshotPayload renders the broadcast frame: the full, unscoped snapshot.
func (s *Server) snapshotPayload() []byte {
	payload, err := json.Marshal(gin.H{
		"type": "SNAPSHOT",
		"data": s.svc.Snapshot(""),
	})
	if err != nil {
		s.logger.Error("snapshot marshal failed", zap.Error(err))
		return nil
	}
	return payload
}

// Broadcast pushes the current snapshot to all WebSocket clients.
func (s *Server) Broadcast() {
	if payload := s.snapshotPayload(); payload != nil {
		s.hub.Broadcast(payload)
	}
}
