package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/openclear/permex/internal/ledger"
)

type createTenantRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
	Name     string `json:"name"`
}

type createUserRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
	ID       string `json:"id" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

type userRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
}

type freezeRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
	Frozen   bool   `json:"frozen"`
}

type flagRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
	Flag     string `json:"flag" binding:"required"`
	Value    bool   `json:"value"`
}

type creditRequest struct {
	TenantID string          `json:"tenantId" binding:"required"`
	UserID   string          `json:"userId" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"dpos"`
}

type mintRequest struct {
	TenantID string          `json:"tenantId" binding:"required"`
	UserID   string          `json:"userId" binding:"required"`
	Symbol   string          `json:"symbol" binding:"required"`
	Qty      decimal.Decimal `json:"qty" binding:"dpos"`
}

type settlementModeRequest struct {
	TenantID     string  `json:"tenantId" binding:"required"`
	Mode         string  `json:"mode" binding:"required"`
	DelaySeconds float64 `json:"delaySeconds"`
}

type breakerRequest struct {
	TenantID    string          `json:"tenantId" binding:"required"`
	Pct         decimal.Decimal `json:"pct"`
	HaltSeconds float64         `json:"haltSeconds"`
}

type limitOrderRequest struct {
	TenantID string          `json:"tenantId" binding:"required"`
	UserID   string          `json:"userId" binding:"required"`
	Symbol   string          `json:"symbol" binding:"required"`
	Side     string          `json:"side" binding:"required,oneof=BUY SELL"`
	Qty      decimal.Decimal `json:"qty" binding:"dpos"`
	Price    decimal.Decimal `json:"price" binding:"dpos"`
}

type marketOrderRequest struct {
	TenantID string          `json:"tenantId" binding:"required"`
	UserID   string          `json:"userId" binding:"required"`
	Symbol   string          `json:"symbol" binding:"required"`
	Side     string          `json:"side" binding:"required,oneof=BUY SELL"`
	Qty      decimal.Decimal `json:"qty" binding:"dpos"`
}

type cancelOrderRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
	OrderID  string `json:"orderId" binding:"required"`
}

func (s *Server) handleListTenants(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tenants": s.svc.Snapshot("").Tenants})
}

func (s *Server) handleCreateTenant(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view, err := s.svc.EnsureTenant(req.TenantID, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": view})
	s.Broadcast()
}

func (s *Server) handleSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": s.svc.Repo().Symbols()})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Snapshot(c.Query("tenantId")))
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	a, err := s.svc.Repo().CreateUser(req.TenantID, req.ID, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": a.View()})
	s.Broadcast()
}

func (s *Server) handleVerify(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view, err := s.svc.VerifyUser(req.TenantID, req.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": view})
	s.Broadcast()
}

func (s *Server) handleRevokeKYC(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view, err := s.svc.RevokeVerification(req.TenantID, req.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": view})
	s.Broadcast()
}

func (s *Server) handleFreeze(c *gin.Context) {
	var req freezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view, err := s.svc.SetFrozen(req.TenantID, req.UserID, req.Frozen)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": view})
	s.Broadcast()
}

func (s *Server) handleFlag(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view, err := s.svc.SetFlag(req.TenantID, req.UserID, req.Flag, req.Value)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": view})
	s.Broadcast()
}

func (s *Server) handleCreditUSD(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view, err := s.svc.CreditCash(req.TenantID, req.UserID, req.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": view})
	s.Broadcast()
}

func (s *Server) handleMint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view, err := s.svc.MintTokens(req.TenantID, req.UserID, req.Symbol, req.Qty)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": view})
	s.Broadcast()
}

func (s *Server) handleSettlementMode(c *gin.Context) {
	var req settlementModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	delay := time.Duration(req.DelaySeconds * float64(time.Second))
	view, err := s.svc.SetSettlementMode(req.TenantID, req.Mode, delay)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": view})
	s.Broadcast()
}

func (s *Server) handleBreakerParams(c *gin.Context) {
	var req breakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	halt := time.Duration(req.HaltSeconds * float64(time.Second))
	view, err := s.svc.SetCircuitBreakerParams(req.TenantID, req.Pct, halt)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": view})
	s.Broadcast()
}

func (s *Server) handleSettlementTick(c *gin.Context) {
	settled := s.svc.TickSettlement()
	c.JSON(http.StatusOK, gin.H{"settled": settled})
	if settled > 0 {
		s.Broadcast()
	}
}

func (s *Server) handlePlaceLimit(c *gin.Context) {
	var req limitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.svc.PlaceLimitOrder(req.TenantID, req.UserID, req.Symbol,
		req.Side, req.Qty, req.Price)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
	s.Broadcast()
}

func (s *Server) handlePlaceMarket(c *gin.Context) {
	var req marketOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.svc.PlaceMarketOrder(req.TenantID, req.UserID, req.Symbol,
		req.Side, req.Qty)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
	s.Broadcast()
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	view, err := s.svc.CancelOrder(req.TenantID, req.UserID, req.OrderID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": view})
	s.Broadcast()
}

// ledgerTailDepth bounds how many blocks the ledger endpoint returns.
const ledgerTailDepth = 200

// handleLedger returns the chain tail with a verification verdict. With a
// tenantId filter only that tenant's events (plus genesis) are returned.
func (s *Server) handleLedger(c *gin.Context) {
	tenantID := c.Query("tenantId")
	tail := s.svc.Ledger().Tail(ledgerTailDepth)
	if tenantID != "" {
		tail = filterBlocks(tail, tenantID)
	}
	c.JSON(http.StatusOK, gin.H{
		"verify": s.svc.Ledger().VerifyChain(),
		"chain":  tail,
	})
}

func (s *Server) handleLedgerVerify(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Ledger().VerifyChain())
}

func filterBlocks(blocks []ledger.Block, tenantID string) []ledger.Block {
	out := make([]ledger.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == ledger.EventGenesis {
			out = append(out, b)
			continue
		}
		var scope struct {
			TenantID string `json:"tenant_id"`
		}
		if json.Unmarshal(b.Data, &scope) == nil && scope.TenantID == tenantID {
			out = append(out, b)
		}
	}
	return out
}
