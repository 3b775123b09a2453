// Package http exposes the diagnostic and control surface: health, the audit
// summary, watchlist toggles, the effective config and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"sentinel/internal/config"
	"sentinel/internal/logger"
	"sentinel/internal/store/audit"
	"sentinel/internal/store/gormstore"
)

// defaultAuditWindow is used when the request does not pass one.
const defaultAuditWindow = 24 * time.Hour

type Server struct {
	registry *config.Registry
	store    *gormstore.Store
	auditor  *audit.Store
	srv      *http.Server
}

func NewServer(addr string, registry *config.Registry, store *gormstore.Store, auditor *audit.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{registry: registry, store: store, auditor: auditor}

	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/audit/summary", s.handleAuditSummary)
		api.GET("/watchlist", s.handleWatchlist)
		api.PATCH("/watchlist/:symbol", s.handleToggle)
		api.GET("/intents", s.handleIntents)
		api.GET("/config", s.handleConfig)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http: listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": s.store.Path(),
		"time":     time.Now().Unix(),
	})
}

// handleAuditSummary runs the integrity counts over ?window (Go duration,
// default 24h) ending now.
func (s *Server) handleAuditSummary(c *gin.Context) {
	window := defaultAuditWindow
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration like 24h"})
			return
		}
		window = parsed
	}
	to := time.Now()
	summary, err := s.auditor.Window(c.Request.Context(), to.Add(-window), to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "healthy": summary.Healthy()})
}

func (s *Server) handleWatchlist(c *gin.Context) {
	cfg := s.registry.Current()
	type entry struct {
		Symbol           string `json:"symbol"`
		TradeEnabled     bool   `json:"trade_enabled"`
		AlertEnabled     bool   `json:"alert_enabled"`
		BuyAlertEnabled  bool   `json:"buy_alert_enabled"`
		SellAlertEnabled bool   `json:"sell_alert_enabled"`
	}
	out := make([]entry, 0, len(cfg.Watchlist))
	for _, sc := range cfg.Watchlist {
		out = append(out, entry{
			Symbol:           sc.Symbol,
			TradeEnabled:     sc.TradeEnabled,
			AlertEnabled:     sc.AlertEnabled,
			BuyAlertEnabled:  sc.BuyAlertEnabled,
			SellAlertEnabled: sc.SellAlertEnabled,
		})
	}
	c.JSON(http.StatusOK, gin.H{"watchlist": out})
}

type toggleRequest struct {
	Flag  string `json:"flag" binding:"required"`
	Value *bool  `json:"value" binding:"required"`
}

// handleToggle flips one enable flag. The registry fires the same listener
// path as a file reload, so the throttle reset happens here too.
func (s *Server) handleToggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := c.Param("symbol")
	if err := s.registry.SetSymbolFlag(symbol, req.Flag, *req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "flag": req.Flag, "value": *req.Value})
}

func (s *Server) handleIntents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in 1..500"})
			return
		}
		limit = parsed
	}
	intents, err := s.store.ListIntents(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	type row struct {
		ID         int64  `json:"id"`
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		Status     string `json:"status"`
		Decision   string `json:"decision_type"`
		ReasonCode string `json:"reason_code"`
		OrderID    string `json:"order_id,omitempty"`
		CreatedAt  int64  `json:"created_at"`
	}
	out := make([]row, 0, len(intents))
	for _, it := range intents {
		out = append(out, row{
			ID:         it.ID,
			Symbol:     it.Symbol,
			Side:       it.Side,
			Status:     it.Status.String(),
			Decision:   it.DecisionType,
			ReasonCode: it.ReasonCode,
			OrderID:    it.OrderID,
			CreatedAt:  it.CreatedAtUnix,
		})
	}
	c.JSON(http.StatusOK, gin.H{"intents": out})
}

// handleConfig dumps the effective config as YAML with secrets blanked.
func (s *Server) handleConfig(c *gin.Context) {
	cfg := *s.registry.Current()
	cfg.Exchange.APIKey = redact(cfg.Exchange.APIKey)
	cfg.Exchange.APISecret = redact(cfg.Exchange.APISecret)
	cfg.Telegram.BotToken = redact(cfg.Telegram.BotToken)

	buf, err := yaml.Marshal(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/yaml", buf)
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}
