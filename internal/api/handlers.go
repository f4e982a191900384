package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kite-trading-bot/internal/auth"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"positions": s.tracker.Count(),
		"breaker":   string(s.breaker.GetState()),
	}
	if s.repo != nil {
		if err := s.repo.HealthCheck(c.Request.Context()); err != nil {
			status["database"] = "unavailable"
		} else {
			status["database"] = "ok"
		}
	}
	c.JSON(http.StatusOK, status)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.jwtManager == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "auth disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if req.Username != s.authCfg.OperatorUser || !auth.VerifyPassword(req.Password, s.authCfg.OperatorPwHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.jwtManager.GenerateToken(req.Username)
	if err != nil {
		s.logger.Error().Err(err).Msg("Token generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": s.jwtManager.TokenTTLSeconds(),
	})
}

func (s *Server) handleDashboard(c *gin.Context) {
	resp := gin.H{
		"positions":     s.tracker.Snapshot(),
		"pending_exits": s.dispatcher.Pending(),
		"breaker":       s.breaker.Stats(),
	}
	if s.regimeMon != nil {
		resp["regime"] = s.regimeMon.Current()
	}
	if s.vsrTracker != nil {
		resp["trending"] = s.vsrTracker.Trending()
	}
	if s.repo != nil {
		since := time.Now().Truncate(24 * time.Hour)
		if stats, err := s.repo.GetTradeStats(c.Request.Context(), since); err == nil {
			resp["today"] = stats
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.tracker.Snapshot()})
}

func (s *Server) handleOrders(c *gin.Context) {
	resp := gin.H{"pending": s.dispatcher.Pending()}
	if s.repo != nil {
		if orders, err := s.repo.GetRecentExitOrders(c.Request.Context(), 100); err == nil {
			resp["recent"] = orders
		} else {
			s.logger.Error().Err(err).Msg("Failed to load exit orders")
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database disabled"})
		return
	}
	trades, err := s.repo.GetClosedTrades(c.Request.Context(), 200)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load closed trades")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRegime(c *gin.Context) {
	if s.regimeMon == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "regime monitor disabled"})
		return
	}
	snap := s.regimeMon.Current()
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{"regime": nil, "message": "no snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"regime": snap})
}

func (s *Server) handleTrendingTickers(c *gin.Context) {
	if s.vsrTracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vsr tracker disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trending": s.vsrTracker.Trending()})
}

func (s *Server) handleStopEvents(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database disabled"})
		return
	}
	ticker := c.Param("ticker")
	events, err := s.repo.GetStopEvents(c.Request.Context(), ticker, 100)
	if err != nil {
		s.logger.Error().Err(err).Str("ticker", ticker).Msg("Failed to load stop events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stop events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "events": events})
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	s.breaker.ForceReset()
	s.logger.Warn().Str("operator", c.GetString(auth.ContextKeyUsername)).Msg("Circuit breaker manually reset")
	c.JSON(http.StatusOK, gin.H{"breaker": s.breaker.Stats()})
}
