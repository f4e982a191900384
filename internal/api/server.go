// Package api exposes the read-only dashboard and operator endpoints over
// HTTP. The watchdog does not depend on this package; stopping the API never
// stops the stop-loss loop.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/auth"
	"kite-trading-bot/internal/circuit"
	"kite-trading-bot/internal/database"
	"kite-trading-bot/internal/regime"
	"kite-trading-bot/internal/vsr"
	"kite-trading-bot/internal/watchdog"
)

// RateLimiter provides in-memory per-client rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether the key may make another request in this window.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Server is the dashboard HTTP server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig
	authCfg    config.AuthConfig
	logger     zerolog.Logger

	tracker    *watchdog.Tracker
	dispatcher *watchdog.Dispatcher
	breaker    *circuit.Breaker
	regimeMon  *regime.Monitor
	vsrTracker *vsr.Tracker
	repo       *database.Repository
	jwtManager *auth.JWTManager
	limiter    *RateLimiter

	startedAt time.Time
}

// NewServer wires routes and middleware. repo, regimeMon and vsrTracker may
// be nil; their endpoints degrade to 503 or empty responses.
func NewServer(
	cfg config.ServerConfig,
	authCfg config.AuthConfig,
	tracker *watchdog.Tracker,
	dispatcher *watchdog.Dispatcher,
	breaker *circuit.Breaker,
	regimeMon *regime.Monitor,
	vsrTracker *vsr.Tracker,
	repo *database.Repository,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		cfg:        cfg,
		authCfg:    authCfg,
		logger:     logger.With().Str("component", "APIServer").Logger(),
		tracker:    tracker,
		dispatcher: dispatcher,
		breaker:    breaker,
		regimeMon:  regimeMon,
		vsrTracker: vsrTracker,
		repo:       repo,
		limiter:    NewRateLimiter(cfg.RateLimit, time.Duration(cfg.RateWindowSecs)*time.Second),
		startedAt:  time.Now(),
	}
	if authCfg.Enabled {
		s.jwtManager = auth.NewJWTManager(authCfg.JWTSecret, time.Duration(authCfg.TokenTTLHours)*time.Hour)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)
	router.POST("/api/auth/login", s.handleLogin)

	api := router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	if s.jwtManager != nil {
		api.Use(auth.Middleware(s.jwtManager))
	}
	{
		api.GET("/dashboard", s.handleDashboard)
		api.GET("/positions", s.handlePositions)
		api.GET("/orders", s.handleOrders)
		api.GET("/trades", s.handleTrades)
		api.GET("/regime", s.handleRegime)
		api.GET("/trending-tickers", s.handleTrendingTickers)
		api.GET("/stops/:ticker", s.handleStopEvents)
		api.POST("/breaker/reset", s.handleBreakerReset)
	}

	s.router = router
	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.cfg.Port).Msg("API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
