// Package server assembles the HTTP server from its components.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canfeed/backend/internal/annotations"
	"github.com/canfeed/backend/internal/api/ws"
	"github.com/canfeed/backend/internal/config"
	"github.com/canfeed/backend/internal/interceptor"
	"github.com/canfeed/backend/internal/logging"
	"github.com/canfeed/backend/internal/middleware"
	"github.com/canfeed/backend/internal/monitoring"
	"github.com/canfeed/backend/internal/proxy"
	"github.com/canfeed/backend/internal/upstream"
)

// Server is the assembled HTTP server.
type Server struct {
	http   *http.Server
	store  annotations.Store
	logger *logging.Logger
}

// New builds the server from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	rules, err := config.LoadRewriteRules(cfg.Proxy.RulesPath)
	if err != nil {
		// Bad external rules fall back to the built-ins.
		logger.Warn("using default rewrite rules", zap.Error(err))
	}

	rewriter := proxy.NewRewriter(cfg.Proxy.Origin, cfg.Proxy.Endpoint, rules.InternalPathGlobs)

	gen, err := interceptor.New(cfg.Proxy.Origin, cfg.Proxy.Endpoint, rewriter.InternalPathPrefixes())
	if err != nil {
		return nil, fmt.Errorf("failed to build interceptor: %w", err)
	}

	store, err := annotations.OpenSQLite(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation store: %w", err)
	}

	metrics := monitoring.New()
	client := upstream.New(cfg.Proxy.UpstreamTimeout)
	pipeline := proxy.NewPipeline(client, rewriter, gen, rules.PatchHostnames,
		cfg.Proxy.MaxBodyBytes, logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(metrics.Middleware())
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		router.Use(limiter.Middleware())
	}

	proxy.NewHandler(pipeline, rewriter, logger).Register(router)
	annotations.NewHandler(annotations.NewService(store, logger), metrics).Register(router)
	ws.NewHandler(rewriter, logger, metrics).Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"upstream": client.BreakerState().String(),
		})
	})
	router.GET("/metrics", monitoring.Handler())

	return &Server{
		http: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:  store,
		logger: logger,
	}, nil
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}
