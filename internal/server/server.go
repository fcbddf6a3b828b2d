package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newsletter/internal/app"
	"newsletter/internal/config"
	"newsletter/internal/logger"
	"newsletter/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the Service over the REST API.
type Server struct {
	svc        *app.Service
	cfg        *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	metrics    *metrics.Observer
	gatherer   prometheus.Gatherer
	log        *logger.Logger
}

type Option func(*Server)

// WithMetrics records request metrics on o and serves g on the metrics path.
func WithMetrics(o *metrics.Observer, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = o
		s.gatherer = g
	}
}

func New(svc *app.Service, cfg *config.Config, log *logger.Logger, opts ...Option) *Server {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		svc: svc,
		cfg: cfg,
		log: log.With("component", "http"),
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(AccessLog(s.log, s.metrics))

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", RequestIDHeader}
	corsConfig.ExposeHeaders = []string{RequestIDHeader}
	engine.Use(cors.New(corsConfig))

	s.engine = engine
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		ErrorLog:     slog.NewLogLogger(s.log.Slog().Handler(), slog.LevelWarn),
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.Use(JSONMiddleware())

	api.GET("/health", s.handleHealth)

	articles := api.Group("/articles")
	{
		articles.POST("", s.handleAddArticle)
		articles.DELETE("/:seq", s.handleDeleteArticle)
		articles.GET("/recent", s.handleRecentArticles)
		articles.GET("/search", s.handleSearchArticles)
	}

	keywords := api.Group("/keywords")
	{
		keywords.GET("/top", s.handleTopKeywords)
		keywords.GET("/:keyword/articles", s.handleRelatedArticles)
	}

	admin := api.Group("/admin")
	{
		admin.GET("/articles", s.handleAdminArticles)
		admin.GET("/articles/:seq", s.handleArticleDetail)
		admin.POST("/articles/:seq/reindex", s.handleReindexArticle)
		admin.POST("/ingest", s.handleIngest)
		admin.GET("/stats", s.handleStats)
	}

	if s.cfg.Metrics.Enabled && s.gatherer != nil {
		s.engine.GET(s.cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start HTTP server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
