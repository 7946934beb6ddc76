package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/cache"
	"github.com/critter-cv/critter-cv/server/config"
	"github.com/critter-cv/critter-cv/server/handlers"
	"github.com/critter-cv/critter-cv/server/metrics"
	"github.com/critter-cv/critter-cv/server/middleware"
	"github.com/critter-cv/critter-cv/server/ml"
	"github.com/critter-cv/critter-cv/server/session"
	"github.com/critter-cv/critter-cv/server/source"
)

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	visionCli   *ml.Client
	embedCache  cache.Cache
	rateLimiter *middleware.RateLimiter
	config      *config.Config
}

func main() {
	cfg := config.LoadConfig()

	var logger *zap.Logger
	var err error
	if cfg.Logging.Format == "json" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if server.rateLimiter != nil {
		server.rateLimiter.Shutdown()
	}
	if server.visionCli != nil {
		server.visionCli.Close()
	}
	if server.embedCache != nil {
		if err := server.embedCache.Close(); err != nil {
			logger.Error("Failed to close embedding cache", zap.Error(err))
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	m := metrics.New()

	embedCache := cache.NewMemoryCache(cfg.Vision.EmbedCacheSize, cfg.Vision.EmbedCacheTTL, logger)

	visionCli := ml.NewClient(cfg.Vision.BaseURL, ml.ClientConfig{
		Timeout:             cfg.Vision.Timeout,
		MaxRetries:          cfg.Vision.MaxRetries,
		RetryDelay:          cfg.Vision.RetryDelay,
		HealthCheckInterval: cfg.Vision.HealthCheckInterval,
	}, embedCache, logger)

	manager := session.NewManager()

	// Each session gets its own source so concurrent runs never fight over
	// the playback position.
	newSource := func() (source.Source, error) {
		return source.NewHTTPSource(cfg.Source.BaseURL, cfg.Source.Timeout, logger)
	}

	rateLimiter := middleware.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst, logger)

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))
	router.Use(middleware.RequireJSON())

	tracking := handlers.NewTrackingHandler(cfg, manager, visionCli, m, newSource, logger)
	progress := handlers.NewProgressHandler(manager, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"service":   "critter-cv",
		})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/ws/sessions/:id", rateLimiter.Limit(), progress.Stream)

	api := router.Group("/api/v1")
	api.Use(rateLimiter.Limit())
	tracking.RegisterRoutes(api)

	return &Server{
		router:      router,
		logger:      logger,
		visionCli:   visionCli,
		embedCache:  embedCache,
		rateLimiter: rateLimiter,
		config:      cfg,
	}, nil
}
