package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/platform"
	"github.com/courierhq/courier/internal/provider"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/service"
	"github.com/courierhq/courier/internal/worker"
	"github.com/courierhq/courier/pkg/ratelimit"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Queue        *queue.Queue
	Publications *service.PublicationService
	Automations  *service.AutomationService
	Sweeper      *service.Sweeper
	Pool         *worker.Pool
	Registry     *platform.Registry
	Images       *provider.Orchestrator
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	limiter := ratelimit.NewDefaultLimiter()
	limiter.AddLimiter(ratelimit.LimiterDelivery, cfg.Worker.RatePerSecond, cfg.Worker.RateBurst)

	// Delivery pipeline
	q := queue.New(db, logger, queue.DefaultBackoff())
	publications := service.NewPublicationService(db, q, logger)
	automations := service.NewAutomationService(db, publications,
		service.NewTemplateGenerator(), service.NewLogNotifier(logger), logger)
	sweeper := service.NewSweeper(&cfg.Sweeper, db, q, publications, logger)

	registry := platform.NewRegistry(logger)
	if err := registerAdapters(registry, cfg, limiter, logger); err != nil {
		return nil, err
	}

	pollInterval, err := time.ParseDuration(cfg.Worker.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid worker poll interval: %w", err)
	}
	publishTimeout, err := time.ParseDuration(cfg.Worker.PublishTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid worker publish timeout: %w", err)
	}
	pool := worker.NewPool(db, q, publications, registry, limiter, worker.Options{
		Concurrency:    cfg.Worker.Concurrency,
		PollInterval:   pollInterval,
		PublishTimeout: publishTimeout,
	}, logger)

	images := buildOrchestrator(cfg, limiter, logger)

	// Create router
	router := gin.New()

	srv := &Server{
		Config:       cfg,
		DB:           db,
		Router:       router,
		Logger:       logger,
		Queue:        q,
		Publications: publications,
		Automations:  automations,
		Sweeper:      sweeper,
		Pool:         pool,
		Registry:     registry,
		Images:       images,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func registerAdapters(registry *platform.Registry, cfg *config.Config, limiter *ratelimit.MultiLimiter, logger *zap.Logger) error {
	if cfg.Platforms.Twitter.Enabled {
		if err := registry.Register(platform.NewTwitterAdapter(limiter, cfg.Platforms.Twitter.BaseURL, logger)); err != nil {
			return err
		}
	}
	if cfg.Platforms.LinkedIn.Enabled {
		if err := registry.Register(platform.NewLinkedInAdapter(limiter, cfg.Platforms.LinkedIn.BaseURL, logger)); err != nil {
			return err
		}
	}
	if cfg.Platforms.Mastodon.Enabled {
		if err := registry.Register(platform.NewMastodonAdapter(limiter, cfg.Platforms.Mastodon.BaseURL, logger)); err != nil {
			return err
		}
	}
	return nil
}

// buildOrchestrator assembles image providers in the configured fallback
// order, skipping disabled ones.
func buildOrchestrator(cfg *config.Config, limiter *ratelimit.MultiLimiter, logger *zap.Logger) *provider.Orchestrator {
	var providers []provider.ImageProvider
	for _, name := range cfg.Providers.Order {
		switch name {
		case "openai":
			if cfg.Providers.OpenAI.Enabled {
				providers = append(providers,
					provider.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.BaseURL, limiter, logger))
			}
		case "stability":
			if cfg.Providers.Stability.Enabled {
				providers = append(providers,
					provider.NewStabilityProvider(cfg.Providers.Stability.APIKey, cfg.Providers.Stability.BaseURL, limiter, logger))
			}
		default:
			logger.Warn("Unknown image provider in config, skipping", zap.String("provider", name))
		}
	}
	return provider.NewOrchestrator(logger, providers...)
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		automations := api.Group("/automations")
		{
			automations.POST("/:id/fire", s.handleFireAutomation)
			automations.GET("/:id/logs", s.handleGetAutomationLogs)
		}

		publications := api.Group("/publications")
		{
			publications.POST("", s.handleSchedulePublication)
			publications.GET("", s.handleListPublications)
			publications.GET("/:id", s.handleGetPublication)
			publications.POST("/:id/reschedule", s.handleReschedulePublication)
			publications.POST("/:id/retry", s.handleRetryPublication)
			publications.DELETE("/:id", s.handleCancelPublication)
		}

		api.GET("/platforms", s.handleGetPlatforms)
		api.POST("/images/generate", s.handleGenerateImage)
	}
}

// Start launches the background services and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}
	s.Pool.Start(ctx)

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("HTTP server listening", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}
	return s.Server.ListenAndServe()
}

// Shutdown stops intake first, then the background services, so no job is
// dropped mid-flight.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.Server != nil {
		err = s.Server.Shutdown(ctx)
	}

	s.Sweeper.Stop()
	s.Pool.Stop()

	return err
}
