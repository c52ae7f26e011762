// Package api exposes the document store over REST: upload, query,
// document management, and health.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/liliang-cn/ragstore/api/handlers"
	"github.com/liliang-cn/ragstore/api/middleware"
	"github.com/liliang-cn/ragstore/internal/config"
	"github.com/liliang-cn/ragstore/internal/processor"
)

type Server struct {
	cfg       *config.Config
	processor *processor.Service
	router    *gin.Engine
	server    *http.Server
	logger    zerolog.Logger
}

// NewServer wires the router around an already-constructed processor.
func NewServer(cfg *config.Config, p *processor.Service, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		processor: p,
		logger:    logger.With().Str("component", "api-server").Logger(),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupRouter() {
	if s.cfg.Server.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Recovery(s.logger))

	origins := s.cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", middleware.EndUserHeader},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	healthHandler := handlers.NewHealthHandler(s.processor)
	s.router.GET("/health", healthHandler.Health)

	v1 := s.router.Group("/v1")
	if s.cfg.Auth.Enabled {
		v1.Use(middleware.Auth(s.cfg.Auth))
	}
	if s.cfg.Server.RateLimitPerMinute > 0 {
		v1.Use(middleware.RateLimit(s.cfg.Server.RateLimitPerMinute, s.cfg.Server.RateLimitBurst))
	}

	queryHandler := handlers.NewQueryHandler(s.processor)
	v1.POST("/query", queryHandler.Query)
	v1.POST("/embed", queryHandler.Embed)

	docs := v1.Group("/documents")
	{
		docHandler := handlers.NewDocumentsHandler(s.processor)
		docs.POST("/upload", docHandler.Upload)
		docs.GET("", docHandler.List)
		docs.GET("/:id", docHandler.Get)
		docs.GET("/:id/download", docHandler.Download)
		docs.GET("/:id/chunks", docHandler.Chunks)
		docs.GET("/:id/chunks/:index/context", docHandler.Context)
		docs.DELETE("/:id", docHandler.Delete)
		docs.GET("/by-hash/:hash", docHandler.GetByHash)
		docs.DELETE("/by-hash/:hash", docHandler.DeleteByHash)
	}
}

// Start blocks serving requests until Stop is called or the listener
// fails.
func (s *Server) Start() error {
	s.logger.Info().
		Str("host", s.cfg.Server.Host).
		Int("port", s.cfg.Server.Port).
		Bool("auth", s.cfg.Auth.Enabled).
		Msg("starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
