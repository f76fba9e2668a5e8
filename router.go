package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	chromem "github.com/philippgille/chromem-go"
	"gorm.io/gorm"

	"github.com/quarryhq/quarry/pkg/config"
	"github.com/quarryhq/quarry/pkg/handler"
	"github.com/quarryhq/quarry/pkg/search"
	"github.com/quarryhq/quarry/pkg/service"
	"github.com/quarryhq/quarry/pkg/utils"
)

type Server struct {
	ginEngine *gin.Engine
	logger    *slog.Logger
	cfg       *config.AppConfig
	port      int
}

func NewServer(cfg *config.AppConfig, gdb *gorm.DB, vectors *chromem.DB) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost dev origins. Requests
	// without an Origin header are not browser CORS requests and pass
	// through untouched.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-User-ID")
			} else {
				// Reject unknown origins.
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		logger:    utils.GetLogger(),
		cfg:       cfg,
	}

	server.SetupRoutes(gdb, vectors)

	return server
}

// Start listens on the configured address and serves until the context
// is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// QUARRY_PORT overrides the configured port when set and valid
	port := s.cfg.Port()
	if v := os.Getenv("QUARRY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			port = p
		} else {
			s.logger.Warn("Invalid QUARRY_PORT value, falling back to config", "value", v)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), port)
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	// Record the actual port (useful if we ever switch to :0).
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = port
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) SetupRoutes(gdb *gorm.DB, vectors *chromem.DB) {
	// Embeddings feed both the search engine and document ingestion
	embeddingService := service.NewEmbeddingService(gdb)
	engine := search.NewEngine(gdb, vectors, embeddingService)

	settingsService := service.NewSettingsService(gdb)
	retrievalService := service.NewRetrievalService(gdb, engine, engine, embeddingService)
	promptService := service.NewPromptService(gdb)
	providerService := service.NewProviderService(gdb)
	generationService := service.NewGenerationService(promptService, providerService)
	chatService := service.NewChatService(gdb, settingsService, retrievalService, generationService)
	datasetService := service.NewDatasetService(gdb, engine, embeddingService)

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	apiGroup.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "port": s.port})
	})

	handler.NewChatHandler(chatService).RegisterRoutes(apiGroup)
	handler.NewDatasetHandler(datasetService).RegisterRoutes(apiGroup)
	handler.NewProviderHandler(providerService).RegisterRoutes(apiGroup)
	handler.NewPromptHandler(promptService).RegisterRoutes(apiGroup)
	handler.NewSettingsHandler(settingsService).RegisterRoutes(apiGroup)
}
