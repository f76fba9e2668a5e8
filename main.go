package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	chromem "github.com/philippgille/chromem-go"

	"github.com/quarryhq/quarry/pkg/config"
	"github.com/quarryhq/quarry/pkg/db"
	"github.com/quarryhq/quarry/pkg/utils"
)

func main() {
	// Provider API keys may live in a local .env during development
	_ = godotenv.Load()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		utils.GetLogger().Warn("Failed to write default config", "error", err)
	}

	cfg, path, err := config.Load()
	if err != nil {
		utils.GetLogger().Error("Failed to load config", "path", path, "error", err)
		os.Exit(1)
	}

	utils.InitLogger(cfg.LogLevel())
	logger := utils.GetLogger()

	gdb, err := db.Init(cfg.DatabasePath())
	if err != nil {
		logger.Error("Failed to open database", "path", cfg.DatabasePath(), "error", err)
		os.Exit(1)
	}

	vectors, err := chromem.NewPersistentDB(cfg.VectorPath(), false)
	if err != nil {
		logger.Error("Failed to open vector store", "path", cfg.VectorPath(), "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(cfg, gdb, vectors)
	if err := server.Start(ctx); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
