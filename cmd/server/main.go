package main

import (
	"context"
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/antonio12761/roxy-bar-sub004/internal/config"
	"github.com/antonio12761/roxy-bar-sub004/internal/database"
	"github.com/antonio12761/roxy-bar-sub004/internal/receipt"
	"github.com/antonio12761/roxy-bar-sub004/internal/router"
	"github.com/antonio12761/roxy-bar-sub004/internal/ws"
)

// newLogger creates logger with log level
func newLogger(level string) (*zap.Logger, error) {
	loggerLvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	loggerCfg := zap.NewProductionConfig()
	loggerCfg.Level = loggerLvl
	return loggerCfg.Build()
}

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("Error migrating database", zap.Error(err))
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Error connecting to database", zap.Error(err))
	}
	defer pool.Close()
	queries := database.New(pool)

	receipts, err := receipt.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal("Error connecting to message broker", zap.Error(err))
	}
	defer receipts.Close()

	hub := ws.NewHub()
	go hub.Run()

	r := router.New(cfg, queries, pool, hub, receipts, logger)

	logger.Info("Running server", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Fatal("Error starting server", zap.Error(err))
	}
}
