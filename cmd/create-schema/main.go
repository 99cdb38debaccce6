package main

import (
	"context"
	"fmt"
	"os"

	"legalia-backend/config"
	"legalia-backend/logging"
	"legalia-backend/repository"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	logger := logging.New("create-schema")

	ctx := context.Background()
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.CreateSchema(ctx, pool); err != nil {
		logger.Error("failed to create schema", "error", err)
		os.Exit(1)
	}

	logger.Info("database schema created", "tables", []string{"cases", "evidence", "precedents", "case_analyses"})
}
