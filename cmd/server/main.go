package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"legalia-backend/agents"
	"legalia-backend/config"
	"legalia-backend/gateway"
	"legalia-backend/handlers"
	"legalia-backend/logging"
	"legalia-backend/orchestrator"
	"legalia-backend/repository"
	"legalia-backend/retrieval"
	"legalia-backend/service"
	"legalia-backend/storage"
	"legalia-backend/telemetry"
	"legalia-backend/webfetch"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Try current directory first, then project root (relative to cmd/server/)
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../../.env")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	logger := logging.New("server")
	logger.Info("legalia starting", "version", version, "port", cfg.Port, "model_configured", cfg.ModelConfigured())

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := repository.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()
	logger.Info("postgres connection established")

	files, err := storage.NewFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	gw, err := gateway.New(ctx, gateway.Config{
		APIKey:            cfg.GeminiAPIKey,
		TextModel:         cfg.TextModel,
		VisionModel:       cfg.VisionModel,
		EmbeddingModel:    cfg.EmbeddingModel,
		Dimensions:        cfg.EmbeddingDimensions,
		GenerationTimeout: cfg.GenerationTimeout,
		VisionTimeout:     cfg.VisionTimeout,
		EmbeddingTimeout:  cfg.EmbeddingTimeout,
	}, gateway.WithStorage(files))
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if closer, ok := gw.(io.Closer); ok {
		defer closer.Close()
	}

	cases := repository.NewCaseRepository(db)
	evidence := repository.NewEvidenceRepository(db)
	analyses := repository.NewAnalysisRepository(db)
	precedents := repository.NewPrecedentRepository(db)

	var retrieverOpts []retrieval.Option
	if cfg.WebSearchEnabled {
		session, err := webfetch.Connect(ctx, cfg.WebFetchURL, cfg.WebFetchCommand)
		if err != nil {
			// Web search only enriches precedent results.
			logger.Warn("web precedent search disabled", "error", err)
		} else {
			defer session.Close()
			retrieverOpts = append(retrieverOpts, retrieval.WithWebSearcher(webfetch.New(session, cfg.WebSearchSources)))
			logger.Info("web precedent search enabled", "sources", len(cfg.WebSearchSources))
		}
	}
	retriever := retrieval.New(gw, precedents, retrieverOpts...)

	pipeline := agents.NewPipeline(gw, retriever)
	orch := orchestrator.New(cases, evidence, analyses, pipeline)

	svc := service.NewAnalysisService(
		service.WithCaseStore(cases),
		service.WithEvidenceStore(evidence),
		service.WithAnalysisStore(analyses),
		service.WithStorage(files),
		service.WithRunner(orch),
		service.WithVisualAgent(pipeline.Visual),
	)

	r := gin.Default()
	r.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if err := db.Ping(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":           status,
			"model_configured": gw.Configured(),
		})
	})
	handlers.RegisterRoutes(r.Group("/api"),
		handlers.NewAnalysisHandler(svc),
		handlers.NewEvidenceHandler(svc, cfg.MaxEvidenceSize),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("server listening", "addr", srv.Addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("legalia shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("legalia stopped")
	return nil
}
