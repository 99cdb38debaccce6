package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"legalia-backend/agents"
	"legalia-backend/config"
	"legalia-backend/gateway"
	"legalia-backend/logging"
	"legalia-backend/orchestrator"
	"legalia-backend/repository"
	"legalia-backend/retrieval"
	"legalia-backend/service"
	"legalia-backend/storage"

	"github.com/joho/godotenv"
)

// app is the wiring shared by the database-backed commands.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	service *service.AnalysisService
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func loadConfig() (config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	return cfg, nil
}

func newGateway(ctx context.Context, cfg config.Config, files storage.Storage) (gateway.Gateway, func(), error) {
	opts := []gateway.Option{}
	if files != nil {
		opts = append(opts, gateway.WithStorage(files))
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
	}, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: %w", err)
	}
	closeFn := func() {}
	if closer, ok := gw.(io.Closer); ok {
		closeFn = func() { _ = closer.Close() }
	}
	return gw, closeFn, nil
}

// openApp connects to Postgres and builds the analysis service.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logging.New("casectl")}

	db, err := repository.NewPool(ctx, cfg.DatabaseURL, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	files, err := storage.NewFromEnv(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	gw, closeGateway, err := newGateway(ctx, cfg, files)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeGateway)

	cases := repository.NewCaseRepository(db)
	evidence := repository.NewEvidenceRepository(db)
	analyses := repository.NewAnalysisRepository(db)

	pipeline := agents.NewPipeline(gw, retrieval.New(gw, repository.NewPrecedentRepository(db)))
	a.service = service.NewAnalysisService(
		service.WithCaseStore(cases),
		service.WithEvidenceStore(evidence),
		service.WithAnalysisStore(analyses),
		service.WithStorage(files),
		service.WithRunner(orchestrator.New(cases, evidence, analyses, pipeline)),
		service.WithVisualAgent(pipeline.Visual),
	)
	return a, nil
}
