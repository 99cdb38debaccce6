package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"legalia-backend/config"
	"legalia-backend/gateway"
	"legalia-backend/logging"
	"legalia-backend/models"
	"legalia-backend/repository"

	"github.com/joho/godotenv"
)

const (
	defaultPrecedentDir = "./precedents"
	batchSize           = 50
)

// precedentFile is the on-disk form of a precedent. Dates are YYYY-MM-DD.
type precedentFile struct {
	CaseNumber     string         `json:"case_number"`
	Court          string         `json:"court"`
	Jurisdiction   string         `json:"jurisdiction"`
	DecisionDate   string         `json:"decision_date"`
	Title          string         `json:"title"`
	Summary        string         `json:"summary"`
	Ruling         string         `json:"ruling"`
	LegalReasoning string         `json:"legal_reasoning"`
	Keywords       []string       `json:"keywords"`
	CitedArticles  []string       `json:"cited_articles"`
	SourceURL      string         `json:"source_url"`
	FullText       string         `json:"full_text"`
	Relevance      string         `json:"relevance"`
	Metadata       map[string]any `json:"metadata"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	logger := logging.New("build-embeddings")

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("build embeddings failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if !cfg.ModelConfigured() {
		return errors.New("GEMINI_API_KEY environment variable is required")
	}
	if cfg.EmbeddingDimensions != repository.EmbeddingDimensions {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be %d to match the precedents table", repository.EmbeddingDimensions)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	precedents := repository.NewPrecedentRepository(pool)

	gw, err := gateway.New(ctx, gateway.Config{
		APIKey:            cfg.GeminiAPIKey,
		TextModel:         cfg.TextModel,
		VisionModel:       cfg.VisionModel,
		EmbeddingModel:    cfg.EmbeddingModel,
		Dimensions:        cfg.EmbeddingDimensions,
		GenerationTimeout: cfg.GenerationTimeout,
		VisionTimeout:     cfg.VisionTimeout,
		EmbeddingTimeout:  cfg.EmbeddingTimeout,
	})
	if err != nil {
		return err
	}
	if closer, ok := gw.(io.Closer); ok {
		defer closer.Close()
	}

	dir := os.Getenv("PRECEDENTS_DIR")
	if dir == "" {
		dir = defaultPrecedentDir
	}
	loaded, err := loadPrecedents(ctx, dir, precedents, logger)
	if err != nil {
		return err
	}

	embedded, failed := 0, 0
	start := time.Now()
	for {
		batch, err := precedents.ListMissingEmbeddings(ctx, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		progress := 0
		for i := range batch {
			p := &batch[i]
			emb, err := gw.GenerateEmbedding(ctx, p.EmbeddingInput())
			if err != nil {
				failed++
				logger.Warn("embedding failed", "case_number", p.CaseNumber, "error", err)
				continue
			}
			if err := precedents.UpdateEmbedding(ctx, p.ID, emb.Values); err != nil {
				return err
			}
			embedded++
			progress++
		}
		logger.Info("batch embedded", "embedded", progress, "batch", len(batch))

		// Everything left keeps failing; stop instead of looping on it.
		if progress == 0 {
			break
		}
	}

	logger.Info("embeddings built",
		"loaded", loaded,
		"embedded", embedded,
		"failed", failed,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if failed > 0 {
		return fmt.Errorf("%d precedents could not be embedded", failed)
	}
	return nil
}

// loadPrecedents upserts every *.json file in dir. A missing dir loads nothing.
func loadPrecedents(ctx context.Context, dir string, store *repository.PrecedentRepository, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no precedent directory, embedding stored precedents only", "dir", dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		items, err := readPrecedentFile(path)
		if err != nil {
			logger.Warn("skipping precedent file", "file", path, "error", err)
			continue
		}
		for i := range items {
			if err := store.Upsert(ctx, &items[i]); err != nil {
				return loaded, err
			}
			loaded++
		}
		logger.Info("precedent file loaded", "file", entry.Name(), "precedents", len(items))
	}
	return loaded, nil
}

// readPrecedentFile accepts a single object or an array of objects.
func readPrecedentFile(path string) ([]models.Precedent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var files []precedentFile
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &files)
	} else {
		var one precedentFile
		err = json.Unmarshal(data, &one)
		files = []precedentFile{one}
	}
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := make([]models.Precedent, 0, len(files))
	for _, f := range files {
		p, err := f.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (f precedentFile) toModel() (models.Precedent, error) {
	if f.CaseNumber == "" || f.Title == "" {
		return models.Precedent{}, errors.New("case_number and title are required")
	}
	p := models.Precedent{
		CaseNumber:     f.CaseNumber,
		Court:          f.Court,
		Jurisdiction:   f.Jurisdiction,
		Title:          f.Title,
		Summary:        f.Summary,
		Ruling:         f.Ruling,
		LegalReasoning: f.LegalReasoning,
		Keywords:       f.Keywords,
		CitedArticles:  f.CitedArticles,
		FullText:       f.FullText,
		Relevance:      models.RelevanceTier(f.Relevance),
		Metadata:       models.JSONMap(f.Metadata),
	}
	if p.Keywords == nil {
		p.Keywords = []string{}
	}
	if p.CitedArticles == nil {
		p.CitedArticles = []string{}
	}
	if f.SourceURL != "" {
		url := f.SourceURL
		p.SourceURL = &url
	}
	if f.DecisionDate != "" {
		d, err := time.Parse("2006-01-02", f.DecisionDate)
		if err != nil {
			return models.Precedent{}, fmt.Errorf("%s: decision_date: %w", f.CaseNumber, err)
		}
		p.DecisionDate = &d
	}
	return p, nil
}
