package repository

import (
	"context"
	"fmt"
	"strings"

	"legalia-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the fixed width of the precedents.embedding column
const EmbeddingDimensions = 768

// PrecedentRepository handles database operations for precedents
type PrecedentRepository struct {
	db *pgxpool.Pool
}

// NewPrecedentRepository creates a new precedent repository
func NewPrecedentRepository(db *pgxpool.Pool) *PrecedentRepository {
	return &PrecedentRepository{db: db}
}

const precedentColumns = `id, case_number, court, jurisdiction, decision_date, title, summary,
	ruling, legal_reasoning, keywords, cited_articles, source_url, full_text, embedding,
	relevance, metadata, created_at, updated_at`

// Upsert inserts a precedent or updates the one with the same case number
func (r *PrecedentRepository) Upsert(ctx context.Context, p *models.Precedent) error {
	if p.Relevance == "" {
		p.Relevance = models.RelevanceMedium
	}

	query := `
		INSERT INTO precedents (
			case_number, court, jurisdiction, decision_date, title, summary, ruling,
			legal_reasoning, keywords, cited_articles, source_url, full_text, relevance, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (case_number) DO UPDATE SET
			court = EXCLUDED.court,
			jurisdiction = EXCLUDED.jurisdiction,
			decision_date = EXCLUDED.decision_date,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			ruling = EXCLUDED.ruling,
			legal_reasoning = EXCLUDED.legal_reasoning,
			keywords = EXCLUDED.keywords,
			cited_articles = EXCLUDED.cited_articles,
			source_url = EXCLUDED.source_url,
			full_text = EXCLUDED.full_text,
			relevance = EXCLUDED.relevance,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		p.CaseNumber,
		p.Court,
		p.Jurisdiction,
		p.DecisionDate,
		p.Title,
		p.Summary,
		p.Ruling,
		p.LegalReasoning,
		p.Keywords,
		p.CitedArticles,
		p.SourceURL,
		p.FullText,
		p.Relevance,
		p.Metadata,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: upsert precedent %s: %w", p.CaseNumber, err)
	}
	return nil
}

// GetByCaseNumber retrieves a precedent by its unique case number
func (r *PrecedentRepository) GetByCaseNumber(ctx context.Context, caseNumber string) (*models.Precedent, error) {
	query := `SELECT ` + precedentColumns + ` FROM precedents WHERE case_number = $1`

	p, err := scanPrecedent(r.db.QueryRow(ctx, query, caseNumber))
	if err != nil {
		return nil, fmt.Errorf("repository: precedent %s: %w", caseNumber, notFound(err))
	}
	return p, nil
}

// Candidates returns up to limit precedents with an embedding, nearest to query first
func (r *PrecedentRepository) Candidates(ctx context.Context, query []float32, limit int) ([]models.Precedent, error) {
	if len(query) == 0 {
		return r.list(ctx, `SELECT `+precedentColumns+`
			FROM precedents
			WHERE embedding IS NOT NULL
			ORDER BY created_at DESC
			LIMIT $1`, limit)
	}
	if len(query) != EmbeddingDimensions {
		return nil, fmt.Errorf("repository: embedding must be %d dimensions, got %d", EmbeddingDimensions, len(query))
	}

	return r.list(ctx, `SELECT `+precedentColumns+`
		FROM precedents
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(query), limit)
}

// SearchByKeywords returns precedents whose title, summary or keywords contain any keyword
func (r *PrecedentRepository) SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]models.Precedent, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	patterns := make([]string, 0, len(keywords))
	for _, k := range keywords {
		patterns = append(patterns, "%"+escapeLike(k)+"%")
	}

	return r.list(ctx, `SELECT `+precedentColumns+`
		FROM precedents
		WHERE title ILIKE ANY($1)
			OR summary ILIKE ANY($1)
			OR EXISTS (SELECT 1 FROM unnest(keywords) AS k WHERE k ILIKE ANY($1))
		ORDER BY decision_date DESC NULLS LAST
		LIMIT $2`, patterns, limit)
}

// ListMissingEmbeddings returns precedents that have not been embedded yet
func (r *PrecedentRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]models.Precedent, error) {
	return r.list(ctx, `SELECT `+precedentColumns+`
		FROM precedents
		WHERE embedding IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
}

// UpdateEmbedding stores the embedding for a precedent
func (r *PrecedentRepository) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	if len(embedding) != EmbeddingDimensions {
		return fmt.Errorf("repository: embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE precedents SET
			embedding = $2,
			updated_at = NOW()
		WHERE id = $1`, id, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("repository: update precedent embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository: precedent %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PrecedentRepository) list(ctx context.Context, query string, args ...any) ([]models.Precedent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query precedents: %w", err)
	}
	defer rows.Close()

	var precedents []models.Precedent
	for rows.Next() {
		p, err := scanPrecedent(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan precedent: %w", err)
		}
		precedents = append(precedents, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate precedents: %w", err)
	}
	return precedents, nil
}

func scanPrecedent(row pgx.Row) (*models.Precedent, error) {
	p := &models.Precedent{}
	err := row.Scan(
		&p.ID,
		&p.CaseNumber,
		&p.Court,
		&p.Jurisdiction,
		&p.DecisionDate,
		&p.Title,
		&p.Summary,
		&p.Ruling,
		&p.LegalReasoning,
		&p.Keywords,
		&p.CitedArticles,
		&p.SourceURL,
		&p.FullText,
		&p.Embedding,
		&p.Relevance,
		&p.Metadata,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// escapeLike escapes LIKE wildcards in user-derived keywords
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
