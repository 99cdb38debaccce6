package repository

import (
	"context"
	"fmt"

	"legalia-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EvidenceRepository handles database operations for evidence
type EvidenceRepository struct {
	db *pgxpool.Pool
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *pgxpool.Pool) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

const evidenceColumns = `id, case_id, title, description, kind, storage_path, mime_type, size,
	analysis_result, is_analyzed, analyzed_at, metadata, created_at`

// Create creates a new evidence record
func (r *EvidenceRepository) Create(ctx context.Context, e *models.Evidence) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	query := `
		INSERT INTO evidence (
			id, case_id, title, description, kind, storage_path, mime_type, size, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.db.QueryRow(
		ctx, query,
		e.ID,
		e.CaseID,
		e.Title,
		e.Description,
		e.Kind,
		e.StoragePath,
		e.MimeType,
		e.Size,
		e.Metadata,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: create evidence: %w", err)
	}
	return nil
}

// GetByID retrieves an evidence item by ID
func (r *EvidenceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE id = $1`

	e, err := scanEvidence(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("repository: evidence %s: %w", id, notFound(err))
	}
	return e, nil
}

// ListByCase retrieves all evidence for a case
func (r *EvidenceRepository) ListByCase(ctx context.Context, caseID uuid.UUID) ([]models.Evidence, error) {
	query := `SELECT ` + evidenceColumns + `
		FROM evidence
		WHERE case_id = $1
		ORDER BY created_at`
	return r.list(ctx, query, caseID)
}

// ListVisualByCase retrieves the image and video evidence for a case
func (r *EvidenceRepository) ListVisualByCase(ctx context.Context, caseID uuid.UUID) ([]models.Evidence, error) {
	query := `SELECT ` + evidenceColumns + `
		FROM evidence
		WHERE case_id = $1 AND kind IN ('image', 'video')
		ORDER BY created_at`
	return r.list(ctx, query, caseID)
}

// MarkAnalyzed stores a visual analysis result. An item is marked at most once.
func (r *EvidenceRepository) MarkAnalyzed(ctx context.Context, id uuid.UUID, result models.JSONMap) error {
	query := `
		UPDATE evidence SET
			analysis_result = $2,
			is_analyzed = true,
			analyzed_at = NOW()
		WHERE id = $1 AND is_analyzed = false`

	tag, err := r.db.Exec(ctx, query, id, result)
	if err != nil {
		return fmt.Errorf("repository: mark evidence analyzed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository: evidence %s: %w", id, ErrAlreadyAnalyzed)
	}
	return nil
}

func (r *EvidenceRepository) list(ctx context.Context, query string, args ...any) ([]models.Evidence, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query evidence: %w", err)
	}
	defer rows.Close()

	var items []models.Evidence
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan evidence: %w", err)
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate evidence: %w", err)
	}
	return items, nil
}

func scanEvidence(row pgx.Row) (*models.Evidence, error) {
	e := &models.Evidence{}
	err := row.Scan(
		&e.ID,
		&e.CaseID,
		&e.Title,
		&e.Description,
		&e.Kind,
		&e.StoragePath,
		&e.MimeType,
		&e.Size,
		&e.AnalysisResult,
		&e.IsAnalyzed,
		&e.AnalyzedAt,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
