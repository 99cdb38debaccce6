package repository

import (
	"context"
	"fmt"

	"legalia-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CaseRepository handles database operations for cases
type CaseRepository struct {
	db *pgxpool.Pool
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *pgxpool.Pool) *CaseRepository {
	return &CaseRepository{db: db}
}

// Create creates a new case
func (r *CaseRepository) Create(ctx context.Context, c *models.Case) error {
	if c.Status == "" {
		c.Status = models.CaseStatusDraft
	}

	query := `
		INSERT INTO cases (
			owner_id, title, description, category, status,
			parties, incident_date, facts, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		c.OwnerID,
		c.Title,
		c.Description,
		c.Category,
		c.Status,
		c.Parties,
		c.IncidentDate,
		c.Facts,
		c.Metadata,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: create case: %w", err)
	}
	return nil
}

// GetByID retrieves a case by ID
func (r *CaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	c := &models.Case{}
	query := `
		SELECT id, owner_id, title, description, category, status,
			parties, incident_date, facts, metadata, created_at, updated_at
		FROM cases
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.OwnerID,
		&c.Title,
		&c.Description,
		&c.Category,
		&c.Status,
		&c.Parties,
		&c.IncidentDate,
		&c.Facts,
		&c.Metadata,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: case %s: %w", id, notFound(err))
	}

	return c, nil
}

// UpdateStatus updates the lifecycle status of a case
func (r *CaseRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.CaseStatus) error {
	query := `
		UPDATE cases SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("repository: update case status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository: case %s: %w", id, ErrNotFound)
	}
	return nil
}
