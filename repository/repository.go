// Package repository provides the Postgres storage layer for cases, evidence,
// precedents and analysis runs, plus the store interfaces the pipeline
// depends on.
package repository

import (
	"context"
	"errors"
	"time"

	"legalia-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a guarded status update matches no row.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyAnalyzed is returned when evidence was already marked analyzed.
	ErrAlreadyAnalyzed = errors.New("evidence already analyzed")
)

// CaseStore is the case collaborator of the analysis pipeline.
type CaseStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Case, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.CaseStatus) error
}

// EvidenceStore is the evidence collaborator of the analysis pipeline.
type EvidenceStore interface {
	Create(ctx context.Context, evidence *models.Evidence) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Evidence, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]models.Evidence, error)
	ListVisualByCase(ctx context.Context, caseID uuid.UUID) ([]models.Evidence, error)
	MarkAnalyzed(ctx context.Context, id uuid.UUID, result models.JSONMap) error
}

// PrecedentStore serves candidate precedents to retrieval.
type PrecedentStore interface {
	// Candidates returns up to limit precedents that carry an embedding,
	// nearest to query first when the backend can rank them.
	Candidates(ctx context.Context, query []float32, limit int) ([]models.Precedent, error)
	// SearchByKeywords returns precedents whose title, summary or keyword list
	// contains any of the keywords.
	SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]models.Precedent, error)
}

// AnalysisFilter narrows ListByCase.
type AnalysisFilter struct {
	Version *int
	Status  *models.AnalysisStatus
}

// AnalysisStore persists analysis runs. Every write that carries agent output
// is guarded on the run still being processing.
type AnalysisStore interface {
	// CreateVersion inserts a pending run with version max(existing)+1.
	CreateVersion(ctx context.Context, caseID uuid.UUID, previousID *uuid.UUID) (*models.AnalysisRun, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error)
	ListByCase(ctx context.Context, caseID uuid.UUID, filter AnalysisFilter) ([]models.AnalysisRun, error)
	// Latest returns the highest version, optionally restricted to a status.
	Latest(ctx context.Context, caseID uuid.UUID, status *models.AnalysisStatus) (*models.AnalysisRun, error)
	CountByStatus(ctx context.Context, caseID uuid.UUID) (map[models.AnalysisStatus]int, error)
	Start(ctx context.Context, id uuid.UUID, at time.Time) error
	SaveAgentResult(ctx context.Context, id uuid.UUID, agent string, report any) error
	Complete(ctx context.Context, id uuid.UUID, c models.Consolidation) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	AppendLog(ctx context.Context, id uuid.UUID, entry models.LogEntry) error
}

// resultColumns maps agent names to their result column.
var resultColumns = map[string]string{
	models.AgentCoordinator: "coordinator_result",
	models.AgentPrecedent:   "precedent_result",
	models.AgentVisual:      "visual_result",
	models.AgentArguments:   "arguments_result",
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
