package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"legalia-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	versionRetries   = 3
	versionBaseDelay = 20 * time.Millisecond
)

// AnalysisRepository handles database operations for analysis runs
type AnalysisRepository struct {
	db *pgxpool.Pool
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *pgxpool.Pool) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const analysisColumns = `id, case_id, status, coordinator_result, precedent_result, visual_result,
	arguments_result, legal_elements, relevant_precedents, defense_lines, alternative_scenarios,
	confidence_scores, executive_summary, processing_time, execution_log, version,
	previous_analysis_id, error_message, started_at, completed_at, created_at, updated_at`

// CreateVersion inserts a pending run numbered one past the case's highest version.
// A concurrent insert for the same case trips UNIQUE(case_id, version) and is retried.
func (r *AnalysisRepository) CreateVersion(ctx context.Context, caseID uuid.UUID, previousID *uuid.UUID) (*models.AnalysisRun, error) {
	query := `
		INSERT INTO case_analyses (case_id, status, version, previous_analysis_id, execution_log)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, '[]'::jsonb
		FROM case_analyses
		WHERE case_id = $1
		RETURNING id, version, created_at, updated_at`

	run := &models.AnalysisRun{
		CaseID:             caseID,
		Status:             models.AnalysisPending,
		PreviousAnalysisID: previousID,
		ExecutionLog:       make(models.ExecutionLog, 0),
	}

	err := WithRetry(ctx, versionRetries, versionBaseDelay, func() error {
		return r.db.QueryRow(ctx, query, caseID, models.AnalysisPending, previousID).
			Scan(&run.ID, &run.Version, &run.CreatedAt, &run.UpdatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("repository: create analysis version: %w", err)
	}
	return run, nil
}

// GetByID retrieves an analysis run by ID
func (r *AnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error) {
	query := `SELECT ` + analysisColumns + ` FROM case_analyses WHERE id = $1`

	run, err := scanAnalysis(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("repository: analysis %s: %w", id, notFound(err))
	}
	return run, nil
}

// ListByCase retrieves the runs of a case, newest version first
func (r *AnalysisRepository) ListByCase(ctx context.Context, caseID uuid.UUID, filter AnalysisFilter) ([]models.AnalysisRun, error) {
	conds := []string{"case_id = $1"}
	args := []any{caseID}
	if filter.Version != nil {
		args = append(args, *filter.Version)
		conds = append(conds, fmt.Sprintf("version = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + analysisColumns + `
		FROM case_analyses
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY version DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query analyses: %w", err)
	}
	defer rows.Close()

	var runs []models.AnalysisRun
	for rows.Next() {
		run, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan analysis: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate analyses: %w", err)
	}
	return runs, nil
}

// Latest returns the highest version for a case, optionally with the given status
func (r *AnalysisRepository) Latest(ctx context.Context, caseID uuid.UUID, status *models.AnalysisStatus) (*models.AnalysisRun, error) {
	query := `SELECT ` + analysisColumns + `
		FROM case_analyses
		WHERE case_id = $1 AND ($2::text IS NULL OR status = $2::text)
		ORDER BY version DESC
		LIMIT 1`

	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	run, err := scanAnalysis(r.db.QueryRow(ctx, query, caseID, statusArg))
	if err != nil {
		return nil, fmt.Errorf("repository: latest analysis for case %s: %w", caseID, notFound(err))
	}
	return run, nil
}

// CountByStatus counts the runs of a case per status
func (r *AnalysisRepository) CountByStatus(ctx context.Context, caseID uuid.UUID) (map[models.AnalysisStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM case_analyses
		WHERE case_id = $1
		GROUP BY status`, caseID)
	if err != nil {
		return nil, fmt.Errorf("repository: count analyses: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AnalysisStatus]int)
	for rows.Next() {
		var status models.AnalysisStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("repository: scan analysis count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Start moves a pending run to processing
func (r *AnalysisRepository) Start(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE case_analyses SET
			status = $2,
			started_at = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = $4`

	tag, err := r.db.Exec(ctx, query, id, models.AnalysisProcessing, at, models.AnalysisPending)
	if err != nil {
		return fmt.Errorf("repository: start analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

// SaveAgentResult stores one agent's report while the run is still processing
func (r *AnalysisRepository) SaveAgentResult(ctx context.Context, id uuid.UUID, agent string, report any) error {
	column, ok := resultColumns[agent]
	if !ok {
		return fmt.Errorf("repository: unknown agent %q", agent)
	}

	query := fmt.Sprintf(`
		UPDATE case_analyses SET
			%s = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = $3`, column)

	tag, err := r.db.Exec(ctx, query, id, report, models.AnalysisProcessing)
	if err != nil {
		return fmt.Errorf("repository: save %s result: %w", agent, err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

// Complete writes the consolidated fields and moves a processing run to completed
func (r *AnalysisRepository) Complete(ctx context.Context, id uuid.UUID, c models.Consolidation) error {
	query := `
		UPDATE case_analyses SET
			status = $2,
			legal_elements = $3,
			relevant_precedents = $4,
			defense_lines = $5,
			alternative_scenarios = $6,
			confidence_scores = $7,
			executive_summary = $8,
			processing_time = $9,
			completed_at = $10,
			updated_at = $10
		WHERE id = $1 AND status = $11`

	tag, err := r.db.Exec(ctx, query,
		id,
		models.AnalysisCompleted,
		c.LegalElements,
		c.RelevantPrecedents,
		c.DefenseLines,
		c.AlternativeScenarios,
		c.ConfidenceScores,
		c.ExecutiveSummary,
		c.ProcessingTime,
		c.CompletedAt,
		models.AnalysisProcessing,
	)
	if err != nil {
		return fmt.Errorf("repository: complete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

// Fail moves a processing run to failed with a reason
func (r *AnalysisRepository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE case_analyses SET
			status = $2,
			error_message = $3,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = $4`

	tag, err := r.db.Exec(ctx, query, id, models.AnalysisFailed, reason, models.AnalysisProcessing)
	if err != nil {
		return fmt.Errorf("repository: fail analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

// AppendLog appends one entry to the execution log in a single statement
func (r *AnalysisRepository) AppendLog(ctx context.Context, id uuid.UUID, entry models.LogEntry) error {
	query := `
		UPDATE case_analyses SET
			execution_log = COALESCE(execution_log, '[]'::jsonb) || $2::jsonb,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, models.ExecutionLog{entry})
	if err != nil {
		return fmt.Errorf("repository: append analysis log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository: analysis %s: %w", id, ErrNotFound)
	}
	return nil
}

// transitionError tells a missing run apart from one in the wrong status
func (r *AnalysisRepository) transitionError(ctx context.Context, id uuid.UUID) error {
	var status models.AnalysisStatus
	err := r.db.QueryRow(ctx, `SELECT status FROM case_analyses WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return fmt.Errorf("repository: analysis %s: %w", id, notFound(err))
	}
	return fmt.Errorf("repository: analysis %s is %s: %w", id, status, ErrInvalidTransition)
}

func scanAnalysis(row pgx.Row) (*models.AnalysisRun, error) {
	run := &models.AnalysisRun{}
	err := row.Scan(
		&run.ID,
		&run.CaseID,
		&run.Status,
		&run.CoordinatorResult,
		&run.PrecedentResult,
		&run.VisualResult,
		&run.ArgumentsResult,
		&run.LegalElements,
		&run.RelevantPrecedents,
		&run.DefenseLines,
		&run.AlternativeScenarios,
		&run.ConfidenceScores,
		&run.ExecutiveSummary,
		&run.ProcessingTime,
		&run.ExecutionLog,
		&run.Version,
		&run.PreviousAnalysisID,
		&run.ErrorMessage,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Ensure the log is never nil
	if run.ExecutionLog == nil {
		run.ExecutionLog = make(models.ExecutionLog, 0)
	}
	return run, nil
}
