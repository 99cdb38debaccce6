package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"legalia-backend/models"
	"legalia-backend/repository"

	"github.com/google/uuid"
)

// AnalysisStore is the in-memory repository.AnalysisStore
type AnalysisStore struct{ s *Store }

// CreateVersion inserts a pending run numbered one past the case's highest version
func (a *AnalysisStore) CreateVersion(ctx context.Context, caseID uuid.UUID, previousID *uuid.UUID) (*models.AnalysisRun, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	version := 0
	for _, r := range s.runs {
		if r.CaseID == caseID && r.Version > version {
			version = r.Version
		}
	}

	now := s.now()
	run := &models.AnalysisRun{
		ID:                 uuid.New(),
		CaseID:             caseID,
		Status:             models.AnalysisPending,
		Version:            version + 1,
		PreviousAnalysisID: previousID,
		ExecutionLog:       make(models.ExecutionLog, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.runs[run.ID] = run
	return copyRun(run), nil
}

// GetByID returns a run
func (a *AnalysisStore) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := a.get(id)
	if err != nil {
		return nil, err
	}
	return copyRun(run), nil
}

// ListByCase returns a case's runs, newest version first
func (a *AnalysisStore) ListByCase(ctx context.Context, caseID uuid.UUID, filter repository.AnalysisFilter) ([]models.AnalysisRun, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.AnalysisRun
	for _, r := range s.runs {
		if r.CaseID != caseID {
			continue
		}
		if filter.Version != nil && r.Version != *filter.Version {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		out = append(out, *copyRun(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// Latest returns the highest version, optionally restricted to a status
func (a *AnalysisStore) Latest(ctx context.Context, caseID uuid.UUID, status *models.AnalysisStatus) (*models.AnalysisRun, error) {
	runs, err := a.ListByCase(ctx, caseID, repository.AnalysisFilter{Status: status})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("memstore: latest analysis for case %s: %w", caseID, repository.ErrNotFound)
	}
	return &runs[0], nil
}

// CountByStatus counts a case's runs per status
func (a *AnalysisStore) CountByStatus(ctx context.Context, caseID uuid.UUID) (map[models.AnalysisStatus]int, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.AnalysisStatus]int)
	for _, r := range s.runs {
		if r.CaseID == caseID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

// Start moves a pending run to processing
func (a *AnalysisStore) Start(ctx context.Context, id uuid.UUID, at time.Time) error {
	return a.guarded(id, models.AnalysisPending, func(run *models.AnalysisRun) error {
		run.Status = models.AnalysisProcessing
		run.StartedAt = &at
		return nil
	})
}

// SaveAgentResult stores one agent's report while the run is processing
func (a *AnalysisStore) SaveAgentResult(ctx context.Context, id uuid.UUID, agent string, report any) error {
	return a.guarded(id, models.AnalysisProcessing, func(run *models.AnalysisRun) error {
		var target any
		switch agent {
		case models.AgentCoordinator:
			run.CoordinatorResult = &models.CoordinatorReport{}
			target = run.CoordinatorResult
		case models.AgentPrecedent:
			run.PrecedentResult = &models.PrecedentReport{}
			target = run.PrecedentResult
		case models.AgentVisual:
			run.VisualResult = &models.VisualReport{}
			target = run.VisualResult
		case models.AgentArguments:
			run.ArgumentsResult = &models.ArgumentsReport{}
			target = run.ArgumentsResult
		default:
			return fmt.Errorf("memstore: unknown agent %q", agent)
		}

		data, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("memstore: encode %s result: %w", agent, err)
		}
		return json.Unmarshal(data, target)
	})
}

// Complete writes the consolidated fields and moves a processing run to completed
func (a *AnalysisStore) Complete(ctx context.Context, id uuid.UUID, c models.Consolidation) error {
	return a.guarded(id, models.AnalysisProcessing, func(run *models.AnalysisRun) error {
		scores := c.ConfidenceScores
		summary := c.ExecutiveSummary
		processing := c.ProcessingTime
		completedAt := c.CompletedAt

		run.Status = models.AnalysisCompleted
		run.LegalElements = c.LegalElements
		run.RelevantPrecedents = c.RelevantPrecedents
		run.DefenseLines = c.DefenseLines
		run.AlternativeScenarios = c.AlternativeScenarios
		run.ConfidenceScores = &scores
		run.ExecutiveSummary = &summary
		run.ProcessingTime = &processing
		run.CompletedAt = &completedAt
		return nil
	})
}

// Fail moves a processing run to failed with a reason
func (a *AnalysisStore) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return a.guarded(id, models.AnalysisProcessing, func(run *models.AnalysisRun) error {
		now := a.s.now()
		run.Status = models.AnalysisFailed
		run.ErrorMessage = &reason
		run.CompletedAt = &now
		return nil
	})
}

// AppendLog appends one entry to the run's execution log
func (a *AnalysisStore) AppendLog(ctx context.Context, id uuid.UUID, entry models.LogEntry) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := a.get(id)
	if err != nil {
		return err
	}
	run.ExecutionLog = append(run.ExecutionLog, entry)
	run.UpdatedAt = s.now()
	return nil
}

// guarded applies fn only when the run is in the expected status.
func (a *AnalysisStore) guarded(id uuid.UUID, from models.AnalysisStatus, fn func(*models.AnalysisRun) error) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := a.get(id)
	if err != nil {
		return err
	}
	if run.Status != from {
		return fmt.Errorf("memstore: analysis %s is %s: %w", id, run.Status, repository.ErrInvalidTransition)
	}
	if err := fn(run); err != nil {
		return err
	}
	run.UpdatedAt = s.now()
	return nil
}

func (a *AnalysisStore) get(id uuid.UUID) (*models.AnalysisRun, error) {
	run, ok := a.s.runs[id]
	if !ok {
		return nil, fmt.Errorf("memstore: analysis %s: %w", id, repository.ErrNotFound)
	}
	return run, nil
}
