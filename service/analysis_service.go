package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"legalia-backend/agents"
	"legalia-backend/logging"
	"legalia-backend/models"
	"legalia-backend/orchestrator"
	"legalia-backend/repository"
	"legalia-backend/storage"

	"github.com/google/uuid"
)

// CancelReason is stored on runs cancelled through Cancel.
const CancelReason = "cancelled by user"

var (
	ErrCaseNotFound     = errors.New("case not found")
	ErrAnalysisNotFound = errors.New("analysis not found")
	ErrEvidenceNotFound = errors.New("evidence not found")
	ErrNotConfigured    = errors.New("service dependency not configured")
)

// StateError rejects an operation because of the current state of a case,
// run or evidence item. Current is echoed back to the caller.
type StateError struct {
	Op      string
	Current string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: current status is %s", e.Op, e.Current)
}

// Runner executes the pipeline for a pending run.
type Runner interface {
	Run(ctx context.Context, runID uuid.UUID) error
}

// AnalysisService handles analysis lifecycle operations
type AnalysisService struct {
	cases    repository.CaseStore
	evidence repository.EvidenceStore
	analyses repository.AnalysisStore
	files    storage.Storage
	runner   Runner
	visual   agents.Agent
	logger   *slog.Logger
	now      func() time.Time

	locks keyedMutex
}

// AnalysisServiceOption is a functional option for AnalysisService
type AnalysisServiceOption func(*AnalysisService)

// WithCaseStore sets the case store
func WithCaseStore(store repository.CaseStore) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.cases = store
	}
}

// WithEvidenceStore sets the evidence store
func WithEvidenceStore(store repository.EvidenceStore) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.evidence = store
	}
}

// WithAnalysisStore sets the analysis store
func WithAnalysisStore(store repository.AnalysisStore) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.analyses = store
	}
}

// WithStorage sets the evidence file storage
func WithStorage(files storage.Storage) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.files = files
	}
}

// WithRunner sets the pipeline runner
func WithRunner(runner Runner) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.runner = runner
	}
}

// WithVisualAgent sets the agent used for single evidence analysis
func WithVisualAgent(agent agents.Agent) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.visual = agent
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.logger = logger
	}
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(opts ...AnalysisServiceOption) *AnalysisService {
	s := &AnalysisService{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New("service")
	}
	return s
}

// AnalyzeRequest represents a request to start a fresh analysis of a case.
// OwnerID, when set, must match the case owner.
type AnalyzeRequest struct {
	CaseID  uuid.UUID
	OwnerID *uuid.UUID
}

// AnalyzeResult represents a newly created run and its case
type AnalyzeResult struct {
	Case     *models.Case
	Analysis *models.AnalysisRun
}

// Analyze creates a new pending run for a draft or analyzed case and moves
// the case to analyzing. The pipeline is started separately with Process.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.CaseID)
	defer unlock()

	kase, err := s.loadCase(ctx, req.CaseID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if !kase.CanBeAnalyzed() {
		return nil, &StateError{Op: "analyze case", Current: string(kase.Status)}
	}

	return s.createRun(ctx, kase, nil)
}

// Reanalyze creates a run linked to the case's latest run, numbered one past
// it. The pipeline is not started.
func (s *AnalysisService) Reanalyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.CaseID)
	defer unlock()

	kase, err := s.loadCase(ctx, req.CaseID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	var previous *uuid.UUID
	latest, err := s.analyses.Latest(ctx, kase.ID, nil)
	switch {
	case err == nil:
		previous = &latest.ID
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, fmt.Errorf("load latest analysis: %w", err)
	}

	return s.createRun(ctx, kase, previous)
}

func (s *AnalysisService) createRun(ctx context.Context, kase *models.Case, previous *uuid.UUID) (*AnalyzeResult, error) {
	run, err := s.analyses.CreateVersion(ctx, kase.ID, previous)
	if err != nil {
		return nil, fmt.Errorf("create analysis: %w", err)
	}
	if err := s.cases.UpdateStatus(ctx, kase.ID, models.CaseStatusAnalyzing); err != nil {
		return nil, fmt.Errorf("update case status: %w", err)
	}
	kase.Status = models.CaseStatusAnalyzing

	s.logger.Info("analysis created",
		"analysis_id", run.ID,
		"case_id", kase.ID,
		"version", run.Version,
		"reanalysis", previous != nil,
	)
	return &AnalyzeResult{Case: kase, Analysis: run}, nil
}

// Process runs the pipeline for a pending run.
func (s *AnalysisService) Process(ctx context.Context, analysisID uuid.UUID) error {
	if s.runner == nil {
		return fmt.Errorf("%w: runner", ErrNotConfigured)
	}
	return s.runner.Run(ctx, analysisID)
}

// AnalysisRequest identifies one run. OwnerID, when set, must match the
// owner of the run's case.
type AnalysisRequest struct {
	AnalysisID uuid.UUID
	OwnerID    *uuid.UUID
}

// Get returns a run
func (s *AnalysisService) Get(ctx context.Context, req AnalysisRequest) (*models.AnalysisRun, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.loadRun(ctx, req.AnalysisID, req.OwnerID)
}

// Cancel fails a processing run with CancelReason and sends its case back
// to draft. Runs in any other status are rejected.
func (s *AnalysisService) Cancel(ctx context.Context, req AnalysisRequest) (*models.AnalysisRun, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	run, err := s.loadRun(ctx, req.AnalysisID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.AnalysisProcessing {
		return nil, &StateError{Op: "cancel analysis", Current: string(run.Status)}
	}

	if err := s.analyses.Fail(ctx, run.ID, CancelReason); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			current, gerr := s.analyses.GetByID(ctx, run.ID)
			if gerr != nil {
				return nil, fmt.Errorf("reload analysis: %w", gerr)
			}
			return nil, &StateError{Op: "cancel analysis", Current: string(current.Status)}
		}
		return nil, fmt.Errorf("cancel analysis: %w", err)
	}

	entry := models.LogEntry{
		Timestamp: s.now().UTC(),
		Agent:     orchestrator.LogAgent,
		Event:     orchestrator.EventAnalysisCancelled,
		Data:      map[string]any{"reason": CancelReason},
	}
	if err := s.analyses.AppendLog(ctx, run.ID, entry); err != nil {
		s.logger.Warn("failed to append cancel log entry", "analysis_id", run.ID, "error", err)
	}
	if err := s.cases.UpdateStatus(ctx, run.CaseID, models.CaseStatusDraft); err != nil {
		return nil, fmt.Errorf("update case status: %w", err)
	}

	s.logger.Info("analysis cancelled", "analysis_id", run.ID, "case_id", run.CaseID)
	return s.analyses.GetByID(ctx, run.ID)
}

// ListRequest narrows the runs of a case
type ListRequest struct {
	CaseID  uuid.UUID
	OwnerID *uuid.UUID
	Version *int
	Status  *models.AnalysisStatus
}

// List returns a case's runs, newest version first
func (s *AnalysisService) List(ctx context.Context, req ListRequest) ([]models.AnalysisRun, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.loadCase(ctx, req.CaseID, req.OwnerID); err != nil {
		return nil, err
	}
	runs, err := s.analyses.ListByCase(ctx, req.CaseID, repository.AnalysisFilter{Version: req.Version, Status: req.Status})
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return runs, nil
}

// Latest returns the newest completed run of a case
func (s *AnalysisService) Latest(ctx context.Context, caseID uuid.UUID, ownerID *uuid.UUID) (*models.AnalysisRun, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.loadCase(ctx, caseID, ownerID); err != nil {
		return nil, err
	}
	completed := models.AnalysisCompleted
	run, err := s.analyses.Latest(ctx, caseID, &completed)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("load latest analysis: %w", err)
	}
	return run, nil
}

// Stats summarises the runs of a case
type Stats struct {
	Total    int                           `json:"total"`
	ByStatus map[models.AnalysisStatus]int `json:"by_status"`
}

// Stats counts a case's runs by status
func (s *AnalysisService) Stats(ctx context.Context, caseID uuid.UUID, ownerID *uuid.UUID) (*Stats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.loadCase(ctx, caseID, ownerID); err != nil {
		return nil, err
	}
	counts, err := s.analyses.CountByStatus(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("count analyses: %w", err)
	}

	stats := &Stats{ByStatus: make(map[models.AnalysisStatus]int)}
	for _, status := range []models.AnalysisStatus{
		models.AnalysisPending, models.AnalysisProcessing, models.AnalysisCompleted, models.AnalysisFailed,
	} {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}

// ExecutionStats aggregates a run's execution log per agent
func (s *AnalysisService) ExecutionStats(ctx context.Context, req AnalysisRequest) (map[string]orchestrator.AgentStats, error) {
	run, err := s.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	return orchestrator.ExecutionStats(run.ExecutionLog), nil
}

func (s *AnalysisService) ready() error {
	if s.cases == nil || s.evidence == nil || s.analyses == nil {
		return fmt.Errorf("%w: stores", ErrNotConfigured)
	}
	return nil
}

// loadCase returns the case, hiding cases owned by someone else.
func (s *AnalysisService) loadCase(ctx context.Context, caseID uuid.UUID, ownerID *uuid.UUID) (*models.Case, error) {
	kase, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("load case: %w", err)
	}
	if ownerID != nil && kase.OwnerID != *ownerID {
		return nil, ErrCaseNotFound
	}
	return kase, nil
}

func (s *AnalysisService) loadRun(ctx context.Context, analysisID uuid.UUID, ownerID *uuid.UUID) (*models.AnalysisRun, error) {
	run, err := s.analyses.GetByID(ctx, analysisID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("load analysis: %w", err)
	}
	if ownerID != nil {
		if _, err := s.loadCase(ctx, run.CaseID, ownerID); err != nil {
			if errors.Is(err, ErrCaseNotFound) {
				return nil, ErrAnalysisNotFound
			}
			return nil, err
		}
	}
	return run, nil
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key uuid.UUID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uuid.UUID]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
