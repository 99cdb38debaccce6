// Package memstore implements the repository store interfaces in memory.
// It backs tests and the CLI demo and enforces the same guarded transitions
// as the Postgres repositories.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"legalia-backend/models"
	"legalia-backend/repository"

	"github.com/google/uuid"
)

// Store holds cases, evidence, precedents and analysis runs behind one lock.
type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	cases      map[uuid.UUID]models.Case
	evidence   []models.Evidence
	precedents []models.Precedent
	runs       map[uuid.UUID]*models.AnalysisRun
}

// New creates an empty store
func New() *Store {
	return &Store{
		now:   time.Now,
		cases: make(map[uuid.UUID]models.Case),
		runs:  make(map[uuid.UUID]*models.AnalysisRun),
	}
}

// Cases returns the case view of the store
func (s *Store) Cases() *CaseStore { return &CaseStore{s} }

// Evidence returns the evidence view of the store
func (s *Store) Evidence() *EvidenceStore { return &EvidenceStore{s} }

// Precedents returns the precedent view of the store
func (s *Store) Precedents() *PrecedentStore { return &PrecedentStore{s} }

// Analyses returns the analysis run view of the store
func (s *Store) Analyses() *AnalysisStore { return &AnalysisStore{s} }

var (
	_ repository.CaseStore      = (*CaseStore)(nil)
	_ repository.EvidenceStore  = (*EvidenceStore)(nil)
	_ repository.PrecedentStore = (*PrecedentStore)(nil)
	_ repository.AnalysisStore  = (*AnalysisStore)(nil)
)

// CaseStore is the in-memory repository.CaseStore
type CaseStore struct{ s *Store }

// Create adds a case, assigning an ID and draft status when missing
func (c *CaseStore) Create(ctx context.Context, kase *models.Case) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if kase.ID == uuid.Nil {
		kase.ID = uuid.New()
	}
	if kase.Status == "" {
		kase.Status = models.CaseStatusDraft
	}
	kase.CreatedAt = s.now()
	kase.UpdatedAt = kase.CreatedAt
	s.cases[kase.ID] = *kase
	return nil
}

// GetByID returns a case
func (c *CaseStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	kase, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("memstore: case %s: %w", id, repository.ErrNotFound)
	}
	return &kase, nil
}

// UpdateStatus sets a case's lifecycle status
func (c *CaseStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.CaseStatus) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	kase, ok := s.cases[id]
	if !ok {
		return fmt.Errorf("memstore: case %s: %w", id, repository.ErrNotFound)
	}
	kase.Status = status
	kase.UpdatedAt = s.now()
	s.cases[id] = kase
	return nil
}

// EvidenceStore is the in-memory repository.EvidenceStore
type EvidenceStore struct{ s *Store }

// Create adds an evidence item
func (e *EvidenceStore) Create(ctx context.Context, item *models.Evidence) error {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.CreatedAt = s.now()
	s.evidence = append(s.evidence, *item)
	return nil
}

// GetByID returns an evidence item
func (e *EvidenceStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Evidence, error) {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.evidence {
		if item.ID == id {
			return &item, nil
		}
	}
	return nil, fmt.Errorf("memstore: evidence %s: %w", id, repository.ErrNotFound)
}

// ListByCase returns a case's evidence in insertion order
func (e *EvidenceStore) ListByCase(ctx context.Context, caseID uuid.UUID) ([]models.Evidence, error) {
	return e.list(caseID, false), nil
}

// ListVisualByCase returns a case's image and video evidence
func (e *EvidenceStore) ListVisualByCase(ctx context.Context, caseID uuid.UUID) ([]models.Evidence, error) {
	return e.list(caseID, true), nil
}

func (e *EvidenceStore) list(caseID uuid.UUID, visualOnly bool) []models.Evidence {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Evidence
	for _, item := range s.evidence {
		if item.CaseID == caseID && (!visualOnly || item.IsVisual()) {
			out = append(out, item)
		}
	}
	return out
}

// MarkAnalyzed stores an analysis result once per evidence item
func (e *EvidenceStore) MarkAnalyzed(ctx context.Context, id uuid.UUID, result models.JSONMap) error {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.evidence {
		if s.evidence[i].ID != id {
			continue
		}
		if s.evidence[i].IsAnalyzed {
			return fmt.Errorf("memstore: evidence %s: %w", id, repository.ErrAlreadyAnalyzed)
		}
		now := s.now()
		s.evidence[i].IsAnalyzed = true
		s.evidence[i].AnalyzedAt = &now
		s.evidence[i].AnalysisResult = result
		return nil
	}
	return fmt.Errorf("memstore: evidence %s: %w", id, repository.ErrNotFound)
}

// PrecedentStore is the in-memory repository.PrecedentStore
type PrecedentStore struct{ s *Store }

// Upsert adds or replaces a precedent by case number
func (p *PrecedentStore) Upsert(ctx context.Context, prec *models.Precedent) error {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if prec.Relevance == "" {
		prec.Relevance = models.RelevanceMedium
	}
	for i := range s.precedents {
		if s.precedents[i].CaseNumber == prec.CaseNumber {
			prec.ID = s.precedents[i].ID
			s.precedents[i] = *prec
			return nil
		}
	}
	if prec.ID == uuid.Nil {
		prec.ID = uuid.New()
	}
	s.precedents = append(s.precedents, *prec)
	return nil
}

// Candidates returns up to limit precedents that carry an embedding, in insertion order
func (p *PrecedentStore) Candidates(ctx context.Context, query []float32, limit int) ([]models.Precedent, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Precedent
	for _, prec := range s.precedents {
		if len(out) == limit {
			break
		}
		if prec.HasEmbedding() {
			out = append(out, prec)
		}
	}
	return out, nil
}

// SearchByKeywords matches keywords against title, summary and keyword list, case-insensitively
func (p *PrecedentStore) SearchByKeywords(ctx context.Context, keywords []string, limit int) ([]models.Precedent, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Precedent
	for _, prec := range s.precedents {
		if len(out) == limit {
			break
		}
		if matchesAny(prec, keywords) {
			out = append(out, prec)
		}
	}
	return out, nil
}

func matchesAny(p models.Precedent, keywords []string) bool {
	title := strings.ToLower(p.Title)
	summary := strings.ToLower(p.Summary)
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) || strings.Contains(summary, kw) {
			return true
		}
		for _, pk := range p.Keywords {
			if strings.Contains(strings.ToLower(pk), kw) {
				return true
			}
		}
	}
	return false
}

// copyRun deep-copies a run through JSON so callers never share state with the store.
func copyRun(r *models.AnalysisRun) *models.AnalysisRun {
	data, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	var out models.AnalysisRun
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}
