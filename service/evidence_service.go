package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"legalia-backend/agents"
	"legalia-backend/models"
	"legalia-backend/repository"
	"legalia-backend/storage"

	"github.com/google/uuid"
)

// UploadEvidenceRequest represents a file attached to a case
type UploadEvidenceRequest struct {
	CaseID      uuid.UUID
	OwnerID     *uuid.UUID
	Title       string
	Description string
	Filename    string
	ContentType string
	Data        []byte
}

// UploadEvidence stores the file and records the evidence item. The kind is
// inferred from the content type, or from the file extension when the
// content type is missing or generic.
func (s *AnalysisService) UploadEvidence(ctx context.Context, req UploadEvidenceRequest) (*models.Evidence, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.files == nil {
		return nil, fmt.Errorf("%w: storage", ErrNotConfigured)
	}
	if _, err := s.loadCase(ctx, req.CaseID, req.OwnerID); err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = storage.ContentType(req.Filename)
	}
	title := req.Title
	if title == "" {
		title = req.Filename
	}

	e := &models.Evidence{
		ID:          uuid.New(),
		CaseID:      req.CaseID,
		Title:       title,
		Description: req.Description,
		Kind:        models.KindFromMimeType(contentType),
		MimeType:    contentType,
		Size:        int64(len(req.Data)),
		Metadata:    models.JSONMap{"original_filename": req.Filename},
	}

	path, err := s.files.Upload(ctx, e.ID, req.Filename, bytes.NewReader(req.Data))
	if err != nil {
		return nil, fmt.Errorf("upload evidence file: %w", err)
	}
	e.StoragePath = path

	if err := s.evidence.Create(ctx, e); err != nil {
		if derr := s.files.Delete(ctx, path); derr != nil {
			s.logger.Warn("failed to remove orphaned evidence file", "path", path, "error", derr)
		}
		return nil, fmt.Errorf("create evidence: %w", err)
	}

	s.logger.Info("evidence uploaded", "evidence_id", e.ID, "case_id", e.CaseID, "kind", e.Kind, "size", e.Size)
	return e, nil
}

// ListEvidence returns a case's evidence
func (s *AnalysisService) ListEvidence(ctx context.Context, caseID uuid.UUID, ownerID *uuid.UUID) ([]models.Evidence, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.loadCase(ctx, caseID, ownerID); err != nil {
		return nil, err
	}
	items, err := s.evidence.ListByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	if items == nil {
		items = []models.Evidence{}
	}
	return items, nil
}

// AnalyzeEvidenceRequest identifies one evidence item to analyze
type AnalyzeEvidenceRequest struct {
	EvidenceID uuid.UUID
	OwnerID    *uuid.UUID
}

// AnalyzeEvidenceResult is the outcome of analyzing one item
type AnalyzeEvidenceResult struct {
	Evidence *models.Evidence
	Analysis models.EvidenceAnalysis
}

// AnalyzeEvidence runs visual analysis on a single image or video item.
// Items of other kinds and items already analyzed are rejected.
func (s *AnalysisService) AnalyzeEvidence(ctx context.Context, req AnalyzeEvidenceRequest) (*AnalyzeEvidenceResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.visual == nil {
		return nil, fmt.Errorf("%w: visual agent", ErrNotConfigured)
	}

	e, err := s.evidence.GetByID(ctx, req.EvidenceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEvidenceNotFound
		}
		return nil, fmt.Errorf("load evidence: %w", err)
	}
	kase, err := s.loadCase(ctx, e.CaseID, req.OwnerID)
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return nil, ErrEvidenceNotFound
		}
		return nil, err
	}

	if !e.IsVisual() {
		return nil, &StateError{Op: "analyze evidence", Current: string(e.Kind)}
	}
	if e.IsAnalyzed {
		return nil, &StateError{Op: "analyze evidence", Current: "analyzed"}
	}

	res, err := s.visual.Execute(ctx, agents.Input{Case: kase, Evidence: []models.Evidence{*e}})
	if err != nil {
		return nil, fmt.Errorf("analyze evidence: %w", err)
	}
	report, ok := res.Report.(*models.VisualReport)
	if !ok || len(report.Analysis) == 0 {
		return nil, fmt.Errorf("analyze evidence: no analysis produced")
	}
	entry := report.Analysis[0]

	if entry.Status == models.VisualStatusSuccess {
		result := models.JSONMap{
			"status":          entry.Status,
			"analysis":        entry.Analysis,
			"legal_relevance": string(entry.LegalRelevance),
			"confidence":      entry.Confidence,
		}
		if entry.KeyElements != nil {
			result["key_elements"] = map[string]any{
				"people":        entry.KeyElements.People,
				"vehicles":      entry.KeyElements.Vehicles,
				"traffic_signs": entry.KeyElements.TrafficSigns,
				"damage":        entry.KeyElements.Damage,
			}
		}
		if err := s.evidence.MarkAnalyzed(ctx, e.ID, result); err != nil {
			if errors.Is(err, repository.ErrAlreadyAnalyzed) {
				return nil, &StateError{Op: "analyze evidence", Current: "analyzed"}
			}
			return nil, fmt.Errorf("mark evidence analyzed: %w", err)
		}
		if e, err = s.evidence.GetByID(ctx, e.ID); err != nil {
			return nil, fmt.Errorf("reload evidence: %w", err)
		}
	}

	return &AnalyzeEvidenceResult{Evidence: e, Analysis: entry}, nil
}
