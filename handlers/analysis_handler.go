package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"legalia-backend/logging"
	"legalia-backend/models"
	"legalia-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OwnerHeader optionally scopes a request to one case owner.
const OwnerHeader = "X-Owner-ID"

// Dispatcher starts background work after a request has been answered.
type Dispatcher func(fn func())

// AnalysisHandler handles HTTP requests for analysis runs
type AnalysisHandler struct {
	service  *service.AnalysisService
	dispatch Dispatcher
	logger   *slog.Logger
}

// HandlerOption configures an AnalysisHandler
type HandlerOption func(*AnalysisHandler)

// WithDispatcher replaces the goroutine used for background processing
func WithDispatcher(d Dispatcher) HandlerOption {
	return func(h *AnalysisHandler) {
		h.dispatch = d
	}
}

// WithHandlerLogger sets the handler's logger
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *AnalysisHandler) {
		h.logger = logger
	}
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(svc *service.AnalysisService, opts ...HandlerOption) *AnalysisHandler {
	h := &AnalysisHandler{
		service:  svc,
		dispatch: func(fn func()) { go fn() },
		logger:   logging.New("handlers"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Analyze handles POST /api/cases/:id/analyze
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	caseID, ok := pathID(c, "INVALID_CASE_ID", "Invalid case ID format")
	if !ok {
		return
	}
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	result, err := h.service.Analyze(c.Request.Context(), service.AnalyzeRequest{CaseID: caseID, OwnerID: owner})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	runID := result.Analysis.ID
	h.dispatch(func() {
		bgCtx := context.Background()
		if err := h.service.Process(bgCtx, runID); err != nil {
			h.logger.Error("analysis processing failed", "analysis_id", runID, "error", err)
		}
	})

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"analysis_id": runID,
			"case_id":     caseID,
			"version":     result.Analysis.Version,
			"status":      result.Analysis.Status,
		},
	})
}

// Reanalyze handles POST /api/cases/:id/reanalyze. The new run stays
// pending until it is started through Run.
func (h *AnalysisHandler) Reanalyze(c *gin.Context) {
	caseID, ok := pathID(c, "INVALID_CASE_ID", "Invalid case ID format")
	if !ok {
		return
	}
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	result, err := h.service.Reanalyze(c.Request.Context(), service.AnalyzeRequest{CaseID: caseID, OwnerID: owner})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"analysis_id":          result.Analysis.ID,
			"case_id":              caseID,
			"version":              result.Analysis.Version,
			"status":               result.Analysis.Status,
			"previous_analysis_id": result.Analysis.PreviousAnalysisID,
		},
	})
}

// ListAnalyses handles GET /api/cases/:id/analyses
func (h *AnalysisHandler) ListAnalyses(c *gin.Context) {
	caseID, ok := pathID(c, "INVALID_CASE_ID", "Invalid case ID format")
	if !ok {
		return
	}
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	req := service.ListRequest{CaseID: caseID, OwnerID: owner}
	if v := c.Query("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil || version < 1 {
			respondError(c, http.StatusBadRequest, "INVALID_VERSION", "version must be a positive integer")
			return
		}
		req.Version = &version
	}
	if s := c.Query("status"); s != "" {
		status := models.AnalysisStatus(s)
		switch status {
		case models.AnalysisPending, models.AnalysisProcessing, models.AnalysisCompleted, models.AnalysisFailed:
		default:
			respondError(c, http.StatusBadRequest, "INVALID_STATUS", "status must be one of pending, processing, completed, failed")
			return
		}
		req.Status = &status
	}

	runs, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if runs == nil {
		runs = []models.AnalysisRun{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    runs,
	})
}

// LatestAnalysis handles GET /api/cases/:id/analyses/latest
func (h *AnalysisHandler) LatestAnalysis(c *gin.Context) {
	caseID, ok := pathID(c, "INVALID_CASE_ID", "Invalid case ID format")
	if !ok {
		return
	}
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	run, err := h.service.Latest(c.Request.Context(), caseID, owner)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    run,
	})
}

// AnalysisStats handles GET /api/cases/:id/analyses/stats
func (h *AnalysisHandler) AnalysisStats(c *gin.Context) {
	caseID, ok := pathID(c, "INVALID_CASE_ID", "Invalid case ID format")
	if !ok {
		return
	}
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), caseID, owner)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total":     stats.Total,
			"by_status": stats.ByStatus,
		},
	})
}

// GetAnalysis handles GET /api/analyses/:id
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	req, ok := analysisRequest(c)
	if !ok {
		return
	}

	run, err := h.service.Get(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    run,
	})
}

// RunAnalysis handles POST /api/analyses/:id/run. The pipeline runs in the
// background; only the pending check happens before the response.
func (h *AnalysisHandler) RunAnalysis(c *gin.Context) {
	req, ok := analysisRequest(c)
	if !ok {
		return
	}

	run, err := h.service.Get(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if run.Status != models.AnalysisPending {
		respondStateError(c, &service.StateError{Op: "run analysis", Current: string(run.Status)})
		return
	}

	h.dispatch(func() {
		bgCtx := context.Background()
		if err := h.service.Process(bgCtx, run.ID); err != nil {
			h.logger.Error("analysis processing failed", "analysis_id", run.ID, "error", err)
		}
	})

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"analysis_id": run.ID,
			"status":      run.Status,
		},
	})
}

// CancelAnalysis handles POST /api/analyses/:id/cancel
func (h *AnalysisHandler) CancelAnalysis(c *gin.Context) {
	req, ok := analysisRequest(c)
	if !ok {
		return
	}

	run, err := h.service.Cancel(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    run,
	})
}

// ExecutionStats handles GET /api/analyses/:id/execution-stats
func (h *AnalysisHandler) ExecutionStats(c *gin.Context) {
	req, ok := analysisRequest(c)
	if !ok {
		return
	}

	stats, err := h.service.ExecutionStats(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

func analysisRequest(c *gin.Context) (service.AnalysisRequest, bool) {
	id, ok := pathID(c, "INVALID_ANALYSIS_ID", "Invalid analysis ID format")
	if !ok {
		return service.AnalysisRequest{}, false
	}
	owner, ok := ownerID(c)
	if !ok {
		return service.AnalysisRequest{}, false
	}
	return service.AnalysisRequest{AnalysisID: id, OwnerID: owner}, true
}

func pathID(c *gin.Context, code, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, code, message)
		return uuid.Nil, false
	}
	return id, true
}

func ownerID(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.GetHeader(OwnerHeader)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_OWNER_ID", "Invalid owner ID format")
		return nil, false
	}
	return &id, true
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func respondStateError(c *gin.Context, err *service.StateError) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"success": false,
		"error": gin.H{
			"code":           "INVALID_STATE",
			"message":        err.Error(),
			"current_status": err.Current,
		},
	})
}

func (h *AnalysisHandler) respondServiceError(c *gin.Context, err error) {
	respondServiceError(c, h.logger, err)
}

func respondServiceError(c *gin.Context, logger *slog.Logger, err error) {
	var stateErr *service.StateError
	switch {
	case errors.As(err, &stateErr):
		respondStateError(c, stateErr)
	case errors.Is(err, service.ErrCaseNotFound):
		respondError(c, http.StatusNotFound, "CASE_NOT_FOUND", "Case not found")
	case errors.Is(err, service.ErrAnalysisNotFound):
		respondError(c, http.StatusNotFound, "ANALYSIS_NOT_FOUND", "Analysis not found")
	case errors.Is(err, service.ErrEvidenceNotFound):
		respondError(c, http.StatusNotFound, "EVIDENCE_NOT_FOUND", "Evidence not found")
	case errors.Is(err, service.ErrNotConfigured):
		logger.Error("service not configured", "path", c.FullPath(), "error", err)
		respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service is not configured")
	default:
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
