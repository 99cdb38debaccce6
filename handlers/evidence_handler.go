package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"legalia-backend/logging"
	"legalia-backend/service"

	"github.com/gin-gonic/gin"
)

// DefaultMaxEvidenceSize caps a single uploaded evidence file.
const DefaultMaxEvidenceSize = 50 * 1024 * 1024

// EvidenceHandler handles HTTP requests for case evidence
type EvidenceHandler struct {
	service     *service.AnalysisService
	maxFileSize int64
	logger      *slog.Logger
}

// NewEvidenceHandler creates a new evidence handler. A non-positive
// maxFileSize selects DefaultMaxEvidenceSize.
func NewEvidenceHandler(svc *service.AnalysisService, maxFileSize int64) *EvidenceHandler {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxEvidenceSize
	}
	return &EvidenceHandler{
		service:     svc,
		maxFileSize: maxFileSize,
		logger:      logging.New("handlers"),
	}
}

// UploadEvidence handles POST /api/cases/:id/evidence
func (h *EvidenceHandler) UploadEvidence(c *gin.Context) {
	caseID, ok := pathID(c, "INVALID_CASE_ID", "Invalid case ID format")
	if !ok {
		return
	}
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "File is required")
		return
	}
	if fileHeader.Size > h.maxFileSize {
		respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_READ_ERROR", err.Error())
		return
	}
	if int64(len(data)) > h.maxFileSize {
		respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
		return
	}

	evidence, err := h.service.UploadEvidence(c.Request.Context(), service.UploadEvidenceRequest{
		CaseID:      caseID,
		OwnerID:     owner,
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    evidence,
	})
}

// ListEvidence handles GET /api/cases/:id/evidence
func (h *EvidenceHandler) ListEvidence(c *gin.Context) {
	caseID, ok := pathID(c, "INVALID_CASE_ID", "Invalid case ID format")
	if !ok {
		return
	}
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	items, err := h.service.ListEvidence(c.Request.Context(), caseID, owner)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
	})
}

// AnalyzeEvidence handles POST /api/evidence/:id/analyze. Analysis runs
// inline since a single item is bounded by the vision timeout.
func (h *EvidenceHandler) AnalyzeEvidence(c *gin.Context) {
	evidenceID, ok := pathID(c, "INVALID_EVIDENCE_ID", "Invalid evidence ID format")
	if !ok {
		return
	}
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	result, err := h.service.AnalyzeEvidence(c.Request.Context(), service.AnalyzeEvidenceRequest{
		EvidenceID: evidenceID,
		OwnerID:    owner,
	})
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"evidence": result.Evidence,
			"analysis": result.Analysis,
		},
	})
}

// RegisterRoutes mounts the analysis and evidence endpoints on an /api group
func RegisterRoutes(api *gin.RouterGroup, analyses *AnalysisHandler, evidence *EvidenceHandler) {
	cases := api.Group("/cases/:id")
	{
		cases.POST("/analyze", analyses.Analyze)
		cases.POST("/reanalyze", analyses.Reanalyze)
		cases.GET("/analyses", analyses.ListAnalyses)
		cases.GET("/analyses/latest", analyses.LatestAnalysis)
		cases.GET("/analyses/stats", analyses.AnalysisStats)
		cases.POST("/evidence", evidence.UploadEvidence)
		cases.GET("/evidence", evidence.ListEvidence)
	}

	api.GET("/analyses/:id", analyses.GetAnalysis)
	api.POST("/analyses/:id/run", analyses.RunAnalysis)
	api.POST("/analyses/:id/cancel", analyses.CancelAnalysis)
	api.GET("/analyses/:id/execution-stats", analyses.ExecutionStats)

	api.POST("/evidence/:id/analyze", evidence.AnalyzeEvidence)
}
