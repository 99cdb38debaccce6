package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AnalysisStatus represents the status of an analysis run
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// Terminal reports whether no further transition is possible
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

// CanTransition reports whether a run may move from one status to another.
// A run never skips processing and never leaves a terminal state.
func CanTransition(from, to AnalysisStatus) bool {
	switch from {
	case AnalysisPending:
		return to == AnalysisProcessing
	case AnalysisProcessing:
		return to == AnalysisCompleted || to == AnalysisFailed
	default:
		return false
	}
}

// LogEntry is one immutable record in a run's execution log
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Agent     string                 `json:"agent"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ExecutionLog represents the ordered execution log of a run
type ExecutionLog []LogEntry

// Value implements driver.Valuer for JSONB
func (l ExecutionLog) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB
func (l *ExecutionLog) Scan(value interface{}) error {
	if value == nil {
		*l = make(ExecutionLog, 0)
		return nil
	}

	// Handle different types that pgx might return for JSONB
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*l = make(ExecutionLog, 0)
		return nil
	}

	if len(bytes) == 0 {
		*l = make(ExecutionLog, 0)
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// AnalysisRun represents one versioned execution of the agent pipeline
type AnalysisRun struct {
	ID                   uuid.UUID          `json:"id"`
	CaseID               uuid.UUID          `json:"case_id"`
	Status               AnalysisStatus     `json:"status"`
	CoordinatorResult    *CoordinatorReport `json:"coordinator_result,omitempty"`
	PrecedentResult      *PrecedentReport   `json:"precedent_result,omitempty"`
	VisualResult         *VisualReport      `json:"visual_result,omitempty"`
	ArgumentsResult      *ArgumentsReport   `json:"arguments_result,omitempty"`
	LegalElements        []string           `json:"legal_elements"`
	RelevantPrecedents   []PrecedentMatch   `json:"relevant_precedents"`
	DefenseLines         []DefenseLine      `json:"defense_lines"`
	AlternativeScenarios []Scenario         `json:"alternative_scenarios"`
	ConfidenceScores     *ConfidenceScores  `json:"confidence_scores,omitempty"`
	ExecutiveSummary     *string            `json:"executive_summary,omitempty"`
	ProcessingTime       *float64           `json:"processing_time,omitempty"` // seconds
	ExecutionLog         ExecutionLog       `json:"execution_log"`
	Version              int                `json:"version"`
	PreviousAnalysisID   *uuid.UUID         `json:"previous_analysis_id,omitempty"`
	ErrorMessage         *string            `json:"error_message,omitempty"`
	StartedAt            *time.Time         `json:"started_at,omitempty"`
	CompletedAt          *time.Time         `json:"completed_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Consolidation holds the fields written when a run completes
type Consolidation struct {
	LegalElements        []string
	RelevantPrecedents   []PrecedentMatch
	DefenseLines         []DefenseLine
	AlternativeScenarios []Scenario
	ConfidenceScores     ConfidenceScores
	ExecutiveSummary     string
	ProcessingTime       float64
	CompletedAt          time.Time
}
