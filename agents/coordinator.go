package agents

import (
	"context"
	"fmt"
	"log/slog"

	"legalia-backend/caseformat"
	"legalia-backend/gateway"
	"legalia-backend/models"
)

const defaultCoordinatorConfidence = 0.7

// Coordinator produces the initial assessment of a case.
type Coordinator struct {
	gateway gateway.Gateway
	logger  *slog.Logger
}

// NewCoordinator creates the coordinator agent.
func NewCoordinator(gw gateway.Gateway, opts ...Option) *Coordinator {
	o := buildOptions("agent.coordinator", opts)
	return &Coordinator{gateway: gw, logger: o.logger}
}

func (a *Coordinator) Name() string { return models.AgentCoordinator }

// Execute never fails: model errors produce the fallback assessment.
func (a *Coordinator) Execute(ctx context.Context, in Input) (Result, error) {
	res := Result{Agent: a.Name()}

	out, err := a.gateway.GenerateStructured(ctx, caseformat.CoordinatorPrompt(in.Case, in.Evidence), caseformat.CoordinatorSchema)
	if err == nil && !out.Fallback {
		report, derr := decodeCoordinator(out)
		if derr == nil {
			res.Outcome = OutcomeGenerated
			res.Report = report
			return res, nil
		}
		err = derr
	}

	if err != nil {
		a.logger.Warn("coordinator assessment failed, using fallback", "case_id", in.Case.ID, "error", err)
		res.Cause = err
	}
	res.Outcome = OutcomeFallback
	res.Report = coordinatorFallback(in)
	return res, nil
}

func decodeCoordinator(out gateway.Structured) (*models.CoordinatorReport, error) {
	var raw struct {
		models.CoordinatorReport
		Confidence *float64 `json:"confidence"`
	}
	if err := out.Decode(&raw); err != nil {
		return nil, fmt.Errorf("coordinator: decode assessment: %w", err)
	}

	report := raw.CoordinatorReport
	report.Confidence = defaultCoordinatorConfidence
	if raw.Confidence != nil {
		report.Confidence = clamp01(*raw.Confidence)
	}
	if report.ComplexityLevel == "" {
		report.ComplexityLevel = "medium"
	}
	if report.VisualEvidencePriority == "" {
		report.VisualEvidencePriority = "medium"
	}
	if report.EstimatedStrength == "" {
		report.EstimatedStrength = "moderate"
	}
	if report.LegalElements == nil {
		report.LegalElements = []string{}
	}
	if report.PrecedentSearchAreas == nil {
		report.PrecedentSearchAreas = []string{}
	}
	if report.KeyChallenges == nil {
		report.KeyChallenges = []string{}
	}
	report.Status = ""
	return &report, nil
}

func coordinatorFallback(in Input) *models.CoordinatorReport {
	priority := "low"
	if len(in.VisualEvidence()) > 0 {
		priority = "high"
	}
	return &models.CoordinatorReport{
		LegalElements:          []string{"Civil liability", "Causation", "Damages"},
		CaseClassification:     fmt.Sprintf("Standard %s case", in.Case.Category),
		ComplexityLevel:        "medium",
		RecommendedApproach:    "Comprehensive analysis focused on precedents and available evidence",
		PrecedentSearchAreas:   []string{"Civil liability", "Traffic accidents"},
		VisualEvidencePriority: priority,
		EstimatedStrength:      "moderate",
		KeyChallenges:          []string{"Contradictory testimony", "Need to establish causation"},
		Confidence:             0.6,
		Status:                 models.ReportFallback,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
