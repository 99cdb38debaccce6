package agents

import (
	"context"
	"fmt"
	"log/slog"

	"legalia-backend/caseformat"
	"legalia-backend/gateway"
	"legalia-backend/models"
)

const defaultArgumentsConfidence = 0.7

// Arguments builds lines of argument from the case, precedents and visual findings.
type Arguments struct {
	gateway gateway.Gateway
	logger  *slog.Logger
}

// NewArguments creates the arguments agent.
func NewArguments(gw gateway.Gateway, opts ...Option) *Arguments {
	o := buildOptions("agent.arguments", opts)
	return &Arguments{gateway: gw, logger: o.logger}
}

func (a *Arguments) Name() string { return models.AgentArguments }

// Execute never fails on model errors; it returns the fallback strategy instead.
func (a *Arguments) Execute(ctx context.Context, in Input) (Result, error) {
	res := Result{Agent: a.Name()}

	prompt := caseformat.ArgumentsPrompt(in.Case, in.Evidence, in.Precedents, in.Visual)
	out, err := a.gateway.GenerateStructured(ctx, prompt, caseformat.ArgumentsSchema)
	if err == nil && !out.Fallback {
		report, derr := decodeArguments(out)
		if derr == nil {
			res.Outcome = OutcomeGenerated
			res.Report = report
			return res, nil
		}
		err = derr
	}

	if err != nil {
		a.logger.Warn("argument generation failed, using fallback", "case_id", in.Case.ID, "error", err)
		res.Cause = err
	}
	res.Outcome = OutcomeFallback
	res.Report = argumentsFallback()
	return res, nil
}

func decodeArguments(out gateway.Structured) (*models.ArgumentsReport, error) {
	var raw struct {
		models.ArgumentsReport
		Confidence *float64 `json:"confidence"`
	}
	if err := out.Decode(&raw); err != nil {
		return nil, fmt.Errorf("arguments: decode strategy: %w", err)
	}

	report := raw.ArgumentsReport
	report.Confidence = defaultArgumentsConfidence
	if raw.Confidence != nil {
		report.Confidence = clamp01(*raw.Confidence)
	}
	if report.DefenseLines == nil {
		report.DefenseLines = []models.DefenseLine{}
	}
	if report.AlternativeScenarios == nil {
		report.AlternativeScenarios = []models.Scenario{}
	}
	if report.KeyArguments == nil {
		report.KeyArguments = []string{}
	}
	if report.Risks == nil {
		report.Risks = []string{}
	}
	report.Status = ""
	return &report, nil
}

func argumentsFallback() *models.ArgumentsReport {
	return &models.ArgumentsReport{
		DefenseLines: []models.DefenseLine{
			{
				Title:                "Primary defense line",
				Description:          "Based on the available evidence and the case type",
				Strengths:            []string{"Available evidence", "Established case type"},
				Weaknesses:           []string{"Requires detailed analysis"},
				SupportingPrecedents: []string{},
				ProbabilityOfSuccess: "medium",
			},
		},
		AlternativeScenarios: []models.Scenario{
			{
				Scenario:     "Settlement",
				Likelihood:   "medium",
				Implications: "Avoids a prolonged judicial process",
			},
			{
				Scenario:     "Full trial",
				Likelihood:   "medium",
				Implications: "Allows all evidence to be presented",
			},
		},
		RecommendedStrategy: "Review the evidence and precedents in detail before settling on a final strategy. Configure GEMINI_API_KEY for complete automatic analysis.",
		KeyArguments: []string{
			"Rely on the facts of the case",
			"Use relevant precedents",
			"Present the available evidence",
		},
		Risks: []string{
			"No complete automated analysis",
			"Requires manual review by a legal professional",
		},
		Confidence: 0.5,
		Status:     models.ReportFallback,
	}
}
