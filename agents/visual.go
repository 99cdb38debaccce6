package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"legalia-backend/caseformat"
	"legalia-backend/gateway"
	"legalia-backend/lexicon"
	"legalia-backend/models"
	"legalia-backend/retrieval"
)

const (
	visualSuccessConfidence = 0.85
	noVisualEvidence        = "No visual evidence to analyze"
	visualNotAnalyzed       = "Visual evidence could not be analyzed"
	missingFileMessage      = "No file URL found"
)

const imageInstructions = `
## Analysis Instructions

Describe what the image shows and identify:
1. People present and what they are doing
2. Relevant objects such as vehicles, traffic signs, documents or weapons
3. Environmental conditions such as lighting, weather and road state
4. Visible damage and the relative position of elements
5. Any visible text such as license plates or signs
6. What cannot be determined with certainty from the evidence

Be objective, professional and detailed.
`

// Visual analyzes the photographic and video evidence of a case.
type Visual struct {
	gateway gateway.Gateway
	lex     *lexicon.Lexicon
	logger  *slog.Logger
}

// NewVisual creates the visual analysis agent.
func NewVisual(gw gateway.Gateway, opts ...Option) *Visual {
	o := buildOptions("agent.visual", opts)
	return &Visual{gateway: gw, lex: o.lex, logger: o.logger}
}

func (a *Visual) Name() string { return models.AgentVisual }

// Execute analyzes every visual item not analyzed before. Individual
// failures become error entries; only context cancellation is returned.
func (a *Visual) Execute(ctx context.Context, in Input) (Result, error) {
	res := Result{Agent: a.Name()}

	var pending []models.Evidence
	for _, e := range in.VisualEvidence() {
		if e.IsAnalyzed {
			continue
		}
		pending = append(pending, e)
	}

	if len(pending) == 0 {
		res.Outcome = OutcomeSkipped
		res.Report = &models.VisualReport{
			Analysis:    []models.EvidenceAnalysis{},
			Summary:     noVisualEvidence,
			KeyFindings: []models.KeyFinding{},
			Confidence:  0,
		}
		return res, nil
	}

	analyses := make([]models.EvidenceAnalysis, 0, len(pending))
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entry, err := a.analyze(ctx, in.Case, &pending[i])
		if err != nil && res.Cause == nil {
			res.Cause = err
		}
		analyses = append(analyses, entry)
	}

	report := &models.VisualReport{
		Analysis:    analyses,
		Summary:     visualSummary(analyses),
		KeyFindings: keyFindings(analyses),
		Confidence:  visualConfidence(analyses),
	}

	res.Outcome = OutcomeGenerated
	if successCount(analyses) == 0 {
		res.Outcome = OutcomeFallback
		report.Status = models.ReportFallback
	}
	res.Report = report
	return res, nil
}

func (a *Visual) analyze(ctx context.Context, c *models.Case, e *models.Evidence) (models.EvidenceAnalysis, error) {
	entry := models.EvidenceAnalysis{
		EvidenceID: e.ID,
		Title:      e.Title,
		Kind:       e.Kind,
	}

	if e.StoragePath == "" {
		entry.Status = models.VisualStatusError
		entry.Message = missingFileMessage
		return entry, nil
	}

	prompt := caseformat.VisualEvidence(c, e) + imageInstructions
	out, err := a.gateway.AnalyzeImage(ctx, e.StoragePath, prompt)
	if err != nil {
		a.logger.Warn("image analysis failed", "evidence_id", e.ID, "error", err)
		entry.Status = models.VisualStatusError
		entry.Message = err.Error()
		entry.Fallback = fallbackNote(e)
		return entry, err
	}

	if out.Fallback {
		entry.Status = models.VisualStatusFallback
		entry.Analysis = out.Content
		entry.Fallback = fallbackNote(e)
		return entry, nil
	}

	elements := a.extractElements(out.Content)
	entry.Status = models.VisualStatusSuccess
	entry.Analysis = out.Content
	entry.KeyElements = &elements
	entry.LegalRelevance = a.legalRelevance(out.Content, c)
	entry.Confidence = visualSuccessConfidence
	return entry, nil
}

func (a *Visual) extractElements(text string) models.KeyElements {
	return models.KeyElements{
		People:       a.lex.CountElement(lexicon.ElementPeople, text),
		Vehicles:     a.lex.CountElement(lexicon.ElementVehicles, text),
		TrafficSigns: a.lex.CountElement(lexicon.ElementTrafficSigns, text),
		Damage:       a.lex.CountElement(lexicon.ElementDamage, text) > 0,
	}
}

func (a *Visual) legalRelevance(text string, c *models.Case) models.RelevanceTier {
	hits := lexicon.CountTerms(text, a.lex.RelevanceTerms(string(c.Category)))
	switch {
	case hits >= 3:
		return models.RelevanceHigh
	case hits >= 1:
		return models.RelevanceMedium
	default:
		return models.RelevanceLow
	}
}

func fallbackNote(e *models.Evidence) *models.FallbackNote {
	return &models.FallbackNote{
		Status:   models.VisualStatusFallback,
		Analysis: fmt.Sprintf("Evidence %s identified. Requires manual review by a legal professional.", e.Kind),
		Note:     "Configure GEMINI_API_KEY to enable automatic image analysis.",
	}
}

func successCount(analyses []models.EvidenceAnalysis) int {
	n := 0
	for _, a := range analyses {
		if a.Status == models.VisualStatusSuccess {
			n++
		}
	}
	return n
}

func visualSummary(analyses []models.EvidenceAnalysis) string {
	n := successCount(analyses)
	if n == 0 {
		return visualNotAnalyzed
	}

	high := 0
	for _, a := range analyses {
		if a.Status == models.VisualStatusSuccess && a.LegalRelevance == models.RelevanceHigh {
			high++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d visual evidence items.", n)
	if high > 0 {
		fmt.Fprintf(&b, " %d show high legal relevance.", high)
	}
	return b.String()
}

func keyFindings(analyses []models.EvidenceAnalysis) []models.KeyFinding {
	findings := []models.KeyFinding{}
	for _, a := range analyses {
		if a.Status != models.VisualStatusSuccess || a.KeyElements == nil {
			continue
		}
		if *a.KeyElements == (models.KeyElements{}) {
			continue
		}
		relevance := a.LegalRelevance
		if relevance == "" {
			relevance = models.RelevanceMedium
		}
		findings = append(findings, models.KeyFinding{
			Evidence:  a.Title,
			Elements:  *a.KeyElements,
			Relevance: relevance,
		})
	}
	return findings
}

// visualConfidence weighs the mean confidence of successful items against
// the share of items that succeeded.
func visualConfidence(analyses []models.EvidenceAnalysis) float64 {
	n := successCount(analyses)
	if n == 0 || len(analyses) == 0 {
		return 0
	}
	var sum float64
	for _, a := range analyses {
		if a.Status == models.VisualStatusSuccess {
			sum += a.Confidence
		}
	}
	mean := sum / float64(n)
	rate := float64(n) / float64(len(analyses))
	return retrieval.Round(mean*0.7+rate*0.3, 2)
}
