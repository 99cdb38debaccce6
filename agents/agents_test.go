package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"legalia-backend/gateway"
	"legalia-backend/models"
	"legalia-backend/retrieval"
	"legalia-backend/webfetch"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGateway answers structured and image calls through the supplied
// functions and falls back for everything else.
type scriptedGateway struct {
	gateway.Fallback
	structured func(prompt, schema string) (gateway.Structured, error)
	image      func(ref string) (gateway.Text, error)
	prompts    []string
}

func (g *scriptedGateway) GenerateStructured(ctx context.Context, prompt, schema string) (gateway.Structured, error) {
	g.prompts = append(g.prompts, prompt)
	if g.structured == nil {
		return g.Fallback.GenerateStructured(ctx, prompt, schema)
	}
	return g.structured(prompt, schema)
}

func (g *scriptedGateway) AnalyzeImage(ctx context.Context, ref, prompt string) (gateway.Text, error) {
	g.prompts = append(g.prompts, prompt)
	if g.image == nil {
		return g.Fallback.AnalyzeImage(ctx, ref, prompt)
	}
	return g.image(ref)
}

func fields(m map[string]any) func(string, string) (gateway.Structured, error) {
	return func(string, string) (gateway.Structured, error) {
		return gateway.Structured{Fields: m}, nil
	}
}

func testCase() *models.Case {
	return &models.Case{
		ID:          uuid.New(),
		Title:       "Civil collision at intersection",
		Description: "vehicle collision caused by negligence at a signaled crossing",
		Category:    models.CategoryCivil,
		Status:      models.CaseStatusAnalyzing,
	}
}

func photo(title, path string) models.Evidence {
	return models.Evidence{ID: uuid.New(), Title: title, Kind: models.EvidenceImage, StoragePath: path}
}

func TestCoordinatorGeneratedAppliesDefaults(t *testing.T) {
	gw := &scriptedGateway{structured: fields(map[string]any{
		"legal_elements":      []any{"Negligence"},
		"case_classification": "Traffic accident",
	})}

	res, err := NewCoordinator(gw).Execute(context.Background(), Input{Case: testCase()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, res.Outcome)

	report := res.Report.(*models.CoordinatorReport)
	assert.Equal(t, []string{"Negligence"}, report.LegalElements)
	assert.Equal(t, "medium", report.ComplexityLevel)
	assert.Equal(t, "medium", report.VisualEvidencePriority)
	assert.Equal(t, "moderate", report.EstimatedStrength)
	assert.Equal(t, 0.7, report.Confidence)
	assert.Empty(t, report.Status)
}

func TestCoordinatorKeepsModelConfidence(t *testing.T) {
	gw := &scriptedGateway{structured: fields(map[string]any{"confidence": 0.92})}

	res, err := NewCoordinator(gw).Execute(context.Background(), Input{Case: testCase()})
	require.NoError(t, err)
	assert.Equal(t, 0.92, res.Report.Score())
}

func TestCoordinatorFallback(t *testing.T) {
	tests := []struct {
		name     string
		gw       *scriptedGateway
		evidence []models.Evidence
		priority string
		cause    bool
	}{
		{
			name:     "no provider with visual evidence",
			gw:       &scriptedGateway{},
			evidence: []models.Evidence{photo("Scene", "a.jpg")},
			priority: "high",
		},
		{
			name:     "no provider without visual evidence",
			gw:       &scriptedGateway{},
			priority: "low",
		},
		{
			name: "provider error",
			gw: &scriptedGateway{structured: func(string, string) (gateway.Structured, error) {
				return gateway.Structured{}, errors.New("unavailable")
			}},
			priority: "low",
			cause:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCase()
			res, err := NewCoordinator(tt.gw).Execute(context.Background(), Input{Case: c, Evidence: tt.evidence})
			require.NoError(t, err)
			assert.Equal(t, OutcomeFallback, res.Outcome)
			assert.Equal(t, tt.cause, res.Cause != nil)

			report := res.Report.(*models.CoordinatorReport)
			assert.Equal(t, []string{"Civil liability", "Causation", "Damages"}, report.LegalElements)
			assert.Equal(t, "Standard civil case", report.CaseClassification)
			assert.Equal(t, tt.priority, report.VisualEvidencePriority)
			assert.Equal(t, 0.6, report.Confidence)
			assert.Equal(t, models.ReportFallback, report.Status)
		})
	}
}

type fakeRetriever struct {
	result *retrieval.Result
	err    error
	query  string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, c *models.Case, query string) (*retrieval.Result, error) {
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	out := *f.result
	if query == "" {
		out.Query = retrieval.DefaultQuery(c)
	} else {
		out.Query = query
	}
	return &out, nil
}

func TestPrecedentBuildsMatches(t *testing.T) {
	decided := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	local := models.Precedent{
		ID:           uuid.New(),
		CaseNumber:   "SC-123",
		Court:        "Supreme Court",
		DecisionDate: &decided,
		Title:        "Civil liability for intersection accidents",
		Summary:      "Driver liable for ignoring a signal",
		Keywords:     []string{"Negligence", "collision", "insurance", "vehicle"},
		Relevance:    models.RelevanceHigh,
	}
	retriever := &fakeRetriever{result: &retrieval.Result{
		Local: []retrieval.Scored{{Precedent: local, Score: 0.912345}},
		Web: []webfetch.Result{
			{Title: "Web precedent - example.org", URL: "https://example.org/a", Description: "court ruling", Relevance: 0.8},
		},
		WebSearched: true,
	}}
	gw := &scriptedGateway{structured: fields(map[string]any{"search_query": " liability for red light crashes "})}

	res, err := NewPrecedent(gw, retriever).Execute(context.Background(), Input{Case: testCase()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, res.Outcome)
	assert.Equal(t, "liability for red light crashes", retriever.query)

	report := res.Report.(*models.PrecedentReport)
	assert.Equal(t, "liability for red light crashes", report.SearchQuery)
	assert.Equal(t, 2, report.TotalFound)
	assert.Equal(t, 1, report.LocalResults)
	assert.Equal(t, 1, report.WebResults)
	assert.True(t, report.WebSearchUsed)
	assert.Equal(t, retrieval.Confidence([]float64{0.912345, 0.8}), report.Confidence)

	first := report.Precedents[0]
	assert.Equal(t, 0.912, first.SimilarityScore)
	assert.Equal(t, "2021-03-04", first.DecisionDate)
	assert.Equal(t, models.SourceLocal, first.Source)
	assert.Equal(t, "same case category (civil); matching keywords: negligence, collision, vehicle; high-relevance precedent", first.RelevanceExplanation)

	web := report.Precedents[1]
	assert.True(t, strings.HasPrefix(web.ID, "web-"))
	assert.Equal(t, "WEB-SEARCH", web.CaseNumber)
	assert.Equal(t, models.RelevanceHigh, web.Relevance)
	assert.Equal(t, models.SourceWeb, web.Source)
	assert.Equal(t, "https://example.org/a", web.URL)
}

func TestPrecedentDefaultQueryOnFallback(t *testing.T) {
	retriever := &fakeRetriever{result: &retrieval.Result{}}

	res, err := NewPrecedent(&scriptedGateway{}, retriever).Execute(context.Background(), Input{Case: testCase()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Empty(t, retriever.query)

	report := res.Report.(*models.PrecedentReport)
	assert.Equal(t, "civil Civil collision at intersection", report.SearchQuery)
	assert.Empty(t, report.Precedents)
	assert.Equal(t, 0.3, report.Confidence)
	assert.Equal(t, models.ReportFallback, report.Status)
}

func TestPrecedentRetrievalErrorIsReturned(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("connection refused")}

	_, err := NewPrecedent(&scriptedGateway{}, retriever).Execute(context.Background(), Input{Case: testCase()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestExplainRelevanceDefault(t *testing.T) {
	c := testCase()
	p := &models.Precedent{Title: "Unrelated", Keywords: []string{"tax"}, Relevance: models.RelevanceLow}
	assert.Equal(t, "thematic similarity", explainRelevance(c, p))
}

func TestVisualWithoutEvidenceIsSkipped(t *testing.T) {
	analyzed := photo("Old", "old.jpg")
	analyzed.IsAnalyzed = true
	doc := models.Evidence{ID: uuid.New(), Title: "Report", Kind: models.EvidenceDocument}

	res, err := NewVisual(&scriptedGateway{}).Execute(context.Background(), Input{
		Case:     testCase(),
		Evidence: []models.Evidence{analyzed, doc},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)

	report := res.Report.(*models.VisualReport)
	assert.Empty(t, report.Analysis)
	assert.Equal(t, "No visual evidence to analyze", report.Summary)
	assert.Equal(t, 0.0, report.Confidence)
}

func TestVisualAnalyzesEachItem(t *testing.T) {
	gw := &scriptedGateway{image: func(ref string) (gateway.Text, error) {
		switch ref {
		case "scene.jpg":
			return gateway.Text{Content: "The driver of the vehicle shows negligence; the accident caused visible damage to a second car and liability is clear."}, nil
		case "corner.jpg":
			return gateway.Text{Content: "A traffic light is visible next to a pedestrian."}, nil
		default:
			return gateway.Text{}, &gateway.ImageFetchError{Ref: ref, Err: errors.New("status 404")}
		}
	}}

	evidence := []models.Evidence{
		photo("Scene", "scene.jpg"),
		photo("Corner", "corner.jpg"),
		photo("Broken", "missing.jpg"),
		photo("No file", ""),
	}

	res, err := NewVisual(gw).Execute(context.Background(), Input{Case: testCase(), Evidence: evidence})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, res.Outcome)
	var fetchErr *gateway.ImageFetchError
	assert.ErrorAs(t, res.Cause, &fetchErr)

	report := res.Report.(*models.VisualReport)
	require.Len(t, report.Analysis, 4)

	scene := report.Analysis[0]
	assert.Equal(t, models.VisualStatusSuccess, scene.Status)
	assert.Equal(t, models.RelevanceHigh, scene.LegalRelevance)
	assert.Equal(t, 0.85, scene.Confidence)
	assert.Equal(t, models.KeyElements{People: 1, Vehicles: 2, Damage: true}, *scene.KeyElements)

	corner := report.Analysis[1]
	assert.Equal(t, models.RelevanceLow, corner.LegalRelevance)
	assert.Equal(t, models.KeyElements{People: 1, TrafficSigns: 1}, *corner.KeyElements)

	broken := report.Analysis[2]
	assert.Equal(t, models.VisualStatusError, broken.Status)
	require.NotNil(t, broken.Fallback)
	assert.Equal(t, "Evidence image identified. Requires manual review by a legal professional.", broken.Fallback.Analysis)

	noFile := report.Analysis[3]
	assert.Equal(t, models.VisualStatusError, noFile.Status)
	assert.Equal(t, "No file URL found", noFile.Message)

	assert.Equal(t, "Analyzed 2 visual evidence items. 1 show high legal relevance.", report.Summary)
	assert.Len(t, report.KeyFindings, 2)
	// mean 0.85 * 0.7 + success rate 0.5 * 0.3
	assert.InDelta(t, 0.745, report.Confidence, 0.006)
}

func TestVisualFallbackProvider(t *testing.T) {
	res, err := NewVisual(&scriptedGateway{}).Execute(context.Background(), Input{
		Case:     testCase(),
		Evidence: []models.Evidence{photo("Scene", "scene.jpg")},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, res.Outcome)

	report := res.Report.(*models.VisualReport)
	assert.Equal(t, models.VisualStatusFallback, report.Analysis[0].Status)
	assert.Equal(t, "Visual evidence could not be analyzed", report.Summary)
	assert.Equal(t, 0.0, report.Confidence)
	assert.Equal(t, models.ReportFallback, report.Status)
}

func TestArgumentsGenerated(t *testing.T) {
	gw := &scriptedGateway{structured: fields(map[string]any{
		"defense_lines": []any{
			map[string]any{"title": "Causation", "probability_of_success": "high"},
		},
		"recommended_strategy": "Contest causation",
		"confidence":           0.81,
	})}
	in := Input{
		Case:       testCase(),
		Precedents: []models.PrecedentMatch{{Title: "Prior ruling", CaseNumber: "SC-1"}},
		Visual: &models.VisualReport{Analysis: []models.EvidenceAnalysis{
			{Title: "Scene", Status: models.VisualStatusSuccess, Analysis: "two cars"},
		}},
	}

	res, err := NewArguments(gw).Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, res.Outcome)

	report := res.Report.(*models.ArgumentsReport)
	require.Len(t, report.DefenseLines, 1)
	assert.Equal(t, "Causation", report.DefenseLines[0].Title)
	assert.Equal(t, "Contest causation", report.RecommendedStrategy)
	assert.Equal(t, 0.81, report.Confidence)
	assert.NotNil(t, report.AlternativeScenarios)

	require.Len(t, gw.prompts, 1)
	assert.Contains(t, gw.prompts[0], "Prior ruling")
	assert.Contains(t, gw.prompts[0], "two cars")
}

func TestArgumentsFallback(t *testing.T) {
	gw := &scriptedGateway{structured: func(string, string) (gateway.Structured, error) {
		return gateway.Structured{}, gateway.ErrMalformedOutput
	}}

	res, err := NewArguments(gw).Execute(context.Background(), Input{Case: testCase()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.ErrorIs(t, res.Cause, gateway.ErrMalformedOutput)

	report := res.Report.(*models.ArgumentsReport)
	require.Len(t, report.DefenseLines, 1)
	assert.Equal(t, "Primary defense line", report.DefenseLines[0].Title)
	require.Len(t, report.AlternativeScenarios, 2)
	assert.Equal(t, "Settlement", report.AlternativeScenarios[0].Scenario)
	assert.Equal(t, "Full trial", report.AlternativeScenarios[1].Scenario)
	assert.Contains(t, report.RecommendedStrategy, "GEMINI_API_KEY")
	assert.Len(t, report.KeyArguments, 3)
	assert.Len(t, report.Risks, 2)
	assert.Equal(t, 0.5, report.Confidence)
}
