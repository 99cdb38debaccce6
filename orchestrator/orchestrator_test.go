package orchestrator

import (
	"context"
	"errors"
	"testing"

	"legalia-backend/agents"
	"legalia-backend/gateway"
	"legalia-backend/memstore"
	"legalia-backend/models"
	"legalia-backend/repository"
	"legalia-backend/retrieval"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// imageGateway falls back for text and answers image calls with a fixed
// description or error.
type imageGateway struct {
	*gateway.Fallback
	description string
	err         error
}

func (g *imageGateway) AnalyzeImage(ctx context.Context, ref, prompt string) (gateway.Text, error) {
	if g.err != nil {
		return gateway.Text{}, &gateway.ImageFetchError{Ref: ref, Err: g.err}
	}
	return gateway.Text{Content: g.description}, nil
}

type stubAgent struct {
	name    string
	report  agents.Report
	outcome agents.Outcome
	err     error
	before  func()
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Execute(ctx context.Context, in agents.Input) (agents.Result, error) {
	if a.before != nil {
		a.before()
	}
	if a.err != nil {
		return agents.Result{Agent: a.name}, a.err
	}
	return agents.Result{Agent: a.name, Outcome: a.outcome, Report: a.report}, nil
}

type fixture struct {
	store *memstore.Store
	orch  *Orchestrator
	kase  *models.Case
	run   *models.AnalysisRun
}

func newFixture(t *testing.T, gw gateway.Gateway, override func(*agents.Pipeline), evidence ...models.Evidence) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	kase := &models.Case{
		Title:       "Intersection collision",
		Description: "Vehicle collision at a signaled intersection",
		Category:    models.CategoryCivil,
		Status:      models.CaseStatusAnalyzing,
	}
	require.NoError(t, store.Cases().Create(ctx, kase))
	for i := range evidence {
		evidence[i].CaseID = kase.ID
		require.NoError(t, store.Evidence().Create(ctx, &evidence[i]))
	}

	pipeline := agents.NewPipeline(gw, retrieval.New(gw, store.Precedents()))
	if override != nil {
		override(&pipeline)
	}

	run, err := store.Analyses().CreateVersion(ctx, kase.ID, nil)
	require.NoError(t, err)

	return &fixture{
		store: store,
		orch:  New(store.Cases(), store.Evidence(), store.Analyses(), pipeline),
		kase:  kase,
		run:   run,
	}
}

func (f *fixture) reload(t *testing.T) (*models.AnalysisRun, *models.Case) {
	t.Helper()
	ctx := context.Background()
	run, err := f.store.Analyses().GetByID(ctx, f.run.ID)
	require.NoError(t, err)
	kase, err := f.store.Cases().GetByID(ctx, f.kase.ID)
	require.NoError(t, err)
	return run, kase
}

func events(log models.ExecutionLog, agent string) []string {
	var out []string
	for _, e := range log {
		if e.Agent == agent {
			out = append(out, e.Event)
		}
	}
	return out
}

func TestRunWithoutProviderCompletesOnFallbacks(t *testing.T) {
	f := newFixture(t, gateway.NewFallback(0), nil)

	require.NoError(t, f.orch.Run(context.Background(), f.run.ID))

	run, kase := f.reload(t)
	assert.Equal(t, models.AnalysisCompleted, run.Status)
	assert.Equal(t, models.CaseStatusAnalyzed, kase.Status)

	require.NotNil(t, run.CoordinatorResult)
	assert.Equal(t, models.ReportFallback, run.CoordinatorResult.Status)
	require.NotNil(t, run.PrecedentResult)
	assert.Equal(t, models.ReportFallback, run.PrecedentResult.Status)
	require.NotNil(t, run.ArgumentsResult)
	assert.Equal(t, models.ReportFallback, run.ArgumentsResult.Status)
	assert.Nil(t, run.VisualResult)

	require.NotNil(t, run.ConfidenceScores)
	assert.Equal(t, 0.6, run.ConfidenceScores.Coordinator)
	assert.Equal(t, 0.3, run.ConfidenceScores.Precedent)
	assert.Equal(t, 0.5, run.ConfidenceScores.Arguments)
	assert.Nil(t, run.ConfidenceScores.VisualAnalysis)
	assert.Equal(t, 0.47, run.ConfidenceScores.Overall)

	assert.Equal(t, []string{"Civil liability", "Causation", "Damages"}, run.LegalElements)
	assert.Len(t, run.DefenseLines, 1)
	assert.Len(t, run.AlternativeScenarios, 2)
	require.NotNil(t, run.ExecutiveSummary)
	assert.Contains(t, *run.ExecutiveSummary, "## Key Legal Elements")
	assert.NotContains(t, *run.ExecutiveSummary, "## Visual Evidence")
	require.NotNil(t, run.ProcessingTime)
	assert.GreaterOrEqual(t, *run.ProcessingTime, 0.0)
	assert.NotNil(t, run.CompletedAt)

	assert.Equal(t, []string{EventAnalysisStarted, EventAnalysisCompleted}, events(run.ExecutionLog, LogAgent))
	for _, agent := range []string{models.AgentCoordinator, models.AgentPrecedent, models.AgentArguments} {
		assert.Equal(t, []string{EventExecutionStarted, EventExecutionCompleted}, events(run.ExecutionLog, agent), agent)
	}
	assert.Empty(t, events(run.ExecutionLog, models.AgentVisual))

	assert.Equal(t, EventAnalysisStarted, run.ExecutionLog[0].Event)
	last := run.ExecutionLog[len(run.ExecutionLog)-1]
	assert.Equal(t, EventAnalysisCompleted, last.Event)
	assert.Contains(t, last.Data, "total_time")

	for _, e := range run.ExecutionLog {
		if e.Event == EventExecutionCompleted {
			assert.Contains(t, e.Data, "execution_time_ms")
			assert.Contains(t, e.Data, "result_size")
			assert.Equal(t, string(agents.OutcomeFallback), e.Data["outcome"])
		}
	}
}

func TestRunImageFetchFailureStillCompletes(t *testing.T) {
	gw := &imageGateway{Fallback: gateway.NewFallback(0), err: errors.New("status 404")}
	photo := models.Evidence{Title: "Scene photo", Kind: models.EvidenceImage, StoragePath: "https://example.org/scene.jpg"}
	f := newFixture(t, gw, nil, photo)

	require.NoError(t, f.orch.Run(context.Background(), f.run.ID))

	run, _ := f.reload(t)
	assert.Equal(t, models.AnalysisCompleted, run.Status)
	require.NotNil(t, run.VisualResult)
	require.Len(t, run.VisualResult.Analysis, 1)
	entry := run.VisualResult.Analysis[0]
	assert.Equal(t, models.VisualStatusError, entry.Status)
	assert.NotNil(t, entry.Fallback)

	require.NotNil(t, run.ConfidenceScores.VisualAnalysis)
	assert.Equal(t, 0.0, *run.ConfidenceScores.VisualAnalysis)
	assert.Equal(t, 0.47, run.ConfidenceScores.Overall)

	items, err := f.store.Evidence().ListByCase(context.Background(), f.kase.ID)
	require.NoError(t, err)
	assert.False(t, items[0].IsAnalyzed)
}

func TestRunMarksAnalyzedVisualEvidence(t *testing.T) {
	gw := &imageGateway{Fallback: gateway.NewFallback(0), description: "A damaged car next to a pedestrian."}
	fresh := models.Evidence{Title: "Fresh", Kind: models.EvidenceImage, StoragePath: "evidence/fresh.jpg"}
	old := models.Evidence{Title: "Old", Kind: models.EvidenceImage, StoragePath: "evidence/old.jpg", IsAnalyzed: true}
	f := newFixture(t, gw, nil, fresh, old)

	require.NoError(t, f.orch.Run(context.Background(), f.run.ID))

	run, _ := f.reload(t)
	require.NotNil(t, run.VisualResult)
	require.Len(t, run.VisualResult.Analysis, 1)
	assert.Equal(t, "Fresh", run.VisualResult.Analysis[0].Title)
	require.NotNil(t, run.ConfidenceScores.VisualAnalysis)
	// 0.85 * 0.7 + 1.0 * 0.3
	assert.InDelta(t, 0.895, *run.ConfidenceScores.VisualAnalysis, 0.006)
	require.NotNil(t, run.ExecutiveSummary)
	assert.Contains(t, *run.ExecutiveSummary, "## Visual Evidence")

	items, err := f.store.Evidence().ListByCase(context.Background(), f.kase.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].IsAnalyzed)
	assert.Equal(t, models.VisualStatusSuccess, items[0].AnalysisResult["status"])
	assert.Nil(t, items[1].AnalysisResult)
}

func TestRunPrecedentFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, gateway.NewFallback(0), func(p *agents.Pipeline) {
		p.Precedent = &stubAgent{name: models.AgentPrecedent, err: errors.New("vector store unavailable")}
	})

	require.NoError(t, f.orch.Run(context.Background(), f.run.ID))

	run, kase := f.reload(t)
	assert.Equal(t, models.AnalysisCompleted, run.Status)
	assert.Equal(t, models.CaseStatusAnalyzed, kase.Status)
	assert.Equal(t, []string{EventExecutionStarted, EventExecutionFailed, EventError}, events(run.ExecutionLog, models.AgentPrecedent))

	require.NotNil(t, run.PrecedentResult)
	assert.Empty(t, run.PrecedentResult.Precedents)
	assert.Equal(t, 0.0, run.ConfidenceScores.Precedent)
	assert.Equal(t, 0.55, run.ConfidenceScores.Overall)
}

func TestRunArgumentsFailureIsFatal(t *testing.T) {
	f := newFixture(t, gateway.NewFallback(0), func(p *agents.Pipeline) {
		p.Arguments = &stubAgent{name: models.AgentArguments, err: errors.New("model quota exhausted")}
	})

	err := f.orch.Run(context.Background(), f.run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model quota exhausted")

	run, kase := f.reload(t)
	assert.Equal(t, models.AnalysisFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "model quota exhausted")
	assert.Equal(t, models.CaseStatusDraft, kase.Status)
	assert.Nil(t, run.ArgumentsResult)
	assert.Equal(t, []string{EventAnalysisStarted, EventAnalysisFailed}, events(run.ExecutionLog, LogAgent))
}

func TestRunDiscardsResultAfterCancel(t *testing.T) {
	var f *fixture
	f = newFixture(t, gateway.NewFallback(0), func(p *agents.Pipeline) {
		p.Coordinator = &stubAgent{
			name:    models.AgentCoordinator,
			outcome: agents.OutcomeGenerated,
			report:  &models.CoordinatorReport{Confidence: 0.9},
			before: func() {
				require.NoError(t, f.store.Analyses().Fail(context.Background(), f.run.ID, "cancelled by user"))
			},
		}
	})

	err := f.orch.Run(context.Background(), f.run.ID)
	assert.ErrorIs(t, err, ErrRunCancelled)

	run, kase := f.reload(t)
	assert.Equal(t, models.AnalysisFailed, run.Status)
	assert.Equal(t, "cancelled by user", *run.ErrorMessage)
	assert.Nil(t, run.CoordinatorResult)
	assert.Equal(t, models.CaseStatusAnalyzing, kase.Status)
	assert.Equal(t, []string{EventExecutionStarted, EventExecutionCompleted, EventResultDiscarded}, events(run.ExecutionLog, models.AgentCoordinator))
	assert.NotContains(t, events(run.ExecutionLog, LogAgent), EventAnalysisFailed)
}

func TestRunRejectsNonPendingRun(t *testing.T) {
	f := newFixture(t, gateway.NewFallback(0), nil)
	ctx := context.Background()
	require.NoError(t, f.orch.Run(ctx, f.run.ID))

	err := f.orch.Run(ctx, f.run.ID)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	err = f.orch.Run(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
