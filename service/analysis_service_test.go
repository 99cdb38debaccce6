package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"legalia-backend/agents"
	"legalia-backend/gateway"
	"legalia-backend/memstore"
	"legalia-backend/models"
	"legalia-backend/orchestrator"
	"legalia-backend/retrieval"
	"legalia-backend/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type describingGateway struct {
	*gateway.Fallback
}

func (g *describingGateway) AnalyzeImage(ctx context.Context, ref, prompt string) (gateway.Text, error) {
	return gateway.Text{Content: "Two vehicles after a collision; the driver shows negligence and the accident caused damages, so liability is likely."}, nil
}

type testEnv struct {
	store *memstore.Store
	svc   *AnalysisService
	owner uuid.UUID
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.New()
	gw := &describingGateway{Fallback: gateway.NewFallback(0)}
	pipeline := agents.NewPipeline(gw, retrieval.New(gw, store.Precedents()))
	orch := orchestrator.New(store.Cases(), store.Evidence(), store.Analyses(), pipeline)

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	svc := NewAnalysisService(
		WithCaseStore(store.Cases()),
		WithEvidenceStore(store.Evidence()),
		WithAnalysisStore(store.Analyses()),
		WithStorage(files),
		WithRunner(orch),
		WithVisualAgent(pipeline.Visual),
	)
	return &testEnv{store: store, svc: svc, owner: uuid.New()}
}

func (e *testEnv) newCase(t *testing.T, status models.CaseStatus) *models.Case {
	t.Helper()
	kase := &models.Case{
		OwnerID:     e.owner,
		Title:       "Rear-end collision",
		Description: "vehicle collision on the highway",
		Category:    models.CategoryCivil,
		Status:      status,
	}
	require.NoError(t, e.store.Cases().Create(context.Background(), kase))
	return kase
}

func (e *testEnv) caseStatus(t *testing.T, id uuid.UUID) models.CaseStatus {
	t.Helper()
	kase, err := e.store.Cases().GetByID(context.Background(), id)
	require.NoError(t, err)
	return kase.Status
}

func TestAnalyzeCreatesPendingRun(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	kase := env.newCase(t, models.CaseStatusDraft)

	res, err := env.svc.Analyze(ctx, AnalyzeRequest{CaseID: kase.ID, OwnerID: &env.owner})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Analysis.Version)
	assert.Nil(t, res.Analysis.PreviousAnalysisID)
	assert.Equal(t, models.AnalysisPending, res.Analysis.Status)
	assert.Equal(t, models.CaseStatusAnalyzing, res.Case.Status)
	assert.Equal(t, models.CaseStatusAnalyzing, env.caseStatus(t, kase.ID))
}

func TestAnalyzeRejectsUnanalyzableCase(t *testing.T) {
	for _, status := range []models.CaseStatus{models.CaseStatusAnalyzing, models.CaseStatusArchived} {
		t.Run(string(status), func(t *testing.T) {
			env := newEnv(t)
			kase := env.newCase(t, status)

			_, err := env.svc.Analyze(context.Background(), AnalyzeRequest{CaseID: kase.ID})
			var stateErr *StateError
			require.ErrorAs(t, err, &stateErr)
			assert.Equal(t, string(status), stateErr.Current)
		})
	}
}

func TestAnalyzeHidesOtherOwnersCases(t *testing.T) {
	env := newEnv(t)
	kase := env.newCase(t, models.CaseStatusDraft)
	stranger := uuid.New()

	_, err := env.svc.Analyze(context.Background(), AnalyzeRequest{CaseID: kase.ID, OwnerID: &stranger})
	assert.ErrorIs(t, err, ErrCaseNotFound)

	_, err = env.svc.Analyze(context.Background(), AnalyzeRequest{CaseID: uuid.New()})
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestProcessRunsPipelineToCompletion(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	kase := env.newCase(t, models.CaseStatusDraft)

	res, err := env.svc.Analyze(ctx, AnalyzeRequest{CaseID: kase.ID})
	require.NoError(t, err)
	require.NoError(t, env.svc.Process(ctx, res.Analysis.ID))

	latest, err := env.svc.Latest(ctx, kase.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, res.Analysis.ID, latest.ID)
	assert.Equal(t, models.AnalysisCompleted, latest.Status)
	assert.Equal(t, models.CaseStatusAnalyzed, env.caseStatus(t, kase.ID))

	stats, err := env.svc.ExecutionStats(ctx, AnalysisRequest{AnalysisID: res.Analysis.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.AgentCoordinator].Executions)
	assert.Equal(t, 1, stats[models.AgentArguments].Executions)
	assert.Zero(t, stats[models.AgentPrecedent].Errors)
}

func TestReanalyzeLinksPreviousRun(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	kase := env.newCase(t, models.CaseStatusDraft)

	first, err := env.svc.Analyze(ctx, AnalyzeRequest{CaseID: kase.ID})
	require.NoError(t, err)
	require.NoError(t, env.svc.Process(ctx, first.Analysis.ID))
	require.Equal(t, models.CaseStatusAnalyzed, env.caseStatus(t, kase.ID))

	second, err := env.svc.Reanalyze(ctx, AnalyzeRequest{CaseID: kase.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Analysis.Version)
	require.NotNil(t, second.Analysis.PreviousAnalysisID)
	assert.Equal(t, first.Analysis.ID, *second.Analysis.PreviousAnalysisID)
	assert.Equal(t, models.AnalysisPending, second.Analysis.Status)
	assert.Equal(t, models.CaseStatusAnalyzing, env.caseStatus(t, kase.ID))
}

func TestReanalyzeWithoutPriorRun(t *testing.T) {
	env := newEnv(t)
	kase := env.newCase(t, models.CaseStatusDraft)

	res, err := env.svc.Reanalyze(context.Background(), AnalyzeRequest{CaseID: kase.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Analysis.Version)
	assert.Nil(t, res.Analysis.PreviousAnalysisID)
}

func TestConcurrentReanalyzeAssignsUniqueVersions(t *testing.T) {
	env := newEnv(t)
	kase := env.newCase(t, models.CaseStatusDraft)

	const n = 10
	var wg sync.WaitGroup
	versions := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.Reanalyze(context.Background(), AnalyzeRequest{CaseID: kase.ID})
			if err == nil {
				versions <- res.Analysis.Version
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "duplicate version %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
	for v := 1; v <= n; v++ {
		assert.True(t, seen[v], "missing version %d", v)
	}
}

func TestCancelProcessingRun(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	kase := env.newCase(t, models.CaseStatusDraft)

	res, err := env.svc.Analyze(ctx, AnalyzeRequest{CaseID: kase.ID})
	require.NoError(t, err)
	require.NoError(t, env.store.Analyses().Start(ctx, res.Analysis.ID, time.Now()))

	run, err := env.svc.Cancel(ctx, AnalysisRequest{AnalysisID: res.Analysis.ID})
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, CancelReason, *run.ErrorMessage)
	require.NotEmpty(t, run.ExecutionLog)
	last := run.ExecutionLog[len(run.ExecutionLog)-1]
	assert.Equal(t, orchestrator.EventAnalysisCancelled, last.Event)
	assert.Equal(t, CancelReason, last.Data["reason"])
	assert.Equal(t, models.CaseStatusDraft, env.caseStatus(t, kase.ID))

	// A pipeline reaching the cancelled run is rejected and changes nothing.
	err = env.svc.Process(ctx, res.Analysis.ID)
	assert.Error(t, err)
	assert.Equal(t, models.CaseStatusDraft, env.caseStatus(t, kase.ID))
}

func TestCancelRejectsOtherStatuses(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	kase := env.newCase(t, models.CaseStatusDraft)

	res, err := env.svc.Analyze(ctx, AnalyzeRequest{CaseID: kase.ID})
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, AnalysisRequest{AnalysisID: res.Analysis.ID})
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(models.AnalysisPending), stateErr.Current)

	require.NoError(t, env.svc.Process(ctx, res.Analysis.ID))
	_, err = env.svc.Cancel(ctx, AnalysisRequest{AnalysisID: res.Analysis.ID})
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(models.AnalysisCompleted), stateErr.Current)

	_, err = env.svc.Cancel(ctx, AnalysisRequest{AnalysisID: uuid.New()})
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
}

func TestListAndStats(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	kase := env.newCase(t, models.CaseStatusDraft)

	first, err := env.svc.Analyze(ctx, AnalyzeRequest{CaseID: kase.ID})
	require.NoError(t, err)
	require.NoError(t, env.svc.Process(ctx, first.Analysis.ID))
	_, err = env.svc.Reanalyze(ctx, AnalyzeRequest{CaseID: kase.ID})
	require.NoError(t, err)

	runs, err := env.svc.List(ctx, ListRequest{CaseID: kase.ID})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Version)
	assert.Equal(t, 1, runs[1].Version)

	completed := models.AnalysisCompleted
	runs, err = env.svc.List(ctx, ListRequest{CaseID: kase.ID, Status: &completed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, first.Analysis.ID, runs[0].ID)

	stats, err := env.svc.Stats(ctx, kase.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.AnalysisCompleted])
	assert.Equal(t, 1, stats.ByStatus[models.AnalysisPending])
	assert.Equal(t, 0, stats.ByStatus[models.AnalysisFailed])
}

func TestLatestWithoutCompletedRun(t *testing.T) {
	env := newEnv(t)
	kase := env.newCase(t, models.CaseStatusDraft)

	_, err := env.svc.Latest(context.Background(), kase.ID, nil)
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
}

func TestUploadAndAnalyzeEvidence(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	kase := env.newCase(t, models.CaseStatusDraft)

	photo, err := env.svc.UploadEvidence(ctx, UploadEvidenceRequest{
		CaseID:      kase.ID,
		Filename:    "Scene.JPG",
		ContentType: "application/octet-stream",
		Data:        []byte("jpeg-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.EvidenceImage, photo.Kind)
	assert.Equal(t, "image/jpeg", photo.MimeType)
	assert.Equal(t, "Scene.JPG", photo.Title)
	assert.Equal(t, int64(10), photo.Size)
	assert.NotEmpty(t, photo.StoragePath)

	rc, err := env.svc.files.Download(ctx, photo.StoragePath)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	doc, err := env.svc.UploadEvidence(ctx, UploadEvidenceRequest{
		CaseID:      kase.ID,
		Title:       "Police report",
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.EvidenceDocument, doc.Kind)

	items, err := env.svc.ListEvidence(ctx, kase.ID, nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = env.svc.AnalyzeEvidence(ctx, AnalyzeEvidenceRequest{EvidenceID: doc.ID})
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(models.EvidenceDocument), stateErr.Current)

	res, err := env.svc.AnalyzeEvidence(ctx, AnalyzeEvidenceRequest{EvidenceID: photo.ID})
	require.NoError(t, err)
	assert.Equal(t, models.VisualStatusSuccess, res.Analysis.Status)
	assert.Equal(t, models.RelevanceHigh, res.Analysis.LegalRelevance)
	assert.True(t, res.Evidence.IsAnalyzed)
	assert.Equal(t, "high", res.Evidence.AnalysisResult["legal_relevance"])

	_, err = env.svc.AnalyzeEvidence(ctx, AnalyzeEvidenceRequest{EvidenceID: photo.ID})
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "analyzed", stateErr.Current)

	_, err = env.svc.AnalyzeEvidence(ctx, AnalyzeEvidenceRequest{EvidenceID: uuid.New()})
	assert.ErrorIs(t, err, ErrEvidenceNotFound)
}

func TestUnconfiguredService(t *testing.T) {
	svc := NewAnalysisService()
	_, err := svc.Analyze(context.Background(), AnalyzeRequest{CaseID: uuid.New()})
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.ErrorIs(t, svc.Process(context.Background(), uuid.New()), ErrNotConfigured)
}
