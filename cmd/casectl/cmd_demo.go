package main

import (
	"context"
	"fmt"
	"time"

	"legalia-backend/agents"
	"legalia-backend/gateway"
	"legalia-backend/memstore"
	"legalia-backend/models"
	"legalia-backend/orchestrator"
	"legalia-backend/retrieval"
	"legalia-backend/service"

	"github.com/pgvector/pgvector-go"
	"github.com/spf13/cobra"
)

var demoFlags struct {
	imageURL string
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an end-to-end analysis of a sample case in memory",
	Long: `Seeds an in-memory store with a sample traffic-accident case and a few
precedents, then runs the full agent pipeline with the configured model
gateway. Without GEMINI_API_KEY every agent returns its fallback output.
No database is needed.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoFlags.imageURL, "image", "", "URL of a scene photo to attach as visual evidence")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	gw, closeGateway, err := newGateway(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeGateway()

	store := memstore.New()
	if err := seedPrecedents(ctx, gw, store); err != nil {
		return err
	}
	kase, err := seedCase(ctx, store)
	if err != nil {
		return err
	}

	pipeline := agents.NewPipeline(gw, retrieval.New(gw, store.Precedents()))
	svc := service.NewAnalysisService(
		service.WithCaseStore(store.Cases()),
		service.WithEvidenceStore(store.Evidence()),
		service.WithAnalysisStore(store.Analyses()),
		service.WithRunner(orchestrator.New(store.Cases(), store.Evidence(), store.Analyses(), pipeline)),
		service.WithVisualAgent(pipeline.Visual),
	)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Demo case %s: %s (model configured: %t)\n\n", kase.ID, kase.Title, gw.Configured())

	res, err := svc.Analyze(ctx, service.AnalyzeRequest{CaseID: kase.ID})
	if err != nil {
		return err
	}
	if err := svc.Process(ctx, res.Analysis.ID); err != nil {
		return fmt.Errorf("process analysis: %w", err)
	}
	run, err := svc.Get(ctx, service.AnalysisRequest{AnalysisID: res.Analysis.ID})
	if err != nil {
		return err
	}
	return printRun(out, run)
}

func seedCase(ctx context.Context, store *memstore.Store) (*models.Case, error) {
	incident := time.Date(2024, time.March, 14, 0, 0, 0, 0, time.UTC)
	kase := &models.Case{
		Title:        "Rear-end collision at a signalled intersection",
		Description:  "The defendant's delivery vehicle struck the plaintiff's car while it was stopped at a red light.",
		Category:     models.CategoryCivil,
		Status:       models.CaseStatusDraft,
		Parties:      models.Parties{Plaintiff: "Maria Gomez", Defendant: "FastFreight Logistics"},
		IncidentDate: &incident,
		Facts: "The plaintiff was stationary at a red light. The delivery vehicle was travelling above the " +
			"speed limit and braked late. The plaintiff suffered neck injuries and vehicle damage. " +
			"A witness and a traffic camera recorded the collision.",
	}
	if err := store.Cases().Create(ctx, kase); err != nil {
		return nil, err
	}

	evidence := []models.Evidence{
		{CaseID: kase.ID, Title: "Police report", Kind: models.EvidenceDocument, MimeType: "application/pdf"},
		{CaseID: kase.ID, Title: "Witness statement", Kind: models.EvidenceTestimony},
	}
	if demoFlags.imageURL != "" {
		evidence = append(evidence, models.Evidence{
			CaseID:      kase.ID,
			Title:       "Scene photo",
			Kind:        models.EvidenceImage,
			StoragePath: demoFlags.imageURL,
			MimeType:    "image/jpeg",
		})
	}
	for i := range evidence {
		if err := store.Evidence().Create(ctx, &evidence[i]); err != nil {
			return nil, err
		}
	}
	return kase, nil
}

func seedPrecedents(ctx context.Context, gw gateway.Gateway, store *memstore.Store) error {
	decided := time.Date(2019, time.June, 3, 0, 0, 0, 0, time.UTC)
	seeds := []models.Precedent{
		{
			CaseNumber:    "CIV-2019-0412",
			Court:         "Court of Appeal, Civil Division",
			DecisionDate:  &decided,
			Title:         "Liability of a following driver in a rear-end collision",
			Summary:       "A driver who collides with a stationary vehicle from behind is presumed negligent unless a sudden emergency is shown.",
			Ruling:        "Appeal dismissed; full liability on the following driver.",
			Keywords:      []string{"collision", "negligence", "vehicle", "liability"},
			CitedArticles: []string{"Civil Code art. 1902"},
			Relevance:     models.RelevanceHigh,
		},
		{
			CaseNumber:    "CIV-2021-0078",
			Court:         "Supreme Court, First Chamber",
			Title:         "Employer vicarious liability for delivery drivers",
			Summary:       "A logistics company answers for damages caused by its drivers acting within the scope of employment.",
			Ruling:        "Company held jointly liable for compensation.",
			Keywords:      []string{"vicarious", "employer", "damages", "compensation"},
			CitedArticles: []string{"Civil Code art. 1903"},
		},
	}

	for i := range seeds {
		p := &seeds[i]
		if gw.Configured() {
			emb, err := gw.GenerateEmbedding(ctx, p.EmbeddingInput())
			if err != nil {
				return fmt.Errorf("embed precedent %s: %w", p.CaseNumber, err)
			}
			v := pgvector.NewVector(emb.Values)
			p.Embedding = &v
		}
		if err := store.Precedents().Upsert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
