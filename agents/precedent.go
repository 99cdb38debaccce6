package agents

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"legalia-backend/caseformat"
	"legalia-backend/gateway"
	"legalia-backend/models"
	"legalia-backend/retrieval"
	"legalia-backend/webfetch"
)

// Retriever finds precedents for a case.
type Retriever interface {
	Retrieve(ctx context.Context, c *models.Case, query string) (*retrieval.Result, error)
}

// Precedent searches local and web precedents relevant to the case.
type Precedent struct {
	gateway   gateway.Gateway
	retriever Retriever
	logger    *slog.Logger
}

// NewPrecedent creates the precedent agent.
func NewPrecedent(gw gateway.Gateway, retriever Retriever, opts ...Option) *Precedent {
	o := buildOptions("agent.precedent", opts)
	return &Precedent{gateway: gw, retriever: retriever, logger: o.logger}
}

func (a *Precedent) Name() string { return models.AgentPrecedent }

// Execute returns an error only when retrieval itself fails.
func (a *Precedent) Execute(ctx context.Context, in Input) (Result, error) {
	res := Result{Agent: a.Name(), Outcome: OutcomeGenerated}

	query, cause := a.searchQuery(ctx, in.Case)
	if query == "" {
		res.Outcome = OutcomeFallback
		res.Cause = cause
	}

	found, err := a.retriever.Retrieve(ctx, in.Case, query)
	if err != nil {
		return res, fmt.Errorf("precedent: retrieve: %w", err)
	}

	report := &models.PrecedentReport{
		SearchQuery:   found.Query,
		Precedents:    []models.PrecedentMatch{},
		LocalResults:  len(found.Local),
		WebResults:    len(found.Web),
		WebSearchUsed: found.WebSearched,
	}

	scores := make([]float64, 0, len(found.Local)+len(found.Web))
	for _, s := range found.Local {
		report.Precedents = append(report.Precedents, localMatch(in.Case, s))
		scores = append(scores, s.Score)
	}
	for _, w := range found.Web {
		report.Precedents = append(report.Precedents, webMatch(w))
		scores = append(scores, w.Relevance)
	}
	report.TotalFound = len(report.Precedents)
	report.Confidence = retrieval.Confidence(scores)
	if res.Outcome == OutcomeFallback {
		report.Status = models.ReportFallback
	}

	res.Report = report
	return res, nil
}

// searchQuery asks the model for a semantic query. An empty query means the
// retriever's default is used.
func (a *Precedent) searchQuery(ctx context.Context, c *models.Case) (string, error) {
	out, err := a.gateway.GenerateStructured(ctx, caseformat.PrecedentSearchPrompt(c), caseformat.PrecedentSearchSchema)
	if err != nil {
		a.logger.Warn("search query generation failed, using default query", "case_id", c.ID, "error", err)
		return "", err
	}
	if out.Fallback {
		return "", nil
	}
	return strings.TrimSpace(out.String("search_query")), nil
}

func localMatch(c *models.Case, s retrieval.Scored) models.PrecedentMatch {
	p := s.Precedent
	m := models.PrecedentMatch{
		ID:                   p.ID.String(),
		CaseNumber:           p.CaseNumber,
		Court:                p.Court,
		Title:                p.Title,
		Summary:              p.Summary,
		Ruling:               p.Ruling,
		LegalReasoning:       p.LegalReasoning,
		Keywords:             nonNil(p.Keywords),
		CitedArticles:        nonNil(p.CitedArticles),
		Relevance:            p.Relevance,
		SimilarityScore:      retrieval.Round(s.Score, 3),
		RelevanceExplanation: explainRelevance(c, &p),
		Source:               models.SourceLocal,
	}
	if p.DecisionDate != nil {
		m.DecisionDate = p.DecisionDate.Format("2006-01-02")
	}
	if p.SourceURL != nil {
		m.URL = *p.SourceURL
	}
	if m.Relevance == "" {
		m.Relevance = models.RelevanceMedium
	}
	return m
}

func webMatch(w webfetch.Result) models.PrecedentMatch {
	sum := md5.Sum([]byte(w.URL))
	tier := models.RelevanceMedium
	if w.Relevance > 0.7 {
		tier = models.RelevanceHigh
	}
	return models.PrecedentMatch{
		ID:                   "web-" + hex.EncodeToString(sum[:]),
		CaseNumber:           "WEB-SEARCH",
		Court:                "Web source",
		Title:                w.Title,
		Summary:              w.Description,
		Ruling:               "N/A",
		LegalReasoning:       w.Description,
		Keywords:             []string{},
		CitedArticles:        []string{},
		Relevance:            tier,
		SimilarityScore:      retrieval.Round(w.Relevance, 3),
		RelevanceExplanation: "web search result",
		Source:               models.SourceWeb,
		URL:                  w.URL,
	}
}

// explainRelevance says in a few words why a precedent was matched.
func explainRelevance(c *models.Case, p *models.Precedent) string {
	var reasons []string

	category := strings.ToLower(string(c.Category))
	if category != "" && strings.Contains(strings.ToLower(p.Title), category) {
		reasons = append(reasons, fmt.Sprintf("same case category (%s)", c.Category))
	}

	words := make(map[string]bool)
	for _, w := range strings.Split(strings.ToLower(c.Description), " ") {
		words[w] = true
	}
	var common []string
	for _, k := range p.Keywords {
		k = strings.ToLower(k)
		if words[k] {
			common = append(common, k)
			if len(common) == 3 {
				break
			}
		}
	}
	if len(common) > 0 {
		reasons = append(reasons, "matching keywords: "+strings.Join(common, ", "))
	}

	if p.Relevance == models.RelevanceHigh {
		reasons = append(reasons, "high-relevance precedent")
	}

	if len(reasons) == 0 {
		return "thematic similarity"
	}
	return strings.Join(reasons, "; ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
