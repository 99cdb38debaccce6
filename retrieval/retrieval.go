// Package retrieval finds precedents similar to a case: embedding similarity
// over stored precedents, a keyword fallback when no embeddings are usable,
// and optional web results.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode"

	"legalia-backend/gateway"
	"legalia-backend/lexicon"
	"legalia-backend/logging"
	"legalia-backend/models"
	"legalia-backend/repository"
	"legalia-backend/webfetch"
)

const (
	// SimilarityThreshold is the exclusive lower bound for a local match.
	SimilarityThreshold = 0.7
	// MaxResults caps local matches.
	MaxResults = 10
	// CandidateLimit caps how many stored precedents are scored per query.
	CandidateLimit = 100
	// KeywordScore is assigned to every keyword-fallback match.
	KeywordScore = 0.75
	// WebLimit caps web results.
	WebLimit = 5

	keywordWordCount = 5
	keywordMinLength = 6
)

// WebSearcher finds precedents outside the local store.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]webfetch.Result, error)
}

// Scored is a stored precedent with its similarity to the query.
type Scored struct {
	Precedent models.Precedent
	Score     float64
}

// Result is the outcome of one retrieval.
type Result struct {
	Query string
	Local []Scored
	Web   []webfetch.Result
	// Keywords is set when the keyword fallback produced Local.
	Keywords []string
	// WebSearched reports whether a web searcher was consulted.
	WebSearched bool
}

// Retriever ranks precedents for a case.
type Retriever struct {
	gateway        gateway.Gateway
	store          repository.PrecedentStore
	web            WebSearcher
	lex            *lexicon.Lexicon
	logger         *slog.Logger
	threshold      float64
	maxResults     int
	candidateLimit int
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithWebSearcher enables merging web results
func WithWebSearcher(web WebSearcher) Option {
	return func(r *Retriever) {
		r.web = web
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// WithLexicon replaces the embedded lexicon
func WithLexicon(lex *lexicon.Lexicon) Option {
	return func(r *Retriever) {
		r.lex = lex
	}
}

// WithLimits overrides the threshold, result cap and candidate cap
func WithLimits(threshold float64, maxResults, candidateLimit int) Option {
	return func(r *Retriever) {
		r.threshold = threshold
		r.maxResults = maxResults
		r.candidateLimit = candidateLimit
	}
}

// New creates a retriever
func New(gw gateway.Gateway, store repository.PrecedentStore, opts ...Option) *Retriever {
	r := &Retriever{
		gateway:        gw,
		store:          store,
		lex:            lexicon.Default(),
		threshold:      SimilarityThreshold,
		maxResults:     MaxResults,
		candidateLimit: CandidateLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.New("retrieval")
	}
	return r
}

// DefaultQuery is the query used when no better one is available.
func DefaultQuery(c *models.Case) string {
	return fmt.Sprintf("%s %s", c.Category, c.Title)
}

// Retrieve returns the precedents most similar to query, or to the case's
// default query when query is empty. Store failures are returned; web
// failures are logged and ignored.
func (r *Retriever) Retrieve(ctx context.Context, c *models.Case, query string) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery(c)
	}
	res := &Result{Query: query}

	emb, err := r.gateway.GenerateEmbedding(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, using keyword search", "error", err)
	}

	var candidates []models.Precedent
	if err == nil && !emb.Fallback {
		candidates, err = r.store.Candidates(ctx, emb.Values, r.candidateLimit)
		if err != nil {
			return nil, fmt.Errorf("retrieval: load candidates: %w", err)
		}
	}

	if len(candidates) > 0 {
		res.Local = r.rank(emb.Values, candidates)
	} else {
		res.Keywords = r.Keywords(c)
		found, err := r.store.SearchByKeywords(ctx, res.Keywords, r.maxResults)
		if err != nil {
			return nil, fmt.Errorf("retrieval: keyword search: %w", err)
		}
		for _, p := range found {
			res.Local = append(res.Local, Scored{Precedent: p, Score: KeywordScore})
		}
	}

	if r.web != nil {
		res.WebSearched = true
		web, err := r.web.Search(ctx, query, WebLimit)
		if err != nil {
			r.logger.Warn("web precedent search failed, continuing with local results", "error", err)
		}
		if len(web) > WebLimit {
			web = web[:WebLimit]
		}
		res.Web = web
	}

	return res, nil
}

// rank scores candidates, keeps those above the threshold and returns the best first.
func (r *Retriever) rank(query []float32, candidates []models.Precedent) []Scored {
	var scored []Scored
	for _, p := range candidates {
		if !p.HasEmbedding() {
			continue
		}
		score := CosineSimilarity(query, p.Embedding.Slice())
		if score > r.threshold {
			scored = append(scored, Scored{Precedent: p, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > r.maxResults {
		scored = scored[:r.maxResults]
	}
	return scored
}

// Keywords returns the category terms plus the first five words longer than
// six characters in the case text, lowercased, with duplicates dropped.
func (r *Retriever) Keywords(c *models.Case) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(w string) {
		if w != "" && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}

	for _, term := range r.lex.CategoryTerms(string(c.Category)) {
		add(strings.ToLower(term))
	}

	text := strings.ToLower(strings.Join([]string{c.Title, c.Description, c.Facts}, " "))
	taken := 0
	for _, word := range strings.Fields(text) {
		if taken == keywordWordCount {
			break
		}
		word = strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(word)) > keywordMinLength {
			add(word)
			taken++
		}
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b. It is 0
// for empty vectors, vectors of different length and zero-magnitude vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Confidence scores a result set: 0.3 when empty, otherwise
// 0.7 times the mean score plus 0.3 times min(n/10, 1), rounded to 2 decimals.
func Confidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.3
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))
	coverage := math.Min(float64(len(scores))/10, 1)
	return Round(mean*0.7+coverage*0.3, 2)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
