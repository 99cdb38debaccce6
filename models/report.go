package models

import (
	"github.com/google/uuid"
)

// ReportFallback marks agent output that was produced without the model
const ReportFallback = "fallback"

// Per-evidence visual analysis statuses
const (
	VisualStatusSuccess  = "success"
	VisualStatusError    = "error"
	VisualStatusFallback = "fallback"
)

// Match sources
const (
	SourceLocal = "local"
	SourceWeb   = "web"
)

// CoordinatorReport is the initial assessment of a case
type CoordinatorReport struct {
	LegalElements          []string `json:"legal_elements"`
	CaseClassification     string   `json:"case_classification"`
	ComplexityLevel        string   `json:"complexity_level"`
	RecommendedApproach    string   `json:"recommended_approach"`
	PrecedentSearchAreas   []string `json:"precedent_search_areas"`
	VisualEvidencePriority string   `json:"visual_evidence_priority"`
	EstimatedStrength      string   `json:"estimated_strength"`
	KeyChallenges          []string `json:"key_challenges"`
	Confidence             float64  `json:"confidence"`
	Status                 string   `json:"status,omitempty"`
}

// Score returns the report confidence
func (r *CoordinatorReport) Score() float64 { return r.Confidence }

// PrecedentMatch is a retrieved precedent annotated for a specific case
type PrecedentMatch struct {
	ID                   string        `json:"id"`
	CaseNumber           string        `json:"case_number"`
	Court                string        `json:"court"`
	DecisionDate         string        `json:"decision_date,omitempty"`
	Title                string        `json:"title"`
	Summary              string        `json:"summary"`
	Ruling               string        `json:"ruling,omitempty"`
	LegalReasoning       string        `json:"legal_reasoning,omitempty"`
	Keywords             []string      `json:"keywords"`
	CitedArticles        []string      `json:"cited_articles"`
	Relevance            RelevanceTier `json:"relevance"`
	SimilarityScore      float64       `json:"similarity_score"`
	RelevanceExplanation string        `json:"relevance_explanation"`
	Source               string        `json:"source"`
	URL                  string        `json:"url,omitempty"`
}

// PrecedentReport is the outcome of the precedent search step
type PrecedentReport struct {
	SearchQuery   string           `json:"search_query"`
	Precedents    []PrecedentMatch `json:"precedents"`
	TotalFound    int              `json:"total_found"`
	LocalResults  int              `json:"local_results"`
	WebResults    int              `json:"web_results"`
	WebSearchUsed bool             `json:"web_search_used"`
	Confidence    float64          `json:"confidence"`
	Status        string           `json:"status,omitempty"`
}

// Score returns the report confidence
func (r *PrecedentReport) Score() float64 { return r.Confidence }

// KeyElements counts what an image description mentions
type KeyElements struct {
	People       int  `json:"people"`
	Vehicles     int  `json:"vehicles"`
	TrafficSigns int  `json:"traffic_signs"`
	Damage       bool `json:"damage"`
}

// FallbackNote replaces a failed image analysis
type FallbackNote struct {
	Status   string `json:"status"`
	Analysis string `json:"analysis"`
	Note     string `json:"note"`
}

// EvidenceAnalysis is the visual analysis of one evidence item
type EvidenceAnalysis struct {
	EvidenceID     uuid.UUID     `json:"evidence_id"`
	Title          string        `json:"title"`
	Kind           EvidenceKind  `json:"kind"`
	Status         string        `json:"status"`
	Analysis       string        `json:"analysis,omitempty"`
	KeyElements    *KeyElements  `json:"key_elements,omitempty"`
	LegalRelevance RelevanceTier `json:"legal_relevance,omitempty"`
	Confidence     float64       `json:"confidence"`
	Message        string        `json:"message,omitempty"`
	Fallback       *FallbackNote `json:"fallback_analysis,omitempty"`
}

// KeyFinding summarises one successfully analyzed item
type KeyFinding struct {
	Evidence  string        `json:"evidence"`
	Elements  KeyElements   `json:"elements"`
	Relevance RelevanceTier `json:"relevance"`
}

// VisualReport is the outcome of the visual evidence step
type VisualReport struct {
	Analysis    []EvidenceAnalysis `json:"analysis"`
	Summary     string             `json:"summary"`
	KeyFindings []KeyFinding       `json:"key_findings"`
	Confidence  float64            `json:"confidence"`
	Status      string             `json:"status,omitempty"`
}

// Score returns the report confidence
func (r *VisualReport) Score() float64 { return r.Confidence }

// DefenseLine is one line of argument for the case
type DefenseLine struct {
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Strengths            []string `json:"strengths"`
	Weaknesses           []string `json:"weaknesses"`
	SupportingPrecedents []string `json:"supporting_precedents"`
	ProbabilityOfSuccess string   `json:"probability_of_success"`
}

// Scenario is a possible way the case could resolve
type Scenario struct {
	Scenario     string `json:"scenario"`
	Likelihood   string `json:"likelihood"`
	Implications string `json:"implications"`
}

// ArgumentsReport is the strategy produced from all prior steps
type ArgumentsReport struct {
	DefenseLines         []DefenseLine `json:"defense_lines"`
	AlternativeScenarios []Scenario    `json:"alternative_scenarios"`
	RecommendedStrategy  string        `json:"recommended_strategy"`
	KeyArguments         []string      `json:"key_arguments"`
	Risks                []string      `json:"risks"`
	Confidence           float64       `json:"confidence"`
	Status               string        `json:"status,omitempty"`
}

// Score returns the report confidence
func (r *ArgumentsReport) Score() float64 { return r.Confidence }

// ConfidenceScores aggregates per-agent confidence for a run
type ConfidenceScores struct {
	Coordinator    float64  `json:"coordinator"`
	Precedent      float64  `json:"precedent"`
	VisualAnalysis *float64 `json:"visual_analysis"`
	Arguments      float64  `json:"arguments"`
	Overall        float64  `json:"overall"`
}

// Agent names used in reports, logs and storage columns
const (
	AgentCoordinator = "coordinator"
	AgentPrecedent   = "precedent"
	AgentVisual      = "visual"
	AgentArguments   = "arguments"
)
