// Package agents holds the four specialized steps of the analysis pipeline.
// Each agent turns a case and the output of earlier steps into one typed
// report, degrading to a fallback report instead of failing when the model
// is unavailable.
package agents

import (
	"context"
	"log/slog"

	"legalia-backend/gateway"
	"legalia-backend/lexicon"
	"legalia-backend/logging"
	"legalia-backend/models"
)

// Outcome tells how an agent produced its report.
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeFallback  Outcome = "fallback"
	OutcomeSkipped   Outcome = "skipped"
)

// Report is implemented by every agent report type.
type Report interface {
	Score() float64
}

// Input is what an agent may read. Later agents see the output of earlier ones.
type Input struct {
	Case       *models.Case
	Evidence   []models.Evidence
	Precedents []models.PrecedentMatch
	Visual     *models.VisualReport
}

// VisualEvidence returns the evidence items eligible for image analysis.
func (in Input) VisualEvidence() []models.Evidence {
	var out []models.Evidence
	for _, e := range in.Evidence {
		if e.IsVisual() {
			out = append(out, e)
		}
	}
	return out
}

// Result is the outcome of one agent execution.
type Result struct {
	Agent   string
	Outcome Outcome
	Report  Report
	// Cause is set when the report is a fallback produced after an error.
	Cause error
}

// Agent is one step of the pipeline.
type Agent interface {
	Name() string
	Execute(ctx context.Context, in Input) (Result, error)
}

// Option configures an agent.
type Option func(*options)

type options struct {
	logger *slog.Logger
	lex    *lexicon.Lexicon
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLexicon replaces the built-in keyword dictionaries.
func WithLexicon(lex *lexicon.Lexicon) Option {
	return func(o *options) {
		o.lex = lex
	}
}

func buildOptions(component string, opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.New(component)
	}
	if o.lex == nil {
		o.lex = lexicon.Default()
	}
	return o
}

// Pipeline is the fixed set of agents run for every analysis.
type Pipeline struct {
	Coordinator Agent
	Precedent   Agent
	Visual      Agent
	Arguments   Agent
}

// NewPipeline wires the four agents around one shared gateway.
func NewPipeline(gw gateway.Gateway, retriever Retriever, opts ...Option) Pipeline {
	return Pipeline{
		Coordinator: NewCoordinator(gw, opts...),
		Precedent:   NewPrecedent(gw, retriever, opts...),
		Visual:      NewVisual(gw, opts...),
		Arguments:   NewArguments(gw, opts...),
	}
}
