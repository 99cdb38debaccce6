// Package orchestrator drives an analysis run through the agent pipeline:
// Coordinator, then Precedent and Visual side by side, then Arguments,
// followed by consolidation. Every step is recorded in the run's execution
// log and every agent result is persisted only while the run is processing.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"legalia-backend/agents"
	"legalia-backend/logging"
	"legalia-backend/models"
	"legalia-backend/repository"
	"legalia-backend/retrieval"
	"legalia-backend/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrRunCancelled is returned when the run left processing while the
// pipeline was still working on it. The pending result is discarded.
var ErrRunCancelled = errors.New("orchestrator: run cancelled")

// Execution log events
const (
	EventAnalysisStarted    = "analysis_started"
	EventAnalysisCompleted  = "analysis_completed"
	EventAnalysisFailed     = "analysis_failed"
	EventAnalysisCancelled  = "analysis_cancelled"
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventResultDiscarded    = "result_discarded"
	EventError              = "error"
)

// LogAgent is the agent name used for run-level log entries.
const LogAgent = "orchestrator"

// agentError is an error raised by an agent itself, as opposed to a
// persistence failure around it.
type agentError struct {
	agent string
	err   error
}

func (e *agentError) Error() string { return fmt.Sprintf("%s agent: %v", e.agent, e.err) }

func (e *agentError) Unwrap() error { return e.err }

// Orchestrator runs analysis pipelines.
type Orchestrator struct {
	cases    repository.CaseStore
	evidence repository.EvidenceStore
	analyses repository.AnalysisStore
	agents   agents.Pipeline
	logger   *slog.Logger
	now      func() time.Time

	tracer    trace.Tracer
	duration  metric.Float64Histogram
	fallbacks metric.Int64Counter
}

// Option is a functional option for Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock replaces time.Now, used for log timestamps and processing time
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator over the given stores and agents.
func New(cases repository.CaseStore, evidence repository.EvidenceStore, analyses repository.AnalysisStore, pipeline agents.Pipeline, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cases:    cases,
		evidence: evidence,
		analyses: analyses,
		agents:   pipeline,
		now:      time.Now,
		tracer:   telemetry.Tracer("legalia/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.New("orchestrator")
	}

	meter := telemetry.Meter("legalia/orchestrator")
	o.duration, _ = meter.Float64Histogram("legalia.agent.duration",
		metric.WithDescription("Agent execution time (ms)"),
		metric.WithUnit("ms"),
	)
	o.fallbacks, _ = meter.Int64Counter("legalia.agent.fallbacks",
		metric.WithDescription("Agent executions that produced a fallback report"),
	)
	return o
}

// Run executes the pipeline for a pending run. Fatal errors fail the run,
// send the case back to draft and are returned. ErrRunCancelled is returned
// when the run was cancelled mid-flight; the case is left alone in that case.
func (o *Orchestrator) Run(ctx context.Context, runID uuid.UUID) error {
	ctx, span := o.tracer.Start(ctx, "analysis.run",
		trace.WithAttributes(attribute.String("analysis.id", runID.String())),
	)
	defer span.End()

	run, err := o.analyses.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("orchestrator: load run %s: %w", runID, err)
	}
	span.SetAttributes(
		attribute.String("case.id", run.CaseID.String()),
		attribute.Int("analysis.version", run.Version),
	)

	started := o.now()
	if err := o.analyses.Start(ctx, runID, started); err != nil {
		return fmt.Errorf("orchestrator: start run %s: %w", runID, err)
	}
	o.appendLog(ctx, runID, LogAgent, EventAnalysisStarted, map[string]any{
		"case_id": run.CaseID.String(),
		"version": run.Version,
	})
	o.logger.Info("analysis started", "analysis_id", runID, "case_id", run.CaseID, "version", run.Version)

	if err := o.pipeline(ctx, run, started); err != nil {
		if errors.Is(err, ErrRunCancelled) {
			span.SetAttributes(attribute.Bool("analysis.cancelled", true))
			o.logger.Info("analysis cancelled, result discarded", "analysis_id", runID)
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(ctx, run, err)
		return fmt.Errorf("orchestrator: run %s: %w", runID, err)
	}

	if err := o.cases.UpdateStatus(ctx, run.CaseID, models.CaseStatusAnalyzed); err != nil {
		return fmt.Errorf("orchestrator: mark case %s analyzed: %w", run.CaseID, err)
	}
	return nil
}

func (o *Orchestrator) pipeline(ctx context.Context, run *models.AnalysisRun, started time.Time) error {
	kase, err := o.cases.GetByID(ctx, run.CaseID)
	if err != nil {
		return fmt.Errorf("load case: %w", err)
	}
	evidence, err := o.evidence.ListByCase(ctx, run.CaseID)
	if err != nil {
		return fmt.Errorf("load evidence: %w", err)
	}
	in := agents.Input{Case: kase, Evidence: evidence}

	res, err := o.execute(ctx, run.ID, o.agents.Coordinator, in)
	if err != nil {
		return err
	}
	coord, ok := res.Report.(*models.CoordinatorReport)
	if !ok {
		return fmt.Errorf("coordinator returned %T", res.Report)
	}

	var (
		prec   *models.PrecedentReport
		visual *models.VisualReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := o.execute(gctx, run.ID, o.agents.Precedent, in)
		if report, ok := res.Report.(*models.PrecedentReport); err == nil && ok {
			prec = report
			return nil
		}
		if err = o.degrade(gctx, run.ID, models.AgentPrecedent, err); err != nil {
			return err
		}
		prec = emptyPrecedentReport()
		return o.save(gctx, run.ID, models.AgentPrecedent, prec)
	})
	if len(in.VisualEvidence()) > 0 {
		g.Go(func() error {
			res, err := o.execute(gctx, run.ID, o.agents.Visual, in)
			if report, ok := res.Report.(*models.VisualReport); err == nil && ok {
				visual = report
				return o.markAnalyzed(gctx, report)
			}
			if err = o.degrade(gctx, run.ID, models.AgentVisual, err); err != nil {
				return err
			}
			visual = emptyVisualReport()
			return o.save(gctx, run.ID, models.AgentVisual, visual)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	in.Precedents = prec.Precedents
	in.Visual = visual
	res, err = o.execute(ctx, run.ID, o.agents.Arguments, in)
	if err != nil {
		return err
	}
	args, ok := res.Report.(*models.ArgumentsReport)
	if !ok {
		return fmt.Errorf("arguments returned %T", res.Report)
	}

	return o.complete(ctx, run, started, coord, prec, visual, args)
}

// execute runs one agent, records its log entries and metrics and persists
// its report.
func (o *Orchestrator) execute(ctx context.Context, runID uuid.UUID, agent agents.Agent, in agents.Input) (agents.Result, error) {
	name := agent.Name()
	ctx, span := o.tracer.Start(ctx, "agent."+name)
	defer span.End()

	o.appendLog(ctx, runID, name, EventExecutionStarted, nil)
	start := time.Now()
	res, err := agent.Execute(ctx, in)
	elapsed := time.Since(start)
	ms := float64(elapsed.Microseconds()) / 1000

	attrs := metric.WithAttributes(attribute.String("agent", name))
	o.duration.Record(ctx, ms, attrs)

	if err == nil && res.Report == nil {
		err = errors.New("no report produced")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.appendLog(ctx, runID, name, EventExecutionFailed, map[string]any{
			"execution_time_ms": ms,
			"error":             err.Error(),
		})
		o.logger.Error("agent failed", "agent", name, "analysis_id", runID, "error", err)
		return res, &agentError{agent: name, err: err}
	}

	if res.Outcome == agents.OutcomeFallback {
		o.fallbacks.Add(ctx, 1, attrs)
	}
	span.SetAttributes(attribute.String("agent.outcome", string(res.Outcome)))

	size := 0
	if data, merr := json.Marshal(res.Report); merr == nil {
		size = len(data)
	}
	data := map[string]any{
		"execution_time_ms": ms,
		"result_size":       size,
		"outcome":           string(res.Outcome),
	}
	if res.Cause != nil {
		data["cause"] = res.Cause.Error()
	}
	o.appendLog(ctx, runID, name, EventExecutionCompleted, data)

	if err := o.save(ctx, runID, name, res.Report); err != nil {
		return res, err
	}
	return res, nil
}

// degrade records a non-fatal agent failure. Anything other than an agent's
// own error is returned unchanged as fatal.
func (o *Orchestrator) degrade(ctx context.Context, runID uuid.UUID, agent string, err error) error {
	var ae *agentError
	if err != nil && !errors.As(err, &ae) {
		return err
	}
	msg := "no report produced"
	if err != nil {
		msg = err.Error()
	}
	o.appendLog(ctx, runID, agent, EventError, map[string]any{
		"error":  msg,
		"action": "continuing with empty result",
	})
	o.logger.Warn("agent failed, continuing with empty result", "agent", agent, "analysis_id", runID, "error", msg)
	return nil
}

// save persists an agent report. A guard miss means the run is no longer
// processing: the report is dropped and ErrRunCancelled returned.
func (o *Orchestrator) save(ctx context.Context, runID uuid.UUID, agent string, report any) error {
	err := o.analyses.SaveAgentResult(ctx, runID, agent, report)
	if errors.Is(err, repository.ErrInvalidTransition) {
		o.appendLog(ctx, runID, agent, EventResultDiscarded, nil)
		return ErrRunCancelled
	}
	if err != nil {
		return fmt.Errorf("save %s result: %w", agent, err)
	}
	return nil
}

// markAnalyzed flags every successfully analyzed evidence item.
func (o *Orchestrator) markAnalyzed(ctx context.Context, report *models.VisualReport) error {
	for _, entry := range report.Analysis {
		if entry.Status != models.VisualStatusSuccess {
			continue
		}
		result, err := toJSONMap(entry)
		if err != nil {
			return err
		}
		err = o.evidence.MarkAnalyzed(ctx, entry.EvidenceID, result)
		if errors.Is(err, repository.ErrAlreadyAnalyzed) {
			o.logger.Debug("evidence already analyzed", "evidence_id", entry.EvidenceID)
			continue
		}
		if err != nil {
			return fmt.Errorf("mark evidence %s analyzed: %w", entry.EvidenceID, err)
		}
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, run *models.AnalysisRun, started time.Time, coord *models.CoordinatorReport, prec *models.PrecedentReport, visual *models.VisualReport, args *models.ArgumentsReport) error {
	scores := Confidence(coord, prec, visual, args)
	completed := o.now()
	processing := completed.Sub(started).Seconds()

	err := o.analyses.Complete(ctx, run.ID, models.Consolidation{
		LegalElements:        coord.LegalElements,
		RelevantPrecedents:   prec.Precedents,
		DefenseLines:         args.DefenseLines,
		AlternativeScenarios: args.AlternativeScenarios,
		ConfidenceScores:     scores,
		ExecutiveSummary:     ExecutiveSummary(coord, prec, visual, args),
		ProcessingTime:       processing,
		CompletedAt:          completed,
	})
	if errors.Is(err, repository.ErrInvalidTransition) {
		o.appendLog(ctx, run.ID, LogAgent, EventResultDiscarded, nil)
		return ErrRunCancelled
	}
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}

	o.appendLog(ctx, run.ID, LogAgent, EventAnalysisCompleted, map[string]any{
		"total_time":         retrieval.Round(processing, 2),
		"overall_confidence": scores.Overall,
	})
	o.logger.Info("analysis completed",
		"analysis_id", run.ID,
		"case_id", run.CaseID,
		"processing_time", processing,
		"overall_confidence", scores.Overall,
	)
	return nil
}

// fail moves the run to failed and the case back to draft. It runs on a
// context detached from cancellation so cleanup survives a cancelled caller.
func (o *Orchestrator) fail(ctx context.Context, run *models.AnalysisRun, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := cause.Error()

	if err := o.analyses.Fail(ctx, run.ID, reason); err != nil {
		o.logger.Error("failed to mark run failed", "analysis_id", run.ID, "error", err)
	}
	o.appendLog(ctx, run.ID, LogAgent, EventAnalysisFailed, map[string]any{"error": reason})
	if err := o.cases.UpdateStatus(ctx, run.CaseID, models.CaseStatusDraft); err != nil {
		o.logger.Error("failed to reset case status", "case_id", run.CaseID, "error", err)
	}
	o.logger.Error("analysis failed", "analysis_id", run.ID, "case_id", run.CaseID, "error", reason)
}

// appendLog writes one log entry. The log is diagnostic, so a failed append
// is reported but does not stop the pipeline.
func (o *Orchestrator) appendLog(ctx context.Context, runID uuid.UUID, agent, event string, data map[string]any) {
	entry := models.LogEntry{
		Timestamp: o.now().UTC(),
		Agent:     agent,
		Event:     event,
		Data:      data,
	}
	if err := o.analyses.AppendLog(ctx, runID, entry); err != nil {
		o.logger.Warn("failed to append execution log", "analysis_id", runID, "event", event, "error", err)
	}
}

func emptyPrecedentReport() *models.PrecedentReport {
	return &models.PrecedentReport{
		Precedents: []models.PrecedentMatch{},
		Status:     models.ReportFallback,
	}
}

func emptyVisualReport() *models.VisualReport {
	return &models.VisualReport{
		Analysis:    []models.EvidenceAnalysis{},
		Summary:     "Visual evidence could not be analyzed",
		KeyFindings: []models.KeyFinding{},
		Status:      models.ReportFallback,
	}
}

func toJSONMap(v any) (models.JSONMap, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode analysis result: %w", err)
	}
	var m models.JSONMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode analysis result: %w", err)
	}
	return m, nil
}
