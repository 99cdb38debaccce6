package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"legalia-backend/models"
	"legalia-backend/orchestrator"
	"legalia-backend/service"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <analysis-id>",
	Short: "Show an analysis with its scores and executive summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var statsCmd = &cobra.Command{
	Use:   "stats <case-id>",
	Short: "Count a case's analyses by status and show per-agent stats of the latest run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseID("analysis", args[0])
	if err != nil {
		return err
	}
	owner, err := ownerFlag()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.service.Get(ctx, service.AnalysisRequest{AnalysisID: id, OwnerID: owner})
	if err != nil {
		return err
	}
	return printRun(cmd.OutOrStdout(), run)
}

func runStats(cmd *cobra.Command, args []string) error {
	caseID, err := parseID("case", args[0])
	if err != nil {
		return err
	}
	owner, err := ownerFlag()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.service.Stats(ctx, caseID, owner)
	if err != nil {
		return err
	}
	runs, err := a.service.List(ctx, service.ListRequest{CaseID: caseID, OwnerID: owner})
	if err != nil {
		return err
	}
	var agents map[string]orchestrator.AgentStats
	if len(runs) > 0 {
		agents = orchestrator.ExecutionStats(runs[0].ExecutionLog)
	}

	out := cmd.OutOrStdout()
	if rootFlags.json {
		return writeJSON(out, map[string]any{"analyses": stats, "latest_run_agents": agents})
	}

	fmt.Fprintf(out, "Analyses: %d\n", stats.Total)
	for _, status := range []models.AnalysisStatus{
		models.AnalysisPending, models.AnalysisProcessing, models.AnalysisCompleted, models.AnalysisFailed,
	} {
		fmt.Fprintf(out, "  %-10s %d\n", status, stats.ByStatus[status])
	}
	if len(runs) > 0 {
		fmt.Fprintf(out, "\nLatest run %s (version %d)\n", runs[0].ID, runs[0].Version)
		printAgentStats(out, agents)
	}
	return nil
}

func printRun(out io.Writer, run *models.AnalysisRun) error {
	if rootFlags.json {
		return writeJSON(out, run)
	}

	fmt.Fprintf(out, "Analysis %s\n", run.ID)
	fmt.Fprintf(out, "  case:     %s\n", run.CaseID)
	fmt.Fprintf(out, "  version:  %d\n", run.Version)
	fmt.Fprintf(out, "  status:   %s\n", run.Status)
	if run.ProcessingTime != nil {
		fmt.Fprintf(out, "  time:     %.2fs\n", *run.ProcessingTime)
	}
	if run.ErrorMessage != nil {
		fmt.Fprintf(out, "  error:    %s\n", *run.ErrorMessage)
	}
	if s := run.ConfidenceScores; s != nil {
		visual := "n/a"
		if s.VisualAnalysis != nil {
			visual = fmt.Sprintf("%.2f", *s.VisualAnalysis)
		}
		fmt.Fprintf(out, "  confidence: overall %.2f (coordinator %.2f, precedent %.2f, visual %s, arguments %.2f)\n",
			s.Overall, s.Coordinator, s.Precedent, visual, s.Arguments)
	}
	if run.ExecutiveSummary != nil {
		fmt.Fprintf(out, "\n%s", *run.ExecutiveSummary)
	}
	if len(run.ExecutionLog) > 0 {
		fmt.Fprintln(out)
		printAgentStats(out, orchestrator.ExecutionStats(run.ExecutionLog))
	}
	return nil
}

func printAgentStats(out io.Writer, stats map[string]orchestrator.AgentStats) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "  %-14s %10s %12s %7s\n", "AGENT", "EXECUTIONS", "TIME (ms)", "ERRORS")
	fmt.Fprintf(out, "  %s\n", strings.Repeat("-", 46))
	for _, name := range names {
		s := stats[name]
		fmt.Fprintf(out, "  %-14s %10d %12.1f %7d\n", name, s.Executions, s.TotalTimeMs, s.Errors)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
