package main

import (
	"fmt"

	"legalia-backend/service"

	"github.com/spf13/cobra"
)

var analyzeFlags struct {
	detach bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <case-id>",
	Short: "Start an analysis of a case and run the agent pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze <case-id>",
	Short: "Create a new pending analysis version linked to the previous one",
	Long: `Creates the next analysis version of a case, linked to the latest run.
The new run stays pending; start it with 'casectl run'.`,
	Args: cobra.ExactArgs(1),
	RunE: runReanalyze,
}

var runCmd = &cobra.Command{
	Use:   "run <analysis-id>",
	Short: "Run the agent pipeline for a pending analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <analysis-id>",
	Short: "Cancel an analysis that is processing",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeFlags.detach, "detach", false, "Only create the run; do not process it")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
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

	res, err := a.service.Analyze(ctx, service.AnalyzeRequest{CaseID: caseID, OwnerID: owner})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created analysis %s (version %d)\n", res.Analysis.ID, res.Analysis.Version)
	if analyzeFlags.detach {
		return nil
	}

	if err := a.service.Process(ctx, res.Analysis.ID); err != nil {
		return fmt.Errorf("process analysis %s: %w", res.Analysis.ID, err)
	}
	run, err := a.service.Get(ctx, service.AnalysisRequest{AnalysisID: res.Analysis.ID, OwnerID: owner})
	if err != nil {
		return err
	}
	return printRun(out, run)
}

func runReanalyze(cmd *cobra.Command, args []string) error {
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

	res, err := a.service.Reanalyze(ctx, service.AnalyzeRequest{CaseID: caseID, OwnerID: owner})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created analysis %s (version %d, pending)\n", res.Analysis.ID, res.Analysis.Version)
	if res.Analysis.PreviousAnalysisID != nil {
		fmt.Fprintf(out, "Previous analysis: %s\n", *res.Analysis.PreviousAnalysisID)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
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

	req := service.AnalysisRequest{AnalysisID: id, OwnerID: owner}
	// Ownership check before the runner, which does not know about owners.
	if _, err := a.service.Get(ctx, req); err != nil {
		return err
	}
	if err := a.service.Process(ctx, id); err != nil {
		return fmt.Errorf("process analysis %s: %w", id, err)
	}
	run, err := a.service.Get(ctx, req)
	if err != nil {
		return err
	}
	return printRun(cmd.OutOrStdout(), run)
}

func runCancel(cmd *cobra.Command, args []string) error {
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

	run, err := a.service.Cancel(ctx, service.AnalysisRequest{AnalysisID: id, OwnerID: owner})
	if err != nil {
		return err
	}
	return printRun(cmd.OutOrStdout(), run)
}
