package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	owner string
	json  bool
}

var rootCmd = &cobra.Command{
	Use:   "casectl",
	Short: "Operate legal case analyses",
	Long:  "casectl starts, inspects and cancels multi-agent analyses of legal cases\nagainst the configured database and model gateway.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.owner, "owner", "", "Only act on cases owned by this user ID")
	pf.BoolVar(&rootFlags.json, "json", false, "Print results as JSON")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reanalyzeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ownerFlag() (*uuid.UUID, error) {
	if rootFlags.owner == "" {
		return nil, nil
	}
	id, err := uuid.Parse(rootFlags.owner)
	if err != nil {
		return nil, fmt.Errorf("invalid --owner: %w", err)
	}
	return &id, nil
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s ID %q: %w", kind, raw, err)
	}
	return id, nil
}
