package orchestrator

import (
	"fmt"
	"strings"

	"legalia-backend/models"
)

// ExecutiveSummary renders the markdown summary of a completed run. Sections
// without data are left out.
func ExecutiveSummary(coord *models.CoordinatorReport, prec *models.PrecedentReport, visual *models.VisualReport, args *models.ArgumentsReport) string {
	var b strings.Builder

	b.WriteString("# EXECUTIVE SUMMARY\n\n")

	if coord != nil && len(coord.LegalElements) > 0 {
		b.WriteString("## Key Legal Elements\n")
		for _, e := range coord.LegalElements {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	if prec != nil && len(prec.Precedents) > 0 {
		b.WriteString("## Legal Precedents\n")
		fmt.Fprintf(&b, "%d relevant precedents were identified in support of the lines of argument.\n\n", len(prec.Precedents))
	}

	if visual != nil && len(visual.Analysis) > 0 {
		b.WriteString("## Visual Evidence\n")
		fmt.Fprintf(&b, "%s\n\n", visual.Summary)
	}

	if args != nil && len(args.DefenseLines) > 0 {
		b.WriteString("## Recommended Strategy\n")
		fmt.Fprintf(&b, "%d possible lines of argument were identified. ", len(args.DefenseLines))
		b.WriteString("The most promising strategy is detailed in the full analysis.\n\n")
	}

	if args != nil && args.RecommendedStrategy != "" {
		b.WriteString("## Final Recommendation\n")
		fmt.Fprintf(&b, "%s\n", args.RecommendedStrategy)
	}

	return b.String()
}
