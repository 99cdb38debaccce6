// Package caseformat renders cases, evidence and precedents into the
// markdown prompt bodies the agents send to the model. Every function is
// pure and omits absent optional fields.
package caseformat

import (
	"encoding/json"
	"fmt"
	"strings"

	"legalia-backend/models"
)

const dateLayout = "2006-01-02"

// Case renders the case with its evidence inventory.
func Case(c *models.Case, evidence []models.Evidence) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# LEGAL CASE: %s\n\n", c.Title)
	b.WriteString("## General Information\n")
	fmt.Fprintf(&b, "- **Case type:** %s\n", c.Category)
	fmt.Fprintf(&b, "- **Status:** %s\n", c.Status)
	if c.IncidentDate != nil {
		fmt.Fprintf(&b, "- **Incident date:** %s\n", c.IncidentDate.Format(dateLayout))
	}

	if !c.Parties.Empty() {
		b.WriteString("\n## Parties\n")
		if c.Parties.Plaintiff != "" {
			fmt.Fprintf(&b, "- **Plaintiff:** %s\n", c.Parties.Plaintiff)
		}
		if c.Parties.Defendant != "" {
			fmt.Fprintf(&b, "- **Defendant:** %s\n", c.Parties.Defendant)
		}
	}

	if c.Description != "" {
		b.WriteString("\n## Description\n")
		b.WriteString(c.Description)
		b.WriteString("\n")
	}

	if c.Facts != "" {
		b.WriteString("\n## Facts\n")
		b.WriteString(c.Facts)
		b.WriteString("\n")
	}

	if len(evidence) > 0 {
		b.WriteString("\n## Evidence\n")
		fmt.Fprintf(&b, "Total evidence items: %d\n\n", len(evidence))
		for _, e := range evidence {
			fmt.Fprintf(&b, "### %s\n", e.Title)
			fmt.Fprintf(&b, "- **Type:** %s\n", e.Kind)
			if e.Description != "" {
				fmt.Fprintf(&b, "- **Description:** %s\n", e.Description)
			}
			if e.IsAnalyzed && len(e.AnalysisResult) > 0 {
				if data, err := json.Marshal(e.AnalysisResult); err == nil {
					fmt.Fprintf(&b, "- **Analysis:** %s\n", data)
				}
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// Precedents renders retrieved precedents, separated by horizontal rules.
func Precedents(matches []models.PrecedentMatch) string {
	if len(matches) == 0 {
		return "No relevant precedents were found.\n"
	}

	var b strings.Builder
	b.WriteString("# RELEVANT LEGAL PRECEDENTS\n\n")
	fmt.Fprintf(&b, "Total precedents found: %d\n\n", len(matches))

	for i, m := range matches {
		fmt.Fprintf(&b, "## Precedent #%d: %s\n", i+1, m.Title)
		if m.CaseNumber != "" {
			fmt.Fprintf(&b, "- **Case number:** %s\n", m.CaseNumber)
		}
		if m.Court != "" {
			fmt.Fprintf(&b, "- **Court:** %s\n", m.Court)
		}
		if m.DecisionDate != "" {
			fmt.Fprintf(&b, "- **Decision date:** %s\n", m.DecisionDate)
		}
		if m.Relevance != "" {
			fmt.Fprintf(&b, "- **Relevance:** %s\n", m.Relevance)
		}
		if len(m.Keywords) > 0 {
			fmt.Fprintf(&b, "- **Keywords:** %s\n", strings.Join(m.Keywords, ", "))
		}
		if m.Summary != "" {
			fmt.Fprintf(&b, "\n**Summary:**\n%s\n", m.Summary)
		}
		if m.Ruling != "" {
			fmt.Fprintf(&b, "\n**Ruling:**\n%s\n", m.Ruling)
		}
		if m.LegalReasoning != "" {
			fmt.Fprintf(&b, "\n**Legal reasoning:**\n%s\n", m.LegalReasoning)
		}
		b.WriteString("\n---\n\n")
	}

	return b.String()
}

// VisualEvidence renders the prompt body for analyzing one evidence item.
func VisualEvidence(c *models.Case, e *models.Evidence) string {
	var b strings.Builder

	b.WriteString("# VISUAL EVIDENCE ANALYSIS\n\n")
	b.WriteString("## Case Context\n")
	fmt.Fprintf(&b, "**Case:** %s\n", c.Title)
	fmt.Fprintf(&b, "**Type:** %s\n\n", c.Category)

	b.WriteString("## Evidence\n")
	fmt.Fprintf(&b, "**Title:** %s\n", e.Title)
	fmt.Fprintf(&b, "**Type:** %s\n", e.Kind)
	if e.Description != "" {
		fmt.Fprintf(&b, "**Description:** %s\n", e.Description)
	}

	b.WriteString("\n## Task\n")
	b.WriteString("Analyze this visual evidence in the context of the legal case. ")
	b.WriteString("Identify relevant elements such as people, vehicles, objects, actions and environmental conditions, ")
	b.WriteString("and any detail that could matter for the legal analysis of the case.\n")

	return b.String()
}

// PrecedentSearchPrompt asks the model for a semantic search query.
func PrecedentSearchPrompt(c *models.Case) string {
	var b strings.Builder

	b.WriteString("Generate a search query to find relevant legal precedents.\n\n")
	fmt.Fprintf(&b, "**Case:** %s\n", c.Title)
	fmt.Fprintf(&b, "**Type:** %s\n", c.Category)
	if c.Description != "" {
		fmt.Fprintf(&b, "**Description:** %s\n", c.Description)
	}
	if c.Facts != "" {
		fmt.Fprintf(&b, "\n**Key facts:**\n%s\n", c.Facts)
	}

	b.WriteString("\nGenerate:\n")
	b.WriteString("1. A semantic search query (one or two sentences)\n")
	b.WriteString("2. Five to seven relevant keywords\n")
	b.WriteString("3. The applicable areas of law\n")

	return b.String()
}

// PrecedentSearchSchema is the JSON shape expected back from PrecedentSearchPrompt.
const PrecedentSearchSchema = `{"search_query": "", "keywords": [], "legal_areas": []}`

// CoordinatorPrompt asks for the initial case assessment.
func CoordinatorPrompt(c *models.Case, evidence []models.Evidence) string {
	var b strings.Builder

	b.WriteString("You are the Coordinator Agent of a legal analysis system.\n\n")
	b.WriteString("Assess the following case and plan the work of the specialized agents:\n")
	b.WriteString("- Precedent Agent: finds relevant case law\n")
	b.WriteString("- Visual Agent: analyzes photographic and video evidence\n")
	b.WriteString("- Arguments Agent: builds lines of defense or prosecution\n\n")

	b.WriteString(Case(c, evidence))
	b.WriteString("\n")

	b.WriteString("Provide an initial assessment including:\n")
	b.WriteString("1. Key legal elements of the case\n")
	b.WriteString("2. Areas that require precedent research\n")
	b.WriteString("3. How much the visual evidence matters\n")
	b.WriteString("4. Initial strength of the position and main challenges\n")
	b.WriteString("5. The recommended approach\n")

	return b.String()
}

// CoordinatorSchema is the JSON shape expected back from CoordinatorPrompt.
const CoordinatorSchema = `{
  "legal_elements": ["string"],
  "case_classification": "string",
  "complexity_level": "low|medium|high",
  "recommended_approach": "string",
  "precedent_search_areas": ["string"],
  "visual_evidence_priority": "low|medium|high",
  "estimated_strength": "weak|moderate|strong",
  "key_challenges": ["string"],
  "confidence": 0.0
}`

// ArgumentsPrompt asks for defense lines given everything gathered so far.
// visual may be nil.
func ArgumentsPrompt(c *models.Case, evidence []models.Evidence, precedents []models.PrecedentMatch, visual *models.VisualReport) string {
	var b strings.Builder

	b.WriteString("You are the Arguments Agent of a legal analysis system. Build lines of argument for the following case.\n\n")
	b.WriteString(Case(c, evidence))
	b.WriteString("\n")

	if len(precedents) > 0 {
		b.WriteString(Precedents(precedents))
		b.WriteString("\n")
	}

	if visual != nil && len(visual.Analysis) > 0 {
		b.WriteString("## Visual Evidence Analysis\n")
		if data, err := json.MarshalIndent(visual.Analysis, "", "  "); err == nil {
			b.Write(data)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("Generate:\n")
	b.WriteString("1. Three to five main lines of defense or prosecution\n")
	b.WriteString("2. For each line: strengths, weaknesses and supporting precedents\n")
	b.WriteString("3. The most promising strategy\n")
	b.WriteString("4. Alternative resolution scenarios\n")
	b.WriteString("5. The key arguments and the main risks\n")

	return b.String()
}

// ArgumentsSchema is the JSON shape expected back from ArgumentsPrompt.
const ArgumentsSchema = `{
  "defense_lines": [{"title": "", "description": "", "strengths": [], "weaknesses": [], "supporting_precedents": [], "probability_of_success": "low|medium|high"}],
  "alternative_scenarios": [{"scenario": "", "likelihood": "low|medium|high", "implications": ""}],
  "recommended_strategy": "",
  "key_arguments": [],
  "risks": [],
  "confidence": 0.0
}`
