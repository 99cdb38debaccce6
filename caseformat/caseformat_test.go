package caseformat

import (
	"strings"
	"testing"
	"time"

	"legalia-backend/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestCaseMinimal(t *testing.T) {
	c := &models.Case{Title: "Bare case", Category: models.CategoryCivil, Status: models.CaseStatusDraft}

	want := "# LEGAL CASE: Bare case\n\n" +
		"## General Information\n" +
		"- **Case type:** civil\n" +
		"- **Status:** draft\n"

	if diff := cmp.Diff(want, Case(c, nil)); diff != "" {
		t.Errorf("Case() mismatch (-want +got):\n%s", diff)
	}
}

func TestCaseFull(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	c := &models.Case{
		Title:        "Intersection collision",
		Category:     models.CategoryCivil,
		Status:       models.CaseStatusAnalyzed,
		IncidentDate: &date,
		Parties:      models.Parties{Plaintiff: "Ana Ruiz"},
		Description:  "Collision at a signaled intersection.",
		Facts:        "The defendant ran a red light.",
	}
	evidence := []models.Evidence{
		{Title: "Dashcam still", Kind: models.EvidenceImage, Description: "Frame at impact",
			IsAnalyzed: true, AnalysisResult: models.JSONMap{"status": "success"}},
		{Title: "Witness statement", Kind: models.EvidenceTestimony},
	}

	out := Case(c, evidence)

	assert.Contains(t, out, "- **Incident date:** 2025-03-14\n")
	assert.Contains(t, out, "- **Plaintiff:** Ana Ruiz\n")
	assert.NotContains(t, out, "Defendant:")
	assert.Contains(t, out, "## Description\nCollision at a signaled intersection.\n")
	assert.Contains(t, out, "## Facts\nThe defendant ran a red light.\n")
	assert.Contains(t, out, "Total evidence items: 2\n")
	assert.Contains(t, out, `- **Analysis:** {"status":"success"}`)
	assert.Equal(t, 1, strings.Count(out, "**Analysis:**"))
	assert.Less(t, strings.Index(out, "## Parties"), strings.Index(out, "## Evidence"))
}

func TestPrecedents(t *testing.T) {
	assert.Equal(t, "No relevant precedents were found.\n", Precedents(nil))

	out := Precedents([]models.PrecedentMatch{
		{Title: "First", CaseNumber: "CAS-1", Court: "Supreme Court", Relevance: models.RelevanceHigh,
			Keywords: []string{"liability", "negligence"}, Summary: "Summary one", Ruling: "Upheld"},
		{Title: "Second", Summary: "Summary two"},
	})

	assert.Contains(t, out, "Total precedents found: 2")
	assert.Contains(t, out, "## Precedent #1: First\n")
	assert.Contains(t, out, "## Precedent #2: Second\n")
	assert.Contains(t, out, "- **Keywords:** liability, negligence\n")
	assert.Equal(t, 2, strings.Count(out, "---"))
	assert.NotContains(t, out, "**Legal reasoning:**")
}

func TestArgumentsPromptSections(t *testing.T) {
	c := &models.Case{Title: "Case", Category: models.CategoryLabor}

	bare := ArgumentsPrompt(c, nil, nil, nil)
	assert.NotContains(t, bare, "RELEVANT LEGAL PRECEDENTS")
	assert.NotContains(t, bare, "## Visual Evidence Analysis")

	visual := &models.VisualReport{Analysis: []models.EvidenceAnalysis{{Title: "Photo", Status: models.VisualStatusSuccess}}}
	full := ArgumentsPrompt(c, nil, []models.PrecedentMatch{{Title: "P"}}, visual)
	assert.Contains(t, full, "## Precedent #1: P")
	assert.Contains(t, full, "## Visual Evidence Analysis")
	assert.Contains(t, full, `"title": "Photo"`)
}

func TestVisualEvidenceAndSearchPrompt(t *testing.T) {
	c := &models.Case{Title: "Case", Category: models.CategoryCriminal, Facts: "Facts here"}
	e := &models.Evidence{Title: "CCTV", Kind: models.EvidenceVideo}

	v := VisualEvidence(c, e)
	assert.Contains(t, v, "**Title:** CCTV")
	assert.NotContains(t, v, "**Description:**")

	s := PrecedentSearchPrompt(c)
	assert.Contains(t, s, "**Key facts:**\nFacts here")
	assert.NotContains(t, s, "**Description:**")
}
