package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLexicon(t *testing.T) {
	lex := Default()

	assert.Equal(t, []string{"liability", "damages", "negligence", "accident", "compensation"}, lex.CategoryTerms("civil"))
	assert.Empty(t, lex.CategoryTerms("constitutional"))
	assert.Contains(t, lex.RelevanceTerms("labor"), "workplace accident")
	assert.Len(t, lex.LegalTerms, 5)
}

func TestCountElement(t *testing.T) {
	lex := Default()
	text := "Two cars collided. The driver of one vehicle and a pedestrian were hurt. A traffic light was damaged by the impact."

	assert.Equal(t, 2, lex.CountElement(ElementPeople, text))
	assert.Equal(t, 2, lex.CountElement(ElementVehicles, text))
	assert.Equal(t, 1, lex.CountElement(ElementTrafficSigns, text))
	assert.Equal(t, 2, lex.CountElement(ElementDamage, text))
	assert.Equal(t, 0, lex.CountElement("weather", text))
}

func TestCountTerms(t *testing.T) {
	terms := []string{"damages", "negligence", "liability", "accident"}

	assert.Equal(t, 3, CountTerms("Clear NEGLIGENCE caused the accident and the damages", terms))
	assert.Equal(t, 0, CountTerms("a quiet street", terms))
	assert.Equal(t, 0, CountTerms("anything", nil))
}

func TestHasLegalTerm(t *testing.T) {
	lex := Default()

	assert.True(t, lex.HasLegalTerm("Supreme Court traffic cases"))
	assert.False(t, lex.HasLegalTerm("traffic accident damages"))
}

func TestParseRejectsBadPattern(t *testing.T) {
	_, err := Parse([]byte("elements:\n  people: '(unclosed'\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "element people")
}
