// Package lexicon exposes the keyword dictionaries shared by retrieval,
// visual analysis and web search.
package lexicon

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultYAML []byte

// Lexicon holds the decoded dictionaries.
type Lexicon struct {
	Retrieval       map[string][]string `yaml:"retrieval"`
	VisualRelevance map[string][]string `yaml:"visual_relevance"`
	Elements        map[string]string   `yaml:"elements"`
	LegalTerms      []string            `yaml:"legal_terms"`

	patterns map[string]*regexp.Regexp
}

// Element pattern names.
const (
	ElementPeople       = "people"
	ElementVehicles     = "vehicles"
	ElementTrafficSigns = "traffic_signs"
	ElementDamage       = "damage"
)

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default returns the embedded lexicon. It panics if the embedded file is invalid.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		lex, err := Parse(defaultYAML)
		if err != nil {
			panic(err)
		}
		defaultLex = lex
	})
	return defaultLex
}

// Parse decodes a lexicon document and compiles its element patterns.
func Parse(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("lexicon: decode: %w", err)
	}

	lex.patterns = make(map[string]*regexp.Regexp, len(lex.Elements))
	for name, expr := range lex.Elements {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("lexicon: element %s: %w", name, err)
		}
		lex.patterns[name] = re
	}
	return &lex, nil
}

// CategoryTerms returns the retrieval keywords for a case category.
func (l *Lexicon) CategoryTerms(category string) []string {
	return l.Retrieval[category]
}

// RelevanceTerms returns the visual relevance keywords for a case category.
func (l *Lexicon) RelevanceTerms(category string) []string {
	return l.VisualRelevance[category]
}

// CountElement returns how many times an element pattern matches text.
func (l *Lexicon) CountElement(name, text string) int {
	re, ok := l.patterns[name]
	if !ok {
		return 0
	}
	return len(re.FindAllStringIndex(text, -1))
}

// CountTerms counts the terms that occur in text, case-insensitively.
// Each term counts at most once.
func CountTerms(text string, terms []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, term := range terms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			n++
		}
	}
	return n
}

// HasLegalTerm reports whether text already mentions a legal term.
func (l *Lexicon) HasLegalTerm(text string) bool {
	return CountTerms(text, l.LegalTerms) > 0
}
