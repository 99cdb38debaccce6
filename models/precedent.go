package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// RelevanceTier grades how strongly a precedent or finding bears on a case
type RelevanceTier string

const (
	RelevanceHigh   RelevanceTier = "high"
	RelevanceMedium RelevanceTier = "medium"
	RelevanceLow    RelevanceTier = "low"
)

// Precedent represents a prior decision usable as legal reference material
type Precedent struct {
	ID             uuid.UUID        `json:"id"`
	CaseNumber     string           `json:"case_number"`
	Court          string           `json:"court"`
	Jurisdiction   string           `json:"jurisdiction,omitempty"`
	DecisionDate   *time.Time       `json:"decision_date,omitempty"`
	Title          string           `json:"title"`
	Summary        string           `json:"summary"`
	Ruling         string           `json:"ruling,omitempty"`
	LegalReasoning string           `json:"legal_reasoning,omitempty"`
	Keywords       []string         `json:"keywords"`
	CitedArticles  []string         `json:"cited_articles"`
	SourceURL      *string          `json:"source_url,omitempty"`
	FullText       string           `json:"-"`
	Embedding      *pgvector.Vector `json:"-"`
	Relevance      RelevanceTier    `json:"relevance"`
	Metadata       JSONMap          `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// HasEmbedding reports whether the record can take part in similarity ranking
func (p *Precedent) HasEmbedding() bool {
	return p.Embedding != nil && len(p.Embedding.Slice()) > 0
}

// EmbeddingInput builds the text embedded for a precedent
func (p *Precedent) EmbeddingInput() string {
	text := p.Title + "\n" + p.Summary
	if p.Ruling != "" {
		text += "\n" + p.Ruling
	}
	if len(p.Keywords) > 0 {
		text += "\n" + strings.Join(p.Keywords, ", ")
	}
	return text
}
