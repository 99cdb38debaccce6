package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EvidenceKind represents the type of an evidence item
type EvidenceKind string

const (
	EvidenceDocument  EvidenceKind = "document"
	EvidenceImage     EvidenceKind = "image"
	EvidenceVideo     EvidenceKind = "video"
	EvidenceAudio     EvidenceKind = "audio"
	EvidenceTestimony EvidenceKind = "testimony"
	EvidenceOther     EvidenceKind = "other"
)

// Evidence represents an evidence item attached to a case
type Evidence struct {
	ID             uuid.UUID    `json:"id"`
	CaseID         uuid.UUID    `json:"case_id"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	Kind           EvidenceKind `json:"kind"`
	StoragePath    string       `json:"storage_path,omitempty"`
	MimeType       string       `json:"mime_type,omitempty"`
	Size           int64        `json:"size"`
	AnalysisResult JSONMap      `json:"analysis_result,omitempty"`
	IsAnalyzed     bool         `json:"is_analyzed"`
	AnalyzedAt     *time.Time   `json:"analyzed_at,omitempty"`
	Metadata       JSONMap      `json:"metadata,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// IsVisual reports whether the item is eligible for visual analysis
func (e *Evidence) IsVisual() bool {
	return e.Kind.IsVisual()
}

// IsVisual reports whether evidence of this kind can go through image analysis
func (k EvidenceKind) IsVisual() bool {
	return k == EvidenceImage || k == EvidenceVideo
}

// KindFromMimeType maps an upload content type to an evidence kind
func KindFromMimeType(mimeType string) EvidenceKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return EvidenceImage
	case strings.HasPrefix(mimeType, "video/"):
		return EvidenceVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return EvidenceAudio
	case mimeType == "application/pdf", mimeType == "text/plain",
		mimeType == "application/msword",
		mimeType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return EvidenceDocument
	default:
		return EvidenceOther
	}
}
