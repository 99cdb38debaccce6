package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CaseStatus represents the lifecycle status of a legal case
type CaseStatus string

const (
	CaseStatusDraft     CaseStatus = "draft"
	CaseStatusAnalyzing CaseStatus = "analyzing"
	CaseStatusAnalyzed  CaseStatus = "analyzed"
	CaseStatusArchived  CaseStatus = "archived"
)

// CaseCategory represents the area of law a case belongs to
type CaseCategory string

const (
	CategoryCivil          CaseCategory = "civil"
	CategoryCriminal       CaseCategory = "criminal"
	CategoryLabor          CaseCategory = "labor"
	CategoryAdministrative CaseCategory = "administrative"
	CategoryConstitutional CaseCategory = "constitutional"
	CategoryOther          CaseCategory = "other"
)

// Parties holds the opposing sides of a case
type Parties struct {
	Plaintiff string `json:"plaintiff,omitempty"`
	Defendant string `json:"defendant,omitempty"`
}

// Value implements driver.Valuer for JSONB
func (p Parties) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *Parties) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, p)
}

// Empty reports whether neither party is known
func (p Parties) Empty() bool {
	return p.Plaintiff == "" && p.Defendant == ""
}

// JSONMap is an open JSONB object
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONB
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = make(JSONMap)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*m = make(JSONMap)
		return nil
	}

	if len(bytes) == 0 {
		*m = make(JSONMap)
		return nil
	}

	return json.Unmarshal(bytes, m)
}

// Case represents a legal case entity
type Case struct {
	ID           uuid.UUID    `json:"id"`
	OwnerID      uuid.UUID    `json:"owner_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Category     CaseCategory `json:"category"`
	Status       CaseStatus   `json:"status"`
	Parties      Parties      `json:"parties"`
	IncidentDate *time.Time   `json:"incident_date,omitempty"`
	Facts        string       `json:"facts,omitempty"`
	Metadata     JSONMap      `json:"metadata,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CanBeAnalyzed reports whether the orchestrator may start a run for this case
func (c *Case) CanBeAnalyzed() bool {
	return c.Status == CaseStatusDraft || c.Status == CaseStatusAnalyzed
}
