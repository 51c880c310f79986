package domain

import (
	"encoding/json"
	"time"
)

// Resume is a saved resume document. The ID is assigned by the remote
// service; the remote listing is authoritative for membership.
type Resume struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Document  json.RawMessage `json:"document,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ResumeDocument is a handle to an exportable rendering of a resume,
// produced by the remote service on demand.
type ResumeDocument struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
}
