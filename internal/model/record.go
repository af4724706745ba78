package model

import (
	"encoding/json"
	"time"
)

// Record is one saved JSON document. Payload is stored verbatim; the store
// enforces no schema on it.
type Record struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId,omitempty"`
	Name      string          `json:"name,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// RecordSummary is the listing view of a Record.
type RecordSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary returns the listing view of r.
func (r *Record) Summary() RecordSummary {
	return RecordSummary{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt}
}

// SessionSnapshot is the document a new shared map session starts from.
type SessionSnapshot struct {
	ID        string            `json:"id"`
	Owner     string            `json:"owner"`
	CreatedAt int64             `json:"createdAt"` // unix millis
	Models    []json.RawMessage `json:"models"`
	Draws     []json.RawMessage `json:"draws"`
	Camera    json.RawMessage   `json:"camera"`
}

// NewSessionSnapshot returns an empty snapshot. An empty owner becomes "guest".
func NewSessionSnapshot(id, owner string, now time.Time) *SessionSnapshot {
	if owner == "" {
		owner = "guest"
	}
	return &SessionSnapshot{
		ID:        id,
		Owner:     owner,
		CreatedAt: now.UnixMilli(),
		Models:    []json.RawMessage{},
		Draws:     []json.RawMessage{},
		Camera:    json.RawMessage("null"),
	}
}
