package model

import (
	"encoding/json"
	"time"
)

// Location is one participant's last reported position in a live session.
type Location struct {
	UserID    string          `json:"userId"`
	Nickname  string          `json:"nickname"`
	Lat       float64         `json:"lat"`
	Lng       float64         `json:"lng"`
	Timestamp int64           `json:"timestamp"` // unix millis
	Draws     json.RawMessage `json:"draws,omitempty"`
	Models    json.RawMessage `json:"models,omitempty"`
}

// Time returns the report time.
func (l *Location) Time() time.Time { return time.UnixMilli(l.Timestamp) }

// EmployeeLocation is a tracked employee's position. EmployeeID is not part
// of the stored value; it is filled in from the key on read.
type EmployeeLocation struct {
	EmployeeID string  `json:"id,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	TS         int64   `json:"ts"` // unix millis
}
