package model

import (
	"encoding/json"
	"time"
)

// User is a registered account.
type User struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Email        string          `json:"email,omitempty"`
	PasswordHash string          `json:"passwordHash,omitempty"`
	ModelID      string          `json:"modelId,omitempty"`
	ProfileData  json.RawMessage `json:"profileData,omitempty"`
	LastLocation *LastLocation   `json:"lastLocation,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// LastLocation is the most recent position a user reported about themselves.
type LastLocation struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// Public returns a copy of u without credentials.
func (u *User) Public() *User {
	c := *u
	c.PasswordHash = ""
	return &c
}
