package events

import (
	"context"
	"strings"

	"github.com/alfredjeanlab/mapstate/internal/model"
)

// Event topic constants
const (
	TopicStateSaved     = "mapstate.state.saved"
	TopicStateDeleted   = "mapstate.state.deleted"
	TopicSessionCreated = "mapstate.session.created"
	TopicSessionUpdated = "mapstate.session.updated"

	TopicEmployeeLocation = "mapstate.employee.location"
	TopicUserRegistered   = "mapstate.user.registered"

	// TopicAll matches every event this service publishes.
	TopicAll = "mapstate.>"
)

// LocationTopic returns the topic carrying location reports for one live
// session room.
func LocationTopic(sessionID string) string {
	return "mapstate.session." + token(sessionID) + ".location"
}

// DepartureTopic returns the topic announcing participants who stopped
// reporting in a live session room.
func DepartureTopic(sessionID string) string {
	return "mapstate.session." + token(sessionID) + ".left"
}

// token makes s safe to use as one subject token: NATS reserves '.', '*',
// '>' and whitespace.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Event types

type StateSaved struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId,omitempty"`
}

type StateDeleted struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId,omitempty"`
}

type SessionCreated struct {
	SessionID string `json:"sessionId"`
	Owner     string `json:"owner,omitempty"`
}

type SessionUpdated struct {
	SessionID string `json:"sessionId"`
}

type LocationReported struct {
	SessionID string          `json:"sessionId"`
	Location  *model.Location `json:"location"`
}

type ParticipantLeft struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type EmployeeLocated struct {
	Location *model.EmployeeLocation `json:"location"`
}

type UserRegistered struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
