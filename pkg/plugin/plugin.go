package plugin

import (
	"context"
	"net/http"
	"time"
)

// Connector is the base contract every connector satisfies regardless of its
// capability type.
//
// Every capability method receives the context Registry.Execute derived for
// the call. When the execute timeout fires, Execute returns ErrTimeout right
// away but cannot stop the call: implementations must return promptly once
// ctx is done (pass it to outbound requests, check ctx.Err between steps),
// or the goroutine running them outlives the request.
type Connector interface {
	// ValidateConfig reports whether the connector was constructed with a
	// usable configuration. It must not perform network I/O.
	ValidateConfig() error
}

// Constructor builds a connector from its raw configuration block. The map is
// a private copy owned by the constructor.
type Constructor func(cfg map[string]any) (Connector, error)

// APIConnector performs generic HTTP calls against a configured upstream.
type APIConnector interface {
	Connector
	Call(ctx context.Context, req APIRequest) (*APIResponse, error)
}

// VideoChat manages rooms on a video provider.
type VideoChat interface {
	Connector
	CreateRoom(ctx context.Context, cfg RoomConfig) (*Room, error)
	EndRoom(ctx context.Context, roomID string) error
	AccessToken(ctx context.Context, roomID, userID string) (string, error)
}

// ASLInterpreter books interpreters and renders embeddable sessions.
type ASLInterpreter interface {
	Connector
	RequestInterpreter(ctx context.Context, appt Appointment) (*InterpreterSession, error)
	EmbedCode(ctx context.Context, sessionID string) (string, error)
}

// ActionConnector serves the payment, authentication, data and UI capability
// types through named actions.
type ActionConnector interface {
	Connector
	Actions() []string
	Invoke(ctx context.Context, action string, input map[string]any) (map[string]any, error)
}

// APIResponse is the decoded reply of an upstream HTTP call.
type APIResponse struct {
	StatusCode int            `json:"status_code"`
	Header     http.Header    `json:"-"`
	Body       map[string]any `json:"body"`
}

// RoomConfig describes a room to create.
type RoomConfig struct {
	Name            string         `json:"name"`
	Topic           string         `json:"topic,omitempty"`
	MaxParticipants int            `json:"max_participants,omitempty"`
	DurationMinutes int            `json:"duration_minutes,omitempty"`
	Options         map[string]any `json:"options,omitempty"`
}

// Room is a provider room or meeting.
type Room struct {
	ID       string `json:"room_id"`
	Name     string `json:"room_name,omitempty"`
	Status   string `json:"status,omitempty"`
	JoinURL  string `json:"join_url,omitempty"`
	StartURL string `json:"start_url,omitempty"`
	Password string `json:"password,omitempty"`
}

// Appointment carries the booking details for an interpreter request.
type Appointment struct {
	ID              string    `json:"appointment_id,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	ClientID        string    `json:"client_id,omitempty"`
	Topic           string    `json:"topic,omitempty"`
	Language        string    `json:"language,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_time,omitempty"`
	DurationMinutes int       `json:"duration,omitempty"`
}

// InterpreterSession describes a booked interpreter.
type InterpreterSession struct {
	InterpreterID   string    `json:"interpreter_id"`
	Type            string    `json:"type"`
	Language        string    `json:"language,omitempty"`
	Tier            string    `json:"subscription_tier,omitempty"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	Services        []string  `json:"services,omitempty"`
	SessionURL      string    `json:"session_url,omitempty"`
	JoinURL         string    `json:"join_url,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_time,omitempty"`
	DurationMinutes int       `json:"duration,omitempty"`
}

// conforms reports whether conn implements the contract of t.
func conforms(t CapabilityType, conn Connector) bool {
	switch t {
	case TypeAPIConnector:
		_, ok := conn.(APIConnector)
		return ok
	case TypeVideoChat:
		_, ok := conn.(VideoChat)
		return ok
	case TypeASLInterpreter:
		_, ok := conn.(ASLInterpreter)
		return ok
	}
	if t.generic() {
		_, ok := conn.(ActionConnector)
		return ok
	}
	return false
}
