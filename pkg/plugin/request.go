package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Request is the closed set of execution requests accepted by
// Registry.Execute. Each variant targets exactly one capability type.
type Request interface {
	Capability() CapabilityType
	Verb() string
	sealed()
}

// APIRequest is a generic HTTP call. When Endpoint is set, Method and Path are
// taken from the connector's named endpoint table. Params fill `{name}`
// placeholders in the path.
type APIRequest struct {
	Method   string            `json:"method,omitempty"`
	Path     string            `json:"path,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Body     any               `json:"body,omitempty"`
	Query    map[string]string `json:"query,omitempty"`
	Header   map[string]string `json:"headers,omitempty"`
}

// CreateRoom asks a video connector for a new room.
type CreateRoom struct {
	Config RoomConfig `json:"config"`
}

// EndRoom closes a room.
type EndRoom struct {
	RoomID string `json:"room_id"`
}

// GetToken mints a participant token for a room.
type GetToken struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// RequestInterpreter books an interpreter.
type RequestInterpreter struct {
	Appointment Appointment `json:"appointment"`
}

// EmbedInterpreter renders the embeddable interpreter widget for a session.
type EmbedInterpreter struct {
	SessionID string `json:"session_id"`
}

// Action invokes a named action on a generic connector.
type Action struct {
	Type  CapabilityType `json:"type"`
	Name  string         `json:"action"`
	Input map[string]any `json:"input,omitempty"`
}

func (APIRequest) Capability() CapabilityType         { return TypeAPIConnector }
func (CreateRoom) Capability() CapabilityType         { return TypeVideoChat }
func (EndRoom) Capability() CapabilityType            { return TypeVideoChat }
func (GetToken) Capability() CapabilityType           { return TypeVideoChat }
func (RequestInterpreter) Capability() CapabilityType { return TypeASLInterpreter }
func (EmbedInterpreter) Capability() CapabilityType   { return TypeASLInterpreter }
func (a Action) Capability() CapabilityType           { return a.Type }

func (APIRequest) Verb() string         { return "call" }
func (CreateRoom) Verb() string         { return "create_room" }
func (EndRoom) Verb() string            { return "end_room" }
func (GetToken) Verb() string           { return "get_token" }
func (RequestInterpreter) Verb() string { return "request_interpreter" }
func (EmbedInterpreter) Verb() string   { return "embed_interpreter" }
func (a Action) Verb() string           { return a.Name }

func (APIRequest) sealed()         {}
func (CreateRoom) sealed()         {}
func (EndRoom) sealed()            {}
func (GetToken) sealed()           {}
func (RequestInterpreter) sealed() {}
func (EmbedInterpreter) sealed()   {}
func (Action) sealed()             {}

// Result is the outcome of a successful execution.
type Result struct {
	Type     CapabilityType `json:"type"`
	Name     string         `json:"name"`
	Verb     string         `json:"verb"`
	Output   any            `json:"output"`
	Duration time.Duration  `json:"duration"`
}

// invoke routes a request to the typed method of conn.
func invoke(ctx context.Context, conn Connector, req Request) (any, error) {
	switch r := req.(type) {
	case APIRequest:
		c, ok := conn.(APIConnector)
		if !ok {
			break
		}
		return c.Call(ctx, r)
	case CreateRoom:
		c, ok := conn.(VideoChat)
		if !ok {
			break
		}
		return c.CreateRoom(ctx, r.Config)
	case EndRoom:
		c, ok := conn.(VideoChat)
		if !ok {
			break
		}
		if err := c.EndRoom(ctx, r.RoomID); err != nil {
			return nil, err
		}
		return map[string]any{"room_id": r.RoomID, "status": "completed"}, nil
	case GetToken:
		c, ok := conn.(VideoChat)
		if !ok {
			break
		}
		token, err := c.AccessToken(ctx, r.RoomID, r.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"room_id": r.RoomID, "user_id": r.UserID, "token": token}, nil
	case RequestInterpreter:
		c, ok := conn.(ASLInterpreter)
		if !ok {
			break
		}
		return c.RequestInterpreter(ctx, r.Appointment)
	case EmbedInterpreter:
		c, ok := conn.(ASLInterpreter)
		if !ok {
			break
		}
		code, err := c.EmbedCode(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"session_id": r.SessionID, "embed_code": code}, nil
	case Action:
		c, ok := conn.(ActionConnector)
		if !ok {
			break
		}
		return c.Invoke(ctx, r.Name, r.Input)
	}
	return nil, fmt.Errorf("%w: %T not supported by connector", ErrInvalidRequest, req)
}

// DecodeRequest builds the request variant named by verb from a JSON document.
// Verbs that are not one of the typed variants become an Action on t.
func DecodeRequest(t CapabilityType, verb string, raw json.RawMessage) (Request, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown capability type %q", ErrInvalidRequest, t)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var (
		req Request
		err error
	)
	switch verb {
	case "call":
		var r APIRequest
		err = json.Unmarshal(raw, &r)
		req = r
	case "create_room":
		var r CreateRoom
		err = json.Unmarshal(raw, &r)
		req = r
	case "end_room":
		var r EndRoom
		err = json.Unmarshal(raw, &r)
		req = r
	case "get_token":
		var r GetToken
		err = json.Unmarshal(raw, &r)
		req = r
	case "request_interpreter":
		var r RequestInterpreter
		err = json.Unmarshal(raw, &r)
		req = r
	case "embed_interpreter":
		var r EmbedInterpreter
		err = json.Unmarshal(raw, &r)
		req = r
	case "":
		return nil, fmt.Errorf("%w: verb is required", ErrInvalidRequest)
	default:
		var input map[string]any
		err = json.Unmarshal(raw, &input)
		req = Action{Type: t, Name: verb, Input: input}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s arguments: %v", ErrInvalidRequest, verb, err)
	}
	return req, nil
}
