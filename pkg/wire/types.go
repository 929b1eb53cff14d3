// Package wire defines the event envelope and payload shapes exchanged
// with the agent server's event stream.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

type EventType string

const (
	EventMessageStart        EventType = "message.start"
	EventMessageDelta        EventType = "message.delta"
	EventMessageComplete     EventType = "message.complete"
	EventSessionStatus       EventType = "session.status"
	EventTodoUpdated         EventType = "todo.updated"
	EventPermissionRequested EventType = "permission.requested"
	EventSessionDiffUpdated  EventType = "session.diff.updated"
	EventError               EventType = "error"

	// EventSessionDiff is the tag under which session.diff.updated events
	// are forwarded to consumers.
	EventSessionDiff EventType = "session.diff"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrUnknownEventType = errors.New("unknown event type")

// Envelope is the wire-level wrapper around every server-pushed event.
// EventID is the deduplication key, SessionID the scoping key.
type Envelope struct {
	EventID   string          `json:"eventId"`
	SessionID string          `json:"sessionId"`
	Timestamp int64           `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type MessageStart struct {
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Agent     string `json:"agent,omitempty"`
}

type MessageDelta struct {
	MessageID string          `json:"messageId"`
	PartID    string          `json:"partId"`
	PartType  string          `json:"partType"`
	Content   string          `json:"content,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	Status    string          `json:"status,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Mime      string          `json:"mime,omitempty"`
	URL       string          `json:"url,omitempty"`
}

type MessageComplete struct {
	MessageID string `json:"messageId"`
}

type SessionStatus struct {
	Status string `json:"status"` // busy | idle
}

type Todo struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

type TodoUpdated struct {
	Todos []Todo `json:"todos"`
}

type PermissionRequested struct {
	PermissionID string `json:"permissionId"`
	MessageID    string `json:"messageId"`
	ToolType     string `json:"toolType"`
	Title        string `json:"title"`
}

type FileDiff struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
}

type SessionDiffUpdated struct {
	Files []FileDiff `json:"files"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodePayload unmarshals the raw payload into the shape fixed by the
// envelope's type tag.
func (e Envelope) DecodePayload() (any, error) {
	var payload any
	switch e.Type {
	case EventMessageStart:
		payload = &MessageStart{}
	case EventMessageDelta:
		payload = &MessageDelta{}
	case EventMessageComplete:
		payload = &MessageComplete{}
	case EventSessionStatus:
		payload = &SessionStatus{}
	case EventTodoUpdated:
		payload = &TodoUpdated{}
	case EventPermissionRequested:
		payload = &PermissionRequested{}
	case EventSessionDiffUpdated, EventSessionDiff:
		payload = &SessionDiffUpdated{}
	case EventError:
		payload = &ErrorPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if err := json.Unmarshal(e.Payload, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return payload, nil
}

type ClientMessageType string

const (
	ClientMessageSubscribe ClientMessageType = "subscribe"
	ClientMessagePing      ClientMessageType = "ping"
)

// SubscribeRequest is the client envelope sent over the websocket
// transport to open or resume a session stream.
type SubscribeRequest struct {
	Type        ClientMessageType `json:"type"`
	SessionID   string            `json:"sessionId"`
	LastEventID string            `json:"lastEventId,omitempty"`
}
