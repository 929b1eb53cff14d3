package devserver

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sdelcore/droidcode/pkg/wire"
)

// NewEnvelope wraps a payload in a wire envelope with a fresh event ID.
func NewEnvelope(sessionID string, typ wire.EventType, payload any) wire.Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return wire.Envelope{
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Type:      typ,
		Payload:   raw,
	}
}

// DemoScript is a canned conversation exercising every event type:
// a user turn, a streaming assistant reply with thinking, text, a tool
// call, todo and diff updates, and a completion.
func DemoScript(sessionID string) []wire.Envelope {
	e := func(typ wire.EventType, payload any) wire.Envelope {
		return NewEnvelope(sessionID, typ, payload)
	}
	return []wire.Envelope{
		e(wire.EventSessionStatus, wire.SessionStatus{Status: "busy"}),
		e(wire.EventMessageStart, wire.MessageStart{MessageID: "user-1", Role: wire.RoleUser}),
		e(wire.EventMessageComplete, wire.MessageComplete{MessageID: "user-1"}),
		e(wire.EventMessageStart, wire.MessageStart{MessageID: "asst-1", Role: wire.RoleAssistant, Agent: "coder"}),
		e(wire.EventMessageDelta, wire.MessageDelta{
			MessageID: "asst-1", PartID: "think-1", PartType: "thinking",
			Content: "The user wants the failing test fixed.",
		}),
		e(wire.EventMessageDelta, wire.MessageDelta{
			MessageID: "asst-1", PartID: "text-1", PartType: "text", Content: "Looking at the test ",
		}),
		e(wire.EventMessageDelta, wire.MessageDelta{
			MessageID: "asst-1", PartID: "text-1", PartType: "text", Content: "output now.",
		}),
		e(wire.EventMessageDelta, wire.MessageDelta{
			MessageID: "asst-1", PartID: "tool-1", PartType: "tool",
			ToolName: "bash", Status: "pending", Input: json.RawMessage(`{"command":"go test ./..."}`),
		}),
		e(wire.EventPermissionRequested, wire.PermissionRequested{
			PermissionID: "perm-1", MessageID: "asst-1", ToolType: "bash", Title: "Run go test",
		}),
		e(wire.EventMessageDelta, wire.MessageDelta{
			MessageID: "asst-1", PartID: "tool-1", PartType: "tool", Status: "running",
		}),
		e(wire.EventMessageDelta, wire.MessageDelta{
			MessageID: "asst-1", PartID: "tool-1", PartType: "tool",
			Status: "completed", Output: json.RawMessage(`{"exitCode":0}`),
		}),
		e(wire.EventTodoUpdated, wire.TodoUpdated{Todos: []wire.Todo{
			{ID: "todo-1", Content: "Fix flaky queue test", Status: "completed"},
			{ID: "todo-2", Content: "Update changelog", Status: "pending", ActiveForm: "Updating changelog"},
		}}),
		e(wire.EventSessionDiffUpdated, wire.SessionDiffUpdated{Files: []wire.FileDiff{
			{Path: "internal/queue/queue.go", Status: "modified", Additions: 4, Deletions: 1},
		}}),
		e(wire.EventMessageDelta, wire.MessageDelta{
			MessageID: "asst-1", PartID: "text-2", PartType: "text", Content: "Tests pass after the fix.",
		}),
		e(wire.EventMessageComplete, wire.MessageComplete{MessageID: "asst-1"}),
		e(wire.EventSessionStatus, wire.SessionStatus{Status: "idle"}),
	}
}
