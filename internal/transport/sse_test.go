package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sdelcore/droidcode/pkg/wire"
)

func sseServer(t *testing.T, envelopes []wire.Envelope, lastEventID *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lastEventID != nil {
			*lastEventID = r.Header.Get("Last-Event-ID")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, env := range envelopes {
			data, err := json.Marshal(env)
			if err != nil {
				t.Errorf("marshal envelope: %v", err)
				return
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.EventID, env.Type, data)
		}
	}))
}

func testEnvelopes() []wire.Envelope {
	return []wire.Envelope{
		{EventID: "evt-1", SessionID: "sess-1", Type: wire.EventMessageStart,
			Payload: json.RawMessage(`{"messageId":"msg-1","role":"assistant"}`)},
		{EventID: "evt-2", SessionID: "sess-1", Type: wire.EventMessageDelta,
			Payload: json.RawMessage(`{"messageId":"msg-1","partId":"p","partType":"text","content":"hi"}`)},
	}
}

func TestSSEStreamDeliversEnvelopes(t *testing.T) {
	var gotLastEventID string
	server := sseServer(t, testEnvelopes(), &gotLastEventID)
	defer server.Close()

	var delivered []wire.Envelope
	var eventIDs []string
	connected := 0
	reader := NewSSEReader(server.Client())

	err := reader.Stream(context.Background(), Options{
		BaseURL:     server.URL,
		SessionID:   "sess-1",
		LastEventID: "evt-0",
		Sink:        func(env wire.Envelope) { delivered = append(delivered, env) },
		OnEventID:   func(id string) { eventIDs = append(eventIDs, id) },
		OnConnected: func() { connected++ },
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if connected != 1 {
		t.Errorf("expected OnConnected to fire once, got %d", connected)
	}

	if gotLastEventID != "evt-0" {
		t.Errorf("expected Last-Event-ID header 'evt-0', got %q", gotLastEventID)
	}
	if len(delivered) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(delivered))
	}
	if delivered[0].EventID != "evt-1" || delivered[1].EventID != "evt-2" {
		t.Errorf("unexpected delivery order: %v, %v", delivered[0].EventID, delivered[1].EventID)
	}
	if len(eventIDs) != 2 || eventIDs[1] != "evt-2" {
		t.Errorf("expected resume position recorded per event, got %v", eventIDs)
	}
}

func TestSSEStreamSuppressesStaleEpoch(t *testing.T) {
	server := sseServer(t, testEnvelopes(), nil)
	defer server.Close()

	var delivered int
	reader := NewSSEReader(server.Client())

	err := reader.Stream(context.Background(), Options{
		BaseURL:      server.URL,
		SessionID:    "sess-1",
		ConnectionID: "conn-old",
		IsCurrent:    func(id string) bool { return id == "conn-new" },
		Sink:         func(wire.Envelope) { delivered++ },
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if delivered != 0 {
		t.Errorf("expected stale reader to deliver nothing, got %d", delivered)
	}
}

func TestSSEStreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	connected := 0
	reader := NewSSEReader(server.Client())
	err := reader.Stream(context.Background(), Options{
		BaseURL:     server.URL,
		SessionID:   "missing",
		OnConnected: func() { connected++ },
	})
	if err == nil {
		t.Error("expected error for non-200 response")
	}
	if connected != 0 {
		t.Error("OnConnected must not fire on a failed handshake")
	}
}

func TestSSEStreamSkipsMalformedData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {not json\n\n")
		fmt.Fprint(w, "data: {\"eventId\":\"evt-1\",\"sessionId\":\"sess-1\",\"type\":\"message.complete\",\"payload\":{\"messageId\":\"m\"}}\n\n")
	}))
	defer server.Close()

	var delivered []wire.Envelope
	reader := NewSSEReader(server.Client())
	err := reader.Stream(context.Background(), Options{
		BaseURL:   server.URL,
		SessionID: "sess-1",
		Sink:      func(env wire.Envelope) { delivered = append(delivered, env) },
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if len(delivered) != 1 || delivered[0].EventID != "evt-1" {
		t.Errorf("expected only the well-formed envelope, got %v", delivered)
	}
}
