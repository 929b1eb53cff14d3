// Package transport provides thin readers that turn the server's event
// stream into wire envelopes. The readers own no state machine: they
// verify the connection epoch before delivering and report failures to
// the caller, which decides whether to reconnect.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sdelcore/droidcode/pkg/wire"
)

// Sink receives each decoded envelope, in stream order.
type Sink func(env wire.Envelope)

// Options configures a stream reader. ConnectionID names the epoch the
// reader belongs to; IsCurrent is consulted before every delivery so a
// reader that outlives a reconnect goes silent instead of polluting the
// new epoch.
type Options struct {
	BaseURL      string
	SessionID    string
	LastEventID  string
	ConnectionID string
	IsCurrent    func(connectionID string) bool
	Sink         Sink
	OnEventID    func(eventID string)

	// OnConnected fires once per Stream call, after the handshake
	// succeeds and before the first envelope is delivered. A failing
	// dial never fires it.
	OnConnected func()
}

func (o Options) connected() {
	if o.OnConnected != nil {
		o.OnConnected()
	}
}

func (o Options) deliver(env wire.Envelope) bool {
	if o.IsCurrent != nil && !o.IsCurrent(o.ConnectionID) {
		return false
	}
	if o.Sink != nil {
		o.Sink(env)
	}
	if o.OnEventID != nil && env.EventID != "" {
		o.OnEventID(env.EventID)
	}
	return true
}

// SSEReader consumes GET {base}/api/sessions/{id}/events as a
// Server-Sent Events stream.
type SSEReader struct {
	client *http.Client
}

func NewSSEReader(client *http.Client) *SSEReader {
	if client == nil {
		client = http.DefaultClient
	}
	return &SSEReader{client: client}
}

// Stream blocks reading the event stream until the context is cancelled
// or the stream ends. A nil return means the server closed the stream
// cleanly.
func (r *SSEReader) Stream(ctx context.Context, opts Options) error {
	url := fmt.Sprintf("%s/api/sessions/%s/events", strings.TrimRight(opts.BaseURL, "/"), opts.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if opts.LastEventID != "" {
		req.Header.Set("Last-Event-ID", opts.LastEventID)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}
	opts.connected()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				dispatch(strings.Join(data, "\n"), opts)
				data = data[:0]
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// id:/event:/retry: fields and comments carry nothing the
			// envelope itself does not; the envelope is authoritative.
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return ctx.Err()
}

func dispatch(data string, opts Options) {
	var env wire.Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return
	}
	opts.deliver(env)
}
