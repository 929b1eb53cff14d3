package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sdelcore/droidcode/pkg/wire"
)

// WSReader consumes the server's websocket stream at {base}/api/realtime.
// It sends a subscribe request for the session and then reads JSON
// envelopes until the connection drops or the context is cancelled.
type WSReader struct {
	dialer *websocket.Dialer
}

func NewWSReader(dialer *websocket.Dialer) *WSReader {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WSReader{dialer: dialer}
}

func (r *WSReader) Stream(ctx context.Context, opts Options) error {
	url := wsURL(opts.BaseURL) + "/api/realtime"
	conn, _, err := r.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial realtime socket: %w", err)
	}
	defer conn.Close()

	sub := wire.SubscribeRequest{
		Type:        wire.ClientMessageSubscribe,
		SessionID:   opts.SessionID,
		LastEventID: opts.LastEventID,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	opts.connected()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read realtime socket: %w", err)
		}
		opts.deliver(env)
	}
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
