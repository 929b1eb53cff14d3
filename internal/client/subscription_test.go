package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sdelcore/droidcode/internal/conn"
	"github.com/sdelcore/droidcode/internal/queue"
	"github.com/sdelcore/droidcode/internal/transport"
)

// scriptedReader runs one scripted step per stream attempt. Attempts
// beyond the script block until cancelled, like an idle live stream.
// Steps signal the handshake themselves via opts.OnConnected.
type scriptedReader struct {
	mu    sync.Mutex
	calls []transport.Options
	steps []func(ctx context.Context, opts transport.Options) error
}

func (r *scriptedReader) Stream(ctx context.Context, opts transport.Options) error {
	r.mu.Lock()
	r.calls = append(r.calls, opts)
	var step func(context.Context, transport.Options) error
	if len(r.steps) > 0 {
		step = r.steps[0]
		r.steps = r.steps[1:]
	}
	r.mu.Unlock()

	if step == nil {
		opts.OnConnected()
		<-ctx.Done()
		return ctx.Err()
	}
	return step(ctx, opts)
}

func (r *scriptedReader) attempts() []transport.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Options(nil), r.calls...)
}

// collectAll drains the update stream until the subscription closes it.
func collectAll(t *testing.T, recv *UpdateReceiver) []Update {
	t.Helper()
	var updates []Update
	deadline := time.After(10 * time.Second)
	for {
		select {
		case up, ok := <-recv.C:
			if !ok {
				return updates
			}
			updates = append(updates, up)
		case <-deadline:
			t.Fatal("timed out waiting for update stream to close")
		}
	}
}

func connectionStates(updates []Update) []conn.State {
	var states []conn.State
	for _, up := range updates {
		if up.Kind == UpdateConnection {
			states = append(states, up.Connection.Status)
		}
	}
	return states
}

func TestReconnectsAfterStreamFailure(t *testing.T) {
	reader := &scriptedReader{
		steps: []func(ctx context.Context, opts transport.Options) error{
			func(ctx context.Context, opts transport.Options) error {
				opts.OnConnected()
				opts.OnEventID("evt-5")
				return errors.New("stream broke")
			},
			func(ctx context.Context, opts transport.Options) error {
				opts.OnConnected()
				return nil
			},
		},
	}

	sub := New(Config{
		ServerURL:      "http://example.test",
		SessionID:      "sess-1",
		Queue:          queue.Config{BatchSize: 4, BatchDelay: time.Millisecond},
		Reader:         reader,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	recv := sub.Updates().Subscribe(64)

	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	updates := collectAll(t, recv)
	sub.Stop()

	calls := reader.attempts()
	if len(calls) != 2 {
		t.Fatalf("expected 2 stream attempts, got %d", len(calls))
	}
	if calls[1].LastEventID != "evt-5" {
		t.Errorf("expected resume from evt-5, got %q", calls[1].LastEventID)
	}
	if calls[0].ConnectionID == calls[1].ConnectionID {
		t.Error("reconnect must mint a fresh connection id")
	}

	states := connectionStates(updates)
	sawError := false
	connected := 0
	for _, st := range states {
		if st == conn.StateError {
			sawError = true
		}
		if st == conn.StateConnected {
			connected++
		}
	}
	if !sawError {
		t.Errorf("expected an error state in %v", states)
	}
	if connected != 2 {
		t.Errorf("expected 2 connected states in %v", states)
	}
	if states[len(states)-1] != conn.StateDisconnected {
		t.Errorf("expected terminal disconnected, got %v", states)
	}
}

func TestDialFailureNeverReportsConnected(t *testing.T) {
	reader := &scriptedReader{
		steps: []func(ctx context.Context, opts transport.Options) error{
			func(ctx context.Context, opts transport.Options) error {
				// Handshake fails: OnConnected never fires.
				return errors.New("connection refused")
			},
			func(ctx context.Context, opts transport.Options) error {
				opts.OnConnected()
				return nil
			},
		},
	}

	sub := New(Config{
		ServerURL:      "http://example.test",
		SessionID:      "sess-1",
		Queue:          queue.Config{BatchSize: 4, BatchDelay: time.Millisecond},
		Reader:         reader,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	recv := sub.Updates().Subscribe(64)

	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	updates := collectAll(t, recv)
	sub.Stop()

	states := connectionStates(updates)
	errorAt, connectedAt := -1, -1
	connected := 0
	for i, st := range states {
		if st == conn.StateError && errorAt == -1 {
			errorAt = i
		}
		if st == conn.StateConnected {
			connected++
			if connectedAt == -1 {
				connectedAt = i
			}
		}
	}
	if errorAt == -1 {
		t.Fatalf("expected an error state in %v", states)
	}
	if connectedAt != -1 && connectedAt < errorAt {
		t.Errorf("connected reported before the dial failed: %v", states)
	}
	if connected != 1 {
		t.Errorf("expected exactly 1 connected state in %v", states)
	}
}

func TestBackgroundSuspendsAndForegroundResumes(t *testing.T) {
	ready := make(chan struct{}, 2)
	reader := &scriptedReader{
		steps: []func(ctx context.Context, opts transport.Options) error{
			func(ctx context.Context, opts transport.Options) error {
				opts.OnConnected()
				opts.OnEventID("evt-3")
				ready <- struct{}{}
				<-ctx.Done()
				return ctx.Err()
			},
			func(ctx context.Context, opts transport.Options) error {
				opts.OnConnected()
				ready <- struct{}{}
				return nil
			},
		},
	}

	sub := New(Config{
		ServerURL: "http://example.test",
		SessionID: "sess-1",
		Queue:     queue.Config{BatchSize: 4, BatchDelay: time.Millisecond},
		Reader:    reader,
	})
	recv := sub.Updates().Subscribe(64)

	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-ready
	if err := sub.Background(); err != nil {
		t.Fatalf("Background failed: %v", err)
	}
	if err := sub.Foreground(); err != nil {
		t.Fatalf("Foreground failed: %v", err)
	}
	<-ready

	updates := collectAll(t, recv)
	sub.Stop()

	calls := reader.attempts()
	if len(calls) != 2 {
		t.Fatalf("expected 2 stream attempts, got %d", len(calls))
	}
	if calls[1].LastEventID != "evt-3" {
		t.Errorf("expected resume position to survive backgrounding, got %q", calls[1].LastEventID)
	}
	if calls[0].ConnectionID != calls[1].ConnectionID {
		t.Error("backgrounding must not change the connection epoch")
	}

	states := connectionStates(updates)
	sawBackgrounded, sawReconnecting := false, false
	for _, st := range states {
		if st == conn.StateBackgrounded {
			sawBackgrounded = true
		}
		if st == conn.StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawBackgrounded || !sawReconnecting {
		t.Errorf("expected backgrounded and reconnecting in %v", states)
	}
}

func TestSwitchSessionRetargetsStream(t *testing.T) {
	ready := make(chan struct{}, 2)
	reader := &scriptedReader{
		steps: []func(ctx context.Context, opts transport.Options) error{
			func(ctx context.Context, opts transport.Options) error {
				opts.OnConnected()
				opts.OnEventID("evt-9")
				ready <- struct{}{}
				<-ctx.Done()
				return ctx.Err()
			},
			func(ctx context.Context, opts transport.Options) error {
				opts.OnConnected()
				ready <- struct{}{}
				return nil
			},
		},
	}

	sub := New(Config{
		ServerURL: "http://example.test",
		SessionID: "sess-1",
		Queue:     queue.Config{BatchSize: 4, BatchDelay: time.Millisecond},
		Reader:    reader,
	})
	recv := sub.Updates().Subscribe(64)

	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-ready
	sub.SwitchSession("sess-2")
	<-ready

	collectAll(t, recv)
	sub.Stop()

	calls := reader.attempts()
	if len(calls) != 2 {
		t.Fatalf("expected 2 stream attempts, got %d", len(calls))
	}
	if calls[0].SessionID != "sess-1" {
		t.Fatalf("expected first attempt on sess-1, got %q", calls[0].SessionID)
	}
	if calls[1].SessionID != "sess-2" {
		t.Errorf("expected second attempt on sess-2, got %q", calls[1].SessionID)
	}
	if calls[1].LastEventID != "" {
		t.Errorf("session switch must clear the resume position, got %q", calls[1].LastEventID)
	}
}
