// Package client ties one session's connection machine, event queue,
// transport reader, and processor into a single owned subscription.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sdelcore/droidcode/internal/assembly"
	"github.com/sdelcore/droidcode/internal/conn"
	"github.com/sdelcore/droidcode/internal/processor"
	"github.com/sdelcore/droidcode/internal/queue"
	"github.com/sdelcore/droidcode/internal/transport"
	"github.com/sdelcore/droidcode/pkg/wire"
)

// StreamReader is the transport contract: it blocks reading one stream
// attempt and returns when the stream ends or the context is cancelled.
type StreamReader interface {
	Stream(ctx context.Context, opts transport.Options) error
}

type Config struct {
	ServerURL string
	SessionID string
	Queue     queue.Config
	Reader    StreamReader
	Logger    *slog.Logger

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Subscription owns exactly one session's event pipeline. It is not
// designed for concurrent multi-writer use: one consuming context
// drives Start/Background/Foreground/Stop.
type Subscription struct {
	cfg     Config
	logger  *slog.Logger
	machine *conn.Machine
	queue   *queue.Queue
	updates *Updates

	mu            sync.Mutex
	sessionID     string
	proc          *processor.Processor
	cancel        context.CancelFunc
	attemptCancel context.CancelFunc
	started       bool

	wake chan struct{}
	done chan struct{}
}

func New(cfg Config) *Subscription {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Reader == nil {
		cfg.Reader = transport.NewSSEReader(nil)
	}
	s := &Subscription{
		cfg:       cfg,
		logger:    logger,
		machine:   conn.NewMachine(),
		queue:     queue.New(cfg.Queue),
		updates:   &Updates{},
		sessionID: cfg.SessionID,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.proc = processor.New(s.processorConfig(cfg.SessionID))
	s.queue.SetProcessor(s.dispatch)
	s.machine.AddListener(func(snap conn.Snapshot) {
		s.updates.publish(Update{Kind: UpdateConnection, Connection: snap})
	})
	return s
}

func (s *Subscription) processorConfig(sessionID string) processor.Config {
	return processor.Config{
		SessionID: sessionID,
		OnMessageUpdate: func(m assembly.Message, streaming bool) {
			s.updates.publish(Update{Kind: UpdateMessage, Message: m, IsStreaming: streaming})
		},
		OnMessageComplete: func(m assembly.Message) {
			s.updates.publish(Update{Kind: UpdateMessageComplete, Message: m})
		},
		OnSessionEvent: func(ev processor.SessionEvent) {
			s.updates.publish(Update{Kind: UpdateSessionEvent, Event: ev})
		},
		Logger: s.logger,
	}
}

// dispatch hands queue batches to whichever processor is current, so a
// session switch mid-batch cannot leak events into the new session
// (the processor's own scoping discards them).
func (s *Subscription) dispatch(batch []wire.Envelope) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	proc.ProcessBatch(batch)
}

// Updates returns the fan-out stream consumed by UI collaborators.
func (s *Subscription) Updates() *Updates {
	return s.updates
}

// Start connects and begins streaming in the background.
func (s *Subscription) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("subscription already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.machine.Connect(s.cfg.ServerURL, s.sessionID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	// The update stream ends when the subscription does, so consumers
	// can range over it without also watching connection state.
	defer s.updates.Close()
	bo := newBackoff(s.cfg.InitialBackoff, s.cfg.MaxBackoff)

	for ctx.Err() == nil {
		snap := s.machine.Snapshot()
		switch snap.Status {
		case conn.StateDisconnected:
			return
		case conn.StateBackgrounded:
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		case conn.StateError:
			if !s.waitBackoff(ctx, bo) {
				return
			}
			// Reconnect under a fresh epoch, preserving the resume
			// position so the server can resume instead of replaying.
			prev := s.machine.Snapshot()
			_ = s.machine.Disconnect()
			if err := s.machine.Connect(prev.URL, prev.SessionID); err != nil {
				return
			}
			s.machine.SetLastEventID(prev.LastEventID)
			continue
		}

		attemptCtx, cancelAttempt := context.WithCancel(ctx)
		s.mu.Lock()
		s.attemptCancel = cancelAttempt
		s.mu.Unlock()

		err := s.cfg.Reader.Stream(attemptCtx, transport.Options{
			BaseURL:      snap.URL,
			SessionID:    snap.SessionID,
			LastEventID:  snap.LastEventID,
			ConnectionID: snap.ConnectionID,
			IsCurrent:    s.machine.IsCurrentConnection,
			Sink:         s.queue.Enqueue,
			OnEventID:    s.machine.SetLastEventID,
			// connected is reported only once the handshake succeeds,
			// so a failing dial goes connecting -> error, never through
			// a connected the transport did not reach.
			OnConnected: func() {
				_ = s.machine.Connected()
				bo.reset()
			},
		})
		cancelAttempt()

		switch {
		case ctx.Err() != nil:
			return
		case err == nil:
			// Server ended the stream cleanly: flush what is queued,
			// then tear down.
			s.queue.Drain()
			_ = s.machine.Disconnect()
			return
		case errors.Is(err, context.Canceled):
			// Attempt cancelled by Background or SwitchSession; the
			// state machine already reflects why.
			continue
		default:
			s.logger.Warn("event stream failed", "error", err)
			_ = s.machine.Fail(err.Error())
		}
	}
}

func (s *Subscription) waitBackoff(ctx context.Context, bo *backoff) bool {
	wait := bo.next()
	s.logger.Info("reconnecting after stream failure", "wait", wait)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

// Background suspends the transport; resume position is preserved.
func (s *Subscription) Background() error {
	if err := s.machine.Background(); err != nil {
		return err
	}
	s.cancelAttempt()
	return nil
}

// Foreground resumes a backgrounded subscription.
func (s *Subscription) Foreground() error {
	if err := s.machine.Foreground(); err != nil {
		return err
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// SwitchSession retargets the subscription: pending events are
// discarded and a fresh processor is scoped to the new session.
func (s *Subscription) SwitchSession(sessionID string) {
	s.queue.Clear()

	s.mu.Lock()
	s.sessionID = sessionID
	s.proc = processor.New(s.processorConfig(sessionID))
	s.mu.Unlock()

	s.machine.SetSessionID(sessionID)
	s.machine.SetLastEventID("")
	s.cancelAttempt()
}

// Stop tears the subscription down and closes the update stream.
func (s *Subscription) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = s.machine.Disconnect()
	s.queue.Clear()
	if started && cancel != nil {
		<-s.done
	}
	s.updates.Close()
}

func (s *Subscription) cancelAttempt() {
	s.mu.Lock()
	cancel := s.attemptCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// TrackOptimisticMessage registers a placeholder with the current
// session's processor.
func (s *Subscription) TrackOptimisticMessage(tempID string) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	proc.TrackOptimisticMessage(tempID)
}

func (s *Subscription) Connection() conn.Snapshot {
	return s.machine.Snapshot()
}

func (s *Subscription) QueueStats() queue.Stats {
	return s.queue.Stats()
}

func (s *Subscription) ActiveStreamingCount() int {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	return proc.ActiveStreamingCount()
}
