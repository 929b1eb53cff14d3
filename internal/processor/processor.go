// Package processor folds one session's worth of server events into
// message and session state, with exactly-once visible effects.
package processor

import (
	"log/slog"
	"sync"

	"github.com/sdelcore/droidcode/internal/assembly"
	"github.com/sdelcore/droidcode/internal/dedup"
	"github.com/sdelcore/droidcode/pkg/wire"
)

// SessionEvent is a non-message event forwarded to the collaborator.
// session.diff.updated is re-tagged session.diff before forwarding.
type SessionEvent struct {
	Type    wire.EventType
	Payload any
}

type Config struct {
	SessionID         string
	OnMessageUpdate   func(msg assembly.Message, isStreaming bool)
	OnMessageComplete func(msg assembly.Message)
	OnSessionEvent    func(ev SessionEvent)
	Logger            *slog.Logger

	// DedupCapacity bounds the idempotency record set; zero means the
	// dedup package default.
	DedupCapacity int
}

// Processor orchestrates one session's event stream: it session-scopes,
// deduplicates, and routes envelopes, maintaining the set of active
// (started, not yet completed) streaming messages. Callbacks run on the
// processing goroutine; processing is serialized internally.
type Processor struct {
	mu         sync.Mutex
	cfg        Config
	logger     *slog.Logger
	filter     *dedup.Filter
	active     map[string]*assembly.Streaming
	optimistic []string
}

func New(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:    cfg,
		logger: logger,
		filter: dedup.New(cfg.DedupCapacity),
		active: make(map[string]*assembly.Streaming),
	}
}

// ProcessBatch feeds a queue batch through ProcessEvent in order.
func (p *Processor) ProcessBatch(batch []wire.Envelope) {
	for _, env := range batch {
		p.ProcessEvent(env)
	}
}

func (p *Processor) ProcessEvent(env wire.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if env.SessionID != p.cfg.SessionID {
		p.logger.Debug("discarding cross-session event",
			"eventSession", env.SessionID, "session", p.cfg.SessionID, "type", env.Type)
		return
	}

	// Duplicates are an expected consequence of at-least-once delivery:
	// discard silently. Events without an id cannot be deduplicated at
	// the envelope level and fall through to the per-message keys.
	if env.EventID != "" && !p.filter.ShouldProcess("evt:"+env.EventID) {
		return
	}

	payload, err := env.DecodePayload()
	if err != nil {
		p.logger.Debug("dropping undecodable event", "type", env.Type, "error", err)
		return
	}

	switch data := payload.(type) {
	case *wire.MessageStart:
		p.handleStart(env, data)
	case *wire.MessageDelta:
		p.handleDelta(env, data)
	case *wire.MessageComplete:
		p.handleComplete(data)
	default:
		p.forwardSessionEvent(env.Type, payload)
	}
}

func (p *Processor) handleStart(env wire.Envelope, data *wire.MessageStart) {
	// Start idempotency is keyed by message identity as well: a
	// retransmitted start with a fresh event ID must not begin the
	// message twice.
	if !p.filter.ShouldProcess("start:" + data.MessageID) {
		return
	}

	if data.Role == wire.RoleUser && len(p.optimistic) > 0 {
		tempID := p.optimistic[0]
		p.optimistic = p.optimistic[1:]
		p.logger.Info("matched optimistic user message",
			"tempId", tempID, "messageId", data.MessageID)
		return
	}

	msg := assembly.New(data.MessageID, data.Role, data.Agent, env.Timestamp)
	p.active[data.MessageID] = msg
	if p.cfg.OnMessageUpdate != nil {
		p.cfg.OnMessageUpdate(msg.Snapshot(), true)
	}
}

func (p *Processor) handleDelta(env wire.Envelope, data *wire.MessageDelta) {
	msg, ok := p.active[data.MessageID]
	if !ok {
		// Late deltas after completion are expected noise.
		if p.filter.Seen("done:" + data.MessageID) {
			return
		}
		// The start event was lost or is still in flight: recover with
		// an assistant message so no content is dropped.
		p.logger.Warn("recovering message without start event", "messageId", data.MessageID)
		msg = assembly.New(data.MessageID, wire.RoleAssistant, "", env.Timestamp)
		p.active[data.MessageID] = msg
		p.filter.ShouldProcess("start:" + data.MessageID)
	}

	switch assembly.PartType(data.PartType) {
	case assembly.PartText, assembly.PartThinking:
		msg.AppendContent(data.PartID, assembly.PartType(data.PartType), data.Content)
	case assembly.PartTool:
		msg.UpsertTool(data.PartID, assembly.ToolUpdate{
			ToolName: data.ToolName,
			Status:   assembly.ToolStatus(data.Status),
			Input:    data.Input,
			Output:   data.Output,
		})
	case assembly.PartFile:
		url := data.URL
		if url == "" {
			url = data.Content
		}
		msg.SetFile(data.PartID, data.Mime, url)
	default:
		p.logger.Debug("ignoring delta with unknown part type",
			"messageId", data.MessageID, "partType", data.PartType)
		return
	}

	if p.cfg.OnMessageUpdate != nil {
		p.cfg.OnMessageUpdate(msg.Snapshot(), true)
	}
}

func (p *Processor) handleComplete(data *wire.MessageComplete) {
	msg, ok := p.active[data.MessageID]
	if !ok {
		// Already completed or never started: do not synthesize an
		// empty message.
		return
	}
	delete(p.active, data.MessageID)
	p.filter.ShouldProcess("done:" + data.MessageID)

	if p.cfg.OnMessageComplete != nil {
		p.cfg.OnMessageComplete(msg.Snapshot())
	}
}

func (p *Processor) forwardSessionEvent(typ wire.EventType, payload any) {
	if typ == wire.EventSessionDiffUpdated {
		typ = wire.EventSessionDiff
	}
	if p.cfg.OnSessionEvent != nil {
		p.cfg.OnSessionEvent(SessionEvent{Type: typ, Payload: payload})
	}
}

// TrackOptimisticMessage registers a client-minted placeholder consumed
// FIFO by the next user-role message.start, suppressing the duplicate
// message creation.
func (p *Processor) TrackOptimisticMessage(tempID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.optimistic = append(p.optimistic, tempID)
}

// ActiveStreamingCount returns the number of messages currently between
// start and complete.
func (p *Processor) ActiveStreamingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Reset wipes active messages, dedup records, and optimistic
// placeholders. Used on logout and session switch.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = make(map[string]*assembly.Streaming)
	p.optimistic = nil
	p.filter.Reset()
}

// SessionID returns the session this processor is scoped to.
func (p *Processor) SessionID() string {
	return p.cfg.SessionID
}
