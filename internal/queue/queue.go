// Package queue buffers raw event envelopes between the transport and
// the processor, batching delivery to amortize work under event bursts.
package queue

import (
	"sync"
	"time"

	"github.com/sdelcore/droidcode/pkg/wire"
)

const (
	DefaultMaxQueueSize = 1000
	DefaultBatchSize    = 32
	DefaultBatchDelay   = 50 * time.Millisecond
)

type Config struct {
	MaxQueueSize int
	BatchSize    int
	BatchDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	return c
}

// Processor consumes one delivered batch, in enqueue order.
type Processor func(batch []wire.Envelope)

type Stats struct {
	Queued    int64
	Processed int64
	Dropped   int64
}

// Queue is a bounded FIFO of envelopes. A flush is scheduled BatchDelay
// after the first envelope lands in an empty pending batch, or fires
// immediately once BatchSize envelopes have accumulated, whichever
// comes first. Overflow drops the oldest entry, never the newest.
type Queue struct {
	mu        sync.Mutex
	cfg       Config
	pending   []wire.Envelope
	timer     *time.Timer
	processor Processor
	processed int64
	dropped   int64

	// deliverMu serializes batch delivery so batches reach the
	// processor one at a time, in FIFO order.
	deliverMu sync.Mutex
}

func New(cfg Config) *Queue {
	return &Queue{cfg: cfg.withDefaults()}
}

// SetProcessor swaps the consumer. An in-flight batch still delivers to
// whichever processor is registered when its flush fires.
func (q *Queue) SetProcessor(fn Processor) {
	q.mu.Lock()
	q.processor = fn
	hasPending := len(q.pending) > 0
	q.mu.Unlock()

	if fn != nil && hasPending {
		q.deliver()
	}
}

// Enqueue appends the envelope. Enqueue never fails: under capacity
// pressure the oldest queued entry is dropped and counted instead.
func (q *Queue) Enqueue(env wire.Envelope) {
	q.mu.Lock()
	q.pending = append(q.pending, env)
	if len(q.pending) > q.cfg.MaxQueueSize {
		q.pending = q.pending[1:]
		q.dropped++
	}

	if len(q.pending) >= q.cfg.BatchSize {
		q.stopTimerLocked()
		q.mu.Unlock()
		q.deliver()
		return
	}

	if q.timer == nil {
		q.timer = time.AfterFunc(q.cfg.BatchDelay, q.flush)
	}
	q.mu.Unlock()
}

func (q *Queue) flush() {
	q.mu.Lock()
	q.timer = nil
	q.mu.Unlock()
	q.deliver()
}

func (q *Queue) deliver() {
	q.deliverMu.Lock()
	defer q.deliverMu.Unlock()

	for {
		q.mu.Lock()
		proc := q.processor
		if proc == nil || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		n := len(q.pending)
		if n > q.cfg.BatchSize {
			n = q.cfg.BatchSize
		}
		batch := make([]wire.Envelope, n)
		copy(batch, q.pending[:n])
		q.pending = append(q.pending[:0:0], q.pending[n:]...)
		q.mu.Unlock()

		proc(batch)

		q.mu.Lock()
		q.processed += int64(len(batch))
		q.mu.Unlock()
	}
}

// Drain delivers everything pending immediately, without waiting for
// the batch delay. Used when a stream ends cleanly so the final events
// reach the processor before teardown.
func (q *Queue) Drain() {
	q.mu.Lock()
	q.stopTimerLocked()
	q.mu.Unlock()
	q.deliver()
}

// Clear discards all pending envelopes and cancels any scheduled flush.
// Used on disconnect and on session switch so stale events never reach
// a processor scoped to the new session.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopTimerLocked()
	q.pending = nil
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:    int64(len(q.pending)),
		Processed: q.processed,
		Dropped:   q.dropped,
	}
}
