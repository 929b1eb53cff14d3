package client

import (
	"sync"
	"sync/atomic"

	"github.com/sdelcore/droidcode/internal/assembly"
	"github.com/sdelcore/droidcode/internal/conn"
	"github.com/sdelcore/droidcode/internal/processor"
)

type UpdateKind string

const (
	// A streaming message changed; Message is the latest snapshot.
	UpdateMessage UpdateKind = "message"

	// A message finished; Message is its final snapshot.
	UpdateMessageComplete UpdateKind = "message_complete"

	// A non-message session event was forwarded by the processor.
	UpdateSessionEvent UpdateKind = "session_event"

	// The connection state machine accepted a transition.
	UpdateConnection UpdateKind = "connection"
)

// Update is one item on a subscription's update stream.
type Update struct {
	Kind        UpdateKind
	Message     assembly.Message
	IsStreaming bool
	Event       processor.SessionEvent
	Connection  conn.Snapshot
}

// Updates fans one subscription's updates out to any number of
// consumers (UI stores, loggers).
type Updates struct {
	mu          sync.Mutex
	subscribers []*updateSubscriber
	closed      bool
}

// Subscribe creates a new subscription and returns the receiving end.
// bufSize controls the channel buffer; 0 means unbuffered.
func (u *Updates) Subscribe(bufSize int) *UpdateReceiver {
	sub, recv := newUpdateSubscription(bufSize)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		sub.shutdown()
		return recv
	}
	u.subscribers = append(u.subscribers, sub)
	return recv
}

func (u *Updates) publish(up Update) {
	u.mu.Lock()
	defer u.mu.Unlock()

	alive := u.subscribers[:0]
	for _, sub := range u.subscribers {
		if sub.send(up) {
			alive = append(alive, sub)
		}
	}
	u.subscribers = alive
}

func (u *Updates) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	for _, sub := range u.subscribers {
		sub.shutdown()
	}
	u.subscribers = nil
}

// updateSubscriber is the sending side of a subscription held by Updates.
type updateSubscriber struct {
	c       chan Update
	closedC chan struct{}
	closed  atomic.Bool
}

// UpdateReceiver is the receiving end held by the consumer.
type UpdateReceiver struct {
	C   <-chan Update
	sub *updateSubscriber
}

func newUpdateSubscription(bufSize int) (*updateSubscriber, *UpdateReceiver) {
	ch := make(chan Update, bufSize)
	sub := &updateSubscriber{
		c:       ch,
		closedC: make(chan struct{}),
	}
	return sub, &UpdateReceiver{C: ch, sub: sub}
}

// send blocks until the update is accepted or the subscriber closes.
func (us *updateSubscriber) send(up Update) bool {
	if us.closed.Load() {
		return false
	}
	select {
	case us.c <- up:
		return true
	case <-us.closedC:
		return false
	}
}

// markClosed flags the subscriber dead and unblocks any in-flight send.
// It never closes the update channel: only the publishing side may do
// that, under the Updates lock that serializes all sends.
func (us *updateSubscriber) markClosed() {
	if us.closed.CompareAndSwap(false, true) {
		close(us.closedC)
	}
}

// shutdown is the publishing side's close. Callers must hold the
// Updates lock (or own the subscriber exclusively) so the channel
// close cannot race a publish.
func (us *updateSubscriber) shutdown() {
	us.markClosed()
	close(us.c)
}

// Close shuts down the subscription from the receiving side. The
// update channel is left open; later publishes observe the closed flag
// and drop the subscriber.
func (ur *UpdateReceiver) Close() {
	ur.sub.markClosed()
}
