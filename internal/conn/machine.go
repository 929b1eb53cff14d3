// Package conn owns the connection lifecycle state machine and the
// connection identity used to recognize stale asynchronous work.
package conn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackgrounded
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackgrounded:
		return "backgrounded"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Input is a transition trigger fed to the machine by the transport and
// the application lifecycle.
type Input int

const (
	InputConnect Input = iota
	InputConnected
	InputDisconnect
	InputBackground
	InputForeground
	InputError
)

func (i Input) String() string {
	switch i {
	case InputConnect:
		return "CONNECT"
	case InputConnected:
		return "CONNECTED"
	case InputDisconnect:
		return "DISCONNECT"
	case InputBackground:
		return "APP_BACKGROUNDED"
	case InputForeground:
		return "APP_FOREGROUNDED"
	case InputError:
		return "ERROR"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("invalid state transition")

func NewInvalidTransitionError(input Input, from State) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, input, from)
}

// validFrom lists the states each input is accepted in. Inputs absent
// from the map (DISCONNECT, ERROR) are accepted in every state.
var validFrom = map[Input][]State{
	InputConnect:    {StateDisconnected},
	InputConnected:  {StateConnecting, StateReconnecting},
	InputBackground: {StateConnected},
	InputForeground: {StateBackgrounded},
}

func accepts(input Input, from State) bool {
	allowed, ok := validFrom[input]
	if !ok {
		return true
	}
	for _, s := range allowed {
		if s == from {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time, lock-free copy of the machine's fields.
type Snapshot struct {
	Status           State
	URL              string
	SessionID        string
	ConnectionID     string
	LastEventID      string
	Error            string
	ReconnectAttempt int
}

type Listener func(Snapshot)

// Machine is the connection lifecycle state machine. It is mutated only
// through its transition methods; callers may fire transitions
// speculatively and treat ErrInvalidTransition as a no-op.
type Machine struct {
	mu               sync.RWMutex
	state            State
	url              string
	sessionID        string
	connectionID     string
	lastEventID      string
	errMsg           string
	reconnectAttempt int

	listeners    map[int]Listener
	nextListener int
}

func NewMachine() *Machine {
	return &Machine{listeners: make(map[int]Listener)}
}

// Connect begins a new connection epoch: a fresh connection ID is minted
// so that callbacks from any previous epoch can be recognized as stale.
func (m *Machine) Connect(url, sessionID string) error {
	return m.apply(InputConnect, StateConnecting, func() {
		m.url = url
		m.sessionID = sessionID
		m.connectionID = uuid.NewString()
		m.reconnectAttempt = 0
		m.errMsg = ""
	})
}

func (m *Machine) Connected() error {
	return m.apply(InputConnected, StateConnected, func() {
		m.errMsg = ""
	})
}

// Disconnect ends the current epoch and clears resume state.
func (m *Machine) Disconnect() error {
	return m.apply(InputDisconnect, StateDisconnected, func() {
		m.connectionID = ""
		m.sessionID = ""
		m.lastEventID = ""
	})
}

func (m *Machine) Background() error {
	return m.apply(InputBackground, StateBackgrounded, nil)
}

// Foreground moves a backgrounded connection into reconnecting; resume
// position (lastEventID, sessionID) is preserved so the transport can
// request a resumed stream rather than a cold replay.
func (m *Machine) Foreground() error {
	return m.apply(InputForeground, StateReconnecting, func() {
		m.reconnectAttempt++
	})
}

// Fail records a transport-reported failure. Other fields are retained
// for diagnosis.
func (m *Machine) Fail(message string) error {
	return m.apply(InputError, StateError, func() {
		m.errMsg = message
	})
}

func (m *Machine) apply(input Input, to State, mutate func()) error {
	m.mu.Lock()
	if !accepts(input, m.state) {
		from := m.state
		m.mu.Unlock()
		return NewInvalidTransitionError(input, from)
	}
	m.state = to
	if mutate != nil {
		mutate()
	}
	snapshot := m.snapshotLocked()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}

// IsCurrentConnection reports whether id names the current connection
// epoch. Asynchronous work keyed to a superseded epoch must check this
// before acting.
func (m *Machine) IsCurrentConnection(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return id == m.connectionID
}

// SetLastEventID persists the resume position without a transition.
func (m *Machine) SetLastEventID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastEventID = id
}

// SetSessionID retargets the machine without a full reconnect cycle.
func (m *Machine) SetSessionID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = id
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		Status:           m.state,
		URL:              m.url,
		SessionID:        m.sessionID,
		ConnectionID:     m.connectionID,
		LastEventID:      m.lastEventID,
		Error:            m.errMsg,
		ReconnectAttempt: m.reconnectAttempt,
	}
}

// AddListener registers an observer notified with the full snapshot on
// every accepted transition. The returned func removes the listener.
func (m *Machine) AddListener(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}
