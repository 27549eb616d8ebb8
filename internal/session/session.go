// Package session owns the per-device connection lifecycle: the state
// machine from pairing through reconnect or terminal logout, the
// process-wide session registry, and the binding of the conversation
// store to connection events.
package session

import (
	"sync"

	"github.com/asaskevich/EventBus"

	"github.com/talkincode/wagate/internal/protocol"
	"github.com/talkincode/wagate/internal/wstore"
)

// State is the lifecycle position of one session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateReconnecting
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Session is the runtime handle for one device's open connection. It is
// never persisted; the registry entry is created by StartSession and
// destroyed on stop, terminal close or logout.
type Session struct {
	DeviceID string

	mu    sync.RWMutex
	conn  protocol.Conn
	bus   EventBus.Bus
	store *wstore.Store
	qr    string
	user  *protocol.UserInfo
	state State

	// closed latches once a close event has been handled so a late
	// duplicate can never schedule a second reconnect.
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
}

func newSession(deviceID string, bus EventBus.Bus, store *wstore.Store) *Session {
	return &Session{
		DeviceID: deviceID,
		bus:      bus,
		store:    store,
		state:    StateConnecting,
		stop:     make(chan struct{}),
	}
}

// Status reports the externally visible connection status.
func (s *Session) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil {
		return "connected"
	}
	return "connecting"
}

// QR returns the pending pairing payload, empty when none is
// outstanding.
func (s *Session) QR() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

// User returns the authenticated identity, nil before pairing completes.
func (s *Session) User() *protocol.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Store returns the session's conversation index.
func (s *Session) Store() *wstore.Store {
	return s.store
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setQR(qr string) {
	s.mu.Lock()
	s.qr = qr
	s.mu.Unlock()
}

// setUser records the authenticated identity and clears any pending QR.
func (s *Session) setUser(user *protocol.UserInfo) {
	s.mu.Lock()
	s.user = user
	s.qr = ""
	s.state = StateConnected
	s.mu.Unlock()
}

func (s *Session) setConn(conn protocol.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Conn returns the underlying connection, nil while dialing.
func (s *Session) Conn() protocol.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// markClosed latches the close handling; it returns false when the
// session already processed a close event.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.state = StateClosing
	return true
}

// endSnapshots stops the snapshot loop; safe to call repeatedly.
func (s *Session) endSnapshots() {
	s.stopOnce.Do(func() { close(s.stop) })
}
