package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/protocol"
	"github.com/talkincode/wagate/internal/wstore"
)

// TextSender is the direct-send capability handed to the inbound
// handler, bypassing the durable queue for immediate replies.
type TextSender interface {
	SendText(ctx context.Context, target string, text string) (string, error)
}

// InboundHandler consumes inbound message notifications. Implemented by
// the auto-reply orchestrator; the manager performs no reply logic.
type InboundHandler interface {
	HandleInbound(ctx context.Context, deviceID string, msg protocol.Message, sender TextSender)
}

// Manager drives every device's session lifecycle and owns the
// process-wide registry. A device has at most one live session; the
// registry map and a singleflight group together enforce that under
// concurrent StartSession calls.
type Manager struct {
	db      *gorm.DB
	cfg     *config.AppConfig
	dialer  protocol.Dialer
	inbound InboundHandler

	mu       sync.RWMutex
	sessions map[string]*Session
	sf       singleflight.Group
}

func NewManager(db *gorm.DB, cfg *config.AppConfig, dialer protocol.Dialer) *Manager {
	return &Manager{
		db:       db,
		cfg:      cfg,
		dialer:   dialer,
		sessions: make(map[string]*Session),
	}
}

// SetInboundHandler wires the auto-reply orchestrator. Must be called
// before any session starts.
func (m *Manager) SetInboundHandler(h InboundHandler) {
	m.inbound = h
}

// GetSession returns the live session for a device, nil when absent.
func (m *Manager) GetSession(deviceID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[deviceID]
}

// GetStore returns the conversation store attached to a live session,
// nil when the device has none.
func (m *Manager) GetStore(deviceID string) *wstore.Store {
	if sess := m.GetSession(deviceID); sess != nil {
		return sess.Store()
	}
	return nil
}

// LiveConn returns the connection for a device when it is authenticated
// and ready to send. Used by the outbound queue processor.
func (m *Manager) LiveConn(deviceID string) (protocol.Conn, bool) {
	sess := m.GetSession(deviceID)
	if sess == nil || sess.User() == nil {
		return nil, false
	}
	conn := sess.Conn()
	if conn == nil {
		return nil, false
	}
	return conn, true
}

// StartSession opens a session for the device. Idempotent: a concurrent
// or repeated call for an already running device returns the existing
// handle.
func (m *Manager) StartSession(deviceID string) (*Session, error) {
	v, err, _ := m.sf.Do(deviceID, func() (interface{}, error) {
		return m.startSession(deviceID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) startSession(deviceID string) (*Session, error) {
	if sess := m.GetSession(deviceID); sess != nil {
		zap.L().Debug("session already running", zap.String("device_id", deviceID))
		return sess, nil
	}

	credDir := m.credentialDir(deviceID)
	if err := os.MkdirAll(credDir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create credential dir")
	}

	bus := EventBus.New()
	store := wstore.NewStore(filepath.Join(credDir, "store.json"))
	if err := store.ReadFromFile(); err != nil {
		zap.L().Warn("session store snapshot unreadable, starting empty",
			zap.String("device_id", deviceID), zap.Error(err))
	}
	store.Bind(bus)

	sess := newSession(deviceID, bus, store)

	m.mu.Lock()
	if existing := m.sessions[deviceID]; existing != nil {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[deviceID] = sess
	m.mu.Unlock()

	m.bindObservers(sess, credDir)
	m.setDeviceStatus(deviceID, domain.DeviceConnecting, nil)

	conn, err := m.dialer.Dial(context.Background(), deviceID, credDir, bus)
	if err != nil {
		m.remove(sess)
		m.setDeviceStatus(deviceID, domain.DeviceDisconnected, nil)
		return nil, errors.Wrap(err, "dial")
	}
	sess.setConn(conn)

	go m.snapshotLoop(sess)

	zap.L().Info("session started", zap.String("device_id", deviceID))
	return sess, nil
}

// StopSession ends the connection best-effort and always removes the
// session and marks the device disconnected.
func (m *Manager) StopSession(deviceID string) {
	if sess := m.GetSession(deviceID); sess != nil {
		sess.markClosed()
		if conn := sess.Conn(); conn != nil {
			if err := conn.Close(); err != nil {
				zap.L().Warn("session close failed", zap.String("device_id", deviceID), zap.Error(err))
			}
		}
		m.remove(sess)
	}
	m.setDeviceStatus(deviceID, domain.DeviceDisconnected, nil)
	zap.L().Info("session stopped", zap.String("device_id", deviceID))
}

// LogoutSession revokes credentials and deletes all local session
// state. Safe to call when no session exists: it then acts purely as
// file and record cleanup. Irreversible.
func (m *Manager) LogoutSession(ctx context.Context, deviceID string) {
	if sess := m.GetSession(deviceID); sess != nil {
		sess.markClosed()
		sess.setState(StateLoggedOut)
		if conn := sess.Conn(); conn != nil {
			if err := conn.Logout(ctx); err != nil {
				zap.L().Warn("protocol logout failed", zap.String("device_id", deviceID), zap.Error(err))
			}
			if err := conn.Close(); err != nil {
				zap.L().Warn("session close failed", zap.String("device_id", deviceID), zap.Error(err))
			}
		}
		m.remove(sess)
	}

	if err := os.RemoveAll(m.credentialDir(deviceID)); err != nil {
		zap.L().Warn("credential dir removal failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	phone := ""
	m.setDeviceStatus(deviceID, domain.DeviceDisconnected, &phone)
	zap.L().Info("session logged out and cleaned", zap.String("device_id", deviceID))
}

// RestoreAllSessions starts a session for every device with on-disk
// credential material, pacing the starts to avoid a thundering herd of
// simultaneous handshakes.
func (m *Manager) RestoreAllSessions(ctx context.Context) error {
	var devices []domain.WaDevice
	if err := m.db.Find(&devices).Error; err != nil {
		return errors.Wrap(err, "list devices")
	}
	zap.L().Info("restoring device sessions", zap.Int("count", len(devices)))

	for _, dev := range devices {
		if _, err := os.Stat(m.credentialDir(dev.DeviceID)); err != nil {
			continue
		}
		if _, err := m.StartSession(dev.DeviceID); err != nil {
			zap.L().Warn("session restore failed", zap.String("device_id", dev.DeviceID), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.RestoreDelay()):
		}
	}
	return nil
}

func (m *Manager) credentialDir(deviceID string) string {
	return filepath.Join(m.cfg.Gateway.SessionsDir, deviceID)
}

// remove deletes the session from the registry if it is still the
// registered one, flushes its store a final time and ends its loops.
func (m *Manager) remove(sess *Session) {
	m.mu.Lock()
	if m.sessions[sess.DeviceID] == sess {
		delete(m.sessions, sess.DeviceID)
	}
	m.mu.Unlock()

	sess.endSnapshots()
	if err := sess.Store().WriteToFile(); err != nil {
		zap.L().Warn("final store snapshot failed", zap.String("device_id", sess.DeviceID), zap.Error(err))
	}
}

func (m *Manager) setDeviceStatus(deviceID string, status string, phone *string) {
	updates := map[string]interface{}{"status": status}
	if phone != nil {
		updates["phone_number"] = *phone
	}
	if err := m.db.Model(&domain.WaDevice{}).Where("device_id = ?", deviceID).Updates(updates).Error; err != nil {
		zap.L().Error("device status update failed",
			zap.String("device_id", deviceID), zap.String("status", status), zap.Error(err))
	}
}

// snapshotLoop flushes the session's store on a fixed interval until
// the session is removed.
func (m *Manager) snapshotLoop(sess *Session) {
	ticker := time.NewTicker(m.cfg.SnapshotInterval())
	defer ticker.Stop()
	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
			if err := sess.Store().WriteToFile(); err != nil {
				zap.L().Warn("store snapshot failed", zap.String("device_id", sess.DeviceID), zap.Error(err))
			}
		}
	}
}
