package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/protocol"
)

type fakeConn struct {
	mu        sync.Mutex
	loggedOut bool
	closed    bool
}

func (c *fakeConn) SendText(ctx context.Context, target string, text string) (string, error) {
	return "MSG1", nil
}

func (c *fakeConn) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	buses map[string]EventBus.Bus
	conns map[string]*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		buses: make(map[string]EventBus.Bus),
		conns: make(map[string]*fakeConn),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, deviceID string, credentialDir string, bus EventBus.Bus) (protocol.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	conn := &fakeConn{}
	d.buses[deviceID] = bus
	d.conns[deviceID] = conn
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) bus(deviceID string) EventBus.Bus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buses[deviceID]
}

func newTestManager(t *testing.T) (*Manager, *fakeDialer, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "session.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Tables...))

	cfg := config.DefaultAppConfig()
	cfg.Gateway.SessionsDir = t.TempDir()
	cfg.Gateway.ReconnectDelayMs = 20
	cfg.Gateway.RestoreDelayMs = 1

	dialer := newFakeDialer()
	return NewManager(db, cfg, dialer), dialer, db
}

func createDevice(t *testing.T, db *gorm.DB, deviceID string) {
	t.Helper()
	require.NoError(t, db.Create(&domain.WaDevice{
		ID:       time.Now().UnixNano(),
		DeviceID: deviceID,
		ApiKey:   deviceID + "-key",
		Status:   domain.DeviceDisconnected,
	}).Error)
}

func deviceRow(t *testing.T, db *gorm.DB, deviceID string) domain.WaDevice {
	t.Helper()
	var device domain.WaDevice
	require.NoError(t, db.Where("device_id = ?", deviceID).First(&device).Error)
	return device
}

func TestStartSessionSingleInstance(t *testing.T) {
	assert := assert.New(t)
	manager, dialer, db := newTestManager(t)
	createDevice(t, db, "dev1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.StartSession("dev1")
			assert.NoError(err)
		}()
	}
	wg.Wait()

	assert.Equal(1, dialer.dialCount())
	require.NotNil(t, manager.GetSession("dev1"))
	assert.Equal(domain.DeviceConnecting, deviceRow(t, db, "dev1").Status)
}

func TestConnectionOpenMarksConnected(t *testing.T) {
	assert := assert.New(t)
	manager, dialer, db := newTestManager(t)
	createDevice(t, db, "dev1")

	_, err := manager.StartSession("dev1")
	require.NoError(t, err)

	// No authenticated user yet, so sends must be refused.
	_, live := manager.LiveConn("dev1")
	assert.False(live)

	dialer.bus("dev1").Publish(protocol.TopicConnection, protocol.ConnectionUpdate{
		QR: "pair-me",
	})
	sess := manager.GetSession("dev1")
	assert.Equal("pair-me", sess.QR())
	assert.Equal("connecting", sess.Status())

	dialer.bus("dev1").Publish(protocol.TopicConnection, protocol.ConnectionUpdate{
		Open: true,
		User: &protocol.UserInfo{JID: "628123456@s.whatsapp.net", Name: "Tester"},
	})

	assert.Equal("connected", sess.Status())
	assert.Empty(sess.QR())
	_, live = manager.LiveConn("dev1")
	assert.True(live)

	row := deviceRow(t, db, "dev1")
	assert.Equal(domain.DeviceConnected, row.Status)
	assert.Equal("628123456", row.PhoneNumber)
}

func TestStopSessionKeepsCredentials(t *testing.T) {
	assert := assert.New(t)
	manager, _, db := newTestManager(t)
	createDevice(t, db, "dev1")

	_, err := manager.StartSession("dev1")
	require.NoError(t, err)
	credDir := manager.credentialDir("dev1")
	require.DirExists(t, credDir)

	manager.StopSession("dev1")
	assert.Nil(manager.GetSession("dev1"))
	assert.DirExists(credDir)
	assert.Equal(domain.DeviceDisconnected, deviceRow(t, db, "dev1").Status)

	// Stopping again is harmless.
	manager.StopSession("dev1")
}

func TestLogoutSessionWipesState(t *testing.T) {
	assert := assert.New(t)
	manager, dialer, db := newTestManager(t)
	createDevice(t, db, "dev1")

	_, err := manager.StartSession("dev1")
	require.NoError(t, err)
	dialer.bus("dev1").Publish(protocol.TopicConnection, protocol.ConnectionUpdate{
		Open: true,
		User: &protocol.UserInfo{JID: "628123456@s.whatsapp.net"},
	})
	credDir := manager.credentialDir("dev1")

	manager.LogoutSession(context.Background(), "dev1")

	assert.Nil(manager.GetSession("dev1"))
	assert.NoDirExists(credDir)
	dialer.mu.Lock()
	assert.True(dialer.conns["dev1"].loggedOut)
	dialer.mu.Unlock()

	row := deviceRow(t, db, "dev1")
	assert.Equal(domain.DeviceDisconnected, row.Status)
	assert.Empty(row.PhoneNumber)
}

func TestUpstreamLogoutIsTerminal(t *testing.T) {
	assert := assert.New(t)
	manager, dialer, db := newTestManager(t)
	createDevice(t, db, "dev1")

	_, err := manager.StartSession("dev1")
	require.NoError(t, err)
	credDir := manager.credentialDir("dev1")

	dialer.bus("dev1").Publish(protocol.TopicConnection, protocol.ConnectionUpdate{
		Closed:    true,
		LoggedOut: true,
		Reason:    "logged out from phone",
	})

	assert.Nil(manager.GetSession("dev1"))
	assert.NoDirExists(credDir)

	// No reconnect may ever fire after a terminal logout.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(1, dialer.dialCount())
	assert.Equal(domain.DeviceDisconnected, deviceRow(t, db, "dev1").Status)
}

func TestTransientCloseReconnects(t *testing.T) {
	assert := assert.New(t)
	manager, dialer, db := newTestManager(t)
	createDevice(t, db, "dev1")

	_, err := manager.StartSession("dev1")
	require.NoError(t, err)
	credDir := manager.credentialDir("dev1")

	bus := dialer.bus("dev1")
	bus.Publish(protocol.TopicConnection, protocol.ConnectionUpdate{
		Closed: true,
		Reason: "stream error",
	})
	// Duplicate close events must be swallowed by the latch.
	bus.Publish(protocol.TopicConnection, protocol.ConnectionUpdate{
		Closed: true,
		Reason: "stream error",
	})

	assert.Nil(manager.GetSession("dev1"))
	assert.DirExists(credDir)

	assert.Eventually(func() bool {
		return dialer.dialCount() == 2 && manager.GetSession("dev1") != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(2, dialer.dialCount())
}

func TestReceiptUpdatesOutbox(t *testing.T) {
	assert := assert.New(t)
	manager, dialer, db := newTestManager(t)
	createDevice(t, db, "dev1")

	require.NoError(t, db.Create(&domain.WaOutbox{
		ID:          1,
		DeviceID:    "dev1",
		Target:      "628111",
		Message:     "hi",
		WaMessageID: "MSG1",
		Status:      domain.OutboxSent,
	}).Error)

	_, err := manager.StartSession("dev1")
	require.NoError(t, err)

	dialer.bus("dev1").Publish(protocol.TopicMessageUpdate, protocol.MessageUpdate{
		ChatID:    "628111@s.whatsapp.net",
		MessageID: "MSG1",
		Status:    domain.OutboxRead,
	})

	var row domain.WaOutbox
	require.NoError(t, db.First(&row, 1).Error)
	assert.Equal(domain.OutboxRead, row.Status)
}

func TestRestoreAllSessions(t *testing.T) {
	assert := assert.New(t)
	manager, dialer, db := newTestManager(t)
	createDevice(t, db, "dev1")
	createDevice(t, db, "dev2")

	// Only dev1 has credential material on disk.
	require.NoError(t, os.MkdirAll(manager.credentialDir("dev1"), 0750))

	require.NoError(t, manager.RestoreAllSessions(context.Background()))

	assert.Equal(1, dialer.dialCount())
	assert.NotNil(manager.GetSession("dev1"))
	assert.Nil(manager.GetSession("dev2"))
}
