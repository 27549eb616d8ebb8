package session

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/protocol"
)

// bindObservers attaches the manager's lifecycle handlers to a
// session's bus. The conversation store subscribes separately; the
// handlers here cover status transitions, the sent-message ledger and
// the inbound forward to the auto-reply orchestrator.
func (m *Manager) bindObservers(sess *Session, credDir string) {
	subscribe := func(topic string, fn interface{}) {
		if err := sess.bus.Subscribe(topic, fn); err != nil {
			zap.L().Error("session: subscribe failed",
				zap.String("device_id", sess.DeviceID), zap.String("topic", topic), zap.Error(err))
		}
	}

	subscribe(protocol.TopicConnection, func(ev protocol.ConnectionUpdate) {
		m.handleConnectionUpdate(sess, credDir, ev)
	})
	subscribe(protocol.TopicMessageUpdate, func(ev protocol.MessageUpdate) {
		m.handleReceipt(sess.DeviceID, ev)
	})
	subscribe(protocol.TopicMessageUpsert, func(ev protocol.MessageUpsert) {
		m.forwardInbound(sess, ev)
	})
}

func (m *Manager) handleConnectionUpdate(sess *Session, credDir string, ev protocol.ConnectionUpdate) {
	deviceID := sess.DeviceID

	switch {
	case ev.QR != "":
		// Overwritten on each emission; cleared by setUser on open.
		sess.setQR(ev.QR)
		zap.L().Info("qr received", zap.String("device_id", deviceID))

	case ev.Open:
		sess.setUser(ev.User)
		var phone *string
		if ev.User != nil {
			p := ev.User.PhoneNumber()
			phone = &p
		}
		m.setDeviceStatus(deviceID, domain.DeviceConnected, phone)
		zap.L().Info("session connected", zap.String("device_id", deviceID))

	case ev.Closed:
		if !sess.markClosed() {
			return
		}
		if ev.LoggedOut {
			m.handleLoggedOut(sess, credDir, ev.Reason)
		} else {
			m.handleTransientClose(sess, ev.Reason)
		}
	}
}

// handleLoggedOut tears down all local state for the device. Terminal:
// no reconnect is ever scheduled from here.
func (m *Manager) handleLoggedOut(sess *Session, credDir string, reason string) {
	deviceID := sess.DeviceID
	zap.L().Info("session logged out by upstream",
		zap.String("device_id", deviceID), zap.String("reason", reason))

	sess.setState(StateLoggedOut)
	m.remove(sess)
	phone := ""
	m.setDeviceStatus(deviceID, domain.DeviceDisconnected, &phone)
	if err := os.RemoveAll(credDir); err != nil {
		zap.L().Warn("credential dir removal failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// handleTransientClose drops the stale session but keeps credential
// files and schedules a fresh start after the reconnect delay.
func (m *Manager) handleTransientClose(sess *Session, reason string) {
	deviceID := sess.DeviceID
	zap.L().Info("session disconnected, reconnecting",
		zap.String("device_id", deviceID), zap.String("reason", reason),
		zap.Duration("delay", m.cfg.ReconnectDelay()))

	sess.setState(StateReconnecting)
	m.remove(sess)
	m.setDeviceStatus(deviceID, domain.DeviceConnecting, nil)

	time.AfterFunc(m.cfg.ReconnectDelay(), func() {
		if _, err := m.StartSession(deviceID); err != nil {
			zap.L().Warn("reconnect failed", zap.String("device_id", deviceID), zap.Error(err))
		}
	})
}

// handleReceipt mirrors delivery-status transitions onto the outbox
// ledger keyed by provider message id. Never fatal, never retried.
func (m *Manager) handleReceipt(deviceID string, ev protocol.MessageUpdate) {
	if ev.Status == "" || ev.MessageID == "" {
		return
	}
	err := m.db.Model(&domain.WaOutbox{}).
		Where("device_id = ? and wa_message_id = ?", deviceID, ev.MessageID).
		Update("status", ev.Status).Error
	if err != nil {
		zap.L().Warn("outbox status update failed",
			zap.String("device_id", deviceID), zap.String("wa_message_id", ev.MessageID), zap.Error(err))
	}
}

// forwardInbound hands inbound notify messages to the auto-reply
// orchestrator with the session's direct-send path. Runs detached so a
// slow provider call never blocks the event bus.
func (m *Manager) forwardInbound(sess *Session, ev protocol.MessageUpsert) {
	if m.inbound == nil || ev.Type != protocol.UpsertNotify {
		return
	}
	conn := sess.Conn()
	if conn == nil {
		return
	}
	for _, msg := range ev.Messages {
		if msg.FromMe || msg.Text == "" {
			continue
		}
		msg := msg
		go func() {
			defer func() {
				if r := recover(); r != nil {
					zap.L().Error("inbound handler panic",
						zap.String("device_id", sess.DeviceID), zap.Any("panic", r))
				}
			}()
			m.inbound.HandleInbound(context.Background(), sess.DeviceID, msg, conn)
		}()
	}
}
