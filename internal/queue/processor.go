// Package queue drains the durable per-device outbound message queue.
// Queue state lives in the wa_queue table so a process restart leaves
// recoverable rows; the in-process active set only coordinates that at
// most one processing loop runs per device.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/protocol"
	"github.com/talkincode/wagate/pkg/common"
)

const errDeviceNotConnected = "device not connected"

// SessionSource resolves the live, authenticated connection for a
// device. Implemented by the session manager.
type SessionSource interface {
	LiveConn(deviceID string) (protocol.Conn, bool)
}

// Processor serializes outbound sends per device in strict insertion
// order with configurable inter-send delay.
type Processor struct {
	db       *gorm.DB
	sessions SessionSource

	// active holds device ids with a running loop. LoadOrStore makes
	// the membership check-and-set atomic under concurrent Enqueue.
	active sync.Map

	wg sync.WaitGroup
}

func NewProcessor(db *gorm.DB, sessions SessionSource) *Processor {
	return &Processor{db: db, sessions: sessions}
}

// Enqueue inserts one pending item per target and ensures a processing
// loop is running for the device.
func (p *Processor) Enqueue(ctx context.Context, deviceID string, targets []string, message string, delay time.Duration) error {
	if len(targets) == 0 {
		return errors.New("no targets")
	}
	items := make([]domain.WaQueueItem, 0, len(targets))
	for _, target := range targets {
		items = append(items, domain.WaQueueItem{
			DeviceID: deviceID,
			Target:   target,
			Message:  message,
			DelayMs:  delay.Milliseconds(),
			Status:   domain.QueuePending,
		})
	}
	if err := p.db.WithContext(ctx).Create(&items).Error; err != nil {
		return errors.Wrap(err, "enqueue queue items")
	}
	p.ensureProcessor(deviceID)
	return nil
}

// ensureProcessor starts a loop for the device unless one is already
// running.
func (p *Processor) ensureProcessor(deviceID string) {
	if _, running := p.active.LoadOrStore(deviceID, struct{}{}); running {
		return
	}
	p.wg.Add(1)
	go p.run(deviceID)
}

// Wait blocks until all running loops exit. Test and shutdown helper.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) run(deviceID string) {
	defer p.wg.Done()
	p.drain(deviceID)
	p.active.Delete(deviceID)
	p.recheck(deviceID)
}

// recheck restarts the loop when an enqueue racing the shutdown left
// rows behind: its LoadOrStore saw the loop as still active between
// the final fetch and the membership delete.
func (p *Processor) recheck(deviceID string) {
	var pending int64
	err := p.db.Model(&domain.WaQueueItem{}).
		Where("device_id = ? and status = ?", deviceID, domain.QueuePending).
		Count(&pending).Error
	if err != nil {
		zap.L().Error("queue recheck failed", zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	if pending > 0 {
		p.ensureProcessor(deviceID)
	}
}

// drain is the per-device loop: oldest pending first, one at a time,
// until no pending work remains. Failures are recorded per item and
// never end the loop.
func (p *Processor) drain(deviceID string) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("queue processor panic", zap.String("device_id", deviceID), zap.Any("panic", r))
		}
	}()

	zap.L().Info("queue processor started", zap.String("device_id", deviceID))

	for {
		var item domain.WaQueueItem
		err := p.db.Where("device_id = ? and status = ?", deviceID, domain.QueuePending).
			Order("id asc").First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Info("queue drained", zap.String("device_id", deviceID))
			return
		}
		if err != nil {
			zap.L().Error("queue fetch failed", zap.String("device_id", deviceID), zap.Error(err))
			return
		}

		p.setItemStatus(item.ID, domain.QueueProcessing, "")

		conn, ok := p.sessions.LiveConn(deviceID)
		if !ok {
			// Fail fast; the item is terminal until the operator
			// re-enqueues after reconnecting.
			zap.L().Warn("queue item failed, device not connected",
				zap.String("device_id", deviceID), zap.Int64("item_id", item.ID))
			p.setItemStatus(item.ID, domain.QueueFailed, errDeviceNotConnected)
			continue
		}

		p.sendItem(deviceID, conn, &item)

		if item.DelayMs > 0 {
			time.Sleep(time.Duration(item.DelayMs) * time.Millisecond)
		}
	}
}

func (p *Processor) sendItem(deviceID string, conn protocol.Conn, item *domain.WaQueueItem) {
	msgID, err := conn.SendText(context.Background(), protocol.NormalizeTarget(item.Target), item.Message)
	if err != nil {
		zap.L().Warn("queue send failed",
			zap.String("device_id", deviceID), zap.String("target", item.Target), zap.Error(err))
		p.setItemStatus(item.ID, domain.QueueFailed, err.Error())
		return
	}

	now := time.Now()
	dberr := p.db.Model(&domain.WaQueueItem{}).Where("id = ?", item.ID).
		Updates(map[string]interface{}{"status": domain.QueueSent, "sent_at": now}).Error
	if dberr != nil {
		zap.L().Error("queue item update failed", zap.Int64("item_id", item.ID), zap.Error(dberr))
	}

	ledger := domain.WaOutbox{
		ID:          common.UUIDint64(),
		DeviceID:    deviceID,
		Target:      item.Target,
		Message:     item.Message,
		WaMessageID: msgID,
		Status:      domain.OutboxSent,
	}
	if err := p.db.Create(&ledger).Error; err != nil {
		zap.L().Error("outbox insert failed", zap.Int64("item_id", item.ID), zap.Error(err))
	}

	zap.L().Info("queue item sent",
		zap.String("device_id", deviceID), zap.String("target", item.Target), zap.String("wa_message_id", msgID))
}

func (p *Processor) setItemStatus(id int64, status string, errText string) {
	updates := map[string]interface{}{"status": status}
	if errText != "" {
		updates["error"] = errText
	}
	if err := p.db.Model(&domain.WaQueueItem{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		zap.L().Error("queue status update failed", zap.Int64("item_id", id), zap.Error(err))
	}
}

// RecoverStale flips rows stranded in processing back to pending.
// Called once at process start before any loop runs, so an unclean
// shutdown mid-send leaves the item eligible again.
func (p *Processor) RecoverStale() error {
	res := p.db.Model(&domain.WaQueueItem{}).
		Where("status = ?", domain.QueueProcessing).
		Update("status", domain.QueuePending)
	if res.Error != nil {
		return errors.Wrap(res.Error, "recover stale queue items")
	}
	if res.RowsAffected > 0 {
		zap.L().Info("recovered stale queue items", zap.Int64("count", res.RowsAffected))
	}
	return nil
}
