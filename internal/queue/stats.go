package queue

import (
	"github.com/pkg/errors"

	"github.com/talkincode/wagate/internal/domain"
)

// Stats holds per-status queue counts for one device. All four
// buckets are always present.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}

func (p *Processor) Stats(deviceID string) (Stats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := p.db.Model(&domain.WaQueueItem{}).
		Select("status, count(*) as count").
		Where("device_id = ?", deviceID).
		Group("status").Scan(&rows).Error
	if err != nil {
		return Stats{}, errors.Wrap(err, "query queue stats")
	}
	var stats Stats
	for _, row := range rows {
		switch row.Status {
		case domain.QueuePending:
			stats.Pending = row.Count
		case domain.QueueProcessing:
			stats.Processing = row.Count
		case domain.QueueSent:
			stats.Sent = row.Count
		case domain.QueueFailed:
			stats.Failed = row.Count
		}
	}
	return stats, nil
}

// Items returns recent queue rows for a device, active work first:
// processing, then pending, then finished, newest first within each
// group.
func (p *Processor) Items(deviceID string, limit int) ([]domain.WaQueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.WaQueueItem
	err := p.db.Where("device_id = ?", deviceID).
		Order("case status when 'processing' then 1 when 'pending' then 2 else 3 end, id desc").
		Limit(limit).Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "query queue items")
	}
	return items, nil
}
