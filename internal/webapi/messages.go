package webapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/talkincode/wagate/internal/domain"
)

// sendMessage enqueues one message for one or many targets on the
// calling device's queue. Numbers written with the local 08 prefix
// are rewritten to the 628 country form.
func (h *Handler) sendMessage(c echo.Context) error {
	device := currentDevice(c)

	var payload struct {
		Number  string   `json:"number"`
		Targets []string `json:"targets"`
		Message string   `json:"message"`
		DelayMs int      `json:"delay_ms"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Message == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "message is required", nil)
	}

	targets := payload.Targets
	if len(targets) == 0 && payload.Number != "" {
		targets = []string{payload.Number}
	}
	if len(targets) == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "number or targets is required", nil)
	}
	if len(targets) > h.cfg.Gateway.MaxTargets {
		return fail(c, http.StatusBadRequest, "TOO_MANY_TARGETS",
			"Target list exceeds the per-request limit", map[string]interface{}{"max": h.cfg.Gateway.MaxTargets})
	}

	normalized := make([]string, 0, len(targets))
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		normalized = append(normalized, normalizeNumber(target))
	}
	if len(normalized) == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "number or targets is required", nil)
	}

	delayMs := payload.DelayMs
	if delayMs == 0 {
		delayMs = h.cfg.Gateway.DefaultDelayMs
	}
	if delayMs < h.cfg.Gateway.MinDelayMs {
		delayMs = h.cfg.Gateway.MinDelayMs
	}

	err := h.queue.Enqueue(c.Request().Context(), device.DeviceID, normalized,
		payload.Message, time.Duration(delayMs)*time.Millisecond)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "ENQUEUE_FAILED", "Failed to enqueue message", err.Error())
	}

	return ok(c, map[string]interface{}{
		"queued":   len(normalized),
		"delay_ms": delayMs,
	})
}

// normalizeNumber rewrites local 08xx numbers to the 628xx form.
// Targets already carrying a server suffix pass through untouched.
func normalizeNumber(target string) string {
	if strings.Contains(target, "@") {
		return target
	}
	if strings.HasPrefix(target, "08") {
		return "628" + target[2:]
	}
	return target
}

func (h *Handler) queueStatus(c echo.Context) error {
	device := currentDevice(c)

	stats, err := h.queue.Stats(device.DeviceID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query queue", err.Error())
	}
	items, err := h.queue.Items(device.DeviceID, cast.ToInt(c.QueryParam("limit")))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query queue", err.Error())
	}
	return ok(c, map[string]interface{}{
		"stats": stats,
		"items": items,
	})
}

// listOutbox returns the most recent delivery ledger rows.
func (h *Handler) listOutbox(c echo.Context) error {
	device := currentDevice(c)

	limit := cast.ToInt(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var rows []domain.WaOutbox
	err := h.db.Where("device_id = ?", device.DeviceID).
		Order("created_at desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query outbox", err.Error())
	}
	return ok(c, map[string]interface{}{"outbox": rows})
}
