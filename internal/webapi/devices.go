package webapi

import (
	"encoding/base64"
	"net/http"

	"github.com/labstack/echo/v4"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/common"
)

type deviceView struct {
	DeviceID    string `json:"device_id"`
	ApiKey      string `json:"api_key"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Status      string `json:"status"`
	LiveStatus  string `json:"live_status"`
	HasQR       bool   `json:"has_qr"`
	AutoReply   bool   `json:"auto_reply"`
}

// listDevices returns all registered devices with their live session
// state overlaid on the stored status.
func (h *Handler) listDevices(c echo.Context) error {
	var devices []domain.WaDevice
	if err := h.db.Order("id asc").Find(&devices).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "LIST_FAILED", "Failed to list devices", err.Error())
	}
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		view := deviceView{
			DeviceID:    d.DeviceID,
			ApiKey:      d.ApiKey,
			PhoneNumber: d.PhoneNumber,
			Status:      d.Status,
			LiveStatus:  "disconnected",
			AutoReply:   d.AutoReply,
		}
		if sess := h.sessions.GetSession(d.DeviceID); sess != nil {
			view.LiveStatus = sess.Status()
			view.HasQR = sess.QR() != ""
		}
		views = append(views, view)
	}
	return ok(c, map[string]interface{}{"devices": views})
}

func (h *Handler) createDevice(c echo.Context) error {
	var payload struct {
		DeviceID string `json:"device_id"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if !common.ValidDeviceID(payload.DeviceID) {
		return fail(c, http.StatusBadRequest, "INVALID_DEVICE_ID",
			"device_id must contain only letters, digits, underscore and dash", nil)
	}

	var count int64
	h.db.Model(&domain.WaDevice{}).Where("device_id = ?", payload.DeviceID).Count(&count)
	if count > 0 {
		return fail(c, http.StatusConflict, "DEVICE_EXISTS", "Device already registered", nil)
	}

	device := domain.WaDevice{
		ID:       common.UUIDint64(),
		DeviceID: payload.DeviceID,
		ApiKey:   common.UUID(),
		Status:   domain.DeviceDisconnected,
	}
	if err := h.db.Create(&device).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create device", err.Error())
	}

	zap.L().Info("device created", zap.String("device_id", device.DeviceID))
	return ok(c, map[string]interface{}{
		"device_id": device.DeviceID,
		"api_key":   device.ApiKey,
	})
}

// deleteDevice logs the session out first so credentials are wiped
// along with the record.
func (h *Handler) deleteDevice(c echo.Context) error {
	deviceID := c.Param("id")
	var device domain.WaDevice
	if err := h.db.Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	}

	h.sessions.LogoutSession(c.Request().Context(), deviceID)

	if err := h.db.Delete(&domain.WaDevice{}, device.ID).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete device", err.Error())
	}
	if _, err := h.autoreply.FlushHistory(deviceID); err != nil {
		zap.L().Warn("flush history on delete failed", zap.String("device_id", deviceID), zap.Error(err))
	}

	zap.L().Info("device deleted", zap.String("device_id", deviceID))
	return ok(c, map[string]interface{}{"deleted": true})
}

func (h *Handler) connectDevice(c echo.Context) error {
	deviceID := c.Param("id")
	if err := h.requireDevice(deviceID); err != nil {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	}
	if _, err := h.sessions.StartSession(deviceID); err != nil {
		return fail(c, http.StatusInternalServerError, "CONNECT_FAILED", "Failed to start session", err.Error())
	}
	return ok(c, map[string]interface{}{"started": true})
}

// disconnectDevice closes the session but keeps the credentials, so a
// later connect resumes without pairing.
func (h *Handler) disconnectDevice(c echo.Context) error {
	deviceID := c.Param("id")
	if err := h.requireDevice(deviceID); err != nil {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	}
	h.sessions.StopSession(deviceID)
	return ok(c, map[string]interface{}{"disconnected": true})
}

// logoutDevice ends the pairing permanently and wipes credentials.
func (h *Handler) logoutDevice(c echo.Context) error {
	deviceID := c.Param("id")
	if err := h.requireDevice(deviceID); err != nil {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	}
	h.sessions.LogoutSession(c.Request().Context(), deviceID)
	return ok(c, map[string]interface{}{"logged_out": true})
}

// deviceStatus reports live session state. The qr field carries the
// pairing code rendered as a png data url.
func (h *Handler) deviceStatus(c echo.Context) error {
	deviceID := c.Param("id")
	if err := h.requireDevice(deviceID); err != nil {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	}

	sess := h.sessions.GetSession(deviceID)
	if sess == nil {
		return ok(c, map[string]interface{}{
			"device_id": deviceID,
			"status":    "disconnected",
			"qr":        nil,
			"user":      nil,
		})
	}

	resp := map[string]interface{}{
		"device_id": deviceID,
		"status":    sess.Status(),
		"qr":        nil,
		"user":      nil,
	}
	if qr := sess.QR(); qr != "" {
		resp["qr"] = qrDataURL(qr)
	}
	if user := sess.User(); user != nil {
		resp["user"] = map[string]interface{}{
			"jid":          user.JID,
			"name":         user.Name,
			"phone_number": user.PhoneNumber(),
		}
	}
	return ok(c, resp)
}

// qrDataURL renders a pairing code as an inline png image. Falls back
// to the raw string when encoding fails.
func qrDataURL(raw string) string {
	png, err := qrcode.Encode(raw, qrcode.Medium, 256)
	if err != nil {
		zap.L().Warn("qr encode failed", zap.Error(err))
		return raw
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func (h *Handler) updateAutoReply(c echo.Context) error {
	deviceID := c.Param("id")
	var device domain.WaDevice
	if err := h.db.Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	}

	var payload struct {
		Enabled      *bool   `json:"enabled"`
		Prompt       *string `json:"prompt"`
		Provider     *string `json:"provider"`
		Model        *string `json:"model"`
		GeminiApiKey *string `json:"gemini_api_key"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	updates := map[string]interface{}{}
	if payload.Enabled != nil {
		updates["auto_reply"] = *payload.Enabled
	}
	if payload.Prompt != nil {
		updates["auto_reply_prompt"] = *payload.Prompt
	}
	if payload.Provider != nil {
		updates["ai_provider"] = *payload.Provider
	}
	if payload.Model != nil {
		updates["ai_model"] = *payload.Model
	}
	if payload.GeminiApiKey != nil {
		updates["gemini_api_key"] = *payload.GeminiApiKey
	}
	if len(updates) == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "No settings to update", nil)
	}

	err := h.db.Model(&domain.WaDevice{}).Where("id = ?", device.ID).Updates(updates).Error
	if err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update settings", err.Error())
	}
	return ok(c, map[string]interface{}{"updated": true})
}

func (h *Handler) flushMemory(c echo.Context) error {
	deviceID := c.Param("id")
	if err := h.requireDevice(deviceID); err != nil {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	}
	flushed, err := h.autoreply.FlushHistory(deviceID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "FLUSH_FAILED", "Failed to flush memory", err.Error())
	}
	return ok(c, map[string]interface{}{"flushed": flushed})
}

func (h *Handler) requireDevice(deviceID string) error {
	var device domain.WaDevice
	if err := h.db.Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return gorm.ErrRecordNotFound
	}
	return nil
}
