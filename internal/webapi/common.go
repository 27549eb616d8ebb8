// Package webapi exposes the gateway over HTTP. Device management
// routes are open, messaging and history routes require the device's
// api key.
package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/autoreply"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/genai"
	"github.com/talkincode/wagate/internal/queue"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
)

const deviceContextKey = "wa_device"

type Handler struct {
	db        *gorm.DB
	cfg       *config.AppConfig
	sessions  *session.Manager
	queue     *queue.Processor
	autoreply *autoreply.Orchestrator
	genai     *genai.Client
}

func NewHandler(db *gorm.DB, cfg *config.AppConfig, sessions *session.Manager,
	processor *queue.Processor, orchestrator *autoreply.Orchestrator, client *genai.Client) *Handler {
	return &Handler{
		db:        db,
		cfg:       cfg,
		sessions:  sessions,
		queue:     processor,
		autoreply: orchestrator,
		genai:     client,
	}
}

// InitRouter registers all routes on the running web server.
func (h *Handler) InitRouter() {
	webserver.ApiGET("/devices", h.listDevices)
	webserver.ApiPOST("/devices", h.createDevice)
	webserver.ApiDELETE("/devices/:id", h.deleteDevice)
	webserver.ApiPOST("/devices/:id/connect", h.connectDevice)
	webserver.ApiPOST("/devices/:id/disconnect", h.disconnectDevice)
	webserver.ApiPOST("/devices/:id/logout", h.logoutDevice)
	webserver.ApiGET("/devices/:id/status", h.deviceStatus)
	webserver.ApiPUT("/devices/:id/auto-reply", h.updateAutoReply)
	webserver.ApiPOST("/devices/:id/flush-memory", h.flushMemory)

	webserver.ApiPOST("/send-message", h.sendMessage, h.apiKeyAuth)
	webserver.ApiGET("/queue-status", h.queueStatus, h.apiKeyAuth)
	webserver.ApiGET("/outbox", h.listOutbox, h.apiKeyAuth)
	webserver.ApiGET("/chats", h.listChats, h.apiKeyAuth)
	webserver.ApiGET("/chats/:chatId/messages", h.listMessages, h.apiKeyAuth)
	webserver.ApiGET("/contacts/:id", h.getContact, h.apiKeyAuth)
	webserver.ApiPOST("/generate-message", h.generateMessage, h.apiKeyAuth)
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code": 0,
		"data": data,
	})
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"code":    code,
		"message": message,
		"detail":  detail,
	})
}

// apiKeyAuth resolves the calling device from the X-API-KEY header and
// stashes it in the request context.
func (h *Handler) apiKeyAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("X-API-KEY")
		if key == "" {
			key = c.QueryParam("api_key")
		}
		if key == "" {
			return fail(c, http.StatusUnauthorized, "MISSING_API_KEY", "X-API-KEY header required", nil)
		}
		var device domain.WaDevice
		if err := h.db.Where("api_key = ?", key).First(&device).Error; err != nil {
			return fail(c, http.StatusUnauthorized, "INVALID_API_KEY", "Unknown api key", nil)
		}
		c.Set(deviceContextKey, &device)
		return next(c)
	}
}

func currentDevice(c echo.Context) *domain.WaDevice {
	device, _ := c.Get(deviceContextKey).(*domain.WaDevice)
	return device
}
