package webapi

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/queue"
	"github.com/talkincode/wagate/internal/session"
)

func newTestHandler(t *testing.T) (*Handler, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "webapi.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Tables...))

	cfg := config.DefaultAppConfig()
	cfg.Gateway.SessionsDir = t.TempDir()
	sessions := session.NewManager(db, cfg, nil)
	processor := queue.NewProcessor(db, sessions)
	return NewHandler(db, cfg, sessions, processor, nil, nil), db
}

func postJSON(t *testing.T, handler echo.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	return rec
}

func TestCreateDevice(t *testing.T) {
	assert := assert.New(t)
	h, db := newTestHandler(t)

	rec := postJSON(t, h.createDevice, `{"device_id":"office-01"}`)
	assert.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			DeviceID string `json:"device_id"`
			ApiKey   string `json:"api_key"`
		} `json:"data"`
	}
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal("office-01", resp.Data.DeviceID)
	assert.NotEmpty(resp.Data.ApiKey)

	var device domain.WaDevice
	require.NoError(t, db.Where("device_id = ?", "office-01").First(&device).Error)
	assert.Equal(domain.DeviceDisconnected, device.Status)

	t.Run("duplicate id conflicts", func(t *testing.T) {
		rec := postJSON(t, h.createDevice, `{"device_id":"office-01"}`)
		assert.Equal(http.StatusConflict, rec.Code)
	})

	t.Run("invalid id rejected", func(t *testing.T) {
		rec := postJSON(t, h.createDevice, `{"device_id":"no spaces!"}`)
		assert.Equal(http.StatusBadRequest, rec.Code)

		rec = postJSON(t, h.createDevice, `{"device_id":""}`)
		assert.Equal(http.StatusBadRequest, rec.Code)
	})
}

func TestSendMessageValidation(t *testing.T) {
	assert := assert.New(t)
	h, db := newTestHandler(t)

	device := domain.WaDevice{ID: 1, DeviceID: "dev1", ApiKey: "key1", Status: domain.DeviceDisconnected}
	require.NoError(t, db.Create(&device).Error)

	send := func(body string) *httptest.ResponseRecorder {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.Set(deviceContextKey, &device)
		require.NoError(t, h.sendMessage(c))
		return rec
	}

	t.Run("missing message", func(t *testing.T) {
		rec := send(`{"number":"628111"}`)
		assert.Equal(http.StatusBadRequest, rec.Code)
	})

	t.Run("missing targets", func(t *testing.T) {
		rec := send(`{"message":"hi"}`)
		assert.Equal(http.StatusBadRequest, rec.Code)
	})

	t.Run("too many targets", func(t *testing.T) {
		targets := make([]string, 0, h.cfg.Gateway.MaxTargets+1)
		for i := 0; i <= h.cfg.Gateway.MaxTargets; i++ {
			targets = append(targets, "628111")
		}
		body, err := jsoniter.MarshalToString(map[string]interface{}{
			"targets": targets,
			"message": "hi",
		})
		require.NoError(t, err)
		rec := send(body)
		assert.Equal(http.StatusBadRequest, rec.Code)
	})

	t.Run("single target enqueued with default delay", func(t *testing.T) {
		rec := send(`{"number":"08123456","message":"hi"}`)
		assert.Equal(http.StatusOK, rec.Code)
		h.queue.Wait()

		var item domain.WaQueueItem
		require.NoError(t, db.Order("id desc").First(&item).Error)
		assert.Equal("628123456", item.Target)
		assert.EqualValues(h.cfg.Gateway.DefaultDelayMs, item.DelayMs)
		// No live session, so the processor fails the item fast.
		assert.Equal(domain.QueueFailed, item.Status)
	})

	t.Run("bulk delay clamped to minimum", func(t *testing.T) {
		rec := send(`{"targets":["628111","628222"],"message":"hi","delay_ms":100}`)
		assert.Equal(http.StatusOK, rec.Code)
		h.queue.Wait()

		var item domain.WaQueueItem
		require.NoError(t, db.Order("id desc").First(&item).Error)
		assert.EqualValues(h.cfg.Gateway.MinDelayMs, item.DelayMs)
	})

	t.Run("single target delay clamped to minimum", func(t *testing.T) {
		rec := send(`{"number":"628111","message":"hi","delay_ms":100}`)
		assert.Equal(http.StatusOK, rec.Code)
		h.queue.Wait()

		var item domain.WaQueueItem
		require.NoError(t, db.Order("id desc").First(&item).Error)
		assert.EqualValues(h.cfg.Gateway.MinDelayMs, item.DelayMs)
	})
}

func TestApiKeyAuth(t *testing.T) {
	assert := assert.New(t)
	h, db := newTestHandler(t)
	require.NoError(t, db.Create(&domain.WaDevice{
		ID: 1, DeviceID: "dev1", ApiKey: "secret", Status: domain.DeviceDisconnected,
	}).Error)

	next := func(c echo.Context) error {
		assert.Equal("dev1", currentDevice(c).DeviceID)
		return ok(c, nil)
	}

	call := func(key string) *httptest.ResponseRecorder {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if key != "" {
			req.Header.Set("X-API-KEY", key)
		}
		rec := httptest.NewRecorder()
		require.NoError(t, h.apiKeyAuth(next)(e.NewContext(req, rec)))
		return rec
	}

	assert.Equal(http.StatusUnauthorized, call("").Code)
	assert.Equal(http.StatusUnauthorized, call("wrong").Code)
	assert.Equal(http.StatusOK, call("secret").Code)
}

func TestNormalizeNumber(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("628123456", normalizeNumber("08123456"))
	assert.Equal("628123456", normalizeNumber("628123456"))
	assert.Equal("628123456@s.whatsapp.net", normalizeNumber("628123456@s.whatsapp.net"))
	assert.Equal("1555123", normalizeNumber("1555123"))
}

func TestQRDataURL(t *testing.T) {
	assert := assert.New(t)
	out := qrDataURL("pair-me")
	require.True(t, strings.HasPrefix(out, "data:image/png;base64,"))

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(out, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal("\x89PNG", string(png[:4]))
}
