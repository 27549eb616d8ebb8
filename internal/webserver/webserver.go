// Package webserver owns the echo engine. Handlers live in webapi and
// register their routes through the Api helpers here.
package webserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/pkg/common"
)

var server *WebServer

type WebServer struct {
	root *echo.Echo
	cfg  *config.AppConfig
	api  *echo.Group
}

func Init(cfg *config.AppConfig) *WebServer {
	server = &WebServer{cfg: cfg}
	server.initRouter()
	return server
}

func (s *WebServer) initRouter() {
	s.root = echo.New()
	s.root.HideBanner = true
	s.root.HidePort = true
	s.root.Use(middleware.Recover())
	s.root.Use(middleware.CORS())
	s.root.Use(loggerMiddleware())

	s.root.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"name":   s.cfg.System.Appid,
			"status": "ok",
		})
	})

	s.api = s.root.Group("/api")
}

func loggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	})
}

// Listen starts the server, with TLS when the configured cert and key
// files exist.
func Listen() error {
	addr := fmt.Sprintf("%s:%d", server.cfg.Web.Host, server.cfg.Web.Port)
	if common.FileExists(server.cfg.Web.TlsCert) && common.FileExists(server.cfg.Web.TlsKey) {
		zap.S().Infof("starting https server on %s", addr)
		return server.root.StartTLS(addr, server.cfg.Web.TlsCert, server.cfg.Web.TlsKey)
	}
	zap.S().Infof("starting http server on %s", addr)
	return server.root.Start(addr)
}

func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.GET(path, h, m...)
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.POST(path, h, m...)
}

func ApiPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.PUT(path, h, m...)
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.DELETE(path, h, m...)
}
