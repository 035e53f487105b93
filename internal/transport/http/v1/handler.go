// Package v1 provides the HTTP handlers of the tool service.
package v1

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/hub"
	"github.com/paulgibert/chaingpt/internal/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// StreamConfig holds the WebSocket event stream settings.
type StreamConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	ReplayLimit    int
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.ReplayLimit <= 0 {
		c.ReplayLimit = 200
	}
	return c
}

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	hub      *hub.Hub
	stream   StreamConfig
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
}

// NewHandler creates a new handler. h may be nil, which disables the event
// stream.
func NewHandler(svc *service.Service, h *hub.Hub, stream StreamConfig, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		service: svc,
		hub:     h,
		stream:  stream.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.WithField("component", "http"),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Agent-facing tool routes
	e.POST("/tools/sessions/create", h.CreateSession)
	e.DELETE("/tools/sessions/:session_id", h.CloseSession)
	e.GET("/tools/files/qa", h.FileQA)
	e.GET("/tools/files/search", h.FileSearch)
	e.POST("/tools/script", h.RunScript)

	// Session API
	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions", h.ListSessions)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.DELETE("/v1/sessions/:session_id", h.CloseSession)
	e.GET("/v1/sessions/:session_id/tool_calls", h.ListToolCalls)
	e.GET("/v1/sessions/:session_id/events", h.StreamEvents)

	// Tool API
	e.GET("/v1/tools", h.ListTools)
	e.POST("/v1/tools/:tool_name/invoke", h.InvokeTool)
	e.GET("/v1/tool_calls/:tool_call_id", h.GetToolCall)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}
