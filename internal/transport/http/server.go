// Package http provides the HTTP server of the tool service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/hub"
	"github.com/paulgibert/chaingpt/internal/service"
	v1 "github.com/paulgibert/chaingpt/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server.
func NewServer(svc *service.Service, h *hub.Hub, stream v1.StreamConfig, logger logrus.FieldLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M"))

	// Handlers
	v1Handler := v1.NewHandler(svc, h, stream, logger)

	// Register Routes
	v1Handler.RegisterRoutes(e)

	return e
}
