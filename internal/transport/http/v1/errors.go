package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case domain.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the caller-safe form of err. The full error, which
// may carry internal detail, is only logged.
func (h *Handler) respondError(c echo.Context, err error) error {
	status := statusFor(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	return c.JSON(status, domain.ErrorResponse{
		Error: domain.PublicMessage(err),
		Code:  domain.Code(err),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: msg, Code: domain.CodeValidation})
}
