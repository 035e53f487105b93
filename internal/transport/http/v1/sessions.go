package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// CreateSession clones the repository named by the url query parameter or
// the JSON body.
func (h *Handler) CreateSession(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" && strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var req domain.CreateSessionRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		url = req.URL
	}
	if url == "" {
		return badRequest(c, "url is required")
	}

	resp, err := h.service.CreateSession(c.Request().Context(), url)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CloseSession destroys a session's workspace.
func (h *Handler) CloseSession(c echo.Context) error {
	resp, err := h.service.CloseSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSession returns a live or closed session.
func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// ListSessions returns the live sessions.
func (h *Handler) ListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": h.service.ListSessions(),
	})
}

// ListToolCalls returns the audit trail of a session.
func (h *Handler) ListToolCalls(c echo.Context) error {
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = v
	}

	resp, err := h.service.ListToolCalls(c.Request().Context(), c.Param("session_id"), limit)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
