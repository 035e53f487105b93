package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/paulgibert/chaingpt/internal/domain"
	"github.com/paulgibert/chaingpt/internal/service"
)

// ListTools returns the names of the available tools.
func (h *Handler) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tools": h.service.ToolNames(),
	})
}

// InvokeTool handles tool invocation. Recorded tool calls always answer 200
// with their outcome in the envelope.
func (h *Handler) InvokeTool(c echo.Context) error {
	toolName := domain.ToolName(c.Param("tool_name"))
	var req domain.ToolInvokeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	exec, err := h.service.Execute(c.Request().Context(), toolName, req.Args)
	if err != nil {
		toolCallID := service.ToolCallID(err)
		if toolCallID == "" {
			return h.respondError(c, err)
		}
		status := "failed"
		if errors.Is(err, domain.ErrBlocked) {
			status = "blocked"
		}
		return c.JSON(http.StatusOK, domain.ToolInvokeResponse{
			Status:     status,
			ToolCallID: toolCallID,
			Error:      &domain.ToolError{Code: domain.Code(err), Message: domain.PublicMessage(err)},
		})
	}

	result, err := json.Marshal(exec.Result)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, domain.ToolInvokeResponse{
		Status:     "succeeded",
		ToolCallID: exec.ToolCallID,
		Result:     result,
	})
}

// GetToolCall returns one audit record.
func (h *Handler) GetToolCall(c echo.Context) error {
	tc, err := h.service.GetToolCall(c.Request().Context(), c.Param("tool_call_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, tc)
}
