package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// queryArgs copies the named query parameters that are present into a JSON
// object, so absent parameters reach tool validation as missing.
func queryArgs(c echo.Context, names ...string) (json.RawMessage, error) {
	params := c.QueryParams()
	args := make(map[string]string, len(names))
	for _, name := range names {
		if params.Has(name) {
			args[name] = params.Get(name)
		}
	}
	return json.Marshal(args)
}

// FileQA answers a question about a file of the session's repository.
func (h *Handler) FileQA(c echo.Context) error {
	return h.runQueryTool(c, domain.ToolFileQA, "session_id", "question", "file_path")
}

// FileSearch lists a directory of the session's repository.
func (h *Handler) FileSearch(c echo.Context) error {
	return h.runQueryTool(c, domain.ToolFileSearch, "session_id", "path", "pattern")
}

func (h *Handler) runQueryTool(c echo.Context, name domain.ToolName, params ...string) error {
	args, err := queryArgs(c, params...)
	if err != nil {
		return h.respondError(c, err)
	}
	exec, err := h.service.Execute(c.Request().Context(), name, args)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, exec.Result)
}
