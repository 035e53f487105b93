package v1

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/paulgibert/chaingpt/internal/domain"
)

const maxScriptBody = 1 << 20

// RunScript executes a script in the sandbox. The body is either JSON
// {script, deps} or a form whose deps field is space separated.
func (h *Handler) RunScript(c echo.Context) error {
	req := c.Request()

	var args json.RawMessage
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxScriptBody+1))
		if err != nil {
			return badRequest(c, "invalid request body")
		}
		if len(body) > maxScriptBody {
			return badRequest(c, "request body too large")
		}
		if !json.Valid(body) {
			return badRequest(c, "invalid request body")
		}
		args = body
	} else {
		form := map[string]interface{}{}
		if formHas(c, "script") {
			form["script"] = c.FormValue("script")
		}
		form["deps"] = strings.Fields(c.FormValue("deps"))
		data, err := json.Marshal(form)
		if err != nil {
			return h.respondError(c, err)
		}
		args = data
	}

	exec, err := h.service.Execute(req.Context(), domain.ToolRunScript, args)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, exec.Result)
}

func formHas(c echo.Context, name string) bool {
	params, err := c.FormParams()
	if err != nil {
		return false
	}
	return params.Has(name)
}
