package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// FileQAArgs are the arguments of the file_qa tool.
type FileQAArgs struct {
	SessionID *string `json:"session_id"`
	Question  *string `json:"question"`
	FilePath  *string `json:"file_path"`
}

// FileSearchArgs are the arguments of the file_search tool. An empty path
// lists the repository root.
type FileSearchArgs struct {
	SessionID *string `json:"session_id"`
	Path      *string `json:"path"`
	Pattern   *string `json:"pattern,omitempty"`
}

// RunScriptArgs are the arguments of the run_script tool.
type RunScriptArgs struct {
	Script *string  `json:"script"`
	Deps   []string `json:"deps"`
}

// decodeArgs unmarshals a JSON object into v, reporting the offending field
// on a type mismatch.
func decodeArgs(raw json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: args must be a JSON object", domain.ErrValidation)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return fmt.Errorf("%w: %s must be of type %s", domain.ErrValidation, typeErr.Field, typeErr.Type.String())
		}
		return fmt.Errorf("%w: malformed args", domain.ErrValidation)
	}
	return nil
}

// required returns the value of a mandatory, non-empty string field.
func required(field string, v *string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}
	if *v == "" {
		return "", fmt.Errorf("%w: %s must not be empty", domain.ErrValidation, field)
	}
	return *v, nil
}

// present returns the value of a mandatory string field that may be empty.
func present(field string, v *string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}
	return *v, nil
}

func optional(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
