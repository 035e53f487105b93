package domain

import "encoding/json"

// CreateSessionRequest represents the request to create a session.
type CreateSessionRequest struct {
	URL string `json:"url"`
}

// CreateSessionResponse represents the response after creating a session.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// CloseSessionResponse represents the response after closing a session.
type CloseSessionResponse struct {
	SessionID string `json:"session_id"`
	Closed    bool   `json:"closed"`
}

// RunScriptRequest represents the request body of the script endpoint.
type RunScriptRequest struct {
	Script string   `json:"script"`
	Deps   []string `json:"deps"`
}

// ToolInvokeRequest represents the request to invoke a tool by name.
type ToolInvokeRequest struct {
	Args json.RawMessage `json:"args"`
}

// ToolInvokeResponse represents the response from invoking a tool.
type ToolInvokeResponse struct {
	Status     string          `json:"status"` // succeeded, failed, blocked
	ToolCallID string          `json:"tool_call_id"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *ToolError      `json:"error,omitempty"`
}

// ListToolCallsResponse represents the audit listing for a session.
type ListToolCallsResponse struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
