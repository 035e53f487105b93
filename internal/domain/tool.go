package domain

import (
	"encoding/json"
	"time"
)

// ToolCall is the audit record of a single tool invocation.
type ToolCall struct {
	ToolCallID   string          `json:"tool_call_id"`
	SessionID    string          `json:"session_id,omitempty"`
	ToolName     ToolName        `json:"tool_name"`
	Status       ToolCallStatus  `json:"status"`
	Args         json.RawMessage `json:"args"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
	InputTokens  int             `json:"input_tokens,omitempty"`
	OutputTokens int             `json:"output_tokens,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// ToolError is the client-facing error shape of a failed tool call.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is pushed to subscribers of a session.
type Event struct {
	Type       EventType       `json:"type"`
	Ts         int64           `json:"ts"` // Unix milliseconds
	SessionID  string          `json:"session_id,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   ToolName        `json:"tool_name,omitempty"`
	Status     ToolCallStatus  `json:"status,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
