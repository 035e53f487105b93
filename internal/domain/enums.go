// Package domain defines the core domain models for the workspace service.
package domain

// ToolName identifies one of the tools exposed to the agent.
type ToolName string

const (
	ToolFileQA     ToolName = "file_qa"
	ToolFileSearch ToolName = "file_search"
	ToolRunScript  ToolName = "run_script"
)

// ToolCallStatus represents the status of a tool call.
type ToolCallStatus string

const (
	ToolCallStatusRunning   ToolCallStatus = "RUNNING"
	ToolCallStatusSucceeded ToolCallStatus = "SUCCEEDED"
	ToolCallStatusFailed    ToolCallStatus = "FAILED"
	ToolCallStatusBlocked   ToolCallStatus = "BLOCKED"
)

// EventType represents the type of an event pushed to session subscribers.
type EventType string

const (
	EventTypeSessionCreated EventType = "session_created"
	EventTypeSessionClosed  EventType = "session_closed"
	EventTypeToolCallStart  EventType = "tool_call_started"
	EventTypeToolCallDone   EventType = "tool_call_done"
)

// QAStrategy names the strategy used to answer a question about a text.
type QAStrategy string

const (
	QAStrategyDirect      QAStrategy = "direct"
	QAStrategyChunkRefine QAStrategy = "chunk_refine"
)
