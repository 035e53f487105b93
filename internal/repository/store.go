// Package repository persists sessions, tool-call audit records and events.
package repository

import (
	"context"
	"time"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	MarkSessionClosed(ctx context.Context, sessionID string, closedAt time.Time, reason string) error

	// ToolCall operations
	CreateToolCall(ctx context.Context, toolCall *domain.ToolCall) error
	GetToolCall(ctx context.Context, toolCallID string) (*domain.ToolCall, error)
	UpdateToolCallResult(ctx context.Context, toolCallID string, status domain.ToolCallStatus, result []byte, errData []byte, inputTokens, outputTokens int) (bool, error)
	ListToolCalls(ctx context.Context, sessionID string, limit int) ([]domain.ToolCall, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	ListEvents(ctx context.Context, sessionID string, afterTs int64, limit int) ([]domain.Event, error)

	// Lifecycle
	Close() error
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
