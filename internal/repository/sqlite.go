package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			repo_url TEXT NOT NULL,
			repo_name TEXT NOT NULL,
			default_branch TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			closed_at DATETIME,
			close_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			tool_call_id TEXT PRIMARY KEY,
			session_id TEXT,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			args TEXT,
			result TEXT,
			error TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			tool_call_id TEXT,
			tool_name TEXT,
			status TEXT,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession records a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, repo_url, repo_name, default_branch, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.SessionID, session.RepoURL, session.RepoName, nullString(session.DefaultBranch), session.CreatedAt)
	return err
}

// GetSession retrieves a session by ID. It returns nil when none exists.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var defaultBranch sql.NullString
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, repo_url, repo_name, default_branch, created_at, closed_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.RepoURL, &session.RepoName, &defaultBranch, &session.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	session.DefaultBranch = defaultBranch.String
	if closedAt.Valid {
		session.ClosedAt = &closedAt.Time
	}
	return &session, nil
}

// MarkSessionClosed stamps the close time of a session once.
func (s *SQLiteStore) MarkSessionClosed(ctx context.Context, sessionID string, closedAt time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET closed_at = ?, close_reason = ? WHERE session_id = ? AND closed_at IS NULL`,
		closedAt, nullString(reason), sessionID)
	return err
}

// CreateToolCall creates a new tool call record.
func (s *SQLiteStore) CreateToolCall(ctx context.Context, toolCall *domain.ToolCall) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (tool_call_id, session_id, tool_name, status, args, result, error, input_tokens, output_tokens, created_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toolCall.ToolCallID, nullString(toolCall.SessionID), toolCall.ToolName, toolCall.Status,
		nullStringBytes(toolCall.Args), nullStringBytes(toolCall.Result), nullStringBytes(toolCall.Error),
		toolCall.InputTokens, toolCall.OutputTokens, toolCall.CreatedAt, toolCall.CompletedAt)
	return err
}

const toolCallColumns = `tool_call_id, session_id, tool_name, status, args, result, error, input_tokens, output_tokens, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToolCall(row rowScanner) (*domain.ToolCall, error) {
	var tc domain.ToolCall
	var sessionID, args, result, errData sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(&tc.ToolCallID, &sessionID, &tc.ToolName, &tc.Status, &args, &result, &errData,
		&tc.InputTokens, &tc.OutputTokens, &tc.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	tc.SessionID = sessionID.String
	if args.Valid {
		tc.Args = json.RawMessage(args.String)
	}
	if result.Valid {
		tc.Result = json.RawMessage(result.String)
	}
	if errData.Valid {
		tc.Error = json.RawMessage(errData.String)
	}
	if completedAt.Valid {
		tc.CompletedAt = &completedAt.Time
	}
	return &tc, nil
}

// GetToolCall retrieves a tool call by ID. It returns nil when none exists.
func (s *SQLiteStore) GetToolCall(ctx context.Context, toolCallID string) (*domain.ToolCall, error) {
	tc, err := scanToolCall(s.db.QueryRowContext(ctx,
		`SELECT `+toolCallColumns+` FROM tool_calls WHERE tool_call_id = ?`, toolCallID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tc, err
}

// UpdateToolCallResult completes a tool call. It reports false when the call
// was already completed.
func (s *SQLiteStore) UpdateToolCallResult(ctx context.Context, toolCallID string, status domain.ToolCallStatus, result []byte, errData []byte, inputTokens, outputTokens int) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_calls SET status = ?, result = ?, error = ?, input_tokens = ?, output_tokens = ?, completed_at = ? WHERE tool_call_id = ? AND completed_at IS NULL`,
		status, nullStringBytes(result), nullStringBytes(errData), inputTokens, outputTokens, now, toolCallID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListToolCalls returns the tool calls of a session, oldest first.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, sessionID string, limit int) ([]domain.ToolCall, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+toolCallColumns+` FROM tool_calls WHERE session_id = ? ORDER BY created_at ASC, tool_call_id ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calls := []domain.ToolCall{}
	for rows.Next() {
		tc, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *tc)
	}
	return calls, rows.Err()
}

// CreateEvent stores an event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, session_id, ts, type, tool_call_id, tool_name, status, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), event.SessionID, event.Ts, event.Type, nullString(event.ToolCallID),
		nullString(string(event.ToolName)), nullString(string(event.Status)), nullStringBytes(event.Payload))
	return err
}

// ListEvents returns the events of a session newer than afterTs.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, afterTs int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, ts, type, tool_call_id, tool_name, status, payload FROM events WHERE session_id = ? AND ts > ? ORDER BY ts ASC, event_id ASC LIMIT ?`,
		sessionID, afterTs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var toolCallID, toolName, status, payload sql.NullString
		if err := rows.Scan(&e.SessionID, &e.Ts, &e.Type, &toolCallID, &toolName, &status, &payload); err != nil {
			return nil, err
		}
		e.ToolCallID = toolCallID.String
		e.ToolName = domain.ToolName(toolName.String)
		e.Status = domain.ToolCallStatus(status.String)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
