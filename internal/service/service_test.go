package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgibert/chaingpt/internal/domain"
	"github.com/paulgibert/chaingpt/internal/hub"
	"github.com/paulgibert/chaingpt/internal/policy"
	"github.com/paulgibert/chaingpt/internal/qa"
	"github.com/paulgibert/chaingpt/internal/repository"
	"github.com/paulgibert/chaingpt/internal/session"
	"github.com/paulgibert/chaingpt/internal/testutil"
	"github.com/paulgibert/chaingpt/internal/tools"
	"github.com/paulgibert/chaingpt/internal/workspace"
)

type harness struct {
	svc   *Service
	store repository.Store
	hub   *hub.Hub
	gen   *testutil.EchoGenerator
	env   *testutil.ScriptEnvironment
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := testutil.NewTestSQLiteStore(t)
	h := hub.NewHub(nil)
	go h.Run(ctx)

	var svc *Service
	registry := session.NewRegistry(
		workspace.NewManager(t.TempDir(), &testutil.FileCloner{Files: map[string]string{
			"README.md":   "widgets do things",
			".git/config": "[remote]",
		}}),
		session.OnClose(func(s domain.Session, reason string) { svc.SessionClosed(s, reason) }),
	)
	t.Cleanup(registry.CloseAll)

	gen := &testutil.EchoGenerator{Text: "answer", InputTokens: 5, OutputTokens: 2}
	env := &testutil.ScriptEnvironment{Result: &domain.RunResult{ReturnCode: 1, Stderr: "boom"}}
	engine := qa.NewEngine(gen, qa.Config{}, nil)
	pe, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	svc = New(registry, tools.NewSurface(registry, engine, env, nil), store, pe, h, nil)
	return &harness{svc: svc, store: store, hub: h, gen: gen, env: env}
}

func (h *harness) createSession(t *testing.T) string {
	t.Helper()
	resp, err := h.svc.CreateSession(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	return resp.SessionID
}

func rawArgs(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestCreateSessionPersistsAndEmits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createSession(t)

	stored, err := h.store.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "widgets", stored.RepoName)

	events, err := h.svc.ListEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeSessionCreated, events[0].Type)
}

func TestCreateSessionInvalidURL(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateSession(context.Background(), "ftp://example.com/a/b")
	assert.ErrorIs(t, err, domain.ErrInvalidURL)
	assert.Empty(t, h.svc.ListSessions())
}

func TestCloseSessionTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createSession(t)

	resp, err := h.svc.CloseSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, resp.Closed)

	_, err = h.svc.CloseSession(ctx, id)
	require.NoError(t, err)

	stored, err := h.svc.GetSession(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, stored.ClosedAt)

	events, err := h.svc.ListEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTypeSessionClosed, events[1].Type)

	_, err = h.svc.CloseSession(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrUnknownSession)
}

func TestExecuteFileQARecordsAudit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createSession(t)

	exec, err := h.svc.Execute(ctx, domain.ToolFileQA, rawArgs(t, map[string]string{
		"session_id": id,
		"question":   "What does this do?",
		"file_path":  "README.md",
	}))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(exec.ToolCallID, "tc_"))
	assert.Equal(t, "answer", exec.Result.(*domain.LLMResponse).Output)
	assert.Equal(t, 1, h.gen.Calls())

	tc, err := h.svc.GetToolCall(ctx, exec.ToolCallID)
	require.NoError(t, err)
	assert.Equal(t, domain.ToolCallStatusSucceeded, tc.Status)
	assert.Equal(t, id, tc.SessionID)
	assert.Equal(t, 5, tc.InputTokens)
	assert.Equal(t, 2, tc.OutputTokens)
	assert.NotNil(t, tc.CompletedAt)

	list, err := h.svc.ListToolCalls(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, list.ToolCalls, 1)

	events, err := h.svc.ListEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	var types []domain.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventTypeSessionCreated,
		domain.EventTypeToolCallStart,
		domain.EventTypeToolCallDone,
	}, types)
}

func TestExecuteBlockedByPolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createSession(t)

	_, err := h.svc.Execute(ctx, domain.ToolFileQA, rawArgs(t, map[string]string{
		"session_id": id,
		"question":   "token?",
		"file_path":  ".git/config",
	}))
	require.ErrorIs(t, err, domain.ErrBlocked)
	toolCallID := ToolCallID(err)
	require.NotEmpty(t, toolCallID)
	assert.Equal(t, 0, h.gen.Calls())

	tc, err := h.svc.GetToolCall(ctx, toolCallID)
	require.NoError(t, err)
	assert.Equal(t, domain.ToolCallStatusBlocked, tc.Status)
	assert.Contains(t, string(tc.Error), `"code":"blocked"`)
}

func TestExecuteFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createSession(t)

	_, err := h.svc.Execute(ctx, domain.ToolFileQA, rawArgs(t, map[string]string{
		"session_id": id,
		"question":   "q",
		"file_path":  "missing.md",
	}))
	require.ErrorIs(t, err, domain.ErrFileNotFound)

	tc, err := h.svc.GetToolCall(ctx, ToolCallID(err))
	require.NoError(t, err)
	assert.Equal(t, domain.ToolCallStatusFailed, tc.Status)
	assert.Contains(t, string(tc.Error), domain.CodeFileNotFound)
}

func TestExecuteRunScriptWithoutSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	exec, err := h.svc.Execute(ctx, domain.ToolRunScript, rawArgs(t, map[string]interface{}{
		"script": "python3 -c 'import requests; raise SystemExit(1)'",
		"deps":   []string{"requests"},
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, exec.Result.(*domain.RunResult).ReturnCode)

	tc, err := h.svc.GetToolCall(ctx, exec.ToolCallID)
	require.NoError(t, err)
	assert.Empty(t, tc.SessionID)
	assert.Equal(t, domain.ToolCallStatusSucceeded, tc.Status)

	_, err = h.svc.Execute(ctx, domain.ToolRunScript, rawArgs(t, map[string]interface{}{
		"script": "docker ps",
		"deps":   []string{"docker-cli"},
	}))
	assert.ErrorIs(t, err, domain.ErrBlocked)
	assert.Len(t, h.env.Scripts, 1)
}

func TestExecuteUnknownToolRecordsNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Execute(context.Background(), "shell", nil)
	require.ErrorIs(t, err, domain.ErrUnknownTool)
	assert.Empty(t, ToolCallID(err))
}

func TestExecuteUnknownSessionIsNotAttached(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Execute(context.Background(), domain.ToolFileSearch, rawArgs(t, map[string]string{
		"session_id": "nope",
		"path":       ".",
	}))
	require.ErrorIs(t, err, domain.ErrUnknownSession)

	tc, err := h.svc.GetToolCall(context.Background(), ToolCallID(err))
	require.NoError(t, err)
	assert.Empty(t, tc.SessionID)
}

func TestListToolCallsUnknownSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ListToolCalls(context.Background(), "nope", 0)
	assert.ErrorIs(t, err, domain.ErrUnknownSession)
}

func TestSubscribersReceiveToolEvents(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	conn := h.hub.NewConnection(nil, id)
	h.hub.Register(conn)

	_, err := h.svc.Execute(context.Background(), domain.ToolFileSearch, rawArgs(t, map[string]string{
		"session_id": id,
		"path":       ".",
	}))
	require.NoError(t, err)

	var got []domain.Event
	for len(got) < 2 {
		select {
		case data := <-conn.Send:
			var e domain.Event
			require.NoError(t, json.Unmarshal(data, &e))
			got = append(got, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events", len(got))
		}
	}
	assert.Equal(t, domain.EventTypeToolCallStart, got[0].Type)
	assert.Equal(t, domain.EventTypeToolCallDone, got[1].Type)
	assert.Equal(t, domain.ToolCallStatusSucceeded, got[1].Status)
}
