package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// ToolCallError is returned by Execute once a tool call has been recorded,
// so callers can report its id alongside the failure.
type ToolCallError struct {
	ToolCallID string
	Err        error
}

func (e *ToolCallError) Error() string { return e.Err.Error() }

func (e *ToolCallError) Unwrap() error { return e.Err }

// ToolCallID returns the id of the recorded tool call behind err, if any.
func ToolCallID(err error) string {
	var tcErr *ToolCallError
	if errors.As(err, &tcErr) {
		return tcErr.ToolCallID
	}
	return ""
}

// Execution is the outcome of a successful tool call.
type Execution struct {
	ToolCallID string
	Result     interface{}
}

// Execute runs a tool through policy, audit and event recording.
func (s *Service) Execute(ctx context.Context, name domain.ToolName, args json.RawMessage) (*Execution, error) {
	if _, err := s.tools.Lookup(name); err != nil {
		return nil, err
	}

	input := policyInput(name, args)
	sessionID, _ := input["session_id"].(string)
	toolCallID := "tc_" + strings.ToLower(ulid.Make().String())
	log := s.logger.WithFields(logrus.Fields{
		"tool_call_id": toolCallID,
		"tool_name":    name,
		"session_id":   sessionID,
	})

	// Audit rows reference sessions; only attach ids that exist.
	auditSessionID := sessionID
	if auditSessionID != "" {
		if _, err := s.GetSession(ctx, auditSessionID); err != nil {
			auditSessionID = ""
		}
	}

	toolCall := &domain.ToolCall{
		ToolCallID: toolCallID,
		SessionID:  auditSessionID,
		ToolName:   name,
		Status:     domain.ToolCallStatusRunning,
		Args:       normalizeArgs(args),
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateToolCall(ctx, toolCall); err != nil {
		log.WithError(err).Warn("failed to record tool call")
	}

	if s.policyEngine != nil {
		decision, err := s.policyEngine.Evaluate(ctx, input)
		if err != nil {
			err = fmt.Errorf("policy evaluation failed: %w", err)
			s.finish(ctx, log, toolCall, domain.ToolCallStatusFailed, nil, err)
			return nil, &ToolCallError{ToolCallID: toolCallID, Err: err}
		}
		if !decision.Allowed {
			err := fmt.Errorf("%w: %s", domain.ErrBlocked, strings.Join(decision.Reasons, "; "))
			s.finish(ctx, log, toolCall, domain.ToolCallStatusBlocked, nil, err)
			return nil, &ToolCallError{ToolCallID: toolCallID, Err: err}
		}
	}

	s.recordEvent(ctx, &domain.Event{
		Type:       domain.EventTypeToolCallStart,
		SessionID:  auditSessionID,
		ToolCallID: toolCallID,
		ToolName:   name,
		Status:     domain.ToolCallStatusRunning,
		Payload:    toolCall.Args,
	})

	start := time.Now()
	result, err := s.tools.Invoke(ctx, name, args)
	log = log.WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		s.finish(ctx, log, toolCall, domain.ToolCallStatusFailed, nil, err)
		return nil, &ToolCallError{ToolCallID: toolCallID, Err: err}
	}

	s.finish(ctx, log, toolCall, domain.ToolCallStatusSucceeded, result, nil)
	return &Execution{ToolCallID: toolCallID, Result: result}, nil
}

// finish completes the audit record and emits tool_call_done.
func (s *Service) finish(ctx context.Context, log logrus.FieldLogger, toolCall *domain.ToolCall, status domain.ToolCallStatus, result interface{}, callErr error) {
	// The caller may have gone away; the audit trail should still land.
	ctx = context.WithoutCancel(ctx)

	var resultData, errData []byte
	var inputTokens, outputTokens int
	if resp, ok := result.(*domain.LLMResponse); ok {
		inputTokens, outputTokens = resp.InputTokens, resp.OutputTokens
	}
	if result != nil {
		resultData = payloadOf(result)
	}
	if callErr != nil {
		errData = payloadOf(domain.ToolError{Code: domain.Code(callErr), Message: domain.PublicMessage(callErr)})
	}

	if _, err := s.store.UpdateToolCallResult(ctx, toolCall.ToolCallID, status, resultData, errData, inputTokens, outputTokens); err != nil {
		log.WithError(err).Warn("failed to update tool call")
	}

	payload := resultData
	if callErr != nil {
		payload = errData
	}
	s.recordEvent(ctx, &domain.Event{
		Type:       domain.EventTypeToolCallDone,
		SessionID:  toolCall.SessionID,
		ToolCallID: toolCall.ToolCallID,
		ToolName:   toolCall.ToolName,
		Status:     status,
		Payload:    payload,
	})

	entry := log.WithField("status", status)
	switch {
	case callErr == nil:
		entry.Info("tool call succeeded")
	case domain.IsClientError(callErr):
		entry.WithError(callErr).Info("tool call rejected")
	default:
		entry.WithError(callErr).Error("tool call failed")
	}
}

// ListToolCalls returns the audit trail of a session.
func (s *Service) ListToolCalls(ctx context.Context, sessionID string, limit int) (*domain.ListToolCallsResponse, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	calls, err := s.store.ListToolCalls(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	return &domain.ListToolCallsResponse{ToolCalls: calls}, nil
}

// GetToolCall returns one audit record.
func (s *Service) GetToolCall(ctx context.Context, toolCallID string) (*domain.ToolCall, error) {
	tc, err := s.store.GetToolCall(ctx, toolCallID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tool call: %w", err)
	}
	if tc == nil {
		return nil, fmt.Errorf("%w: tool call %s", domain.ErrNotFound, toolCallID)
	}
	return tc, nil
}

// policyInput flattens the fields the tool policy inspects. Malformed args
// are left for the tool's own validation to reject.
func policyInput(name domain.ToolName, args json.RawMessage) map[string]interface{} {
	input := map[string]interface{}{
		"tool_name": string(name),
	}
	var fields map[string]interface{}
	if len(args) > 0 && json.Unmarshal(args, &fields) == nil {
		input["args"] = fields
		if v, ok := fields["session_id"].(string); ok {
			input["session_id"] = v
		}
		if v, ok := fields["file_path"].(string); ok {
			input["path"] = v
		} else if v, ok := fields["path"].(string); ok {
			input["path"] = v
		}
		if v, ok := fields["script"].(string); ok {
			input["script"] = v
		}
		if v, ok := fields["deps"].([]interface{}); ok {
			input["deps"] = v
		}
	}
	return input
}

func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 || !json.Valid(args) {
		return json.RawMessage(`{}`)
	}
	return args
}

// ToolNames lists the available tools.
func (s *Service) ToolNames() []domain.ToolName {
	return s.tools.Names()
}
