package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// recordEvent stores an event and pushes it to the session's subscribers.
// Failures are logged; events never fail the operation that produced them.
func (s *Service) recordEvent(ctx context.Context, event *domain.Event) {
	if event.SessionID == "" {
		return
	}
	event.Ts = s.now().UnixMilli()

	if err := s.store.CreateEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("session_id", event.SessionID).Warn("failed to store event")
	}
	if s.hub != nil {
		if err := s.hub.BroadcastJSON(event.SessionID, event); err != nil {
			s.logger.WithError(err).Warn("failed to broadcast event")
		}
	}
}

func payloadOf(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return data
}

// ListEvents returns the stored events of a session newer than afterTs.
func (s *Service) ListEvents(ctx context.Context, sessionID string, afterTs int64, limit int) ([]domain.Event, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, sessionID, afterTs, limit)
}
