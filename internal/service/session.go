package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// CreateSession clones url into a fresh workspace and returns its session id.
func (s *Service) CreateSession(ctx context.Context, url string) (*domain.CreateSessionResponse, error) {
	id, err := s.registry.Create(ctx, url)
	if err != nil {
		return nil, err
	}
	sess, err := s.registry.Session(id)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateSession(ctx, &sess); err != nil {
		s.logger.WithError(err).WithField("session_id", id).Warn("failed to persist session")
	}
	s.recordEvent(ctx, &domain.Event{
		Type:      domain.EventTypeSessionCreated,
		SessionID: id,
		Payload:   payloadOf(map[string]string{"repo_url": sess.RepoURL, "default_branch": sess.DefaultBranch}),
	})

	return &domain.CreateSessionResponse{SessionID: id}, nil
}

// CloseSession destroys the session's workspace. Closing an already closed
// session succeeds.
func (s *Service) CloseSession(_ context.Context, sessionID string) (*domain.CloseSessionResponse, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}
	if err := s.registry.Close(sessionID); err != nil {
		return nil, err
	}
	return &domain.CloseSessionResponse{SessionID: sessionID, Closed: true}, nil
}

// SessionClosed records the end of a session. It is installed as the
// registry's close hook so reaped sessions are recorded too.
func (s *Service) SessionClosed(sess domain.Session, reason string) {
	ctx := context.Background()
	closedAt := s.now()
	if sess.ClosedAt != nil {
		closedAt = *sess.ClosedAt
	}
	if err := s.store.MarkSessionClosed(ctx, sess.SessionID, closedAt, reason); err != nil {
		s.logger.WithError(err).WithField("session_id", sess.SessionID).Warn("failed to persist session close")
	}
	s.recordEvent(ctx, &domain.Event{
		Type:      domain.EventTypeSessionClosed,
		SessionID: sess.SessionID,
		Payload:   payloadOf(map[string]string{"reason": reason}),
	})
	if s.hub != nil {
		s.hub.CloseSession(sess.SessionID)
	}
	s.logger.WithFields(logrus.Fields{"session_id": sess.SessionID, "reason": reason}).Debug("session close recorded")
}

// GetSession returns a live session, or the stored record of a closed one.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := s.registry.Session(sessionID)
	if err == nil {
		return &sess, nil
	}
	if !errors.Is(err, domain.ErrUnknownSession) {
		return nil, err
	}
	stored, serr := s.store.GetSession(ctx, sessionID)
	if serr != nil {
		return nil, fmt.Errorf("failed to get session: %w", serr)
	}
	if stored == nil {
		return nil, err
	}
	return stored, nil
}

// ListSessions returns the live sessions.
func (s *Service) ListSessions() []domain.Session {
	return s.registry.List()
}
