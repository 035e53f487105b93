// Package service implements the use cases behind the HTTP surface: session
// lifecycle and audited, policy-checked tool invocation.
package service

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/hub"
	"github.com/paulgibert/chaingpt/internal/policy"
	"github.com/paulgibert/chaingpt/internal/repository"
	"github.com/paulgibert/chaingpt/internal/session"
	"github.com/paulgibert/chaingpt/internal/tools"
)

// Service runs the session and tool use cases. It audits every tool call in
// the store, gates it through the policy engine and publishes events to the
// hub.
type Service struct {
	registry     *session.Registry
	tools        *tools.Surface
	store        repository.Store
	policyEngine *policy.Engine
	hub          *hub.Hub
	logger       logrus.FieldLogger
	now          func() time.Time
}

// New creates a Service. policyEngine and h may be nil, in which case every
// call is allowed and events are only persisted.
func New(registry *session.Registry, surface *tools.Surface, store repository.Store, policyEngine *policy.Engine, h *hub.Hub, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		registry:     registry,
		tools:        surface,
		store:        store,
		policyEngine: policyEngine,
		hub:          h,
		logger:       logger.WithField("component", "service"),
		now:          time.Now,
	}
}
