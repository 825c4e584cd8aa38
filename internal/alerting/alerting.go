// Package alerting publishes sandbox denials to operators.
package alerting

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/security"
)

// Settings is the hot-reloadable alerting section.
type Settings struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhookUrl,omitempty"`
}

// Poster delivers a JSON payload to a URL.
type Poster interface {
	Post(ctx context.Context, url string, payload any) error
}

// DeliveryRecorder counts webhook outcomes ("success", "failure").
type DeliveryRecorder interface {
	RecordWebhookDelivery(outcome string)
}

// Alert describes one denied invocation.
type Alert struct {
	Tool     *domain.Tool
	Decision security.Decision
	Context  domain.ToolContext
}

// Payload is the webhook body.
type Payload struct {
	ToolID         uuid.UUID  `json:"toolId"`
	ClassPath      string     `json:"classPath"`
	Mode           string     `json:"mode"`
	Reason         string     `json:"reason"`
	AgentID        uuid.UUID  `json:"agentId"`
	PersonaID      *uuid.UUID `json:"personaId"`
	ConversationID uuid.UUID  `json:"conversationId"`
}

// Publisher logs and optionally POSTs denial alerts. Delivery failures are
// logged and never returned.
type Publisher struct {
	settings atomic.Pointer[Settings]
	poster   Poster
	recorder DeliveryRecorder
	logger   *slog.Logger
}

// NewPublisher creates a publisher. poster and recorder may be nil.
func NewPublisher(settings Settings, poster Poster, recorder DeliveryRecorder, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Publisher{poster: poster, recorder: recorder, logger: logger}
	p.settings.Store(&settings)
	return p
}

// Settings returns the active settings snapshot.
func (p *Publisher) Settings() Settings {
	return *p.settings.Load()
}

// Update swaps the settings snapshot.
func (p *Publisher) Update(s Settings) {
	p.settings.Store(&s)
}

// Publish emits an alert for a denial. Allowed decisions are ignored.
func (p *Publisher) Publish(ctx context.Context, a Alert) {
	if a.Decision.IsAllowed() || a.Tool == nil {
		return
	}
	s := p.settings.Load()
	if !s.Enabled {
		return
	}

	p.logger.WarnContext(ctx, "sandbox denial alert",
		slog.String("tool_id", a.Tool.ID.String()),
		slog.String("class_path", a.Tool.ClassPath),
		slog.String("mode", a.Decision.Mode().String()),
		slog.String("reason", a.Decision.Reason()),
		slog.String("agent_id", a.Context.AgentID.String()),
		slog.String("persona_id", a.Context.PersonaString()),
		slog.String("conversation_id", a.Context.ConversationID.String()),
	)

	if s.WebhookURL == "" || p.poster == nil {
		return
	}

	payload := Payload{
		ToolID:         a.Tool.ID,
		ClassPath:      a.Tool.ClassPath,
		Mode:           a.Decision.Mode().String(),
		Reason:         a.Decision.Reason(),
		AgentID:        a.Context.AgentID,
		PersonaID:      a.Context.PersonaID,
		ConversationID: a.Context.ConversationID,
	}
	if err := p.poster.Post(ctx, s.WebhookURL, payload); err != nil {
		p.record("failure")
		p.logger.WarnContext(ctx, "alert webhook delivery failed",
			slog.String("tool_id", a.Tool.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	p.record("success")
}

func (p *Publisher) record(outcome string) {
	if p.recorder != nil {
		p.recorder.RecordWebhookDelivery(outcome)
	}
}
