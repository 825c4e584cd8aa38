package observability

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/security"
)

// Recorded outcomes. Audit-only allowances are recorded as denied with AuditOnly set.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
)

// Event is the forensic record of one policy decision.
type Event struct {
	Time           time.Time `json:"time"`
	ToolID         uuid.UUID `json:"toolId"`
	ClassPath      string    `json:"classPath"`
	Mode           string    `json:"mode"`
	Outcome        string    `json:"outcome"`
	AuditOnly      bool      `json:"auditOnly"`
	Reason         string    `json:"reason"`
	AgentID        uuid.UUID `json:"agentId"`
	ConversationID uuid.UUID `json:"conversationId"`
	PersonaID      string    `json:"personaId,omitempty"`
	Route          string    `json:"route"`
}

// NewDecisionEvent builds the event for a decision taken on route.
func NewDecisionEvent(tool *domain.Tool, d security.Decision, tc domain.ToolContext, route string) Event {
	outcome := OutcomeAllowed
	if !d.IsAllowed() || d.AuditOnly() {
		outcome = OutcomeDenied
	}
	return Event{
		Time:           time.Now().UTC(),
		ToolID:         tool.ID,
		ClassPath:      tool.ClassPath,
		Mode:           d.Mode().String(),
		Outcome:        outcome,
		AuditOnly:      d.AuditOnly(),
		Reason:         d.Reason(),
		AgentID:        tc.AgentID,
		ConversationID: tc.ConversationID,
		PersonaID:      tc.PersonaString(),
		Route:          route,
	}
}

// QuotaEvent records a planner quota rejection or throttle.
type QuotaEvent struct {
	Time       time.Time `json:"time"`
	ToolID     uuid.UUID `json:"toolId"`
	PlannerKey string    `json:"plannerKey"`
	Verdict    string    `json:"verdict"`
	Reason     string    `json:"reason"`
	AgentID    uuid.UUID `json:"agentId"`
	PersonaID  string    `json:"personaId,omitempty"`
}

// EventWriter persists decision events. Write must not block the caller.
type EventWriter interface {
	Write(e Event)
	Close()
}

// Telemetry fans every decision out to the log, metrics, the anomaly
// detector, the event sink and live subscribers. Every dependency is optional.
type Telemetry struct {
	logger  *slog.Logger
	metrics *MetricsCollector
	anomaly *AnomalyDetector
	writer  EventWriter
	hub     *Hub
}

// TelemetryOption configures a Telemetry.
type TelemetryOption func(*Telemetry)

func WithMetrics(m *MetricsCollector) TelemetryOption {
	return func(t *Telemetry) { t.metrics = m }
}

func WithAnomalyDetector(a *AnomalyDetector) TelemetryOption {
	return func(t *Telemetry) { t.anomaly = a }
}

func WithEventWriter(w EventWriter) TelemetryOption {
	return func(t *Telemetry) { t.writer = w }
}

func WithHub(h *Hub) TelemetryOption {
	return func(t *Telemetry) { t.hub = h }
}

// NewTelemetry creates a telemetry sink.
func NewTelemetry(logger *slog.Logger, opts ...TelemetryOption) *Telemetry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t := &Telemetry{logger: logger}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Record logs and fans out one decision event.
func (t *Telemetry) Record(ctx context.Context, e Event) {
	level := slog.LevelDebug
	if e.Outcome == OutcomeDenied {
		level = slog.LevelWarn
	}
	t.logger.Log(ctx, level, "sandbox decision",
		slog.String("tool_id", e.ToolID.String()),
		slog.String("class_path", e.ClassPath),
		slog.String("mode", e.Mode),
		slog.String("outcome", e.Outcome),
		slog.Bool("audit_only", e.AuditOnly),
		slog.String("reason", e.Reason),
		slog.String("route", e.Route),
		slog.String("agent_id", e.AgentID.String()),
		slog.String("conversation_id", e.ConversationID.String()),
		slog.String("persona_id", e.PersonaID),
	)

	if t.metrics != nil {
		t.metrics.DecisionsTotal.WithLabelValues(e.Mode, e.Outcome, strconv.FormatBool(e.AuditOnly)).Inc()
	}
	if e.Outcome == OutcomeDenied && !e.AuditOnly {
		t.anomaly.RecordDenial(e.ClassPath)
	} else {
		t.anomaly.RecordAllowed(e.ClassPath)
	}
	if t.writer != nil {
		t.writer.Write(e)
	}
	t.hub.Publish(e)
}

// RecordQuota logs a quota short-circuit.
func (t *Telemetry) RecordQuota(ctx context.Context, e QuotaEvent) {
	t.logger.WarnContext(ctx, "planner quota refused dispatch",
		slog.String("tool_id", e.ToolID.String()),
		slog.String("planner_key", e.PlannerKey),
		slog.String("verdict", e.Verdict),
		slog.String("reason", e.Reason),
		slog.String("agent_id", e.AgentID.String()),
		slog.String("persona_id", e.PersonaID),
	)
	if t.metrics != nil {
		t.metrics.QuotaVerdictsTotal.WithLabelValues(e.Verdict).Inc()
	}
}

// Close flushes the event sink.
func (t *Telemetry) Close() {
	if t.writer != nil {
		t.writer.Close()
	}
}
