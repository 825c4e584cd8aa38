package security

import (
	"context"
	"log/slog"

	"github.com/jkaninda/warden/internal/domain"
)

// Decision reasons.
const (
	ReasonDisabled         = "Sandbox disabled"
	ReasonAuditAllowlisted = "Allowlisted in audit mode"
	ReasonAllowlisted      = "Allowlisted for unsafe execution"
	ReasonAuditUnsandboxed = "Audit mode allows unsandboxed execution"
	ReasonNotAllowlisted   = "Enforcement enabled and tool is not allowlisted"
)

// Evaluator classifies tool invocations against the current Options snapshot.
// Safe for concurrent use; it holds no mutable state of its own.
type Evaluator struct {
	source *OptionsSource
	logger *slog.Logger
}

// NewEvaluator creates an evaluator reading from source.
func NewEvaluator(source *OptionsSource, logger *slog.Logger) *Evaluator {
	return &Evaluator{source: source, logger: logger}
}

// Evaluate returns the decision for tool under the current snapshot.
func (e *Evaluator) Evaluate(ctx context.Context, tool *domain.Tool, tc domain.ToolContext) Decision {
	return e.EvaluateSnapshot(ctx, e.source.Load(), tool, tc)
}

// EvaluateSnapshot evaluates against an explicit snapshot, so a caller that
// also routes on the snapshot sees one consistent configuration.
//
// Allow-listing is checked before the mode fallback: an allow-listed tool in
// Audit mode is still flagged audit-only.
func (e *Evaluator) EvaluateSnapshot(ctx context.Context, opts *Options, tool *domain.Tool, tc domain.ToolContext) Decision {
	if opts == nil {
		opts = DefaultOptions()
	}

	if opts.Mode == ModeDisabled {
		return Allow(ModeDisabled, ReasonDisabled, false)
	}

	if opts.UnsafeAllowed(tool) {
		if opts.Mode == ModeAudit {
			d := Allow(ModeAudit, ReasonAuditAllowlisted, true)
			e.warn(ctx, d, tool, tc)
			return d
		}
		return Allow(ModeEnforce, ReasonAllowlisted, false)
	}

	if opts.Mode == ModeAudit {
		d := Allow(ModeAudit, ReasonAuditUnsandboxed, true)
		e.warn(ctx, d, tool, tc)
		return d
	}

	d := Deny(ModeEnforce, ReasonNotAllowlisted)
	e.warn(ctx, d, tool, tc)
	return d
}

func (e *Evaluator) warn(ctx context.Context, d Decision, tool *domain.Tool, tc domain.ToolContext) {
	if e.logger == nil {
		return
	}
	e.logger.WarnContext(ctx, "sandbox policy flagged tool",
		slog.String("outcome", d.Outcome()),
		slog.String("mode", d.Mode().String()),
		slog.String("reason", d.Reason()),
		slog.String("tool_id", tool.ID.String()),
		slog.String("class_path", tool.ClassPath),
		slog.String("agent_id", tc.AgentID.String()),
	)
}
