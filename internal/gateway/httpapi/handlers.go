package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/warden/internal/approval"
	"github.com/jkaninda/warden/internal/dispatch"
	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/tools"
)

// CallerContext identifies the agent on whose behalf a tool runs.
type CallerContext struct {
	AgentID        string `json:"agent_id"`
	ConversationID string `json:"conversation_id,omitempty"` // Empty = new conversation.
	PersonaID      string `json:"persona_id,omitempty"`
}

// InvokeRequest is the JSON body for POST /v1/tools/{id}/invoke.
type InvokeRequest struct {
	CallerContext
	Arguments map[string]any `json:"arguments,omitempty"`
	NoLog     bool           `json:"no_log,omitempty"`
}

// PlanRequest is the JSON body for POST /v1/tools/{id}/plan.
type PlanRequest struct {
	CallerContext
	Goal      string         `json:"goal"`
	Arguments map[string]any `json:"arguments,omitempty"`
	StartAt   *time.Time     `json:"start_at,omitempty"`
	MaxSteps  int            `json:"max_steps,omitempty"`
	NoLog     bool           `json:"no_log,omitempty"`
}

// DecisionBody is the public view of a sandbox decision.
type DecisionBody struct {
	Mode      string `json:"mode"`
	Allowed   bool   `json:"allowed"`
	AuditOnly bool   `json:"audit_only"`
	Reason    string `json:"reason"`
}

// DispatchResponse is returned by the invoke, plan and approve endpoints.
type DispatchResponse struct {
	OK            bool          `json:"ok"`
	Status        string        `json:"status"`
	Route         string        `json:"route,omitempty"`
	Result        any           `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	Decision      *DecisionBody `json:"decision,omitempty"`
	Quota         string        `json:"quota,omitempty"`
	ApprovalID    string        `json:"approval_id,omitempty"`
	DurationMs    int64         `json:"duration_ms"`
	CorrelationID string        `json:"correlation_id"`
}

// ToolResponse describes one catalog tool.
type ToolResponse struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	ClassPath  string                 `json:"class_path"`
	Active     bool                   `json:"active"`
	Parameters []domain.ToolParameter `json:"parameters"`
}

// ApprovalResponse describes a pending work request.
type ApprovalResponse struct {
	ID             string         `json:"id"`
	ToolID         string         `json:"tool_id"`
	ClassPath      string         `json:"class_path"`
	Planner        bool           `json:"planner,omitempty"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	AgentID        string         `json:"agent_id"`
	ConversationID string         `json:"conversation_id"`
	PersonaID      string         `json:"persona_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         string         `json:"status,omitempty"`
}

func (g *Gateway) handleListTools(c *okapi.Context) error {
	list, err := g.catalog.ListTools(c.Context())
	if err != nil {
		g.logger.Error("listing tools failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing tools failed")
	}
	resp := make([]ToolResponse, len(list))
	for i, t := range list {
		resp[i] = ToolResponse{
			ID:         t.ID.String(),
			Name:       t.Name,
			ClassPath:  t.ClassPath,
			Active:     t.IsActive,
			Parameters: t.Parameters,
		}
	}
	return c.OK(resp)
}

func (g *Gateway) handleInvoke(c *okapi.Context) error {
	toolID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid tool ID")
	}
	var req InvokeRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	tc, err := g.toolContext(req.CallerContext)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	var opts []dispatch.Option
	if req.NoLog {
		opts = append(opts, dispatch.WithoutLog())
	}
	out, perr := g.dispatcher.Execute(c.Context(), toolID, tc, req.Arguments, opts...)
	g.logPersistError(c, toolID, perr)

	resp := g.dispatchResponse(c, out)
	return c.JSON(statusCode(out), resp)
}

func (g *Gateway) handlePlan(c *okapi.Context) error {
	toolID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid tool ID")
	}
	var req PlanRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Goal == "" {
		return c.AbortBadRequest("goal is required")
	}
	tc, err := g.toolContext(req.CallerContext)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	params := tools.PlannerParameters{Goal: req.Goal, Arguments: req.Arguments, MaxSteps: req.MaxSteps}
	if req.StartAt != nil {
		params.StartAt = *req.StartAt
	}
	var opts []dispatch.Option
	if req.NoLog {
		opts = append(opts, dispatch.WithoutLog())
	}
	out, perr := g.dispatcher.ExecutePlanner(c.Context(), toolID, tc, params, opts...)
	g.logPersistError(c, toolID, perr)

	resp := g.dispatchResponse(c, &out.Outcome)
	if out.Plan != nil {
		resp.Result = out.Plan
	}
	resp.Quota = string(out.Quota.Verdict)
	return c.JSON(statusCode(&out.Outcome), resp)
}

func (g *Gateway) handleExecutions(c *okapi.Context) error {
	toolID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid tool ID")
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			return c.AbortBadRequest("limit must be between 1 and 1000")
		}
		limit = n
	}
	rows, err := g.logs.ListByTool(c.Context(), toolID, limit)
	if err != nil {
		g.logger.Error("listing execution logs failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing execution logs failed")
	}
	if rows == nil {
		rows = []domain.ExecutionLog{}
	}
	return c.OK(rows)
}

func (g *Gateway) handleListApprovals(c *okapi.Context) error {
	pending := g.approvals.Snapshot()
	resp := make([]ApprovalResponse, len(pending))
	for i, req := range pending {
		resp[i] = approvalResponse(req, "pending")
	}
	return c.OK(resp)
}

func (g *Gateway) handleNextApproval(c *okapi.Context) error {
	req, ok := g.approvals.TryDequeue()
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "approval queue is empty"})
	}
	return g.runApproved(c, req)
}

func (g *Gateway) handleApprove(c *okapi.Context) error {
	req, err := g.approvals.Remove(c.Param("id"))
	if err != nil {
		return approvalError(c, err)
	}
	return g.runApproved(c, req)
}

// runApproved executes a request the caller has already claimed from the queue.
func (g *Gateway) runApproved(c *okapi.Context, req sandbox.WorkRequest) error {
	g.logger.InfoContext(c.Context(), "approval granted",
		slog.String("approval_id", req.ID),
		slog.String("tool_id", req.ToolID.String()),
		slog.String("correlation_id", correlationIDFrom(c.Context())),
	)

	req.Context.Services = g.services
	out, perr := g.dispatcher.ExecuteApproved(c.Context(), req)
	g.logPersistError(c, req.ToolID, perr)

	resp := g.dispatchResponse(c, out)
	resp.ApprovalID = req.ID
	return c.JSON(statusCode(out), resp)
}

func (g *Gateway) handleReject(c *okapi.Context) error {
	req, err := g.approvals.Remove(c.Param("id"))
	if err != nil {
		return approvalError(c, err)
	}
	g.logger.WarnContext(c.Context(), "approval rejected",
		slog.String("approval_id", req.ID),
		slog.String("tool_id", req.ToolID.String()),
		slog.String("correlation_id", correlationIDFrom(c.Context())),
	)
	return c.OK(approvalResponse(req, "rejected"))
}

func (g *Gateway) handleOptions(c *okapi.Context) error {
	return c.OK(g.options.Load())
}

// --- Helpers ---

func (g *Gateway) toolContext(cc CallerContext) (domain.ToolContext, error) {
	agentID, err := uuid.Parse(cc.AgentID)
	if err != nil {
		return domain.ToolContext{}, fmt.Errorf("agent_id must be a UUID")
	}
	conversationID := uuid.New()
	if cc.ConversationID != "" {
		if conversationID, err = uuid.Parse(cc.ConversationID); err != nil {
			return domain.ToolContext{}, fmt.Errorf("conversation_id must be a UUID")
		}
	}
	tc := domain.ToolContext{AgentID: agentID, ConversationID: conversationID, Services: g.services}
	if cc.PersonaID != "" {
		persona, err := uuid.Parse(cc.PersonaID)
		if err != nil {
			return domain.ToolContext{}, fmt.Errorf("persona_id must be a UUID")
		}
		tc.PersonaID = &persona
	}
	return tc, nil
}

func (g *Gateway) dispatchResponse(c *okapi.Context, out *dispatch.Outcome) DispatchResponse {
	resp := DispatchResponse{
		OK:            out.OK,
		Status:        string(out.Status),
		Route:         out.Route,
		Result:        out.Result,
		Error:         out.ErrorMessage(),
		ApprovalID:    out.ApprovalID,
		DurationMs:    out.Duration.Milliseconds(),
		CorrelationID: correlationIDFrom(c.Context()),
	}
	if out.Route != "" && out.Route != dispatch.RouteApproved {
		d := out.Decision
		resp.Decision = &DecisionBody{
			Mode:      d.Mode().String(),
			Allowed:   d.IsAllowed(),
			AuditOnly: d.AuditOnly(),
			Reason:    d.Reason(),
		}
	}
	return resp
}

func (g *Gateway) logPersistError(c *okapi.Context, toolID uuid.UUID, err error) {
	if err == nil {
		return
	}
	g.logger.ErrorContext(c.Context(), "execution log unavailable",
		slog.String("tool_id", toolID.String()),
		slog.String("correlation_id", correlationIDFrom(c.Context())),
		slog.String("error", err.Error()),
	)
}

// statusCode maps a dispatch outcome to an HTTP status.
func statusCode(out *dispatch.Outcome) int {
	switch out.Status {
	case dispatch.StatusSucceeded:
		return http.StatusOK
	case dispatch.StatusPendingApproval:
		return http.StatusAccepted
	case dispatch.StatusDenied, dispatch.StatusQuotaRejected:
		return http.StatusForbidden
	case dispatch.StatusQuotaThrottled:
		return http.StatusTooManyRequests
	case dispatch.StatusCancelled:
		return http.StatusRequestTimeout
	case dispatch.StatusInvalid:
		switch {
		case errors.Is(out.Err, dispatch.ErrToolNotFound):
			return http.StatusNotFound
		case errors.Is(out.Err, dispatch.ErrImplementationNotResolved):
			return http.StatusNotImplemented
		default:
			return http.StatusBadRequest
		}
	default:
		return http.StatusBadGateway
	}
}

func approvalResponse(req sandbox.WorkRequest, status string) ApprovalResponse {
	return ApprovalResponse{
		ID:             req.ID,
		ToolID:         req.ToolID.String(),
		ClassPath:      req.ClassPath,
		Planner:        req.Planner,
		Arguments:      req.Arguments,
		AgentID:        req.Context.AgentID.String(),
		ConversationID: req.Context.ConversationID.String(),
		PersonaID:      req.Context.PersonaString(),
		CreatedAt:      req.CreatedAt,
		Status:         status,
	}
}

// approvalError maps approval errors to HTTP responses.
func approvalError(c *okapi.Context, err error) error {
	if errors.Is(err, approval.ErrNotFound) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "approval not found"})
	}
	return c.AbortInternalServerError("approval error")
}
