// Package dispatch is the orchestration pipeline every tool invocation passes
// through: catalog lookup, implementation resolution, argument binding,
// planner quota, sandbox policy, routing, telemetry and the execution log.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/warden/internal/alerting"
	"github.com/jkaninda/warden/internal/catalog"
	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/quota"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/tools"
)

// persistTimeout bounds the execution-log write, which outlives caller cancellation.
const persistTimeout = 10 * time.Second

// ExecutionLogStore persists one row per dispatch attempt.
type ExecutionLogStore interface {
	Append(ctx context.Context, log *domain.ExecutionLog) error
	ListByTool(ctx context.Context, toolID uuid.UUID, limit int) ([]domain.ExecutionLog, error)
}

// Resolver maps a class-path to a fresh implementation.
type Resolver interface {
	Resolve(classPath string) (any, error)
}

// ApprovalQueue receives requests denied under EnqueueOnDeny.
type ApprovalQueue interface {
	Enqueue(ctx context.Context, req sandbox.WorkRequest) error
}

// AlertPublisher is notified of denials.
type AlertPublisher interface {
	Publish(ctx context.Context, a alerting.Alert)
}

// Dispatcher runs the pipeline. Safe for concurrent use; no lock is held
// across a dispatch.
type Dispatcher struct {
	catalog   catalog.Catalog
	resolver  Resolver
	options   *security.OptionsSource
	evaluator *security.Evaluator
	binder    *Binder

	worker    sandbox.Worker
	approvals ApprovalQueue
	quota     quota.Service
	telemetry *observability.Telemetry
	alerts    AlertPublisher
	logs      ExecutionLogStore
	metrics   *observability.MetricsCollector
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates a dispatcher with fail-closed defaults: the no-op isolation
// worker, no approval queue, no planner quota and no execution log.
func New(cat catalog.Catalog, resolver Resolver, options *security.OptionsSource, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		catalog:   cat,
		resolver:  resolver,
		options:   options,
		evaluator: security.NewEvaluator(options, logger),
		binder:    NewBinder(),
		worker:    sandbox.NoopWorker{},
		quota:     quota.AllowAll{},
		telemetry: observability.NewTelemetry(logger),
		tracer:    noop.NewTracerProvider().Tracer(observability.InstrumentationName),
		logger:    logger,
	}
}

func (d *Dispatcher) WithWorker(w sandbox.Worker) *Dispatcher {
	d.worker = w
	return d
}

func (d *Dispatcher) WithApprovalQueue(q ApprovalQueue) *Dispatcher {
	d.approvals = q
	return d
}

func (d *Dispatcher) WithQuota(q quota.Service) *Dispatcher {
	d.quota = q
	return d
}

func (d *Dispatcher) WithTelemetry(t *observability.Telemetry) *Dispatcher {
	if t != nil {
		d.telemetry = t
	}
	return d
}

func (d *Dispatcher) WithAlerts(a AlertPublisher) *Dispatcher {
	d.alerts = a
	return d
}

func (d *Dispatcher) WithExecutionLog(s ExecutionLogStore) *Dispatcher {
	d.logs = s
	return d
}

// WithObservability attaches metrics and a tracer. Both may be nil.
func (d *Dispatcher) WithObservability(m *observability.MetricsCollector, tracer trace.Tracer) *Dispatcher {
	d.metrics = m
	if tracer != nil {
		d.tracer = tracer
	}
	return d
}

// call carries one dispatch through the pipeline.
type call struct {
	toolID  uuid.UUID
	tc      domain.ToolContext
	args    map[string]any
	planner *tools.PlannerParameters
	opts    callOptions

	tool      *domain.Tool
	impl      any
	quota     quota.Decision
	requested any // request snapshot source
}

// Execute dispatches a tool invocation. The returned error is non-nil only
// when the execution log could not be written; every other failure is
// reported through Outcome.Err.
func (d *Dispatcher) Execute(ctx context.Context, toolID uuid.UUID, tc domain.ToolContext, args map[string]any, opts ...Option) (*Outcome, error) {
	c := &call{toolID: toolID, tc: tc, args: args, opts: applyOptions(opts), requested: args}
	out, err := d.run(ctx, c)
	return out, err
}

// ExecutePlanner dispatches a planning request. The tool's implementation
// must be a tools.Planner.
func (d *Dispatcher) ExecutePlanner(ctx context.Context, toolID uuid.UUID, tc domain.ToolContext, params tools.PlannerParameters, opts ...Option) (*PlannerOutcome, error) {
	c := &call{toolID: toolID, tc: tc, args: params.Arguments, planner: &params, opts: applyOptions(opts), requested: params}
	out, err := d.run(ctx, c)

	po := &PlannerOutcome{Outcome: *out, Quota: c.quota}
	po.Plan, _ = out.Result.(*tools.PlannerResult)
	return po, err
}

func (d *Dispatcher) run(ctx context.Context, c *call) (*Outcome, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, observability.SpanDispatch, trace.WithAttributes(
		attribute.String("tool.id", c.toolID.String()),
		attribute.Bool("dispatch.planner", c.planner != nil),
	))
	defer span.End()

	out := d.pipeline(ctx, c)
	out.Duration = time.Since(start)

	var persistErr error
	if c.opts.log && c.tool != nil && d.logs != nil {
		persistErr = d.persist(ctx, c, out)
	}

	span.SetAttributes(
		attribute.String("dispatch.status", string(out.Status)),
		attribute.String("dispatch.route", out.Route),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	route := out.Route
	if route == "" {
		route = "none"
	}
	d.metrics.RecordDispatch(string(out.Status), route, out.Duration.Seconds())

	return out, persistErr
}

// pipeline runs every step up to (not including) persistence.
func (d *Dispatcher) pipeline(ctx context.Context, c *call) *Outcome {
	tool, err := d.catalog.ResolveTool(ctx, c.toolID)
	if err != nil {
		if isCancellation(ctx, err) {
			return cancelled(err)
		}
		return invalid(fmt.Errorf("%w: %s: %w", ErrToolNotFound, c.toolID, err))
	}
	c.tool = tool

	impl, err := d.resolver.Resolve(tool.ClassPath)
	if err != nil {
		return invalid(fmt.Errorf("%w: %s: %w", ErrImplementationNotResolved, tool.ClassPath, err))
	}
	if !implements(impl, c.planner != nil) {
		return invalid(fmt.Errorf("%w: %s does not implement the requested capability", ErrImplementationNotResolved, tool.ClassPath))
	}
	c.impl = impl

	bound, err := d.binder.Bind(tool, c.args)
	if err != nil {
		return invalid(err)
	}
	c.args = injectContext(bound, c.tc)
	if c.planner != nil {
		c.planner.Arguments = c.args
	}

	if _, isPlanner := impl.(tools.Planner); isPlanner {
		c.quota = d.quota.Evaluate(ctx, tool.ClassPath, c.tc)
		if out := d.quotaOutcome(ctx, c); out != nil {
			return out
		}
	}

	// One snapshot for both the decision and the routing.
	opts := d.options.Load()
	decision := d.evaluator.EvaluateSnapshot(ctx, opts, tool, c.tc)

	out := d.route(ctx, c, opts, decision)
	out.Decision = decision

	d.telemetry.Record(ctx, observability.NewDecisionEvent(tool, decision, c.tc, out.Route))
	if !decision.IsAllowed() && d.alerts != nil {
		d.alerts.Publish(ctx, alerting.Alert{Tool: tool, Decision: decision, Context: c.tc})
	}
	return out
}

func (d *Dispatcher) quotaOutcome(ctx context.Context, c *call) *Outcome {
	var (
		status   Status
		sentinel error
	)
	switch c.quota.Verdict {
	case quota.Rejected:
		status, sentinel = StatusQuotaRejected, ErrQuotaRejected
	case quota.Throttled:
		status, sentinel = StatusQuotaThrottled, ErrQuotaThrottled
	default:
		return nil
	}
	d.telemetry.RecordQuota(ctx, observability.QuotaEvent{
		Time:       time.Now().UTC(),
		ToolID:     c.tool.ID,
		PlannerKey: c.tool.ClassPath,
		Verdict:    string(c.quota.Verdict),
		Reason:     c.quota.Reason,
		AgentID:    c.tc.AgentID,
		PersonaID:  c.tc.PersonaString(),
	})
	return &Outcome{Status: status, Err: fmt.Errorf("%w: %s", sentinel, c.quota.Reason)}
}

func (d *Dispatcher) route(ctx context.Context, c *call, opts *security.Options, decision security.Decision) *Outcome {
	if decision.IsAllowed() {
		route := RouteDirect
		if decision.AuditOnly() {
			route = RouteInProcessAudit
		}
		out := d.invokeInProcess(ctx, c)
		out.Route = route
		return out
	}

	if opts == nil {
		opts = security.DefaultOptions()
	}

	if decision.Mode() == security.ModeEnforce && opts.IsolationAllowed(c.tool) {
		out := d.invokeIsolated(ctx, c, opts)
		out.Route = RouteIsolated
		return out
	}

	if opts.EnqueueOnDeny && d.approvals != nil {
		req := d.workRequest(c, opts)
		if err := d.approvals.Enqueue(ctx, req); err != nil {
			if isCancellation(ctx, err) {
				out := cancelled(err)
				out.Route = RouteApproval
				return out
			}
			d.logger.WarnContext(ctx, "approval enqueue failed",
				slog.String("tool_id", c.tool.ID.String()),
				slog.String("error", err.Error()),
			)
			return &Outcome{Status: StatusDenied, Route: RouteRejected,
				Err: fmt.Errorf("%w: %s: %w", ErrSandboxDenied, decision.Reason(), err)}
		}
		return &Outcome{Status: StatusPendingApproval, Route: RouteApproval, ApprovalID: req.ID}
	}

	return &Outcome{Status: StatusDenied, Route: RouteRejected,
		Err: fmt.Errorf("%w: %s", ErrSandboxDenied, decision.Reason())}
}

func (d *Dispatcher) invokeInProcess(ctx context.Context, c *call) *Outcome {
	result, err := invoke(ctx, c.impl, c.tc, c.args, c.planner)
	if err == nil && c.planner != nil {
		result, err = asPlannerResult(result)
	}
	if err != nil {
		return d.failure(ctx, c, err)
	}
	return &Outcome{OK: true, Status: StatusSucceeded, Result: result}
}

func (d *Dispatcher) invokeIsolated(ctx context.Context, c *call, opts *security.Options) *Outcome {
	req := d.workRequest(c, opts)
	res, err := executeWorker(ctx, d.worker, req)
	if err == nil && !res.Success {
		err = errors.New(res.Error)
	}
	if err != nil {
		return d.failure(ctx, c, err)
	}
	if c.planner != nil {
		plan, err := asPlannerResult(res.Payload)
		if err != nil {
			return d.failure(ctx, c, fmt.Errorf("decoding isolated plan: %w", err))
		}
		return &Outcome{OK: true, Status: StatusSucceeded, Result: plan}
	}
	return &Outcome{OK: true, Status: StatusSucceeded, Result: res.Payload}
}

// failure maps an execution fault to cancelled or failed.
func (d *Dispatcher) failure(ctx context.Context, c *call, err error) *Outcome {
	if isCancellation(ctx, err) {
		return cancelled(err)
	}
	d.logger.ErrorContext(ctx, "tool execution failed",
		slog.String("tool_id", c.tool.ID.String()),
		slog.String("class_path", c.tool.ClassPath),
		slog.String("error", Redact(err.Error())),
	)
	return &Outcome{Status: StatusFailed, Err: fmt.Errorf("%w: %w", ErrToolExecutionFailed, err)}
}

func (d *Dispatcher) workRequest(c *call, opts *security.Options) sandbox.WorkRequest {
	args := c.args
	if c.planner != nil {
		encoded, err := c.planner.Encode()
		if err == nil {
			args = encoded
		}
	}
	req := sandbox.NewWorkRequest(c.tool, args, c.tc, opts)
	req.Planner = c.planner != nil
	return req
}

func (d *Dispatcher) persist(ctx context.Context, c *call, out *Outcome) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	entry := &domain.ExecutionLog{
		ID:              uuid.New(),
		ToolID:          c.tool.ID,
		AgentID:         c.tc.AgentID,
		Success:         out.OK,
		Status:          string(out.Status),
		RequestSnapshot: snapshot(c.requested),
		ErrorSnapshot:   errorSnapshot(out.Err),
		CreatedAt:       time.Now().UTC(),
	}
	if out.OK {
		entry.ResponseSnapshot = snapshot(out.Result)
	}
	if err := d.logs.Append(ctx, entry); err != nil {
		d.logger.ErrorContext(ctx, "failed to persist execution log",
			slog.String("tool_id", c.tool.ID.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("persisting execution log: %w", err)
	}
	return nil
}

// ExecuteApproved runs a request released from the approval queue in-process,
// bypassing the policy decision, and logs it.
func (d *Dispatcher) ExecuteApproved(ctx context.Context, req sandbox.WorkRequest) (*Outcome, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, observability.SpanDispatchApproved, trace.WithAttributes(
		attribute.String("tool.id", req.ToolID.String()),
		attribute.String("approval.id", req.ID),
	))
	defer span.End()

	c := &call{toolID: req.ToolID, tc: req.Context, args: maps.Clone(req.Arguments), opts: applyOptions(nil), requested: req.Arguments}
	out := func() *Outcome {
		tool, err := d.catalog.ResolveTool(ctx, req.ToolID)
		if err != nil {
			if isCancellation(ctx, err) {
				return cancelled(err)
			}
			return invalid(fmt.Errorf("%w: %s: %w", ErrToolNotFound, req.ToolID, err))
		}
		c.tool = tool
		impl, err := d.resolver.Resolve(tool.ClassPath)
		if err != nil || !implements(impl, req.Planner) {
			return invalid(fmt.Errorf("%w: %s", ErrImplementationNotResolved, tool.ClassPath))
		}
		c.impl = impl
		if req.Planner {
			params, err := tools.DecodePlannerParameters(req.Arguments)
			if err != nil {
				return invalid(fmt.Errorf("%w: %w", ErrArgumentBindingFailed, err))
			}
			c.planner = &params
			c.args = params.Arguments
		}
		return d.invokeInProcess(ctx, c)
	}()
	out.Route = RouteApproved
	out.Duration = time.Since(start)

	d.logger.InfoContext(ctx, "approved request executed",
		slog.String("approval_id", req.ID),
		slog.String("tool_id", req.ToolID.String()),
		slog.String("status", string(out.Status)),
	)

	var persistErr error
	if c.tool != nil && d.logs != nil {
		persistErr = d.persist(ctx, c, out)
	}
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Error())
	}
	d.metrics.RecordDispatch(string(out.Status), RouteApproved, out.Duration.Seconds())
	return out, persistErr
}

func cancelled(err error) *Outcome {
	return &Outcome{Status: StatusCancelled, Err: fmt.Errorf("%w: %w", ErrOperationCancelled, err)}
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func invalid(err error) *Outcome {
	return &Outcome{Status: StatusInvalid, Err: err}
}

func implements(impl any, planner bool) bool {
	if planner {
		_, ok := impl.(tools.Planner)
		return ok
	}
	_, ok := impl.(tools.Tool)
	return ok
}

// invoke calls the implementation, converting a panic into an error.
func invoke(ctx context.Context, impl any, tc domain.ToolContext, args map[string]any, planner *tools.PlannerParameters) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	if planner != nil {
		return impl.(tools.Planner).Plan(ctx, tc, *planner)
	}
	return impl.(tools.Tool).Invoke(ctx, tc, args)
}

func executeWorker(ctx context.Context, w sandbox.Worker, req sandbox.WorkRequest) (res sandbox.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("isolation worker panicked: %v", r)
		}
	}()
	return w.Execute(ctx, req), nil
}

// asPlannerResult accepts an in-process plan or an isolated worker payload.
func asPlannerResult(v any) (*tools.PlannerResult, error) {
	switch x := v.(type) {
	case *tools.PlannerResult:
		if x == nil {
			return nil, errors.New("planner returned no result")
		}
		return x, nil
	case json.RawMessage:
		var plan tools.PlannerResult
		if err := json.Unmarshal(x, &plan); err != nil {
			return nil, err
		}
		return &plan, nil
	default:
		return nil, fmt.Errorf("unexpected planner result %T", v)
	}
}
