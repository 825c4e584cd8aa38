// Package httpapi is the admin HTTP API: tool invocation, planning, the
// approval workflow, the sandbox options view and the live decision stream.
//
// The API carries no authentication layer; deploy it behind a trusted
// proxy or on a private listener.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/warden/internal/approval"
	"github.com/jkaninda/warden/internal/catalog"
	"github.com/jkaninda/warden/internal/dispatch"
	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/gateway"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/ratelimit"
	"github.com/jkaninda/warden/internal/security"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	MaxRequestSize int64 // 0 = 1 MB

	MetricsRegistry *prometheus.Registry
	MetricsPath     string // Default: "/metrics".
	HealthChecker   *observability.HealthChecker
	Metrics         *observability.MetricsCollector
	Tracer          trace.Tracer
}

// Gateway serves the admin API.
type Gateway struct {
	config     Config
	dispatcher *dispatch.Dispatcher
	catalog    catalog.Catalog
	approvals  *approval.Queue            // nil = approval endpoints disabled.
	options    *security.OptionsSource    // nil = options endpoint disabled.
	hub        *observability.Hub         // nil = decision stream disabled.
	logs       dispatch.ExecutionLogStore // nil = execution history disabled.
	limiter    *ratelimit.Limiter         // nil = no rate limit.
	services   domain.ServiceLocator
	logger     *slog.Logger

	okapi  *okapi.Okapi
	server *http.Server
	once   sync.Once
}

// NewGateway creates the API. Optional collaborators are attached with the With* methods.
func NewGateway(cfg Config, d *dispatch.Dispatcher, cat catalog.Catalog, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:     cfg,
		dispatcher: d,
		catalog:    cat,
		logger:     logger,
		okapi:      okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

func (g *Gateway) WithApprovals(q *approval.Queue) *Gateway {
	g.approvals = q
	return g
}

func (g *Gateway) WithOptions(src *security.OptionsSource) *Gateway {
	g.options = src
	return g
}

// WithDecisionStream enables GET /v1/decisions/stream.
func (g *Gateway) WithDecisionStream(hub *observability.Hub) *Gateway {
	g.hub = hub
	return g
}

func (g *Gateway) WithExecutionLogs(s dispatch.ExecutionLogStore) *Gateway {
	g.logs = s
	return g
}

func (g *Gateway) WithRateLimiter(l *ratelimit.Limiter) *Gateway {
	g.limiter = l
	return g
}

// WithServices sets the ambient services handed to tools on every invocation.
func (g *Gateway) WithServices(s domain.ServiceLocator) *Gateway {
	g.services = s
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Warden",
			Version: "v0.1.0",
		},
	)
	return g
}

// Handler registers the routes on first use and returns the HTTP handler.
func (g *Gateway) Handler() http.Handler {
	g.once.Do(g.routes)
	return g.okapi
}

func (g *Gateway) routes() {
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return correlationMiddleware(g.logger, next)
	})
	if g.limiter != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(g.limiter, next)
		})
	}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	v1 := g.okapi.Group("/v1")

	v1.Get("/tools", g.handleListTools,
		okapi.DocSummary("List catalog tools"),
		okapi.DocTags("Tools"),
		okapi.DocResponse([]ToolResponse{}),
	)
	v1.Post("/tools/{id}/invoke", g.handleInvoke,
		okapi.DocSummary("Dispatch a tool invocation"),
		okapi.DocTags("Tools"),
		okapi.DocPathParam("id", "string", "Tool ID (UUID)"),
		okapi.DocRequestBody(InvokeRequest{}),
		okapi.DocResponse(DispatchResponse{}),
		okapi.DocResponse(http.StatusAccepted, DispatchResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, DispatchResponse{}),
		okapi.DocResponse(http.StatusNotFound, DispatchResponse{}),
	)
	v1.Post("/tools/{id}/plan", g.handlePlan,
		okapi.DocSummary("Dispatch a planning request"),
		okapi.DocTags("Tools"),
		okapi.DocPathParam("id", "string", "Tool ID (UUID)"),
		okapi.DocRequestBody(PlanRequest{}),
		okapi.DocResponse(DispatchResponse{}),
		okapi.DocResponse(http.StatusTooManyRequests, DispatchResponse{}),
	)
	if g.logs != nil {
		v1.Get("/tools/{id}/executions", g.handleExecutions,
			okapi.DocSummary("List recent execution log rows of a tool"),
			okapi.DocTags("Tools"),
			okapi.DocPathParam("id", "string", "Tool ID (UUID)"),
			okapi.DocResponse([]domain.ExecutionLog{}),
		)
	}

	if g.approvals != nil {
		v1.Get("/approvals", g.handleListApprovals,
			okapi.DocSummary("Snapshot of pending approval requests"),
			okapi.DocTags("Approvals"),
			okapi.DocResponse([]ApprovalResponse{}),
		)
		v1.Post("/approvals/next", g.handleNextApproval,
			okapi.DocSummary("Approve and run the oldest pending request"),
			okapi.DocTags("Approvals"),
			okapi.DocResponse(DispatchResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		v1.Post("/approvals/{id}/approve", g.handleApprove,
			okapi.DocSummary("Approve and run a pending request"),
			okapi.DocTags("Approvals"),
			okapi.DocPathParam("id", "string", "Approval ID (ULID)"),
			okapi.DocResponse(DispatchResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		v1.Delete("/approvals/{id}", g.handleReject,
			okapi.DocSummary("Reject a pending request"),
			okapi.DocTags("Approvals"),
			okapi.DocPathParam("id", "string", "Approval ID (ULID)"),
			okapi.DocResponse(ApprovalResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	if g.options != nil {
		v1.Get("/sandbox/options", g.handleOptions,
			okapi.DocSummary("Active sandbox options snapshot"),
			okapi.DocTags("Sandbox"),
			okapi.DocResponse(security.Options{}),
		)
	}

	if g.hub != nil {
		g.okapi.HandleStd("GET", "/v1/decisions/stream", g.handleDecisionStream)
	}

	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.Handler()
	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api starting", slog.String("addr", g.config.ListenAddr))
	err := g.okapi.StartServer(g.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api stopping")
	return g.okapi.Shutdown(g.server)
}

// HealthResponse is the JSON response for /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

var _ gateway.Gateway = (*Gateway)(nil)
