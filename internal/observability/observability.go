// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// health checks, denial anomaly detection and the decision telemetry sink for Warden.
// All components are optional and nil-safe.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/warden/internal/config"
)

// Observability is the top-level facade holding all observability components.
// Any field may be nil when that feature is disabled, except Health and Hub.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker
	Hub     *Hub
}

// New creates an Observability instance from config. A nil config yields
// health checks and the live event hub only. build labels exported spans.
func New(cfg *config.ObservabilityConfig, build BuildInfo, logger *slog.Logger) (*Observability, error) {
	obs := &Observability{
		Health: NewHealthChecker(logger),
		Hub:    NewHub(),
	}
	if cfg == nil {
		return obs, nil
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}

	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing, build)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}

	if cfg.Anomaly != nil && cfg.Anomaly.Enabled {
		obs.Anomaly = NewAnomalyDetector(cfg.Anomaly, logger)
	}

	return obs, nil
}

// Telemetry builds the decision sink wired to every enabled component.
func (o *Observability) Telemetry(logger *slog.Logger, writer EventWriter) *Telemetry {
	opts := []TelemetryOption{WithEventWriter(writer)}
	if o != nil {
		opts = append(opts, WithMetrics(o.Metrics), WithAnomalyDetector(o.Anomaly), WithHub(o.Hub))
	}
	return NewTelemetry(logger, opts...)
}

// Shutdown releases observability resources.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if o.Tracer != nil {
		_ = o.Tracer.Shutdown(ctx)
	}
}
