// Package clickhouse persists sandbox decision events to ClickHouse for
// forensic analysis. Writes are buffered and batch-inserted off the dispatch path.
package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/jkaninda/warden/internal/observability"
)

const (
	bufferSize           = 10_000
	defaultFlushInterval = 100 * time.Millisecond
	defaultFlushBatch    = 1000
	defaultTable         = "warden_decision_events"
	drainTimeout         = 2 * time.Second
	insertTimeout        = 5 * time.Second
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config configures the writer. Zero values select defaults.
type Config struct {
	DSN           string
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	// Secure forces TLS even when the DSN does not ask for it.
	Secure bool
}

// Writer implements observability.EventWriter on ClickHouse.
// Write is non-blocking and drops the event when the buffer is full.
type Writer struct {
	conn      driver.Conn
	table     string
	batchSize int
	interval  time.Duration
	buffer    chan observability.Event
	done      chan struct{}
	flushed   chan struct{}
	insert    func([]observability.Event)
	logger    *slog.Logger
}

// NewWriter connects, creates the events table if needed and starts the flush loop.
func NewWriter(ctx context.Context, cfg Config, logger *slog.Logger) (*Writer, error) {
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}

	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing clickhouse dsn: %w", err)
	}
	if opts.TLS == nil && cfg.Secure {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableSQL(table)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating %s: %w", table, err)
	}

	w := newWriter(cfg, table, logger)
	w.conn = conn
	w.insert = w.send
	go w.flushLoop()

	w.logger.Info("clickhouse decision writer started", slog.String("table", table))
	return w, nil
}

func newWriter(cfg Config, table string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultFlushBatch
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Writer{
		table:     table,
		batchSize: batchSize,
		interval:  interval,
		buffer:    make(chan observability.Event, bufferSize),
		done:      make(chan struct{}),
		flushed:   make(chan struct{}),
		logger:    logger,
	}
}

// Write queues an event for async insertion.
func (w *Writer) Write(e observability.Event) {
	select {
	case w.buffer <- e:
	default:
		w.logger.Warn("clickhouse buffer full, dropping decision event",
			slog.String("tool_id", e.ToolID.String()),
			slog.String("outcome", e.Outcome),
		)
	}
}

// Close drains buffered events and releases the connection.
func (w *Writer) Close() {
	close(w.done)
	<-w.flushed
	if w.conn != nil {
		if err := w.conn.Close(); err != nil {
			w.logger.Warn("closing clickhouse connection", slog.String("error", err.Error()))
		}
	}
}

// Ping reports connectivity for readiness checks.
func (w *Writer) Ping(ctx context.Context) error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Ping(ctx)
}

func (w *Writer) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]observability.Event, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.insert(batch)
		batch = make([]observability.Event, 0, w.batchSize)
	}

	for {
		select {
		case e := <-w.buffer:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			deadline := time.After(drainTimeout)
		drain:
			for {
				select {
				case e := <-w.buffer:
					batch = append(batch, e)
					if len(batch) >= w.batchSize {
						flush()
					}
				case <-deadline:
					break drain
				default:
					break drain
				}
			}
			flush()
			return
		}
	}
}

func (w *Writer) send(events []observability.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table+" ("+insertColumns+")")
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range events {
		if err := batch.Append(eventRow(e)...); err != nil {
			w.logger.Error("clickhouse append event failed",
				slog.String("tool_id", e.ToolID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			slog.Int("batch_size", len(events)),
			slog.String("error", err.Error()),
		)
	}
}

const insertColumns = "timestamp, tool_id, class_path, mode, outcome, audit_only, reason, agent_id, conversation_id, persona_id, route"

// eventRow returns column values in insertColumns order.
func eventRow(e observability.Event) []any {
	var auditOnly uint8
	if e.AuditOnly {
		auditOnly = 1
	}
	return []any{
		e.Time,
		e.ToolID.String(),
		e.ClassPath,
		e.Mode,
		e.Outcome,
		auditOnly,
		e.Reason,
		e.AgentID.String(),
		e.ConversationID.String(),
		e.PersonaID,
		e.Route,
	}
}

func createTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
	timestamp DateTime64(3, 'UTC'),
	tool_id String,
	class_path LowCardinality(String),
	mode LowCardinality(String),
	outcome LowCardinality(String),
	audit_only UInt8,
	reason String,
	agent_id String,
	conversation_id String,
	persona_id String,
	route LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (class_path, timestamp)`
}

// LogWriter is a fallback EventWriter for deployments without ClickHouse.
type LogWriter struct {
	logger *slog.Logger
}

func NewLogWriter(logger *slog.Logger) *LogWriter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(e observability.Event) {
	w.logger.Info("decision event",
		slog.Time("time", e.Time),
		slog.String("tool_id", e.ToolID.String()),
		slog.String("class_path", e.ClassPath),
		slog.String("outcome", e.Outcome),
		slog.Bool("audit_only", e.AuditOnly),
		slog.String("route", e.Route),
	)
}

func (w *LogWriter) Close() {}

var (
	_ observability.EventWriter = (*Writer)(nil)
	_ observability.EventWriter = (*LogWriter)(nil)
)
