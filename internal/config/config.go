// Package config handles loading and validating Warden configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/warden/internal/security"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Warden.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Default: ~/.warden/data. Override: WARDEN_DATA_DIR.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite in DataDir.
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Alerting      AlertingConfig       `json:"alerting" yaml:"alerting"`
	Approval      ApprovalConfig       `json:"approval" yaml:"approval"`
	Quota         QuotaConfig          `json:"quota" yaml:"quota"`
	Catalog       CatalogConfig        `json:"catalog" yaml:"catalog"`
	Telemetry     TelemetryConfig      `json:"telemetry" yaml:"telemetry"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = metrics and tracing disabled.
	HTTP          HTTPConfig           `json:"http" yaml:"http"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
}

// StorageConfig configures the catalog and execution-log backend.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/warden.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // Default: "wal".
}

type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: WARDEN_STORAGE_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// SandboxConfig is the policy section plus isolation worker settings.
type SandboxConfig struct {
	Mode                    string   `json:"mode" yaml:"mode"` // Disabled, Audit, Enforce. Default: Enforce. Override: WARDEN_SANDBOX_MODE.
	EnqueueOnDeny           bool     `json:"enqueue_on_deny" yaml:"enqueue_on_deny"`
	AllowedUnsafeClassPaths []string `json:"allowed_unsafe_class_paths" yaml:"allowed_unsafe_class_paths"`
	AllowedUnsafeToolIDs    []string `json:"allowed_unsafe_tool_ids" yaml:"allowed_unsafe_tool_ids"`
	IsolatedClassPaths      []string `json:"isolated_class_paths" yaml:"isolated_class_paths"`
	IsolatedToolIDs         []string `json:"isolated_tool_ids" yaml:"isolated_tool_ids"`

	Worker         string              `json:"worker" yaml:"worker"`                 // "noop", "process" (default) or "docker".
	WorkerCommand  []string            `json:"worker_command" yaml:"worker_command"` // Default: <self> sandbox-exec.
	TimeoutSeconds int                 `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxMemoryMB    int                 `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxCPUSeconds  int                 `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`
	NetworkAllowed bool                `json:"network_allowed" yaml:"network_allowed"`
	Docker         DockerSandboxConfig `json:"docker" yaml:"docker"`
}

// DockerSandboxConfig holds container worker settings.
type DockerSandboxConfig struct {
	Image     string  `json:"image" yaml:"image"`
	CPUCores  float64 `json:"cpu_cores" yaml:"cpu_cores"`
	PIDsLimit int     `json:"pids_limit" yaml:"pids_limit"`
}

// Timeout returns the per-request worker timeout. 0 = runner default.
func (s *SandboxConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Options converts the section into a policy snapshot.
func (s *SandboxConfig) Options() (*security.Options, error) {
	mode := security.ModeEnforce
	if s.Mode != "" {
		m, err := security.ParseMode(s.Mode)
		if err != nil {
			return nil, fmt.Errorf("sandbox.mode: %w", err)
		}
		mode = m
	}

	unsafeIDs, err := parseToolIDs("sandbox.allowed_unsafe_tool_ids", s.AllowedUnsafeToolIDs)
	if err != nil {
		return nil, err
	}
	isolatedIDs, err := parseToolIDs("sandbox.isolated_tool_ids", s.IsolatedToolIDs)
	if err != nil {
		return nil, err
	}

	opts := &security.Options{
		Mode:                    mode,
		EnqueueOnDeny:           s.EnqueueOnDeny,
		AllowedUnsafeClassPaths: append([]string(nil), s.AllowedUnsafeClassPaths...),
		AllowedUnsafeToolIDs:    unsafeIDs,
		IsolatedClassPaths:      append([]string(nil), s.IsolatedClassPaths...),
		IsolatedToolIDs:         isolatedIDs,
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	return opts, nil
}

func parseToolIDs(field string, raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %q is not a valid UUID", field, i, s)
		}
		out = append(out, id)
	}
	return out, nil
}

// AlertingConfig is the hot-reloadable denial alert section.
type AlertingConfig struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	WebhookURL           string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"` // Override: WARDEN_ALERT_WEBHOOK_URL.
	AllowPrivateNetworks bool   `json:"allow_private_networks" yaml:"allow_private_networks"`
	TimeoutSeconds       int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 10.
}

// ApprovalConfig bounds the approval queue.
type ApprovalConfig struct {
	MaxPending           int `json:"max_pending" yaml:"max_pending"`                       // 0 = unbounded.
	TTLSeconds           int `json:"ttl_seconds" yaml:"ttl_seconds"`                       // 0 = never expire.
	SweepIntervalSeconds int `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"` // Default: 60.
}

func (a *ApprovalConfig) TTL() time.Duration {
	return time.Duration(a.TTLSeconds) * time.Second
}

func (a *ApprovalConfig) SweepInterval() time.Duration {
	if a.SweepIntervalSeconds > 0 {
		return time.Duration(a.SweepIntervalSeconds) * time.Second
	}
	return time.Minute
}

// QuotaConfig configures planner quotas. Zero values disable the corresponding check.
type QuotaConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int `json:"burst" yaml:"burst"`
	DailyLimit        int `json:"daily_limit" yaml:"daily_limit"`
}

// CatalogConfig configures tool lookup.
type CatalogConfig struct {
	CacheTTLSeconds int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"` // 0 = no cache.
	SeedFile        string `json:"seed_file,omitempty" yaml:"seed_file,omitempty"`
}

func (c *CatalogConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// TelemetryConfig configures the decision event sink.
type TelemetryConfig struct {
	ClickHouseDSN   string `json:"clickhouse_dsn,omitempty" yaml:"clickhouse_dsn,omitempty"` // Empty = log sink. Override: WARDEN_CLICKHOUSE_DSN.
	Table           string `json:"table,omitempty" yaml:"table,omitempty"`                   // Default: sandbox_decisions.
	BatchSize       int    `json:"batch_size" yaml:"batch_size"`                             // Default: 500.
	FlushIntervalMs int    `json:"flush_interval_ms" yaml:"flush_interval_ms"`               // Default: 1000.
}

// ObservabilityConfig configures metrics, tracing and anomaly detection.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OTLP span export. Override: WARDEN_OTLP_ENDPOINT
// enables tracing with that endpoint; WARDEN_ENVIRONMENT sets Environment.
type TracingConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`         // Default: localhost:4317 (grpc), localhost:4318 (http).
	Protocol    string            `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc".
	ServiceName string            `json:"service_name" yaml:"service_name"` // Default: "warden".
	Environment string            `json:"environment,omitempty" yaml:"environment,omitempty"`
	SampleRate  float64           `json:"sample_rate" yaml:"sample_rate"` // Root spans only; 0 = 1.0.
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"` // Extra resource attributes.
}

// AnomalyConfig configures denial spike detection.
type AnomalyConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	DenialThreshold int  `json:"denial_threshold" yaml:"denial_threshold"` // Denials per tool per window. Default: 20.
	WindowSeconds   int  `json:"window_seconds" yaml:"window_seconds"`     // Default: 300.
}

// HTTPConfig configures the admin API.
type HTTPConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	Shell    ShellToolConfig    `json:"shell" yaml:"shell"`
	Database DatabaseToolConfig `json:"database" yaml:"database"`
	Web      WebToolConfig      `json:"web" yaml:"web"`
	MCP      []MCPServerConfig  `json:"mcp,omitempty" yaml:"mcp,omitempty"`
}

type ShellToolConfig struct {
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"` // Empty = any.
	TimeoutSeconds  int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type DatabaseToolConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"` // Override: WARDEN_TOOL_DB_DSN.
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type WebToolConfig struct {
	AllowedDomains   []string `json:"allowed_domains" yaml:"allowed_domains"`
	MaxResponseBytes int64    `json:"max_response_bytes" yaml:"max_response_bytes"`
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// MCPServerConfig defines one MCP server whose tools are exposed as
// "mcp:<name>/<tool>" class-paths.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"` // "stdio", "sse" or "streamable_http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Load reads the configuration file at path. An empty path yields the
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		resolved, err := resolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", path, err)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", resolved, err)
		}
		if err := decode(resolved, data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("WARDEN_SANDBOX_MODE"); v != "" {
		c.Sandbox.Mode = v
	}
	if v := os.Getenv("WARDEN_ALERT_WEBHOOK_URL"); v != "" {
		c.Alerting.WebhookURL = v
	}
	if v := os.Getenv("WARDEN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("WARDEN_STORAGE_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Driver = "postgres"
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("WARDEN_CLICKHOUSE_DSN"); v != "" {
		c.Telemetry.ClickHouseDSN = v
	}
	if v := os.Getenv("WARDEN_TOOL_DB_DSN"); v != "" {
		c.Tools.Database.DSN = v
	}
	if v := os.Getenv("WARDEN_OTLP_ENDPOINT"); v != "" {
		c.tracing().Enabled = true
		c.tracing().Endpoint = v
	}
	if v := os.Getenv("WARDEN_ENVIRONMENT"); v != "" {
		c.tracing().Environment = v
	}
}

// tracing returns the tracing section, creating it if absent.
func (c *Config) tracing() *TracingConfig {
	if c.Observability == nil {
		c.Observability = &ObservabilityConfig{}
	}
	if c.Observability.Tracing == nil {
		c.Observability.Tracing = &TracingConfig{}
	}
	return c.Observability.Tracing
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".warden", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite file path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		if p, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return p
		}
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "warden.db")
}

func (c *Config) StorageDriverName() string {
	return c.Storage.StorageDriver()
}

func (c *Config) validate() error {
	if _, err := c.Sandbox.Options(); err != nil {
		return err
	}
	switch c.Sandbox.Worker {
	case "":
		c.Sandbox.Worker = "process"
	case "noop", "process", "docker":
	default:
		return fmt.Errorf("sandbox.worker %q is not supported (use noop, process or docker)", c.Sandbox.Worker)
	}
	if c.Sandbox.TimeoutSeconds < 0 {
		return fmt.Errorf("sandbox.timeout_seconds must not be negative")
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.MaxCPUSeconds < 0 {
		return fmt.Errorf("sandbox.max_cpu_seconds must not be negative")
	}

	if c.Alerting.TimeoutSeconds < 0 {
		return fmt.Errorf("alerting.timeout_seconds must not be negative")
	}
	if c.Approval.MaxPending < 0 || c.Approval.TTLSeconds < 0 || c.Approval.SweepIntervalSeconds < 0 {
		return fmt.Errorf("approval limits must not be negative")
	}
	if c.Quota.RequestsPerMinute < 0 || c.Quota.Burst < 0 || c.Quota.DailyLimit < 0 {
		return fmt.Errorf("quota limits must not be negative")
	}
	if c.Catalog.CacheTTLSeconds < 0 {
		return fmt.Errorf("catalog.cache_ttl_seconds must not be negative")
	}

	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (or set WARDEN_STORAGE_DSN)")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}

	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}

	if c.Observability != nil && c.Observability.Tracing != nil {
		tr := c.Observability.Tracing
		switch tr.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol must be grpc or http, got %q", tr.Protocol)
		}
		if tr.SampleRate < 0 || tr.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1, got %v", tr.SampleRate)
		}
	}

	mcpNames := make(map[string]bool, len(c.Tools.MCP))
	for i, srv := range c.Tools.MCP {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("tools.mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("tools.mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
	}
	return nil
}
