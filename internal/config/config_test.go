package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/warden/internal/security"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	id := uuid.New()
	path := writeFile(t, t.TempDir(), "warden.yaml", `
sandbox:
  mode: audit
  enqueue_on_deny: true
  allowed_unsafe_class_paths: ["warden.tools.web.*"]
  allowed_unsafe_tool_ids: ["`+id.String()+`"]
  isolated_class_paths: ["warden.tools.shell.Exec"]
alerting:
  enabled: true
  webhook_url: https://hooks.example.com/warden
approval:
  max_pending: 10
  ttl_seconds: 600
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	opts, err := cfg.Sandbox.Options()
	require.NoError(t, err)
	assert.Equal(t, security.ModeAudit, opts.Mode)
	assert.True(t, opts.EnqueueOnDeny)
	assert.Equal(t, []uuid.UUID{id}, opts.AllowedUnsafeToolIDs)
	assert.Equal(t, []string{"warden.tools.shell.Exec"}, opts.IsolatedClassPaths)

	assert.True(t, cfg.Alerting.Enabled)
	assert.Equal(t, "process", cfg.Sandbox.Worker)
	assert.Equal(t, ":8080", cfg.HTTP.ListenAddr)
	assert.Equal(t, 10, cfg.Approval.MaxPending)
	assert.Equal(t, "sqlite", cfg.StorageDriverName())
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "warden.json", `{"sandbox":{"mode":"Disabled"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	opts, err := cfg.Sandbox.Options()
	require.NoError(t, err)
	assert.Equal(t, security.ModeDisabled, opts.Mode)
}

func TestLoad_DefaultsToEnforce(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	opts, err := cfg.Sandbox.Options()
	require.NoError(t, err)
	assert.Equal(t, security.ModeEnforce, opts.Mode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_SANDBOX_MODE", "Disabled")
	t.Setenv("WARDEN_ALERT_WEBHOOK_URL", "https://hooks.example.com/env")
	t.Setenv("WARDEN_STORAGE_DSN", "postgres://warden@localhost/warden")
	t.Setenv("WARDEN_CLICKHOUSE_DSN", "clickhouse://localhost:9000/default")

	path := writeFile(t, t.TempDir(), "warden.yaml", "sandbox:\n  mode: enforce\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Disabled", cfg.Sandbox.Mode)
	assert.Equal(t, "https://hooks.example.com/env", cfg.Alerting.WebhookURL)
	assert.Equal(t, "postgres", cfg.StorageDriverName())
	assert.Equal(t, "postgres://warden@localhost/warden", cfg.Storage.Postgres.DSN)
	assert.Equal(t, "clickhouse://localhost:9000/default", cfg.Telemetry.ClickHouseDSN)
}

func TestLoad_TracingEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_OTLP_ENDPOINT", "otel-collector:4317")
	t.Setenv("WARDEN_ENVIRONMENT", "staging")

	path := writeFile(t, t.TempDir(), "warden.yaml", "sandbox:\n  mode: enforce\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Observability)
	require.NotNil(t, cfg.Observability.Tracing)
	assert.True(t, cfg.Observability.Tracing.Enabled)
	assert.Equal(t, "otel-collector:4317", cfg.Observability.Tracing.Endpoint)
	assert.Equal(t, "staging", cfg.Observability.Tracing.Environment)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown mode":      "sandbox:\n  mode: strict\n",
		"bad tool id":       "sandbox:\n  allowed_unsafe_tool_ids: [\"nope\"]\n",
		"bad glob":          "sandbox:\n  isolated_class_paths: [\"warden.[tools\"]\n",
		"unknown worker":    "sandbox:\n  worker: vm\n",
		"negative memory":   "sandbox:\n  max_memory_mb: -1\n",
		"unknown driver":    "storage:\n  driver: mysql\n",
		"postgres no dsn":   "storage:\n  driver: postgres\n",
		"negative quota":    "quota:\n  daily_limit: -5\n",
		"mcp missing url":   "tools:\n  mcp:\n    - name: gh\n      transport: sse\n",
		"mcp bad transport": "tools:\n  mcp:\n    - name: gh\n      transport: ws\n",
		"tracing protocol":  "observability:\n  tracing:\n    protocol: zipkin\n",
		"tracing sampling":  "observability:\n  tracing:\n    sample_rate: 1.5\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "warden.yaml", content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	assert.Equal(t, filepath.Join(cfg.DataDir, "warden.db"), cfg.DatabasePath())

	cfg.Storage = &StorageConfig{SQLite: &SQLiteStorageConfig{Path: "/var/lib/warden/w.db"}}
	assert.Equal(t, "/var/lib/warden/w.db", cfg.DatabasePath())
}
