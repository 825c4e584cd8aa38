// Package storage defines the unified Store interface for tool definitions
// and execution logs. Two backends are provided: SQLite (default, zero-config)
// and PostgreSQL (production).
package storage

import (
	"context"

	"github.com/jkaninda/warden/internal/catalog"
	"github.com/jkaninda/warden/internal/dispatch"
)

// Store is the unified persistence interface for Warden.
// Both SQLite and PostgreSQL backends implement it.
type Store interface {
	Tools() catalog.Store
	ExecutionLogs() dispatch.ExecutionLogStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
