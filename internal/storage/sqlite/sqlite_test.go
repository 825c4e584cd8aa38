package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/catalog"
	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "warden.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStore_DriverAndPing(t *testing.T) {
	s := testStore(t)
	if s.Driver() != storage.DriverSQLite {
		t.Errorf("Driver = %q, want sqlite", s.Driver())
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	// Migrate is idempotent.
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}

func TestToolRepository_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tool := &domain.Tool{
		ID:        uuid.New(),
		Name:      "lookup",
		ClassPath: "warden.tools.database.Query",
		IsActive:  true,
		Parameters: []domain.ToolParameter{
			{Name: "providerId", Type: domain.TypeGUID, Direction: domain.DirectionInput},
			{Name: "limit", Type: domain.TypeInt, Direction: domain.DirectionInput, Optional: true},
			{Name: "rows", Type: domain.TypeJSON, Direction: domain.DirectionOutput},
		},
	}
	if err := s.Tools().SaveTool(ctx, tool); err != nil {
		t.Fatalf("SaveTool: %v", err)
	}

	got, err := s.Tools().GetTool(ctx, tool.ID)
	if err != nil {
		t.Fatalf("GetTool: %v", err)
	}
	if got.ClassPath != tool.ClassPath || !got.IsActive {
		t.Errorf("got %+v", got)
	}
	if len(got.Parameters) != 3 {
		t.Fatalf("parameters = %d, want 3", len(got.Parameters))
	}
	for i, p := range got.Parameters {
		if p != tool.Parameters[i] {
			t.Errorf("parameter %d = %+v, want %+v", i, p, tool.Parameters[i])
		}
	}

	// Re-saving replaces the parameter list.
	tool.Parameters = tool.Parameters[:1]
	tool.IsActive = false
	if err := s.Tools().SaveTool(ctx, tool); err != nil {
		t.Fatalf("SaveTool update: %v", err)
	}
	got, err = s.Tools().GetTool(ctx, tool.ID)
	if err != nil {
		t.Fatalf("GetTool after update: %v", err)
	}
	if len(got.Parameters) != 1 || got.IsActive {
		t.Errorf("update not applied: %+v", got)
	}

	list, err := s.Tools().ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListTools = %d tools, want 1", len(list))
	}
}

func TestToolRepository_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Tools().GetTool(context.Background(), uuid.New())
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected catalog.ErrNotFound, got %v", err)
	}
}

func TestExecutionLogRepository(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	toolID := uuid.New()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := range 3 {
		entry := &domain.ExecutionLog{
			ToolID:          toolID,
			AgentID:         uuid.New(),
			Success:         i != 1,
			Status:          "succeeded",
			RequestSnapshot: json.RawMessage(`{"n":1}`),
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		if i == 1 {
			entry.Status = "failed"
			entry.ErrorSnapshot = "boom"
		}
		if err := s.ExecutionLogs().Append(ctx, entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if entry.ID == uuid.Nil {
			t.Error("Append should assign an id")
		}
	}
	if err := s.ExecutionLogs().Append(ctx, &domain.ExecutionLog{ToolID: uuid.New(), Status: "denied"}); err != nil {
		t.Fatalf("Append other tool: %v", err)
	}

	logs, err := s.ExecutionLogs().ListByTool(ctx, toolID, 2)
	if err != nil {
		t.Fatalf("ListByTool: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("ListByTool = %d rows, want 2", len(logs))
	}
	if !logs[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("newest first: got %v", logs[0].CreatedAt)
	}
	if logs[1].ErrorSnapshot != "boom" || logs[1].Success {
		t.Errorf("failed row = %+v", logs[1])
	}
	if string(logs[0].RequestSnapshot) != `{"n":1}` {
		t.Errorf("RequestSnapshot = %s", logs[0].RequestSnapshot)
	}
}
