package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/warden/internal/domain"
)

// ExecutionLogRepository implements dispatch.ExecutionLogStore.
// Append-only: no Update or Delete methods exist on this type.
type ExecutionLogRepository struct {
	db *gorm.DB
}

func NewExecutionLogRepository(db *gorm.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

// Append inserts one execution log row.
func (r *ExecutionLogRepository) Append(ctx context.Context, log *domain.ExecutionLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	m := toExecutionLogModel(log)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("appending execution log: %w", err)
	}
	return nil
}

// ListByTool returns logs for a tool, newest first. Limit defaults to 100.
func (r *ExecutionLogRepository) ListByTool(ctx context.Context, toolID uuid.UUID, limit int) ([]domain.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ExecutionLogModel
	err := r.db.WithContext(ctx).
		Where("tool_id = ?", toolID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing execution logs: %w", err)
	}
	logs := make([]domain.ExecutionLog, len(models))
	for i := range models {
		logs[i] = toExecutionLogDomain(&models[i])
	}
	return logs, nil
}
