package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/warden/internal/catalog"
	"github.com/jkaninda/warden/internal/domain"
)

// ToolRepository implements catalog.Store.
type ToolRepository struct {
	db *gorm.DB
}

func NewToolRepository(db *gorm.DB) *ToolRepository {
	return &ToolRepository{db: db}
}

func (r *ToolRepository) GetTool(ctx context.Context, id uuid.UUID) (*domain.Tool, error) {
	var m ToolModel
	err := r.db.WithContext(ctx).
		Preload("Parameters", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting tool: %w", err)
	}
	return toToolDomain(&m), nil
}

// ListTools returns every tool ordered by name, inactive ones included.
func (r *ToolRepository) ListTools(ctx context.Context) ([]domain.Tool, error) {
	var models []ToolModel
	err := r.db.WithContext(ctx).
		Preload("Parameters", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("name ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	tools := make([]domain.Tool, len(models))
	for i := range models {
		tools[i] = *toToolDomain(&models[i])
	}
	return tools, nil
}

// SaveTool inserts or replaces a tool and its parameter list in one transaction.
func (r *ToolRepository) SaveTool(ctx context.Context, tool *domain.Tool) error {
	if tool.ID == uuid.Nil {
		tool.ID = uuid.New()
	}
	now := time.Now().UTC()
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}
	tool.UpdatedAt = now
	m := toToolModel(tool)
	params := m.Parameters
	m.Parameters = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&m).Error; err != nil {
			return fmt.Errorf("saving tool: %w", err)
		}
		if err := tx.Where("tool_id = ?", m.ID).Delete(&ToolParameterModel{}).Error; err != nil {
			return fmt.Errorf("clearing tool parameters: %w", err)
		}
		if len(params) == 0 {
			return nil
		}
		if err := tx.Create(&params).Error; err != nil {
			return fmt.Errorf("saving tool parameters: %w", err)
		}
		return nil
	})
}
