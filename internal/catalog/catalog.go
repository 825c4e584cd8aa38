// Package catalog resolves tool definitions by id.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/domain"
)

var (
	ErrNotFound = errors.New("tool not found")
	ErrInactive = errors.New("tool is inactive")
)

// Store persists tool definitions.
type Store interface {
	GetTool(ctx context.Context, id uuid.UUID) (*domain.Tool, error)
	ListTools(ctx context.Context) ([]domain.Tool, error)
	SaveTool(ctx context.Context, tool *domain.Tool) error
}

// Catalog is the read side used by the dispatcher and the admin API.
type Catalog interface {
	// ResolveTool returns an active tool, or an error wrapping ErrNotFound.
	ResolveTool(ctx context.Context, id uuid.UUID) (*domain.Tool, error)
	ListTools(ctx context.Context) ([]domain.Tool, error)
}

// StoreCatalog serves the catalog straight from a Store.
type StoreCatalog struct {
	store Store
}

func New(store Store) *StoreCatalog {
	return &StoreCatalog{store: store}
}

func (c *StoreCatalog) ResolveTool(ctx context.Context, id uuid.UUID) (*domain.Tool, error) {
	tool, err := c.store.GetTool(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tool.IsActive {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, ErrInactive)
	}
	return tool, nil
}

func (c *StoreCatalog) ListTools(ctx context.Context) ([]domain.Tool, error) {
	return c.store.ListTools(ctx)
}
