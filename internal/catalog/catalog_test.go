package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/warden/internal/domain"
)

type memStore struct {
	mu    sync.Mutex
	tools map[uuid.UUID]domain.Tool
	gets  int
}

func newMemStore(tools ...domain.Tool) *memStore {
	s := &memStore{tools: make(map[uuid.UUID]domain.Tool)}
	for _, t := range tools {
		s.tools[t.ID] = t
	}
	return s
}

func (s *memStore) GetTool(_ context.Context, id uuid.UUID) (*domain.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	t, ok := s.tools[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *memStore) ListTools(_ context.Context) ([]domain.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	return out, nil
}

func (s *memStore) SaveTool(_ context.Context, t *domain.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.ID] = *t
	return nil
}

func TestStoreCatalog_ResolveTool(t *testing.T) {
	active := domain.Tool{ID: uuid.New(), Name: "active", ClassPath: "a.B", IsActive: true}
	inactive := domain.Tool{ID: uuid.New(), Name: "inactive", ClassPath: "a.C"}
	c := New(newMemStore(active, inactive))
	ctx := context.Background()

	got, err := c.ResolveTool(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.B", got.ClassPath)

	_, err = c.ResolveTool(ctx, inactive.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrInactive)

	_, err = c.ResolveTool(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCached_HitsAndExpiry(t *testing.T) {
	tool := domain.Tool{ID: uuid.New(), Name: "t", ClassPath: "a.B", IsActive: true}
	store := newMemStore(tool)
	cached := NewCached(New(store), time.Minute)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cached.now = func() time.Time { return now }
	ctx := context.Background()

	for range 3 {
		_, err := cached.ResolveTool(ctx, tool.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.gets, "repeat lookups should be served from cache")

	now = now.Add(2 * time.Minute)
	_, err := cached.ResolveTool(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.gets, "expired entry should be refreshed")

	cached.Invalidate(tool.ID)
	_, err = cached.ResolveTool(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, store.gets)
}

func TestCached_ReturnsCopies(t *testing.T) {
	tool := domain.Tool{ID: uuid.New(), Name: "t", ClassPath: "a.B", IsActive: true}
	cached := NewCached(New(newMemStore(tool)), time.Minute)
	ctx := context.Background()

	first, err := cached.ResolveTool(ctx, tool.ID)
	require.NoError(t, err)
	first.Name = "mutated"

	second, err := cached.ResolveTool(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, "t", second.Name)
}

func TestCached_MissNotCached(t *testing.T) {
	store := newMemStore()
	cached := NewCached(New(store), time.Minute)
	id := uuid.New()

	_, err := cached.ResolveTool(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveTool(context.Background(), &domain.Tool{ID: id, ClassPath: "a.B", IsActive: true}))
	_, err = cached.ResolveTool(context.Background(), id)
	assert.NoError(t, err)
}

func TestCached_ZeroTTLReadsThrough(t *testing.T) {
	tool := domain.Tool{ID: uuid.New(), ClassPath: "a.B", IsActive: true}
	store := newMemStore(tool)
	cached := NewCached(New(store), 0)
	for range 2 {
		_, err := cached.ResolveTool(context.Background(), tool.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.gets)
}
