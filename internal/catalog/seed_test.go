package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/warden/internal/domain"
)

const validSeed = `
tools:
  - id: 6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f
    name: run shell
    class_path: warden.tools.shell.Exec
    parameters:
      - name: command
        type: string
      - name: timeout
        type: int
        optional: true
  - id: 7a8b9c0d-1e2f-4a3b-8c4d-5e6f7a8b9c0d
    name: retired
    class_path: warden.tools.web.Fetch
    active: false
`

func TestParseSeed_YAML(t *testing.T) {
	tools, err := ParseSeed([]byte(validSeed), ".yaml")
	require.NoError(t, err)
	require.Len(t, tools, 2)

	shell := tools[0]
	assert.Equal(t, "warden.tools.shell.Exec", shell.ClassPath)
	assert.True(t, shell.IsActive, "tools default to active")
	require.Len(t, shell.Parameters, 2)
	assert.Equal(t, domain.DirectionInput, shell.Parameters[0].Direction)
	assert.True(t, shell.Parameters[1].Optional)

	assert.False(t, tools[1].IsActive)
}

func TestParseSeed_JSON(t *testing.T) {
	data := `{"tools":[{"id":"6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f","name":"q","class_path":"warden.tools.database.Query"}]}`
	tools, err := ParseSeed([]byte(data), ".json")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "q", tools[0].Name)
}

func TestParseSeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing tools", "other: 1"},
		{"bad uuid", "tools:\n  - id: not-a-uuid\n    name: x\n    class_path: a.B\n"},
		{"missing class path", "tools:\n  - id: 6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f\n    name: x\n"},
		{"unknown parameter type", "tools:\n  - id: 6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f\n    name: x\n    class_path: a.B\n    parameters:\n      - name: p\n        type: blob\n"},
		{"unknown field", "tools:\n  - id: 6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f\n    name: x\n    class_path: a.B\n    owner: me\n"},
		{"duplicate id", "tools:\n  - id: 6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f\n    name: x\n    class_path: a.B\n  - id: 6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f\n    name: y\n    class_path: a.C\n"},
		{"not yaml", "tools: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.data), ".yaml")
			assert.ErrorIs(t, err, ErrInvalidSeed)
		})
	}
}

func TestLoadSeedAndImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSeed), 0o600))

	tools, err := LoadSeed(path)
	require.NoError(t, err)

	store := newMemStore()
	n, err := Import(context.Background(), store, tools)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	listed, err := store.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}
