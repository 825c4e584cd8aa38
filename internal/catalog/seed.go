package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/warden/internal/domain"
)

//go:embed seed.schema.json
var seedSchema []byte

// ErrInvalidSeed is returned when a seed file does not match the seed schema.
var ErrInvalidSeed = errors.New("invalid catalog seed")

type seedFile struct {
	Tools []seedTool `json:"tools"`
}

type seedTool struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ClassPath  string          `json:"class_path"`
	Active     *bool           `json:"active"`
	Parameters []seedParameter `json:"parameters"`
}

type seedParameter struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Direction string `json:"direction"`
	Optional  bool   `json:"optional"`
}

// LoadSeed reads and validates a YAML or JSON seed file.
func LoadSeed(path string) ([]domain.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data, filepath.Ext(path))
}

// ParseSeed validates data against the embedded seed schema and converts it to tools.
// ext selects the decoder: ".json" for JSON, anything else for YAML.
func ParseSeed(data []byte, ext string) ([]domain.Tool, error) {
	var raw any
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
		}
	}

	// Round-trip through JSON so the validator sees JSON-native values.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(normalized))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}

	schema, err := compileSeedSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}

	var seed seedFile
	if err := json.Unmarshal(normalized, &seed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}

	now := time.Now().UTC()
	tools := make([]domain.Tool, 0, len(seed.Tools))
	seen := make(map[uuid.UUID]bool, len(seed.Tools))
	for _, st := range seed.Tools {
		id, err := uuid.Parse(st.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: tool %q: %w", ErrInvalidSeed, st.Name, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate tool id %s", ErrInvalidSeed, id)
		}
		seen[id] = true

		tool := domain.Tool{
			ID:        id,
			Name:      st.Name,
			ClassPath: st.ClassPath,
			IsActive:  st.Active == nil || *st.Active,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, p := range st.Parameters {
			dir := domain.ParameterDirection(p.Direction)
			if dir == "" {
				dir = domain.DirectionInput
			}
			tool.Parameters = append(tool.Parameters, domain.ToolParameter{
				Name:      p.Name,
				Type:      p.Type,
				Direction: dir,
				Optional:  p.Optional,
			})
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// Import saves every tool to store, replacing existing definitions with the same id.
func Import(ctx context.Context, store Store, tools []domain.Tool) (int, error) {
	for i := range tools {
		if err := store.SaveTool(ctx, &tools[i]); err != nil {
			return i, fmt.Errorf("saving tool %s: %w", tools[i].ID, err)
		}
	}
	return len(tools), nil
}

func compileSeedSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(seedSchema))
	if err != nil {
		return nil, fmt.Errorf("loading seed schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("seed.schema.json", doc); err != nil {
		return nil, fmt.Errorf("loading seed schema: %w", err)
	}
	schema, err := c.Compile("seed.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling seed schema: %w", err)
	}
	return schema, nil
}
