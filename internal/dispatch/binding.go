package dispatch

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/jkaninda/warden/internal/domain"
)

func init() {
	// Accept every form uuid.Parse understands (braced, URN, unhyphenated).
	gojsonschema.FormatCheckers.Add("uuid", uuidFormatChecker{})
}

type uuidFormatChecker struct{}

func (uuidFormatChecker) IsFormat(input any) bool {
	s, ok := input.(string)
	if !ok {
		return true
	}
	_, err := uuid.Parse(s)
	return err == nil
}

const (
	integerPattern = `^\s*-?[0-9]+\s*$`
	numberPattern  = `^\s*-?[0-9]+(\.[0-9]+)?([eE][-+]?[0-9]+)?\s*$`
	boolPattern    = `^(?i)(true|false)$`
)

// propertySchema returns the JSON Schema fragment for a semantic type.
// Numeric and boolean parameters also accept their string forms.
func propertySchema(semantic string) map[string]any {
	switch strings.ToLower(semantic) {
	case domain.TypeGUID, domain.TypeUUID:
		return map[string]any{"type": "string", "format": "uuid"}
	case domain.TypeInt, "integer", "long":
		return map[string]any{"type": []string{"integer", "string"}, "pattern": integerPattern}
	case domain.TypeNumber, "float", "double", "decimal":
		return map[string]any{"type": []string{"number", "string"}, "pattern": numberPattern}
	case domain.TypeBool, "boolean":
		return map[string]any{"type": []string{"boolean", "string"}, "pattern": boolPattern}
	case domain.TypeDateTime, "date-time", "timestamp":
		return map[string]any{"type": "string", "format": "date-time"}
	case domain.TypeString:
		return map[string]any{"type": "string"}
	default:
		// json, object and unknown tags accept any value.
		return map[string]any{}
	}
}

// SchemaFor builds the argument schema for tool. Unknown keys are allowed.
func SchemaFor(tool *domain.Tool) map[string]any {
	props := make(map[string]any)
	var required []string
	for _, p := range tool.InputParameters() {
		props[p.Name] = propertySchema(p.Type)
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type schemaKey struct {
	id      uuid.UUID
	updated time.Time
}

// Binder validates and coerces caller arguments against a tool's declared
// input parameters. Compiled schemas are cached per tool version.
type Binder struct {
	mu      sync.RWMutex
	schemas map[schemaKey]*gojsonschema.Schema
}

func NewBinder() *Binder {
	return &Binder{schemas: make(map[schemaKey]*gojsonschema.Schema)}
}

// Bind returns a coerced copy of args. The input map is never modified.
func (b *Binder) Bind(tool *domain.Tool, args map[string]any) (map[string]any, error) {
	schema, err := b.schema(tool)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling schema for %s: %w", ErrArgumentBindingFailed, tool.Name, err)
	}

	bound := maps.Clone(args)
	if bound == nil {
		bound = make(map[string]any)
	}

	// Round-trip through JSON so typed Go values (uuid.UUID, time.Time) validate as their wire form.
	res, err := schema.Validate(gojsonschema.NewGoLoader(bound))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArgumentBindingFailed, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrArgumentBindingFailed, strings.Join(msgs, "; "))
	}

	for _, p := range tool.InputParameters() {
		v, ok := bound[p.Name]
		if !ok || v == nil {
			continue
		}
		coerced, err := coerce(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %s: %w", ErrArgumentBindingFailed, p.Name, err)
		}
		bound[p.Name] = coerced
	}
	return bound, nil
}

// Invalidate drops every cached schema.
func (b *Binder) Invalidate() {
	b.mu.Lock()
	clear(b.schemas)
	b.mu.Unlock()
}

func (b *Binder) schema(tool *domain.Tool) (*gojsonschema.Schema, error) {
	key := schemaKey{id: tool.ID, updated: tool.UpdatedAt}

	b.mu.RLock()
	s, ok := b.schemas[key]
	b.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(SchemaFor(tool)))
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.schemas[key] = s
	b.mu.Unlock()
	return s, nil
}

func coerce(semantic string, v any) (any, error) {
	switch strings.ToLower(semantic) {
	case domain.TypeGUID, domain.TypeUUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case string:
			return uuid.Parse(x)
		}
	case domain.TypeInt, "integer", "long":
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case float64:
			return floatToInt(x)
		case json.Number:
			return x.Int64()
		case string:
			return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		}
	case domain.TypeNumber, "float", "double", "decimal":
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case json.Number:
			return x.Float64()
		case string:
			return strconv.ParseFloat(strings.TrimSpace(x), 64)
		}
	case domain.TypeBool, "boolean":
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(strings.ToLower(x))
		}
	case domain.TypeDateTime, "date-time", "timestamp":
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return time.Parse(time.RFC3339Nano, x)
		}
	case domain.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, semantic)
}

// Context argument keys injected by the dispatcher.
const (
	ArgAgentID        = "agentId"
	ArgConversationID = "conversationId"
	ArgPersonaID      = "personaId"
)

// injectContext adds the caller's identifiers to args without overwriting
// caller-supplied keys. args is modified in place; pass a copy.
func injectContext(args map[string]any, tc domain.ToolContext) map[string]any {
	if args == nil {
		args = make(map[string]any, 3)
	}
	setIfAbsent := func(k string, v any) {
		if _, exists := args[k]; !exists {
			args[k] = v
		}
	}
	setIfAbsent(ArgAgentID, tc.AgentID)
	setIfAbsent(ArgConversationID, tc.ConversationID)
	if tc.PersonaID != nil {
		setIfAbsent(ArgPersonaID, *tc.PersonaID)
	}
	return args
}

// floatToInt accepts only integral values that fit in an int64.
// float64(math.MaxInt64) rounds up to 2^63, hence the strict upper bound.
func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%v is out of range for int64", f)
	}
	return int64(f), nil
}
