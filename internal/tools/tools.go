// Package tools defines the runtime contracts for tool implementations and
// the registry that resolves a tool's class-path to its implementation.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/sandbox"
)

var (
	// ErrNotRegistered is returned when no factory serves a class-path.
	ErrNotRegistered = errors.New("implementation not registered")
	// ErrInvalidArgument marks caller mistakes detected by an implementation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Tool is a runtime implementation invoked with bound arguments.
type Tool interface {
	Invoke(ctx context.Context, tc domain.ToolContext, args map[string]any) (any, error)
}

// Planner is a tool with planning capability. Planner dispatches pass the quota gate.
type Planner interface {
	Plan(ctx context.Context, tc domain.ToolContext, params PlannerParameters) (*PlannerResult, error)
}

// PlannerParameters are the inputs of a planning request.
type PlannerParameters struct {
	Goal      string         `json:"goal"`
	Arguments map[string]any `json:"arguments,omitempty"`
	StartAt   time.Time      `json:"startAt,omitzero"`
	MaxSteps  int            `json:"maxSteps,omitempty"`
}

// PlanStep is one dated action of a plan.
type PlanStep struct {
	Index     int            `json:"index"`
	At        time.Time      `json:"at"`
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// PlannerResult is the plan returned by a Planner.
type PlannerResult struct {
	Summary string     `json:"summary"`
	Steps   []PlanStep `json:"steps"`
}

// Encode flattens the parameters into a work request argument map.
func (p PlannerParameters) Encode() (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodePlannerParameters reverses PlannerParameters.Encode.
func DecodePlannerParameters(args map[string]any) (PlannerParameters, error) {
	var p PlannerParameters
	data, err := json.Marshal(args)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: planner parameters: %w", ErrInvalidArgument, err)
	}
	return p, nil
}

// MaxOutputBytes caps textual tool output.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// Factory builds a fresh implementation for one dispatch.
// The value must implement Tool, Planner or both.
type Factory func() (any, error)

// PrefixFactory builds implementations for every class-path under a prefix.
type PrefixFactory func(classPath string) (any, error)

// Registry maps class-paths to factories. Registration happens at startup;
// lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Factory
	prefixes map[string]PrefixFactory
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]Factory),
		prefixes: make(map[string]PrefixFactory),
	}
}

// Register adds a factory. Panics on duplicate class-paths (startup config error, not runtime).
func (r *Registry) Register(classPath string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.exact[classPath]; exists {
		panic("duplicate tool registration: " + classPath)
	}
	r.exact[classPath] = f
}

// RegisterInstance registers a shared, stateless implementation.
func (r *Registry) RegisterInstance(classPath string, impl any) {
	r.Register(classPath, func() (any, error) { return impl, nil })
}

// RegisterPrefix routes every class-path starting with prefix to f.
func (r *Registry) RegisterPrefix(prefix string, f PrefixFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.prefixes[prefix]; exists {
		panic("duplicate tool prefix registration: " + prefix)
	}
	r.prefixes[prefix] = f
}

// Resolve builds the implementation for classPath. Exact registrations win
// over prefixes; among prefixes the longest match wins.
func (r *Registry) Resolve(classPath string) (any, error) {
	r.mu.RLock()
	f, ok := r.exact[classPath]
	var pf PrefixFactory
	best := ""
	if !ok {
		for prefix, candidate := range r.prefixes {
			if strings.HasPrefix(classPath, prefix) && len(prefix) > len(best) {
				best, pf = prefix, candidate
			}
		}
	}
	r.mu.RUnlock()

	var (
		impl any
		err  error
	)
	switch {
	case ok:
		impl, err = f()
	case pf != nil:
		impl, err = pf(classPath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, classPath)
	}
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", classPath, err)
	}
	if impl == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, classPath)
	}
	return impl, nil
}

// ClassPaths returns the exact registrations, sorted.
func (r *Registry) ClassPaths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exact))
	for cp := range r.exact {
		out = append(out, cp)
	}
	slices.Sort(out)
	return out
}

// InvokeWork runs a work request against the registry. It is the child-side
// invoke function of the isolation worker and the executor for approved requests.
func (r *Registry) InvokeWork(ctx context.Context, req sandbox.WorkRequest) (any, error) {
	impl, err := r.Resolve(req.ClassPath)
	if err != nil {
		return nil, err
	}
	if req.Planner {
		p, ok := impl.(Planner)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a planner", ErrNotRegistered, req.ClassPath)
		}
		params, err := DecodePlannerParameters(req.Arguments)
		if err != nil {
			return nil, err
		}
		return p.Plan(ctx, req.Context, params)
	}
	t, ok := impl.(Tool)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not invocable", ErrNotRegistered, req.ClassPath)
	}
	return t.Invoke(ctx, req.Context, req.Arguments)
}

// StringArg extracts a required non-empty string argument.
func StringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing required parameter: %s", ErrInvalidArgument, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %s must be a string, got %T", ErrInvalidArgument, key, v)
	}
	if s == "" {
		return "", fmt.Errorf("%w: parameter %s must not be empty", ErrInvalidArgument, key)
	}
	return s, nil
}

// IntArg extracts an optional integer argument bound as int64 or decoded as float64.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
