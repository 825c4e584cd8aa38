package security

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/domain"
)

// Options is an immutable sandbox configuration snapshot.
// Never mutate an Options after it has been published to a Source.
type Options struct {
	Mode          Mode `json:"mode"`
	EnqueueOnDeny bool `json:"enqueueOnDeny"`

	// Tools permitted to run in-process even in Enforce mode.
	AllowedUnsafeClassPaths []string    `json:"allowedUnsafeClassPaths"`
	AllowedUnsafeToolIDs    []uuid.UUID `json:"allowedUnsafeToolIds"`

	// Tools that Enforce mode routes to the isolation worker instead of denying.
	IsolatedClassPaths []string    `json:"isolatedClassPaths"`
	IsolatedToolIDs    []uuid.UUID `json:"isolatedToolIds"`
}

// DefaultOptions is the fail-closed snapshot used before any configuration is loaded.
func DefaultOptions() *Options {
	return &Options{Mode: ModeEnforce}
}

// Validate checks that every class-path pattern is well-formed.
func (o *Options) Validate() error {
	for _, p := range append(slices.Clone(o.AllowedUnsafeClassPaths), o.IsolatedClassPaths...) {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty class-path entry")
		}
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid class-path pattern %q", p)
		}
	}
	return nil
}

// UnsafeAllowed reports whether the tool is on the unsafe-execution allow-list,
// by class-path or by identifier.
func (o *Options) UnsafeAllowed(t *domain.Tool) bool {
	return matchClassPath(t.ClassPath, o.AllowedUnsafeClassPaths) || slices.Contains(o.AllowedUnsafeToolIDs, t.ID)
}

// IsolationAllowed reports whether Enforce mode may route the tool to the isolation worker.
func (o *Options) IsolationAllowed(t *domain.Tool) bool {
	return matchClassPath(t.ClassPath, o.IsolatedClassPaths) || slices.Contains(o.IsolatedToolIDs, t.ID)
}

// matchClassPath compares exactly first; entries containing glob
// metacharacters are also tried as doublestar patterns with "." as separator.
func matchClassPath(classPath string, entries []string) bool {
	if classPath == "" {
		return false
	}
	for _, e := range entries {
		if e == classPath {
			return true
		}
		if strings.ContainsAny(e, "*?[{") {
			pattern := strings.ReplaceAll(e, ".", "/")
			if ok, _ := doublestar.Match(pattern, strings.ReplaceAll(classPath, ".", "/")); ok {
				return true
			}
		}
	}
	return false
}

// OptionsSource publishes Options snapshots. Load is lock-free; Store swaps the
// whole snapshot so readers never observe a partial update.
type OptionsSource struct {
	current atomic.Pointer[Options]
}

// NewOptionsSource creates a source holding the given snapshot, or DefaultOptions when nil.
func NewOptionsSource(initial *Options) *OptionsSource {
	s := &OptionsSource{}
	if initial == nil {
		initial = DefaultOptions()
	}
	s.current.Store(initial)
	return s
}

// Load returns the current snapshot.
func (s *OptionsSource) Load() *Options {
	return s.current.Load()
}

// Store publishes a new snapshot. A nil snapshot is ignored.
func (s *OptionsSource) Store(o *Options) {
	if o == nil {
		return
	}
	s.current.Store(o)
}
