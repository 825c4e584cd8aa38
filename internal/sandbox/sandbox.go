// Package sandbox provides the isolation worker and the runners that contain
// its child processes. Work that the policy refuses to run in-process is
// serialized and executed outside the host process through a Runner.
package sandbox

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyCommand is returned when a runner is asked to execute nothing.
	ErrEmptyCommand = errors.New("empty command")

	// ErrTimeout is returned when the runner's own deadline fires.
	ErrTimeout = errors.New("execution timed out")
)

// Runner executes commands in a contained environment.
type Runner interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	// Command is the program and arguments to execute (e.g. ["ls", "-la"]).
	Command []string

	// WorkingDir overrides the working directory. Empty = use isolated temp dir.
	WorkingDir string

	// Env adds extra variables on top of the runner's minimal environment.
	Env map[string]string

	// Stdin is fed to the process. Nil = no input.
	Stdin []byte

	// Timeout overrides the runner default. Zero = use default.
	Timeout time.Duration

	// Limits overrides resource limits. Zero values = use runner defaults.
	Limits ResourceLimits
}

// ResourceLimits constrains the contained process.
type ResourceLimits struct {
	MaxCPUSeconds int // CPU time limit (ulimit -t).
	MaxMemoryMB   int // Virtual memory limit in MB (ulimit -v).
}

// ExecutionResult captures the outcome of a contained command.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}
