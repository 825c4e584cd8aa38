// Package shell implements the sandboxed shell execution tool.
// All commands run through a sandbox.Runner, never directly on the host.
package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/tools"
)

// ClassPath is the catalog class-path served by this tool.
const ClassPath = "warden.tools.shell.Exec"

// Config restricts the shell tool.
type Config struct {
	AllowedCommands []string // First word of the command. Empty = any command.
	Timeout         time.Duration
}

// Output is the tool's result value.
type Output struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   int    `json:"exitCode"`
	DurationMs int64  `json:"durationMs"`
}

// Tool executes shell commands inside a sandbox.
type Tool struct {
	runner sandbox.Runner
	cfg    Config
	logger *slog.Logger
}

// NewTool creates a shell tool that delegates all execution to runner.
func NewTool(runner sandbox.Runner, cfg Config, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tool{runner: runner, cfg: cfg, logger: logger}
}

// Invoke runs args["command"] through sh -c.
//
// Optional arguments:
//
//	"timeoutSeconds" (int) overrides the configured timeout
//	"workingDir" (string) working directory override
func (t *Tool) Invoke(ctx context.Context, _ domain.ToolContext, args map[string]any) (any, error) {
	command, err := tools.StringArg(args, "command")
	if err != nil {
		return nil, err
	}
	if err := t.checkAllowed(command); err != nil {
		return nil, err
	}

	req := sandbox.ExecutionRequest{
		// The runner wraps this again with ulimit enforcement; the inner sh
		// interprets the caller's pipes and redirects.
		Command: []string{"sh", "-c", command},
		Timeout: t.cfg.Timeout,
	}
	if secs := tools.IntArg(args, "timeoutSeconds", 0); secs > 0 {
		req.Timeout = time.Duration(secs) * time.Second
	}
	if dir, ok := args["workingDir"].(string); ok {
		req.WorkingDir = dir
	}

	t.logger.InfoContext(ctx, "shell tool executing", slog.String("command", command))

	res, err := t.runner.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sandbox execution: %w", err)
	}
	return Output{
		Stdout:     tools.TruncateOutput(res.Stdout, tools.MaxOutputBytes),
		Stderr:     tools.TruncateOutput(res.Stderr, tools.MaxOutputBytes),
		ExitCode:   res.ExitCode,
		DurationMs: res.Duration.Milliseconds(),
	}, nil
}

func (t *Tool) checkAllowed(command string) error {
	if len(t.cfg.AllowedCommands) == 0 {
		return nil
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty command", tools.ErrInvalidArgument)
	}
	if !slices.Contains(t.cfg.AllowedCommands, fields[0]) {
		return fmt.Errorf("%w: command %q is not in the allowlist", tools.ErrInvalidArgument, fields[0])
	}
	return nil
}
