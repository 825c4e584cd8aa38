package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/security"
)

// ExecCommand is the subcommand the warden binary serves work requests on.
const ExecCommand = "sandbox-exec"

const maxStderrInResult = 2048

// WorkRequest is a deferred or isolated unit of work. It is a value object:
// queued or handed to a worker, never mutated in place.
type WorkRequest struct {
	ID        string             `json:"id"`
	ToolID    uuid.UUID          `json:"toolId"`
	ClassPath string             `json:"classPath"`
	Arguments map[string]any     `json:"arguments"`
	Context   domain.ToolContext `json:"context"`
	Options   *security.Options  `json:"options,omitempty"`
	Planner   bool               `json:"planner,omitempty"` // Arguments hold encoded planner parameters.
	CreatedAt time.Time          `json:"createdAt"`
}

// NewWorkRequest builds a request with a fresh ULID. The argument map is copied.
func NewWorkRequest(tool *domain.Tool, args map[string]any, tc domain.ToolContext, opts *security.Options) WorkRequest {
	return WorkRequest{
		ID:        ulid.Make().String(),
		ToolID:    tool.ID,
		ClassPath: tool.ClassPath,
		Arguments: maps.Clone(args),
		Context:   tc,
		Options:   opts,
		CreatedAt: time.Now().UTC(),
	}
}

// Result is the outcome of isolated execution. Payload is meaningful only on
// success, Error only on failure.
type Result struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Failure builds an unsuccessful result.
func Failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Worker executes work outside the host process. Implementations never
// return errors: every fault becomes an unsuccessful Result.
type Worker interface {
	Execute(ctx context.Context, req WorkRequest) Result
}

// NoopWorker is the fail-closed worker for deployments without an isolation backend.
type NoopWorker struct{}

func (NoopWorker) Execute(context.Context, WorkRequest) Result {
	return Result{Error: "isolation worker not implemented"}
}

// ProcessWorkerConfig configures a ProcessWorker.
type ProcessWorkerConfig struct {
	// Command is the child that serves one request on stdin.
	// Empty = "<current executable> sandbox-exec".
	Command []string
	Env     map[string]string
	Timeout time.Duration
	Limits  ResourceLimits
}

// ProcessWorker serializes the request, hands it to a child command through
// a Runner, and parses the child's stdout as a Result.
type ProcessWorker struct {
	runner  Runner
	command []string
	env     map[string]string
	timeout time.Duration
	limits  ResourceLimits
	logger  *slog.Logger
}

// NewProcessWorker creates a worker on top of the given runner.
func NewProcessWorker(runner Runner, cfg ProcessWorkerConfig, logger *slog.Logger) (*ProcessWorker, error) {
	command := cfg.Command
	if len(command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving worker executable: %w", err)
		}
		command = []string{exe, ExecCommand}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ProcessWorker{
		runner:  runner,
		command: command,
		env:     cfg.Env,
		timeout: cfg.Timeout,
		limits:  cfg.Limits,
		logger:  logger,
	}, nil
}

// NewContainerWorker creates a ProcessWorker whose child runs inside an
// ephemeral container. The image must ship the warden binary on PATH.
func NewContainerWorker(runner *DockerRunner, cfg ProcessWorkerConfig, logger *slog.Logger) (*ProcessWorker, error) {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"warden", ExecCommand}
	}
	return NewProcessWorker(runner, cfg, logger)
}

// Execute runs the request in a child process and waits for its result.
// Cancelling ctx kills the child and all of its descendants.
func (w *ProcessWorker) Execute(ctx context.Context, req WorkRequest) Result {
	input, err := json.Marshal(req)
	if err != nil {
		return Failure("encoding work request: %v", err)
	}

	res, err := w.runner.Execute(ctx, ExecutionRequest{
		Command: w.command,
		Env:     w.env,
		Stdin:   input,
		Timeout: w.timeout,
		Limits:  w.limits,
	})
	if err != nil {
		w.logger.WarnContext(ctx, "isolation worker failed",
			slog.String("request_id", req.ID),
			slog.String("class_path", req.ClassPath),
			slog.String("error", err.Error()),
		)
		return Failure("worker execution failed: %v", err)
	}

	if res.ExitCode != 0 {
		stderr := strings.TrimSpace(res.Stderr)
		if len(stderr) > maxStderrInResult {
			stderr = stderr[:maxStderrInResult]
		}
		w.logger.WarnContext(ctx, "isolation worker exited with error",
			slog.String("request_id", req.ID),
			slog.Int("exit_code", res.ExitCode),
		)
		return Failure("worker exited with code %d: %s", res.ExitCode, stderr)
	}

	var out Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &out); err != nil {
		return Failure("malformed worker output: %v", err)
	}
	if out.Success {
		out.Error = ""
	} else {
		out.Payload = nil
		if out.Error == "" {
			out.Error = "worker reported failure"
		}
	}

	w.logger.DebugContext(ctx, "isolation worker completed",
		slog.String("request_id", req.ID),
		slog.Bool("success", out.Success),
		slog.Duration("duration", res.Duration),
	)
	return out
}
