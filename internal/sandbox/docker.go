package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	defaultDockerPIDsLimit = 64
	defaultDockerCPUCores  = 1.0
	defaultDockerImage     = "warden-runtime:latest"

	containerPrefix = "warden-sbx-"
)

// DockerConfig configures the container runner.
type DockerConfig struct {
	Image          string        // Container image holding the warden binary.
	DefaultTimeout time.Duration // Wall-clock timeout per execution.
	MemoryMB       int           // --memory hard limit.
	CPUCores       float64       // --cpus rate limit (e.g. 0.5 = half a core).
	PIDsLimit      int           // --pids-limit.
	NetworkAllowed bool          // false = --network=none.
}

// DockerRunner executes commands inside ephemeral, hardened containers:
// all capabilities dropped, read-only root, non-root user, no network by
// default, and a forced removal after every run.
type DockerRunner struct {
	config DockerConfig
	logger *slog.Logger
}

// NewDockerRunner creates a container runner.
func NewDockerRunner(cfg DockerConfig, logger *slog.Logger) *DockerRunner {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDsLimit
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DockerRunner{config: cfg, logger: logger}
}

// Execute runs a command in a fresh container and removes it afterwards.
func (r *DockerRunner) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, ErrEmptyCommand
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.config.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := containerPrefix + strings.ToLower(ulid.Make().String())

	memoryMB := r.config.MemoryMB
	if req.Limits.MaxMemoryMB > 0 {
		memoryMB = req.Limits.MaxMemoryMB
	}

	args := r.buildArgs(name, memoryMB, req)
	args = append(args, req.Command...)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	cmd.WaitDelay = waitDelay
	if req.Stdin != nil {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	r.logger.Debug("docker sandbox executing",
		slog.String("container", name),
		slog.String("image", r.config.Image),
		slog.Int("memory_mb", memoryMB),
		slog.Float64("cpu_cores", r.config.CPUCores),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// --rm does not fire when the client is killed; remove explicitly.
	r.forceRemove(name)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
		}
		if runCtx.Err() != nil {
			r.logger.Warn("docker sandbox timed out",
				slog.String("container", name),
				slog.Duration("timeout", timeout),
			)
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("docker execution failed: %w", runErr)
		}
	}

	r.logger.Debug("docker sandbox completed",
		slog.String("container", name),
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
	)

	return &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// buildArgs returns the docker run flags up to and including the image.
func (r *DockerRunner) buildArgs(name string, memoryMB int, req ExecutionRequest) []string {
	memoryFlag := strconv.Itoa(memoryMB) + "m"

	args := []string{
		"run", "--rm",
		"--name", name,

		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--user=65534:65534",

		"--memory=" + memoryFlag,
		"--memory-swap=" + memoryFlag, // equal to --memory disables swap
		"--cpus=" + strconv.FormatFloat(r.config.CPUCores, 'f', 2, 64),
		"--pids-limit=" + strconv.Itoa(r.config.PIDsLimit),

		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"--tmpfs", "/home/sandbox:rw,noexec,nosuid,size=64m",

		"--env", "HOME=/home/sandbox",
		"--env", "PATH=/usr/local/bin:/usr/bin:/bin",
		"--env", "LANG=en_US.UTF-8",
		"--env", "TERM=dumb",
	}

	if req.Stdin != nil {
		args = append(args, "-i")
	}

	if r.config.NetworkAllowed {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}

	if req.WorkingDir != "" {
		args = append(args, "--workdir", req.WorkingDir)
	} else {
		args = append(args, "--workdir", "/home/sandbox")
	}

	for k, v := range req.Env {
		args = append(args, "--env", k+"="+v)
	}

	return append(args, r.config.Image)
}

// forceRemove removes a container by name. "No such container" is expected
// when --rm already cleaned up.
func (r *DockerRunner) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil && !bytes.Contains(out, []byte("No such container")) {
		r.logger.Warn("docker rm -f failed",
			slog.String("container", name),
			slog.String("error", err.Error()),
			slog.String("output", string(out)),
		)
	}
}
