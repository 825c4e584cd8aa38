package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/sandbox"
)

var sandboxExecCmd = &cobra.Command{
	Use:    sandbox.ExecCommand,
	Short:  "Serve one isolated work request on stdin (internal)",
	Hidden: true,
	RunE:   runSandboxExec,
}

// runSandboxExec is the isolation worker's child. It reads one work request
// from stdin and writes exactly one result to stdout; logs go to stderr.
func runSandboxExec(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tools inside the child do not log through the parent's handler.
	toolLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, closeTools := buildRegistry(ctx, cfg, newProcessRunner(cfg, toolLogger), true, toolLogger)
	defer closeTools()

	logger.Debug("sandbox child serving request", slog.Int("pid", os.Getpid()))
	return sandbox.Serve(ctx, os.Stdin, os.Stdout, registry.InvokeWork)
}
