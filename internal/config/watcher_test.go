package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatcher_ReloadsValidAndIgnoresInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "warden.yaml", "sandbox:\n  mode: enforce\n")

	reloads := make(chan *Config, 4)
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	w, err := NewWatcher(path, func(c *Config) { reloads <- c }, logger)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  mode: audit\n"), 0o600))
	select {
	case c := <-reloads:
		assert.Equal(t, "audit", c.Sandbox.Mode)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after valid write")
	}

	require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  mode: bogus\n"), 0o600))
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("config reload rejected"))
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case c := <-reloads:
		t.Fatalf("invalid config was published: %+v", c.Sandbox)
	default:
	}

	require.NoError(t, w.Close())
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "warden.yaml", "sandbox:\n  mode: enforce\n")

	reloads := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) { reloads <- c }, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, dir, "other.yaml", "x: 1\n")

	select {
	case <-reloads:
		t.Fatal("reload triggered by unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}
