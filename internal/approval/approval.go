// Package approval holds denied-but-deferrable work requests until an
// operator approves or rejects them.
package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/warden/internal/sandbox"
)

var (
	ErrQueueFull = errors.New("approval queue is full")
	ErrNotFound  = errors.New("approval not found")
)

// Config bounds the queue. Zero values mean unbounded and never expiring.
type Config struct {
	MaxPending int
	TTL        time.Duration
}

// Queue is a FIFO of pending work requests, safe for concurrent producers
// and consumers. Every operation holds the lock only for a slice update and
// the depth callback; no lock is held across I/O.
type Queue struct {
	mu    sync.Mutex
	items []sandbox.WorkRequest

	maxPending int
	ttl        time.Duration
	logger     *slog.Logger
	now        func() time.Time
	observe    func(depth int)
}

// NewQueue creates an empty queue.
func NewQueue(cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		maxPending: cfg.MaxPending,
		ttl:        cfg.TTL,
		logger:     logger,
		now:        time.Now,
	}
}

// OnDepthChange registers a callback fed with the queue length after every
// mutation. It runs under the queue lock, so published depths are ordered
// and the callback must not touch the queue. Call before the queue is shared.
func (q *Queue) OnDepthChange(fn func(depth int)) {
	q.observe = fn
}

// Enqueue appends a request to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, req sandbox.WorkRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.maxPending > 0 && len(q.items) >= q.maxPending {
		q.mu.Unlock()
		return fmt.Errorf("%w (%d pending)", ErrQueueFull, q.maxPending)
	}
	q.items = append(q.items, req)
	depth := len(q.items)
	q.notify(depth)
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "work request queued for approval",
		slog.String("request_id", req.ID),
		slog.String("tool_id", req.ToolID.String()),
		slog.String("class_path", req.ClassPath),
		slog.Int("depth", depth),
	)
	return nil
}

// TryDequeue removes and returns the head of the queue, if any.
func (q *Queue) TryDequeue() (sandbox.WorkRequest, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return sandbox.WorkRequest{}, false
	}
	req := q.items[0]
	q.items[0] = sandbox.WorkRequest{}
	q.items = q.items[1:]
	q.notify(len(q.items))
	q.mu.Unlock()

	return req, true
}

// Snapshot returns a point-in-time copy of the pending requests, head first.
// The returned requests own their argument maps.
func (q *Queue) Snapshot() []sandbox.WorkRequest {
	q.mu.Lock()
	out := make([]sandbox.WorkRequest, len(q.items))
	copy(out, q.items)
	q.mu.Unlock()

	for i := range out {
		out[i].Arguments = maps.Clone(out[i].Arguments)
	}
	return out
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Get returns a pending request by id without removing it.
func (q *Queue) Get(id string) (sandbox.WorkRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.items {
		if r.ID == id {
			r.Arguments = maps.Clone(r.Arguments)
			return r, nil
		}
	}
	return sandbox.WorkRequest{}, ErrNotFound
}

// Remove deletes a pending request by id and returns it.
func (q *Queue) Remove(id string) (sandbox.WorkRequest, error) {
	q.mu.Lock()
	for i, r := range q.items {
		if r.ID == id {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			q.notify(len(q.items))
			q.mu.Unlock()
			return r, nil
		}
	}
	q.mu.Unlock()
	return sandbox.WorkRequest{}, ErrNotFound
}

// Expire drops every request older than the TTL and returns how many were dropped.
func (q *Queue) Expire() int {
	if q.ttl <= 0 {
		return 0
	}
	cutoff := q.now().Add(-q.ttl)

	q.mu.Lock()
	kept := q.items[:0:0]
	var dropped []sandbox.WorkRequest
	for _, r := range q.items {
		if r.CreatedAt.Before(cutoff) {
			dropped = append(dropped, r)
			continue
		}
		kept = append(kept, r)
	}
	q.items = kept
	if len(dropped) > 0 {
		q.notify(len(kept))
	}
	q.mu.Unlock()

	if len(dropped) == 0 {
		return 0
	}
	for _, r := range dropped {
		q.logger.Warn("approval request expired",
			slog.String("request_id", r.ID),
			slog.String("tool_id", r.ToolID.String()),
			slog.String("class_path", r.ClassPath),
			slog.Time("created_at", r.CreatedAt),
		)
	}
	return len(dropped)
}

// StartSweeper runs Expire on a cron schedule until ctx is done.
// The returned function stops the sweeper and waits for a running sweep.
func (q *Queue) StartSweeper(ctx context.Context, interval time.Duration) (func(), error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+interval.String(), func() { q.Expire() }); err != nil {
		return nil, fmt.Errorf("scheduling approval sweep: %w", err)
	}
	c.Start()

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			<-c.Stop().Done()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

func (q *Queue) notify(depth int) {
	if q.observe != nil {
		q.observe(depth)
	}
}
