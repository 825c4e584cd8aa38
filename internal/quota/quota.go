// Package quota gates planner dispatches with a per-key rate limit and daily cap.
package quota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/ratelimit"
)

// Verdict is the outcome of a quota check.
type Verdict string

const (
	Allowed   Verdict = "allowed"
	Throttled Verdict = "throttled"
	Rejected  Verdict = "rejected"
)

// Decision is a verdict and its human-readable reason.
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
}

// Service evaluates planner quotas. Implementations must be safe for concurrent use.
type Service interface {
	Evaluate(ctx context.Context, plannerKey string, tc domain.ToolContext) Decision
}

// AllowAll never refuses.
type AllowAll struct{}

func (AllowAll) Evaluate(context.Context, string, domain.ToolContext) Decision {
	return Decision{Verdict: Allowed}
}

// Key scopes a planner's quota to the persona, or to the agent when no persona is set.
func Key(plannerKey string, tc domain.ToolContext) string {
	if tc.PersonaID != nil {
		return plannerKey + "|persona:" + tc.PersonaID.String()
	}
	return plannerKey + "|agent:" + tc.AgentID.String()
}

type dailyCount struct {
	day   string // UTC date, YYYY-MM-DD
	count int
}

// Limiter is the default Service. In-memory; counters reset on restart.
type Limiter struct {
	mu         sync.Mutex
	bucket     *ratelimit.Limiter
	dailyLimit int
	daily      map[string]*dailyCount
	lastDay    string
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a limiter from cfg. Zero values disable the corresponding check.
func New(cfg config.QuotaConfig, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Limiter{
		bucket: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RequestsPerMinute,
			BurstSize:         cfg.Burst,
		}),
		dailyLimit: cfg.DailyLimit,
		daily:      make(map[string]*dailyCount),
		now:        time.Now,
		logger:     logger,
	}
}

// Evaluate checks the daily cap, then the rate limit. Only allowed calls count
// against the daily cap.
func (l *Limiter) Evaluate(ctx context.Context, plannerKey string, tc domain.ToolContext) Decision {
	key := Key(plannerKey, tc)
	day := l.now().UTC().Format(time.DateOnly)

	l.mu.Lock()
	defer l.mu.Unlock()

	if day != l.lastDay {
		// Yesterday's counters can never be read again.
		for k, c := range l.daily {
			if c.day != day {
				delete(l.daily, k)
			}
		}
		l.lastDay = day
	}

	dc, ok := l.daily[key]
	if !ok || dc.day != day {
		dc = &dailyCount{day: day}
		l.daily[key] = dc
	}
	if l.dailyLimit > 0 && dc.count >= l.dailyLimit {
		return Decision{
			Verdict: Rejected,
			Reason:  fmt.Sprintf("daily planner limit of %d reached", l.dailyLimit),
		}
	}

	if err := l.bucket.Allow(key); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			return Decision{Verdict: Throttled, Reason: "planner rate limit exceeded"}
		}
		l.logger.ErrorContext(ctx, "quota rate limiter failed", slog.String("key", key), slog.String("error", err.Error()))
		return Decision{Verdict: Throttled, Reason: err.Error()}
	}

	dc.count++
	return Decision{Verdict: Allowed}
}

// Keys returns the number of keys with a counter for the current day window.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.daily)
}

// Used returns today's allowed invocation count for a composite key.
func (l *Limiter) Used(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	dc, ok := l.daily[key]
	if !ok || dc.day != l.now().UTC().Format(time.DateOnly) {
		return 0
	}
	return dc.count
}
