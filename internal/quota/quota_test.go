package quota

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/domain"
)

const planner = "warden.tools.schedule.Planner"

func fixedClock(t *time.Time) func() time.Time { return func() time.Time { return *t } }

func TestAllowAll(t *testing.T) {
	d := AllowAll{}.Evaluate(context.Background(), planner, domain.ToolContext{})
	assert.Equal(t, Allowed, d.Verdict)
}

func TestKey(t *testing.T) {
	agent := uuid.New()
	persona := uuid.New()

	assert.Equal(t, planner+"|agent:"+agent.String(), Key(planner, domain.ToolContext{AgentID: agent}))
	assert.Equal(t, planner+"|persona:"+persona.String(), Key(planner, domain.ToolContext{AgentID: agent, PersonaID: &persona}))
}

func TestLimiter_DailyCapResetsAtUTCMidnight(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	l := New(config.QuotaConfig{DailyLimit: 2}, nil)
	l.now = fixedClock(&now)
	tc := domain.ToolContext{AgentID: uuid.New()}
	ctx := context.Background()

	require.Equal(t, Allowed, l.Evaluate(ctx, planner, tc).Verdict)
	require.Equal(t, Allowed, l.Evaluate(ctx, planner, tc).Verdict)

	d := l.Evaluate(ctx, planner, tc)
	assert.Equal(t, Rejected, d.Verdict)
	assert.Contains(t, d.Reason, "daily planner limit")
	assert.Equal(t, 2, l.Used(Key(planner, tc)))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, Allowed, l.Evaluate(ctx, planner, tc).Verdict)
	assert.Equal(t, 1, l.Used(Key(planner, tc)))
}

func TestLimiter_Throttle(t *testing.T) {
	l := New(config.QuotaConfig{RequestsPerMinute: 1, Burst: 1}, nil)
	tc := domain.ToolContext{AgentID: uuid.New()}
	ctx := context.Background()

	require.Equal(t, Allowed, l.Evaluate(ctx, planner, tc).Verdict)
	assert.Equal(t, Throttled, l.Evaluate(ctx, planner, tc).Verdict)

	// A different persona has its own bucket.
	persona := uuid.New()
	other := domain.ToolContext{AgentID: tc.AgentID, PersonaID: &persona}
	assert.Equal(t, Allowed, l.Evaluate(ctx, planner, other).Verdict)
}

func TestLimiter_ThrottledCallsDoNotCount(t *testing.T) {
	l := New(config.QuotaConfig{RequestsPerMinute: 1, Burst: 1, DailyLimit: 5}, nil)
	tc := domain.ToolContext{AgentID: uuid.New()}
	ctx := context.Background()

	l.Evaluate(ctx, planner, tc)
	for range 3 {
		require.Equal(t, Throttled, l.Evaluate(ctx, planner, tc).Verdict)
	}
	assert.Equal(t, 1, l.Used(Key(planner, tc)))
}

func TestLimiter_ZeroConfigAllowsEverything(t *testing.T) {
	l := New(config.QuotaConfig{}, nil)
	tc := domain.ToolContext{AgentID: uuid.New()}
	for range 100 {
		require.Equal(t, Allowed, l.Evaluate(context.Background(), planner, tc).Verdict)
	}
}

func TestLimiter_DropsPreviousDayCounters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(config.QuotaConfig{DailyLimit: 5}, nil)
	l.now = fixedClock(&now)
	ctx := context.Background()

	for range 10 {
		l.Evaluate(ctx, planner, domain.ToolContext{AgentID: uuid.New()})
	}
	assert.Equal(t, 10, l.Keys())

	now = now.Add(24 * time.Hour)
	tc := domain.ToolContext{AgentID: uuid.New()}
	require.Equal(t, Allowed, l.Evaluate(ctx, planner, tc).Verdict)
	assert.Equal(t, 1, l.Keys())
	assert.Equal(t, 1, l.Used(Key(planner, tc)))
}
