// Package schedule implements a planner that expands a cron expression into
// dated plan steps.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/tools"
)

// ClassPath is the catalog class-path served by this planner.
const ClassPath = "warden.tools.schedule.Planner"

const (
	defaultSteps = 10
	maxSteps     = 100
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Planner expands params.Arguments["cron"] into the next MaxSteps run times.
// An optional "timezone" argument selects the IANA zone the expression is read in.
type Planner struct {
	now func() time.Time
}

func NewPlanner() *Planner {
	return &Planner{now: time.Now}
}

func (p *Planner) Plan(ctx context.Context, _ domain.ToolContext, params tools.PlannerParameters) (*tools.PlannerResult, error) {
	expr, err := tools.StringArg(params.Arguments, "cron")
	if err != nil {
		return nil, err
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression %q: %w", tools.ErrInvalidArgument, expr, err)
	}

	loc := time.UTC
	if tz, ok := params.Arguments["timezone"].(string); ok && tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %w", tools.ErrInvalidArgument, tz, err)
		}
	}

	n := params.MaxSteps
	if n <= 0 {
		n = defaultSteps
	}
	n = min(n, maxSteps)

	at := params.StartAt
	if at.IsZero() {
		at = p.now()
	}
	at = at.In(loc)

	action := params.Goal
	if action == "" {
		action = "run"
	}

	steps := make([]tools.PlanStep, 0, n)
	for i := range n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at = sched.Next(at)
		if at.IsZero() {
			break
		}
		steps = append(steps, tools.PlanStep{Index: i, At: at.UTC(), Action: action})
	}
	return &tools.PlannerResult{
		Summary: fmt.Sprintf("%d runs of %q for schedule %q", len(steps), action, expr),
		Steps:   steps,
	}, nil
}
