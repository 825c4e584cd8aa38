package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/dispatch"
	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/tools"
)

// Exit codes for the invoke command.
const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitPolicyDenied    = 2
	ExitPendingApproval = 3
)

var (
	invokeArgs      []string
	invokeAgentID   string
	invokePersonaID string
	invokeGoal      string
	invokeNoLog     bool
	invokeTimeout   int
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <tool-id>",
	Short: "Dispatch one tool invocation through the local engine",
	Long: `Resolve a catalog tool and dispatch it under the configured sandbox policy,
exactly as the HTTP API would. Arguments are passed as repeated --arg key=value
pairs; values are strings and are coerced by the tool's declared parameter types.

Examples:
  warden invoke 3f2c... --arg command="uptime"
  warden invoke 9a1b... --goal "nightly backup" --arg cron="0 3 * * *"

Exit codes:
  0  succeeded
  1  failed, invalid or cancelled
  2  denied by policy or quota
  3  queued for approval`,
	Args: cobra.ExactArgs(1),
	RunE: runInvoke,
}

func init() {
	invokeCmd.Flags().StringArrayVar(&invokeArgs, "arg", nil, "tool argument as key=value (repeatable)")
	invokeCmd.Flags().StringVar(&invokeAgentID, "agent", "", "calling agent ID (default: random)")
	invokeCmd.Flags().StringVar(&invokePersonaID, "persona", "", "persona ID")
	invokeCmd.Flags().StringVar(&invokeGoal, "goal", "", "dispatch as a planning request with this goal")
	invokeCmd.Flags().BoolVar(&invokeNoLog, "no-log", false, "skip the execution log")
	invokeCmd.Flags().IntVar(&invokeTimeout, "timeout", 300, "timeout in seconds")
}

func runInvoke(_ *cobra.Command, posArgs []string) error {
	toolID, err := uuid.Parse(posArgs[0])
	if err != nil {
		return fmt.Errorf("tool id must be a UUID: %w", err)
	}
	args, err := parseArgs(invokeArgs)
	if err != nil {
		return err
	}
	tc, err := invokeContext()
	if err != nil {
		return err
	}

	logger := newLogger()
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(invokeTimeout)*time.Second)
	defer cancel()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	var opts []dispatch.Option
	if invokeNoLog {
		opts = append(opts, dispatch.WithoutLog())
	}

	var (
		out  *dispatch.Outcome
		perr error
	)
	if invokeGoal != "" {
		params := tools.PlannerParameters{Goal: invokeGoal, Arguments: args}
		planned, err := sc.Dispatch.ExecutePlanner(ctx, toolID, tc, params, opts...)
		perr = err
		out = &planned.Outcome
		if planned.Plan != nil {
			out.Result = planned.Plan
		}
	} else {
		out, perr = sc.Dispatch.Execute(ctx, toolID, tc, args, opts...)
	}
	if perr != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.YellowString("warning:"), perr)
	}

	code := printOutcome(out)
	sc.Cleanup()
	os.Exit(code)
	return nil
}

// parseArgs turns key=value pairs into an argument map.
func parseArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --arg %q: expected key=value", p)
		}
		args[k] = v
	}
	return args, nil
}

func invokeContext() (domain.ToolContext, error) {
	tc := domain.ToolContext{AgentID: uuid.New(), ConversationID: uuid.New()}
	if invokeAgentID != "" {
		id, err := uuid.Parse(invokeAgentID)
		if err != nil {
			return tc, fmt.Errorf("--agent must be a UUID: %w", err)
		}
		tc.AgentID = id
	}
	if invokePersonaID != "" {
		id, err := uuid.Parse(invokePersonaID)
		if err != nil {
			return tc, fmt.Errorf("--persona must be a UUID: %w", err)
		}
		tc.PersonaID = &id
	}
	return tc, nil
}

// printOutcome renders the outcome and returns the process exit code.
func printOutcome(out *dispatch.Outcome) int {
	var status string
	code := ExitFailure
	switch out.Status {
	case dispatch.StatusSucceeded:
		status, code = color.GreenString("✓ %s", out.Status), ExitSuccess
	case dispatch.StatusPendingApproval:
		status, code = color.YellowString("… %s", out.Status), ExitPendingApproval
	case dispatch.StatusDenied, dispatch.StatusQuotaRejected, dispatch.StatusQuotaThrottled:
		status, code = color.RedString("⊘ %s", out.Status), ExitPolicyDenied
	default:
		status = color.RedString("✗ %s", out.Status)
	}

	fmt.Printf("%s  route=%s  duration=%s\n", status, valueOr(out.Route, "none"), out.Duration.Round(time.Millisecond))
	if out.Route != "" && out.Route != dispatch.RouteApproved {
		d := out.Decision
		fmt.Printf("  decision: mode=%s allowed=%t audit_only=%t reason=%q\n", d.Mode(), d.IsAllowed(), d.AuditOnly(), d.Reason())
	}
	if out.ApprovalID != "" {
		fmt.Printf("  approval: %s\n", color.CyanString(out.ApprovalID))
	}
	if msg := out.ErrorMessage(); msg != "" {
		fmt.Printf("  error: %s\n", color.RedString(dispatch.Redact(msg)))
	}
	if out.Result != nil {
		data, err := json.MarshalIndent(out.Result, "", "  ")
		if err != nil {
			data = []byte(fmt.Sprint(out.Result))
		}
		fmt.Println(string(data))
	}
	return code
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
