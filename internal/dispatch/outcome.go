package dispatch

import (
	"errors"
	"time"

	"github.com/jkaninda/warden/internal/quota"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/tools"
)

var (
	ErrToolNotFound              = errors.New("tool not found")
	ErrImplementationNotResolved = errors.New("tool implementation not resolved")
	ErrArgumentBindingFailed     = errors.New("argument binding failed")
	ErrQuotaRejected             = errors.New("planner quota rejected")
	ErrQuotaThrottled            = errors.New("planner quota throttled")
	ErrSandboxDenied             = errors.New("sandbox denied tool execution")
	ErrToolExecutionFailed       = errors.New("tool execution failed")
	ErrOperationCancelled        = errors.New("operation cancelled")
)

// Status is the terminal state of one dispatch.
type Status string

const (
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusDenied          Status = "denied"
	StatusPendingApproval Status = "pending_approval"
	StatusQuotaRejected   Status = "quota_rejected"
	StatusQuotaThrottled  Status = "quota_throttled"
	StatusCancelled       Status = "cancelled"
	StatusInvalid         Status = "invalid"
)

// Routes taken after the policy decision.
const (
	RouteDirect         = "direct"
	RouteInProcessAudit = "inprocess_audit"
	RouteIsolated       = "isolated"
	RouteApproval       = "approval"
	RouteRejected       = "rejected"
	RouteApproved       = "approved"
)

// Outcome is the structured result of a dispatch. Err is nil only for
// StatusSucceeded and StatusPendingApproval.
type Outcome struct {
	OK         bool              `json:"ok"`
	Status     Status            `json:"status"`
	Result     any               `json:"result,omitempty"`
	Err        error             `json:"-"`
	Decision   security.Decision `json:"-"`
	Route      string            `json:"route,omitempty"`
	ApprovalID string            `json:"approvalId,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// ErrorMessage returns Err's message or "".
func (o *Outcome) ErrorMessage() string {
	if o == nil || o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// PlannerOutcome extends Outcome with the typed plan and the quota verdict.
type PlannerOutcome struct {
	Outcome
	Plan  *tools.PlannerResult `json:"plan,omitempty"`
	Quota quota.Decision       `json:"quota"`
}

// Option tunes a single dispatch.
type Option func(*callOptions)

type callOptions struct {
	log bool
}

// WithoutLog skips the execution-log write.
func WithoutLog() Option {
	return func(o *callOptions) { o.log = false }
}

func applyOptions(opts []Option) callOptions {
	o := callOptions{log: true}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
