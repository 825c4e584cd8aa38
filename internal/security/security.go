// Package security implements the sandbox policy: the decision model, the
// hot-swappable options snapshot, and the evaluator that classifies every
// tool invocation.
package security

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode is returned when a sandbox mode string cannot be parsed.
var ErrUnknownMode = errors.New("unknown sandbox mode")

// Mode is the global policy stance.
type Mode int

const (
	ModeDisabled Mode = iota // No policy enforced.
	ModeAudit                // Everything allowed, violations logged.
	ModeEnforce              // Default-deny unless allow-listed.
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "Disabled"
	case ModeAudit:
		return "Audit"
	case ModeEnforce:
		return "Enforce"
	default:
		return "Unknown"
	}
}

// ParseMode converts a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled":
		return ModeDisabled, nil
	case "audit":
		return ModeAudit, nil
	case "enforce":
		return ModeEnforce, nil
	default:
		return ModeDisabled, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Decision is the evaluator's verdict for one invocation.
// Fields are unexported so a decision can only be built through Allow or Deny,
// which keeps "audit-only but not allowed" unrepresentable.
type Decision struct {
	allowed   bool
	auditOnly bool
	mode      Mode
	reason    string
}

// Allow builds a permitting decision. auditOnly flags it for the audit trail.
func Allow(mode Mode, reason string, auditOnly bool) Decision {
	return Decision{allowed: true, auditOnly: auditOnly, mode: mode, reason: reason}
}

// Deny builds a refusing decision. A denial is never audit-only.
func Deny(mode Mode, reason string) Decision {
	return Decision{mode: mode, reason: reason}
}

func (d Decision) IsAllowed() bool { return d.allowed }
func (d Decision) AuditOnly() bool { return d.auditOnly }
func (d Decision) Mode() Mode      { return d.mode }
func (d Decision) Reason() string  { return d.reason }

// Outcome labels the decision for logs and metrics: "allowed", "audit_only" or "denied".
func (d Decision) Outcome() string {
	switch {
	case !d.allowed:
		return "denied"
	case d.auditOnly:
		return "audit_only"
	default:
		return "allowed"
	}
}

func (d Decision) String() string {
	return fmt.Sprintf("%s(%s): %s", d.Outcome(), d.mode, d.reason)
}
