// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ParameterDirection marks whether a declared parameter is consumed or produced by a tool.
type ParameterDirection string

const (
	DirectionInput  ParameterDirection = "input"
	DirectionOutput ParameterDirection = "output"
)

// Semantic type tags understood by argument binding.
const (
	TypeString   = "string"
	TypeGUID     = "guid"
	TypeUUID     = "uuid"
	TypeInt      = "int"
	TypeNumber   = "number"
	TypeBool     = "bool"
	TypeDateTime = "datetime"
	TypeJSON     = "json"
)

// ToolParameter is one declared parameter of a tool.
type ToolParameter struct {
	Name      string             `json:"name"`
	Type      string             `json:"type"` // Semantic type tag (e.g. "guid", "string", "int").
	Direction ParameterDirection `json:"direction,omitempty"`
	Optional  bool               `json:"optional,omitempty"` // Input parameters are required unless marked optional.
}

// Tool is a registered capability. ClassPath selects the runtime implementation.
// Immutable for the duration of a dispatch.
type Tool struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	ClassPath  string          `json:"classPath"`
	Parameters []ToolParameter `json:"parameters"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// InputParameters returns the declared input parameters in declaration order.
func (t *Tool) InputParameters() []ToolParameter {
	out := make([]ToolParameter, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Direction == "" || p.Direction == DirectionInput {
			out = append(out, p)
		}
	}
	return out
}

// ServiceLocator exposes ambient services to tool implementations.
type ServiceLocator interface {
	Service(name string) (any, bool)
}

// Services is a map-backed ServiceLocator.
type Services map[string]any

func (s Services) Service(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

// ToolContext carries per-invocation identity. Cancellation travels on the
// context.Context passed alongside it.
type ToolContext struct {
	AgentID        uuid.UUID      `json:"agentId"`
	ConversationID uuid.UUID      `json:"conversationId"`
	PersonaID      *uuid.UUID     `json:"personaId,omitempty"` // nil = no persona.
	Services       ServiceLocator `json:"-"`
}

// PersonaString returns the persona id or "" when unset.
func (tc ToolContext) PersonaString() string {
	if tc.PersonaID == nil {
		return ""
	}
	return tc.PersonaID.String()
}

// Service looks up an ambient service, tolerating a nil locator.
func (tc ToolContext) Service(name string) (any, bool) {
	if tc.Services == nil {
		return nil, false
	}
	return tc.Services.Service(name)
}

// ExecutionLog is one persisted dispatch attempt. Append-only.
type ExecutionLog struct {
	ID               uuid.UUID       `json:"id"`
	ToolID           uuid.UUID       `json:"toolId"`
	AgentID          uuid.UUID       `json:"agentId"`
	Success          bool            `json:"success"`
	Status           string          `json:"status"`
	RequestSnapshot  json.RawMessage `json:"requestSnapshot,omitempty"`
	ResponseSnapshot json.RawMessage `json:"responseSnapshot,omitempty"`
	ErrorSnapshot    string          `json:"errorSnapshot,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"` // UTC.
}
