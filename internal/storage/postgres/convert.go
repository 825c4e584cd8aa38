package postgres

import (
	"encoding/json"

	"github.com/jkaninda/warden/internal/domain"
)

// --- Tool ---

func toToolModel(t *domain.Tool) ToolModel {
	m := ToolModel{
		ID:        t.ID,
		Name:      t.Name,
		ClassPath: t.ClassPath,
		IsActive:  t.IsActive,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	for i, p := range t.Parameters {
		dir := string(p.Direction)
		if dir == "" {
			dir = string(domain.DirectionInput)
		}
		m.Parameters = append(m.Parameters, ToolParameterModel{
			ToolID:    t.ID,
			Position:  i,
			Name:      p.Name,
			Type:      p.Type,
			Direction: dir,
			Optional:  p.Optional,
		})
	}
	return m
}

func toToolDomain(m *ToolModel) *domain.Tool {
	t := &domain.Tool{
		ID:        m.ID,
		Name:      m.Name,
		ClassPath: m.ClassPath,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, p := range m.Parameters {
		t.Parameters = append(t.Parameters, domain.ToolParameter{
			Name:      p.Name,
			Type:      p.Type,
			Direction: domain.ParameterDirection(p.Direction),
			Optional:  p.Optional,
		})
	}
	return t
}

// --- Execution log ---

func toExecutionLogModel(l *domain.ExecutionLog) ExecutionLogModel {
	return ExecutionLogModel{
		ID:               l.ID,
		ToolID:           l.ToolID,
		AgentID:          l.AgentID,
		Success:          l.Success,
		Status:           l.Status,
		RequestSnapshot:  string(l.RequestSnapshot),
		ResponseSnapshot: string(l.ResponseSnapshot),
		ErrorSnapshot:    l.ErrorSnapshot,
		CreatedAt:        l.CreatedAt,
	}
}

func toExecutionLogDomain(m *ExecutionLogModel) domain.ExecutionLog {
	l := domain.ExecutionLog{
		ID:            m.ID,
		ToolID:        m.ToolID,
		AgentID:       m.AgentID,
		Success:       m.Success,
		Status:        m.Status,
		ErrorSnapshot: m.ErrorSnapshot,
		CreatedAt:     m.CreatedAt.UTC(),
	}
	if m.RequestSnapshot != "" {
		l.RequestSnapshot = json.RawMessage(m.RequestSnapshot)
	}
	if m.ResponseSnapshot != "" {
		l.ResponseSnapshot = json.RawMessage(m.ResponseSnapshot)
	}
	return l
}
