package postgres

import (
	"time"

	"github.com/google/uuid"
)

// ToolModel maps to the "tools" table.
type ToolModel struct {
	ID         uuid.UUID            `gorm:"type:uuid;primaryKey"`
	Name       string               `gorm:"not null"`
	ClassPath  string               `gorm:"not null;index"`
	IsActive   bool                 `gorm:"not null;default:true"`
	Parameters []ToolParameterModel `gorm:"foreignKey:ToolID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ToolModel) TableName() string { return "tools" }

// ToolParameterModel maps to the "tool_parameters" table.
// Position preserves declaration order.
type ToolParameterModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ToolID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Position  int       `gorm:"not null"`
	Name      string    `gorm:"not null"`
	Type      string    `gorm:"not null"`
	Direction string    `gorm:"not null;default:'input'"`
	Optional  bool      `gorm:"not null;default:false"`
}

func (ToolParameterModel) TableName() string { return "tool_parameters" }

// ExecutionLogModel maps to the "execution_logs" table. Append-only.
type ExecutionLogModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	ToolID           uuid.UUID `gorm:"type:uuid;not null;index:idx_execlog_tool_created,priority:1"`
	AgentID          uuid.UUID `gorm:"type:uuid;not null;index"`
	Success          bool      `gorm:"not null"`
	Status           string    `gorm:"not null"`
	RequestSnapshot  string    `gorm:"type:text"`
	ResponseSnapshot string    `gorm:"type:text"`
	ErrorSnapshot    string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null;index:idx_execlog_tool_created,priority:2"`
}

func (ExecutionLogModel) TableName() string { return "execution_logs" }

// Models lists every model in FK-dependency order for AutoMigrate.
func Models() []any {
	return []any{
		&ToolModel{},
		&ToolParameterModel{},
		&ExecutionLogModel{},
	}
}
