package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSkill     Role = "skill"
)

// Invocation is a structured request from the model to run a tool or skill.
type Invocation struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ToolCallRecord struct {
	Name      string         `json:"name"`
	Params    map[string]any `json:"params,omitempty"`
	Success   bool           `json:"success"`
	Result    any            `json:"result,omitempty"`
	Message   string         `json:"message,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
}

type StepRecord struct {
	Tool    string         `json:"tool"`
	Params  map[string]any `json:"params,omitempty"`
	Result  any            `json:"result,omitempty"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Skipped bool           `json:"skipped,omitempty"`
}

type SkillRecord struct {
	Name    string       `json:"name"`
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
	Steps   []StepRecord `json:"steps"`
}

// ConversationTurn is one append-only entry of a session's log.
// Assistant turns may carry Invocations; tool and skill turns answer one of
// them through CallID.
type ConversationTurn struct {
	Role        Role            `json:"role"`
	Content     string          `json:"content"`
	Invocations []Invocation    `json:"invocations,omitempty"`
	CallID      string          `json:"call_id,omitempty"`
	ToolCall    *ToolCallRecord `json:"tool_call,omitempty"`
	SkillResult *SkillRecord    `json:"skill_result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
