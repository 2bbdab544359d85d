package agent

import (
	"encoding/json"

	"github.com/hray3182/calpilot/internal/models"
)

type EventType string

const (
	EventText        EventType = "text"
	EventToolCall    EventType = "tool_call"
	EventSkillStart  EventType = "skill_start"
	EventSkillResult EventType = "skill_result"
	EventDone        EventType = "done"
)

// ErrorLoopLimit is the done error when the model kept requesting
// invocations past the round limit.
const ErrorLoopLimit = "loop_limit"

// TurnEvent is one element of a turn's stream. Which fields are meaningful
// depends on Type; MarshalJSON writes only those.
type TurnEvent struct {
	Type    EventType
	Content string

	Tool    string
	Skill   string
	Success bool
	Result  any
	Message string
	Data    any
	Steps   []models.StepRecord

	// Error is set on a done event that ended the turn early. It holds an
	// error kind or ErrorLoopLimit.
	Error string
}

func textEvent(s string) TurnEvent { return TurnEvent{Type: EventText, Content: s} }

func doneEvent(errKind string) TurnEvent { return TurnEvent{Type: EventDone, Error: errKind} }

func (e TurnEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventText:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventToolCall:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Tool    string    `json:"tool"`
			Success bool      `json:"success"`
			Result  any       `json:"result"`
			Message string    `json:"message"`
		}{e.Type, e.Tool, e.Success, e.Result, e.Message})
	case EventSkillStart:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Skill string    `json:"skill"`
		}{e.Type, e.Skill})
	case EventSkillResult:
		steps := e.Steps
		if steps == nil {
			steps = []models.StepRecord{}
		}
		return json.Marshal(struct {
			Type    EventType           `json:"type"`
			Skill   string              `json:"skill"`
			Success bool                `json:"success"`
			Message string              `json:"message"`
			Data    any                 `json:"data"`
			Steps   []models.StepRecord `json:"steps"`
		}{e.Type, e.Skill, e.Success, e.Message, e.Data, steps})
	default:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error,omitempty"`
		}{e.Type, e.Error})
	}
}
