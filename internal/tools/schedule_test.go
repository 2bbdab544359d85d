package tools

import (
	"testing"

	"github.com/hray3182/calpilot/internal/analyzer"
	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateScheduleTool(t *testing.T) {
	h := newHarness(t)
	h.seed("会议", at(1, 11, 10, 0), at(1, 11, 11, 0))

	res := h.mustCall("generate_schedule", map[string]any{
		"date": "2024-01-11",
		"tasks": []any{
			map[string]any{"title": "写周报", "duration_minutes": 30.0, "priority": "low"},
			map[string]any{"title": "修 bug", "duration_minutes": 45.0, "priority": "high"},
			map[string]any{"title": "代码评审", "duration_minutes": 60.0},
		},
	})

	data := res.Data.(ScheduleData)
	require.Len(t, data.Placed, 3)
	assert.Equal(t, "修 bug", data.Placed[0].Task.Title)
	assert.True(t, at(1, 11, 9, 0).Equal(data.Placed[0].Start))
	assert.Equal(t, "代码评审", data.Placed[1].Task.Title)
	assert.Equal(t, analyzer.PriorityMedium, data.Placed[1].Task.Priority)
	assert.True(t, at(1, 11, 11, 0).Equal(data.Placed[1].Start))
	assert.True(t, at(1, 11, 12, 10).Equal(data.Placed[2].Start))
	assert.Empty(t, data.Unplaced)
}

func TestGenerateScheduleValidatesTasks(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name  string
		tasks []any
	}{
		{"missing duration", []any{map[string]any{"title": "x"}}},
		{"bad priority", []any{map[string]any{"title": "x", "duration_minutes": 10.0, "priority": "urgent"}}},
		{"extra key", []any{map[string]any{"title": "x", "duration_minutes": 10.0, "owner": "me"}}},
		{"zero duration", []any{map[string]any{"title": "x", "duration_minutes": 0.0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.call("generate_schedule", map[string]any{"tasks": tt.tasks})
			assert.False(t, res.Success)
			assert.Equal(t, apperr.KindValidation, res.Error.Kind)
		})
	}
}

func TestSuggestBreaksTool(t *testing.T) {
	h := newHarness(t)
	h.seed("午饭", at(1, 11, 12, 0), at(1, 11, 13, 0))

	data := h.mustCall("suggest_breaks", map[string]any{"date": "明天"}).Data.(BreaksData)
	require.Len(t, data.Breaks, 2)
	assert.True(t, at(1, 11, 10, 30).Equal(data.Breaks[0].Start))
	assert.True(t, at(1, 11, 10, 45).Equal(data.Breaks[0].End))
	assert.True(t, at(1, 11, 14, 30).Equal(data.Breaks[1].Start))

	res := h.call("suggest_breaks", map[string]any{"work_duration": -5})
	assert.Equal(t, apperr.KindValidation, res.Error.Kind)
}

func TestOptimizeScheduleTool(t *testing.T) {
	h := newHarness(t)
	h.seed("Standup", at(1, 11, 9, 0), at(1, 11, 9, 15))
	h.seed("Design meeting", at(1, 11, 9, 15), at(1, 11, 10, 0))
	h.seed("Sync", at(1, 11, 14, 0), at(1, 11, 15, 0))
	h.seed("Client call", at(1, 11, 16, 0), at(1, 11, 17, 0))

	data := h.mustCall("optimize_schedule", map[string]any{"date": "2024-01-11"}).Data.(OptimizeData)
	assert.Equal(t, 4, data.EventCount)
	assert.Equal(t, 4, data.MeetingCount)
	assert.Equal(t, "2024-01-11", data.Date)

	types := map[analyzer.SuggestionType]bool{}
	for _, s := range data.Suggestions {
		types[s.Type] = true
	}
	assert.True(t, types[analyzer.SuggestBuffer])
	assert.True(t, types[analyzer.SuggestLunch])
	assert.True(t, types[analyzer.SuggestFocus])
	assert.False(t, types[analyzer.SuggestMeetingLoad])

	quiet := h.mustCall("optimize_schedule", map[string]any{"date": "2024-01-12"}).Data.(OptimizeData)
	assert.NotNil(t, quiet.Suggestions)
	assert.Empty(t, quiet.Suggestions)
}
