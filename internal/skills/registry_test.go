package skills

import (
	"context"
	"testing"
	"time"

	"github.com/hray3182/calpilot/internal/analyzer"
	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/store"
	"github.com/hray3182/calpilot/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

// Wednesday 2024-01-10 10:00
var ref = time.Date(2024, 1, 10, 10, 0, 0, 0, cst)

func at(d, h, m int) time.Time {
	return time.Date(2024, 1, d, h, m, 0, 0, cst)
}

type fixture struct {
	t   *testing.T
	reg *Registry
	env tools.Env
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		t:   t,
		reg: NewDefault(tools.NewDefault()),
		env: tools.Env{Store: store.NewMemory(), Now: ref, Location: cst, Work: tools.DefaultWorkHours},
	}
}

func (f *fixture) run(name string, params map[string]any) Result {
	f.t.Helper()
	return f.reg.Invoke(context.Background(), f.env, name, params)
}

func (f *fixture) seed(title string, start, end time.Time) {
	f.t.Helper()
	_, err := f.env.Store.Create(context.Background(), &models.Event{Title: title, Start: start, End: end})
	require.NoError(f.t, err)
}

func (f *fixture) count() int {
	f.t.Helper()
	events, err := f.env.Store.List(context.Background(), models.TimeRange{Start: at(1, 0, 0), End: at(31, 0, 0)}, "")
	require.NoError(f.t, err)
	return len(events)
}

func TestMeetingPlanningBooksFirstSlot(t *testing.T) {
	f := newFixture(t)
	f.seed("晨会", at(11, 9, 0), at(11, 10, 0))

	res := f.run("meeting_planning", map[string]any{"title": "产品评审", "date": "2024-01-11", "duration_minutes": 60})

	require.True(t, res.Success, res.Message)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "find_free_slots", res.Steps[0].Tool)
	assert.Equal(t, "create_event", res.Steps[1].Tool)
	assert.True(t, res.Steps[1].Success)

	data := res.Data.(map[string]any)
	e := data["event"].(*models.Event)
	assert.Equal(t, "产品评审", e.Title)
	assert.True(t, at(11, 10, 0).Equal(e.Start))
	assert.True(t, at(11, 11, 0).Equal(e.End))
	assert.Equal(t, 2, f.count())
	assert.Contains(t, res.Message, "产品评审")
}

func TestMeetingPlanningWithoutAutoSchedule(t *testing.T) {
	f := newFixture(t)
	res := f.run("meeting_planning", map[string]any{"date": "2024-01-11", "auto_schedule": false})

	require.True(t, res.Success)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[1].Skipped)
	assert.Equal(t, 0, f.count())

	slot := res.Data.(map[string]any)["recommended_slot"].(models.TimeRange)
	assert.True(t, at(11, 9, 0).Equal(slot.Start))
}

func TestMeetingPlanningNeverBooksThePast(t *testing.T) {
	f := newFixture(t)
	f.env.Now = at(10, 18, 0)

	res := f.run("meeting_planning", map[string]any{"title": "复盘"})

	require.True(t, res.Success, res.Message)
	e := res.Data.(map[string]any)["event"].(*models.Event)
	assert.True(t, at(11, 9, 0).Equal(e.Start), e.Start)

	late := f.run("meeting_planning", map[string]any{"title": "复盘", "date": "今天"})
	assert.False(t, late.Success)
	assert.Equal(t, apperr.KindNotFound, late.Error.Kind)
	assert.Equal(t, 1, f.count())
}

func TestMeetingPlanningAbortsWhenDayIsFull(t *testing.T) {
	f := newFixture(t)
	f.seed("培训", at(11, 9, 0), at(11, 17, 0))

	res := f.run("meeting_planning", map[string]any{"date": "2024-01-11"})

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperr.KindNotFound, res.Error.Kind)
	assert.Contains(t, res.Message, "步骤 create_event 失败")
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[0].Success)
	assert.False(t, res.Steps[1].Success)
	assert.Equal(t, 1, f.count())
}

func TestAbortStopsAtFailingStep(t *testing.T) {
	f := newFixture(t)
	res := f.run("meeting_planning", map[string]any{"date": "2024-01-11", "duration_minutes": 0})

	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindValidation, res.Error.Kind)
	require.Len(t, res.Steps, 1, "steps after an aborting failure must not run")
	assert.Equal(t, "find_free_slots", res.Steps[0].Tool)
	assert.NotEmpty(t, res.Steps[0].Error)
}

func TestContinuePolicyKeepsGoing(t *testing.T) {
	var ran []string
	handler := func(name string, fail bool) tools.Handler {
		return func(context.Context, tools.Env, tools.Args) (tools.Output, error) {
			ran = append(ran, name)
			if fail {
				return tools.Output{}, apperr.Validation("%s broke", name)
			}
			return tools.Output{Data: name}, nil
		}
	}
	toolReg := tools.NewRegistry([]tools.Tool{
		{Name: "flaky", Handler: handler("flaky", true)},
		{Name: "steady", Handler: handler("steady", false)},
	})
	reg := NewRegistry(toolReg, []Skill{{
		Name: "mixed",
		Steps: []Step{
			{Tool: "flaky", Policy: Continue},
			{Tool: "steady"},
		},
		Summarize: func(sc *StepContext) Summary {
			_, flakyRan := sc.Result("flaky")
			return Summary{Message: "done", Data: map[string]any{"flaky_ran": flakyRan, "steady": sc.Data("steady"), "flaky": sc.Data("flaky")}}
		},
	}})

	res := reg.Invoke(context.Background(), tools.Env{}, "mixed", nil)

	require.True(t, res.Success)
	assert.Equal(t, []string{"flaky", "steady"}, ran)
	require.Len(t, res.Steps, 2)
	assert.False(t, res.Steps[0].Success)
	assert.Equal(t, "flaky broke", res.Steps[0].Error)
	assert.True(t, res.Steps[1].Success)
	data := res.Data.(map[string]any)
	assert.Equal(t, true, data["flaky_ran"])
	assert.Equal(t, "steady", data["steady"])
	assert.Nil(t, data["flaky"])
}

func TestScheduleManagement(t *testing.T) {
	f := newFixture(t)
	f.seed("周会", at(11, 9, 0), at(11, 10, 0))
	f.seed("面试", at(11, 9, 30), at(11, 10, 30))
	f.seed("下周的事", at(20, 9, 0), at(20, 10, 0))

	res := f.run("schedule_management", map[string]any{"start_date": "2024-01-11", "end_date": "2024-01-11"})

	require.True(t, res.Success, res.Message)
	require.Len(t, res.Steps, 3)
	for _, s := range res.Steps {
		assert.True(t, s.Success, s.Tool)
	}
	data := res.Data.(map[string]any)
	assert.Len(t, data["events"], 2)
	conflicts := data["conflicts"].([]analyzer.Conflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "周会", conflicts[0].First.Title)
	assert.Contains(t, res.Message, "冲突")
	assert.Equal(t, "2024-01-11", res.Steps[2].Params["date"])
}

func TestScheduleManagementEmpty(t *testing.T) {
	f := newFixture(t)
	res := f.run("schedule_management", nil)

	require.True(t, res.Success)
	data := res.Data.(map[string]any)
	assert.Empty(t, data["events"])
	assert.Empty(t, data["conflicts"])
	assert.Contains(t, res.Message, "空闲")
}

func TestDailyPlanning(t *testing.T) {
	f := newFixture(t)
	f.seed("午饭", at(11, 12, 0), at(11, 13, 0))

	res := f.run("daily_planning", map[string]any{
		"date": "明天",
		"tasks": []any{
			map[string]any{"title": "写周报", "duration_minutes": 30, "priority": "low"},
			map[string]any{"title": "修 bug", "duration_minutes": 60, "priority": "high"},
		},
	})

	require.True(t, res.Success, res.Message)
	require.Len(t, res.Steps, 3)
	assert.False(t, res.Steps[1].Skipped)

	data := res.Data.(map[string]any)
	assert.Len(t, data["existing_events"], 1)
	placed := data["scheduled_tasks"].([]analyzer.Placement)
	require.Len(t, placed, 2)
	assert.Equal(t, "修 bug", placed[0].Task.Title)
	assert.True(t, at(11, 9, 0).Equal(placed[0].Start))
	breaks := data["suggested_breaks"].([]analyzer.Break)
	assert.NotEmpty(t, breaks)
	assert.Contains(t, res.Message, "修 bug")
}

func TestDailyPlanningSkipsSchedulingWithoutTasks(t *testing.T) {
	f := newFixture(t)
	res := f.run("daily_planning", map[string]any{"date": "2024-01-11"})

	require.True(t, res.Success)
	require.Len(t, res.Steps, 3)
	assert.True(t, res.Steps[1].Skipped)
	assert.Equal(t, "generate_schedule", res.Steps[1].Tool)
	assert.Empty(t, res.Data.(map[string]any)["scheduled_tasks"])
}

func TestInvokeRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	res := f.run("plan_vacation", nil)
	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindValidation, res.Error.Kind)
	assert.Contains(t, res.Message, "unknown skill")
	assert.Empty(t, res.Steps)

	res = f.run("daily_planning", map[string]any{"mood": "happy"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "unknown parameter: mood")
}

func TestDefinitions(t *testing.T) {
	reg := NewDefault(tools.NewDefault())
	var names []string
	for _, d := range reg.List() {
		names = append(names, d.Name)
		assert.Equal(t, "object", d.Parameters["type"])
	}
	assert.Equal(t, []string{"schedule_management", "meeting_planning", "daily_planning"}, names)
	assert.True(t, reg.Has("daily_planning"))
	assert.False(t, reg.Has("create_event"))
}

func TestNewRegistryPanicsOnUnknownTool(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry(tools.NewDefault(), []Skill{{Name: "bad", Steps: []Step{{Tool: "teleport"}}}})
	})
}

func TestResultRecord(t *testing.T) {
	f := newFixture(t)
	res := f.run("daily_planning", map[string]any{"date": "2024-01-11"})
	rec := res.Record()
	assert.Equal(t, "daily_planning", rec.Name)
	assert.True(t, rec.Success)
	assert.Len(t, rec.Steps, 3)
}
