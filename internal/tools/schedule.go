package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/hray3182/calpilot/internal/analyzer"
	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/models"
)

const (
	DefaultTaskGapMinutes = 10
	DefaultWorkMinutes    = 90
	DefaultBreakMinutes   = 15
)

var dateParam = Param{Name: "date", Type: TypeString, Format: FormatDate, Description: "日期（可选，默认今天）"}

var taskParam = Param{
	Type: TypeObject,
	Properties: []Param{
		{Name: "title", Type: TypeString, Required: true, Description: "任务名称"},
		{Name: "duration_minutes", Type: TypeInteger, Required: true, Description: "预计时长（分钟）"},
		{Name: "priority", Type: TypeString, Enum: []string{"high", "medium", "low"}, Description: "优先级，默认 medium"},
	},
}

// ScheduleTools returns the planning tools built on the analyzer.
func ScheduleTools() []Tool {
	return []Tool{
		{
			Name:        "generate_schedule",
			Description: "按优先级把任务排进某天工作时间的空闲时段",
			Params: []Param{
				dateParam,
				{Name: "tasks", Type: TypeArray, Required: true, Description: "待安排的任务", Items: &taskParam},
				{Name: "break_minutes", Type: TypeInteger, Description: "任务间休息（分钟），默认 10"},
			},
			Handler: generateSchedule,
		},
		{
			Name:        "suggest_breaks",
			Description: "在连续的工作时段中建议休息时间",
			Params: []Param{
				dateParam,
				{Name: "work_duration", Type: TypeInteger, Description: "连续工作多久后休息（分钟），默认 90"},
				{Name: "break_minutes", Type: TypeInteger, Description: "休息时长（分钟），默认 15"},
			},
			Handler: suggestBreaks,
		},
		{
			Name:        "optimize_schedule",
			Description: "分析某天的日程并给出优化建议（缓冲时间、午休、专注时间、会议密度）",
			Params:      []Param{dateParam},
			Handler:     optimizeSchedule,
		},
	}
}

type ScheduleData struct {
	analyzer.Schedule
	Window models.TimeRange `json:"window"`
}

type BreaksData struct {
	Breaks []analyzer.Break `json:"breaks"`
	Window models.TimeRange `json:"window"`
}

type OptimizeData struct {
	Suggestions  []analyzer.Suggestion `json:"suggestions"`
	MeetingCount int                   `json:"meeting_count"`
	EventCount   int                   `json:"event_count"`
	Date         string                `json:"date"`
}

func (e Env) day(args Args) time.Time {
	if d, ok := args.Time("date"); ok {
		return d.Start
	}
	return e.Today()
}

func positiveMinutes(args Args, name string, def int) (time.Duration, error) {
	n := args.Int(name, def)
	if n <= 0 {
		return 0, apperr.Validation("%s must be positive", name)
	}
	return time.Duration(n) * time.Minute, nil
}

func generateSchedule(ctx context.Context, env Env, args Args) (Output, error) {
	gap := time.Duration(args.Int("break_minutes", DefaultTaskGapMinutes)) * time.Minute
	if gap < 0 {
		return Output{}, apperr.Validation("break_minutes must not be negative")
	}

	var tasks []analyzer.Task
	for i, item := range args.List("tasks") {
		m := item.(map[string]any)
		minutes := m["duration_minutes"].(int)
		if minutes <= 0 {
			return Output{}, apperr.Validation("tasks[%d].duration_minutes must be positive", i)
		}
		p, _ := m["priority"].(string)
		if p == "" {
			p = string(analyzer.PriorityMedium)
		}
		tasks = append(tasks, analyzer.Task{
			Title:    m["title"].(string),
			Duration: time.Duration(minutes) * time.Minute,
			Priority: analyzer.Priority(p),
		})
	}

	w := env.work().On(env.day(args))
	events, err := env.Store.List(ctx, w, "")
	if err != nil {
		return Output{}, err
	}
	sched := analyzer.GenerateSchedule(events, w, tasks, gap)

	msg := fmt.Sprintf("已安排 %d 项任务", len(sched.Placed))
	if len(sched.Unplaced) > 0 {
		msg += fmt.Sprintf("，%d 项因时间不足未能安排", len(sched.Unplaced))
	}
	return Output{Data: ScheduleData{Schedule: sched, Window: w}, Message: msg}, nil
}

func suggestBreaks(ctx context.Context, env Env, args Args) (Output, error) {
	work, err := positiveMinutes(args, "work_duration", DefaultWorkMinutes)
	if err != nil {
		return Output{}, err
	}
	brk, err := positiveMinutes(args, "break_minutes", DefaultBreakMinutes)
	if err != nil {
		return Output{}, err
	}

	w := env.work().On(env.day(args))
	events, err := env.Store.List(ctx, w, "")
	if err != nil {
		return Output{}, err
	}
	breaks := analyzer.SuggestBreaks(events, w, work, brk)
	if breaks == nil {
		breaks = []analyzer.Break{}
	}
	msg := fmt.Sprintf("建议 %d 次休息", len(breaks))
	if len(breaks) == 0 {
		msg = "没有需要插入休息的长时段"
	}
	return Output{Data: BreaksData{Breaks: breaks, Window: w}, Message: msg}, nil
}

func optimizeSchedule(ctx context.Context, env Env, args Args) (Output, error) {
	day := env.day(args)
	r := models.TimeRange{Start: day, End: day.AddDate(0, 0, 1)}
	events, err := env.Store.List(ctx, r, "")
	if err != nil {
		return Output{}, err
	}
	suggestions, meetings := analyzer.OptimizeSchedule(events, env.Loc())
	if suggestions == nil {
		suggestions = []analyzer.Suggestion{}
	}
	msg := "日程安排合理，暂无优化建议"
	if len(suggestions) > 0 {
		msg = fmt.Sprintf("有 %d 条优化建议", len(suggestions))
	}
	return Output{
		Data: OptimizeData{
			Suggestions:  suggestions,
			MeetingCount: meetings,
			EventCount:   len(events),
			Date:         day.Format("2006-01-02"),
		},
		Message: msg,
	}, nil
}
