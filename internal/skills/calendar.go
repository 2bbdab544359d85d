package skills

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/calpilot/internal/analyzer"
	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/tools"
)

const dateLayout = "2006-01-02"

// forward copies the named raw inputs so the tool resolves them itself.
func forward(sc *StepContext, names ...string) map[string]any {
	out := map[string]any{}
	raw := sc.Args.Raw()
	for _, n := range names {
		if v, ok := raw[n]; ok && v != nil {
			out[n] = v
		}
	}
	return out
}

// day returns the date argument, or today.
func day(sc *StepContext) time.Time {
	if d, ok := sc.Args.Time("date"); ok {
		return d.Start
	}
	return sc.Env.Today()
}

func clock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}

func stamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("01-02 15:04")
}

// ScheduleManagement lists a range, checks it for conflicts and reviews the
// first day of it.
func ScheduleManagement() Skill {
	return Skill{
		Name:        "schedule_management",
		Description: "查看日程：列出事件、检查冲突并给出优化建议，默认今天起 7 天",
		Params: []tools.Param{
			{Name: "start_date", Type: tools.TypeString, Format: tools.FormatDateTime, Description: "开始日期（可选）"},
			{Name: "end_date", Type: tools.TypeString, Format: tools.FormatDateTime, Description: "结束日期（可选，含当天）"},
		},
		Steps: []Step{
			{
				Tool:   "list_events",
				Params: func(sc *StepContext) (map[string]any, error) { return forward(sc, "start_date", "end_date"), nil },
			},
			{
				Tool:   "detect_conflicts",
				Policy: Continue,
				Params: func(sc *StepContext) (map[string]any, error) { return forward(sc, "start_date", "end_date"), nil },
			},
			{
				Tool:   "optimize_schedule",
				Policy: Continue,
				Params: func(sc *StepContext) (map[string]any, error) {
					list := sc.Data("list_events").(tools.ListData)
					return map[string]any{"date": list.Range.Start.In(sc.Env.Loc()).Format(dateLayout)}, nil
				},
			},
		},
		Summarize: summarizeSchedule,
	}
}

func summarizeSchedule(sc *StepContext) Summary {
	loc := sc.Env.Loc()
	list := sc.Data("list_events").(tools.ListData)

	var b strings.Builder
	if len(list.Events) == 0 {
		b.WriteString("这段时间没有安排，日程很空闲！")
	} else {
		fmt.Fprintf(&b, "共有 %d 个事件：", len(list.Events))
		for i, e := range list.Events {
			if i == 5 {
				fmt.Fprintf(&b, "\n  …还有 %d 个", len(list.Events)-5)
				break
			}
			fmt.Fprintf(&b, "\n  %d. %s %s", i+1, stamp(e.Start, loc), e.Title)
		}
	}

	var conflicts []analyzer.Conflict
	if d, ok := sc.Data("detect_conflicts").(tools.ConflictsData); ok {
		conflicts = d.Conflicts
	}
	if len(conflicts) > 0 {
		fmt.Fprintf(&b, "\n\n⚠️ 发现 %d 处冲突：", len(conflicts))
		for _, c := range conflicts[:min(3, len(conflicts))] {
			fmt.Fprintf(&b, "\n  • 「%s」与「%s」重叠", c.First.Title, c.Second.Title)
		}
	}

	var suggestions []string
	if d, ok := sc.Data("optimize_schedule").(tools.OptimizeData); ok {
		for _, s := range d.Suggestions {
			suggestions = append(suggestions, s.Message)
		}
	}
	if len(suggestions) > 0 {
		b.WriteString("\n\n💡 建议：")
		for _, s := range suggestions[:min(3, len(suggestions))] {
			b.WriteString("\n  • " + s)
		}
	}

	if conflicts == nil {
		conflicts = []analyzer.Conflict{}
	}
	return Summary{
		Message: b.String(),
		Data: map[string]any{
			"events":      list.Events,
			"conflicts":   conflicts,
			"suggestions": suggestions,
			"range":       list.Range,
		},
		Suggestions: suggestions,
	}
}

// MeetingPlanning finds the first free slot and books it unless
// auto_schedule is false.
func MeetingPlanning() Skill {
	return Skill{
		Name:        "meeting_planning",
		Description: "为会议寻找空闲时段，并默认预订第一个可用时段",
		Params: []tools.Param{
			{Name: "title", Type: tools.TypeString, Description: "会议标题，默认「会议」"},
			{Name: "date", Type: tools.TypeString, Format: tools.FormatDate, Description: "日期（可选，默认今天）"},
			{Name: "start_time", Type: tools.TypeString, Format: tools.FormatDateTime, Description: "查找范围开始（可选）"},
			{Name: "end_time", Type: tools.TypeString, Format: tools.FormatDateTime, Description: "查找范围结束（可选）"},
			{Name: "duration_minutes", Type: tools.TypeInteger, Description: "会议时长（分钟），默认 60"},
			{Name: "description", Type: tools.TypeString, Description: "会议描述（可选）"},
			{Name: "location", Type: tools.TypeString, Description: "地点（可选）"},
			{Name: "auto_schedule", Type: tools.TypeBoolean, Description: "是否自动预订第一个时段，默认 true"},
		},
		Steps: []Step{
			{
				Tool: "find_free_slots",
				Params: func(sc *StepContext) (map[string]any, error) {
					return forward(sc, "date", "start_time", "end_time", "duration_minutes"), nil
				},
			},
			{
				Tool: "create_event",
				Skip: func(sc *StepContext) bool { return !sc.Args.Bool("auto_schedule", true) },
				Params: func(sc *StepContext) (map[string]any, error) {
					slots := sc.Data("find_free_slots").(tools.FreeSlotsData)
					if len(slots.Slots) == 0 {
						return nil, apperr.NotFound("没有可用的 %d 分钟时段", slots.DurationMinutes)
					}
					slot := slots.Slots[0]
					p := forward(sc, "description", "location")
					p["title"] = meetingTitle(sc)
					p["start_time"] = slot.Start.Format(time.RFC3339)
					p["end_time"] = slot.End.Format(time.RFC3339)
					return p, nil
				},
			},
		},
		Summarize: summarizeMeeting,
	}
}

func meetingTitle(sc *StepContext) string {
	if t := sc.Args.String("title"); t != "" {
		return t
	}
	return "会议"
}

func summarizeMeeting(sc *StepContext) Summary {
	loc := sc.Env.Loc()
	slots := sc.Data("find_free_slots").(tools.FreeSlotsData)

	data := map[string]any{"free_slots": slots.Slots}
	var b strings.Builder
	var suggestions []string

	if len(slots.Slots) == 0 {
		fmt.Fprintf(&b, "没有找到 %d 分钟的空闲时段，可以换一天试试。", slots.DurationMinutes)
		return Summary{Message: b.String(), Data: data}
	}

	best := slots.Slots[0]
	data["recommended_slot"] = best
	if created, ok := sc.Data("create_event").(tools.EventData); ok {
		data["event"] = created.Event
		fmt.Fprintf(&b, "✅ 已将「%s」安排在 %s-%s", created.Event.Title, stamp(best.Start, loc), clock(best.End, loc))
	} else {
		fmt.Fprintf(&b, "找到 %d 个可用的 %d 分钟时段，推荐 %s-%s", len(slots.Slots), slots.DurationMinutes,
			stamp(best.Start, loc), clock(best.End, loc))
	}

	for _, s := range slots.Slots[1:min(4, len(slots.Slots))] {
		suggestions = append(suggestions, fmt.Sprintf("备选时段 %s-%s", stamp(s.Start, loc), clock(s.End, loc)))
	}
	if len(suggestions) > 0 {
		b.WriteString("\n其他可选：")
		for _, s := range suggestions {
			b.WriteString("\n  • " + strings.TrimPrefix(s, "备选时段 "))
		}
	}
	return Summary{Message: b.String(), Data: data, Suggestions: suggestions}
}

// DailyPlanning lays out one day: existing events, the given tasks placed
// by priority, and suggested breaks.
func DailyPlanning() Skill {
	return Skill{
		Name:        "daily_planning",
		Description: "规划一天：查看已有事件，按优先级安排任务，并建议休息时间",
		Params: []tools.Param{
			{Name: "date", Type: tools.TypeString, Format: tools.FormatDate, Description: "日期（可选，默认今天）"},
			{
				Name:        "tasks",
				Type:        tools.TypeArray,
				Description: "待安排的任务（可选）",
				Items: &tools.Param{Type: tools.TypeObject, Properties: []tools.Param{
					{Name: "title", Type: tools.TypeString, Required: true},
					{Name: "duration_minutes", Type: tools.TypeInteger, Required: true},
					{Name: "priority", Type: tools.TypeString, Enum: []string{"high", "medium", "low"}},
				}},
			},
		},
		Steps: []Step{
			{
				Tool: "list_events",
				Params: func(sc *StepContext) (map[string]any, error) {
					d := day(sc).Format(dateLayout)
					return map[string]any{"start_date": d, "end_date": d}, nil
				},
			},
			{
				Tool:   "generate_schedule",
				Policy: Continue,
				Skip:   func(sc *StepContext) bool { return len(sc.Args.List("tasks")) == 0 },
				Params: func(sc *StepContext) (map[string]any, error) {
					return map[string]any{"date": day(sc).Format(dateLayout), "tasks": sc.Args.Raw()["tasks"]}, nil
				},
			},
			{
				Tool:   "suggest_breaks",
				Policy: Continue,
				Params: func(sc *StepContext) (map[string]any, error) {
					return map[string]any{"date": day(sc).Format(dateLayout)}, nil
				},
			},
		},
		Summarize: summarizeDay,
	}
}

func summarizeDay(sc *StepContext) Summary {
	loc := sc.Env.Loc()
	list := sc.Data("list_events").(tools.ListData)

	var b strings.Builder
	if len(list.Events) > 0 {
		fmt.Fprintf(&b, "📅 已有 %d 个事件", len(list.Events))
	} else {
		b.WriteString("📅 当天没有已安排的事件")
	}

	var placed []analyzer.Placement
	var unplaced []analyzer.Task
	if d, ok := sc.Data("generate_schedule").(tools.ScheduleData); ok {
		placed, unplaced = d.Placed, d.Unplaced
	}
	if len(placed) > 0 {
		fmt.Fprintf(&b, "\n\n✅ 已安排 %d 项任务：", len(placed))
		for _, p := range placed {
			fmt.Fprintf(&b, "\n  • %s：%s-%s", p.Task.Title, clock(p.Start, loc), clock(p.End, loc))
		}
	}
	var suggestions []string
	if len(unplaced) > 0 {
		fmt.Fprintf(&b, "\n\n⚠️ %d 项任务没有排下", len(unplaced))
		suggestions = append(suggestions, "考虑延长工作时间或把部分任务移到明天")
	}

	var breaks []analyzer.Break
	if d, ok := sc.Data("suggest_breaks").(tools.BreaksData); ok {
		breaks = d.Breaks
	}
	if len(breaks) > 0 {
		b.WriteString("\n\n☕ 建议休息：")
		for _, br := range breaks {
			fmt.Fprintf(&b, "\n  • %s-%s（%s）", clock(br.Start, loc), clock(br.End, loc), br.Reason)
			suggestions = append(suggestions, fmt.Sprintf("%s 休息 %d 分钟", clock(br.Start, loc), int(br.End.Sub(br.Start).Minutes())))
		}
	}

	fmt.Fprintf(&b, "\n\n📊 合计 %d 项安排", len(list.Events)+len(placed))

	if placed == nil {
		placed = []analyzer.Placement{}
	}
	if breaks == nil {
		breaks = []analyzer.Break{}
	}
	return Summary{
		Message: b.String(),
		Data: map[string]any{
			"existing_events":  list.Events,
			"scheduled_tasks":  placed,
			"unplaced_tasks":   unplaced,
			"suggested_breaks": breaks,
		},
		Suggestions: suggestions,
	}
}
