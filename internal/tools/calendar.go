package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/calpilot/internal/analyzer"
	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/rrule"
	"github.com/hray3182/calpilot/internal/timeparse"
)

// DefaultEventDuration applies when a new event has a start but no end.
const DefaultEventDuration = time.Hour

// DefaultListDays is the span of list and conflict queries without an end.
const DefaultListDays = 7

const timeHint = "ISO 8601 (2024-03-20T14:00:00) 或自然语言（明天下午3点）"

var weekdayNames = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

var weekdayByName = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday,
}

var recurrenceParam = Param{
	Name:        "recurrence_rule",
	Type:        TypeObject,
	Description: "重复规则（可选），用于创建每周例会等重复事件",
	Properties: []Param{
		{Name: "type", Type: TypeString, Required: true, Enum: []string{"daily", "weekly", "monthly"}, Description: "重复类型"},
		{Name: "interval", Type: TypeInteger, Description: "间隔，默认 1"},
		{Name: "days", Type: TypeArray, Description: "每周重复的星期几（仅 weekly）", Items: &Param{Type: TypeString, Enum: weekdayNames}},
		{Name: "end_date", Type: TypeString, Format: FormatDate, Description: "重复结束日期（含），默认 3 个月后"},
	},
}

// CalendarTools returns the event tools.
func CalendarTools() []Tool {
	return []Tool{
		{
			Name:        "create_event",
			Description: "创建日历事件，支持单次和重复事件。未给结束时间时默认持续 1 小时。",
			Params: []Param{
				{Name: "title", Type: TypeString, Required: true, Description: "事件标题"},
				{Name: "start_time", Type: TypeString, Format: FormatDateTime, Required: true, Description: "开始时间，" + timeHint},
				{Name: "end_time", Type: TypeString, Format: FormatDateTime, Description: "结束时间（可选）"},
				{Name: "description", Type: TypeString, Description: "描述（可选）"},
				{Name: "location", Type: TypeString, Description: "地点（可选）"},
				{Name: "all_day", Type: TypeBoolean, Description: "是否全天事件"},
				recurrenceParam,
			},
			Handler: createEvent,
		},
		{
			Name:        "list_events",
			Description: "查询时间范围内的事件，默认今天起 7 天，可按关键词过滤标题和描述。",
			Params: []Param{
				{Name: "start_date", Type: TypeString, Format: FormatDateTime, Description: "开始日期（可选）"},
				{Name: "end_date", Type: TypeString, Format: FormatDateTime, Description: "结束日期（可选，含当天）"},
				{Name: "keyword", Type: TypeString, Description: "关键词（可选）"},
			},
			Handler: listEvents,
		},
		{
			Name:        "get_event",
			Description: "按 ID 获取单个事件",
			Params: []Param{
				{Name: "event_id", Type: TypeString, Required: true, Description: "事件 ID"},
			},
			Handler: getEvent,
		},
		{
			Name:        "update_event",
			Description: "更新已有事件，只修改提供的字段",
			Params: []Param{
				{Name: "event_id", Type: TypeString, Required: true, Description: "事件 ID"},
				{Name: "title", Type: TypeString, Description: "新标题"},
				{Name: "start_time", Type: TypeString, Format: FormatDateTime, Description: "新的开始时间"},
				{Name: "end_time", Type: TypeString, Format: FormatDateTime, Description: "新的结束时间"},
				{Name: "description", Type: TypeString, Description: "新描述"},
				{Name: "location", Type: TypeString, Description: "新地点"},
			},
			Handler: updateEvent,
		},
		{
			Name:        "delete_event",
			Description: "删除事件。重复事件的父事件默认连同所有实例一起删除。",
			Params: []Param{
				{Name: "event_id", Type: TypeString, Required: true, Description: "事件 ID"},
				{Name: "delete_all_instances", Type: TypeBoolean, Description: "是否删除重复事件的所有实例，默认 true"},
			},
			Handler: deleteEvent,
		},
		{
			Name:        "find_free_slots",
			Description: "查找空闲时段。给定 date 时在当天工作时间内查找，也可以用 start_time/end_time 指定范围。",
			Params: []Param{
				{Name: "date", Type: TypeString, Format: FormatDate, Description: "日期（可选，默认今天）"},
				{Name: "start_time", Type: TypeString, Format: FormatDateTime, Description: "范围开始（可选）"},
				{Name: "end_time", Type: TypeString, Format: FormatDateTime, Description: "范围结束（可选）"},
				{Name: "duration_minutes", Type: TypeInteger, Description: "所需时长（分钟），默认 60"},
			},
			Handler: findFreeSlots,
		},
		{
			Name:        "detect_conflicts",
			Description: "检测时间范围内重叠的事件，默认今天起 7 天",
			Params: []Param{
				{Name: "start_date", Type: TypeString, Format: FormatDateTime, Description: "开始日期（可选）"},
				{Name: "end_date", Type: TypeString, Format: FormatDateTime, Description: "结束日期（可选，含当天）"},
				{Name: "days", Type: TypeInteger, Description: "从开始日期起的天数（可选）"},
			},
			Handler: detectConflicts,
		},
	}
}

type EventData struct {
	Event       *models.Event   `json:"event"`
	Occurrences []*models.Event `json:"occurrences,omitempty"`
}

type ListData struct {
	Events []*models.Event  `json:"events"`
	Count  int              `json:"count"`
	Range  models.TimeRange `json:"range"`
}

type DeleteData struct {
	EventID string `json:"event_id"`
	Deleted int    `json:"deleted"`
}

type FreeSlotsData struct {
	Slots           []models.TimeRange `json:"slots"`
	DurationMinutes int                `json:"duration_minutes"`
	Window          models.TimeRange   `json:"window"`
}

type ConflictsData struct {
	Conflicts []analyzer.Conflict `json:"conflicts"`
	Count     int                 `json:"count"`
	Range     models.TimeRange    `json:"range"`
}

func createEvent(ctx context.Context, env Env, args Args) (Output, error) {
	loc := env.Loc()
	start, _ := args.Time("start_time")

	event := &models.Event{
		Title:       args.String("title"),
		Description: args.String("description"),
		Location:    args.String("location"),
		Start:       start.Start,
	}

	switch {
	case start.IsRange:
		event.End = start.End
		event.AllDay = !start.HasTime
	case !start.HasTime:
		event.AllDay = true
		event.End = start.Start.AddDate(0, 0, 1)
	case start.Duration > 0:
		event.End = start.Start.Add(start.Duration)
	default:
		event.End = start.Start.Add(DefaultEventDuration)
	}

	if end, ok := args.Time("end_time"); ok {
		switch {
		case end.IsRange:
			event.End = end.End
		case end.HasTime:
			event.End = end.Start
		default:
			event.End = end.Start.AddDate(0, 0, 1)
		}
	}

	if args.Bool("all_day", false) && !event.AllDay {
		event.AllDay = true
		event.Start = timeparse.StartOfDay(event.Start, loc)
		event.End = timeparse.StartOfDay(event.End.Add(-time.Nanosecond), loc).AddDate(0, 0, 1)
	}

	if !event.End.After(event.Start) {
		return Output{}, apperr.Validation("end_time %s must be after start_time %s",
			event.End.In(loc).Format(time.RFC3339), event.Start.In(loc).Format(time.RFC3339))
	}

	if m := args.Object("recurrence_rule"); m != nil {
		return createSeries(ctx, env, event, recurrenceFrom(m))
	}

	created, err := env.Store.Create(ctx, event)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Data:    EventData{Event: created},
		Message: fmt.Sprintf("已创建事件「%s」（%s）", created.Title, formatSpan(created, loc)),
	}, nil
}

func recurrenceFrom(m map[string]any) *models.RecurrenceRule {
	rule := &models.RecurrenceRule{Frequency: models.Frequency(m["type"].(string))}
	if n, ok := m["interval"].(int); ok {
		rule.Interval = n
	}
	if days, ok := m["days"].([]any); ok {
		for _, d := range days {
			rule.Weekdays = append(rule.Weekdays, weekdayByName[d.(string)])
		}
	}
	if end, ok := m["end_date"].(timeparse.Result); ok {
		u := end.Start
		rule.Until = &u
	}
	return rule
}

// createSeries stores the parent (first occurrence, carrying the rule) and
// every later occurrence as a child in one batch.
func createSeries(ctx context.Context, env Env, event *models.Event, rule *models.RecurrenceRule) (Output, error) {
	if rule.Interval < 0 {
		return Output{}, apperr.Validation("recurrence interval must be positive")
	}
	starts, err := rrule.Occurrences(rule, event.Start)
	if err != nil {
		return Output{}, err
	}

	duration := event.Duration()
	parent := event.Clone()
	parent.ID = uuid.NewString()
	parent.Recurrence = rule
	parent.Start = starts[0]
	parent.End = starts[0].Add(duration)

	batch := []*models.Event{parent}
	for _, s := range starts[1:] {
		child := event.Clone()
		child.Start = s
		child.End = s.Add(duration)
		child.ParentID = parent.ID
		batch = append(batch, child)
	}

	created, err := env.Store.CreateBatch(ctx, batch)
	if err != nil {
		return Output{}, err
	}

	loc := env.Loc()
	return Output{
		Data: EventData{Event: created[0], Occurrences: created[1:]},
		Message: fmt.Sprintf("已创建重复事件「%s」（%s，%s），共 %d 次", created[0].Title,
			rrule.HumanReadableChinese(rule, loc), formatSpan(created[0], loc), len(created)),
	}, nil
}

// queryRange reads start_date/end_date. A date-only end includes that day;
// without an end the range spans DefaultListDays.
func queryRange(env Env, args Args) (models.TimeRange, error) {
	r := models.TimeRange{Start: env.Today()}
	start, hasStart := args.Time("start_date")
	if hasStart {
		r.Start = start.Start
	}
	r.End = r.Start.AddDate(0, 0, DefaultListDays)
	if hasStart && start.IsRange {
		r.End = start.End
	}
	if n := args.Int("days", 0); n > 0 {
		r.End = r.Start.AddDate(0, 0, n)
	} else if args.Has("days") {
		return r, apperr.Validation("days must be positive")
	}
	if end, ok := args.Time("end_date"); ok {
		switch {
		case end.IsRange:
			r.End = end.End
		case end.HasTime:
			r.End = end.Start
		default:
			r.End = end.Start.AddDate(0, 0, 1)
		}
	}
	if !r.End.After(r.Start) {
		return r, apperr.Validation("end_date must be after start_date")
	}
	return r, nil
}

func listEvents(ctx context.Context, env Env, args Args) (Output, error) {
	r, err := queryRange(env, args)
	if err != nil {
		return Output{}, err
	}
	events, err := env.Store.List(ctx, r, args.String("keyword"))
	if err != nil {
		return Output{}, err
	}
	if events == nil {
		events = []*models.Event{}
	}
	msg := fmt.Sprintf("找到 %d 个事件", len(events))
	if len(events) == 0 {
		msg = "该时间段没有事件"
	}
	return Output{Data: ListData{Events: events, Count: len(events), Range: r}, Message: msg}, nil
}

func getEvent(ctx context.Context, env Env, args Args) (Output, error) {
	e, err := env.Store.Get(ctx, args.String("event_id"))
	if err != nil {
		return Output{}, err
	}
	return Output{Data: EventData{Event: e}, Message: fmt.Sprintf("「%s」%s", e.Title, formatSpan(e, env.Loc()))}, nil
}

func updateEvent(ctx context.Context, env Env, args Args) (Output, error) {
	var patch models.EventPatch
	for name, field := range map[string]**string{
		"title":       &patch.Title,
		"description": &patch.Description,
		"location":    &patch.Location,
	} {
		if args.Has(name) {
			s := args.String(name)
			*field = &s
		}
	}
	if r, ok := args.Time("start_time"); ok {
		patch.Start = &r.Start
		if r.IsRange {
			patch.End = &r.End
		}
	}
	if r, ok := args.Time("end_time"); ok {
		end := r.Start
		if r.IsRange {
			end = r.End
		}
		patch.End = &end
	}
	if patch.Empty() {
		return Output{}, apperr.Validation("no fields to update")
	}

	updated, err := env.Store.Update(ctx, args.String("event_id"), patch)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Data:    EventData{Event: updated},
		Message: fmt.Sprintf("已更新事件「%s」（%s）", updated.Title, formatSpan(updated, env.Loc())),
	}, nil
}

func deleteEvent(ctx context.Context, env Env, args Args) (Output, error) {
	id := args.String("event_id")
	e, err := env.Store.Get(ctx, id)
	if err != nil {
		return Output{}, err
	}

	if e.IsRecurring() && args.Bool("delete_all_instances", true) {
		n, err := env.Store.DeleteSeries(ctx, id)
		if err != nil {
			return Output{}, err
		}
		return Output{
			Data:    DeleteData{EventID: id, Deleted: n},
			Message: fmt.Sprintf("已删除重复事件「%s」及其 %d 个实例", e.Title, n-1),
		}, nil
	}

	if err := env.Store.Delete(ctx, id); err != nil {
		return Output{}, err
	}
	return Output{Data: DeleteData{EventID: id, Deleted: 1}, Message: fmt.Sprintf("已删除事件「%s」", e.Title)}, nil
}

// slotWindow picks the search window of find_free_slots. Windows derived
// from a whole day are the day's work hours, trimmed to the present. Without
// a date, the search moves to tomorrow once today's work hours have ended.
func slotWindow(env Env, args Args) (models.TimeRange, error) {
	work := env.work()
	if start, ok := args.Time("start_time"); ok {
		if start.IsRange {
			return models.TimeRange{Start: start.Start, End: start.End}, nil
		}
		w := work.On(start.Start)
		if start.HasTime {
			w.Start = start.Start
		}
		if end, ok := args.Time("end_time"); ok {
			w.End = end.Start
			if !end.HasTime {
				w.End = work.On(end.Start).End
			}
		}
		if !w.End.After(w.Start) {
			return w, apperr.Validation("end_time must be after start_time")
		}
		return w, nil
	}

	day := env.Today()
	d, explicit := args.Time("date")
	if explicit {
		day = d.Start
	}
	w := work.On(day)
	now := env.now().Truncate(time.Minute)
	if !explicit && !now.Before(w.End) {
		// today's work hours are over
		w = work.On(day.AddDate(0, 0, 1))
	}
	if now.After(w.Start) {
		// never offer time that has already passed; a spent day yields an empty window
		w.Start = now
		if w.Start.After(w.End) {
			w.Start = w.End
		}
	}
	return w, nil
}

func findFreeSlots(ctx context.Context, env Env, args Args) (Output, error) {
	minutes := args.Int("duration_minutes", 60)
	if minutes <= 0 {
		return Output{}, apperr.Validation("duration_minutes must be positive")
	}
	w, err := slotWindow(env, args)
	if err != nil {
		return Output{}, err
	}
	events, err := env.Store.List(ctx, w, "")
	if err != nil {
		return Output{}, err
	}

	slots := analyzer.FindFreeSlots(events, w, time.Duration(minutes)*time.Minute)
	if slots == nil {
		slots = []models.TimeRange{}
	}
	msg := fmt.Sprintf("找到 %d 个可用的 %d 分钟时段", len(slots), minutes)
	if len(slots) == 0 {
		msg = fmt.Sprintf("%s 没有 %d 分钟的空闲时段", formatRange(w, env.Loc()), minutes)
	}
	return Output{Data: FreeSlotsData{Slots: slots, DurationMinutes: minutes, Window: w}, Message: msg}, nil
}

func detectConflicts(ctx context.Context, env Env, args Args) (Output, error) {
	r, err := queryRange(env, args)
	if err != nil {
		return Output{}, err
	}
	events, err := env.Store.List(ctx, r, "")
	if err != nil {
		return Output{}, err
	}
	conflicts := analyzer.DetectConflicts(events)
	if conflicts == nil {
		conflicts = []analyzer.Conflict{}
	}
	msg := "没有发现时间冲突"
	if len(conflicts) > 0 {
		msg = fmt.Sprintf("发现 %d 处时间冲突", len(conflicts))
	}
	return Output{Data: ConflictsData{Conflicts: conflicts, Count: len(conflicts), Range: r}, Message: msg}, nil
}

func formatSpan(e *models.Event, loc *time.Location) string {
	if e.AllDay {
		last := e.End.Add(-time.Nanosecond).In(loc)
		first := e.Start.In(loc)
		if first.YearDay() == last.YearDay() && first.Year() == last.Year() {
			return first.Format("2006-01-02") + " 全天"
		}
		return first.Format("2006-01-02") + " 至 " + last.Format("2006-01-02")
	}
	return formatRange(models.TimeRange{Start: e.Start, End: e.End}, loc)
}

func formatRange(r models.TimeRange, loc *time.Location) string {
	s, e := r.Start.In(loc), r.End.In(loc)
	if s.Format("2006-01-02") == e.Format("2006-01-02") {
		return s.Format("2006-01-02 15:04") + "-" + e.Format("15:04")
	}
	return s.Format("2006-01-02 15:04") + " - " + e.Format("2006-01-02 15:04")
}
