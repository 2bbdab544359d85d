// Package analyzer answers availability and conflict questions over a
// snapshot of events. Every function is pure.
package analyzer

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hray3182/calpilot/internal/models"
)

// Overlaps reports whether a and b share any instant; touching boundaries do not count.
func Overlaps(a, b *models.Event) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func sorted(events []*models.Event) []*models.Event {
	out := slices.Clone(events)
	models.SortByStart(out)
	return out
}

// Gaps returns the free intervals of window not covered by any event, in order.
func Gaps(events []*models.Event, window models.TimeRange) []models.TimeRange {
	var gaps []models.TimeRange
	cursor := window.Start
	for _, e := range sorted(events) {
		if !e.Intersects(window.Start, window.End) {
			continue
		}
		if e.Start.After(cursor) {
			gaps = append(gaps, models.TimeRange{Start: cursor, End: e.Start})
		}
		if e.End.After(cursor) {
			cursor = e.End
		}
	}
	if window.End.After(cursor) {
		gaps = append(gaps, models.TimeRange{Start: cursor, End: window.End})
	}
	return gaps
}

// FindFreeSlots returns one slot of exactly d per gap long enough to hold it,
// anchored at the gap's start, earliest first.
func FindFreeSlots(events []*models.Event, window models.TimeRange, d time.Duration) []models.TimeRange {
	if d <= 0 {
		return nil
	}
	var slots []models.TimeRange
	for _, g := range Gaps(events, window) {
		if g.Duration() >= d {
			slots = append(slots, models.TimeRange{Start: g.Start, End: g.Start.Add(d)})
		}
	}
	return slots
}

type Conflict struct {
	First   *models.Event    `json:"first"`
	Second  *models.Event    `json:"second"`
	Overlap models.TimeRange `json:"overlap"`
}

// DetectConflicts returns every overlapping pair, ordered by the first event's start.
func DetectConflicts(events []*models.Event) []Conflict {
	evs := sorted(events)
	var out []Conflict
	for i, a := range evs {
		for _, b := range evs[i+1:] {
			if !b.Start.Before(a.End) {
				break
			}
			if Overlaps(a, b) {
				out = append(out, Conflict{
					First:  a,
					Second: b,
					Overlap: models.TimeRange{
						Start: laterOf(a.Start, b.Start),
						End:   earlierOf(a.End, b.End),
					},
				})
			}
		}
	}
	return out
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	}
	return 1
}

type Task struct {
	Title    string        `json:"title"`
	Duration time.Duration `json:"duration"`
	Priority Priority      `json:"priority"`
}

type Placement struct {
	Task  Task      `json:"task"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Schedule struct {
	Placed   []Placement `json:"placed"`
	Unplaced []Task      `json:"unplaced"`
}

// GenerateSchedule places tasks by priority into the free time of window.
// Each task starts at the earliest free point after the previous one plus
// gap; tasks that no longer fit are returned as unplaced.
func GenerateSchedule(events []*models.Event, window models.TimeRange, tasks []Task, gap time.Duration) Schedule {
	ordered := slices.Clone(tasks)
	slices.SortStableFunc(ordered, func(a, b Task) int {
		return a.Priority.rank() - b.Priority.rank()
	})

	var sched Schedule
	cursor := window.Start
	for _, t := range ordered {
		if !cursor.Before(window.End) {
			sched.Unplaced = append(sched.Unplaced, t)
			continue
		}
		slots := FindFreeSlots(events, models.TimeRange{Start: cursor, End: window.End}, t.Duration)
		if len(slots) == 0 {
			sched.Unplaced = append(sched.Unplaced, t)
			continue
		}
		s := slots[0]
		sched.Placed = append(sched.Placed, Placement{Task: t, Start: s.Start, End: s.End})
		cursor = s.End.Add(gap)
	}
	return sched
}

type Break struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"`
}

// SuggestBreaks proposes a break workDuration into every free stretch of
// window that is at least workDuration long.
func SuggestBreaks(events []*models.Event, window models.TimeRange, workDuration, breakDuration time.Duration) []Break {
	var breaks []Break
	for _, g := range Gaps(events, window) {
		if g.Duration() < workDuration {
			continue
		}
		start := g.Start.Add(workDuration)
		if !start.Before(g.End) {
			continue
		}
		breaks = append(breaks, Break{
			Start:  start,
			End:    earlierOf(start.Add(breakDuration), g.End),
			Reason: fmt.Sprintf("连续工作超过 %d 分钟", int(workDuration.Minutes())),
		})
	}
	return breaks
}

type SuggestionType string

const (
	SuggestBuffer      SuggestionType = "buffer_time"
	SuggestLunch       SuggestionType = "lunch_break"
	SuggestFocus       SuggestionType = "focus_time"
	SuggestMeetingLoad SuggestionType = "meeting_load"
)

type Suggestion struct {
	Type     SuggestionType `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	EventIDs []string       `json:"event_ids,omitempty"`
}

var (
	lunchWords   = []string{"lunch", "break", "午饭", "午餐", "休息"}
	focusWords   = []string{"focus", "deep work", "专注", "深度工作"}
	meetingWords = []string{"meeting", "call", "sync", "standup", "会议", "例会", "通话"}
)

// MinBuffer is the smallest gap between consecutive events that is not flagged.
const MinBuffer = 10 * time.Minute

// OptimizeSchedule inspects one day of events and suggests improvements.
// loc is used to read the lunch window.
func OptimizeSchedule(events []*models.Event, loc *time.Location) ([]Suggestion, int) {
	evs := sorted(events)
	var out []Suggestion

	for i := 0; i+1 < len(evs); i++ {
		cur, next := evs[i], evs[i+1]
		if next.Start.Sub(cur.End) < MinBuffer {
			out = append(out, Suggestion{
				Type:     SuggestBuffer,
				Severity: "medium",
				Message:  "建议在「" + cur.Title + "」和「" + next.Title + "」之间留出缓冲时间",
				EventIDs: []string{cur.ID, next.ID},
			})
		}
	}

	hasLunch := slices.ContainsFunc(evs, func(e *models.Event) bool {
		h := e.Start.In(loc).Hour()
		return h >= 12 && h <= 13 && containsAny(e.Title, lunchWords)
	})
	if !hasLunch && len(evs) > 3 {
		out = append(out, Suggestion{Type: SuggestLunch, Severity: "high", Message: "建议安排午休，保持精力"})
	}

	hasFocus := slices.ContainsFunc(evs, func(e *models.Event) bool {
		return containsAny(e.Title, focusWords)
	})
	if !hasFocus && len(evs) > 2 {
		out = append(out, Suggestion{Type: SuggestFocus, Severity: "medium", Message: "建议预留一段不被打扰的专注时间"})
	}

	meetings := 0
	for _, e := range evs {
		if containsAny(e.Title, meetingWords) {
			meetings++
		}
	}
	if meetings > 4 {
		out = append(out, Suggestion{
			Type:     SuggestMeetingLoad,
			Severity: "high",
			Message:  fmt.Sprintf("今天有 %d 个会议，考虑把部分改为异步沟通", meetings),
		})
	}

	return out, meetings
}

func containsAny(s string, words []string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
