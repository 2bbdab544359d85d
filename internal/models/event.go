package models

import (
	"slices"
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// RecurrenceRule describes a repeating series. Weekdays only applies to weekly rules.
type RecurrenceRule struct {
	Frequency Frequency      `json:"frequency"`
	Interval  int            `json:"interval,omitempty"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	Until     *time.Time     `json:"until,omitempty"` // inclusive
}

// EffectiveWeekdays returns the weekday filter, or nil when the rule ignores it.
func (r *RecurrenceRule) EffectiveWeekdays() []time.Weekday {
	if r == nil || r.Frequency != FrequencyWeekly {
		return nil
	}
	return r.Weekdays
}

type Event struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	AllDay      bool            `json:"all_day,omitempty"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	Recurrence  *RecurrenceRule `json:"recurrence,omitempty"`
	ParentID    string          `json:"parent_event_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsRecurring returns true if this event is the parent of a series
func (e *Event) IsRecurring() bool {
	return e.Recurrence != nil
}

func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports half-open interval overlap; touching boundaries do not overlap.
func (e *Event) Overlaps(o *Event) bool {
	return e.Start.Before(o.End) && o.Start.Before(e.End)
}

// Intersects reports whether the event overlaps the half-open range [start, end).
func (e *Event) Intersects(start, end time.Time) bool {
	return e.Start.Before(end) && start.Before(e.End)
}

// Matches performs a case-insensitive substring match on title and description.
func (e *Event) Matches(keyword string) bool {
	if keyword == "" {
		return true
	}
	k := strings.ToLower(keyword)
	return strings.Contains(strings.ToLower(e.Title), k) ||
		strings.Contains(strings.ToLower(e.Description), k)
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	c := *e
	if e.Recurrence != nil {
		r := *e.Recurrence
		r.Weekdays = slices.Clone(e.Recurrence.Weekdays)
		if e.Recurrence.Until != nil {
			u := *e.Recurrence.Until
			r.Until = &u
		}
		c.Recurrence = &r
	}
	return &c
}

// EventPatch carries the fields of a partial update. Nil fields are left unchanged.
type EventPatch struct {
	Title       *string    `json:"title,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
}

func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Start == nil && p.End == nil && p.Description == nil && p.Location == nil
}

// Apply returns a copy of e with the patch merged in.
func (p EventPatch) Apply(e *Event) *Event {
	c := e.Clone()
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Start != nil {
		c.Start = *p.Start
	}
	if p.End != nil {
		c.End = *p.End
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Location != nil {
		c.Location = *p.Location
	}
	return c
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// SortByStart orders events by start time, then end time, then id.
func SortByStart(events []*Event) {
	slices.SortStableFunc(events, func(a, b *Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if c := a.End.Compare(b.End); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
