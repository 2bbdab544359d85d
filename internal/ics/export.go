// Package ics renders calendar events as an iCalendar feed.
package ics

import (
	"context"
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/store"
)

const productID = "-//calpilot//calendar export//ZH"

// Build returns a calendar holding one VEVENT per event. Recurring series
// are stored as individual occurrences, so no RRULE is emitted; children
// point at their parent through RELATED-TO.
func Build(events []*models.Event, name string, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, e := range events {
		ev := cal.AddEvent(e.ID)
		ev.SetDtStampTime(now)
		if !e.CreatedAt.IsZero() {
			ev.SetCreatedTime(e.CreatedAt)
		}
		if e.AllDay {
			ev.SetAllDayStartAt(e.Start)
			ev.SetAllDayEndAt(e.End)
		} else {
			ev.SetStartAt(e.Start)
			ev.SetEndAt(e.End)
		}
		ev.SetSummary(e.Title)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		if e.ParentID != "" {
			ev.AddProperty(ical.ComponentPropertyRelatedTo, e.ParentID)
		}
	}
	return cal
}

// Export writes the events of r to w as iCalendar text.
func Export(ctx context.Context, w io.Writer, st store.Store, r models.TimeRange, now time.Time) (int, error) {
	events, err := st.List(ctx, r, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list events: %w", err)
	}
	if _, err := io.WriteString(w, Build(events, "CalPilot", now).Serialize()); err != nil {
		return 0, fmt.Errorf("failed to write calendar: %w", err)
	}
	return len(events), nil
}
