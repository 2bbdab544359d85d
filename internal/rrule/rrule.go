package rrule

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/teambition/rrule-go"
)

const (
	// DefaultHorizon bounds a series that has no explicit end date
	DefaultHorizon = 90 * 24 * time.Hour
	// MaxOccurrences caps materialization of a single series
	MaxOccurrences = 366
)

var toRRuleWeekday = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// rrule-go numbers weekdays from Monday=0
var fromRRuleDay = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

var toRRuleFreq = map[models.Frequency]rrule.Frequency{
	models.FrequencyDaily:   rrule.DAILY,
	models.FrequencyWeekly:  rrule.WEEKLY,
	models.FrequencyMonthly: rrule.MONTHLY,
}

// Until returns the inclusive last instant of the series starting at dtstart.
// A date-only until covers the whole day.
func Until(rule *models.RecurrenceRule, dtstart time.Time) time.Time {
	if rule.Until == nil {
		return dtstart.Add(DefaultHorizon)
	}
	u := rule.Until.In(dtstart.Location())
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 {
		u = u.AddDate(0, 0, 1).Add(-time.Second)
	}
	return u
}

// Build creates the RRule for a series starting at dtstart
func Build(rule *models.RecurrenceRule, dtstart time.Time) (*rrule.RRule, error) {
	freq, ok := toRRuleFreq[rule.Frequency]
	if !ok {
		return nil, apperr.Validation("unsupported recurrence frequency %q", rule.Frequency)
	}

	opt := rrule.ROption{
		Freq:     freq,
		Interval: max(rule.Interval, 1),
		Dtstart:  dtstart,
		Until:    Until(rule, dtstart),
	}
	for _, wd := range rule.EffectiveWeekdays() {
		opt.Byweekday = append(opt.Byweekday, toRRuleWeekday[wd])
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build recurrence rule: %w", err)
	}
	return r, nil
}

// Occurrences returns every start time of the series in order, capped at
// MaxOccurrences. Monthly rules skip months that lack the start day.
func Occurrences(rule *models.RecurrenceRule, dtstart time.Time) ([]time.Time, error) {
	r, err := Build(rule, dtstart)
	if err != nil {
		return nil, err
	}

	next := r.Iterator()
	var results []time.Time
	for len(results) < MaxOccurrences {
		t, ok := next()
		if !ok {
			break
		}
		results = append(results, t)
	}
	if len(results) == 0 {
		return nil, apperr.Validation("recurrence produces no occurrences before %s", Until(rule, dtstart).Format("2006-01-02"))
	}
	return results, nil
}

// String renders the rule as an RFC 5545 RRULE value without the RRULE: prefix
func String(rule *models.RecurrenceRule, dtstart time.Time) string {
	var parts []string

	parts = append(parts, "FREQ="+strings.ToUpper(string(rule.Frequency)))

	if rule.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", rule.Interval))
	}

	if wds := rule.EffectiveWeekdays(); len(wds) > 0 {
		days := make([]string, len(wds))
		for i, d := range wds {
			days[i] = strings.ToUpper(d.String()[:2])
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}

	parts = append(parts, "UNTIL="+Until(rule, dtstart).UTC().Format("20060102T150405Z"))

	return strings.Join(parts, ";")
}

// Parse reads an RRULE value back into a RecurrenceRule
func Parse(ruleStr string) (*models.RecurrenceRule, error) {
	ruleStr = strings.TrimPrefix(ruleStr, "RRULE:")

	opt, err := rrule.StrToROption(ruleStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE: %w", err)
	}

	rule := &models.RecurrenceRule{Interval: opt.Interval}
	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = models.FrequencyDaily
	case rrule.WEEKLY:
		rule.Frequency = models.FrequencyWeekly
	case rrule.MONTHLY:
		rule.Frequency = models.FrequencyMonthly
	default:
		return nil, fmt.Errorf("unsupported RRULE frequency in %q", ruleStr)
	}
	if rule.Interval <= 1 {
		rule.Interval = 0
	}
	for i := range opt.Byweekday {
		rule.Weekdays = append(rule.Weekdays, fromRRuleDay[opt.Byweekday[i].Day()])
	}
	if !opt.Until.IsZero() {
		u := opt.Until
		rule.Until = &u
	}
	return rule, nil
}

var cnWeekday = map[time.Weekday]string{
	time.Monday: "一", time.Tuesday: "二", time.Wednesday: "三", time.Thursday: "四",
	time.Friday: "五", time.Saturday: "六", time.Sunday: "日",
}

// HumanReadableChinese returns a Chinese description of the rule
func HumanReadableChinese(rule *models.RecurrenceRule, loc *time.Location) string {
	if rule == nil {
		return "一次性"
	}

	var result strings.Builder

	unit := map[models.Frequency]string{
		models.FrequencyDaily:   "天",
		models.FrequencyWeekly:  "周",
		models.FrequencyMonthly: "月",
	}[rule.Frequency]
	if rule.Interval > 1 {
		result.WriteString(fmt.Sprintf("每 %d %s", rule.Interval, unit))
	} else {
		result.WriteString("每" + unit)
	}

	if wds := rule.EffectiveWeekdays(); len(wds) > 0 {
		chDays := make([]string, len(wds))
		for i, d := range wds {
			chDays[i] = "周" + cnWeekday[d]
		}
		result.WriteString(" " + strings.Join(chDays, "、"))
	}

	if rule.Until != nil {
		result.WriteString("，直到 " + rule.Until.In(loc).Format("2006-01-02"))
	}

	return result.String()
}
