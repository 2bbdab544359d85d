// Package timeparse resolves natural-language time expressions, in Chinese
// and English, into absolute instants and ranges.
package timeparse

import (
	"strconv"
	"strings"
	"time"

	"github.com/hray3182/calpilot/internal/apperr"
)

// Result is either an instant (IsRange false, End zero) or a half-open range.
// HasTime is false when the expression named only a date; Start is then
// midnight of that date.
type Result struct {
	Start    time.Time
	End      time.Time
	IsRange  bool
	HasTime  bool
	Duration time.Duration
}

var absoluteLayouts = []struct {
	layout  string
	hasTime bool
}{
	{time.RFC3339, true},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02T15:04", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02 15:04", true},
	{"2006/01/02 15:04", true},
	{"2006-01-02", false},
	{"2006/01/02", false},
}

// Resolve converts expr into an absolute instant or range relative to ref,
// interpreted in loc. Ambiguous weekday and clock references resolve to the
// nearest occurrence after ref. It returns a resolution error when expr has
// no recognizable temporal anchor.
func Resolve(expr string, ref time.Time, loc *time.Location) (Result, error) {
	if loc == nil {
		loc = ref.Location()
	}
	ref = ref.In(loc)

	if r, ok := parseAbsolute(strings.TrimSpace(expr), loc); ok {
		return r, nil
	}

	s := normalize(expr)
	if s == "" {
		return Result{}, apperr.Resolution("empty time expression")
	}

	if left, right, ok := splitRange(s); ok {
		return resolveRange(left, right, ref, loc, expr)
	}

	p, err := parseParts(s, loc)
	if err != nil {
		return Result{}, err
	}
	if p.offset != nil {
		return p.offset.apply(ref), nil
	}
	if !p.anchored() {
		return Result{}, apperr.Resolution("no recognizable time in %q", expr)
	}

	res, _, err := p.resolve(ref, loc, nil)
	if err != nil {
		return Result{}, err
	}
	if res.HasTime && !res.IsRange && p.duration > 0 {
		res.End = res.Start.Add(p.duration)
		res.IsRange = true
	}
	res.Duration = p.duration
	return res, nil
}

func parseAbsolute(s string, loc *time.Location) (Result, bool) {
	for _, l := range absoluteLayouts {
		var (
			t   time.Time
			err error
		)
		if l.layout == time.RFC3339 {
			t, err = time.Parse(l.layout, s)
			t = t.In(loc)
		} else {
			t, err = time.ParseInLocation(l.layout, s, loc)
		}
		if err == nil {
			return Result{Start: t, HasTime: l.hasTime}, true
		}
	}
	return Result{}, false
}

var rangeSeparators = []string{"到", "至", "~", " to ", " until ", " till "}

func splitRange(s string) (string, string, bool) {
	for _, sep := range rangeSeparators {
		if i := strings.Index(s, sep); i > 0 {
			left := strings.TrimSpace(s[:i])
			right := strings.TrimSpace(s[i+len(sep):])
			if left != "" && right != "" {
				return left, right, true
			}
		}
	}
	return "", "", false
}

func resolveRange(left, right string, ref time.Time, loc *time.Location, expr string) (Result, error) {
	lp, err := parseParts(left, loc)
	if err != nil {
		return Result{}, err
	}
	if !lp.anchored() {
		return Result{}, apperr.Resolution("no recognizable start time in %q", expr)
	}
	rp, err := parseParts(right, loc)
	if err != nil {
		return Result{}, err
	}
	if !rp.anchored() {
		return Result{}, apperr.Resolution("no recognizable end time in %q", expr)
	}
	if rp.period == periodNone && rp.hasClock {
		rp.period = lp.period
	}

	lr, _, err := lp.resolve(ref, loc, nil)
	if err != nil {
		return Result{}, err
	}
	base := midnight(lr.Start, loc)
	rr, inherited, err := rp.resolve(ref, loc, &base)
	if err != nil {
		return Result{}, err
	}

	end := rr.Start
	switch {
	case rr.IsRange:
		end = rr.End
	case !rr.HasTime:
		end = rr.Start.AddDate(0, 0, 1)
	}
	if !end.After(lr.Start) && inherited && rr.HasTime {
		end = end.AddDate(0, 0, 1)
	}
	if !end.After(lr.Start) {
		return Result{}, apperr.Resolution("range %q ends before it starts", expr)
	}
	return Result{
		Start:   lr.Start,
		End:     end,
		IsRange: true,
		HasTime: lr.HasTime || rr.HasTime,
	}, nil
}

type offset struct {
	minutes float64
	days    int
	months  int
}

func (o offset) apply(ref time.Time) Result {
	if o.days != 0 || o.months != 0 {
		day := midnight(ref, ref.Location()).AddDate(0, o.months, o.days)
		return Result{Start: day}
	}
	t := ref.Add(time.Duration(o.minutes * float64(time.Minute))).Truncate(time.Minute)
	return Result{Start: t, HasTime: true}
}

// parts holds the components recognized in one side of an expression.
type parts struct {
	date       *time.Time
	hasYear    bool
	monthDay   int
	dayOffset  *int
	hasWeekday bool
	weekday    time.Weekday
	qual       qualifier
	week       bool
	period     period
	hasClock   bool
	hour       int
	minute     int
	duration   time.Duration
	offset     *offset
}

func (p *parts) anchored() bool {
	return p.date != nil || p.monthDay > 0 || p.dayOffset != nil || p.hasWeekday ||
		p.week || p.hasClock || p.period != periodNone
}

// parseParts fails only on a date that does not exist, such as 2月30日.
func parseParts(s string, loc *time.Location) (parts, error) {
	var p parts

	if r, ok := parseAbsolute(s, loc); ok {
		d := midnight(r.Start, loc)
		p.date, p.hasYear = &d, true
		if r.HasTime {
			p.hasClock, p.hour, p.minute = true, r.Start.Hour(), r.Start.Minute()
		}
		return p, nil
	}

	// weekdays first, before numerals are rewritten
	if m := cnWeekdayRe.FindStringSubmatchIndex(s); m != nil {
		p.hasWeekday = true
		p.weekday = cnWeekdays[s[m[4]:m[5]]]
		if m[2] >= 0 {
			p.qual = parseQualifier(s[m[2]:m[3]])
		}
		s = cut(s, m[:2])
	} else if m := enWeekdayRe.FindStringSubmatchIndex(s); m != nil {
		p.hasWeekday = true
		p.weekday = enWeekdays[s[m[4]:m[5]]]
		if m[2] >= 0 {
			p.qual = parseQualifier(s[m[2]:m[3]])
		}
		s = cut(s, m[:2])
	} else if m := cnWeekRe.FindStringSubmatchIndex(s); m != nil {
		p.week = true
		p.qual = parseQualifier(s[m[2]:m[3]])
		s = cut(s, m[:2])
	} else if m := enWeekRe.FindStringSubmatchIndex(s); m != nil {
		p.week = true
		p.qual = parseQualifier(s[m[2]:m[3]])
		s = cut(s, m[:2])
	}

	s = strings.TrimSpace(convertNumerals(s))

	if !p.hasWeekday && !p.week {
		if o, ok := parseOffset(s); ok {
			p.offset = &o
			return p, nil
		}
	}

	s, p.duration = extractDuration(s)

	if m := isoDateRe.FindStringSubmatchIndex(s); m != nil {
		y, _ := strconv.Atoi(s[m[2]:m[3]])
		mo, _ := strconv.Atoi(s[m[4]:m[5]])
		d, _ := strconv.Atoi(s[m[6]:m[7]])
		if !validDate(y, mo, d) {
			return p, apperr.Resolution("no such date %d-%02d-%02d", y, mo, d)
		}
		t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
		p.date, p.hasYear = &t, true
		s = cut(s, m[:2])
	} else if m := cnDateRe.FindStringSubmatchIndex(s); m != nil {
		y := 0
		if m[2] >= 0 {
			y, _ = strconv.Atoi(s[m[2]:m[3]])
			p.hasYear = true
		}
		mo, _ := strconv.Atoi(s[m[4]:m[5]])
		d, _ := strconv.Atoi(s[m[6]:m[7]])
		if !validDate(y, mo, d) {
			return p, apperr.Resolution("no such date %d月%d日", mo, d)
		}
		t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
		p.date = &t
		s = cut(s, m[:2])
	} else if m := monthDayRe.FindStringSubmatchIndex(s); m != nil {
		p.monthDay, _ = strconv.Atoi(s[m[2]:m[3]])
		if p.monthDay < 1 || p.monthDay > 31 {
			return p, apperr.Resolution("no such day %d号", p.monthDay)
		}
		s = cut(s, m[:2])
	}

	if m := dayWordRe.FindStringIndex(s); m != nil {
		w := dayWords[s[m[0]:m[1]]]
		off := w.offset
		p.dayOffset = &off
		p.period = w.period
		s = cut(s, m)
	}

	if m := periodRe.FindStringIndex(s); m != nil {
		p.period = periodWords[s[m[0]:m[1]]]
		s = cut(s, m)
	}

	if m := clockColon.FindStringSubmatchIndex(s); m != nil {
		p.hasClock = true
		p.hour, _ = strconv.Atoi(s[m[2]:m[3]])
		p.minute, _ = strconv.Atoi(s[m[4]:m[5]])
		if m[6] >= 0 {
			p.period = ampm(s[m[6]:m[7]])
		}
	} else if m := clockCN.FindStringSubmatchIndex(s); m != nil {
		p.hasClock = true
		p.hour, _ = strconv.Atoi(s[m[2]:m[3]])
		switch {
		case m[4] >= 0:
			p.minute = 30
		case m[6] >= 0:
			p.minute, _ = strconv.Atoi(s[m[6]:m[7]])
		}
	} else if m := clockEN.FindStringSubmatchIndex(s); m != nil {
		p.hasClock = true
		p.hour, _ = strconv.Atoi(s[m[2]:m[3]])
		p.period = ampm(s[m[4]:m[5]])
	}

	return p, nil
}

func ampm(s string) period {
	if s == "pm" {
		return periodPM
	}
	return periodAM
}

// resolve computes the result for p. base, when set, is the day the left
// side of a range landed on; undated right sides inherit it and bare
// weekdays count forward from it. The second return reports whether the
// day was inherited from base.
func (p *parts) resolve(ref time.Time, loc *time.Location, base *time.Time) (Result, bool, error) {
	today := midnight(ref, loc)

	if p.week {
		monday := weekStart(today).AddDate(0, 0, 7*p.qual.weeks())
		return Result{Start: monday, End: monday.AddDate(0, 0, 7), IsRange: true}, false, nil
	}

	hour, minute, hasTime := p.hour, p.minute, p.hasClock
	if hasTime {
		if hour > 23 || minute > 59 {
			return Result{}, false, apperr.Resolution("invalid clock time %d:%02d", hour, minute)
		}
		hour = p.period.adjust(hour)
	} else if p.period != periodNone {
		hour, minute, hasTime = p.period.defaultHour(), 0, true
	}

	var (
		day       time.Time
		inherited bool
	)
	switch {
	case p.date != nil:
		day = *p.date
		if !p.hasYear {
			day = nextYearly(today, day.Month(), day.Day())
		}
	case p.monthDay > 0:
		day = nextMonthly(today, p.monthDay)
	case p.dayOffset != nil:
		day = today.AddDate(0, 0, *p.dayOffset)
	case p.hasWeekday && p.qual != qualNone:
		day = weekStart(today).AddDate(0, 0, 7*p.qual.weeks()+isoIndex(p.weekday))
	case p.hasWeekday && base != nil:
		diff := (int(p.weekday) - int(base.Weekday()) + 7) % 7
		day = base.AddDate(0, 0, diff)
	case p.hasWeekday:
		diff := (int(p.weekday) - int(today.Weekday()) + 7) % 7
		day = today.AddDate(0, 0, diff)
		if diff == 0 && !(hasTime && at(day, hour, minute).After(ref)) {
			day = day.AddDate(0, 0, 7)
		}
	case base != nil:
		day, inherited = *base, true
	default:
		// clock only: the next time the clock reads this
		t := at(today, hour, minute)
		if !t.After(ref) {
			t = t.AddDate(0, 0, 1)
		}
		return Result{Start: t, HasTime: true}, false, nil
	}

	if !hasTime {
		return Result{Start: day}, inherited, nil
	}
	return Result{Start: at(day, hour, minute), HasTime: true}, inherited, nil
}

func parseOffset(s string) (offset, bool) {
	if m := cnOffsetRe.FindStringSubmatch(s); m != nil {
		n := 0.5
		if m[1] != "半" {
			n, _ = strconv.ParseFloat(m[1], 64)
		}
		if m[2] != "" {
			n += 0.5
		}
		return unitOffset(n, m[3]), true
	}
	if m := enOffsetRe.FindStringSubmatch(s); m != nil {
		var n float64
		switch {
		case strings.HasPrefix(m[1], "half"):
			n = 0.5
		case m[1] == "a" || m[1] == "an":
			n = 1
		default:
			n, _ = strconv.ParseFloat(m[1], 64)
		}
		return unitOffset(n, m[2]), true
	}
	return offset{}, false
}

func unitOffset(n float64, unit string) offset {
	switch {
	case unit == "分钟" || strings.HasPrefix(unit, "min"):
		return offset{minutes: n}
	case unit == "小时" || unit == "钟头" || strings.HasPrefix(unit, "h"):
		return offset{minutes: n * 60}
	case unit == "天" || strings.HasPrefix(unit, "day"):
		return offset{days: int(n)}
	case unit == "周" || unit == "星期" || strings.HasPrefix(unit, "week"):
		return offset{days: int(n * 7)}
	default:
		return offset{months: int(n)}
	}
}

// validDate reports whether the day exists. Year 0 means the year is not
// known yet and admits 29 February.
func validDate(y, m, d int) bool {
	if m < 1 || m > 12 || d < 1 {
		return false
	}
	if y == 0 {
		y = 2000
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return t.Month() == time.Month(m) && t.Day() == d
}

// nextYearly returns the first month/day on or after today, skipping years
// in which it does not exist.
func nextYearly(today time.Time, m time.Month, d int) time.Time {
	for y := today.Year(); y <= today.Year()+8; y++ {
		if !validDate(y, int(m), d) {
			continue
		}
		if t := time.Date(y, m, d, 0, 0, 0, 0, today.Location()); !t.Before(today) {
			return t
		}
	}
	return time.Date(today.Year()+1, m, d, 0, 0, 0, 0, today.Location())
}

// nextMonthly returns the first day-of-month d on or after today, skipping
// months that are too short.
func nextMonthly(today time.Time, d int) time.Time {
	for i := 0; i < 12; i++ {
		first := time.Date(today.Year(), today.Month()+time.Month(i), 1, 0, 0, 0, 0, today.Location())
		if !validDate(first.Year(), int(first.Month()), d) {
			continue
		}
		if t := first.AddDate(0, 0, d-1); !t.Before(today) {
			return t
		}
	}
	return time.Date(today.Year(), today.Month()+1, d, 0, 0, 0, 0, today.Location())
}

func midnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// weekStart returns the Monday of the week containing day.
func weekStart(day time.Time) time.Time {
	return day.AddDate(0, 0, -isoIndex(day.Weekday()))
}

// isoIndex numbers weekdays from Monday=0 to Sunday=6.
func isoIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// StartOfDay returns midnight of t's date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	return midnight(t, loc)
}
