package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
)

type qualifier int

const (
	qualNone qualifier = iota
	qualThis
	qualNext
	qualLast
	qualAfterNext
)

// weeks is the offset in weeks from the reference week.
func (q qualifier) weeks() int {
	switch q {
	case qualNext:
		return 1
	case qualLast:
		return -1
	case qualAfterNext:
		return 2
	}
	return 0
}

func parseQualifier(s string) qualifier {
	switch strings.TrimSpace(s) {
	case "":
		return qualNone
	case "这", "这个", "本", "this":
		return qualThis
	case "下", "下个", "next":
		return qualNext
	case "下下", "下下个":
		return qualAfterNext
	case "上", "上个", "last":
		return qualLast
	}
	return qualNone
}

type period int

const (
	periodNone period = iota
	periodDawn
	periodMorning
	periodForenoon
	periodNoon
	periodAfternoon
	periodEvening
	periodAM
	periodPM
)

var periodWords = map[string]period{
	"凌晨":        periodDawn,
	"早上":        periodMorning,
	"早晨":        periodMorning,
	"清晨":        periodMorning,
	"morning":   periodMorning,
	"上午":        periodForenoon,
	"中午":        periodNoon,
	"noon":      periodNoon,
	"下午":        periodAfternoon,
	"afternoon": periodAfternoon,
	"傍晚":        periodEvening,
	"晚上":        periodEvening,
	"夜里":        periodEvening,
	"evening":   periodEvening,
	"night":     periodEvening,
}

// defaultHour is used when a period is named without a clock time.
func (p period) defaultHour() int {
	switch p {
	case periodDawn:
		return 6
	case periodMorning:
		return 8
	case periodForenoon:
		return 9
	case periodNoon:
		return 12
	case periodAfternoon:
		return 14
	case periodEvening:
		return 19
	}
	return 0
}

// adjust converts a 12-hour clock reading into 24-hour form.
func (p period) adjust(h int) int {
	switch p {
	case periodAfternoon, periodPM:
		if h < 12 {
			return h + 12
		}
	case periodEvening:
		if h == 12 {
			return 24
		}
		if h < 12 {
			return h + 12
		}
	case periodNoon:
		if h < 6 {
			return h + 12
		}
	case periodDawn, periodAM:
		if h == 12 {
			return 0
		}
	}
	return h
}

// dayWords maps relative day words to an offset from today. Some also imply a period.
var dayWords = map[string]struct {
	offset int
	period period
}{
	"今天":                 {0, periodNone},
	"今日":                 {0, periodNone},
	"今早":                 {0, periodMorning},
	"今晚":                 {0, periodEvening},
	"明天":                 {1, periodNone},
	"明日":                 {1, periodNone},
	"明早":                 {1, periodMorning},
	"明晚":                 {1, periodEvening},
	"后天":                 {2, periodNone},
	"大后天":                {3, periodNone},
	"昨天":                 {-1, periodNone},
	"昨日":                 {-1, periodNone},
	"前天":                 {-2, periodNone},
	"today":              {0, periodNone},
	"tonight":            {0, periodEvening},
	"tomorrow":           {1, periodNone},
	"day after tomorrow": {2, periodNone},
	"yesterday":          {-1, periodNone},
}

var cnWeekdays = map[string]time.Weekday{
	"一": time.Monday, "1": time.Monday,
	"二": time.Tuesday, "2": time.Tuesday,
	"三": time.Wednesday, "3": time.Wednesday,
	"四": time.Thursday, "4": time.Thursday,
	"五": time.Friday, "5": time.Friday,
	"六": time.Saturday, "6": time.Saturday,
	"日": time.Sunday, "天": time.Sunday, "7": time.Sunday,
}

var enWeekdays = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
	"sunday": time.Sunday, "sun": time.Sunday,
}

var (
	cnWeekdayRe = regexp.MustCompile(`(下下个?|下个?|上个?|这个?|本)?\s*(?:周|星期|礼拜|週|禮拜)([一二三四五六日天1-7])`)
	enWeekdayRe = regexp.MustCompile(`\b(?:(this|next|last|coming)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday|tues|thurs|thur|mon|tue|wed|thu|fri|sat|sun)\b`)
	cnWeekRe    = regexp.MustCompile(`(下下个?|下个?|上个?|这个?|本)\s*(?:周|星期|礼拜)`)
	enWeekRe    = regexp.MustCompile(`\b(this|next|last)\s+week\b`)

	dayWordRe = regexp.MustCompile(`day after tomorrow|大后天|后天|明天|明日|明早|明晚|今天|今日|今早|今晚|昨天|昨日|前天|tomorrow|today|tonight|yesterday`)
	periodRe  = regexp.MustCompile(`凌晨|早上|早晨|清晨|上午|中午|下午|傍晚|晚上|夜里|morning|noon|afternoon|evening|night`)

	isoDateRe   = regexp.MustCompile(`(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})`)
	cnDateRe    = regexp.MustCompile(`(?:(\d{4})\s*年\s*)?(\d{1,2})\s*月\s*(\d{1,2})\s*[日号]?`)
	monthDayRe  = regexp.MustCompile(`(\d{1,2})\s*号`)
	clockColon  = regexp.MustCompile(`(\d{1,2}):(\d{2})(?::\d{2})?\s*(am|pm)?`)
	clockCN     = regexp.MustCompile(`(\d{1,2})\s*(?:点|时|點)\s*(?:(半)|(\d{1,2})\s*分?)?\s*钟?`)
	clockEN     = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	cnNumeralRe = regexp.MustCompile(`([零〇一二两三四五六七八九十]+)(个|点|時|时|小时|分|天|号|日|月|年|周|星期|半)`)

	cnOffsetRe = regexp.MustCompile(`^(\d+(?:\.\d+)?|半)\s*个?\s*(半)?\s*(分钟|小时|钟头|天|周|星期|月)\s*(?:后|以后|之后)$`)
	enOffsetRe = regexp.MustCompile(`^(?:in\s+)?(\d+(?:\.\d+)?|an?|half an?)\s*(minutes?|mins?|hours?|hrs?|days?|weeks?|months?)(?:\s+(?:later|from now))?$`)

	cnDurationRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*个?\s*(半)?\s*(?:小时|钟头)`)
	cnHalfHourRe    = regexp.MustCompile(`半\s*个?\s*(?:小时|钟头)`)
	cnMinutesRe     = regexp.MustCompile(`(\d+)\s*分钟`)
	enHoursRe       = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:hours?|hrs?|h)\b`)
	enMinutesRe     = regexp.MustCompile(`(\d+)\s*(?:minutes?|mins?|m)\b`)
	digitTDigitRe   = regexp.MustCompile(`(\d)t(\d)`)
	dashClockRange  = regexp.MustCompile(`(\d{1,2}(?::\d{2}|\s*点|\s*am|\s*pm))\s*[-–—]\s*(\d{1,2}(?::\d{2})?)`)
	dashWeekdayPair = regexp.MustCompile(`([一二三四五六日天])\s*[-–—]\s*((?:周|星期|礼拜)?[一二三四五六日天])`)
)

var digits = map[rune]int{
	'零': 0, '〇': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// cnNumber converts a Chinese numeral below one hundred, or a digit-by-digit
// spelling such as 二〇二四, into an integer.
func cnNumber(s string) (int, bool) {
	total, cur := 0, 0
	for _, r := range s {
		if r == '十' {
			if cur == 0 {
				cur = 1
			}
			total += cur * 10
			cur = 0
			continue
		}
		d, ok := digits[r]
		if !ok {
			return 0, false
		}
		cur = cur*10 + d
	}
	return total + cur, true
}

// normalize folds full-width characters, lowercases and rewrites dash ranges
// into the 到 separator.
func normalize(s string) string {
	s = width.Fold.String(strings.TrimSpace(s))
	s = strings.ToLower(s)
	s = digitTDigitRe.ReplaceAllString(s, "$1 $2")
	s = strings.TrimPrefix(s, "从")
	s = strings.TrimPrefix(s, "from ")
	s = dashClockRange.ReplaceAllString(s, "$1到$2")
	s = dashWeekdayPair.ReplaceAllString(s, "$1到$2")
	s = strings.ReplaceAll(s, " - ", "到")
	return strings.TrimSpace(s)
}

func convertNumerals(s string) string {
	return cnNumeralRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := cnNumeralRe.FindStringSubmatch(m)
		n, ok := cnNumber(sub[1])
		if !ok {
			return m
		}
		return strconv.Itoa(n) + sub[2]
	})
}

// cut removes the first match of loc from s.
func cut(s string, loc []int) string {
	return s[:loc[0]] + " " + s[loc[1]:]
}
