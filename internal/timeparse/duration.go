package timeparse

import (
	"strconv"
	"strings"
	"time"

	"github.com/hray3182/calpilot/internal/apperr"
)

// extractDuration removes every duration phrase from s and returns their sum.
func extractDuration(s string) (string, time.Duration) {
	var total time.Duration

	for {
		m := cnDurationRe.FindStringSubmatchIndex(s)
		if m == nil {
			break
		}
		h, _ := strconv.ParseFloat(s[m[2]:m[3]], 64)
		if m[4] >= 0 {
			h += 0.5
		}
		total += time.Duration(h * float64(time.Hour))
		s = cut(s, m[:2])
	}
	if m := cnHalfHourRe.FindStringIndex(s); m != nil {
		total += 30 * time.Minute
		s = cut(s, m)
	}
	for _, re := range []struct {
		unit time.Duration
		find func(string) []int
	}{
		{time.Minute, cnMinutesRe.FindStringSubmatchIndex},
		{time.Hour, enHoursRe.FindStringSubmatchIndex},
		{time.Minute, enMinutesRe.FindStringSubmatchIndex},
	} {
		for {
			m := re.find(s)
			if m == nil {
				break
			}
			n, _ := strconv.ParseFloat(s[m[2]:m[3]], 64)
			total += time.Duration(n * float64(re.unit))
			s = cut(s, m[:2])
		}
	}
	return s, total
}

// ParseDuration parses a duration such as "90", "1.5小时", "一个半小时",
// "45 minutes" or "1h30m". A bare number is taken as minutes.
func ParseDuration(expr string) (time.Duration, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return 0, apperr.Resolution("empty duration")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, apperr.Resolution("duration must be positive")
		}
		return time.Duration(n) * time.Minute, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, nil
	}

	rest, d := extractDuration(convertNumerals(normalize(s)))
	if d <= 0 || strings.TrimSpace(rest) != "" {
		return 0, apperr.Resolution("unrecognized duration %q", expr)
	}
	return d, nil
}
