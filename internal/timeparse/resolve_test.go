package timeparse

import (
	"testing"
	"time"

	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

// Wednesday 2024-01-10 10:00
var ref = time.Date(2024, 1, 10, 10, 0, 0, 0, cst)

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, cst)
}

func clock(m time.Month, d, h, min int) time.Time {
	return time.Date(2024, m, d, h, min, 0, 0, cst)
}

func TestResolveInstants(t *testing.T) {
	tests := []struct {
		expr    string
		want    time.Time
		hasTime bool
	}{
		{"明天下午3点", clock(1, 11, 15, 0), true},
		{"周一", day(1, 15), false},
		{"星期一", day(1, 15), false},
		{"周三", day(1, 17), false},
		{"周三下午3点", clock(1, 10, 15, 0), true},
		{"周三上午9点", clock(1, 17, 9, 0), true},
		{"下周一", day(1, 15), false},
		{"下星期二", day(1, 16), false},
		{"这周五", day(1, 12), false},
		{"本周一", day(1, 8), false},
		{"上周五", day(1, 5), false},
		{"今天", day(1, 10), false},
		{"后天早上8点", clock(1, 12, 8, 0), true},
		{"大后天", day(1, 13), false},
		{"今晚8点", clock(1, 10, 20, 0), true},
		{"晚上10点", clock(1, 10, 22, 0), true},
		{"中午1点", clock(1, 10, 13, 0), true},
		{"下午", clock(1, 10, 14, 0), true},
		{"3pm", clock(1, 10, 15, 0), true},
		{"3点", clock(1, 11, 3, 0), true},
		{"两点", clock(1, 11, 2, 0), true},
		{"下午3点半", clock(1, 10, 15, 30), true},
		{"十点十五分", clock(1, 10, 10, 15), true},
		{"14:30", clock(1, 10, 14, 30), true},
		{"tomorrow 3pm", clock(1, 11, 15, 0), true},
		{"next monday", day(1, 15), false},
		{"friday", day(1, 12), false},
		{"2024-01-20", day(1, 20), false},
		{"2024-01-20 09:30", clock(1, 20, 9, 30), true},
		{"2024-01-20T09:30:00+08:00", clock(1, 20, 9, 30), true},
		{"2024-01-20T01:30:00Z", clock(1, 20, 9, 30), true},
		{"1月20日", day(1, 20), false},
		{"1月5日", time.Date(2025, 1, 5, 0, 0, 0, 0, cst), false},
		{"20号", day(1, 20), false},
		{"5号", day(2, 5), false},
		{"2小时后", clock(1, 10, 12, 0), true},
		{"30分钟后", clock(1, 10, 10, 30), true},
		{"半小时后", clock(1, 10, 10, 30), true},
		{"3天后", day(1, 13), false},
		{"两周后", day(1, 24), false},
		{"in 2 hours", clock(1, 10, 12, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Resolve(tt.expr, ref, cst)
			require.NoError(t, err)
			assert.False(t, got.IsRange)
			assert.True(t, tt.want.Equal(got.Start), "want %s got %s", tt.want, got.Start)
			assert.Equal(t, tt.hasTime, got.HasTime)
		})
	}
}

func TestResolveRanges(t *testing.T) {
	tests := []struct {
		expr       string
		start, end time.Time
	}{
		{"周一到周五", day(1, 15), day(1, 20)},
		{"下周一到周五", day(1, 15), day(1, 20)},
		{"周一-周五", day(1, 15), day(1, 20)},
		{"明天3点到5点", clock(1, 11, 3, 0), clock(1, 11, 5, 0)},
		{"下午3点到5点", clock(1, 10, 15, 0), clock(1, 10, 17, 0)},
		{"9:00-10:00", clock(1, 11, 9, 0), clock(1, 11, 10, 0)},
		{"2024-01-15 09:00-10:00", clock(1, 15, 9, 0), clock(1, 15, 10, 0)},
		{"晚上10点到凌晨2点", clock(1, 10, 22, 0), clock(1, 11, 2, 0)},
		{"明天到后天", day(1, 11), day(1, 13)},
		{"下周", day(1, 15), day(1, 22)},
		{"this week", day(1, 8), day(1, 15)},
		{"明天下午3点开会1小时", clock(1, 11, 15, 0), clock(1, 11, 16, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Resolve(tt.expr, ref, cst)
			require.NoError(t, err)
			assert.True(t, got.IsRange)
			assert.True(t, tt.start.Equal(got.Start), "start: want %s got %s", tt.start, got.Start)
			assert.True(t, tt.end.Equal(got.End), "end: want %s got %s", tt.end, got.End)
		})
	}
}

func TestResolveNeverPastForBareReferences(t *testing.T) {
	for _, expr := range []string{"周一", "周二", "周三", "周四", "周五", "周六", "周日", "9点", "3pm"} {
		got, err := Resolve(expr, ref, cst)
		require.NoError(t, err, expr)
		if got.HasTime {
			assert.True(t, got.Start.After(ref), expr)
		} else {
			assert.True(t, got.Start.After(day(1, 10)), expr)
		}
	}
}

func TestResolveErrors(t *testing.T) {
	for _, expr := range []string{"", "开会", "hello world", "25点", "明天到今天", "2月30日", "2024-02-31", "2024年13月1日", "32号", "明天到2月30日"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Resolve(expr, ref, cst)
			require.Error(t, err)
			assert.Equal(t, apperr.KindResolution, apperr.KindOf(err))
		})
	}
}

func TestResolveSkipsMissingDays(t *testing.T) {
	feb := time.Date(2025, 2, 10, 10, 0, 0, 0, cst)

	got, err := Resolve("29号", feb, cst)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 3, 29, 0, 0, 0, 0, cst).Equal(got.Start), got.Start)

	got, err = Resolve("2月29日", feb, cst)
	require.NoError(t, err)
	assert.True(t, time.Date(2028, 2, 29, 0, 0, 0, 0, cst).Equal(got.Start), got.Start)
}

func TestResolveUsesLocation(t *testing.T) {
	utcRef := time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC) // 2024-01-11 04:00 CST
	got, err := Resolve("今天", utcRef, cst)
	require.NoError(t, err)
	assert.True(t, day(1, 11).Equal(got.Start))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90", 90 * time.Minute},
		{"1.5小时", 90 * time.Minute},
		{"一个半小时", 90 * time.Minute},
		{"半小时", 30 * time.Minute},
		{"两个小时", 2 * time.Hour},
		{"45分钟", 45 * time.Minute},
		{"45 minutes", 45 * time.Minute},
		{"2 hours", 2 * time.Hour},
		{"1h30m", 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "0", "abc", "明天"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}
