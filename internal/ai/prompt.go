package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/calpilot/internal/models"
)

// MaxPromptEvents bounds how many known events the prompt lists.
const MaxPromptEvents = 5

var weekdayNames = [...]string{"周日", "周一", "周二", "周三", "周四", "周五", "周六"}

type PromptContext struct {
	Now      time.Time
	Location *time.Location
	// SelectedDate is the day the client is looking at, if any.
	SelectedDate time.Time
	KnownEvents  []*models.Event
}

const systemPromptTemplate = `你是 CalPilot，一个帮助用户管理日程的智能日历助理。

当前时间：%s（%s）
时区：%s

日期参考：
%s

规则：
1. 需要查看或修改日程时，调用提供的工具或技能，不要编造事件或编号。
2. 时间参数可以直接使用用户的说法（如「明天下午3点」），也可以使用 ISO 8601 格式（如 2024-01-11T15:00:00+08:00）。
3. 传递时间时保留「上午」「下午」「晚上」等时段词。工具把没有时段的「3点」读作凌晨 03:00，所以安排会议、约见这类事情时，用户说的没有时段的 1 到 6 点按下午理解，写成「下午3点」；拿不准时先向用户确认。
4. 用户没有说明结束时间时，事件默认持续 1 小时。
5. 修改或删除事件前如果不确定是哪一个，先用 list_events 查询。
6. 多步骤的需求（安排会议、规划一天、整理日程）优先使用技能。
7. 工具返回失败时，用友好的语言解释原因并建议下一步。
8. 用简体中文简洁回答。%s`

// SystemPrompt renders the system message for one turn.
func SystemPrompt(pc PromptContext) string {
	loc := pc.Location
	if loc == nil {
		loc = time.Local
	}
	now := pc.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(loc)

	return fmt.Sprintf(systemPromptTemplate,
		now.Format("2006-01-02 15:04"),
		weekdayNames[now.Weekday()],
		loc.String(),
		referenceTable(now),
		contextSection(pc, loc),
	)
}

func referenceTable(now time.Time) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	// Monday of the current week
	offset := (int(today.Weekday()) + 6) % 7
	monday := today.AddDate(0, 0, -offset)

	rows := []struct {
		label string
		day   time.Time
	}{
		{"今天", today},
		{"明天", today.AddDate(0, 0, 1)},
		{"后天", today.AddDate(0, 0, 2)},
		{"本周一", monday},
		{"下周一", monday.AddDate(0, 0, 7)},
	}

	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s：%s（%s）", r.label, r.day.Format("2006-01-02"), weekdayNames[r.day.Weekday()])
	}
	return b.String()
}

func contextSection(pc PromptContext, loc *time.Location) string {
	if pc.SelectedDate.IsZero() && len(pc.KnownEvents) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n当前上下文：")
	if !pc.SelectedDate.IsZero() {
		fmt.Fprintf(&b, "\n- 用户选中的日期：%s", pc.SelectedDate.In(loc).Format("2006-01-02"))
	}
	if len(pc.KnownEvents) > 0 {
		fmt.Fprintf(&b, "\n- 已知事件（共 %d 个）：", len(pc.KnownEvents))
		for i, e := range pc.KnownEvents {
			if i == MaxPromptEvents {
				fmt.Fprintf(&b, "\n  …以及另外 %d 个", len(pc.KnownEvents)-MaxPromptEvents)
				break
			}
			fmt.Fprintf(&b, "\n  • [%s] %s %s-%s", e.ID, e.Title,
				e.Start.In(loc).Format("01-02 15:04"), e.End.In(loc).Format("15:04"))
		}
	}
	return b.String()
}
