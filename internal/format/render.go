package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/rrule"
)

var labels = map[string]string{
	"create_event":        "创建事件",
	"list_events":         "查询事件",
	"get_event":           "查看事件",
	"update_event":        "更新事件",
	"delete_event":        "删除事件",
	"find_free_slots":     "查找空闲时段",
	"detect_conflicts":    "检查冲突",
	"generate_schedule":   "安排任务",
	"suggest_breaks":      "建议休息",
	"optimize_schedule":   "优化日程",
	"schedule_management": "日程管理",
	"meeting_planning":    "会议安排",
	"daily_planning":      "每日规划",
}

// Label returns the display name of a tool or skill.
func Label(name string) string {
	if l, ok := labels[name]; ok {
		return l
	}
	return name
}

func ToolCall(name string, success bool, message string) string {
	icon := "🔧"
	if !success {
		icon = "⚠️"
	}
	if message == "" {
		return fmt.Sprintf("%s %s", icon, Label(name))
	}
	return fmt.Sprintf("%s %s：%s", icon, Label(name), message)
}

func SkillStart(name string) string {
	return fmt.Sprintf("🧩 正在执行「%s」…", Label(name))
}

func SkillResult(name string, success bool, message string) string {
	if !success {
		return fmt.Sprintf("⚠️ 「%s」未完成：%s", Label(name), message)
	}
	return message
}

// Span renders an event's time, e.g. "01/11 15:00-16:00".
func Span(e *models.Event, loc *time.Location) string {
	start, end := e.Start.In(loc), e.End.In(loc)
	if e.AllDay {
		last := end.AddDate(0, 0, -1)
		if !last.After(start) {
			return start.Format("01/02") + " 全天"
		}
		return start.Format("01/02") + "-" + last.Format("01/02") + " 全天"
	}
	if start.YearDay() == end.YearDay() && start.Year() == end.Year() {
		return start.Format("01/02 15:04") + "-" + end.Format("15:04")
	}
	return start.Format("01/02 15:04") + " - " + end.Format("01/02 15:04")
}

// EventList renders events as a numbered Markdown list under title.
func EventList(title string, events []*models.Event, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString("📅 *" + title + "*\n")
	if len(events) == 0 {
		sb.WriteString("\n目前没有事件")
		return sb.String()
	}
	for i, e := range events {
		fmt.Fprintf(&sb, "\n*%d.* %s\n", i+1, e.Title)
		fmt.Fprintf(&sb, "   🕐 %s\n", Span(e, loc))
		if e.IsRecurring() {
			fmt.Fprintf(&sb, "   🔄 %s\n", rrule.HumanReadableChinese(e.Recurrence, loc))
		}
		if e.Location != "" {
			fmt.Fprintf(&sb, "   📍 %s\n", e.Location)
		}
		if e.Description != "" {
			fmt.Fprintf(&sb, "   📝 %s\n", Truncate(e.Description, 30))
		}
	}
	return sb.String()
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func Duration(d time.Duration) string {
	if d < time.Minute {
		return "不到 1 分钟"
	}
	minutes := int(d.Minutes())
	if d < time.Hour {
		return fmt.Sprintf("%d 分钟", minutes)
	}
	hours := int(d.Hours())
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d 小时", hours)
	}
	return fmt.Sprintf("%d 小时 %d 分钟", hours, mins)
}

func Greeting(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "早上好"
	case hour >= 12 && hour < 18:
		return "下午好"
	default:
		return "晚上好"
	}
}
