package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/calpilot/internal/agent"
	"github.com/hray3182/calpilot/internal/format"
	"github.com/hray3182/calpilot/internal/logging"
	"github.com/hray3182/calpilot/internal/session"
	"github.com/hray3182/calpilot/internal/tools"
)

// maxMessageLen stays under Telegram's 4096 limit.
const maxMessageLen = 4000

// Sender is the part of *tgbotapi.BotAPI the handlers use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Handlers struct {
	api      Sender
	agent    *agent.Agent
	sessions *session.Manager
	loc      *time.Location
	logger   *slog.Logger
}

func New(api Sender, a *agent.Agent, sessions *session.Manager, loc *time.Location, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		api:      api,
		agent:    a,
		sessions: sessions,
		loc:      loc,
		logger:   logging.WithOperation(logger, "telegram"),
	}
}

func sessionKey(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		h.handleStart(msg)
	case "help":
		h.handleHelp(msg)
	case "events":
		h.handleEventList(ctx, msg)
	case "tools":
		h.handleDefinitions(msg, "🔧 *可用工具*", h.agent.ListTools())
	case "skills":
		h.handleDefinitions(msg, "🧩 *可用技能*", h.agent.ListSkills())
	case "reset":
		h.sessions.Reset(sessionKey(msg.Chat.ID))
		h.sendMessage(msg.Chat.ID, "🧹 对话已重置")
	default:
		h.sendMessage(msg.Chat.ID, "未知指令，请使用 /help 查看可用指令")
	}
}

// sendMessage sends text with Markdown rendered as entities, split to fit
// Telegram's message limit.
func (h *Handlers) sendMessage(chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	for _, part := range split(text, maxMessageLen) {
		parsed := format.ParseMarkdown(part)
		msg := tgbotapi.NewMessage(chatID, parsed.Text)
		msg.Entities = parsed.Entities
		if _, err := h.api.Send(msg); err != nil {
			h.logger.Error("failed to send message", slog.Int64("chat", chatID), logging.Err(err))
		}
	}
}

// split cuts text at line breaks so no part exceeds limit runes.
func split(text string, limit int) []string {
	if len([]rune(text)) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	n := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		l := len([]rune(line))
		if n+l > limit && n > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			n = 0
		}
		for l > limit {
			r := []rune(line)
			parts = append(parts, string(r[:limit]))
			line = string(r[limit:])
			l -= limit
		}
		cur.WriteString(line)
		n += l
	}
	if n > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func (h *Handlers) handleStart(msg *tgbotapi.Message) {
	name := ""
	if msg.From != nil {
		name = msg.From.FirstName
	}
	text := fmt.Sprintf(`👋 你好 %s！

我是 CalPilot，你的日历助理。

你可以直接用自然语言告诉我，例如：
• "明天下午3点和小王开会"
• "这周有什么安排？"
• "帮我找个周五能开一小时会的时间"
• "规划一下明天：写周报 30 分钟，修 bug 2 小时"

使用 /help 查看所有指令`, name)
	h.sendMessage(msg.Chat.ID, text)
}

func (h *Handlers) handleHelp(msg *tgbotapi.Message) {
	text := `📖 *指令列表*

/events [关键词] - 查看未来 7 天的事件
/tools - 查看可用工具
/skills - 查看可用技能
/reset - 清空对话上下文

💡 其他消息都会交给助理处理！`
	h.sendMessage(msg.Chat.ID, text)
}

func (h *Handlers) handleEventList(ctx context.Context, msg *tgbotapi.Message) {
	params := map[string]any{}
	if kw := strings.TrimSpace(msg.CommandArguments()); kw != "" {
		params["keyword"] = kw
	}
	res := h.agent.CallTool(ctx, "list_events", params, agent.TurnContext{Location: h.loc})
	if !res.Success {
		h.logger.Warn("failed to list events", logging.Tool("list_events"), slog.String("message", res.Message))
		h.sendMessage(msg.Chat.ID, "取得事件列表失败，请稍后再试")
		return
	}
	data := res.Data.(tools.ListData)
	h.sendMessage(msg.Chat.ID, format.EventList("近期事件", data.Events, h.loc))
}

func (h *Handlers) handleDefinitions(msg *tgbotapi.Message, title string, defs []tools.Definition) {
	var sb strings.Builder
	sb.WriteString(title + "\n")
	for _, d := range defs {
		fmt.Fprintf(&sb, "\n• `%s` %s", d.Name, d.Description)
	}
	h.sendMessage(msg.Chat.ID, sb.String())
}
