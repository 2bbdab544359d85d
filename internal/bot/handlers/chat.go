package handlers

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/calpilot/internal/agent"
	"github.com/hray3182/calpilot/internal/format"
	"github.com/hray3182/calpilot/internal/logging"
)

const maxQuoteLen = 200

// HandleMessage runs one agent turn for a free-text message. Text is
// buffered per segment and sent whenever a tool or skill event, or the end
// of the turn, closes the segment.
func (h *Handlers) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" {
		return
	}
	chatID := msg.Chat.ID
	sess := h.sessions.Get(sessionKey(chatID))
	logger := logging.WithSession(h.logger, sess.ID)
	logger.Debug("incoming message", slog.Int64("chat", chatID), slog.Int("length", len([]rune(msg.Text))))

	// A reply to one of our messages quotes it so the model knows what
	// "this" refers to.
	text := msg.Text
	if r := msg.ReplyToMessage; r != nil && r.Text != "" && r.From != nil && r.From.IsBot {
		text = "（回复：" + format.Truncate(r.Text, maxQuoteLen) + "）\n" + text
	}

	var segment strings.Builder
	flush := func() {
		h.sendMessage(chatID, segment.String())
		segment.Reset()
	}

	for ev := range h.agent.Send(ctx, sess, text, agent.TurnContext{Location: h.loc}) {
		switch ev.Type {
		case agent.EventText:
			segment.WriteString(ev.Content)
		case agent.EventToolCall:
			flush()
			h.sendMessage(chatID, format.ToolCall(ev.Tool, ev.Success, ev.Message))
		case agent.EventSkillStart:
			flush()
			h.sendMessage(chatID, format.SkillStart(ev.Skill))
		case agent.EventSkillResult:
			flush()
			h.sendMessage(chatID, format.SkillResult(ev.Skill, ev.Success, ev.Message))
		case agent.EventDone:
			flush()
			if ev.Error != "" {
				logger.Warn("turn ended early", slog.String("reason", ev.Error))
			}
		}
	}
	// Canceled turns close without done.
	flush()
}
