package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/calpilot/internal/agent"
	"github.com/hray3182/calpilot/internal/ai"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/session"
	"github.com/hray3182/calpilot/internal/skills"
	"github.com/hray3182/calpilot/internal/store"
	"github.com/hray3182/calpilot/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

var ref = time.Date(2024, 1, 10, 10, 0, 0, 0, cst)

type recorder struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (r *recorder) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		r.sent = append(r.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, m := range r.sent {
		out[i] = m.Text
	}
	return out
}

// scripted answers each request with the next response in order.
type scripted struct {
	mu        sync.Mutex
	responses []ai.Response
	requests  []ai.Request
}

func (s *scripted) Complete(_ context.Context, req ai.Request, onText ai.TextFunc) (ai.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	if resp.Text != "" {
		onText(resp.Text)
	}
	return resp, nil
}

type fixture struct {
	rec      *recorder
	model    *scripted
	store    store.Store
	sessions *session.Manager
	h        *Handlers
}

func newFixture(responses ...ai.Response) *fixture {
	rec := &recorder{}
	model := &scripted{responses: responses}
	st := store.NewMemory()
	toolReg := tools.NewDefault()
	a := agent.New(model, toolReg, skills.NewDefault(toolReg), st,
		agent.WithClock(func() time.Time { return ref }), agent.WithLocation(cst))
	sessions := session.NewManager(time.Hour)
	return &fixture{rec: rec, model: model, store: st, sessions: sessions, h: New(rec, a, sessions, cst, nil)}
}

func message(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 7},
		From: &tgbotapi.User{ID: 1, FirstName: "Lin"},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func TestHandleMessageSegmentsText(t *testing.T) {
	f := newFixture(
		ai.Response{Text: "好的，我来创建。", Invocations: []models.Invocation{{
			ID: "c1", Name: "create_event", Arguments: json.RawMessage(`{"title":"评审","start_time":"明天下午3点"}`),
		}}},
		ai.Response{Text: "已为你创建 **评审**。"},
	)

	f.h.HandleMessage(context.Background(), message("明天下午3点评审"))

	texts := f.rec.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "好的，我来创建。", texts[0])
	assert.Contains(t, texts[1], "创建事件")
	assert.Equal(t, "已为你创建 评审。", texts[2])
	require.Len(t, f.rec.sent[2].Entities, 1)
	assert.Equal(t, "bold", f.rec.sent[2].Entities[0].Type)

	sess, ok := f.sessions.Lookup(sessionKey(7))
	require.True(t, ok)
	assert.Equal(t, 4, sess.Len())
}

func TestHandleMessageSkillEvents(t *testing.T) {
	f := newFixture(
		ai.Response{Invocations: []models.Invocation{{
			ID: "s1", Name: "daily_planning", Arguments: json.RawMessage(`{"date":"2024-01-11"}`),
		}}},
		ai.Response{Text: "这是你的安排。"},
	)

	f.h.HandleMessage(context.Background(), message("规划明天"))

	texts := f.rec.texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "每日规划")
	assert.Contains(t, texts[1], "当天没有已安排的事件")
	assert.Equal(t, "这是你的安排。", texts[2])
}

func TestReplyIsQuoted(t *testing.T) {
	f := newFixture(ai.Response{Text: "好"})
	msg := message("改到4点")
	msg.ReplyToMessage = &tgbotapi.Message{Text: "已创建评审 15:00", From: &tgbotapi.User{IsBot: true}}

	f.h.HandleMessage(context.Background(), msg)

	require.Len(t, f.model.requests, 1)
	user := f.model.requests[0].Turns[0]
	assert.Contains(t, user.Content, "已创建评审 15:00")
	assert.Contains(t, user.Content, "改到4点")
}

func TestCommands(t *testing.T) {
	f := newFixture(ai.Response{Text: "unused"})
	ctx := context.Background()

	f.h.HandleCommand(ctx, message("/help"))
	f.h.HandleCommand(ctx, message("/tools"))
	f.h.HandleCommand(ctx, message("/skills"))
	f.h.HandleCommand(ctx, message("/unknown"))

	texts := f.rec.texts()
	require.Len(t, texts, 4)
	assert.Contains(t, texts[0], "/events")
	assert.Contains(t, texts[1], "find_free_slots")
	assert.Contains(t, texts[2], "meeting_planning")
	assert.Contains(t, texts[3], "未知指令")
	assert.Empty(t, f.model.requests)
}

func TestEventsCommand(t *testing.T) {
	f := newFixture(ai.Response{Text: "unused"})
	ctx := context.Background()
	start := ref.AddDate(0, 0, 1).Add(5 * time.Hour)
	_, err := f.store.Create(ctx, &models.Event{Title: "周会", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)

	f.h.HandleCommand(ctx, message("/events"))

	texts := f.rec.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "周会")
}

func TestResetCommand(t *testing.T) {
	f := newFixture(ai.Response{Text: "你好"})
	ctx := context.Background()
	f.h.HandleMessage(ctx, message("你好"))
	first, _ := f.sessions.Lookup(sessionKey(7))

	f.h.HandleCommand(ctx, message("/reset"))

	_, ok := f.sessions.Lookup(sessionKey(7))
	assert.False(t, ok)
	assert.NotSame(t, first, f.sessions.Get(sessionKey(7)))
	assert.Contains(t, f.rec.texts()[1], "重置")
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"short"}, split("short", 10))

	parts := split("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc"}, parts)

	long := strings.Repeat("字", 25)
	parts = split(long, 10)
	require.Len(t, parts, 3)
	assert.Equal(t, strings.Repeat("字", 10), parts[0])
	assert.Equal(t, strings.Repeat("字", 5), parts[2])
}
