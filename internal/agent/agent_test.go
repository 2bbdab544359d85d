package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hray3182/calpilot/internal/ai"
	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/session"
	"github.com/hray3182/calpilot/internal/skills"
	"github.com/hray3182/calpilot/internal/store"
	"github.com/hray3182/calpilot/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

// Wednesday 2024-01-10 10:00
var ref = time.Date(2024, 1, 10, 10, 0, 0, 0, cst)

type script func(ctx context.Context, req ai.Request, onText ai.TextFunc) (ai.Response, error)

// fakeModel plays its script one step per request, repeating the last step
// once exhausted.
type fakeModel struct {
	mu       sync.Mutex
	steps    []script
	requests []ai.Request
}

func (m *fakeModel) Complete(ctx context.Context, req ai.Request, onText ai.TextFunc) (ai.Response, error) {
	m.mu.Lock()
	i := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if i >= len(m.steps) {
		i = len(m.steps) - 1
	}
	return m.steps[i](ctx, req, onText)
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func say(parts ...string) script {
	return func(_ context.Context, _ ai.Request, onText ai.TextFunc) (ai.Response, error) {
		for _, p := range parts {
			onText(p)
		}
		return ai.Response{Text: strings.Join(parts, "")}, nil
	}
}

func invoke(preamble string, invs ...models.Invocation) script {
	return func(_ context.Context, _ ai.Request, onText ai.TextFunc) (ai.Response, error) {
		if preamble != "" {
			onText(preamble)
		}
		return ai.Response{Text: preamble, Invocations: invs}, nil
	}
}

func call(id, name, args string) models.Invocation {
	return models.Invocation{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

type fixture struct {
	model *fakeModel
	store store.Store
	agent *Agent
	sess  *session.Session
}

func newFixture(steps ...script) *fixture {
	return newFixtureWith(tools.NewDefault(), steps...)
}

func newFixtureWith(toolReg *tools.Registry, steps ...script) *fixture {
	m := &fakeModel{steps: steps}
	st := store.NewMemory()
	var skillReg *skills.Registry
	if toolReg.Has("find_free_slots") {
		skillReg = skills.NewDefault(toolReg)
	} else {
		skillReg = skills.NewRegistry(toolReg, nil)
	}
	a := New(m, toolReg, skillReg, st,
		WithClock(func() time.Time { return ref }),
		WithLocation(cst))
	return &fixture{model: m, store: st, agent: a, sess: session.New("test")}
}

func collect(ch <-chan TurnEvent) []TurnEvent {
	var out []TurnEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func types(events []TurnEvent) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestTextToolTextOrdering(t *testing.T) {
	f := newFixture(
		invoke("我查一下。", call("c1", "list_events", `{"start_date":"明天","end_date":"明天"}`)),
		say("明天", "没有安排。"),
	)

	events := collect(f.agent.Send(context.Background(), f.sess, "明天有什么安排？", TurnContext{}))

	assert.Equal(t, []EventType{EventText, EventToolCall, EventText, EventText, EventDone}, types(events))
	assert.Equal(t, "我查一下。", events[0].Content)
	assert.Equal(t, "list_events", events[1].Tool)
	assert.True(t, events[1].Success)
	assert.Equal(t, "明天", events[2].Content)
	assert.Empty(t, events[4].Error)

	turns := f.sess.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	require.Len(t, turns[1].Invocations, 1)
	assert.Equal(t, models.RoleTool, turns[2].Role)
	assert.Equal(t, "c1", turns[2].CallID)
	assert.True(t, turns[2].ToolCall.Success)
	assert.Equal(t, "明天没有安排。", turns[3].Content)

	// The second round sees the tool result.
	require.Equal(t, 2, f.model.calls())
	second := f.model.requests[1]
	require.Len(t, second.Turns, 3)
	assert.Contains(t, second.Turns[2].Content, `"success":true`)
}

func TestRequestCarriesPromptAndSchemas(t *testing.T) {
	f := newFixture(say("好的"))
	collect(f.agent.Send(context.Background(), f.sess, "你好", TurnContext{}))

	req := f.model.requests[0]
	assert.Contains(t, req.System, "2024-01-10 10:00")
	names := map[string]bool{}
	for _, d := range req.Functions {
		names[d.Name] = true
	}
	assert.True(t, names["create_event"])
	assert.True(t, names["meeting_planning"])
	assert.Len(t, req.Functions, len(f.agent.ListTools())+len(f.agent.ListSkills()))
}

func TestSkillInvocation(t *testing.T) {
	f := newFixture(
		invoke("", call("s1", "meeting_planning", `{"title":"评审","date":"2024-01-11"}`)),
		say("已安排好。"),
	)

	events := collect(f.agent.Send(context.Background(), f.sess, "明天帮我约个评审", TurnContext{}))

	assert.Equal(t, []EventType{EventSkillStart, EventSkillResult, EventText, EventDone}, types(events))
	assert.Equal(t, "meeting_planning", events[0].Skill)
	assert.True(t, events[1].Success)
	assert.Len(t, events[1].Steps, 2)

	list, err := f.store.List(context.Background(), models.TimeRange{Start: ref, End: ref.AddDate(0, 0, 2)}, "评审")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	turns := f.sess.Turns()
	assert.Equal(t, models.RoleSkill, turns[2].Role)
	assert.Equal(t, "s1", turns[2].CallID)
	require.NotNil(t, turns[2].SkillResult)
	assert.True(t, turns[2].SkillResult.Success)
}

func TestUnknownInvocationIsFoldedBack(t *testing.T) {
	f := newFixture(
		invoke("", call("c1", "book_flight", `{}`)),
		say("我没有这个能力。"),
	)

	events := collect(f.agent.Send(context.Background(), f.sess, "订机票", TurnContext{}))

	assert.Equal(t, []EventType{EventToolCall, EventText, EventDone}, types(events))
	assert.False(t, events[0].Success)
	assert.Contains(t, events[0].Message, "unknown tool or skill")

	turns := f.sess.Turns()
	require.NotNil(t, turns[2].ToolCall)
	assert.Equal(t, string(apperr.KindValidation), turns[2].ToolCall.ErrorKind)
	assert.Contains(t, f.model.requests[1].Turns[2].Content, "book_flight")
}

func TestMalformedArgumentsFailValidation(t *testing.T) {
	f := newFixture(
		invoke("", call("c1", "get_event", `[1,2]`)),
		say("参数有误。"),
	)

	events := collect(f.agent.Send(context.Background(), f.sess, "看看事件", TurnContext{}))

	require.Equal(t, EventToolCall, events[0].Type)
	assert.False(t, events[0].Success)
	assert.Equal(t, string(apperr.KindValidation), f.sess.Turns()[2].ToolCall.ErrorKind)
}

func TestToolFailureDoesNotEndTurn(t *testing.T) {
	f := newFixture(
		invoke("", call("c1", "create_event", `{"title":"x","start_time":"明天下午3点","end_time":"明天下午2点"}`)),
		say("结束时间早于开始时间。"),
	)

	events := collect(f.agent.Send(context.Background(), f.sess, "建个事件", TurnContext{}))

	assert.Equal(t, []EventType{EventToolCall, EventText, EventDone}, types(events))
	assert.False(t, events[0].Success)
	assert.Empty(t, events[2].Error)
}

func TestRoundLimit(t *testing.T) {
	f := newFixture(invoke("", call("c", "list_events", `{}`)))
	f.agent = New(f.model, tools.NewDefault(), skills.NewDefault(tools.NewDefault()), f.store,
		WithClock(func() time.Time { return ref }), WithLocation(cst), WithMaxRounds(3))

	events := collect(f.agent.Send(context.Background(), f.sess, "一直查", TurnContext{}))

	assert.Equal(t, 3, f.model.calls())
	assert.Equal(t, []EventType{EventToolCall, EventToolCall, EventToolCall, EventText, EventDone}, types(events))
	assert.Equal(t, apologyLoopLimit, events[3].Content)
	assert.Equal(t, ErrorLoopLimit, events[4].Error)
}

func TestModelTimeout(t *testing.T) {
	blocking := func(ctx context.Context, _ ai.Request, _ ai.TextFunc) (ai.Response, error) {
		<-ctx.Done()
		return ai.Response{}, ctx.Err()
	}
	f := newFixture(blocking)
	f.agent = New(f.model, tools.NewDefault(), skills.NewDefault(tools.NewDefault()), f.store,
		WithClock(func() time.Time { return ref }), WithModelTimeout(20*time.Millisecond))

	events := collect(f.agent.Send(context.Background(), f.sess, "你好", TurnContext{}))

	require.Equal(t, []EventType{EventText, EventDone}, types(events))
	assert.Equal(t, apologyTimeout, events[0].Content)
	assert.Equal(t, string(apperr.KindTimeout), events[1].Error)
}

func TestUpstreamFailureKeepsHistoryUsable(t *testing.T) {
	failing := func(context.Context, ai.Request, ai.TextFunc) (ai.Response, error) {
		return ai.Response{}, apperr.Upstream(errors.New("502"), "bad gateway")
	}
	f := newFixture(failing, say("你好！"))

	first := collect(f.agent.Send(context.Background(), f.sess, "在吗", TurnContext{}))
	require.Equal(t, []EventType{EventText, EventDone}, types(first))
	assert.Equal(t, apologyUpstream, first[0].Content)
	assert.Equal(t, string(apperr.KindUpstream), first[1].Error)

	second := collect(f.agent.Send(context.Background(), f.sess, "在吗", TurnContext{}))
	assert.Equal(t, []EventType{EventText, EventDone}, types(second))
	assert.Empty(t, second[1].Error)
	assert.Len(t, f.model.requests[1].Turns, 3)
}

func TestCancellationFinishesDispatchedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		ran      int
		innerErr error
	)
	toolReg := tools.NewRegistry([]tools.Tool{{
		Name: "slow",
		Handler: func(hctx context.Context, _ tools.Env, _ tools.Args) (tools.Output, error) {
			cancel()
			ran++
			innerErr = hctx.Err()
			return tools.Output{Message: "done"}, nil
		},
	}})
	f := newFixtureWith(toolReg,
		invoke("", call("a", "slow", `{}`), call("b", "slow", `{}`)),
		say("不应该出现"),
	)

	events := collect(f.agent.Send(ctx, f.sess, "开始", TurnContext{}))

	assert.Empty(t, events, "nothing is emitted after cancellation")
	assert.Equal(t, 1, ran, "undispatched invocations are not started")
	assert.NoError(t, innerErr)
	assert.Equal(t, 1, f.model.calls(), "no model round-trip after cancellation")

	turns := f.sess.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, "a", turns[2].CallID)
	assert.True(t, turns[2].ToolCall.Success)
	assert.Equal(t, "b", turns[3].CallID)
	assert.False(t, turns[3].ToolCall.Success)
}

func TestTurnContextOverridesClock(t *testing.T) {
	f := newFixture(
		invoke("", call("c1", "create_event", `{"title":"早会","start_time":"明天上午9点"}`)),
		say("好"),
	)
	later := time.Date(2024, 2, 1, 8, 0, 0, 0, cst)

	collect(f.agent.Send(context.Background(), f.sess, "明天早会", TurnContext{Now: later}))

	e := f.sess.Turns()[2].ToolCall.Result.(tools.EventData).Event
	assert.True(t, time.Date(2024, 2, 2, 9, 0, 0, 0, cst).Equal(e.Start))
}

func TestDirectCalls(t *testing.T) {
	f := newFixture(say("unused"))
	ctx := context.Background()

	res := f.agent.CallTool(ctx, "create_event", map[string]any{"title": "演示", "start_time": "明天下午3点"}, TurnContext{})
	require.True(t, res.Success)

	sk := f.agent.CallSkill(ctx, "schedule_management", nil, TurnContext{})
	require.True(t, sk.Success)
	assert.Contains(t, sk.Message, "演示")

	assert.Len(t, f.agent.ListTools(), 10)
	assert.Len(t, f.agent.ListSkills(), 3)
	assert.Zero(t, f.model.calls())
}

func TestTurnEventJSON(t *testing.T) {
	tests := []struct {
		ev   TurnEvent
		want string
	}{
		{textEvent("你好"), `{"type":"text","content":"你好"}`},
		{TurnEvent{Type: EventToolCall, Tool: "get_event", Message: "not found"}, `{"type":"tool_call","tool":"get_event","success":false,"result":null,"message":"not found"}`},
		{TurnEvent{Type: EventSkillStart, Skill: "daily_planning"}, `{"type":"skill_start","skill":"daily_planning"}`},
		{TurnEvent{Type: EventSkillResult, Skill: "daily_planning", Success: true, Message: "ok"}, `{"type":"skill_result","skill":"daily_planning","success":true,"message":"ok","data":null,"steps":[]}`},
		{doneEvent(""), `{"type":"done"}`},
		{doneEvent("timeout"), `{"type":"done","error":"timeout"}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev.Type), func(t *testing.T) {
			b, err := json.Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}
