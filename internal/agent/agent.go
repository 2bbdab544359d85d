// Package agent runs conversational turns: it asks the model what to do,
// dispatches the tools and skills it requests, and streams every step to
// the caller as TurnEvents.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hray3182/calpilot/internal/ai"
	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/logging"
	"github.com/hray3182/calpilot/internal/metrics"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/session"
	"github.com/hray3182/calpilot/internal/skills"
	"github.com/hray3182/calpilot/internal/store"
	"github.com/hray3182/calpilot/internal/tools"
)

const (
	DefaultMaxRounds    = 5
	DefaultModelTimeout = 60 * time.Second
)

const (
	apologyTimeout   = "抱歉，AI 响应超时了，请稍后再试一次。"
	apologyUpstream  = "抱歉，AI 服务暂时出了点问题，请稍后再试。"
	apologyLoopLimit = "抱歉，这个请求需要的步骤太多，我没能完成。可以换个说法或者拆成几步吗？"
)

// TurnContext is the per-turn view of the client. Zero fields fall back to
// the agent's defaults.
type TurnContext struct {
	Now          time.Time
	Location     *time.Location
	SelectedDate time.Time
	KnownEvents  []*models.Event
}

type Option func(*Agent)

func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// WithModelTimeout bounds every model round-trip.
func WithModelTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.modelTimeout = d
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(a *Agent) { a.loc = loc }
}

func WithWorkHours(w tools.WorkHours) Option {
	return func(a *Agent) { a.work = w }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithClock replaces time.Now as the default turn time.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// Agent is safe for concurrent use across sessions. Turns of one session
// are serialized by the session's turn lock.
type Agent struct {
	model  ai.Model
	tools  *tools.Registry
	skills *skills.Registry
	store  store.Store

	maxRounds    int
	modelTimeout time.Duration
	loc          *time.Location
	work         tools.WorkHours
	now          func() time.Time

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(model ai.Model, toolReg *tools.Registry, skillReg *skills.Registry, st store.Store, opts ...Option) *Agent {
	a := &Agent{
		model:        model,
		tools:        toolReg,
		skills:       skillReg,
		store:        st,
		maxRounds:    DefaultMaxRounds,
		modelTimeout: DefaultModelTimeout,
		loc:          time.Local,
		work:         tools.DefaultWorkHours,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) ListTools() []tools.Definition { return a.tools.List() }

func (a *Agent) ListSkills() []tools.Definition { return a.skills.List() }

func (a *Agent) HasTool(name string) bool { return a.tools.Has(name) }

func (a *Agent) HasSkill(name string) bool { return a.skills.Has(name) }

// CallTool runs a tool directly, without the model.
func (a *Agent) CallTool(ctx context.Context, name string, params map[string]any, tc TurnContext) tools.Result {
	return a.tools.Invoke(ctx, a.env(tc), name, params)
}

// CallSkill runs a skill directly, without the model.
func (a *Agent) CallSkill(ctx context.Context, name string, params map[string]any, tc TurnContext) skills.Result {
	return a.skills.Invoke(ctx, a.env(tc), name, params)
}

func (a *Agent) env(tc TurnContext) tools.Env {
	loc := tc.Location
	if loc == nil {
		loc = a.loc
	}
	now := tc.Now
	if now.IsZero() {
		now = a.now()
	}
	return tools.Env{Store: a.store, Now: now.In(loc), Location: loc, Work: a.work}
}

// Send starts a turn and returns its event stream. The channel is closed
// after the done event, or without one once ctx is canceled. Invocations
// already dispatched when ctx is canceled still run to completion.
func (a *Agent) Send(ctx context.Context, sess *session.Session, message string, tc TurnContext) <-chan TurnEvent {
	ch := make(chan TurnEvent, 16)
	go func() {
		defer close(ch)
		sess.Lock()
		defer sess.Unlock()

		t := &turn{
			agent:  a,
			ctx:    ctx,
			sess:   sess,
			env:    a.env(tc),
			out:    ch,
			logger: logging.WithSession(a.logger, sess.ID),
		}
		t.run(message, tc)
	}()
	return ch
}

type turn struct {
	agent  *Agent
	ctx    context.Context
	sess   *session.Session
	env    tools.Env
	out    chan<- TurnEvent
	logger *slog.Logger
}

// emit delivers ev unless the caller has gone away.
func (t *turn) emit(ev TurnEvent) bool {
	if t.ctx.Err() != nil {
		return false
	}
	select {
	case t.out <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (t *turn) run(message string, tc TurnContext) {
	a := t.agent
	finish := a.metrics.TurnStarted()
	kind := "ok"
	defer func() { finish(kind) }()

	t.sess.Append(models.ConversationTurn{Role: models.RoleUser, Content: message})

	req := ai.Request{
		System: ai.SystemPrompt(ai.PromptContext{
			Now:          t.env.Now,
			Location:     t.env.Location,
			SelectedDate: tc.SelectedDate,
			KnownEvents:  tc.KnownEvents,
		}),
		Functions: append(a.tools.List(), a.skills.List()...),
	}

	for round := 1; ; round++ {
		if t.ctx.Err() != nil {
			kind = "canceled"
			return
		}
		if round > a.maxRounds {
			kind = ErrorLoopLimit
			t.logger.Warn("turn stopped at round limit", logging.Round(a.maxRounds))
			t.fail(ErrorLoopLimit, apologyLoopLimit)
			return
		}

		req.Turns = t.sess.Turns()
		resp, err := t.complete(round, req)
		if err != nil {
			if t.ctx.Err() != nil {
				kind = "canceled"
				return
			}
			errKind := string(apperr.KindOf(err))
			kind = errKind
			t.logger.Error("model request failed", logging.Round(round), logging.Err(err))
			apology := apologyUpstream
			if apperr.Is(err, apperr.KindTimeout) {
				apology = apologyTimeout
			}
			t.fail(errKind, apology)
			return
		}

		t.sess.Append(models.ConversationTurn{
			Role:        models.RoleAssistant,
			Content:     resp.Text,
			Invocations: resp.Invocations,
		})
		if resp.Kind() == ai.KindText {
			t.emit(doneEvent(""))
			return
		}

		for i, inv := range resp.Invocations {
			if t.ctx.Err() != nil {
				t.abandon(resp.Invocations[i:])
				kind = "canceled"
				return
			}
			t.dispatch(inv)
		}
	}
}

func (t *turn) complete(round int, req ai.Request) (ai.Response, error) {
	a := t.agent
	ctx, cancel := context.WithTimeout(t.ctx, a.modelTimeout)
	defer cancel()

	start := time.Now()
	resp, err := a.model.Complete(ctx, req, func(fragment string) {
		if fragment != "" {
			t.emit(textEvent(fragment))
		}
	})
	if err != nil && !apperr.Is(err, apperr.KindTimeout) && ctx.Err() == context.DeadlineExceeded {
		err = apperr.Timeout(err, "AI request timed out")
	}
	a.metrics.ObserveModel(err == nil, time.Since(start))
	t.logger.Debug("model round",
		logging.Round(round),
		logging.Duration(time.Since(start)),
		logging.Status(err == nil),
		slog.Int("invocations", len(resp.Invocations)))
	return resp, err
}

// fail ends the turn with one apology and a done event carrying errKind.
// The apology is logged as the assistant's answer so the next turn sees a
// well-formed history.
func (t *turn) fail(errKind, apology string) {
	t.sess.Append(models.ConversationTurn{Role: models.RoleAssistant, Content: apology})
	if t.emit(textEvent(apology)) {
		t.emit(doneEvent(errKind))
	}
}

func (t *turn) dispatch(inv models.Invocation) {
	a := t.agent
	// Dispatched work finishes even if the caller leaves mid-way.
	ctx := context.WithoutCancel(t.ctx)
	params, argErr := decodeArguments(inv.Arguments)

	switch {
	case a.tools.Has(inv.Name):
		res := tools.Failure(argErr)
		if argErr == nil {
			res = a.tools.Invoke(ctx, t.env, inv.Name, params)
		}
		t.recordTool(inv, params, res)

	case a.skills.Has(inv.Name):
		t.emit(TurnEvent{Type: EventSkillStart, Skill: inv.Name})
		var res skills.Result
		if argErr != nil {
			res = skills.Result{
				Skill:   inv.Name,
				Message: apperr.Message(argErr),
				Steps:   []models.StepRecord{},
				Error:   &tools.ErrorInfo{Kind: apperr.KindOf(argErr), Message: apperr.Message(argErr)},
			}
		} else {
			res = a.skills.Invoke(ctx, t.env, inv.Name, params)
		}
		t.sess.Append(models.ConversationTurn{
			Role:        models.RoleSkill,
			Content:     encode(res, res.Message),
			CallID:      inv.ID,
			SkillResult: res.Record(),
		})
		t.emit(TurnEvent{
			Type:    EventSkillResult,
			Skill:   inv.Name,
			Success: res.Success,
			Message: res.Message,
			Data:    res.Data,
			Steps:   res.Steps,
		})

	default:
		t.logger.Warn("model requested unknown invocation", logging.Tool(inv.Name))
		res := tools.Failure(apperr.Validation("unknown tool or skill: %s", inv.Name))
		t.recordTool(inv, params, res)
	}
}

func (t *turn) recordTool(inv models.Invocation, params map[string]any, res tools.Result) {
	rec := &models.ToolCallRecord{
		Name:    inv.Name,
		Params:  params,
		Success: res.Success,
		Result:  res.Data,
		Message: res.Message,
	}
	if res.Error != nil {
		rec.ErrorKind = string(res.Error.Kind)
	}
	t.sess.Append(models.ConversationTurn{
		Role:     models.RoleTool,
		Content:  encode(res, res.Message),
		CallID:   inv.ID,
		ToolCall: rec,
	})
	t.emit(TurnEvent{
		Type:    EventToolCall,
		Tool:    inv.Name,
		Success: res.Success,
		Result:  res.Data,
		Message: res.Message,
	})
}

// abandon answers invocations that were never dispatched so every
// invocation in the log has a result.
func (t *turn) abandon(invs []models.Invocation) {
	for _, inv := range invs {
		res := tools.Failure(apperr.New(apperr.KindUpstream, "turn canceled before %s ran", inv.Name))
		t.sess.Append(models.ConversationTurn{
			Role:     models.RoleTool,
			Content:  encode(res, res.Message),
			CallID:   inv.ID,
			ToolCall: &models.ToolCallRecord{Name: inv.Name, Message: res.Message, ErrorKind: string(apperr.KindUpstream)},
		})
	}
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, apperr.Validation("arguments must be a JSON object: %v", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

func encode(v any, fallback string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(b)
}
