// Package skills composes tools into multi-step procedures. Each step runs
// through the tool registry and declares whether its failure aborts the skill.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/logging"
	"github.com/hray3182/calpilot/internal/metrics"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/tools"
)

type Policy int

const (
	// Abort stops the skill and marks it failed. It is the default.
	Abort Policy = iota
	// Continue records the failure and proceeds to the next step.
	Continue
)

func (p Policy) String() string {
	if p == Continue {
		return "continue"
	}
	return "abort"
}

// StepContext is shared by the steps of one invocation.
type StepContext struct {
	Args    tools.Args
	Env     tools.Env
	results map[string]tools.Result
}

// Result returns the outcome of the latest step that ran tool.
func (sc *StepContext) Result(tool string) (tools.Result, bool) {
	r, ok := sc.results[tool]
	return r, ok
}

// Data returns the payload of a successful step, or nil.
func (sc *StepContext) Data(tool string) any {
	if r, ok := sc.results[tool]; ok && r.Success {
		return r.Data
	}
	return nil
}

type Step struct {
	Tool   string
	Policy Policy
	// Params builds the tool parameters from the skill input and earlier
	// results. An error fails the step without invoking the tool.
	Params func(sc *StepContext) (map[string]any, error)
	// Skip, when it returns true, records the step as skipped.
	Skip func(sc *StepContext) bool
}

// Summary is the final shape a skill gives its successful result.
type Summary struct {
	Message     string
	Data        any
	Suggestions []string
}

type Skill struct {
	Name        string
	Description string
	Params      []tools.Param
	Steps       []Step
	Summarize   func(sc *StepContext) Summary
}

func (s Skill) Definition() tools.Definition {
	return tools.Definition{Name: s.Name, Description: s.Description, Parameters: tools.Schema(s.Params)}
}

type Result struct {
	Skill       string              `json:"skill"`
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	Data        any                 `json:"data,omitempty"`
	Steps       []models.StepRecord `json:"steps"`
	Suggestions []string            `json:"suggestions,omitempty"`
	Error       *tools.ErrorInfo    `json:"error,omitempty"`
}

// Record converts the result for the session log.
func (r Result) Record() *models.SkillRecord {
	return &models.SkillRecord{
		Name:    r.Skill,
		Success: r.Success,
		Message: r.Message,
		Data:    r.Data,
		Steps:   r.Steps,
	}
}

func failure(name string, err error, steps []models.StepRecord) Result {
	if steps == nil {
		steps = []models.StepRecord{}
	}
	return Result{
		Skill:   name,
		Success: false,
		Message: apperr.Message(err),
		Steps:   steps,
		Error:   &tools.ErrorInfo{Kind: apperr.KindOf(err), Message: apperr.Message(err)},
	}
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry is built once and read-only afterwards.
type Registry struct {
	tools   *tools.Registry
	skills  map[string]Skill
	order   []string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry panics if a skill is duplicated or references a tool the
// tool registry does not have.
func NewRegistry(toolReg *tools.Registry, skills []Skill, opts ...Option) *Registry {
	r := &Registry{tools: toolReg, skills: make(map[string]Skill, len(skills)), logger: slog.Default()}
	for _, s := range skills {
		if _, dup := r.skills[s.Name]; dup {
			panic("skills: duplicate skill " + s.Name)
		}
		for _, step := range s.Steps {
			if !toolReg.Has(step.Tool) {
				panic(fmt.Sprintf("skills: %s uses unknown tool %s", s.Name, step.Tool))
			}
		}
		r.skills[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefault registers the calendar skills.
func NewDefault(toolReg *tools.Registry, opts ...Option) *Registry {
	return NewRegistry(toolReg, []Skill{ScheduleManagement(), MeetingPlanning(), DailyPlanning()}, opts...)
}

func (r *Registry) List() []tools.Definition {
	defs := make([]tools.Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.skills[name].Definition())
	}
	return defs
}

func (r *Registry) Has(name string) bool {
	_, ok := r.skills[name]
	return ok
}

// Invoke validates params and runs the named skill's steps in order.
// Step invocations do not observe ctx cancellation between steps; ctx is
// passed to each tool as is.
func (r *Registry) Invoke(ctx context.Context, env tools.Env, name string, params map[string]any) Result {
	start := time.Now()
	res := r.invoke(ctx, env, name, params)

	r.metrics.ObserveSkill(name, res.Success)
	r.logger.Info("skill invoked",
		logging.Skill(name),
		logging.Status(res.Success),
		logging.Duration(time.Since(start)),
		slog.Int("steps", len(res.Steps)))
	return res
}

func (r *Registry) invoke(ctx context.Context, env tools.Env, name string, params map[string]any) (res Result) {
	s, ok := r.skills[name]
	if !ok {
		return failure(name, apperr.Validation("unknown skill: %s", name), nil)
	}
	args, err := tools.Validate(s.Params, params, env)
	if err != nil {
		return failure(name, err, nil)
	}

	sc := &StepContext{Args: args, Env: env, results: make(map[string]tools.Result)}
	steps := []models.StepRecord{}
	defer func() {
		if p := recover(); p != nil {
			res = failure(name, apperr.Upstream(fmt.Errorf("panic: %v", p), "skill %s failed", name), steps)
		}
	}()

	for _, step := range s.Steps {
		if step.Skip != nil && step.Skip(sc) {
			steps = append(steps, models.StepRecord{Tool: step.Tool, Success: true, Skipped: true})
			continue
		}

		var (
			stepParams map[string]any
			perr       error
			out        tools.Result
		)
		if step.Params != nil {
			stepParams, perr = step.Params(sc)
		}
		if perr != nil {
			out = tools.Failure(perr)
		} else {
			out = r.tools.Invoke(ctx, env, step.Tool, stepParams)
		}
		sc.results[step.Tool] = out

		rec := models.StepRecord{Tool: step.Tool, Params: stepParams, Success: out.Success}
		if out.Success {
			rec.Result = out.Data
		} else {
			rec.Error = out.Error.Message
		}
		steps = append(steps, rec)

		if !out.Success && step.Policy == Abort {
			res = failure(name, out.Err(), steps)
			res.Message = fmt.Sprintf("步骤 %s 失败：%s", step.Tool, out.Error.Message)
			return res
		}
	}

	sum := Summary{}
	if s.Summarize != nil {
		sum = s.Summarize(sc)
	}
	return Result{
		Skill:       name,
		Success:     true,
		Message:     sum.Message,
		Data:        sum.Data,
		Steps:       steps,
		Suggestions: sum.Suggestions,
	}
}
