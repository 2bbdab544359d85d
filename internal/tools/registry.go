// Package tools holds the calendar tool registry: declared parameter
// schemas, strict validation, and the handlers behind each tool.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/logging"
	"github.com/hray3182/calpilot/internal/metrics"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/store"
	"github.com/hray3182/calpilot/internal/timeparse"
)

// WorkHours are offsets from local midnight.
type WorkHours struct {
	Start time.Duration
	End   time.Duration
}

var DefaultWorkHours = WorkHours{Start: 9 * time.Hour, End: 17 * time.Hour}

// ParseWorkHours reads "HH:MM" bounds.
func ParseWorkHours(start, end string) (WorkHours, error) {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return WorkHours{}, fmt.Errorf("invalid work start %q: %w", start, err)
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return WorkHours{}, fmt.Errorf("invalid work end %q: %w", end, err)
	}
	w := WorkHours{
		Start: time.Duration(s.Hour())*time.Hour + time.Duration(s.Minute())*time.Minute,
		End:   time.Duration(e.Hour())*time.Hour + time.Duration(e.Minute())*time.Minute,
	}
	if w.End <= w.Start {
		return WorkHours{}, fmt.Errorf("work end %s must be after work start %s", end, start)
	}
	return w, nil
}

// On returns the work window of the day containing t.
func (w WorkHours) On(t time.Time) models.TimeRange {
	y, m, d := t.Date()
	at := func(off time.Duration) time.Time {
		return time.Date(y, m, d, int(off/time.Hour), int(off%time.Hour/time.Minute), 0, 0, t.Location())
	}
	return models.TimeRange{Start: at(w.Start), End: at(w.End)}
}

// Env is what a handler may touch: the store plus the turn's clock.
type Env struct {
	Store    store.Store
	Now      time.Time
	Location *time.Location
	Work     WorkHours
}

func (e Env) Loc() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

func (e Env) now() time.Time {
	if e.Now.IsZero() {
		return time.Now().In(e.Loc())
	}
	return e.Now.In(e.Loc())
}

func (e Env) Today() time.Time {
	return timeparse.StartOfDay(e.now(), e.Loc())
}

func (e Env) work() WorkHours {
	if e.Work.End <= e.Work.Start {
		return DefaultWorkHours
	}
	return e.Work
}

type Output struct {
	Data    any
	Message string
}

type Handler func(ctx context.Context, env Env, args Args) (Output, error)

type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

func (t Tool) Definition() Definition {
	return Definition{Name: t.Name, Description: t.Description, Parameters: Schema(t.Params)}
}

type ErrorInfo struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Result is the outcome of one invocation. Failures carry Error and never
// escape as Go errors.
type Result struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// Failure converts err into a failed Result.
func Failure(err error) Result {
	return Result{
		Success: false,
		Message: apperr.Message(err),
		Error:   &ErrorInfo{Kind: apperr.KindOf(err), Message: apperr.Message(err)},
	}
}

// Err returns the failure as an apperr error, or nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == nil {
		return apperr.New(apperr.KindUpstream, "%s", r.Message)
	}
	return apperr.New(r.Error.Kind, "%s", r.Error.Message)
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
	tools   map[string]Tool
	order   []string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry panics on duplicate or unnamed tools.
func NewRegistry(tools []Tool, opts ...Option) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools)), logger: slog.Default()}
	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			panic("tools: tool needs a name and a handler")
		}
		if _, dup := r.tools[t.Name]; dup {
			panic("tools: duplicate tool " + t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefault registers every calendar and scheduling tool.
func NewDefault(opts ...Option) *Registry {
	return NewRegistry(append(CalendarTools(), ScheduleTools()...), opts...)
}

// List returns definitions in registration order.
func (r *Registry) List() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Invoke validates params and runs the named tool.
func (r *Registry) Invoke(ctx context.Context, env Env, name string, params map[string]any) Result {
	start := time.Now()
	res := r.invoke(ctx, env, name, params)
	elapsed := time.Since(start)

	r.metrics.ObserveTool(name, res.Success, elapsed)
	attrs := []any{logging.Tool(name), logging.Status(res.Success), logging.Duration(elapsed)}
	if res.Error != nil {
		attrs = append(attrs, slog.String("error_kind", string(res.Error.Kind)), slog.String(logging.KeyError, res.Error.Message))
	}
	r.logger.Debug("tool invoked", attrs...)
	return res
}

func (r *Registry) invoke(ctx context.Context, env Env, name string, params map[string]any) Result {
	t, ok := r.tools[name]
	if !ok {
		return Failure(apperr.Validation("unknown tool: %s", name))
	}
	args, err := Validate(t.Params, params, env)
	if err != nil {
		return Failure(err)
	}
	out, err := call(ctx, t, env, args)
	if err != nil {
		return Failure(err)
	}
	return Result{Success: true, Data: out.Data, Message: out.Message}
}

func call(ctx context.Context, t Tool, env Env, args Args) (out Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apperr.Upstream(fmt.Errorf("panic: %v", p), "tool %s failed", t.Name)
		}
	}()
	return t.Handler(ctx, env, args)
}
