package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/timeparse"
)

// Args holds validated parameters. Integers are int, numbers float64, and
// datetime/date strings are resolved to timeparse.Result.
type Args struct {
	values map[string]any
	raw    map[string]any
}

func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a.values[name].(string)
	return s
}

func (a Args) Int(name string, def int) int {
	if n, ok := a.values[name].(int); ok {
		return n
	}
	return def
}

func (a Args) Float(name string, def float64) float64 {
	if n, ok := a.values[name].(float64); ok {
		return n
	}
	return def
}

func (a Args) Bool(name string, def bool) bool {
	if b, ok := a.values[name].(bool); ok {
		return b
	}
	return def
}

// Time returns a resolved datetime or date parameter.
func (a Args) Time(name string) (timeparse.Result, bool) {
	r, ok := a.values[name].(timeparse.Result)
	return r, ok
}

func (a Args) List(name string) []any {
	l, _ := a.values[name].([]any)
	return l
}

func (a Args) Object(name string) map[string]any {
	m, _ := a.values[name].(map[string]any)
	return m
}

// Raw returns the parameters as they were supplied, before coercion.
func (a Args) Raw() map[string]any {
	return a.raw
}

// Validate checks in against params and coerces each value. Unknown keys,
// missing required keys, wrong types and enum violations are validation
// errors; so is a time expression the resolver cannot read. A null value
// counts as absent.
func Validate(params []Param, in map[string]any, env Env) (Args, error) {
	values, err := validateObject(params, in, "", env)
	if err != nil {
		return Args{}, err
	}
	return Args{values: values, raw: in}, nil
}

func validateObject(params []Param, in map[string]any, prefix string, env Env) (map[string]any, error) {
	declared := make(map[string]Param, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}

	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := declared[k]; !ok {
			return nil, apperr.Validation("unknown parameter: %s%s", prefix, k)
		}
	}

	out := make(map[string]any, len(in))
	for _, p := range params {
		v, ok := in[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, apperr.Validation("missing required parameter: %s%s", prefix, p.Name)
			}
			continue
		}
		c, err := p.coerce(v, prefix+p.Name, env)
		if err != nil {
			return nil, err
		}
		out[p.Name] = c
	}
	return out, nil
}

func wrongType(path string, want Type, v any) error {
	return apperr.Validation("parameter %s must be %s, got %s", path, want, typeName(v))
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any, []string, []map[string]any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func (p Param) coerce(v any, path string, env Env) (any, error) {
	switch p.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, wrongType(path, p.Type, v)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return nil, apperr.Validation("invalid value for %s: %q (allowed: %s)", path, s, strings.Join(p.Enum, ", "))
		}
		if p.Format != "" {
			return p.resolve(s, path, env)
		}
		return s, nil

	case TypeInteger:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, apperr.Validation("parameter %s must be an integer, got %v", path, n)
			}
			return int(n), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, apperr.Validation("parameter %s must be an integer, got %s", path, n)
			}
			return int(i), nil
		}
		return nil, wrongType(path, p.Type, v)

	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, wrongType(path, p.Type, v)
			}
			return f, nil
		}
		return nil, wrongType(path, p.Type, v)

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, wrongType(path, p.Type, v)
		}
		return b, nil

	case TypeArray:
		var items []any
		switch l := v.(type) {
		case []any:
			items = l
		case []string:
			for _, s := range l {
				items = append(items, s)
			}
		case []map[string]any:
			for _, m := range l {
				items = append(items, m)
			}
		default:
			return nil, wrongType(path, p.Type, v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			if p.Items == nil {
				out[i] = item
				continue
			}
			c, err := p.Items.coerce(item, fmt.Sprintf("%s[%d]", path, i), env)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil

	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, wrongType(path, p.Type, v)
		}
		if len(p.Properties) == 0 {
			return m, nil
		}
		return validateObject(p.Properties, m, path+".", env)
	}
	return nil, apperr.Validation("parameter %s has unsupported type %s", path, p.Type)
}

func (p Param) resolve(s, path string, env Env) (timeparse.Result, error) {
	r, err := timeparse.Resolve(s, env.now(), env.Loc())
	if err != nil {
		return timeparse.Result{}, apperr.Wrap(apperr.KindValidation, err, "cannot read %s %q: %s", path, s, apperr.Message(err))
	}
	if p.Format == FormatDate && r.HasTime {
		r.Start = timeparse.StartOfDay(r.Start, env.Loc())
		r.HasTime = false
		if r.IsRange {
			r.End = timeparse.StartOfDay(r.End.Add(-time.Nanosecond), env.Loc()).AddDate(0, 0, 1)
		}
	}
	return r, nil
}
