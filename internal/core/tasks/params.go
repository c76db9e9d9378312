package tasks

import (
	"fmt"
	"strconv"
	"time"
)

// Params is the opaque parameter bag a task is created with. Values arrive
// either from decoded JSON (strings, float64, []any) or from Go callers
// (durations, functions).
type Params map[string]any

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Without returns a copy of p minus the given keys.
func (p Params) Without(keys ...string) Params {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, s != ""
	case fmt.Stringer:
		str := s.String()
		return str, str != ""
	default:
		return "", false
	}
}

func (p Params) RequireString(key string) (string, error) {
	s, ok := p.String(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	return s, nil
}

// Duration reads key as a duration. Bare numbers are seconds, matching what
// browser clients send.
func (p Params) Duration(key string, def time.Duration) time.Duration {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
		if secs, err := strconv.ParseFloat(d, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}

func (p Params) StringSlice(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ProgressSource extracts the progress sampler a pipeline hands to its
// checker heartbeat.
func (p Params) ProgressSource(key string) (ProgressFunc, bool) {
	switch fn := p[key].(type) {
	case ProgressFunc:
		return fn, fn != nil
	case func() Progress:
		return fn, fn != nil
	}
	return nil, false
}
