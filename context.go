package automation

import (
	"maps"
	"slices"
)

// EventScheduledTick is the event name used for scheduler driven runs.
const EventScheduledTick = "SCHEDULED_TICK"

// Context is the ephemeral run context handed to the condition evaluator
// and every action executor. Executors read Entity but never mutate it.
type Context struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Entity     map[string]any `json:"entity,omitempty"`
	Event      string         `json:"event"`
	OwnerID    string         `json:"owner_id"`
}

// Snapshot returns a copy of the context with a deep-copied entity.
func (c Context) Snapshot() Context {
	c.Entity = CloneMap(c.Entity)
	return c
}

// Fields returns the logging correlation fields for the context.
func (c Context) Fields() map[string]any {
	return map[string]any{
		"event":       c.Event,
		"entity_type": c.EntityType,
		"entity_id":   c.EntityID,
		"owner_id":    c.OwnerID,
	}
}

// CloneMap deep copies nested maps and slices. It covers the shapes JSON
// and YAML decoding produce plus the common typed containers; other values,
// such as pointers and structs, are shared.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = CloneMap(item)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case map[string][]string:
		if t == nil {
			return t
		}
		out := make(map[string][]string, len(t))
		for k, item := range t {
			out[k] = slices.Clone(item)
		}
		return out
	case map[string]int:
		return maps.Clone(t)
	case map[string]float64:
		return maps.Clone(t)
	case []string:
		return slices.Clone(t)
	case []int:
		return slices.Clone(t)
	case []int64:
		return slices.Clone(t)
	case []float64:
		return slices.Clone(t)
	case []bool:
		return slices.Clone(t)
	default:
		return v
	}
}
