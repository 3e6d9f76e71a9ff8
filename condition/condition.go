// Package condition evaluates rule conditions against an entity snapshot.
//
// Conditions are a conjunction of strict equalities. A value matches only
// when the snapshot holds the key with the same dynamic type and an equal
// value, so 1 never equals "1" and int(1) never equals float64(1). There
// is no OR, no range and no negation.
package condition

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/goliatone/go-automation"
)

// Evaluate reports whether every condition holds in snapshot.
// Nil or empty conditions always pass.
func Evaluate(conditions automation.Conditions, snapshot map[string]any) bool {
	ok, _ := Explain(conditions, snapshot)
	return ok
}

// Explain is Evaluate plus the reason for the first failing key.
// Keys are checked in sorted order so the reason is deterministic.
func Explain(conditions automation.Conditions, snapshot map[string]any) (bool, string) {
	if len(conditions) == 0 {
		return true, ""
	}

	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := conditions[key]
		got, found := snapshot[key]
		if !found {
			return false, fmt.Sprintf("condition %q: field missing from entity", key)
		}
		if !Equal(want, got) {
			return false, fmt.Sprintf("condition %q: expected %v (%T), got %v (%T)", key, want, want, got, got)
		}
	}
	return true, ""
}

// Equal is the strict equality used by the evaluator.
func Equal(want, got any) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	if reflect.TypeOf(want) != reflect.TypeOf(got) {
		return false
	}
	return reflect.DeepEqual(want, got)
}
