package automation

import (
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
)

// Trigger describes which event kind makes a rule eligible.
type Trigger struct {
	Type   TriggerKind    `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Conditions is an AND of field equality checks against the entity snapshot.
// A nil or empty map always passes.
type Conditions map[string]any

// RetryPolicy is the explicit, opt-in retry policy for one action.
// A nil policy means a single attempt.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	MaxBackoff  time.Duration `json:"max_backoff,omitempty" yaml:"max_backoff,omitempty"`
}

// Action is one ordered step of a rule.
type Action struct {
	Type   ActionKind     `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Order  int            `json:"order" yaml:"order"`
	Retry  *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Stats are the running counters of a rule, mutated only by the stats aggregator.
type Stats struct {
	TotalRuns    int64      `json:"total_runs"`
	SuccessCount int64      `json:"success_count"`
	FailCount    int64      `json:"fail_count"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
}

// Rule is a persisted automation definition owned by a tenant.
type Rule struct {
	ID         string     `json:"id" yaml:"id"`
	OwnerID    string     `json:"owner_id" yaml:"owner_id"`
	Name       string     `json:"name" yaml:"name"`
	Status     RuleStatus `json:"status" yaml:"status"`
	Trigger    Trigger    `json:"trigger" yaml:"trigger"`
	Conditions Conditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions    []Action   `json:"actions" yaml:"actions"`
	Stats      Stats      `json:"stats" yaml:"-"`
	CreatedAt  time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"-"`
}

// Active reports whether the rule is eligible for matching.
func (r Rule) Active() bool {
	return r.Status == RuleStatusActive
}

// SortedActions returns the actions ordered by Order ascending.
// Ties keep their original list position.
func (r Rule) SortedActions() []Action {
	out := make([]Action, len(r.Actions))
	copy(out, r.Actions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// Validate checks the structural integrity of a rule definition.
func (r Rule) Validate() error {
	if err := errors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.ID, validation.Required),
			validation.Field(&r.OwnerID, validation.Required),
			validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
			validation.Field(&r.Status, validation.Required, validation.By(validEnum)),
			validation.Field(&r.Trigger),
			validation.Field(&r.Actions),
		)
	}, "invalid rule"); err != nil {
		return err.WithTextCode(ErrCodeRuleInvalid).
			WithMetadata(map[string]any{"rule_id": r.ID})
	}
	return nil
}

// Validate checks the trigger type.
func (t Trigger) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Type, validation.Required, validation.By(validEnum)),
	)
}

// Validate checks the action kind and retry policy.
func (a Action) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Type, validation.Required, validation.By(validEnum)),
		validation.Field(&a.Retry),
	)
}

// Validate checks the retry policy bounds.
func (p RetryPolicy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxAttempts, validation.Min(0), validation.Max(10)),
		validation.Field(&p.Backoff, validation.Min(time.Duration(0))),
		validation.Field(&p.MaxBackoff, validation.Min(time.Duration(0))),
	)
}

func validEnum(value any) error {
	type valider interface{ Valid() bool }
	v, ok := value.(valider)
	if !ok {
		return nil
	}
	if !v.Valid() {
		return validation.NewError("validation_enum", "must be a known value")
	}
	return nil
}
