// Package ruleset loads rule definitions from YAML or JSON documents of the
// form {rules: [...]}. Documents are checked against an embedded JSON
// schema before they are converted to rules.
package ruleset

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/store"
)

//go:embed schema.json
var schemaSource string

const schemaURL = "https://schemas.goliatone.dev/automation/ruleset.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Schema returns the compiled ruleset schema.
func Schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaSource)); err != nil {
			compileErr = fmt.Errorf("ruleset schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("ruleset schema compile failed: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// Document is the on-disk ruleset layout.
type Document struct {
	Rules []RuleDoc `json:"rules"`
}

type RuleDoc struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Trigger    TriggerDoc     `json:"trigger"`
	Conditions map[string]any `json:"conditions"`
	Actions    []ActionDoc    `json:"actions"`
}

type TriggerDoc struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

type ActionDoc struct {
	Type   string         `json:"type"`
	Order  int            `json:"order"`
	Config map[string]any `json:"config"`
	Retry  *RetryDoc      `json:"retry"`
}

// RetryDoc carries durations as strings such as "500ms" or "2s".
type RetryDoc struct {
	MaxAttempts int    `json:"max_attempts"`
	Backoff     string `json:"backoff"`
	MaxBackoff  string `json:"max_backoff"`
}

type options struct {
	owner  string
	status automation.RuleStatus
}

type Option func(*options)

// WithOwner sets the owner of rules that do not name one.
func WithOwner(owner string) Option {
	return func(o *options) { o.owner = owner }
}

// WithDefaultStatus sets the status of rules that do not name one.
// The default is ACTIVE.
func WithDefaultStatus(status automation.RuleStatus) Option {
	return func(o *options) { o.status = status }
}

// Load parses, schema-checks and validates a ruleset document.
func Load(r io.Reader, opts ...Option) ([]automation.Rule, error) {
	cfg := options{status: automation.RuleStatusActive}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}

	// YAML is a superset of JSON, so both formats decode here
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}
	canonical, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("normalize ruleset: %w", err)
	}

	var instance any
	if err := json.Unmarshal(canonical, &instance); err != nil {
		return nil, fmt.Errorf("normalize ruleset: %w", err)
	}
	schema, err := Schema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("ruleset does not match schema: %w", err)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}

	rules := make([]automation.Rule, 0, len(doc.Rules))
	seen := make(map[string]bool, len(doc.Rules))
	for i, rd := range doc.Rules {
		rule, err := rd.toRule(cfg)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rd.ID, err)
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("rule %d: duplicate id %q", i, rule.ID)
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadFile loads a ruleset from path.
func LoadFile(path string, opts ...Option) ([]automation.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, opts...)
}

// Import saves rules through w and returns how many were written. It stops
// at the first failure.
func Import(ctx context.Context, w store.RuleWriter, rules []automation.Rule) (int, error) {
	for i, rule := range rules {
		if err := w.SaveRule(ctx, rule); err != nil {
			return i, fmt.Errorf("save rule %s: %w", rule.ID, err)
		}
	}
	return len(rules), nil
}

func (rd RuleDoc) toRule(cfg options) (automation.Rule, error) {
	rule := automation.Rule{
		ID:         strings.TrimSpace(rd.ID),
		OwnerID:    strings.TrimSpace(rd.OwnerID),
		Name:       strings.TrimSpace(rd.Name),
		Status:     cfg.status,
		Conditions: automation.Conditions(rd.Conditions),
		Trigger: automation.Trigger{
			Type:   automation.TriggerKind(rd.Trigger.Type),
			Config: rd.Trigger.Config,
		},
		Actions: make([]automation.Action, 0, len(rd.Actions)),
	}
	if rule.OwnerID == "" {
		rule.OwnerID = cfg.owner
	}
	if rd.Status != "" {
		status, err := automation.ParseRuleStatus(rd.Status)
		if err != nil {
			return rule, err
		}
		rule.Status = status
	}

	for i, ad := range rd.Actions {
		act := automation.Action{
			Type:   automation.ActionKind(ad.Type),
			Order:  ad.Order,
			Config: ad.Config,
		}
		if ad.Retry != nil {
			policy, err := ad.Retry.policy()
			if err != nil {
				return rule, fmt.Errorf("action %d: %w", i, err)
			}
			act.Retry = policy
		}
		rule.Actions = append(rule.Actions, act)
	}
	return rule, nil
}

func (rd RetryDoc) policy() (*automation.RetryPolicy, error) {
	p := &automation.RetryPolicy{MaxAttempts: rd.MaxAttempts}
	var err error
	if p.Backoff, err = parseDuration(rd.Backoff); err != nil {
		return nil, fmt.Errorf("retry backoff: %w", err)
	}
	if p.MaxBackoff, err = parseDuration(rd.MaxBackoff); err != nil {
		return nil, fmt.Errorf("retry max_backoff: %w", err)
	}
	return p, nil
}

func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return time.ParseDuration(strings.TrimSpace(s))
}
