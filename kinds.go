package automation

import (
	"fmt"
	"strings"
)

// RuleStatus is the lifecycle state of a rule.
type RuleStatus string

const (
	RuleStatusActive RuleStatus = "ACTIVE"
	RuleStatusPaused RuleStatus = "PAUSED"
	RuleStatusDraft  RuleStatus = "DRAFT"
)

var ruleStatuses = []RuleStatus{RuleStatusActive, RuleStatusPaused, RuleStatusDraft}

// TriggerKind identifies the event kind that makes a rule eligible to run.
type TriggerKind string

const (
	TriggerLeadCreated       TriggerKind = "LEAD_CREATED"
	TriggerLeadUpdated       TriggerKind = "LEAD_UPDATED"
	TriggerLeadStatusChanged TriggerKind = "LEAD_STATUS_CHANGED"
	TriggerPropertyCreated   TriggerKind = "PROPERTY_CREATED"
	TriggerPropertyUpdated   TriggerKind = "PROPERTY_UPDATED"
	TriggerPriceChanged      TriggerKind = "PRICE_CHANGED"
	TriggerCampaignCreated   TriggerKind = "CAMPAIGN_CREATED"
	TriggerCampaignUpdated   TriggerKind = "CAMPAIGN_UPDATED"
	TriggerTaskCompleted     TriggerKind = "TASK_COMPLETED"
	TriggerScheduled         TriggerKind = "SCHEDULED"
)

var triggerKinds = []TriggerKind{
	TriggerLeadCreated,
	TriggerLeadUpdated,
	TriggerLeadStatusChanged,
	TriggerPropertyCreated,
	TriggerPropertyUpdated,
	TriggerPriceChanged,
	TriggerCampaignCreated,
	TriggerCampaignUpdated,
	TriggerTaskCompleted,
	TriggerScheduled,
}

// ActionKind identifies one side-effecting step type.
type ActionKind string

const (
	ActionSendMessage      ActionKind = "SEND_MESSAGE"
	ActionCreateTask       ActionKind = "CREATE_TASK"
	ActionUpdateField      ActionKind = "UPDATE_FIELD"
	ActionAssignOwner      ActionKind = "ASSIGN_OWNER"
	ActionSendNotification ActionKind = "SEND_NOTIFICATION"
	ActionCallWebhook      ActionKind = "CALL_WEBHOOK"
	ActionRunAnalysis      ActionKind = "RUN_ANALYSIS"
)

var actionKinds = []ActionKind{
	ActionSendMessage,
	ActionCreateTask,
	ActionUpdateField,
	ActionAssignOwner,
	ActionSendNotification,
	ActionCallWebhook,
	ActionRunAnalysis,
}

// TriggerKinds returns every known trigger kind.
func TriggerKinds() []TriggerKind {
	out := make([]TriggerKind, len(triggerKinds))
	copy(out, triggerKinds)
	return out
}

// ActionKinds returns every known action kind.
func ActionKinds() []ActionKind {
	out := make([]ActionKind, len(actionKinds))
	copy(out, actionKinds)
	return out
}

func (s RuleStatus) String() string  { return string(s) }
func (k TriggerKind) String() string { return string(k) }
func (k ActionKind) String() string  { return string(k) }

// Valid reports whether s is a known status.
func (s RuleStatus) Valid() bool {
	for _, known := range ruleStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	for _, known := range triggerKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	for _, known := range actionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseRuleStatus parses a status name, case insensitive.
func ParseRuleStatus(value string) (RuleStatus, error) {
	s := RuleStatus(normalizeEnum(value))
	if !s.Valid() {
		return "", fmt.Errorf("unknown rule status %q", value)
	}
	return s, nil
}

// ParseTriggerKind parses a trigger kind name, case insensitive.
func ParseTriggerKind(value string) (TriggerKind, error) {
	k := TriggerKind(normalizeEnum(value))
	if !k.Valid() {
		return "", fmt.Errorf("unknown trigger kind %q", value)
	}
	return k, nil
}

// ParseActionKind parses an action kind name, case insensitive.
func ParseActionKind(value string) (ActionKind, error) {
	k := ActionKind(normalizeEnum(value))
	if !k.Valid() {
		return "", fmt.Errorf("unknown action kind %q", value)
	}
	return k, nil
}

func (s RuleStatus) MarshalText() ([]byte, error) {
	if s != "" && !s.Valid() {
		return nil, fmt.Errorf("unknown rule status %q", string(s))
	}
	return []byte(s), nil
}

func (s *RuleStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseRuleStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (k TriggerKind) MarshalText() ([]byte, error) {
	if k != "" && !k.Valid() {
		return nil, fmt.Errorf("unknown trigger kind %q", string(k))
	}
	return []byte(k), nil
}

func (k *TriggerKind) UnmarshalText(b []byte) error {
	parsed, err := ParseTriggerKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k ActionKind) MarshalText() ([]byte, error) {
	if k != "" && !k.Valid() {
		return nil, fmt.Errorf("unknown action kind %q", string(k))
	}
	return []byte(k), nil
}

func (k *ActionKind) UnmarshalText(b []byte) error {
	parsed, err := ParseActionKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// accepts "lead_created", "lead-created" and "LEAD_CREATED"
func normalizeEnum(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "-", "_")
	return strings.ToUpper(value)
}
