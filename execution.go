package automation

import "time"

// ExecutionStatus is the overall outcome of one rule run.
type ExecutionStatus string

const (
	// ExecutionRunning is the provisional status persisted when a run starts.
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionPartial ExecutionStatus = "PARTIAL"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

func (s ExecutionStatus) String() string { return string(s) }

// Final reports whether s is a terminal status.
func (s ExecutionStatus) Final() bool {
	switch s {
	case ExecutionSuccess, ExecutionPartial, ExecutionFailed:
		return true
	default:
		return false
	}
}

// LogStatus is the outcome of one actions log entry.
type LogStatus string

const (
	LogSuccess LogStatus = "SUCCESS"
	LogFailed  LogStatus = "FAILED"
	LogSkipped LogStatus = "SKIPPED"
)

const (
	// LogActionConditions names the single entry written when the condition gate fails.
	LogActionConditions = "CONDITIONS"
	// LogActionExecution names the entry written when the run aborts.
	LogActionExecution = "EXECUTION"
)

// ActionLogEntry records one step of an execution.
type ActionLogEntry struct {
	Action    string         `json:"action"`
	Status    LogStatus      `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TriggeredBy identifies the event that caused an execution.
type TriggeredBy struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Event      string `json:"event"`
}

// Execution is the record of a single rule run.
type Execution struct {
	ID           string           `json:"id"`
	RuleID       string           `json:"rule_id"`
	OwnerID      string           `json:"owner_id"`
	Status       ExecutionStatus  `json:"status"`
	TriggeredBy  TriggeredBy      `json:"triggered_by"`
	ActionsLog   []ActionLogEntry `json:"actions_log"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Finalized reports whether the execution reached its single completion update.
func (e Execution) Finalized() bool {
	return e.CompletedAt != nil && e.Status.Final()
}

// Clone returns a deep copy of the execution.
func (e Execution) Clone() Execution {
	out := e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	if e.ActionsLog != nil {
		out.ActionsLog = make([]ActionLogEntry, len(e.ActionsLog))
		for i, entry := range e.ActionsLog {
			entry.Result = CloneMap(entry.Result)
			out.ActionsLog[i] = entry
		}
	}
	return out
}
