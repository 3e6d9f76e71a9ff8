package automation

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	ErrCodeMatchFault         = "MATCH_FAULT"
	ErrCodeActionFailed       = "ACTION_FAILED"
	ErrCodeActionConfig       = "ACTION_CONFIG_INVALID"
	ErrCodeActionTimeout      = "ACTION_TIMEOUT"
	ErrCodeExecutorNotFound   = "EXECUTOR_NOT_FOUND"
	ErrCodeOrchestrationFault = "ORCHESTRATION_FAULT"
	ErrCodeStatsConflict      = "STATS_CONFLICT"
	ErrCodeRuleNotFound       = "RULE_NOT_FOUND"
	ErrCodeRuleInactive       = "RULE_INACTIVE"
	ErrCodeRuleInvalid        = "RULE_INVALID"
	ErrCodeExecutionFinalized = "EXECUTION_FINALIZED"
)

var (
	ErrMatchFault = errors.New("rule store unavailable during matching", errors.CategoryExternal).
			WithTextCode(ErrCodeMatchFault)
	ErrActionFailed = errors.New("action failed", errors.CategoryHandler).
			WithTextCode(ErrCodeActionFailed)
	ErrActionConfig = errors.New("invalid action config", errors.CategoryValidation).
			WithTextCode(ErrCodeActionConfig)
	ErrActionTimeout = errors.New("action timed out", errors.CategoryExternal).
				WithTextCode(ErrCodeActionTimeout)
	ErrExecutorNotFound = errors.New("no executor registered", errors.CategoryBadInput).
				WithTextCode(ErrCodeExecutorNotFound)
	ErrOrchestrationFault = errors.New("orchestration fault", errors.CategoryInternal).
				WithTextCode(ErrCodeOrchestrationFault)
	ErrStatsConflict = errors.New("stats update conflict", errors.CategoryConflict).
				WithTextCode(ErrCodeStatsConflict)
	ErrRuleNotFound = errors.New("rule not found", errors.CategoryNotFound).
			WithTextCode(ErrCodeRuleNotFound)
	ErrRuleInactive = errors.New("rule is not active", errors.CategoryBadInput).
			WithTextCode(ErrCodeRuleInactive)
	ErrExecutionFinalized = errors.New("execution already finalized", errors.CategoryConflict).
				WithTextCode(ErrCodeExecutionFinalized)
)

// NewError clones a base taxonomy error with a specific message, source and metadata.
func NewError(base *errors.Error, message string, source error, metadata map[string]any) *errors.Error {
	if base == nil {
		base = ErrOrchestrationFault
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// MatchFault reports that rules for owner could not be loaded for event.
func MatchFault(ownerID, event string, source error) *errors.Error {
	return NewError(ErrMatchFault, "", source, map[string]any{
		"owner_id": ownerID,
		"event":    event,
	})
}

// ActionFailure wraps an executor error. Errors that already carry an
// action code (config, timeout, missing executor) keep it.
func ActionFailure(kind ActionKind, source error) *errors.Error {
	meta := map[string]any{"action": kind.String()}
	if source == nil {
		return NewError(ErrActionFailed, "", nil, meta)
	}
	if ge := taxonomyError(source); ge != nil && isActionCode(ge.TextCode) {
		return ge.Clone().WithMetadata(meta)
	}
	return NewError(ErrActionFailed, fmt.Sprintf("%s failed", kind), source, meta)
}

// OrchestrationFault reports a failure in the orchestrator itself, outside any action.
func OrchestrationFault(message string, source error) *errors.Error {
	return NewError(ErrOrchestrationFault, message, source, nil)
}

// ErrorCode returns the outermost taxonomy text code carried by err, if any.
func ErrorCode(err error) string {
	if ge := taxonomyError(err); ge != nil {
		return ge.TextCode
	}
	return ""
}

func taxonomyError(err error) *errors.Error {
	for err != nil {
		switch e := err.(type) {
		case *errors.Error:
			if e.TextCode != "" {
				return e
			}
		case *errors.RetryableError:
			if e.BaseError != nil && e.BaseError.TextCode != "" {
				return e.BaseError
			}
		}
		err = stderrors.Unwrap(err)
	}
	return nil
}

// IsActionFailure reports whether err is a per-action failure.
func IsActionFailure(err error) bool {
	return isActionCode(ErrorCode(err))
}

// IsOrchestrationFault reports whether err aborted an execution.
func IsOrchestrationFault(err error) bool {
	return ErrorCode(err) == ErrCodeOrchestrationFault
}

// IsMatchFault reports whether err is a rule store fault during matching.
func IsMatchFault(err error) bool {
	return ErrorCode(err) == ErrCodeMatchFault
}

// IsStatsConflict reports whether a stats update exhausted its compare-and-set attempts.
func IsStatsConflict(err error) bool {
	return ErrorCode(err) == ErrCodeStatsConflict
}

// IsRuleNotFound reports whether err is a missing rule.
func IsRuleNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeRuleNotFound
}

// ErrorMessage returns a compact message suitable for an actions log entry.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if ge := taxonomyError(err); ge != nil {
		msg := ge.Message
		if len(ge.ValidationErrors) > 0 {
			msg = fmt.Sprintf("%s: %s", msg, ge.ValidationErrors.Error())
		}
		if ge.Source != nil {
			msg = fmt.Sprintf("%s: %v", msg, ge.Source)
		}
		return msg
	}
	return err.Error()
}

func isActionCode(code string) bool {
	switch code {
	case ErrCodeActionFailed, ErrCodeActionConfig, ErrCodeActionTimeout, ErrCodeExecutorNotFound:
		return true
	default:
		return false
	}
}
