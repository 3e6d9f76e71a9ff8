package flow

// RunState is a step of one orchestration pass.
type RunState string

const (
	StateStarted           RunState = "STARTED"
	StateConditionsSkipped RunState = "CONDITIONS_SKIPPED"
	StateConditionsPassed  RunState = "CONDITIONS_PASSED"
	StateActions           RunState = "ACTIONS"
	StateFinalized         RunState = "FINALIZED"
)

func (s RunState) String() string { return string(s) }

var transitions = map[RunState][]RunState{
	StateStarted:           {StateConditionsSkipped, StateConditionsPassed, StateFinalized},
	StateConditionsSkipped: {StateFinalized},
	StateConditionsPassed:  {StateActions, StateFinalized},
	StateActions:           {StateFinalized},
}

// CanTransition reports whether next may follow current.
func CanTransition(current, next RunState) bool {
	for _, allowed := range transitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}
