package pipeline

// State is a position in the coordinator's state machine.
type State string

const (
	StateAnalyzing    State = "ANALYZING"
	StateGenerating   State = "GENERATING"
	StateValidating   State = "VALIDATING"
	StateExecuting    State = "EXECUTING"
	StateExplaining   State = "EXPLAINING"
	StateRecommending State = "RECOMMENDING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
	StateCancelled    State = "CANCELLED"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	"":                {StateAnalyzing},
	StateAnalyzing:    {StateGenerating},
	StateGenerating:   {StateValidating},
	StateValidating:   {StateExecuting, StateExplaining, StateGenerating},
	StateExecuting:    {StateExplaining, StateRecommending, StateGenerating},
	StateExplaining:   {StateExecuting, StateRecommending, StateGenerating},
	StateRecommending: {StateDone},
}

// CanTransition reports whether from -> to is an edge of the state machine.
// FAILED and CANCELLED are reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
