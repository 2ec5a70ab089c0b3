package scheduler

// State is where one (subscriber, window, day) delivery stands.
type State string

const (
	StateIdle      State = "idle"
	StateDue       State = "due"
	StateComposing State = "composing"
	StateSent      State = "sent"
	StateFailed    State = "failed"
	StateBlocked   State = "blocked"
	StateSkipped   State = "skipped"
)

var validTransitions = map[State][]State{
	StateIdle:      {StateDue},
	StateDue:       {StateComposing, StateSkipped, StateBlocked},
	StateComposing: {StateSent, StateFailed, StateBlocked, StateSkipped},
	StateFailed:    {StateDue},
	StateSent:      {},
	StateBlocked:   {},
	StateSkipped:   {},
}

func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}
