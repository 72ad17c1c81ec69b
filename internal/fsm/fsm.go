// Package fsm defines the capture session lifecycle as a pure transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

const (
	EventGranted  Event = "granted"
	EventDenied   Event = "denied"
	EventStop     Event = "stop"
	EventUploaded Event = "uploaded"
	EventRejected Event = "rejected"
)

// Terminal reports whether no further transitions leave state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventGranted:
			return StateListening, nil
		case EventDenied:
			return StateFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventStop:
			return StateProcessing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventUploaded:
			return StateCompleted, nil
		case EventRejected:
			return StateFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCompleted, StateFailed:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
