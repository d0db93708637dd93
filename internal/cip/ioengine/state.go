package ioengine

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of an implicit connection.
type State uint8

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ErrInvalidTransition is returned for a transition the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid connection state transition")

var transitions = map[State][]State{
	StateClosed:  {StateOpening},
	StateOpening: {StateOpen, StateClosed},
	StateOpen:    {StateClosing},
	StateClosing: {StateClosed},
}

// StateMachine tracks Closed -> Opening -> Open -> Closing -> Closed.
type StateMachine struct {
	mu      sync.Mutex
	current State
	onEnter func(from, to State)
}

// NewStateMachine starts in StateClosed. onEnter, if set, runs after each
// successful transition while no lock is held.
func NewStateMachine(onEnter func(from, to State)) *StateMachine {
	return &StateMachine{current: StateClosed, onEnter: onEnter}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves to next or returns ErrInvalidTransition.
func (m *StateMachine) Transition(next State) error {
	m.mu.Lock()
	from := m.current
	allowed := false
	for _, s := range transitions[from] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.current = next
	hook := m.onEnter
	m.mu.Unlock()

	if hook != nil {
		hook(from, next)
	}
	return nil
}
