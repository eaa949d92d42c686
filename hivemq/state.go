package hivemq

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of a Container.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateWaitingHealthy
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateCreated:        "created",
	StateStarting:       "starting",
	StateWaitingHealthy: "waiting_healthy",
	StateRunning:        "running",
	StateStopping:       "stopping",
	StateStopped:        "stopped",
	StateFailed:         "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// allowedTransitions lists every legal edge of the lifecycle.
// Failed containers may still be stopped to release docker resources.
var allowedTransitions = map[State][]State{
	StateCreated:        {StateStarting, StateStopped},
	StateStarting:       {StateWaitingHealthy, StateFailed},
	StateWaitingHealthy: {StateRunning, StateFailed},
	StateRunning:        {StateStopping},
	StateFailed:         {StateStopping},
	StateStopping:       {StateStopped, StateFailed},
}

// stateMachine guards lifecycle transitions and notifies an observer.
type stateMachine struct {
	mu       sync.RWMutex
	current  State
	observer func(from, to State)
}

func newStateMachine(observer func(from, to State)) *stateMachine {
	return &stateMachine{current: StateCreated, observer: observer}
}

func (m *stateMachine) get() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// transition moves to next if the edge is allowed.
func (m *stateMachine) transition(next State) error {
	m.mu.Lock()
	from := m.current
	if !canTransition(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.current = next
	m.mu.Unlock()

	if m.observer != nil {
		m.observer(from, next)
	}
	return nil
}

func canTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
