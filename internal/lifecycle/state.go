package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"offlinegate/internal/metrics"
)

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is a step of the agent lifecycle.
type State int

const (
	Uninstalled State = iota
	Installing
	Installed
	Activating
	Active
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Activating:
		return "activating"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Uninstalled: {Installing},
	Installing:  {Installed, Uninstalled},
	Installed:   {Activating},
	Activating:  {Active, Installed},
}

// Machine holds the current lifecycle state. Transitions are requested by
// the host; the machine only rejects the ones that skip or reverse steps.
type Machine struct {
	mu    sync.RWMutex
	state State
}

func NewMachine() *Machine {
	metrics.SetLifecycleState(float64(Uninstalled))
	return &Machine{state: Uninstalled}
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Advance moves from the expected state to the next one.
func (m *Machine) Advance(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != from {
		return fmt.Errorf("%w: in %s, not %s", ErrInvalidTransition, m.state, from)
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			m.state = to
			metrics.SetLifecycleState(float64(to))
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
