package agent

import (
	"fmt"
	"slices"
)

// State is the agent's lifecycle position.
type State int

const (
	// StateParsed is the initial state: configured, nothing cached yet.
	StateParsed State = iota
	// StateInstalling means the manifest is being fetched and stored.
	StateInstalling
	// StateInstalled means the current generation is fully populated.
	StateInstalled
	// StateActivating means stale generations are being removed.
	StateActivating
	// StateActivated means the agent serves fetches for claimed clients.
	StateActivated
	// StateInstallFailed means the last install failed; Install may be retried.
	StateInstallFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateInstallFailed:
		return "install-failed"
	default:
		return "unknown"
	}
}

// transition moves from one of the allowed states to next, or fails with
// ErrInvalidState leaving the state untouched.
func (a *Agent) transition(next State, allowed ...State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !slices.Contains(allowed, a.state) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, a.state, next)
	}
	a.state = next
	return nil
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
