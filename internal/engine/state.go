package engine

import "fmt"

// State is the orchestrator's phase.
type State int

const (
	Unstaged State = iota
	Staged
	Copying
	Verifying
	Done
	Failed
)

var stateNames = [...]string{
	Unstaged:  "unstaged",
	Staged:    "staged",
	Copying:   "copying",
	Verifying: "verifying",
	Done:      "done",
	Failed:    "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// expect fails unless the orchestrator is in want.
func (o *Orchestrator) expect(want State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != want {
		return fmt.Errorf("%w: in %s, need %s", ErrInvalidState, o.state, want)
	}
	return nil
}

// advance moves from exactly one predecessor to next.
func (o *Orchestrator) advance(from, next State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidState, from, next, o.state)
	}
	o.state = next
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}
