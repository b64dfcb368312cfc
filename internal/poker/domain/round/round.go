// Package round models the estimation lifecycle of a single task.
//
// A round is a five-state machine with exactly one backward edge: the
// moderator can send a discussed task back to voting ("replay"). Transitions
// are checked against an explicit table before any mutation, so an illegal
// transition is rejected rather than silently coerced.
package round

import "fmt"

// State identifies the round lifecycle label.
type State string

// Round states, in forward order.
const (
	StateNotStarted State = "not_started"
	StateVoting     State = "voting"
	StateDiscussing State = "discussing"
	StateSaving     State = "saving"
	StateFinished   State = "finished"
)

// Op identifies a round transition.
type Op string

// Round transitions.
const (
	OpStartRound       Op = "start_round"
	OpStartDiscussion  Op = "start_discussion"
	OpReplayRound      Op = "replay_round"
	OpFinishDiscussion Op = "finish_discussion"
	OpSaveRound        Op = "save_round"
	OpSkipSaving       Op = "skip_saving"
)

type edge struct {
	from State
	to   State
}

var transitions = map[Op]edge{
	OpStartRound:       {from: StateNotStarted, to: StateVoting},
	OpStartDiscussion:  {from: StateVoting, to: StateDiscussing},
	OpReplayRound:      {from: StateDiscussing, to: StateVoting},
	OpFinishDiscussion: {from: StateDiscussing, to: StateSaving},
	OpSaveRound:        {from: StateSaving, to: StateFinished},
	OpSkipSaving:       {from: StateSaving, to: StateFinished},
}

// InvalidTransitionError reports a transition attempted from a state other
// than its declared source. The state is left unchanged.
type InvalidTransitionError struct {
	Op   Op
	From State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s from state %s", e.Op, e.From)
}

// Apply returns the state reached by applying op to current.
// Unknown ops and ops whose source does not match current fail with
// *InvalidTransitionError and return current unchanged.
func Apply(current State, op Op) (State, error) {
	e, ok := transitions[op]
	if !ok || e.from != current {
		return current, &InvalidTransitionError{Op: op, From: current}
	}
	return e.to, nil
}

// Normalize parses a stored state label into a canonical value.
func Normalize(value string) (State, bool) {
	switch State(value) {
	case StateNotStarted, StateVoting, StateDiscussing, StateSaving, StateFinished:
		return State(value), true
	}
	return "", false
}

// AcceptsVotes reports whether estimates may be recorded in this state.
func (s State) AcceptsVotes() bool {
	return s == StateVoting || s == StateDiscussing
}

// Finished reports whether the round reached its terminal state.
func (s State) Finished() bool {
	return s == StateFinished
}
