package round

import (
	"errors"
	"testing"
)

func TestFullLegalPathReachesFinishedInFourTransitions(t *testing.T) {
	path := []Op{OpStartRound, OpStartDiscussion, OpFinishDiscussion, OpSaveRound}

	state := StateNotStarted
	for _, op := range path {
		next, err := Apply(state, op)
		if err != nil {
			t.Fatalf("apply %s from %s: %v", op, state, err)
		}
		state = next
	}
	if state != StateFinished {
		t.Fatalf("expected finished after %d transitions, got %s", len(path), state)
	}
}

func TestSkipSavingAlsoFinishes(t *testing.T) {
	state, err := Apply(StateSaving, OpSkipSaving)
	if err != nil {
		t.Fatalf("apply skip_saving: %v", err)
	}
	if state != StateFinished {
		t.Fatalf("expected finished, got %s", state)
	}
}

func TestReplayCycleReturnsToDiscussing(t *testing.T) {
	state, err := Apply(StateDiscussing, OpReplayRound)
	if err != nil {
		t.Fatalf("apply replay_round: %v", err)
	}
	if state != StateVoting {
		t.Fatalf("expected voting after replay, got %s", state)
	}
	state, err = Apply(state, OpStartDiscussion)
	if err != nil {
		t.Fatalf("apply start_discussion: %v", err)
	}
	if state != StateDiscussing {
		t.Fatalf("expected discussing after cycle of length 2, got %s", state)
	}
}

func TestIllegalTransitionsRejectedWithoutMutation(t *testing.T) {
	states := []State{StateNotStarted, StateVoting, StateDiscussing, StateSaving, StateFinished}
	ops := []Op{OpStartRound, OpStartDiscussion, OpReplayRound, OpFinishDiscussion, OpSaveRound, OpSkipSaving}

	for _, state := range states {
		for _, op := range ops {
			e, legal := transitions[op]
			if legal && e.from == state {
				continue
			}
			got, err := Apply(state, op)
			if err == nil {
				t.Fatalf("expected error applying %s from %s", op, state)
			}
			var invalid *InvalidTransitionError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidTransitionError, got %T", err)
			}
			if invalid.Op != op || invalid.From != state {
				t.Fatalf("error fields = (%s, %s), want (%s, %s)", invalid.Op, invalid.From, op, state)
			}
			if got != state {
				t.Fatalf("state mutated by illegal transition: %s -> %s", state, got)
			}
		}
	}
}

func TestUnknownOpRejected(t *testing.T) {
	if _, err := Apply(StateVoting, Op("teleport")); err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		value string
		want  State
		ok    bool
	}{
		{"not_started", StateNotStarted, true},
		{"voting", StateVoting, true},
		{"discussing", StateDiscussing, true},
		{"saving", StateSaving, true},
		{"finished", StateFinished, true},
		{"", "", false},
		{"paused", "", false},
	}
	for _, tc := range tests {
		got, ok := Normalize(tc.value)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Normalize(%q) = (%q, %v), want (%q, %v)", tc.value, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAcceptsVotes(t *testing.T) {
	for _, state := range []State{StateVoting, StateDiscussing} {
		if !state.AcceptsVotes() {
			t.Fatalf("expected %s to accept votes", state)
		}
	}
	for _, state := range []State{StateNotStarted, StateSaving, StateFinished} {
		if state.AcceptsVotes() {
			t.Fatalf("expected %s to reject votes", state)
		}
	}
}
