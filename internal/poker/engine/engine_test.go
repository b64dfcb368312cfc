package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/planningdeck/planningdeck/internal/poker/domain/round"
	"github.com/planningdeck/planningdeck/internal/poker/domain/vote"
	"github.com/planningdeck/planningdeck/internal/poker/publish"
	"github.com/planningdeck/planningdeck/internal/poker/storage"
	"github.com/planningdeck/planningdeck/internal/poker/storage/sqlite"
)

type fakePublisher struct {
	calls int
	note  string
	label string
	stats vote.Statistics
	err   error
}

func (f *fakePublisher) PublishRoundSummary(_ context.Context, _ storage.Session, _ storage.Task, stats vote.Statistics, note, label string) error {
	f.calls++
	f.stats = stats
	f.note = note
	f.label = label
	return f.err
}

func newTestEngine(t *testing.T, publisher publish.Publisher) (*Engine, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "poker.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, publisher), store
}

func seedSession(t *testing.T, store *sqlite.Store, sessionID string, taskIDs ...string) {
	t.Helper()
	ctx := context.Background()
	session := storage.Session{ID: sessionID, ModeratorID: "mod-1"}
	if len(taskIDs) > 0 {
		session.CurrentTaskID = taskIDs[0]
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	for i, taskID := range taskIDs {
		err := store.CreateTask(ctx, storage.Task{
			ID:        taskID,
			SessionID: sessionID,
			Position:  i,
			Title:     "task " + taskID,
		})
		if err != nil {
			t.Fatalf("create task %s: %v", taskID, err)
		}
	}
}

func mustEnsureCurrent(t *testing.T, eng *Engine, sessionID string) storage.Task {
	t.Helper()
	task, ok, err := eng.EnsureCurrentTask(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ensure current task: %v", err)
	}
	if !ok {
		t.Fatal("expected a current task")
	}
	return task
}

func TestEnsureCurrentTaskStartsRound(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1", "task-2")

	task := mustEnsureCurrent(t, eng, "sess-1")
	if task.ID != "task-1" {
		t.Fatalf("current task = %q, want task-1", task.ID)
	}
	if task.State != round.StateVoting {
		t.Fatalf("state = %q, want voting once current", task.State)
	}

	// A second call must be stable, not re-start.
	again := mustEnsureCurrent(t, eng, "sess-1")
	if again.State != round.StateVoting {
		t.Fatalf("state after second ensure = %q", again.State)
	}
}

func TestEnsureCurrentTaskReportsNone(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1")

	_, ok, err := eng.EnsureCurrentTask(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ensure current task: %v", err)
	}
	if ok {
		t.Fatal("expected no current task")
	}
}

func TestRecordVoteOverwriteReportsCreatedOnce(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()
	voter := storage.Participant{ID: "user-1", Name: "Alice"}

	receipt, err := eng.RecordVote(ctx, "sess-1", voter, 5)
	if err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if !receipt.Created {
		t.Fatal("expected created=true for first vote")
	}
	if receipt.Description != `Alice voted: "5 hours"` {
		t.Fatalf("description = %q", receipt.Description)
	}

	receipt, err = eng.RecordVote(ctx, "sess-1", voter, 8)
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if receipt.Created {
		t.Fatal("expected created=false for resubmission")
	}
}

func TestRecordVoteWithoutCurrentTask(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1")

	_, err := eng.RecordVote(context.Background(), "sess-1", storage.Participant{ID: "user-1", Name: "Alice"}, 5)
	if !errors.Is(err, ErrNoCurrentTask) {
		t.Fatalf("expected ErrNoCurrentTask, got %v", err)
	}
}

func TestRecordVoteRejectedOnceFinished(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()

	if _, err := eng.RevealCards(ctx, "sess-1"); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, err := eng.FinishRound(ctx, "sess-1", false, "", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// Backlog exhausted; the vote is dropped for lack of a current task.
	_, err := eng.RecordVote(ctx, "sess-1", storage.Participant{ID: "user-1", Name: "Alice"}, 5)
	if !errors.Is(err, ErrNoCurrentTask) {
		t.Fatalf("expected ErrNoCurrentTask, got %v", err)
	}
}

func TestRevealCardsMovesToDiscussingAndComputesStats(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()

	if _, err := eng.RecordVote(ctx, "sess-1", storage.Participant{ID: "user-1", Name: "Alice"}, 4); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := eng.RecordVote(ctx, "sess-1", storage.Participant{ID: "user-2", Name: "Bob"}, 6); err != nil {
		t.Fatalf("vote: %v", err)
	}

	reveal, err := eng.RevealCards(ctx, "sess-1")
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if reveal.Stats.TotalVoteCount != 2 || reveal.Stats.UndecidedCount != 0 {
		t.Fatalf("counts = (%d, %d)", reveal.Stats.TotalVoteCount, reveal.Stats.UndecidedCount)
	}
	if *reveal.Stats.Mean != 5.0 || *reveal.Stats.StdDev != 1.414 {
		t.Fatalf("mean = %v, std dev = %v", *reveal.Stats.Mean, *reveal.Stats.StdDev)
	}
	if len(reveal.Descriptions) != 2 {
		t.Fatalf("descriptions = %v", reveal.Descriptions)
	}

	task, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.State != round.StateDiscussing {
		t.Fatalf("state = %q, want discussing", task.State)
	}

	// Re-reveal while discussing picks up late votes.
	if _, err := eng.RecordVote(ctx, "sess-1", storage.Participant{ID: "user-3", Name: "Cara"}, vote.UnsureValue); err != nil {
		t.Fatalf("late vote: %v", err)
	}
	reveal, err = eng.RevealCards(ctx, "sess-1")
	if err != nil {
		t.Fatalf("re-reveal: %v", err)
	}
	if reveal.Stats.TotalVoteCount != 3 || reveal.Stats.UndecidedCount != 1 {
		t.Fatalf("counts after re-reveal = (%d, %d)", reveal.Stats.TotalVoteCount, reveal.Stats.UndecidedCount)
	}
}

func TestRevealCardsInvalidFromFinished(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1", "task-2")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()

	if _, err := eng.RevealCards(ctx, "sess-1"); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, err := eng.FinishRound(ctx, "sess-1", false, "", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// Current task advanced to task-2, which is voting, so reveal is legal;
	// force an illegal reveal by finishing everything first.
	if _, err := eng.RevealCards(ctx, "sess-1"); err != nil {
		t.Fatalf("reveal task-2: %v", err)
	}
	if _, err := eng.FinishRound(ctx, "sess-1", false, "", ""); err != nil {
		t.Fatalf("finish task-2: %v", err)
	}
	if _, err := eng.RevealCards(ctx, "sess-1"); !errors.Is(err, ErrNoCurrentTask) {
		t.Fatalf("expected ErrNoCurrentTask, got %v", err)
	}
}

func TestReplayRoundRequiresDiscussing(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()

	var invalid *round.InvalidTransitionError
	if err := eng.ReplayRound(ctx, "sess-1"); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError while voting, got %v", err)
	}

	if _, err := eng.RevealCards(ctx, "sess-1"); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := eng.ReplayRound(ctx, "sess-1"); err != nil {
		t.Fatalf("replay: %v", err)
	}

	task, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.State != round.StateVoting {
		t.Fatalf("state = %q, want voting after replay", task.State)
	}
}

func TestFinishRoundAdvancesInInsertionOrder(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1", "task-2", "task-3")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()

	if _, err := eng.RevealCards(ctx, "sess-1"); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	result, err := eng.FinishRound(ctx, "sess-1", false, "", "")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.NextTask == nil || result.NextTask.ID != "task-2" {
		t.Fatalf("next task = %+v, want task-2", result.NextTask)
	}
	if result.NextTask.State != round.StateVoting {
		t.Fatalf("next task state = %q, want voting", result.NextTask.State)
	}

	session, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.CurrentTaskID != "task-2" {
		t.Fatalf("current task = %q, want task-2", session.CurrentTaskID)
	}

	finished, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get finished task: %v", err)
	}
	if finished.State != round.StateFinished {
		t.Fatalf("finished task state = %q", finished.State)
	}
}

func TestFinishRoundExhaustsBacklog(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()

	if _, err := eng.RevealCards(ctx, "sess-1"); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	result, err := eng.FinishRound(ctx, "sess-1", false, "", "")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.NextTask != nil {
		t.Fatalf("next task = %+v, want none", result.NextTask)
	}

	session, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.CurrentTaskID != "" {
		t.Fatalf("current task = %q, want empty", session.CurrentTaskID)
	}
}

func TestFinishRoundRequiresDiscussing(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1")
	mustEnsureCurrent(t, eng, "sess-1")

	var invalid *round.InvalidTransitionError
	_, err := eng.FinishRound(context.Background(), "sess-1", false, "", "")
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError while voting, got %v", err)
	}

	task, taskErr := store.GetTask(context.Background(), "task-1")
	if taskErr != nil {
		t.Fatalf("get task: %v", taskErr)
	}
	if task.State != round.StateVoting {
		t.Fatalf("state mutated by rejected finish: %q", task.State)
	}
}

func TestFinishRoundWithSavePublishesSummary(t *testing.T) {
	publisher := &fakePublisher{}
	eng, store := newTestEngine(t, publisher)
	seedSession(t, store, "sess-1", "task-1")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()

	if _, err := eng.RecordVote(ctx, "sess-1", storage.Participant{ID: "user-1", Name: "Alice"}, 5); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := eng.RevealCards(ctx, "sess-1"); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, err := eng.FinishRound(ctx, "sess-1", true, "needs backend help", "estimated"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	if publisher.calls != 1 {
		t.Fatalf("publish calls = %d, want 1", publisher.calls)
	}
	if publisher.note != "needs backend help" || publisher.label != "estimated" {
		t.Fatalf("published note/label = %q/%q", publisher.note, publisher.label)
	}
	if publisher.stats.TotalVoteCount != 1 {
		t.Fatalf("published stats total = %d", publisher.stats.TotalVoteCount)
	}

	task, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Note != "needs backend help" {
		t.Fatalf("note = %q", task.Note)
	}
	if task.Label != "estimated" {
		t.Fatalf("label = %q", task.Label)
	}
}

func TestFinishRoundPublishFailureStillFinishes(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("tracker down")}
	eng, store := newTestEngine(t, publisher)
	seedSession(t, store, "sess-1", "task-1")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()

	if _, err := eng.RevealCards(ctx, "sess-1"); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, err := eng.FinishRound(ctx, "sess-1", true, "note", ""); err != nil {
		t.Fatalf("finish must not fail on publish error: %v", err)
	}

	task, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.State != round.StateFinished {
		t.Fatalf("state = %q, want finished despite publish failure", task.State)
	}
}

func TestFinishRoundSkipSavingDoesNotPublish(t *testing.T) {
	publisher := &fakePublisher{}
	eng, store := newTestEngine(t, publisher)
	seedSession(t, store, "sess-1", "task-1")
	mustEnsureCurrent(t, eng, "sess-1")
	ctx := context.Background()

	if _, err := eng.RevealCards(ctx, "sess-1"); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, err := eng.FinishRound(ctx, "sess-1", false, "ignored", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if publisher.calls != 0 {
		t.Fatalf("publish calls = %d, want 0", publisher.calls)
	}
}

func TestVoterSetJoinLeave(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1")
	ctx := context.Background()

	participants, err := eng.JoinVoter(ctx, "sess-1", storage.Participant{ID: "user-1", Name: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(participants) != 1 {
		t.Fatalf("participants = %+v", participants)
	}

	participants, err = eng.JoinVoter(ctx, "sess-1", storage.Participant{ID: "user-2", Name: "Bob"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("participants = %+v", participants)
	}

	participants, err = eng.LeaveVoter(ctx, "sess-1", "user-1")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(participants) != 1 || participants[0].ID != "user-2" {
		t.Fatalf("participants after leave = %+v", participants)
	}
}

func TestTaskTitles(t *testing.T) {
	eng, store := newTestEngine(t, nil)
	seedSession(t, store, "sess-1", "task-1", "task-2")

	titles, err := eng.TaskTitles(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("task titles: %v", err)
	}
	if len(titles) != 2 || titles[0] != "task task-1" || titles[1] != "task task-2" {
		t.Fatalf("titles = %v", titles)
	}
}
