// Package engine coordinates the live estimation state for poker sessions.
//
// It composes the vote ledger and the session registry on top of the
// persistence boundary. Mutating operations are exclusive per session and
// reload fresh state from the store before acting; nothing read at
// connection time may be trusted for a later mutation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/planningdeck/planningdeck/internal/platform/timeouts"
	"github.com/planningdeck/planningdeck/internal/poker/domain/round"
	"github.com/planningdeck/planningdeck/internal/poker/domain/vote"
	"github.com/planningdeck/planningdeck/internal/poker/publish"
	"github.com/planningdeck/planningdeck/internal/poker/storage"
)

// ErrNoCurrentTask reports an operation on a session with no task under
// estimation.
var ErrNoCurrentTask = errors.New("session has no current task")

// ErrVotingClosed reports a vote cast while the round is not accepting
// estimates.
var ErrVotingClosed = errors.New("round is not accepting votes")

// Engine owns the per-session state transitions of the estimation flow.
type Engine struct {
	store          storage.Store
	publisher      publish.Publisher
	publishTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// New builds an engine over the given store. A nil publisher disables
// summary publishing.
func New(store storage.Store, publisher publish.Publisher) *Engine {
	if publisher == nil {
		publisher = publish.Noop{}
	}
	return &Engine{
		store:          store,
		publisher:      publisher,
		publishTimeout: timeouts.Publish,
		sessions:       make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing mutations for one session.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.sessions[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.sessions[sessionID] = lock
	}
	return lock
}

// Session loads one session. Returns storage.ErrNotFound for unknown ids.
func (e *Engine) Session(ctx context.Context, id string) (storage.Session, error) {
	return e.store.GetSession(ctx, id)
}

// TaskTitles returns the backlog titles in insertion order.
func (e *Engine) TaskTitles(ctx context.Context, sessionID string) ([]string, error) {
	tasks, err := e.store.ListTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(tasks))
	for _, task := range tasks {
		titles = append(titles, task.Title)
	}
	return titles, nil
}

// EnsureCurrentTask returns the task presently under estimation, starting
// its round if it has not begun. The bool reports whether a current task
// exists.
func (e *Engine) EnsureCurrentTask(ctx context.Context, sessionID string) (storage.Task, bool, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return storage.Task{}, false, err
	}
	if session.CurrentTaskID == "" {
		return storage.Task{}, false, nil
	}

	task, err := e.store.GetTask(ctx, session.CurrentTaskID)
	if err != nil {
		return storage.Task{}, false, err
	}
	if task.State == round.StateNotStarted {
		next, err := round.Apply(task.State, round.OpStartRound)
		if err != nil {
			return storage.Task{}, false, err
		}
		task.State = next
		if err := e.store.SaveTask(ctx, task); err != nil {
			return storage.Task{}, false, err
		}
	}
	return task, true, nil
}

// VoteReceipt reports the outcome of one recorded estimate back to the
// casting connection.
type VoteReceipt struct {
	Created     bool
	Description string
}

// RecordVote upserts one user's estimate for the current task. It fails with
// ErrNoCurrentTask when nothing is under estimation and ErrVotingClosed when
// the round is past discussion.
func (e *Engine) RecordVote(ctx context.Context, sessionID string, voter storage.Participant, value int) (VoteReceipt, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return VoteReceipt{}, err
	}
	if session.CurrentTaskID == "" {
		return VoteReceipt{}, ErrNoCurrentTask
	}

	task, err := e.store.GetTask(ctx, session.CurrentTaskID)
	if err != nil {
		return VoteReceipt{}, err
	}
	if !task.State.AcceptsVotes() {
		return VoteReceipt{}, ErrVotingClosed
	}

	created, err := e.store.UpsertVote(ctx, storage.Vote{
		TaskID:   task.ID,
		UserID:   voter.ID,
		UserName: voter.Name,
		Value:    value,
	})
	if err != nil {
		return VoteReceipt{}, err
	}
	return VoteReceipt{
		Created:     created,
		Description: vote.Describe(voter.Name, value),
	}, nil
}

// Reveal carries the exposed votes and their aggregate statistics.
type Reveal struct {
	Descriptions []string
	Stats        vote.Statistics
}

// RevealCards exposes the current task's votes. A task still in voting moves
// to discussing; a task already discussing is recomputed and re-revealed.
func (e *Engine) RevealCards(ctx context.Context, sessionID string) (Reveal, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return Reveal{}, err
	}
	if session.CurrentTaskID == "" {
		return Reveal{}, ErrNoCurrentTask
	}

	task, err := e.store.GetTask(ctx, session.CurrentTaskID)
	if err != nil {
		return Reveal{}, err
	}
	switch task.State {
	case round.StateVoting:
		next, err := round.Apply(task.State, round.OpStartDiscussion)
		if err != nil {
			return Reveal{}, err
		}
		task.State = next
		if err := e.store.SaveTask(ctx, task); err != nil {
			return Reveal{}, err
		}
	case round.StateDiscussing:
		// Re-reveal while discussing recomputes with any late votes.
	default:
		return Reveal{}, &round.InvalidTransitionError{Op: round.OpStartDiscussion, From: task.State}
	}

	votes, err := e.store.ListVotes(ctx, task.ID)
	if err != nil {
		return Reveal{}, err
	}
	descriptions := make([]string, 0, len(votes))
	values := make([]int, 0, len(votes))
	for _, v := range votes {
		descriptions = append(descriptions, vote.Describe(v.UserName, v.Value))
		values = append(values, v.Value)
	}
	return Reveal{
		Descriptions: descriptions,
		Stats:        vote.Compute(values),
	}, nil
}

// ReplayRound sends a discussed task back to voting. Existing votes are kept
// and overwritten by resubmission, never erased.
func (e *Engine) ReplayRound(ctx context.Context, sessionID string) error {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CurrentTaskID == "" {
		return ErrNoCurrentTask
	}

	task, err := e.store.GetTask(ctx, session.CurrentTaskID)
	if err != nil {
		return err
	}
	next, err := round.Apply(task.State, round.OpReplayRound)
	if err != nil {
		return err
	}
	task.State = next
	return e.store.SaveTask(ctx, task)
}

// FinishResult reports the task selected for the next round; NextTask is nil
// when the backlog is exhausted.
type FinishResult struct {
	NextTask *storage.Task
}

// FinishRound closes the current round and advances the session to the next
// not-yet-started task in backlog order. With shouldSave the moderator's
// note and label are stored and the summary is published to the tracker;
// publish failures are logged and never revert the finished state.
func (e *Engine) FinishRound(ctx context.Context, sessionID string, shouldSave bool, note, label string) (FinishResult, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return FinishResult{}, err
	}
	if session.CurrentTaskID == "" {
		return FinishResult{}, ErrNoCurrentTask
	}

	task, err := e.store.GetTask(ctx, session.CurrentTaskID)
	if err != nil {
		return FinishResult{}, err
	}
	saving, err := round.Apply(task.State, round.OpFinishDiscussion)
	if err != nil {
		return FinishResult{}, err
	}
	task.State = saving
	if err := e.store.SaveTask(ctx, task); err != nil {
		return FinishResult{}, err
	}

	if shouldSave {
		task.Note = note
		if label != "" {
			task.Label = label
		}
		task.State, err = round.Apply(task.State, round.OpSaveRound)
		if err != nil {
			return FinishResult{}, err
		}
		e.publishSummary(ctx, session, task, note, label)
	} else {
		task.State, err = round.Apply(task.State, round.OpSkipSaving)
		if err != nil {
			return FinishResult{}, err
		}
	}
	if err := e.store.SaveTask(ctx, task); err != nil {
		return FinishResult{}, err
	}

	next, err := e.advance(ctx, session)
	if err != nil {
		return FinishResult{}, err
	}
	return FinishResult{NextTask: next}, nil
}

// advance selects the earliest not-started task as current. Backlog order is
// insertion order; the scan is a stable linear pass, not a priority queue.
func (e *Engine) advance(ctx context.Context, session storage.Session) (*storage.Task, error) {
	tasks, err := e.store.ListTasks(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	var next *storage.Task
	for i := range tasks {
		if tasks[i].State == round.StateNotStarted {
			next = &tasks[i]
			break
		}
	}

	if next == nil {
		session.CurrentTaskID = ""
		if err := e.store.SaveSession(ctx, session); err != nil {
			return nil, err
		}
		return nil, nil
	}

	started, err := round.Apply(next.State, round.OpStartRound)
	if err != nil {
		return nil, err
	}
	next.State = started
	if err := e.store.SaveTask(ctx, *next); err != nil {
		return nil, err
	}
	session.CurrentTaskID = next.ID
	if err := e.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return next, nil
}

// publishSummary posts the round summary within a bounded timeout. Failures
// are logged only; the round transition has already been decided.
func (e *Engine) publishSummary(ctx context.Context, session storage.Session, task storage.Task, note, label string) {
	votes, err := e.store.ListVotes(ctx, task.ID)
	if err != nil {
		log.Printf("poker: load votes for summary task=%q: %v", task.ID, err)
		return
	}
	values := make([]int, 0, len(votes))
	for _, v := range votes {
		values = append(values, v.Value)
	}

	publishCtx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	defer cancel()
	if err := e.publisher.PublishRoundSummary(publishCtx, session, task, vote.Compute(values), note, label); err != nil {
		log.Printf("poker: publish round summary session=%q task=%q: %v", session.ID, task.ID, err)
	}
}

// JoinVoter adds the participant to the session's voter set and returns the
// updated participant list.
func (e *Engine) JoinVoter(ctx context.Context, sessionID string, p storage.Participant) ([]storage.Participant, error) {
	if err := e.store.AddVoter(ctx, sessionID, p); err != nil {
		return nil, fmt.Errorf("add voter: %w", err)
	}
	return e.store.ListVoters(ctx, sessionID)
}

// LeaveVoter removes the participant from the session's voter set and
// returns the updated participant list.
func (e *Engine) LeaveVoter(ctx context.Context, sessionID, userID string) ([]storage.Participant, error) {
	if err := e.store.RemoveVoter(ctx, sessionID, userID); err != nil {
		return nil, fmt.Errorf("remove voter: %w", err)
	}
	return e.store.ListVoters(ctx, sessionID)
}
