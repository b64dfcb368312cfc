// Package storage defines the persistence boundary for estimation sessions.
//
// Sessions, tasks and votes are owned by the store; the live engine holds
// read/write handles scoped to the request being processed and reloads fresh
// state before every guarded mutation.
package storage

import (
	"context"
	"errors"

	"github.com/planningdeck/planningdeck/internal/poker/domain/round"
)

// ErrNotFound reports a missing session or task.
var ErrNotFound = errors.New("not found")

// Session is one estimation meeting. CurrentTaskID is empty when no task is
// being voted (backlog exhausted or never started).
type Session struct {
	ID            string
	ModeratorID   string
	RepoName      string
	OrgName       string
	CurrentTaskID string
}

// Task is one estimable unit in a session's backlog. Position is the
// insertion order, the sole ordering key for round advancement.
type Task struct {
	ID          string
	SessionID   string
	Position    int
	Title       string
	Description string
	State       round.State
	Note        string
	Label       string
	IssueNumber int
}

// Vote is one user's estimate for one task. At most one vote exists per
// (task, user) pair; resubmission overwrites.
type Vote struct {
	TaskID   string
	UserID   string
	UserName string
	Value    int
}

// Participant identifies a connected voter within a session.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store persists sessions, tasks, votes and the per-session voter set.
type Store interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	SaveSession(ctx context.Context, session Session) error

	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	SaveTask(ctx context.Context, task Task) error
	// ListTasks returns the session's backlog in insertion order.
	ListTasks(ctx context.Context, sessionID string) ([]Task, error)

	// UpsertVote records an estimate, overwriting any previous vote by the
	// same user on the same task. It reports whether this was a fresh insert.
	UpsertVote(ctx context.Context, v Vote) (created bool, err error)
	ListVotes(ctx context.Context, taskID string) ([]Vote, error)

	AddVoter(ctx context.Context, sessionID string, p Participant) error
	RemoveVoter(ctx context.Context, sessionID, userID string) error
	ListVoters(ctx context.Context, sessionID string) ([]Participant, error)
}
