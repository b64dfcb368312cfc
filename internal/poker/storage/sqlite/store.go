// Package sqlite provides a SQLite-backed poker storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/planningdeck/planningdeck/internal/platform/storage/sqlitemigrate"
	"github.com/planningdeck/planningdeck/internal/poker/domain/round"
	"github.com/planningdeck/planningdeck/internal/poker/storage"
	"github.com/planningdeck/planningdeck/internal/poker/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists poker state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

// Open opens a SQLite poker store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateSession inserts one session record.
func (s *Store) CreateSession(ctx context.Context, session storage.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(session.ID)
	moderatorID := strings.TrimSpace(session.ModeratorID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if moderatorID == "" {
		return fmt.Errorf("moderator id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (id, moderator_id, repo_name, org_name, current_task_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID,
		moderatorID,
		strings.TrimSpace(session.RepoName),
		strings.TrimSpace(session.OrgName),
		strings.TrimSpace(session.CurrentTaskID),
		nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return storage.Session{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, moderator_id, repo_name, org_name, current_task_id
		 FROM sessions WHERE id = ?`,
		id,
	)
	var session storage.Session
	err := row.Scan(
		&session.ID,
		&session.ModeratorID,
		&session.RepoName,
		&session.OrgName,
		&session.CurrentTaskID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// SaveSession updates the mutable session fields.
func (s *Store) SaveSession(ctx context.Context, session storage.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(session.ID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions SET current_task_id = ?, repo_name = ?, org_name = ? WHERE id = ?`,
		strings.TrimSpace(session.CurrentTaskID),
		strings.TrimSpace(session.RepoName),
		strings.TrimSpace(session.OrgName),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateTask inserts one task record.
func (s *Store) CreateTask(ctx context.Context, task storage.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	taskID := strings.TrimSpace(task.ID)
	sessionID := strings.TrimSpace(task.SessionID)
	title := strings.TrimSpace(task.Title)
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if title == "" {
		return fmt.Errorf("title is required")
	}
	state := task.State
	if state == "" {
		state = round.StateNotStarted
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO tasks (id, session_id, position, title, description, state, note, label, issue_number, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID,
		sessionID,
		task.Position,
		title,
		task.Description,
		string(state),
		task.Note,
		task.Label,
		task.IssueNumber,
		nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask returns one task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (storage.Task, error) {
	if err := ctx.Err(); err != nil {
		return storage.Task{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Task{}, fmt.Errorf("task id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, session_id, position, title, description, state, note, label, issue_number
		 FROM tasks WHERE id = ?`,
		id,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// SaveTask updates the mutable task fields.
func (s *Store) SaveTask(ctx context.Context, task storage.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	taskID := strings.TrimSpace(task.ID)
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	if _, ok := round.Normalize(string(task.State)); !ok {
		return fmt.Errorf("unknown round state %q", task.State)
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE tasks SET state = ?, note = ?, label = ? WHERE id = ?`,
		string(task.State),
		task.Note,
		task.Label,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save task rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListTasks returns the session's backlog in insertion order.
func (s *Store) ListTasks(ctx context.Context, sessionID string) ([]storage.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, session_id, position, title, description, state, note, label, issue_number
		 FROM tasks WHERE session_id = ? ORDER BY position ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []storage.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (storage.Task, error) {
	var task storage.Task
	var state string
	err := row.Scan(
		&task.ID,
		&task.SessionID,
		&task.Position,
		&task.Title,
		&task.Description,
		&state,
		&task.Note,
		&task.Label,
		&task.IssueNumber,
	)
	if err != nil {
		return storage.Task{}, err
	}
	normalized, ok := round.Normalize(state)
	if !ok {
		return storage.Task{}, fmt.Errorf("unknown round state %q", state)
	}
	task.State = normalized
	return task, nil
}

// UpsertVote records an estimate, overwriting any previous vote by the same
// user on the same task. The created flag reports a fresh insert.
func (s *Store) UpsertVote(ctx context.Context, v storage.Vote) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	taskID := strings.TrimSpace(v.TaskID)
	userID := strings.TrimSpace(v.UserID)
	if taskID == "" {
		return false, fmt.Errorf("task id is required")
	}
	if userID == "" {
		return false, fmt.Errorf("user id is required")
	}
	if v.Value < 1 {
		return false, fmt.Errorf("vote value must be positive")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin vote transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(
		ctx,
		`SELECT 1 FROM votes WHERE task_id = ? AND user_id = ?`,
		taskID,
		userID,
	).Scan(&existing)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return false, fmt.Errorf("check existing vote: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO votes (task_id, user_id, user_name, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (task_id, user_id) DO UPDATE SET
		   user_name = excluded.user_name,
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		taskID,
		userID,
		strings.TrimSpace(v.UserName),
		v.Value,
		nowMillis(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert vote: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit vote: %w", err)
	}
	return created, nil
}

// ListVotes returns all votes for a task, oldest cast first.
func (s *Store) ListVotes(ctx context.Context, taskID string) ([]storage.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("task id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT task_id, user_id, user_name, value FROM votes
		 WHERE task_id = ? ORDER BY updated_at ASC, user_id ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []storage.Vote
	for rows.Next() {
		var v storage.Vote
		if err := rows.Scan(&v.TaskID, &v.UserID, &v.UserName, &v.Value); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return votes, nil
}

// AddVoter joins a user into the session's voter set. Re-joining refreshes
// the stored display name without duplicating the membership.
func (s *Store) AddVoter(ctx context.Context, sessionID string, p storage.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	userID := strings.TrimSpace(p.ID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO session_voters (session_id, user_id, user_name, joined_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, user_id) DO UPDATE SET user_name = excluded.user_name`,
		sessionID,
		userID,
		strings.TrimSpace(p.Name),
		nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	return nil
}

// RemoveVoter removes a user from the session's voter set.
func (s *Store) RemoveVoter(ctx context.Context, sessionID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM session_voters WHERE session_id = ? AND user_id = ?`,
		sessionID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("remove voter: %w", err)
	}
	return nil
}

// ListVoters returns the session's voter set in join order.
func (s *Store) ListVoters(ctx context.Context, sessionID string) ([]storage.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT user_id, user_name FROM session_voters
		 WHERE session_id = ? ORDER BY joined_at ASC, user_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list voters: %w", err)
	}
	defer rows.Close()

	var voters []storage.Participant
	for rows.Next() {
		var p storage.Participant
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		voters = append(voters, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voters: %w", err)
	}
	return voters, nil
}
