// Package seed parses seed command flags and creates estimation sessions.
package seed

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"

	entrypoint "github.com/planningdeck/planningdeck/internal/platform/cmd"
	"github.com/planningdeck/planningdeck/internal/poker/storage"
	"github.com/planningdeck/planningdeck/internal/poker/storage/sqlite"
)

// Config holds seed command configuration.
type Config struct {
	DatabasePath string `env:"PLANNINGDECK_DB_PATH" envDefault:"poker.db"`
	ModeratorID  string `env:"PLANNINGDECK_SEED_MODERATOR_ID"`
	RepoName     string `env:"PLANNINGDECK_SEED_REPO_NAME"`
	OrgName      string `env:"PLANNINGDECK_SEED_ORG_NAME"`
}

// ParseConfig parses environment and flags into a Config. The remaining
// positional arguments are the task titles for the new session.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, []string, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, nil, err
	}

	fs.StringVar(&cfg.DatabasePath, "db-path", cfg.DatabasePath, "SQLite database path")
	fs.StringVar(&cfg.ModeratorID, "moderator", cfg.ModeratorID, "user id of the session moderator")
	fs.StringVar(&cfg.RepoName, "repo", cfg.RepoName, "GitHub repository for round summaries")
	fs.StringVar(&cfg.OrgName, "org", cfg.OrgName, "GitHub organization for round summaries")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

// Run creates a session with the given task titles and writes its id to out.
func Run(ctx context.Context, cfg Config, taskTitles []string, out io.Writer) error {
	if cfg.ModeratorID == "" {
		return errors.New("moderator id is required")
	}
	if len(taskTitles) == 0 {
		return errors.New("at least one task title is required")
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSeed, func(context.Context) error {
		store, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		sessionID, err := createSession(ctx, store, cfg, taskTitles)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, sessionID)
		return err
	})
}

func createSession(ctx context.Context, store storage.Store, cfg Config, taskTitles []string) (string, error) {
	session := storage.Session{
		ID:          uuid.New().String(),
		ModeratorID: cfg.ModeratorID,
		RepoName:    cfg.RepoName,
		OrgName:     cfg.OrgName,
	}

	taskIDs := make([]string, len(taskTitles))
	for i := range taskTitles {
		taskIDs[i] = uuid.New().String()
	}
	session.CurrentTaskID = taskIDs[0]

	if err := store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	for i, title := range taskTitles {
		err := store.CreateTask(ctx, storage.Task{
			ID:        taskIDs[i],
			SessionID: session.ID,
			Position:  i,
			Title:     title,
		})
		if err != nil {
			return "", fmt.Errorf("create task %q: %w", title, err)
		}
	}
	return session.ID, nil
}
