package seed

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"strings"
	"testing"

	"github.com/planningdeck/planningdeck/internal/poker/storage/sqlite"
)

func TestParseConfigTaskTitles(t *testing.T) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	cfg, titles, err := ParseConfig(fs, []string{"-moderator", "mod-1", "login flow", "logout flow"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.ModeratorID != "mod-1" {
		t.Fatalf("moderator = %q", cfg.ModeratorID)
	}
	if len(titles) != 2 || titles[0] != "login flow" {
		t.Fatalf("titles = %v", titles)
	}
}

func TestRunRequiresModerator(t *testing.T) {
	err := Run(context.Background(), Config{DatabasePath: "poker.db"}, []string{"task"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for missing moderator")
	}
}

func TestRunRequiresTasks(t *testing.T) {
	err := Run(context.Background(), Config{DatabasePath: "poker.db", ModeratorID: "mod-1"}, nil, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for empty task list")
	}
}

func TestRunCreatesSessionWithTasks(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "poker.db")
	var out bytes.Buffer

	cfg := Config{DatabasePath: databasePath, ModeratorID: "mod-1", RepoName: "repo", OrgName: "org"}
	if err := Run(context.Background(), cfg, []string{"login flow", "logout flow"}, &out); err != nil {
		t.Fatalf("run seed: %v", err)
	}

	sessionID := strings.TrimSpace(out.String())
	if sessionID == "" {
		t.Fatal("expected session id on stdout")
	}

	store, err := sqlite.Open(databasePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	session, err := store.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.ModeratorID != "mod-1" || session.RepoName != "repo" {
		t.Fatalf("session = %+v", session)
	}

	tasks, err := store.ListTasks(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %+v, want 2", tasks)
	}
	if session.CurrentTaskID != tasks[0].ID {
		t.Fatalf("current task = %q, want first task %q", session.CurrentTaskID, tasks[0].ID)
	}
}
