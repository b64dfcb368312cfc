package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/planningdeck/planningdeck/internal/poker/domain/vote"
	"github.com/planningdeck/planningdeck/internal/poker/storage"
)

const defaultAPIBaseURL = "https://api.github.com"

// GitHub posts round summaries as comments on the task's linked issue and
// optionally applies a label.
type GitHub struct {
	token      string
	apiBaseURL string
	httpClient *http.Client
}

// NewGitHub builds a GitHub publisher. apiBaseURL overrides the public API
// host (used by tests and enterprise installs); empty selects the default.
func NewGitHub(token, apiBaseURL string) *GitHub {
	apiBaseURL = strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	return &GitHub{
		token:      strings.TrimSpace(token),
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// PublishRoundSummary comments the stats table and note on the task's issue.
// Tasks without a linked issue, or sessions without a repo, publish nothing.
func (g *GitHub) PublishRoundSummary(ctx context.Context, session storage.Session, task storage.Task, stats vote.Statistics, note, label string) error {
	if g == nil || g.httpClient == nil {
		return fmt.Errorf("publisher is not configured")
	}
	repo := strings.TrimSpace(session.RepoName)
	owner := strings.TrimSpace(session.OrgName)
	if repo == "" || owner == "" || task.IssueNumber <= 0 {
		return nil
	}

	issueURL := fmt.Sprintf("%s/repos/%s/%s/issues/%d", g.apiBaseURL, owner, repo, task.IssueNumber)

	comment := SummaryComment(stats, note)
	if err := g.post(ctx, issueURL+"/comments", map[string]any{"body": comment}); err != nil {
		return fmt.Errorf("create issue comment: %w", err)
	}

	label = strings.TrimSpace(label)
	if label == "" {
		return nil
	}
	if err := g.post(ctx, issueURL+"/labels", map[string]any{"labels": []string{label}}); err != nil {
		return fmt.Errorf("add issue label: %w", err)
	}
	return nil
}

func (g *GitHub) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call tracker: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("tracker status %d", resp.StatusCode)
	}
	return nil
}
