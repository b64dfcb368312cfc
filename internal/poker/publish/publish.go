// Package publish posts finished-round summaries to an external issue
// tracker. Publishing is best-effort from the engine's perspective: a failed
// publish is logged by the caller and never rolls back the round transition.
package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/planningdeck/planningdeck/internal/poker/domain/vote"
	"github.com/planningdeck/planningdeck/internal/poker/storage"
)

// Publisher delivers one round summary to the tracker. Implementations must
// honour the context deadline; the engine bounds each call with a timeout.
type Publisher interface {
	PublishRoundSummary(ctx context.Context, session storage.Session, task storage.Task, stats vote.Statistics, note, label string) error
}

// Noop discards summaries. Used when no tracker is configured.
type Noop struct{}

// PublishRoundSummary implements Publisher.
func (Noop) PublishRoundSummary(context.Context, storage.Session, storage.Task, vote.Statistics, string, string) error {
	return nil
}

// SummaryComment renders the markdown comment body posted to the tracker:
// a stats table followed by the moderator's note.
func SummaryComment(stats vote.Statistics, note string) string {
	fields := stats.Fields()

	names := make([]string, 0, len(fields))
	dashes := make([]string, 0, len(fields))
	values := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
		dashes = append(dashes, "---")
		values = append(values, fmt.Sprintf("%v", f.Value))
	}

	var b strings.Builder
	b.WriteString("## Planning Poker Stats:\n")
	b.WriteString("| " + strings.Join(names, " | ") + " |\n")
	b.WriteString("| " + strings.Join(dashes, " | ") + " |\n")
	b.WriteString("| " + strings.Join(values, " | ") + " |\n")
	b.WriteString("## Notes\n")
	b.WriteString(note)
	return b.String()
}
