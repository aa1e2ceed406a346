package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alex65536/racecal/internal/race"
)

// Syncer reconciles one external system of record into the local race
// timeline. Implementations are selected by the source kind an event is
// configured with.
type Syncer interface {
	Kind() race.SourceKind
	// Sync runs one pass for the event. Implementations open their own
	// transactions, so a failure rolls back this source only.
	Sync(ctx context.Context, db DB, ev *race.Event) error
}

// editorName marks rows last touched by the engine rather than a human.
const editorName = "auto-import"

// summarize renders a one-line human-readable description of a race, used
// in disambiguation prompts and no-match alerts.
func summarize(r *race.Race) string {
	var sb strings.Builder
	if r.Phase != "" {
		sb.WriteString(r.Phase)
		sb.WriteString(" ")
	}
	if r.Round != "" {
		sb.WriteString(r.Round)
		sb.WriteString(" ")
	}
	if r.Game != 0 {
		fmt.Fprintf(&sb, "game %v ", r.Game)
	}
	names := make([]string, 0, len(r.Entrants.List))
	for _, e := range r.Entrants.List {
		names = append(names, e.DisplayName())
	}
	switch {
	case len(names) != 0:
		sb.WriteString(strings.Join(names, " vs "))
	case r.Entrants.Named != "":
		sb.WriteString(r.Entrants.Named)
	default:
		sb.WriteString("open race")
	}
	if r.Schedule.Kind == race.ScheduleLive {
		fmt.Fprintf(&sb, " at %v", r.Schedule.Live.Start.UTC().Format(time.RFC3339))
	}
	return sb.String()
}
