package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/idgen"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

// weeklyOccurrences is how far ahead recurring slots are materialized into
// concrete races. Anything further out stays a repeating calendar entry.
const weeklyOccurrences = 2

// materializeWeekly creates races for the next occurrences of each active
// recurring slot of the event. Occurrences are keyed on their exact start
// instant, so re-running is a no-op until an occurrence passes.
func materializeWeekly(ctx context.Context, tx Store, ev *race.Event, now time.Time) error {
	schedules, err := tx.WeeklySchedulesForEvent(ctx, ev.Series, ev.Slug)
	if err != nil {
		return err
	}
	for i := range schedules {
		w := &schedules[i]
		t, err := w.NextAfter(now)
		if err != nil {
			return fmt.Errorf("weekly schedule %v: %w", w.ID, err)
		}
		round := w.RoundLabel()
		for occ := 0; occ < weeklyOccurrences; occ++ {
			start := timeutil.UTCTime(t.UTC())
			exists, err := tx.RaceExistsAt(ctx, ev.Series, ev.Slug, round, start)
			if err != nil {
				return err
			}
			if !exists {
				r := &race.Race{
					ID:           idgen.ID(),
					Series:       ev.Series,
					Event:        ev.Slug,
					Source:       race.NewManualSource(),
					Entrants:     race.OpenEntrants(),
					Round:        round,
					Schedule:     race.NewLiveSchedule(start),
					LastEditedBy: editorName,
					LastEditedAt: maybeNow(),
				}
				r.ScheduleUpdatedAt = maybeNow()
				if err := tx.SaveRace(ctx, r); err != nil {
					return err
				}
			}
			t, err = w.NextAfter(t)
			if err != nil {
				return fmt.Errorf("weekly schedule %v: %w", w.ID, err)
			}
		}
	}
	return nil
}
