// Package calfeed renders the race timeline as subscribable iCalendar
// feeds: one for everything, one per series and one per event.
package calfeed

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

const (
	uidSuffix = "@racecal"
	// fallbackDuration pads entries whose race's event sets no default.
	fallbackDuration = 2 * time.Hour
)

type DB interface {
	ListListedEvents(ctx context.Context) ([]race.Event, error)
	GetEvent(ctx context.Context, series, slug string) (*race.Event, error)
	RacesForEvent(ctx context.Context, series, event string) ([]*race.Race, error)
	WeeklySchedulesForEvent(ctx context.Context, series, event string) ([]race.WeeklySchedule, error)
	RaceExistsAt(ctx context.Context, series, event, round string, start timeutil.UTCTime) (bool, error)
}

type builder struct {
	db  DB
	now time.Time
}

// build renders one calendar covering the given events.
func (b *builder) build(ctx context.Context, name string, events []race.Event) (*ics.Calendar, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//racecal//feed//EN")
	cal.SetName(name)
	for i := range events {
		ev := &events[i]
		races, err := b.db.RacesForEvent(ctx, ev.Series, ev.Slug)
		if err != nil {
			return nil, fmt.Errorf("list races: %w", err)
		}
		for _, r := range races {
			b.addRace(cal, ev, r)
		}
		if err := b.addWeeklies(ctx, cal, ev); err != nil {
			return nil, err
		}
	}
	return cal, nil
}

func (b *builder) addRace(cal *ics.Calendar, ev *race.Event, r *race.Race) {
	allEnded := true
	for _, part := range r.Parts() {
		if part.End().IsNone() {
			allEnded = false
			break
		}
	}
	for _, part := range r.Parts() {
		start, ok := part.Start().TryGet()
		if !ok {
			continue
		}
		entry := cal.AddEvent(r.ID + part.Kind.Suffix() + uidSuffix)
		entry.SetDtStampTime(b.now)
		entry.SetStartAt(start.UTC())
		entry.SetEndAt(b.entryEnd(ev, part, start, allEnded))
		entry.SetSummary(summary(ev, r, part))
		primary, rest := links(r, part, allEnded)
		if primary != "" {
			entry.SetURL(primary)
		}
		if len(rest) != 0 {
			entry.SetDescription(strings.Join(rest, "\n"))
		}
	}
}

// entryEnd uses the part's real end only when showing it leaks nothing: the
// part is public, or every part has ended. Otherwise the start is padded
// with the event's default duration.
func (b *builder) entryEnd(ev *race.Event, part race.Part, start timeutil.UTCTime, allEnded bool) time.Time {
	if end, ok := part.End().TryGet(); ok && (allEnded || !part.IsPrivateAsyncPart()) {
		return end.UTC()
	}
	d := ev.DefaultRaceDuration
	if d == 0 {
		d = fallbackDuration
	}
	return start.Add(d).UTC()
}

// summary builds the entry title. Async halves get an "(async)" marker, and
// their entrants are listed leader first: whoever started earlier comes
// first, entrants with no start at all last.
func summary(ev *race.Event, r *race.Race, part race.Part) string {
	var sb strings.Builder
	sb.WriteString(ev.NameOrShort())
	if r.Phase != "" {
		sb.WriteString(" ")
		sb.WriteString(r.Phase)
	}
	if r.Round != "" {
		sb.WriteString(" ")
		sb.WriteString(r.Round)
	}
	if names := entrantNames(r, part); names != "" {
		sb.WriteString(": ")
		sb.WriteString(names)
	}
	if r.Game != 0 {
		fmt.Fprintf(&sb, " game %v", r.Game)
	}
	if part.Kind != race.PartNormal {
		sb.WriteString(" (async)")
	}
	return sb.String()
}

func entrantNames(r *race.Race, part race.Part) string {
	e := &r.Entrants
	switch e.Kind {
	case race.EntrantsNamed:
		return e.Named
	case race.EntrantsTwo, race.EntrantsThree:
	default:
		return ""
	}
	order := make([]int, len(e.List))
	for i := range order {
		order[i] = i
	}
	if part.Kind != race.PartNormal {
		starts := r.Schedule.Async
		slices.SortStableFunc(order, func(a, b int) int {
			return compareStarts(starts[a].Start, starts[b].Start)
		})
	}
	names := make([]string, 0, len(order))
	for _, i := range order {
		names = append(names, e.List[i].DisplayName())
	}
	return strings.Join(names, " vs ")
}

func compareStarts(a, b maybe.Maybe[timeutil.UTCTime]) int {
	switch {
	case a.IsNone() && b.IsNone():
		return 0
	case a.IsNone():
		return 1
	case b.IsNone():
		return -1
	default:
		return a.Get().Compare(b.Get())
	}
}

// links picks the entry's primary URL (restream, then room, then the
// bracket set) and returns the remaining ones for the description.
func links(r *race.Race, part race.Part, allEnded bool) (string, []string) {
	var all []string
	for _, lang := range []race.Language{race.English, race.French, race.German, race.Portuguese} {
		if url, ok := r.VideoURLs[lang]; ok {
			all = append(all, url)
		}
	}
	if room := part.Room(); room != "" && (allEnded || !part.IsPrivateAsyncPart()) {
		all = append(all, room)
	}
	if r.Source.Kind == race.SourceStartGG {
		all = append(all, fmt.Sprintf("https://start.gg/%v/set/%v", r.Source.StartGGEvent, r.Source.StartGGSet))
	}
	if len(all) == 0 {
		return "", nil
	}
	return all[0], all[1:]
}

// addWeeklies emits one repeating entry per active weekly schedule,
// anchored at its first occurrence that has no concrete race yet.
func (b *builder) addWeeklies(ctx context.Context, cal *ics.Calendar, ev *race.Event) error {
	schedules, err := b.db.WeeklySchedulesForEvent(ctx, ev.Series, ev.Slug)
	if err != nil {
		return fmt.Errorf("list weekly schedules: %w", err)
	}
	for i := range schedules {
		w := &schedules[i]
		t, err := w.NextAfter(b.now)
		if err != nil {
			return fmt.Errorf("weekly schedule %v: %w", w.ID, err)
		}
		round := w.RoundLabel()
		// Skip past materialized occurrences; those already have their own
		// entries.
		for {
			exists, err := b.db.RaceExistsAt(ctx, ev.Series, ev.Slug, round, timeutil.UTCTime(t.UTC()))
			if err != nil {
				return err
			}
			if !exists {
				break
			}
			t, err = w.NextAfter(t)
			if err != nil {
				return fmt.Errorf("weekly schedule %v: %w", w.ID, err)
			}
		}
		entry := cal.AddEvent(w.ID + uidSuffix)
		entry.SetDtStampTime(b.now)
		entry.SetStartAt(t.UTC())
		d := ev.DefaultRaceDuration
		if d == 0 {
			d = fallbackDuration
		}
		entry.SetEndAt(t.UTC().Add(d))
		entry.SetSummary(fmt.Sprintf("%v %v", ev.NameOrShort(), w.RoundLabel()))
		entry.AddRrule(fmt.Sprintf("FREQ=DAILY;INTERVAL=%v", w.FrequencyDays))
	}
	return nil
}
