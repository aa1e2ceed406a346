package calfeed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

type fakeDB struct {
	events   []race.Event
	races    map[string][]*race.Race
	weeklies map[string][]race.WeeklySchedule
}

func key(series, event string) string { return series + "/" + event }

func (f *fakeDB) ListListedEvents(ctx context.Context) ([]race.Event, error) {
	var res []race.Event
	for _, ev := range f.events {
		if ev.Listed {
			res = append(res, ev)
		}
	}
	return res, nil
}

func (f *fakeDB) GetEvent(ctx context.Context, series, slug string) (*race.Event, error) {
	for i := range f.events {
		if f.events[i].Series == series && f.events[i].Slug == slug {
			ev := f.events[i]
			return &ev, nil
		}
	}
	return nil, race.ErrEventNotFound
}

func (f *fakeDB) RacesForEvent(ctx context.Context, series, event string) ([]*race.Race, error) {
	return f.races[key(series, event)], nil
}

func (f *fakeDB) WeeklySchedulesForEvent(ctx context.Context, series, event string) ([]race.WeeklySchedule, error) {
	return f.weeklies[key(series, event)], nil
}

func (f *fakeDB) RaceExistsAt(ctx context.Context, series, event, round string, start timeutil.UTCTime) (bool, error) {
	for _, r := range f.races[key(series, event)] {
		if r.Round == round && r.Schedule.Kind == race.ScheduleLive && r.Schedule.Live.Start.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}

var _ DB = (*fakeDB)(nil)

func at(t *testing.T, s string) timeutil.UTCTime {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return timeutil.UTCTime(parsed.UTC())
}

func testEvent() race.Event {
	return race.Event{
		Series:      "smw",
		Slug:        "s5",
		DisplayName: "Season 5",
		ShortName:   "S5",
		Listed:      true,
	}
}

func render(t *testing.T, db *fakeDB, now time.Time) string {
	t.Helper()
	b := &builder{db: db, now: now}
	events, err := db.ListListedEvents(context.Background())
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	cal, err := b.build(context.Background(), "races", events)
	if err != nil {
		t.Fatalf("build calendar: %v", err)
	}
	return cal.Serialize()
}

func TestCalendarLiveRace(t *testing.T) {
	db := &fakeDB{
		events: []race.Event{testEvent()},
		races: map[string][]*race.Race{key("smw", "s5"): {{
			ID:       "r1",
			Series:   "smw",
			Event:    "s5",
			Source:   race.NewManualSource(),
			Entrants: race.TwoEntrants(race.NewNamedEntrant("Alpha"), race.NewNamedEntrant("Beta")),
			Round:    "Week 3",
			Schedule: race.NewLiveSchedule(at(t, "2026-09-01T19:00:00Z")),
		}}},
	}
	out := render(t, db, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))

	if !strings.Contains(out, "UID:r1@racecal") {
		t.Fatalf("missing stable uid:\n%v", out)
	}
	if !strings.Contains(out, "S5 Week 3: Alpha vs Beta") {
		t.Fatalf("missing summary:\n%v", out)
	}
	if !strings.Contains(out, "DTSTART:20260901T190000Z") {
		t.Fatalf("missing start:\n%v", out)
	}
	// No end is known; the entry is padded with the fallback duration.
	if !strings.Contains(out, "DTEND:20260901T210000Z") {
		t.Fatalf("missing padded end:\n%v", out)
	}
	if got := strings.Count(out, "BEGIN:VEVENT"); got != 1 {
		t.Fatalf("expected one entry, got %v", got)
	}

	// Rendering again at the same instant is byte-identical, so feed pollers
	// see no churn.
	if again := render(t, db, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)); again != out {
		t.Fatalf("render is not deterministic")
	}
}

func TestCalendarAsyncParts(t *testing.T) {
	r := &race.Race{
		ID:       "r1",
		Series:   "smw",
		Event:    "s5",
		Source:   race.NewManualSource(),
		Entrants: race.TwoEntrants(race.NewNamedEntrant("Alpha"), race.NewNamedEntrant("Beta")),
		Schedule: race.Schedule{Kind: race.ScheduleAsync},
	}
	r.Schedule.Async[0].Start = maybe.Some(at(t, "2026-09-02T19:00:00Z"))
	r.Schedule.Async[1].Start = maybe.Some(at(t, "2026-09-01T19:00:00Z"))
	r.Schedule.Async[1].End = maybe.Some(at(t, "2026-09-01T20:00:00Z"))
	db := &fakeDB{
		events: []race.Event{testEvent()},
		races:  map[string][]*race.Race{key("smw", "s5"): {r}},
	}
	out := render(t, db, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))

	if got := strings.Count(out, "BEGIN:VEVENT"); got != 2 {
		t.Fatalf("expected one entry per scheduled part, got %v", got)
	}
	if !strings.Contains(out, "UID:r1-1@racecal") || !strings.Contains(out, "UID:r1-2@racecal") {
		t.Fatalf("missing per-part uids:\n%v", out)
	}
	// Part 2 started earlier, so Beta leads both summaries.
	if !strings.Contains(out, "S5: Beta vs Alpha (async)") {
		t.Fatalf("missing async summary with leader first:\n%v", out)
	}
	// Part 2 is the private half; its real end would leak the result while
	// part 1 still runs, so the entry is padded instead.
	if strings.Contains(out, "DTEND:20260901T200000Z") {
		t.Fatalf("private half's end leaked:\n%v", out)
	}
	if !strings.Contains(out, "DTEND:20260901T210000Z") {
		t.Fatalf("missing padded private end:\n%v", out)
	}
}

func TestCalendarWeeklyAnchorsPastMaterialized(t *testing.T) {
	// One occurrence (Sep 6, a Sunday at 19:00 ET) is already materialized as
	// a concrete race; the repeating entry must anchor on the next one.
	materialized := &race.Race{
		ID:       "r1",
		Series:   "smw",
		Event:    "s5",
		Source:   race.NewManualSource(),
		Entrants: race.OpenEntrants(),
		Round:    "Casual Weekly",
		Schedule: race.NewLiveSchedule(at(t, "2026-09-06T23:00:00Z")),
	}
	// An unrelated race at the next occurrence's instant must not push the
	// anchor further out.
	unrelated := &race.Race{
		ID:       "r2",
		Series:   "smw",
		Event:    "s5",
		Source:   race.NewManualSource(),
		Entrants: race.TwoEntrants(race.NewNamedEntrant("Alpha"), race.NewNamedEntrant("Beta")),
		Round:    "Winners Round 1",
		Schedule: race.NewLiveSchedule(at(t, "2026-09-13T23:00:00Z")),
	}
	db := &fakeDB{
		events: []race.Event{testEvent()},
		races:  map[string][]*race.Race{key("smw", "s5"): {materialized, unrelated}},
		weeklies: map[string][]race.WeeklySchedule{key("smw", "s5"): {{
			ID:            "w1",
			Series:        "smw",
			Event:         "s5",
			Name:          "Casual",
			FrequencyDays: 7,
			TimeOfDay:     19 * time.Hour,
			Timezone:      "America/New_York",
			AnchorDate:    time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC),
			Active:        true,
		}}},
	}
	out := render(t, db, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))

	var weekly string
	for _, chunk := range strings.Split(out, "BEGIN:VEVENT") {
		if strings.Contains(chunk, "UID:w1@racecal") {
			weekly = chunk
		}
	}
	if weekly == "" {
		t.Fatalf("missing weekly uid:\n%v", out)
	}
	out = weekly
	if !strings.Contains(out, "RRULE:FREQ=DAILY;INTERVAL=7") {
		t.Fatalf("missing recurrence rule:\n%v", out)
	}
	if !strings.Contains(out, "S5 Casual Weekly") {
		t.Fatalf("missing weekly summary:\n%v", out)
	}
	// Sep 13, not the materialized Sep 6.
	if !strings.Contains(out, "DTSTART:20260913T230000Z") {
		t.Fatalf("weekly entry not anchored past the materialized occurrence:\n%v", out)
	}
}

func TestCalendarLinks(t *testing.T) {
	r := &race.Race{
		ID:       "r1",
		Series:   "smw",
		Event:    "s5",
		Source:   race.NewStartGGSource("smw-s5", "set-1"),
		Entrants: race.TwoEntrants(race.NewNamedEntrant("Alpha"), race.NewNamedEntrant("Beta")),
		Schedule: race.NewLiveSchedule(at(t, "2026-09-01T19:00:00Z")),
		VideoURLs: map[race.Language]string{
			race.English: "https://twitch.tv/SpeedGaming",
		},
	}
	r.Schedule.Live.Room = "https://racetime.gg/smw/room"

	// The restream is the primary link; room and bracket set move to the
	// description.
	primary, rest := links(r, r.Parts()[0], false)
	if primary != "https://twitch.tv/SpeedGaming" {
		t.Fatalf("primary link is %q", primary)
	}
	want := []string{
		"https://racetime.gg/smw/room",
		"https://start.gg/smw-s5/set/set-1",
	}
	if len(rest) != len(want) || rest[0] != want[0] || rest[1] != want[1] {
		t.Fatalf("secondary links are %v, want %v", rest, want)
	}

	// An async race's private room stays out of the links until every part
	// has ended.
	async := &race.Race{
		ID:       "r2",
		Series:   "smw",
		Event:    "s5",
		Source:   race.NewManualSource(),
		Entrants: race.TwoEntrants(race.NewNamedEntrant("Alpha"), race.NewNamedEntrant("Beta")),
		Schedule: race.Schedule{Kind: race.ScheduleAsync},
	}
	async.Schedule.Async[0].Start = maybe.Some(at(t, "2026-09-01T19:00:00Z"))
	async.Schedule.Async[0].Room = "https://racetime.gg/smw/private"
	if primary, _ := links(async, async.Parts()[0], false); primary != "" {
		t.Fatalf("private room leaked as %q", primary)
	}
	if primary, _ := links(async, async.Parts()[0], true); primary != "https://racetime.gg/smw/private" {
		t.Fatalf("ended race must show its room, got %q", primary)
	}
}
