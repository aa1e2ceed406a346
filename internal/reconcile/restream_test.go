package reconcile

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/alex65536/racecal/internal/notify"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/speedgaming"
)

type fakeRestreamClient struct {
	episodes []speedgaming.Episode
}

func (c *fakeRestreamClient) Upcoming(ctx context.Context, eventSlug string, from, to time.Time) ([]speedgaming.Episode, error) {
	return slices.Clone(c.episodes), nil
}

func testEpisode(t *testing.T, id int64, start string, players ...string) speedgaming.Episode {
	t.Helper()
	ep := speedgaming.Episode{ID: id, Approved: true}
	ep.When = at(t, start).UTC()
	for _, p := range players {
		ep.Match.Players = append(ep.Match.Players, speedgaming.Player{DisplayName: p})
	}
	return ep
}

func untaggedRace(t *testing.T, id, start string, names ...string) *race.Race {
	t.Helper()
	r := &race.Race{
		ID:     id,
		Series: "smw",
		Event:  "season-5",
		Source: race.NewManualSource(),
	}
	switch len(names) {
	case 2:
		r.Entrants = race.TwoEntrants(race.NewNamedEntrant(names[0]), race.NewNamedEntrant(names[1]))
	default:
		t.Fatalf("untaggedRace wants two names")
	}
	if start != "" {
		r.Schedule = race.NewLiveSchedule(at(t, start))
	}
	return r
}

func TestRestreamSingleCandidate(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	r := untaggedRace(t, "r1", "2026-09-01T18:00:00Z", "Alpha", "Beta")
	db.races[r.ID] = r

	ep := testEpisode(t, 42, "2026-09-01T19:00:00Z", "alpha", "Beta")
	ep.Channels = []speedgaming.Channel{{Name: "SpeedGaming"}}
	client := &fakeRestreamClient{episodes: []speedgaming.Episode{ep}}
	notifier := &fakeNotifier{}
	s := NewRestreamSyncer(discardLogger(), client, notifier, DefaultFreezeSet(), RestreamSyncerOptions{})

	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got := db.races["r1"]
	if got.Source.Kind != race.SourceSpeedGaming || got.Source.SpeedGamingID != 42 {
		t.Fatalf("single candidate must get the episode id, got %+v", got.Source)
	}
	if !got.Schedule.Live.Start.Equal(at(t, "2026-09-01T19:00:00Z")) {
		t.Fatalf("start must follow the episode, got %v", got.Schedule.Live.Start)
	}
	if got.VideoURLs[race.English] != "https://twitch.tv/SpeedGaming" {
		t.Fatalf("single channel must become the video URL, got %v", got.VideoURLs)
	}
	if len(notifier.says) != 0 || len(notifier.prompts) != 0 {
		t.Fatalf("a clean match must not notify anyone")
	}

	saves := db.saves
	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if db.saves != saves {
		t.Fatalf("unchanged source reimport must not write, got %v extra saves", db.saves-saves)
	}
}

func TestRestreamAmbiguous(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	for _, id := range []string{"r1", "r2", "r3"} {
		r := untaggedRace(t, id, "", "Alpha", "Beta")
		db.races[id] = r
	}

	client := &fakeRestreamClient{episodes: []speedgaming.Episode{
		testEpisode(t, 42, "2026-09-01T19:00:00Z", "Alpha", "Beta"),
	}}
	notifier := &fakeNotifier{}
	s := NewRestreamSyncer(discardLogger(), client, notifier, DefaultFreezeSet(), RestreamSyncerOptions{})

	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if db.saves != 0 {
		t.Fatalf("an ambiguous episode must not assign anything, got %v saves", db.saves)
	}
	if len(notifier.prompts) != 1 || notifier.prompts[0] != "sg-disambig:42" {
		t.Fatalf("expected one disambiguation prompt, got %v", notifier.prompts)
	}
	if _, ok := db.disambig[42]; !ok || len(db.disambig) != 1 {
		t.Fatalf("expected one recorded disambiguation, got %v", db.disambig)
	}

	// While the prompt is pending, the episode stays parked.
	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(notifier.prompts) != 1 {
		t.Fatalf("pending episode must not prompt again, got %v prompts", len(notifier.prompts))
	}
	if db.saves != 0 {
		t.Fatalf("pending episode must not write, got %v saves", db.saves)
	}
}

func TestRestreamNoMatch(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	client := &fakeRestreamClient{episodes: []speedgaming.Episode{
		testEpisode(t, 42, "2026-09-01T19:00:00Z", "Alpha", "Beta"),
	}}
	notifier := &fakeNotifier{}
	s := NewRestreamSyncer(discardLogger(), client, notifier, DefaultFreezeSet(), RestreamSyncerOptions{})

	for pass := 1; pass <= 2; pass++ {
		if err := s.Sync(ctx, db, testEvent()); err != nil {
			t.Fatalf("sync %v: %v", pass, err)
		}
		// The alert is recordless and repeats every pass on purpose.
		if len(notifier.says) != pass {
			t.Fatalf("pass %v: expected %v alerts, got %v", pass, pass, len(notifier.says))
		}
	}
	if len(db.disambig) != 0 || db.saves != 0 {
		t.Fatalf("a no-match episode must leave the database untouched")
	}
}

func TestRestreamNoChannelConfigured(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	client := &fakeRestreamClient{episodes: []speedgaming.Episode{
		testEpisode(t, 42, "2026-09-01T19:00:00Z", "Alpha", "Beta"),
	}}
	s := NewRestreamSyncer(discardLogger(), client, &fakeNotifier{}, DefaultFreezeSet(), RestreamSyncerOptions{})

	ev := testEvent()
	ev.OrganizerChannel = ""
	err := s.Sync(ctx, db, ev)
	if !errors.Is(err, notify.ErrNoChannel) {
		t.Fatalf("missing channel must surface as a configuration error, got %v", err)
	}
}

func TestRestreamFreezeOnRoom(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	r := untaggedRace(t, "r1", "2026-09-01T18:00:00Z", "Alpha", "Beta")
	r.Source = race.NewSpeedGamingSource(42)
	r.Schedule.Live.Room = "https://racetime.gg/smw/room"
	db.races[r.ID] = r

	client := &fakeRestreamClient{episodes: []speedgaming.Episode{
		testEpisode(t, 42, "2026-09-01T20:00:00Z", "Alpha", "Beta"),
	}}
	s := NewRestreamSyncer(discardLogger(), client, &fakeNotifier{}, DefaultFreezeSet(), RestreamSyncerOptions{})

	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got := db.races["r1"]
	if !got.Schedule.Live.Start.Equal(at(t, "2026-09-01T18:00:00Z")) {
		t.Fatalf("a race with a room must keep its schedule, got %v", got.Schedule.Live.Start)
	}

	// With the schedule unfrozen, the import wins again.
	s = NewRestreamSyncer(discardLogger(), client, &fakeNotifier{}, FreezeSet{Video: true}, RestreamSyncerOptions{})
	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got = db.races["r1"]
	if !got.Schedule.Live.Start.Equal(at(t, "2026-09-01T20:00:00Z")) {
		t.Fatalf("unfrozen schedule must follow the episode, got %v", got.Schedule.Live.Start)
	}
	if got.Schedule.Live.Room == "" {
		t.Fatalf("moving a start must not drop the room")
	}
}
