package roomopen

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/slogx"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

type fakeDB struct {
	races    map[string]*race.Race
	weeklies []race.WeeklySchedule
	saves    int
}

func (f *fakeDB) RacesStartingBetween(ctx context.Context, from, to timeutil.UTCTime) ([]*race.Race, error) {
	var res []*race.Race
	for _, r := range f.races {
		for _, part := range r.Parts() {
			if start, ok := part.Start().TryGet(); ok && !start.Before(from) && !start.After(to) {
				c := r.Clone()
				res = append(res, &c)
				break
			}
		}
	}
	return res, nil
}

func (f *fakeDB) SaveRace(ctx context.Context, r *race.Race) error {
	c := r.Clone()
	f.races[r.ID] = &c
	f.saves++
	return nil
}

func (f *fakeDB) WeeklySchedulesForEvent(ctx context.Context, series, event string) ([]race.WeeklySchedule, error) {
	return f.weeklies, nil
}

var _ DB = (*fakeDB)(nil)

type fakeCreator struct {
	calls []race.PartKind
	err   error
}

func (c *fakeCreator) CreateRoom(ctx context.Context, name string, r *race.Race, part race.PartKind) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.calls = append(c.calls, part)
	return fmt.Sprintf("https://racetime.gg/x/room-%v", len(c.calls)), nil
}

func testOpener(db *fakeDB, creator *fakeCreator) *Opener {
	var lock sync.Mutex
	return New(slogx.DiscardLogger(), db, creator, &lock, Options{})
}

func liveRace(id string, start timeutil.UTCTime) *race.Race {
	return &race.Race{
		ID:       id,
		Series:   "smw",
		Event:    "s5",
		Source:   race.NewManualSource(),
		Entrants: race.OpenEntrants(),
		Schedule: race.NewLiveSchedule(start),
	}
}

func TestOpensRoomOnce(t *testing.T) {
	ctx := context.Background()
	now := timeutil.NowUTC()
	db := &fakeDB{races: map[string]*race.Race{}}
	r := liveRace("r1", now.Add(10*time.Minute))
	db.races[r.ID] = r
	creator := &fakeCreator{}
	p := testOpener(db, creator)

	if err := p.runOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(creator.calls) != 1 || creator.calls[0] != race.PartNormal {
		t.Fatalf("expected one normal-part room, got %v", creator.calls)
	}
	got := db.races["r1"]
	if got.Schedule.Live.Room == "" {
		t.Fatalf("room url not persisted")
	}
	if !got.Notified {
		t.Fatalf("opened flag not persisted")
	}

	if err := p.runOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(creator.calls) != 1 {
		t.Fatalf("room opened twice, calls %v", creator.calls)
	}
}

func TestSkipsRacesOutsideWindow(t *testing.T) {
	ctx := context.Background()
	now := timeutil.NowUTC()
	db := &fakeDB{races: map[string]*race.Race{}}
	// Inside the poll horizon but beyond the default 30-minute open window.
	r := liveRace("r1", now.Add(90*time.Minute))
	db.races[r.ID] = r
	creator := &fakeCreator{}
	p := testOpener(db, creator)

	if err := p.runOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(creator.calls) != 0 {
		t.Fatalf("room opened too early, calls %v", creator.calls)
	}
	if db.saves != 0 {
		t.Fatalf("nothing to open must write nothing, got %v saves", db.saves)
	}
}

func TestWeeklyWindowOverride(t *testing.T) {
	ctx := context.Background()
	now := timeutil.NowUTC()
	db := &fakeDB{races: map[string]*race.Race{}}
	r := liveRace("r1", now.Add(90*time.Minute))
	r.Round = "Casual Weekly"
	db.races[r.ID] = r
	db.weeklies = []race.WeeklySchedule{{
		ID:              "w1",
		Series:          "smw",
		Event:           "s5",
		Name:            "Casual",
		FrequencyDays:   7,
		RoomOpenMinutes: 120,
		Active:          true,
	}}
	creator := &fakeCreator{}
	p := testOpener(db, creator)

	if err := p.runOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(creator.calls) != 1 {
		t.Fatalf("override window not applied, calls %v", creator.calls)
	}
}

func TestOpensAsyncPartsIndependently(t *testing.T) {
	ctx := context.Background()
	now := timeutil.NowUTC()
	db := &fakeDB{races: map[string]*race.Race{}}
	r := &race.Race{
		ID:       "r1",
		Series:   "smw",
		Event:    "s5",
		Source:   race.NewManualSource(),
		Entrants: race.TwoEntrants(race.NewNamedEntrant("Alpha"), race.NewNamedEntrant("Beta")),
		Schedule: race.Schedule{Kind: race.ScheduleAsync},
	}
	r.Schedule.Async[0].Start = maybe.Some(now.Add(10 * time.Minute))
	r.Schedule.Async[1].Start = maybe.Some(now.Add(24 * time.Hour))
	db.races[r.ID] = r
	creator := &fakeCreator{}
	p := testOpener(db, creator)

	if err := p.runOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(creator.calls) != 1 || creator.calls[0] != race.PartAsync1 {
		t.Fatalf("expected only the imminent async part, got %v", creator.calls)
	}
	got := db.races["r1"]
	if got.Schedule.Async[0].Room == "" || got.Schedule.Async[1].Room != "" {
		t.Fatalf("room persisted on the wrong slot: %+v", got.Schedule.Async)
	}
	if !got.AsyncNotified[0] || got.AsyncNotified[1] {
		t.Fatalf("opened flags persisted wrong: %v", got.AsyncNotified)
	}
}
