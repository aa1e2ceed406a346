package reconcile

import (
	"context"
	"slices"
	"testing"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/startgg"
)

type fakeBracketClient struct {
	sets      []startgg.Set
	members   map[string][]string
	setsCalls int
}

func (c *fakeBracketClient) Sets(ctx context.Context, slug string) ([]startgg.Set, error) {
	c.setsCalls++
	return slices.Clone(c.sets), nil
}

func (c *fakeBracketClient) TeamMembers(ctx context.Context, teamID string) ([]string, error) {
	return c.members[teamID], nil
}

func bracketDB() *fakeDB {
	db := newFakeDB()
	db.teams["t1"] = &race.Team{ID: "t1", Series: "smw", Event: "season-5", Name: "Reds", StartGGID: "ext-a"}
	db.teams["t2"] = &race.Team{ID: "t2", Series: "smw", Event: "season-5", Name: "Blues"}
	db.users["sgg-u1"] = "u1"
	db.members["u1"] = "t2"
	return db
}

func TestBracketResolvesUnknownTeam(t *testing.T) {
	ctx := context.Background()
	db := bracketDB()
	client := &fakeBracketClient{
		sets: []startgg.Set{{
			ID:      "set-1",
			Phase:   "Bracket",
			Round:   "Winners Round 1",
			BestOf:  1,
			StartAt: maybe.Some(at(t, "2026-09-01T19:00:00Z")),
			TeamIDs: []string{"ext-a", "ext-b"},
		}},
		members: map[string][]string{"ext-b": {"sgg-unknown", "sgg-u1"}},
	}
	s := NewBracketSyncer(discardLogger(), client, DefaultFreezeSet())

	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if db.teams["t2"].StartGGID != "ext-b" {
		t.Fatalf("unknown team not resolved, mapping %q", db.teams["t2"].StartGGID)
	}
	if client.setsCalls != 2 {
		t.Fatalf("apply must restart after resolving, got %v fetches", client.setsCalls)
	}
	if db.saves != 1 {
		t.Fatalf("expected one created race, got %v saves", db.saves)
	}
	var got *race.Race
	for _, r := range db.races {
		got = r
	}
	if got.Source.Kind != race.SourceStartGG || got.Source.StartGGSet != "set-1" {
		t.Fatalf("created race carries source %+v", got.Source)
	}
	if got.Game != 0 {
		t.Fatalf("a single-game set carries no game number, got %v", got.Game)
	}
	teams := got.Entrants.Teams()
	if len(teams) != 2 || teams[0].ID != "t1" || teams[1].ID != "t2" {
		t.Fatalf("created race carries teams %+v", teams)
	}

	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if db.saves != 1 {
		t.Fatalf("unchanged bracket reimport must not write, got %v saves", db.saves)
	}
}

func TestBracketBestOfFansOut(t *testing.T) {
	ctx := context.Background()
	db := bracketDB()
	db.teams["t2"].StartGGID = "ext-b"
	client := &fakeBracketClient{
		sets: []startgg.Set{{
			ID:      "set-1",
			Phase:   "Bracket",
			Round:   "Grand Final",
			BestOf:  3,
			StartAt: maybe.Some(at(t, "2026-09-01T19:00:00Z")),
			TeamIDs: []string{"ext-a", "ext-b"},
		}},
	}
	s := NewBracketSyncer(discardLogger(), client, DefaultFreezeSet())

	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if db.saves != 3 {
		t.Fatalf("best-of-3 must create three races, got %v saves", db.saves)
	}
	games := make(map[int16]*race.Race)
	for _, r := range db.races {
		games[r.Game] = r
	}
	for game := int16(1); game <= 3; game++ {
		if games[game] == nil {
			t.Fatalf("missing race for game %v", game)
		}
	}
	if games[1].Schedule.Kind != race.ScheduleLive {
		t.Fatalf("game 1 must inherit the set's start")
	}
	for game := int16(2); game <= 3; game++ {
		if games[game].Schedule.Kind != race.ScheduleUnscheduled {
			t.Fatalf("game %v must start unscheduled", game)
		}
	}
}

func TestBracketSkipsUnfilledSets(t *testing.T) {
	ctx := context.Background()
	db := bracketDB()
	client := &fakeBracketClient{
		sets: []startgg.Set{{ID: "set-1", Phase: "Bracket", Round: "Winners Round 1", BestOf: 1}},
	}
	s := NewBracketSyncer(discardLogger(), client, DefaultFreezeSet())

	if err := s.Sync(ctx, db, testEvent()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if db.saves != 0 {
		t.Fatalf("a set without both slots filled must be skipped, got %v saves", db.saves)
	}
}

func TestBracketUnresolvableTeamFails(t *testing.T) {
	ctx := context.Background()
	db := bracketDB()
	client := &fakeBracketClient{
		sets: []startgg.Set{{
			ID:      "set-1",
			BestOf:  1,
			TeamIDs: []string{"ext-a", "ext-missing"},
		}},
		members: map[string][]string{"ext-missing": {"sgg-nobody"}},
	}
	s := NewBracketSyncer(discardLogger(), client, DefaultFreezeSet())

	if err := s.Sync(ctx, db, testEvent()); err == nil {
		t.Fatalf("a team with no local mapping must fail the pass")
	}
	if db.saves != 0 {
		t.Fatalf("a failed pass must not write, got %v saves", db.saves)
	}
}
