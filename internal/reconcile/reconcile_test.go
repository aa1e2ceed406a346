package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/alex65536/racecal/internal/notify"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/slogx"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

func discardLogger() *slog.Logger {
	return slogx.DiscardLogger()
}

func at(t *testing.T, s string) timeutil.UTCTime {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return timeutil.UTCTime(parsed.UTC())
}

// fakeDB is an in-memory Store for syncer tests. It hands out clones, so any
// change a syncer forgets to save is lost, the same as with the real
// database.
type fakeDB struct {
	events   []race.Event
	races    map[string]*race.Race
	teams    map[string]*race.Team
	members  map[string]string // user id -> team id
	users    map[string]string // start.gg user id -> user id
	disambig map[int64]string
	weeklies []race.WeeklySchedule
	saves    int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		races:    make(map[string]*race.Race),
		teams:    make(map[string]*race.Team),
		members:  make(map[string]string),
		users:    make(map[string]string),
		disambig: make(map[int64]string),
	}
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(f)
}

func (f *fakeDB) ListAutoImportEvents(ctx context.Context, now timeutil.UTCTime) ([]race.Event, error) {
	return slices.Clone(f.events), nil
}

func (f *fakeDB) AllRacesForEvent(ctx context.Context, series, event string) ([]*race.Race, error) {
	var res []*race.Race
	for _, r := range f.races {
		if r.Series == series && r.Event == event {
			c := r.Clone()
			res = append(res, &c)
		}
	}
	slices.SortFunc(res, func(a, b *race.Race) int { return a.Compare(b) })
	return res, nil
}

func (f *fakeDB) SaveRace(ctx context.Context, r *race.Race) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c := r.Clone()
	f.races[r.ID] = &c
	f.saves++
	return nil
}

func (f *fakeDB) RaceExistsAt(ctx context.Context, series, event, round string, start timeutil.UTCTime) (bool, error) {
	for _, r := range f.races {
		if r.Series != series || r.Event != event || r.Round != round {
			continue
		}
		if r.Schedule.Kind == race.ScheduleLive && r.Schedule.Live.Start.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDB) TeamByStartGG(ctx context.Context, series, event, startggID string) (*race.Team, error) {
	for _, t := range f.teams {
		if t.Series == series && t.Event == event && t.StartGGID == startggID && startggID != "" {
			c := t.Clone()
			return &c, nil
		}
	}
	return nil, ErrTeamNotFound
}

func (f *fakeDB) TeamForEventAndMember(ctx context.Context, series, event, userID string) (*race.Team, error) {
	teamID, ok := f.members[userID]
	if !ok {
		return nil, ErrTeamNotFound
	}
	t, ok := f.teams[teamID]
	if !ok || t.Series != series || t.Event != event {
		return nil, ErrTeamNotFound
	}
	c := t.Clone()
	return &c, nil
}

func (f *fakeDB) SetTeamStartGGID(ctx context.Context, teamID, startggID string) error {
	t, ok := f.teams[teamID]
	if !ok {
		return ErrTeamNotFound
	}
	t.StartGGID = startggID
	return nil
}

func (f *fakeDB) UserIDByStartGG(ctx context.Context, startggID string) (string, error) {
	userID, ok := f.users[startggID]
	if !ok {
		return "", ErrUserNotFound
	}
	return userID, nil
}

func (f *fakeDB) PendingDisambiguations(ctx context.Context) (map[int64]struct{}, error) {
	res := make(map[int64]struct{}, len(f.disambig))
	for id := range f.disambig {
		res[id] = struct{}{}
	}
	return res, nil
}

func (f *fakeDB) CreateDisambiguation(ctx context.Context, externalID int64, messageID string) error {
	f.disambig[externalID] = messageID
	return nil
}

func (f *fakeDB) DeleteDisambiguation(ctx context.Context, externalID int64) error {
	delete(f.disambig, externalID)
	return nil
}

func (f *fakeDB) WeeklySchedulesForEvent(ctx context.Context, series, event string) ([]race.WeeklySchedule, error) {
	var res []race.WeeklySchedule
	for _, w := range f.weeklies {
		if w.Series == series && w.Event == event && w.Active {
			res = append(res, w)
		}
	}
	return res, nil
}

var _ DB = (*fakeDB)(nil)

// fakeNotifier records sent messages. An empty channel id fails the same way
// the real notifier does.
type fakeNotifier struct {
	says    []string
	prompts []string
}

func (n *fakeNotifier) Say(ctx context.Context, channelID, text string) (string, error) {
	if channelID == "" {
		return "", notify.ErrNoChannel
	}
	n.says = append(n.says, text)
	return fmt.Sprintf("msg-%v", len(n.says)), nil
}

func (n *fakeNotifier) SelectPrompt(ctx context.Context, channelID, text, customID string, options []notify.SelectOption) (string, error) {
	if channelID == "" {
		return "", notify.ErrNoChannel
	}
	n.prompts = append(n.prompts, customID)
	return fmt.Sprintf("prompt-%v", len(n.prompts)), nil
}

var _ notify.Channel = (*fakeNotifier)(nil)

func testEvent() *race.Event {
	return &race.Event{
		Series:           "smw",
		Slug:             "season-5",
		DisplayName:      "Season 5",
		Listed:           true,
		AutoImport:       true,
		SpeedGamingSlug:  "smw-s5",
		StartGGSlug:      "smw-season-5",
		OrganizerChannel: "chan-1",
	}
}
