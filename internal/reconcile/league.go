package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/league"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/idgen"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

type LeagueClient interface {
	Schedule(ctx context.Context) ([]league.Match, error)
}

// FreezeSet says which field groups stop being overwritten by imports once
// any race room exists. Live data in the room then owns those fields.
type FreezeSet struct {
	Schedule bool `toml:"schedule"`
	Video    bool `toml:"video"`
}

func DefaultFreezeSet() FreezeSet {
	return FreezeSet{Schedule: true, Video: true}
}

type LeagueSyncer struct {
	log    *slog.Logger
	client LeagueClient
	freeze FreezeSet
}

func NewLeagueSyncer(log *slog.Logger, client LeagueClient, freeze FreezeSet) *LeagueSyncer {
	return &LeagueSyncer{log: log, client: client, freeze: freeze}
}

func (s *LeagueSyncer) Kind() race.SourceKind { return race.SourceLeague }

func (s *LeagueSyncer) Sync(ctx context.Context, db DB, ev *race.Event) error {
	matches, err := s.client.Schedule(ctx)
	if err != nil {
		return fmt.Errorf("fetch league schedule: %w", err)
	}
	return db.Transaction(ctx, func(tx Store) error {
		races, err := tx.AllRacesForEvent(ctx, ev.Series, ev.Slug)
		if err != nil {
			return err
		}
		byID := make(map[int32]*race.Race)
		for _, r := range races {
			if r.Source.Kind == race.SourceLeague {
				byID[r.Source.LeagueID] = r
			}
		}
		for i := range matches {
			m := &matches[i]
			r, ok := byID[m.ID]
			if !ok {
				if err := tx.SaveRace(ctx, s.newRace(ev, m)); err != nil {
					return err
				}
				continue
			}
			if changed := s.applyMatch(r, m); changed {
				r.LastEditedBy = editorName
				r.LastEditedAt = maybeNow()
				if err := tx.SaveRace(ctx, r); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *LeagueSyncer) newRace(ev *race.Event, m *league.Match) *race.Race {
	r := &race.Race{
		ID:           idgen.ID(),
		Series:       ev.Series,
		Event:        ev.Slug,
		Source:       race.NewLeagueSource(m.ID),
		Entrants:     leagueEntrants(m),
		Phase:        m.Division,
		Round:        m.Week,
		Ignored:      m.Cancelled,
		LastEditedBy: editorName,
		LastEditedAt: maybeNow(),
	}
	if start, ok := m.StartTime().TryGet(); ok {
		r.Schedule = race.NewLiveSchedule(start)
		r.ScheduleUpdatedAt = maybeNow()
	}
	applyRestreams(r, m)
	return r
}

// applyMatch overwrites a persisted race with the match's current state and
// reports whether anything changed. Schedule and video fields freeze once a
// room exists or the schedule is locked; identity and bookkeeping fields
// are always kept up to date.
func (s *LeagueSyncer) applyMatch(r *race.Race, m *league.Match) bool {
	changed := false
	if m.Cancelled && !r.Ignored {
		r.Ignored = true
		changed = true
	}
	if r.Entrants.Kind != race.EntrantsTwo || !sameEntrants(r.Entrants, leagueEntrants(m)) {
		r.Entrants = leagueEntrants(m)
		changed = true
	}
	if r.Phase != m.Division {
		r.Phase = m.Division
		changed = true
	}
	if r.Round != m.Week {
		r.Round = m.Week
		changed = true
	}
	frozen := r.ScheduleLocked || r.HasAnyRoom()
	if start, ok := m.StartTime().TryGet(); ok && (!frozen || !s.freeze.Schedule) {
		moved := r.Schedule.Kind != race.ScheduleLive || !r.Schedule.Live.Start.Equal(start)
		if moved {
			r.Schedule.SetLiveStart(start)
			r.ScheduleUpdatedAt = maybeNow()
			changed = true
		}
	}
	if !frozen || !s.freeze.Video {
		if applyRestreams(r, m) {
			changed = true
		}
	}
	return changed
}

func leagueEntrants(m *league.Match) race.Entrants {
	return race.TwoEntrants(leagueEntrant(m.Player1), leagueEntrant(m.Player2))
}

func leagueEntrant(p league.Player) race.Entrant {
	e := race.NewNamedEntrant(p.Name)
	e.RacetimeID = p.RacetimeID
	e.TwitchName = p.TwitchName
	return e
}

// sameEntrants compares identity and handle fields, so that a reimport of
// unchanged external data is a no-op.
func sameEntrants(a, b race.Entrants) bool {
	if a.Kind != b.Kind || len(a.List) != len(b.List) {
		return false
	}
	for i := range a.List {
		x, y := a.List[i], b.List[i]
		if !x.SameIdentity(y) || x.RacetimeID != y.RacetimeID || x.TwitchName != y.TwitchName {
			return false
		}
	}
	return true
}

// applyRestreams derives video URLs from the match's restream channels: a
// language with exactly one channel covering it gets that channel's stream
// as its video URL.
func applyRestreams(r *race.Race, m *league.Match) bool {
	byLang := make(map[race.Language][]string)
	for _, rs := range m.Restreams {
		lang := race.Language(rs.Language)
		byLang[lang] = append(byLang[lang], rs.Channel)
	}
	changed := false
	for lang, channels := range byLang {
		if len(channels) != 1 {
			continue
		}
		url := "https://twitch.tv/" + channels[0]
		if r.VideoURLs[lang] != url {
			if r.VideoURLs == nil {
				r.VideoURLs = make(map[race.Language]string)
			}
			r.VideoURLs[lang] = url
			changed = true
		}
		if r.Restreamers[lang] != channels[0] {
			if r.Restreamers == nil {
				r.Restreamers = make(map[race.Language]string)
			}
			r.Restreamers[lang] = channels[0]
			changed = true
		}
	}
	return changed
}

func maybeNow() maybe.Maybe[timeutil.UTCTime] {
	return maybe.Some(timeutil.NowUTC())
}
