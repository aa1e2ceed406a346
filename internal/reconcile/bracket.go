package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/startgg"
	"github.com/alex65536/racecal/internal/util/idgen"
	"github.com/alex65536/racecal/internal/util/slogx"
)

type BracketClient interface {
	Sets(ctx context.Context, slug string) ([]startgg.Set, error)
	TeamMembers(ctx context.Context, teamID string) ([]string, error)
}

// maxResolveAttempts bounds how many unknown teams one pass resolves before
// giving up; the next wake-up picks up where this one left off.
const maxResolveAttempts = 5

type BracketSyncer struct {
	log    *slog.Logger
	client BracketClient
	freeze FreezeSet
}

func NewBracketSyncer(log *slog.Logger, client BracketClient, freeze FreezeSet) *BracketSyncer {
	return &BracketSyncer{log: log, client: client, freeze: freeze}
}

func (s *BracketSyncer) Kind() race.SourceKind { return race.SourceStartGG }

// Sync fetches the event's sets and applies them. An unknown external team
// is resolved through its membership, the mapping is committed in its own
// transaction, and the whole fetch-and-apply restarts so the new mapping is
// visible to it.
func (s *BracketSyncer) Sync(ctx context.Context, db DB, ev *race.Event) error {
	if ev.StartGGSlug == "" {
		return fmt.Errorf("event %v/%v has no start.gg slug", ev.Series, ev.Slug)
	}
	for attempt := 0; ; attempt++ {
		sets, err := s.client.Sets(ctx, ev.StartGGSlug)
		if err != nil {
			return fmt.Errorf("fetch sets: %w", err)
		}
		err = db.Transaction(ctx, func(tx Store) error {
			return s.apply(ctx, tx, ev, sets)
		})
		var unknownTeam *startgg.UnknownTeamError
		if !errors.As(err, &unknownTeam) {
			return err
		}
		if attempt >= maxResolveAttempts {
			return fmt.Errorf("too many unknown teams in one pass: %w", err)
		}
		s.log.Info("resolving unknown team", slog.String("team_id", unknownTeam.TeamID))
		if err := s.resolveTeam(ctx, db, ev, unknownTeam.TeamID); err != nil {
			return fmt.Errorf("resolve team %v: %w", unknownTeam.TeamID, err)
		}
	}
}

// resolveTeam maps an external team id onto a local team by walking the
// external roster: the first member that maps to a local user names the
// local team for this event. The mapping is persisted immediately.
func (s *BracketSyncer) resolveTeam(ctx context.Context, db DB, ev *race.Event, teamID string) error {
	members, err := s.client.TeamMembers(ctx, teamID)
	if err != nil {
		return fmt.Errorf("fetch team members: %w", err)
	}
	return db.Transaction(ctx, func(tx Store) error {
		for _, member := range members {
			userID, err := tx.UserIDByStartGG(ctx, member)
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			team, err := tx.TeamForEventAndMember(ctx, ev.Series, ev.Slug, userID)
			if errors.Is(err, ErrTeamNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			return tx.SetTeamStartGGID(ctx, team.ID, teamID)
		}
		return fmt.Errorf("no member of team %v maps to a local team", teamID)
	})
}

func (s *BracketSyncer) apply(ctx context.Context, tx Store, ev *race.Event, sets []startgg.Set) error {
	races, err := tx.AllRacesForEvent(ctx, ev.Series, ev.Slug)
	if err != nil {
		return err
	}
	type key struct {
		set  string
		game int16
	}
	byKey := make(map[key]*race.Race)
	for _, r := range races {
		if r.Source.Kind == race.SourceStartGG {
			byKey[key{set: r.Source.StartGGSet, game: r.Game}] = r
		}
	}
	for i := range sets {
		set := &sets[i]
		entrants, ok, err := s.setEntrants(ctx, tx, ev, set)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		games := int16(1)
		if set.BestOf > 1 {
			games = int16(set.BestOf)
		}
		for game := int16(1); game <= games; game++ {
			gameNo := game
			if games == 1 {
				gameNo = 0
			}
			r, ok := byKey[key{set: set.ID, game: gameNo}]
			if !ok {
				r = &race.Race{
					ID:           idgen.ID(),
					Series:       ev.Series,
					Event:        ev.Slug,
					Source:       race.NewStartGGSource(ev.StartGGSlug, set.ID),
					Entrants:     entrants,
					Phase:        set.Phase,
					Round:        set.Round,
					Game:         gameNo,
					LastEditedBy: editorName,
					LastEditedAt: maybeNow(),
				}
				if start, ok := set.StartAt.TryGet(); ok && game == 1 {
					r.Schedule = race.NewLiveSchedule(start)
					r.ScheduleUpdatedAt = maybeNow()
				}
				if err := tx.SaveRace(ctx, r); err != nil {
					return err
				}
				continue
			}
			if changed := s.applySet(r, set, entrants, game == 1); changed {
				r.LastEditedBy = editorName
				r.LastEditedAt = maybeNow()
				if err := tx.SaveRace(ctx, r); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *BracketSyncer) applySet(r *race.Race, set *startgg.Set, entrants race.Entrants, firstGame bool) bool {
	changed := false
	if !sameEntrants(r.Entrants, entrants) {
		r.Entrants = entrants
		changed = true
	}
	if r.Phase != set.Phase {
		r.Phase = set.Phase
		changed = true
	}
	if r.Round != set.Round {
		r.Round = set.Round
		changed = true
	}
	frozen := r.ScheduleLocked || r.HasAnyRoom()
	start, ok := set.StartAt.TryGet()
	if ok && firstGame && (!frozen || !s.freeze.Schedule) {
		moved := r.Schedule.Kind != race.ScheduleLive || !r.Schedule.Live.Start.Equal(start)
		if moved {
			r.Schedule.SetLiveStart(start)
			r.ScheduleUpdatedAt = maybeNow()
			changed = true
		}
	}
	return changed
}

// setEntrants maps the set's external teams onto local teams. A set whose
// slots are not filled yet is skipped. A team with no local mapping aborts
// the apply with a typed error so the caller can resolve it and retry.
func (s *BracketSyncer) setEntrants(ctx context.Context, tx Store, ev *race.Event, set *startgg.Set) (race.Entrants, bool, error) {
	if len(set.TeamIDs) != 2 {
		s.log.Debug("skipping set without two teams", slog.String("set_id", set.ID))
		return race.Entrants{}, false, nil
	}
	teams := make([]*race.Team, 0, 2)
	for _, teamID := range set.TeamIDs {
		team, err := tx.TeamByStartGG(ctx, ev.Series, ev.Slug, teamID)
		if errors.Is(err, ErrTeamNotFound) {
			return race.Entrants{}, false, &startgg.UnknownTeamError{TeamID: teamID}
		}
		if err != nil {
			s.log.Warn("could not look up team", slogx.Err(err))
			return race.Entrants{}, false, err
		}
		teams = append(teams, team)
	}
	return race.TwoEntrants(race.NewTeamEntrant(teams[0]), race.NewTeamEntrant(teams[1])), true, nil
}
