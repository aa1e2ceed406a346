package reconcile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alex65536/racecal/internal/notify"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/speedgaming"
	"github.com/alex65536/racecal/internal/util/slogx"
)

type RestreamClient interface {
	Upcoming(ctx context.Context, eventSlug string, from, to time.Time) ([]speedgaming.Episode, error)
}

type RestreamSyncerOptions struct {
	// Lookbehind and Lookahead bound the episode window fetched each pass.
	Lookbehind time.Duration `toml:"lookbehind"`
	Lookahead  time.Duration `toml:"lookahead"`
}

func (o *RestreamSyncerOptions) FillDefaults() {
	if o.Lookbehind == 0 {
		o.Lookbehind = 24 * time.Hour
	}
	if o.Lookahead == 0 {
		o.Lookahead = 7 * 24 * time.Hour
	}
}

type RestreamSyncer struct {
	log      *slog.Logger
	client   RestreamClient
	notifier notify.Channel
	freeze   FreezeSet
	o        RestreamSyncerOptions
}

func NewRestreamSyncer(log *slog.Logger, client RestreamClient, notifier notify.Channel, freeze FreezeSet, o RestreamSyncerOptions) *RestreamSyncer {
	o.FillDefaults()
	return &RestreamSyncer{log: log, client: client, notifier: notifier, freeze: freeze, o: o}
}

func (s *RestreamSyncer) Kind() race.SourceKind { return race.SourceSpeedGaming }

func (s *RestreamSyncer) Sync(ctx context.Context, db DB, ev *race.Event) error {
	if ev.SpeedGamingSlug == "" {
		return fmt.Errorf("event %v/%v has no speedgaming slug", ev.Series, ev.Slug)
	}
	now := time.Now()
	episodes, err := s.client.Upcoming(ctx, ev.SpeedGamingSlug, now.Add(-s.o.Lookbehind), now.Add(s.o.Lookahead))
	if err != nil {
		return fmt.Errorf("fetch episodes: %w", err)
	}
	return db.Transaction(ctx, func(tx Store) error {
		races, err := tx.AllRacesForEvent(ctx, ev.Series, ev.Slug)
		if err != nil {
			return err
		}
		// Two candidate pools: races already carrying an episode id, and
		// races with no external source at all.
		var tagged, untagged []*race.Race
		for _, r := range races {
			switch r.Source.Kind {
			case race.SourceSpeedGaming:
				tagged = append(tagged, r)
			case race.SourceManual:
				if !r.Ignored {
					untagged = append(untagged, r)
				}
			}
		}
		slices.SortFunc(tagged, func(a, b *race.Race) int {
			return cmp.Compare(a.Source.SpeedGamingID, b.Source.SpeedGamingID)
		})
		pending, err := tx.PendingDisambiguations(ctx)
		if err != nil {
			return err
		}
		for i := range episodes {
			ep := &episodes[i]
			idx, found := slices.BinarySearchFunc(tagged, ep.ID, func(r *race.Race, id int64) int {
				switch {
				case r.Source.SpeedGamingID < id:
					return -1
				case r.Source.SpeedGamingID > id:
					return 1
				default:
					return 0
				}
			})
			if found {
				if err := s.update(ctx, tx, tagged[idx], ep, false); err != nil {
					return err
				}
				continue
			}
			if _, ok := pending[ep.ID]; ok {
				// A human still has to pick; do not touch this id.
				continue
			}
			candidates := matchCandidates(untagged, ep)
			switch len(candidates) {
			case 0:
				if err := s.notifyNoMatch(ctx, ev, ep); err != nil {
					return err
				}
			case 1:
				r := candidates[0]
				r.Source = race.NewSpeedGamingSource(ep.ID)
				if err := s.update(ctx, tx, r, ep, true); err != nil {
					return err
				}
				untagged = slices.DeleteFunc(untagged, func(c *race.Race) bool { return c == r })
			default:
				if err := s.askToDisambiguate(ctx, tx, ev, ep, candidates); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *RestreamSyncer) update(ctx context.Context, tx Store, r *race.Race, ep *speedgaming.Episode, force bool) error {
	changed := force
	frozen := r.ScheduleLocked || r.HasAnyRoom()
	start := ep.Start()
	if !frozen || !s.freeze.Schedule {
		if r.Schedule.Kind != race.ScheduleLive || !r.Schedule.Live.Start.Equal(start) {
			r.Schedule.SetLiveStart(start)
			r.ScheduleUpdatedAt = maybeNow()
			changed = true
		}
	}
	if (!frozen || !s.freeze.Video) && len(ep.Channels) == 1 {
		url := "https://twitch.tv/" + ep.Channels[0].Name
		lang := race.English
		if ep.Channels[0].Language != "" {
			lang = race.Language(ep.Channels[0].Language)
		}
		if r.VideoURLs[lang] != url {
			if r.VideoURLs == nil {
				r.VideoURLs = make(map[race.Language]string)
			}
			r.VideoURLs[lang] = url
			changed = true
		}
	}
	if !changed {
		return nil
	}
	r.LastEditedBy = editorName
	r.LastEditedAt = maybeNow()
	return tx.SaveRace(ctx, r)
}

// notifyNoMatch alerts organizers that an episode matches nothing local. No
// record is kept on purpose: the alert repeats every pass until somebody
// creates or fixes the race. A missing channel is a configuration error and
// aborts the pass; any other send failure is only logged.
func (s *RestreamSyncer) notifyNoMatch(ctx context.Context, ev *race.Event, ep *speedgaming.Episode) error {
	text := fmt.Sprintf("no race matches episode %v (%v) scheduled at %v",
		ep.ID, episodePlayers(ep), ep.Start().UTC().Format(time.RFC3339))
	_, err := s.notifier.Say(ctx, ev.OrganizerChannel, text)
	if errors.Is(err, notify.ErrNoChannel) {
		return err
	}
	if err != nil {
		s.log.Warn("could not send no-match alert", slogx.Err(err))
	}
	return nil
}

// askToDisambiguate posts a select prompt enumerating the candidates and
// records the prompt, parking the episode id until a human picks one.
func (s *RestreamSyncer) askToDisambiguate(ctx context.Context, tx Store, ev *race.Event, ep *speedgaming.Episode, candidates []*race.Race) error {
	options := make([]notify.SelectOption, 0, len(candidates))
	for _, r := range candidates {
		options = append(options, notify.SelectOption{
			Value: r.ID,
			Label: summarize(r),
		})
	}
	text := fmt.Sprintf("episode %v (%v) matches %v races, pick one",
		ep.ID, episodePlayers(ep), len(candidates))
	msgID, err := s.notifier.SelectPrompt(ctx, ev.OrganizerChannel, text,
		fmt.Sprintf("sg-disambig:%v", ep.ID), options)
	if err != nil {
		return fmt.Errorf("send disambiguation prompt: %w", err)
	}
	return tx.CreateDisambiguation(ctx, ep.ID, msgID)
}

// matchCandidates finds untagged races whose entrant names line up with the
// episode's players, in either order.
func matchCandidates(untagged []*race.Race, ep *speedgaming.Episode) []*race.Race {
	names := make(map[string]struct{}, len(ep.Match.Players))
	for _, p := range ep.Match.Players {
		names[strings.ToLower(p.DisplayName)] = struct{}{}
	}
	if len(names) == 0 {
		return nil
	}
	var res []*race.Race
	for _, r := range untagged {
		if len(r.Entrants.List) != len(names) {
			continue
		}
		ok := true
		for _, e := range r.Entrants.List {
			if _, found := names[strings.ToLower(e.DisplayName())]; !found {
				ok = false
				break
			}
		}
		if ok {
			res = append(res, r)
		}
	}
	return res
}

func episodePlayers(ep *speedgaming.Episode) string {
	names := make([]string, 0, len(ep.Match.Players))
	for _, p := range ep.Match.Players {
		names = append(names, p.DisplayName)
	}
	if len(names) == 0 {
		return "no players"
	}
	return strings.Join(names, " vs ")
}
