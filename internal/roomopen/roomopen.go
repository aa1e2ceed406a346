// Package roomopen opens race rooms shortly before each part of a race is
// due to start.
package roomopen

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/slogx"
	"github.com/alex65536/racecal/internal/util/timeutil"
	petname "github.com/dustinkirkland/golang-petname"
)

type DB interface {
	RacesStartingBetween(ctx context.Context, from, to timeutil.UTCTime) ([]*race.Race, error)
	SaveRace(ctx context.Context, r *race.Race) error
	WeeklySchedulesForEvent(ctx context.Context, series, event string) ([]race.WeeklySchedule, error)
}

// RoomCreator provisions one room on the racing platform and returns its
// URL.
type RoomCreator interface {
	CreateRoom(ctx context.Context, name string, r *race.Race, part race.PartKind) (string, error)
}

type Options struct {
	// OpenBefore is how long before a part's start its room opens. A weekly
	// schedule may override it per race.
	OpenBefore   time.Duration `toml:"open-before"`
	PollInterval time.Duration `toml:"poll-interval"`
	// Horizon bounds the per-poll query window and so the largest usable
	// per-weekly override.
	Horizon time.Duration `toml:"horizon"`
}

func (o Options) Clone() Options { return o }

func (o *Options) FillDefaults() {
	if o.OpenBefore == 0 {
		o.OpenBefore = 30 * time.Minute
	}
	if o.PollInterval == 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.Horizon == 0 {
		o.Horizon = 2 * time.Hour
	}
}

type Opener struct {
	o       Options
	log     *slog.Logger
	db      DB
	creator RoomCreator
	lock    *sync.Mutex
}

// New builds the opener. The lock is the one the reconciliation engine
// holds during its passes.
func New(log *slog.Logger, db DB, creator RoomCreator, lock *sync.Mutex, o Options) *Opener {
	o = o.Clone()
	o.FillDefaults()
	return &Opener{o: o, log: log, db: db, creator: creator, lock: lock}
}

func (p *Opener) Run(ctx context.Context) {
	ticker := time.NewTicker(p.o.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.runOnce(ctx); err != nil {
				p.log.Warn("room opening pass failed", slogx.Err(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Opener) runOnce(ctx context.Context) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	now := timeutil.NowUTC()
	races, err := p.db.RacesStartingBetween(ctx, now, now.Add(p.o.Horizon))
	if err != nil {
		return fmt.Errorf("list upcoming races: %w", err)
	}
	windows := make(map[[2]string]map[string]time.Duration)
	for _, r := range races {
		window := p.o.OpenBefore
		overrides, err := p.weeklyOverrides(ctx, windows, r.Series, r.Event)
		if err != nil {
			return err
		}
		if d, ok := overrides[r.Round]; ok {
			window = d
		}
		for _, part := range r.Parts() {
			if err := p.maybeOpen(ctx, r, part, now, window); err != nil {
				p.log.Warn("could not open room",
					slog.String("race_id", r.ID), slogx.Err(err))
			}
		}
	}
	return nil
}

// weeklyOverrides maps round labels of the event's weekly schedules to
// their room-open windows, cached per pass.
func (p *Opener) weeklyOverrides(ctx context.Context, cache map[[2]string]map[string]time.Duration, series, event string) (map[string]time.Duration, error) {
	key := [2]string{series, event}
	if m, ok := cache[key]; ok {
		return m, nil
	}
	schedules, err := p.db.WeeklySchedulesForEvent(ctx, series, event)
	if err != nil {
		return nil, fmt.Errorf("list weekly schedules: %w", err)
	}
	m := make(map[string]time.Duration)
	for i := range schedules {
		w := &schedules[i]
		if w.RoomOpenMinutes > 0 {
			m[w.RoundLabel()] = time.Duration(w.RoomOpenMinutes) * time.Minute
		}
	}
	cache[key] = m
	return m, nil
}

func (p *Opener) maybeOpen(ctx context.Context, r *race.Race, part race.Part, now timeutil.UTCTime, window time.Duration) error {
	if opened(r, part.Kind) {
		return nil
	}
	if part.Room() != "" {
		return nil
	}
	start, ok := part.Start().TryGet()
	if !ok || start.Before(now) || start.After(now.Add(window)) {
		return nil
	}
	name := fmt.Sprintf("%v-%v", r.Event, petname.Generate(2, "-"))
	url, err := p.creator.CreateRoom(ctx, name, r, part.Kind)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	setRoom(r, part.Kind, url)
	markOpened(r, part.Kind)
	p.log.Info("opened room",
		slog.String("race_id", r.ID), slog.String("room", url))
	if err := p.db.SaveRace(ctx, r); err != nil {
		return fmt.Errorf("save race: %w", err)
	}
	return nil
}

// opened reports whether this part's room event has already fired; the
// per-part flags survive restarts, so a room is never opened twice.
func opened(r *race.Race, kind race.PartKind) bool {
	switch kind {
	case race.PartNormal:
		return r.Notified
	case race.PartAsync1:
		return r.AsyncNotified[0]
	case race.PartAsync2:
		return r.AsyncNotified[1]
	case race.PartAsync3:
		return r.AsyncNotified[2]
	default:
		panic("must not happen")
	}
}

func markOpened(r *race.Race, kind race.PartKind) {
	switch kind {
	case race.PartNormal:
		r.Notified = true
	case race.PartAsync1:
		r.AsyncNotified[0] = true
	case race.PartAsync2:
		r.AsyncNotified[1] = true
	case race.PartAsync3:
		r.AsyncNotified[2] = true
	}
}

func setRoom(r *race.Race, kind race.PartKind, url string) {
	switch kind {
	case race.PartNormal:
		r.Schedule.Live.Room = url
	case race.PartAsync1:
		r.Schedule.Async[0].Room = url
	case race.PartAsync2:
		r.Schedule.Async[1].Room = url
	case race.PartAsync3:
		r.Schedule.Async[2].Room = url
	}
}
