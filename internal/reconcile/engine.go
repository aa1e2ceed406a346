// Package reconcile keeps the local race timeline in step with the external
// systems of record. One engine instance runs as a background task, waking
// on a fixed period, and can also be driven manually through RunOnce.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alex65536/racecal/internal/notify"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/backoff"
	"github.com/alex65536/racecal/internal/util/httputil"
	"github.com/alex65536/racecal/internal/util/slogx"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

type Options struct {
	PollInterval time.Duration `toml:"poll-interval"`
	// ConfigRetryInterval is how long the engine sleeps after a
	// configuration error, which busy-retrying cannot fix.
	ConfigRetryInterval time.Duration `toml:"config-retry-interval"`
	MaxBackoff          time.Duration `toml:"max-backoff"`
	Freeze              FreezeSet     `toml:"freeze-on-room"`
}

func (o Options) Clone() Options { return o }

func (o *Options) FillDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = time.Minute
	}
	if o.ConfigRetryInterval == 0 {
		o.ConfigRetryInterval = 30 * time.Minute
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = time.Hour
	}
}

type Engine struct {
	o       Options
	log     *slog.Logger
	db      DB
	lock    *sync.Mutex
	syncers map[race.SourceKind]Syncer
	bo      *backoff.Backoff
}

// New builds the engine. The lock is shared with the room-opening workflow,
// so the two never mutate the same race concurrently.
func New(log *slog.Logger, db DB, lock *sync.Mutex, syncers []Syncer, o Options) (*Engine, error) {
	o = o.Clone()
	o.FillDefaults()
	byKind := make(map[race.SourceKind]Syncer, len(syncers))
	for _, s := range syncers {
		if _, ok := byKind[s.Kind()]; ok {
			return nil, fmt.Errorf("duplicate syncer for source %v", s.Kind())
		}
		byKind[s.Kind()] = s
	}
	bo, err := backoff.New(backoff.Options{
		Min: o.PollInterval,
		Max: o.MaxBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("create backoff: %w", err)
	}
	return &Engine{
		o:       o,
		log:     log,
		db:      db,
		lock:    lock,
		syncers: byKind,
		bo:      bo,
	}, nil
}

// Run loops until the context is cancelled. Transient failures back off
// exponentially across the whole engine; configuration failures sleep for a
// longer fixed interval instead.
func (e *Engine) Run(ctx context.Context) {
	for {
		err := e.RunOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(e.delayAfter(err)):
		case <-ctx.Done():
			return
		}
	}
}

// delayAfter picks how long to sleep before the next pass. The exponential
// backoff only resets after a long quiet period inside the backoff helper; a
// single good pass between transient failures does not collapse the grown
// delay.
func (e *Engine) delayAfter(err error) time.Duration {
	switch {
	case err == nil:
		return e.o.PollInterval
	case errors.Is(err, notify.ErrNoChannel):
		e.log.Error("reconciliation misconfigured", slogx.Err(err))
		return e.o.ConfigRetryInterval
	case httputil.IsNetworkError(err):
		delay := e.bo.Next()
		e.log.Warn("reconciliation pass failed, backing off",
			slog.Duration("delay", delay), slogx.Err(err))
		return delay
	default:
		e.log.Error("reconciliation pass failed", slogx.Err(err))
		return e.o.PollInterval
	}
}

// RunOnce performs one full pass over all auto-import events. Each source's
// work runs in its own transaction; a failing source is reported but does
// not abort its siblings.
func (e *Engine) RunOnce(ctx context.Context) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	now := time.Now()
	events, err := e.db.ListAutoImportEvents(ctx, timeutil.UTCTime(now.UTC()))
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	var errs []error
	for i := range events {
		ev := &events[i]
		log := e.log.With(slog.String("series", ev.Series), slog.String("event", ev.Slug))
		err := e.db.Transaction(ctx, func(tx Store) error {
			return materializeWeekly(ctx, tx, ev, now)
		})
		if err != nil {
			log.Warn("could not materialize weekly races", slogx.Err(err))
			errs = append(errs, fmt.Errorf("%v/%v: weekly: %w", ev.Series, ev.Slug, err))
		}
		for _, kind := range e.sourcesFor(ev) {
			syncer, ok := e.syncers[kind]
			if !ok {
				log.Warn("no syncer for configured source", slog.String("source", kind.String()))
				continue
			}
			if err := syncer.Sync(ctx, e.db, ev); err != nil {
				log.Warn("could not sync source",
					slog.String("source", kind.String()), slogx.Err(err))
				errs = append(errs, fmt.Errorf("%v/%v: %v: %w", ev.Series, ev.Slug, kind, err))
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// sourcesFor lists which syncers apply to an event: its configured match
// source plus the restream scheduler whenever a restream slug is set.
func (e *Engine) sourcesFor(ev *race.Event) []race.SourceKind {
	var kinds []race.SourceKind
	if ev.MatchSource != race.SourceManual {
		kinds = append(kinds, ev.MatchSource)
	}
	if ev.SpeedGamingSlug != "" && ev.MatchSource != race.SourceSpeedGaming {
		kinds = append(kinds, race.SourceSpeedGaming)
	}
	return kinds
}
