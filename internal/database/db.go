package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alex65536/racecal/internal/calfeed"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/reconcile"
	"github.com/alex65536/racecal/internal/roomopen"
	_ "github.com/alex65536/racecal/internal/util/gormutil"
	"github.com/alex65536/racecal/internal/util/sliceutil"
	"github.com/alex65536/racecal/internal/util/slogx"
	"github.com/alex65536/racecal/internal/util/timeutil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var ErrRaceNotFound = errors.New("race not found")

type Options struct {
	Path          string        `toml:"path"`
	Debug         bool          `toml:"debug"`
	SlowThreshold time.Duration `toml:"slow-threshold"`
	BusyTimeout   time.Duration `toml:"busy-timeout"`
	UseWAL        bool          `toml:"use-wal"`
}

func (o *Options) FillDefaults() {
	if o.SlowThreshold == 0 {
		o.SlowThreshold = 200 * time.Millisecond
	}
	if o.BusyTimeout == 0 {
		o.BusyTimeout = 1 * time.Minute
	}
}

type DB struct {
	db  *gorm.DB
	log *slog.Logger
}

var (
	_ reconcile.DB = (*DB)(nil)
	_ roomopen.DB  = (*DB)(nil)
	_ calfeed.DB   = (*DB)(nil)
)

func (d *DB) Close() {
	db, err := d.db.DB()
	if err != nil {
		d.log.Error("could not get underlying db", slogx.Err(err))
		return
	}
	err = db.Close()
	if err != nil {
		d.log.Error("could not close db", slogx.Err(err))
	}
}

func buildPath(o Options) string {
	var params []string
	if o.UseWAL {
		params = append(params, "_journal_mode=WAL")
		params = append(params, "_synchronous=NORMAL")
	}
	params = append(params, fmt.Sprintf("_busy_timeout=%v", o.BusyTimeout.Milliseconds()))
	params = append(params, "_foreign_keys=1")
	return o.Path + "?" + strings.Join(params, "&")
}

func New(log *slog.Logger, o Options) (*DB, error) {
	o.FillDefaults()

	log.Info("opening db")
	db, err := gorm.Open(sqlite.Open(buildPath(o)), &gorm.Config{
		Logger: Logger(log, o),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	d := &DB{db: db, log: log}

	log.Info("migrating db")
	if err := db.AutoMigrate(models...); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	log.Info("db opened")
	return d, nil
}

// Transaction runs fn with a store bound to a database transaction. The
// reconciliation engine wraps each source pass into one, so that a pass
// either lands fully or not at all.
func (d *DB) Transaction(ctx context.Context, fn func(tx reconcile.Store) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&DB{db: tx, log: d.log})
	})
}

func (d *DB) SaveRace(ctx context.Context, r *race.Race) error {
	row, err := FromRace(r)
	if err != nil {
		return err
	}
	if err := d.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("save race: %w", err)
	}
	return nil
}

func (d *DB) GetRace(ctx context.Context, id string) (*race.Race, error) {
	var rows []Race
	err := d.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get race: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrRaceNotFound
	}
	races, err := d.rowsToRaces(ctx, rows)
	if err != nil {
		return nil, err
	}
	return races[0], nil
}

// AllRacesForEvent returns every race of the event, ignored ones included.
// The reconciliation engine matches against this set, so that an ignored
// race is not re-imported.
func (d *DB) AllRacesForEvent(ctx context.Context, series, event string) ([]*race.Race, error) {
	var rows []Race
	err := d.db.WithContext(ctx).Where("series = ? AND event = ?", series, event).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list races: %w", err)
	}
	return d.rowsToRaces(ctx, rows)
}

// RacesForEvent returns the event's visible races in calendar order.
func (d *DB) RacesForEvent(ctx context.Context, series, event string) ([]*race.Race, error) {
	var rows []Race
	err := d.db.WithContext(ctx).
		Where("series = ? AND event = ? AND NOT ignored", series, event).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list races: %w", err)
	}
	races, err := d.rowsToRaces(ctx, rows)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(races, func(a, b *race.Race) int { return a.Compare(b) })
	return races, nil
}

// RacesStartingBetween returns non-ignored races with any part starting in
// [from, to), in no particular order. Used by the room opener to find races
// whose rooms are due.
func (d *DB) RacesStartingBetween(ctx context.Context, from, to timeutil.UTCTime) ([]*race.Race, error) {
	var rows []Race
	err := d.db.WithContext(ctx).
		Where("NOT ignored").
		Where(
			d.db.Where("start >= ? AND start < ?", from, to).
				Or("async_start1 >= ? AND async_start1 < ?", from, to).
				Or("async_start2 >= ? AND async_start2 < ?", from, to).
				Or("async_start3 >= ? AND async_start3 < ?", from, to),
		).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list starting races: %w", err)
	}
	return d.rowsToRaces(ctx, rows)
}

// RaceExistsAt reports whether the event already has a race of the given
// round starting exactly at the given instant. Weekly materialization keys
// occurrences on this pair, so coinciding schedules stay independent.
// Ignored races count: cancelling an occurrence must not resurrect it.
func (d *DB) RaceExistsAt(ctx context.Context, series, event, round string, start timeutil.UTCTime) (bool, error) {
	var cnt int64
	err := d.db.WithContext(ctx).Model(&Race{}).
		Where("series = ? AND event = ? AND round = ? AND start = ?", series, event, round, start).
		Count(&cnt).Error
	if err != nil {
		return false, fmt.Errorf("count races at start: %w", err)
	}
	return cnt != 0, nil
}

func (d *DB) rowsToRaces(ctx context.Context, rows []Race) ([]*race.Race, error) {
	races := make([]*race.Race, 0, len(rows))
	for i := range rows {
		r, err := rows[i].ToRace()
		if err != nil {
			return nil, err
		}
		races = append(races, r)
	}
	if err := d.hydrateRaces(ctx, races); err != nil {
		return nil, err
	}
	return races, nil
}

// hydrateRaces resolves team and user references inside entrants into full
// values. References to rows that no longer exist are left as bare ids.
func (d *DB) hydrateRaces(ctx context.Context, races []*race.Race) error {
	teamIDs := make(map[string]struct{})
	userIDs := make(map[string]struct{})
	for _, r := range races {
		for i := range r.Entrants.List {
			e := &r.Entrants.List[i]
			switch e.Kind {
			case race.EntrantTeam:
				if e.Team != nil {
					teamIDs[e.Team.ID] = struct{}{}
				}
			case race.EntrantUser:
				userIDs[e.UserID] = struct{}{}
			}
		}
	}
	teams := make(map[string]*race.Team, len(teamIDs))
	if len(teamIDs) != 0 {
		var rows []Team
		ids := make([]string, 0, len(teamIDs))
		for id := range teamIDs {
			ids = append(ids, id)
		}
		if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return fmt.Errorf("load teams: %w", err)
		}
		for i := range rows {
			teams[rows[i].ID] = teamFromRow(&rows[i])
		}
	}
	users := make(map[string]*User, len(userIDs))
	if len(userIDs) != 0 {
		var rows []User
		ids := make([]string, 0, len(userIDs))
		for id := range userIDs {
			ids = append(ids, id)
		}
		if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return fmt.Errorf("load users: %w", err)
		}
		for i := range rows {
			users[rows[i].ID] = &rows[i]
		}
	}
	for _, r := range races {
		for i := range r.Entrants.List {
			e := &r.Entrants.List[i]
			switch e.Kind {
			case race.EntrantTeam:
				if e.Team == nil {
					continue
				}
				if t, ok := teams[e.Team.ID]; ok {
					cp := *t
					e.Team = &cp
				}
			case race.EntrantUser:
				u, ok := users[e.UserID]
				if !ok {
					continue
				}
				e.UserName = u.Name
				if u.RacetimeID != nil {
					e.RacetimeID = *u.RacetimeID
				}
				if u.TwitchName != nil {
					e.TwitchName = *u.TwitchName
				}
			}
		}
	}
	return nil
}

func teamFromRow(row *Team) *race.Team {
	t := &race.Team{
		ID:     row.ID,
		Series: row.Series,
		Event:  row.Event,
		Name:   row.Name,
		Plural: row.Plural,
	}
	if row.StartGGID != nil {
		t.StartGGID = *row.StartGGID
	}
	return t
}

func (d *DB) GetEvent(ctx context.Context, series, slug string) (*race.Event, error) {
	var events []race.Event
	err := d.db.WithContext(ctx).
		Where("series = ? AND slug = ?", series, slug).
		Limit(1).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if len(events) == 0 {
		return nil, race.ErrEventNotFound
	}
	return &events[0], nil
}

// ListAutoImportEvents returns the events the reconciliation engine works
// on: auto-import enabled and not yet over at the given instant.
func (d *DB) ListAutoImportEvents(ctx context.Context, now timeutil.UTCTime) ([]race.Event, error) {
	var events []race.Event
	err := d.db.WithContext(ctx).
		Where("auto_import").
		Where("end_time IS NULL OR end_time > ?", now).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list auto-import events: %w", err)
	}
	return events, nil
}

func (d *DB) ListListedEvents(ctx context.Context) ([]race.Event, error) {
	var events []race.Event
	err := d.db.WithContext(ctx).Where("listed").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (d *DB) SaveEvent(ctx context.Context, e *race.Event) error {
	if err := d.db.WithContext(ctx).Save(e).Error; err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

func (d *DB) TeamByStartGG(ctx context.Context, series, event, startggID string) (*race.Team, error) {
	var rows []Team
	err := d.db.WithContext(ctx).
		Where("series = ? AND event = ? AND start_gg_id = ?", series, event, startggID).
		Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	if len(rows) == 0 {
		return nil, reconcile.ErrTeamNotFound
	}
	return teamFromRow(&rows[0]), nil
}

// TeamForEventAndMember finds the event's team a given user belongs to.
// Resolving an unknown external team goes through its members: if any of
// them maps to a local user, the user's team for this event is the answer.
func (d *DB) TeamForEventAndMember(ctx context.Context, series, event, userID string) (*race.Team, error) {
	var rows []Team
	err := d.db.WithContext(ctx).
		Joins("JOIN team_members ON team_members.team_id = teams.id").
		Where("teams.series = ? AND teams.event = ? AND team_members.user_id = ?", series, event, userID).
		Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get team by member: %w", err)
	}
	if len(rows) == 0 {
		return nil, reconcile.ErrTeamNotFound
	}
	return teamFromRow(&rows[0]), nil
}

// SetTeamStartGGID persists a resolved external team mapping, so that the
// next import finds the team directly.
func (d *DB) SetTeamStartGGID(ctx context.Context, teamID, startggID string) error {
	err := d.db.WithContext(ctx).Model(&Team{}).
		Where("id = ?", teamID).
		Update("start_gg_id", startggID).Error
	if err != nil {
		return fmt.Errorf("set team mapping: %w", err)
	}
	return nil
}

func (d *DB) UserIDByStartGG(ctx context.Context, startggID string) (string, error) {
	var users []User
	err := d.db.WithContext(ctx).
		Where("start_gg_id = ?", startggID).
		Limit(1).Find(&users).Error
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if len(users) == 0 {
		return "", reconcile.ErrUserNotFound
	}
	return users[0].ID, nil
}

// PendingDisambiguations returns the external ids currently awaiting a
// human choice.
func (d *DB) PendingDisambiguations(ctx context.Context) (map[int64]struct{}, error) {
	var rows []DisambiguationMessage
	err := d.db.WithContext(ctx).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list disambiguations: %w", err)
	}
	res := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		res[row.ExternalID] = struct{}{}
	}
	return res, nil
}

func (d *DB) CreateDisambiguation(ctx context.Context, externalID int64, messageID string) error {
	err := d.db.WithContext(ctx).Create(&DisambiguationMessage{
		ExternalID: externalID,
		MessageID:  messageID,
		CreatedAt:  timeutil.NowUTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("create disambiguation: %w", err)
	}
	return nil
}

func (d *DB) DeleteDisambiguation(ctx context.Context, externalID int64) error {
	err := d.db.WithContext(ctx).Delete(&DisambiguationMessage{ExternalID: externalID}).Error
	if err != nil {
		return fmt.Errorf("delete disambiguation: %w", err)
	}
	return nil
}

func (d *DB) WeeklySchedulesForEvent(ctx context.Context, series, event string) ([]race.WeeklySchedule, error) {
	var rows []WeeklySchedule
	err := d.db.WithContext(ctx).
		Where("series = ? AND event = ? AND active", series, event).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list weekly schedules: %w", err)
	}
	return sliceutil.Map(rows, func(w WeeklySchedule) race.WeeklySchedule {
		return w.ToSchedule()
	}), nil
}

func (d *DB) SaveWeeklySchedule(ctx context.Context, w race.WeeklySchedule) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validate weekly schedule: %w", err)
	}
	row := FromSchedule(w)
	if err := d.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save weekly schedule: %w", err)
	}
	return nil
}
