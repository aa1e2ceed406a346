package database

import (
	"fmt"
	"time"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

type User struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	StartGGID  *string `gorm:"index"`
	RacetimeID *string
	TwitchName *string
}

type Team struct {
	ID        string `gorm:"primaryKey"`
	Series    string `gorm:"index:idx_teams_event"`
	Event     string `gorm:"index:idx_teams_event"`
	Name      string
	Plural    bool
	StartGGID *string `gorm:"index"`
}

type TeamMember struct {
	TeamID string `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey;index"`
}

// DisambiguationMessage marks an external match id as awaiting human
// selection among several plausible local races. While a row exists the
// reconciliation engine does not touch the id again.
type DisambiguationMessage struct {
	ExternalID int64 `gorm:"primaryKey"`
	MessageID  string
	CreatedAt  timeutil.UTCTime
}

type WeeklySchedule struct {
	ID              string `gorm:"primaryKey"`
	Series          string `gorm:"index:idx_weekly_event"`
	Event           string `gorm:"index:idx_weekly_event"`
	Name            string
	FrequencyDays   int
	TimeOfDaySec    int
	Timezone        string
	AnchorDate      timeutil.UTCTime
	Active          bool
	RoomOpenMinutes int
}

func (w *WeeklySchedule) ToSchedule() race.WeeklySchedule {
	return race.WeeklySchedule{
		ID:              w.ID,
		Series:          w.Series,
		Event:           w.Event,
		Name:            w.Name,
		FrequencyDays:   w.FrequencyDays,
		TimeOfDay:       time.Duration(w.TimeOfDaySec) * time.Second,
		Timezone:        w.Timezone,
		AnchorDate:      w.AnchorDate.UTC(),
		Active:          w.Active,
		RoomOpenMinutes: w.RoomOpenMinutes,
	}
}

func FromSchedule(w race.WeeklySchedule) WeeklySchedule {
	return WeeklySchedule{
		ID:              w.ID,
		Series:          w.Series,
		Event:           w.Event,
		Name:            w.Name,
		FrequencyDays:   w.FrequencyDays,
		TimeOfDaySec:    int(w.TimeOfDay / time.Second),
		Timezone:        w.Timezone,
		AnchorDate:      timeutil.UTCTime(w.AnchorDate),
		Active:          w.Active,
		RoomOpenMinutes: w.RoomOpenMinutes,
	}
}

// Race is the row shape of race.Race. The source keys and the schedule are
// flattened into nullable columns so that the room-opening helper can query
// start windows in SQL; entrants go through the JSON serializer.
type Race struct {
	ID     string `gorm:"primaryKey"`
	Series string `gorm:"index:idx_races_event"`
	Event  string `gorm:"index:idx_races_event"`

	ChallongeMatch *string
	LeagueID       *int32 `gorm:"index"`
	SheetTimestamp *timeutil.UTCTime
	StartGGEvent   *string
	StartGGSet     *string
	SpeedGamingID  *int64 `gorm:"index"`

	Entrants race.Entrants `gorm:"serializer:entrants"`
	Phase    *string
	Round    *string
	Game     *int16

	Start *timeutil.UTCTime `gorm:"index"`
	End   *timeutil.UTCTime
	Room  *string

	AsyncStart1 *timeutil.UTCTime
	AsyncStart2 *timeutil.UTCTime
	AsyncStart3 *timeutil.UTCTime
	AsyncEnd1   *timeutil.UTCTime
	AsyncEnd2   *timeutil.UTCTime
	AsyncEnd3   *timeutil.UTCTime
	AsyncRoom1  *string
	AsyncRoom2  *string
	AsyncRoom3  *string

	ScheduleUpdatedAt *timeutil.UTCTime
	FPAInvoked        bool
	BreaksUsed        bool

	Draft []byte
	Seed  []byte

	VideoURLs   map[race.Language]string `gorm:"serializer:json"`
	Restreamers map[race.Language]string `gorm:"serializer:json"`

	LastEditedBy *string
	LastEditedAt *timeutil.UTCTime

	Ignored        bool
	ScheduleLocked bool
	Notified       bool
	AsyncNotified1 bool
	AsyncNotified2 bool
	AsyncNotified3 bool
}

func maybeToPtr(m maybe.Maybe[timeutil.UTCTime]) *timeutil.UTCTime {
	if v, ok := m.TryGet(); ok {
		return &v
	}
	return nil
}

func ptrToMaybe(p *timeutil.UTCTime) maybe.Maybe[timeutil.UTCTime] {
	if p == nil {
		return maybe.None[timeutil.UTCTime]()
	}
	return maybe.Some(*p)
}

func strToPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptrToStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// FromRace flattens a domain race into its row shape. It validates the
// exactly-one-source and live-xor-async invariants; a violating race is
// never written.
func FromRace(r *race.Race) (*Race, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("validate race: %w", err)
	}
	row := &Race{
		ID:                r.ID,
		Series:            r.Series,
		Event:             r.Event,
		Entrants:          r.Entrants,
		Phase:             strToPtr(r.Phase),
		Round:             strToPtr(r.Round),
		ScheduleUpdatedAt: maybeToPtr(r.ScheduleUpdatedAt),
		FPAInvoked:        r.FPAInvoked,
		BreaksUsed:        r.BreaksUsed,
		Draft:             r.Draft,
		Seed:              r.Seed,
		VideoURLs:         r.VideoURLs,
		Restreamers:       r.Restreamers,
		LastEditedBy:      strToPtr(r.LastEditedBy),
		LastEditedAt:      maybeToPtr(r.LastEditedAt),
		Ignored:           r.Ignored,
		ScheduleLocked:    r.ScheduleLocked,
		Notified:          r.Notified,
		AsyncNotified1:    r.AsyncNotified[0],
		AsyncNotified2:    r.AsyncNotified[1],
		AsyncNotified3:    r.AsyncNotified[2],
	}
	if r.Game != 0 {
		game := r.Game
		row.Game = &game
	}
	switch r.Source.Kind {
	case race.SourceManual:
	case race.SourceChallonge:
		row.ChallongeMatch = strToPtr(r.Source.ChallongeMatch)
	case race.SourceLeague:
		id := r.Source.LeagueID
		row.LeagueID = &id
	case race.SourceSheet:
		row.SheetTimestamp = maybeToPtr(r.Source.SheetTimestamp)
	case race.SourceStartGG:
		row.StartGGEvent = strToPtr(r.Source.StartGGEvent)
		row.StartGGSet = strToPtr(r.Source.StartGGSet)
	case race.SourceSpeedGaming:
		id := r.Source.SpeedGamingID
		row.SpeedGamingID = &id
	}
	switch r.Schedule.Kind {
	case race.ScheduleUnscheduled:
	case race.ScheduleLive:
		start := r.Schedule.Live.Start
		row.Start = &start
		row.End = maybeToPtr(r.Schedule.Live.End)
		row.Room = strToPtr(r.Schedule.Live.Room)
	case race.ScheduleAsync:
		row.AsyncStart1 = maybeToPtr(r.Schedule.Async[0].Start)
		row.AsyncStart2 = maybeToPtr(r.Schedule.Async[1].Start)
		row.AsyncStart3 = maybeToPtr(r.Schedule.Async[2].Start)
		row.AsyncEnd1 = maybeToPtr(r.Schedule.Async[0].End)
		row.AsyncEnd2 = maybeToPtr(r.Schedule.Async[1].End)
		row.AsyncEnd3 = maybeToPtr(r.Schedule.Async[2].End)
		row.AsyncRoom1 = strToPtr(r.Schedule.Async[0].Room)
		row.AsyncRoom2 = strToPtr(r.Schedule.Async[1].Room)
		row.AsyncRoom3 = strToPtr(r.Schedule.Async[2].Room)
	}
	return row, nil
}

// ToRace rebuilds the domain race from its row shape. Team and user
// references inside entrants are left as bare ids; the DB hydrates them.
func (row *Race) ToRace() (*race.Race, error) {
	r := &race.Race{
		ID:                row.ID,
		Series:            row.Series,
		Event:             row.Event,
		Entrants:          row.Entrants,
		Phase:             ptrToStr(row.Phase),
		Round:             ptrToStr(row.Round),
		ScheduleUpdatedAt: ptrToMaybe(row.ScheduleUpdatedAt),
		FPAInvoked:        row.FPAInvoked,
		BreaksUsed:        row.BreaksUsed,
		Draft:             row.Draft,
		Seed:              row.Seed,
		VideoURLs:         row.VideoURLs,
		Restreamers:       row.Restreamers,
		LastEditedBy:      ptrToStr(row.LastEditedBy),
		LastEditedAt:      ptrToMaybe(row.LastEditedAt),
		Ignored:           row.Ignored,
		ScheduleLocked:    row.ScheduleLocked,
		Notified:          row.Notified,
		AsyncNotified:     [3]bool{row.AsyncNotified1, row.AsyncNotified2, row.AsyncNotified3},
	}
	if row.Game != nil {
		r.Game = *row.Game
	}
	switch {
	case row.ChallongeMatch != nil:
		r.Source = race.Source{Kind: race.SourceChallonge, ChallongeMatch: *row.ChallongeMatch}
	case row.LeagueID != nil:
		r.Source = race.NewLeagueSource(*row.LeagueID)
	case row.SheetTimestamp != nil:
		r.Source = race.Source{Kind: race.SourceSheet, SheetTimestamp: maybe.Some(*row.SheetTimestamp)}
	case row.StartGGSet != nil:
		r.Source = race.NewStartGGSource(ptrToStr(row.StartGGEvent), *row.StartGGSet)
	case row.SpeedGamingID != nil:
		r.Source = race.NewSpeedGamingSource(*row.SpeedGamingID)
	default:
		r.Source = race.NewManualSource()
	}
	// Any async column makes the schedule async: a slot may legitimately
	// carry a room before its start is known, and dropping it on load would
	// break the save/load round trip.
	hasAsync := row.AsyncStart1 != nil || row.AsyncStart2 != nil || row.AsyncStart3 != nil ||
		row.AsyncEnd1 != nil || row.AsyncEnd2 != nil || row.AsyncEnd3 != nil ||
		row.AsyncRoom1 != nil || row.AsyncRoom2 != nil || row.AsyncRoom3 != nil
	switch {
	case row.Start != nil && hasAsync:
		return nil, fmt.Errorf("race %v has both live and async starts", row.ID)
	case row.Start != nil:
		r.Schedule = race.Schedule{
			Kind: race.ScheduleLive,
			Live: race.LiveSchedule{
				Start: *row.Start,
				End:   ptrToMaybe(row.End),
				Room:  ptrToStr(row.Room),
			},
		}
	case hasAsync:
		r.Schedule = race.Schedule{
			Kind: race.ScheduleAsync,
			Async: [3]race.AsyncHalf{
				{Start: ptrToMaybe(row.AsyncStart1), End: ptrToMaybe(row.AsyncEnd1), Room: ptrToStr(row.AsyncRoom1)},
				{Start: ptrToMaybe(row.AsyncStart2), End: ptrToMaybe(row.AsyncEnd2), Room: ptrToStr(row.AsyncRoom2)},
				{Start: ptrToMaybe(row.AsyncStart3), End: ptrToMaybe(row.AsyncEnd3), Room: ptrToStr(row.AsyncRoom3)},
			},
		}
	default:
		r.Schedule = race.Schedule{Kind: race.ScheduleUnscheduled}
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("validate race %v: %w", row.ID, err)
	}
	return r, nil
}

var models = []any{
	&race.Event{},
	&User{},
	&Team{},
	&TeamMember{},
	&Race{},
	&DisambiguationMessage{},
	&WeeklySchedule{},
}
