package race

import (
	"cmp"
	"time"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/util/clone"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

// Language tags restream URLs and restreamer assignments.
type Language string

const (
	English    Language = "en"
	French     Language = "fr"
	German     Language = "de"
	Portuguese Language = "pt"
)

// Race is one scheduled (or unscheduled) competitive race of an event.
//
// A race is never hard-deleted once it has timing data; it is marked Ignored
// instead, which hides it from listings while still letting the
// reconciliation engine see it, so that auto-import does not recreate it.
type Race struct {
	ID       string
	Series   string
	Event    string
	Source   Source
	Entrants Entrants
	Phase    string // empty means none
	Round    string // empty means none
	Game     int16  // zero means none
	Schedule Schedule

	ScheduleUpdatedAt maybe.Maybe[timeutil.UTCTime]
	FPAInvoked        bool
	BreaksUsed        bool

	// Draft and Seed are opaque payloads owned by external collaborators.
	// They are carried through clone and upsert untouched.
	Draft []byte
	Seed  []byte

	VideoURLs   map[Language]string
	Restreamers map[Language]string

	LastEditedBy string
	LastEditedAt maybe.Maybe[timeutil.UTCTime]

	Ignored        bool
	ScheduleLocked bool

	// Notified and AsyncNotified record which calendar/room events have
	// already fired, one flag for the live part and one per async slot.
	Notified      bool
	AsyncNotified [3]bool
}

func (r Race) Clone() Race {
	r.Entrants = r.Entrants.Clone()
	r.Draft = append([]byte(nil), r.Draft...)
	r.Seed = append([]byte(nil), r.Seed...)
	r.VideoURLs = clone.TrivialMap(r.VideoURLs)
	r.Restreamers = clone.TrivialMap(r.Restreamers)
	return r
}

func (r *Race) Validate() error {
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if err := r.Entrants.Validate(); err != nil {
		return err
	}
	return r.Schedule.Validate()
}

// IsEnded reports whether the race has finished. End times are only ever
// recorded in the past, so a present end time means the race is over.
func (r *Race) IsEnded() bool {
	return !r.Schedule.EndTime(r.Entrants).IsNone()
}

func (r *Race) HasAnyRoom() bool {
	return r.Schedule.HasAnyRoom()
}

// Compare is the total order used for all race listings. Finished races sort
// first (oldest finish first), then by sorted start times, then
// lexicographically by series, event, phase, round, source, game number and
// finally the race identity. Distinct races never compare equal.
func (r *Race) Compare(o *Race) int {
	if c := r.Schedule.compare(r.Entrants, o.Schedule, o.Entrants); c != 0 {
		return c
	}
	if c := cmp.Compare(r.Series, o.Series); c != 0 {
		return c
	}
	if c := cmp.Compare(r.Event, o.Event); c != 0 {
		return c
	}
	if c := compareOptString(r.Phase, o.Phase); c != 0 {
		return c
	}
	if c := compareOptString(r.Round, o.Round); c != 0 {
		return c
	}
	if c := r.Source.Compare(o.Source); c != 0 {
		return c
	}
	if c := cmp.Compare(r.Game, o.Game); c != 0 {
		return c
	}
	return cmp.Compare(r.ID, o.ID)
}

// compareOptString sorts non-empty values lexically and empty ones last.
func compareOptString(a, b string) int {
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	default:
		return cmp.Compare(a, b)
	}
}

// ShowSeed reports whether the race's seed may be shown publicly at the
// given instant. The seed stays hidden until every part is either a private
// async part, within 15 minutes of its own start, or already over, so that
// it is only revealed once the last informative part is imminent.
func (r *Race) ShowSeed(now timeutil.UTCTime) bool {
	if r.Schedule.Kind == ScheduleUnscheduled {
		return false
	}
	horizon := now.Add(15 * time.Minute)
	for _, part := range r.Parts() {
		if part.IsPrivateAsyncPart() {
			continue
		}
		if start, ok := part.Start().TryGet(); ok && !start.After(horizon) {
			continue
		}
		if !part.End().IsNone() {
			continue
		}
		return false
	}
	return true
}

// Rooms returns the room URLs that may be shown publicly. Rooms of private
// async parts are withheld until every part has ended.
func (r *Race) Rooms() []string {
	allEnded := true
	for _, part := range r.Parts() {
		if part.End().IsNone() {
			allEnded = false
			break
		}
	}
	var rooms []string
	for _, part := range r.Parts() {
		if !allEnded && part.IsPrivateAsyncPart() {
			continue
		}
		if room := part.Room(); room != "" {
			rooms = append(rooms, room)
		}
	}
	return rooms
}
