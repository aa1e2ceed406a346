package race

import (
	"fmt"
	"slices"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

type ScheduleKind int

const (
	ScheduleUnscheduled ScheduleKind = iota
	ScheduleLive
	ScheduleAsync
)

func (k ScheduleKind) String() string {
	switch k {
	case ScheduleUnscheduled:
		return "unscheduled"
	case ScheduleLive:
		return "live"
	case ScheduleAsync:
		return "async"
	default:
		return "?"
	}
}

type LiveSchedule struct {
	Start timeutil.UTCTime
	End   maybe.Maybe[timeutil.UTCTime]
	Room  string
}

// AsyncHalf is the timing of one entrant's independent attempt in an async
// race.
type AsyncHalf struct {
	Start maybe.Maybe[timeutil.UTCTime]
	End   maybe.Maybe[timeutil.UTCTime]
	Room  string
}

// Schedule is the timing state of a race: unscheduled, live (everyone at
// once) or async (up to three independent halves). Live and Async are
// mutually exclusive; the database layer refuses to store a row violating
// this.
type Schedule struct {
	Kind  ScheduleKind
	Live  LiveSchedule // meaningful iff Kind == ScheduleLive
	Async [3]AsyncHalf // meaningful iff Kind == ScheduleAsync
}

func NewLiveSchedule(start timeutil.UTCTime) Schedule {
	return Schedule{Kind: ScheduleLive, Live: LiveSchedule{Start: start}}
}

func (s Schedule) Clone() Schedule { return s }

func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleUnscheduled, ScheduleLive:
		return nil
	case ScheduleAsync:
		for i := range s.Async {
			if s.Async[i].Start.IsNone() && s.Async[i].End.IsNone() && s.Async[i].Room == "" {
				continue
			}
			if s.Async[i].Start.IsNone() && !s.Async[i].End.IsNone() {
				return fmt.Errorf("async slot %v has an end but no start", i+1)
			}
		}
		return nil
	default:
		return fmt.Errorf("bad schedule kind")
	}
}

// SetLiveStart promotes the schedule to Live or moves an existing live start.
// An async schedule is overwritten; there is no migration path back from
// async to live.
func (s *Schedule) SetLiveStart(start timeutil.UTCTime) {
	if s.Kind == ScheduleLive {
		s.Live.Start = start
		return
	}
	*s = NewLiveSchedule(start)
}

// SetAsyncStart promotes the schedule to Async and sets the start of the
// given slot (1-based). It returns the start previously set for that slot, if
// any, so callers can tell a reschedule from an initial schedule.
func (s *Schedule) SetAsyncStart(slot int, start timeutil.UTCTime) maybe.Maybe[timeutil.UTCTime] {
	if slot < 1 || slot > 3 {
		panic("async slot out of range")
	}
	switch s.Kind {
	case ScheduleUnscheduled:
		*s = Schedule{Kind: ScheduleAsync}
		s.Async[slot-1].Start = maybe.Some(start)
		return maybe.None[timeutil.UTCTime]()
	case ScheduleLive:
		prev := s.Live.Start
		*s = Schedule{Kind: ScheduleAsync}
		s.Async[slot-1].Start = maybe.Some(start)
		return maybe.Some(prev)
	case ScheduleAsync:
		prev := s.Async[slot-1].Start
		s.Async[slot-1].Start = maybe.Some(start)
		return prev
	default:
		panic("must not happen")
	}
}

// EndTime returns when the race ended. An async race has not ended until
// every half used by the entrants has ended; then the latest end wins.
func (s Schedule) EndTime(entrants Entrants) maybe.Maybe[timeutil.UTCTime] {
	switch s.Kind {
	case ScheduleUnscheduled:
		return maybe.None[timeutil.UTCTime]()
	case ScheduleLive:
		return s.Live.End
	case ScheduleAsync:
		var res timeutil.UTCTime
		for i := 0; i < entrants.AsyncSlots(); i++ {
			end, ok := s.Async[i].End.TryGet()
			if !ok {
				return maybe.None[timeutil.UTCTime]()
			}
			res = timeutil.Max(res, end)
		}
		return maybe.Some(res)
	default:
		panic("must not happen")
	}
}

func (s Schedule) HasAnyRoom() bool {
	switch s.Kind {
	case ScheduleUnscheduled:
		return false
	case ScheduleLive:
		return s.Live.Room != ""
	case ScheduleAsync:
		return s.Async[0].Room != "" || s.Async[1].Room != "" || s.Async[2].Room != ""
	default:
		panic("must not happen")
	}
}

// starts returns the three start slots used by the ordering. A live race
// fills all three with its single start so that it compares as "fully
// scheduled" against async races.
func (s Schedule) starts() [3]maybe.Maybe[timeutil.UTCTime] {
	var res [3]maybe.Maybe[timeutil.UTCTime]
	switch s.Kind {
	case ScheduleUnscheduled:
	case ScheduleLive:
		for i := range res {
			res[i] = maybe.Some(s.Live.Start)
		}
	case ScheduleAsync:
		for i := range res {
			res[i] = s.Async[i].Start
		}
	}
	return res
}

// compare implements the schedule half of the race ordering: finished races
// first (earliest finish first), then slot-by-slot over the sorted starts,
// with a present start sorting before an absent one and earlier starts
// first.
func (s Schedule) compare(entrants Entrants, o Schedule, oEntrants Entrants) int {
	endA := s.EndTime(entrants)
	endB := o.EndTime(oEntrants)
	if endA.IsNone() != endB.IsNone() {
		if endB.IsNone() {
			return -1
		}
		return 1
	}
	if !endA.IsNone() {
		if c := endA.Get().Compare(endB.Get()); c != 0 {
			return c
		}
	}
	startsA := s.starts()
	startsB := o.starts()
	sortStarts(startsA[:])
	sortStarts(startsB[:])
	for i := range startsA {
		a, b := startsA[i], startsB[i]
		if a.IsNone() != b.IsNone() {
			if b.IsNone() {
				return -1
			}
			return 1
		}
		if a.IsNone() {
			continue
		}
		if c := a.Get().Compare(b.Get()); c != 0 {
			return c
		}
	}
	return 0
}

func sortStarts(starts []maybe.Maybe[timeutil.UTCTime]) {
	slices.SortStableFunc(starts, func(a, b maybe.Maybe[timeutil.UTCTime]) int {
		switch {
		case a.IsNone() && b.IsNone():
			return 0
		case a.IsNone():
			return -1
		case b.IsNone():
			return 1
		default:
			return a.Get().Compare(b.Get())
		}
	})
}
