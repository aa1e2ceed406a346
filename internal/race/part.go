package race

import (
	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

type PartKind int

const (
	PartNormal PartKind = iota
	PartAsync1
	PartAsync2
	PartAsync3
)

// Suffix distinguishes the calendar entry identities of a race's parts.
func (k PartKind) Suffix() string {
	switch k {
	case PartNormal:
		return ""
	case PartAsync1:
		return "-1"
	case PartAsync2:
		return "-2"
	case PartAsync3:
		return "-3"
	default:
		return "?"
	}
}

func (k PartKind) asyncSlot() int {
	switch k {
	case PartAsync1:
		return 0
	case PartAsync2:
		return 1
	case PartAsync3:
		return 2
	default:
		panic("not an async part")
	}
}

// Part is a calendar-visible piece of a race: the whole race when it runs
// live, or one entrant's half when it runs async. Parts are derived on
// demand and never stored.
type Part struct {
	Race *Race
	Kind PartKind
}

// Parts expands the race into its calendar-visible parts: none while
// unscheduled, one normal part when live, and one part per async slot used
// by the entrants.
func (r *Race) Parts() []Part {
	switch r.Schedule.Kind {
	case ScheduleUnscheduled:
		return nil
	case ScheduleLive:
		return []Part{{Race: r, Kind: PartNormal}}
	case ScheduleAsync:
		if r.Entrants.AsyncSlots() == 3 {
			return []Part{
				{Race: r, Kind: PartAsync1},
				{Race: r, Kind: PartAsync2},
				{Race: r, Kind: PartAsync3},
			}
		}
		return []Part{
			{Race: r, Kind: PartAsync1},
			{Race: r, Kind: PartAsync2},
		}
	default:
		panic("must not happen")
	}
}

func (p Part) Start() maybe.Maybe[timeutil.UTCTime] {
	switch p.Race.Schedule.Kind {
	case ScheduleUnscheduled:
		return maybe.None[timeutil.UTCTime]()
	case ScheduleLive:
		return maybe.Some(p.Race.Schedule.Live.Start)
	case ScheduleAsync:
		return p.Race.Schedule.Async[p.Kind.asyncSlot()].Start
	default:
		panic("must not happen")
	}
}

func (p Part) End() maybe.Maybe[timeutil.UTCTime] {
	switch p.Race.Schedule.Kind {
	case ScheduleUnscheduled:
		return maybe.None[timeutil.UTCTime]()
	case ScheduleLive:
		return p.Race.Schedule.Live.End
	case ScheduleAsync:
		return p.Race.Schedule.Async[p.Kind.asyncSlot()].End
	default:
		panic("must not happen")
	}
}

func (p Part) Room() string {
	switch p.Race.Schedule.Kind {
	case ScheduleUnscheduled:
		return ""
	case ScheduleLive:
		return p.Race.Schedule.Live.Room
	case ScheduleAsync:
		return p.Race.Schedule.Async[p.Kind.asyncSlot()].Room
	default:
		panic("must not happen")
	}
}

// IsPrivateAsyncPart reports whether this part's room and result must be
// hidden from the public: the half that races first must not leak
// information to the half that has not raced yet. Ties break toward slot 1,
// so that exactly one part of a two-way async is private.
func (p Part) IsPrivateAsyncPart() bool {
	if p.Race.Schedule.Kind != ScheduleAsync {
		return false
	}
	s := &p.Race.Schedule
	start1 := s.Async[0].Start
	start2 := s.Async[1].Start
	start3 := s.Async[2].Start
	switch p.Race.Entrants.AsyncSlots() {
	case 2:
		switch p.Kind {
		case PartAsync1:
			return isSomeAnd(start1, func(t1 timeutil.UTCTime) bool {
				return isNoneOr(start2, func(t2 timeutil.UTCTime) bool { return t1.Compare(t2) <= 0 })
			})
		case PartAsync2:
			return isSomeAnd(start2, func(t2 timeutil.UTCTime) bool {
				return isNoneOr(start1, func(t1 timeutil.UTCTime) bool { return t2.Compare(t1) < 0 })
			})
		default:
			panic("must not happen")
		}
	case 3:
		switch p.Kind {
		case PartAsync1:
			return isSomeAnd(start1, func(t1 timeutil.UTCTime) bool {
				return isNoneOr(start2, func(t2 timeutil.UTCTime) bool { return t1.Compare(t2) <= 0 }) ||
					isNoneOr(start3, func(t3 timeutil.UTCTime) bool { return t1.Compare(t3) <= 0 })
			})
		case PartAsync2:
			return isSomeAnd(start2, func(t2 timeutil.UTCTime) bool {
				return isNoneOr(start1, func(t1 timeutil.UTCTime) bool { return t2.Compare(t1) < 0 }) ||
					isNoneOr(start3, func(t3 timeutil.UTCTime) bool { return t2.Compare(t3) <= 0 })
			})
		case PartAsync3:
			return isSomeAnd(start3, func(t3 timeutil.UTCTime) bool {
				return isNoneOr(start1, func(t1 timeutil.UTCTime) bool { return t3.Compare(t1) < 0 }) ||
					isNoneOr(start2, func(t2 timeutil.UTCTime) bool { return t3.Compare(t2) < 0 })
			})
		default:
			panic("must not happen")
		}
	default:
		panic("must not happen")
	}
}

// IsPublicAsyncPart reports whether this is an async part whose room and
// result may be shown.
func (p Part) IsPublicAsyncPart() bool {
	return p.Race.Schedule.Kind == ScheduleAsync && !p.IsPrivateAsyncPart()
}

func isSomeAnd(m maybe.Maybe[timeutil.UTCTime], f func(timeutil.UTCTime) bool) bool {
	v, ok := m.TryGet()
	return ok && f(v)
}

func isNoneOr(m maybe.Maybe[timeutil.UTCTime], f func(timeutil.UTCTime) bool) bool {
	v, ok := m.TryGet()
	return !ok || f(v)
}
