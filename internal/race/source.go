package race

import (
	"cmp"
	"fmt"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

type SourceKind int

const (
	SourceManual SourceKind = iota
	SourceChallonge
	SourceLeague
	SourceSheet
	SourceStartGG
	SourceSpeedGaming
)

func (k SourceKind) String() string {
	switch k {
	case SourceManual:
		return "manual"
	case SourceChallonge:
		return "challonge"
	case SourceLeague:
		return "league"
	case SourceSheet:
		return "sheet"
	case SourceStartGG:
		return "startgg"
	case SourceSpeedGaming:
		return "speedgaming"
	default:
		return "?"
	}
}

// Source says which system of record supplies a race's scheduling data.
// Exactly one external key is populated, matching the kind; the others must
// stay zero. Validate enforces this, and the database layer calls it on
// every save and load.
type Source struct {
	Kind           SourceKind
	ChallongeMatch string
	LeagueID       int32
	SheetTimestamp maybe.Maybe[timeutil.UTCTime]
	StartGGEvent   string
	StartGGSet     string
	SpeedGamingID  int64
}

func NewManualSource() Source       { return Source{Kind: SourceManual} }
func NewLeagueSource(id int32) Source {
	return Source{Kind: SourceLeague, LeagueID: id}
}
func NewSpeedGamingSource(id int64) Source {
	return Source{Kind: SourceSpeedGaming, SpeedGamingID: id}
}
func NewStartGGSource(event, set string) Source {
	return Source{Kind: SourceStartGG, StartGGEvent: event, StartGGSet: set}
}

func (s Source) Validate() error {
	populated := 0
	if s.ChallongeMatch != "" {
		if s.Kind != SourceChallonge {
			return fmt.Errorf("challonge match id on %v source", s.Kind)
		}
		populated++
	}
	if s.LeagueID != 0 {
		if s.Kind != SourceLeague {
			return fmt.Errorf("league id on %v source", s.Kind)
		}
		populated++
	}
	if !s.SheetTimestamp.IsNone() {
		if s.Kind != SourceSheet {
			return fmt.Errorf("sheet timestamp on %v source", s.Kind)
		}
		populated++
	}
	if s.StartGGEvent != "" || s.StartGGSet != "" {
		if s.Kind != SourceStartGG {
			return fmt.Errorf("start.gg keys on %v source", s.Kind)
		}
		if s.StartGGEvent == "" || s.StartGGSet == "" {
			return fmt.Errorf("start.gg source needs both event and set")
		}
		populated++
	}
	if s.SpeedGamingID != 0 {
		if s.Kind != SourceSpeedGaming {
			return fmt.Errorf("speedgaming id on %v source", s.Kind)
		}
		populated++
	}
	if populated > 1 {
		return fmt.Errorf("more than one external key populated")
	}
	if s.Kind != SourceManual && populated == 0 {
		return fmt.Errorf("%v source without its key", s.Kind)
	}
	return nil
}

// Compare orders sources by kind, then by the kind's key. Used as one of the
// tie-breaks in the race ordering.
func (s Source) Compare(o Source) int {
	if c := cmp.Compare(s.Kind, o.Kind); c != 0 {
		return c
	}
	switch s.Kind {
	case SourceManual:
		return 0
	case SourceChallonge:
		return cmp.Compare(s.ChallongeMatch, o.ChallongeMatch)
	case SourceLeague:
		return cmp.Compare(s.LeagueID, o.LeagueID)
	case SourceSheet:
		return compareMaybeTime(s.SheetTimestamp, o.SheetTimestamp)
	case SourceStartGG:
		if c := cmp.Compare(s.StartGGEvent, o.StartGGEvent); c != 0 {
			return c
		}
		return cmp.Compare(s.StartGGSet, o.StartGGSet)
	case SourceSpeedGaming:
		return cmp.Compare(s.SpeedGamingID, o.SpeedGamingID)
	default:
		panic("must not happen")
	}
}

func compareMaybeTime(a, b maybe.Maybe[timeutil.UTCTime]) int {
	// Absent sorts before present, matching the ordering of optionals
	// everywhere else in the race ordering.
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
}
