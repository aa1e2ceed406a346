package race

import (
	"fmt"

	"github.com/alex65536/racecal/internal/util/clone"
)

// Team is a locally registered team for some event. Entrants reference teams
// by row; the database layer resolves the reference on load.
type Team struct {
	ID        string
	Series    string
	Event     string
	Name      string
	Plural    bool
	StartGGID string
}

func (t Team) Clone() Team { return t }

type EntrantKind int

const (
	// EntrantTeam is a reference to a locally registered Team.
	EntrantTeam EntrantKind = iota
	// EntrantUser is a bare platform account of a local user.
	EntrantUser
	// EntrantNamed is a free-text name, optionally with external handles.
	EntrantNamed
)

// Entrant is one side of a race.
type Entrant struct {
	Kind       EntrantKind
	Team       *Team  // EntrantTeam
	UserID     string // EntrantUser
	UserName   string // EntrantUser, display name resolved on load
	Name       string // EntrantNamed
	RacetimeID string
	TwitchName string
}

func NewTeamEntrant(t *Team) Entrant     { return Entrant{Kind: EntrantTeam, Team: t} }
func NewNamedEntrant(name string) Entrant { return Entrant{Kind: EntrantNamed, Name: name} }

func (e Entrant) Clone() Entrant {
	e.Team = clone.Ptr(e.Team)
	return e
}

// DisplayName returns the human-readable name for listings and calendar
// summaries.
func (e Entrant) DisplayName() string {
	switch e.Kind {
	case EntrantTeam:
		if e.Team == nil || e.Team.Name == "" {
			return "(unnamed)"
		}
		return e.Team.Name
	case EntrantUser:
		if e.UserName == "" {
			return "(unnamed)"
		}
		return e.UserName
	case EntrantNamed:
		if e.Name == "" {
			return "(unnamed)"
		}
		return e.Name
	default:
		return "(unnamed)"
	}
}

// SameIdentity reports whether two entrants refer to the same team, user or
// name, ignoring handle fields. Used by the reconciliation matching
// heuristics.
func (e Entrant) SameIdentity(o Entrant) bool {
	if e.Kind != o.Kind {
		return false
	}
	switch e.Kind {
	case EntrantTeam:
		return e.Team != nil && o.Team != nil && e.Team.ID == o.Team.ID
	case EntrantUser:
		return e.UserID == o.UserID
	case EntrantNamed:
		return e.Name == o.Name
	default:
		return false
	}
}

type EntrantsKind int

const (
	// EntrantsOpen means anyone may join; the count is unknown.
	EntrantsOpen EntrantsKind = iota
	// EntrantsCount tracks only a running total and finished count.
	EntrantsCount
	// EntrantsNamed is a single free-text description of the field.
	EntrantsNamed
	EntrantsTwo
	EntrantsThree
)

// Entrants describes who is racing. The Two and Three shapes hold an ordered
// list of entrants, which also determines how many async slots the race's
// schedule may use.
type Entrants struct {
	Kind     EntrantsKind
	Total    uint32 // EntrantsCount
	Finished uint32 // EntrantsCount
	Named    string // EntrantsNamed
	List     []Entrant
}

func OpenEntrants() Entrants { return Entrants{Kind: EntrantsOpen} }

func TwoEntrants(a, b Entrant) Entrants {
	return Entrants{Kind: EntrantsTwo, List: []Entrant{a, b}}
}

func ThreeEntrants(a, b, c Entrant) Entrants {
	return Entrants{Kind: EntrantsThree, List: []Entrant{a, b, c}}
}

func (e Entrants) Validate() error {
	switch e.Kind {
	case EntrantsOpen, EntrantsCount, EntrantsNamed:
		if len(e.List) != 0 {
			return fmt.Errorf("entrant list on %v-shaped entrants", e.Kind)
		}
	case EntrantsTwo:
		if len(e.List) != 2 {
			return fmt.Errorf("two-shaped entrants hold %v entrants", len(e.List))
		}
	case EntrantsThree:
		if len(e.List) != 3 {
			return fmt.Errorf("three-shaped entrants hold %v entrants", len(e.List))
		}
	default:
		return fmt.Errorf("bad entrants kind")
	}
	return nil
}

func (e Entrants) Clone() Entrants {
	e.List = clone.DeepSlice(e.List)
	return e
}

// AsyncSlots returns how many of the three async schedule slots are
// meaningful for this set of entrants.
func (e Entrants) AsyncSlots() int {
	if e.Kind == EntrantsThree {
		return 3
	}
	return 2
}

// Teams returns the entrants that are local teams, skipping any that aren't.
func (e Entrants) Teams() []*Team {
	var res []*Team
	for i := range e.List {
		if e.List[i].Kind == EntrantTeam && e.List[i].Team != nil {
			res = append(res, e.List[i].Team)
		}
	}
	return res
}

func (k EntrantsKind) String() string {
	switch k {
	case EntrantsOpen:
		return "open"
	case EntrantsCount:
		return "count"
	case EntrantsNamed:
		return "named"
	case EntrantsTwo:
		return "two"
	case EntrantsThree:
		return "three"
	default:
		return "?"
	}
}
