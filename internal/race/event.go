package race

import (
	"errors"
	"time"

	"github.com/alex65536/racecal/internal/util/timeutil"
)

var ErrEventNotFound = errors.New("event not found")

// Event is the configuration of one tracked event: where its races come
// from, how they are displayed, and where humans are alerted.
type Event struct {
	Series      string `gorm:"primaryKey"`
	Slug        string `gorm:"primaryKey"`
	DisplayName string
	ShortName   string
	// Listed events appear in the calendar feeds.
	Listed bool
	// AutoImport enables the reconciliation engine for this event.
	AutoImport bool
	// MatchSource selects which external system of record supplies the
	// event's matches. SourceManual means none.
	MatchSource SourceKind
	// StartGGSlug is the start.gg event slug, for MatchSource ==
	// SourceStartGG.
	StartGGSlug string
	// SpeedGamingSlug enables restream-schedule reconciliation, independent
	// of MatchSource.
	SpeedGamingSlug string
	// OrganizerChannel receives no-match alerts and disambiguation prompts.
	OrganizerChannel string
	// DefaultRaceDuration pads calendar entries whose end time is unknown.
	DefaultRaceDuration time.Duration
	StartTime           *timeutil.UTCTime
	EndTime             *timeutil.UTCTime
}

func (e *Event) NameOrShort() string {
	if e.ShortName != "" {
		return e.ShortName
	}
	return e.DisplayName
}
