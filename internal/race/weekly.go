package race

import (
	"fmt"
	"time"
)

// WeeklySchedule is a recurring race slot for an event: a placeholder that
// the reconciliation engine materializes into concrete races and the
// calendar shows as a repeating entry until then.
type WeeklySchedule struct {
	ID            string
	Series        string
	Event         string
	Name          string
	FrequencyDays int
	// TimeOfDay is the offset from local midnight in the schedule's
	// timezone.
	TimeOfDay  time.Duration
	Timezone   string
	AnchorDate time.Time // date only, clock ignored
	Active     bool
	// RoomOpenMinutes overrides how long before the start the race room
	// opens. Zero means the default.
	RoomOpenMinutes int
}

func (w WeeklySchedule) Clone() WeeklySchedule { return w }

func (w *WeeklySchedule) Validate() error {
	if w.FrequencyDays <= 0 {
		return fmt.Errorf("non-positive frequency")
	}
	if w.TimeOfDay < 0 || w.TimeOfDay >= 24*time.Hour {
		return fmt.Errorf("time of day out of range")
	}
	if _, err := time.LoadLocation(w.Timezone); err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	return nil
}

// NextAfter returns the first occurrence strictly after min. Occurrences are
// anchored at AnchorDate plus TimeOfDay in the schedule's timezone and
// advance by FrequencyDays; re-deriving the wall clock on every step keeps
// occurrences stable across DST transitions.
func (w *WeeklySchedule) NextAfter(min time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone: %w", err)
	}
	t := w.occurrenceOn(w.AnchorDate, loc)
	for !t.After(min) {
		t = w.occurrenceOn(t.AddDate(0, 0, w.FrequencyDays), loc)
	}
	return t, nil
}

func (w *WeeklySchedule) occurrenceOn(day time.Time, loc *time.Location) time.Time {
	year, month, dom := day.Date()
	hour := int(w.TimeOfDay / time.Hour)
	minute := int(w.TimeOfDay % time.Hour / time.Minute)
	sec := int(w.TimeOfDay % time.Minute / time.Second)
	return time.Date(year, month, dom, hour, minute, sec, 0, loc)
}

// RoundLabel is the round name given to races materialized from this
// schedule, e.g. "Casual Weekly".
func (w *WeeklySchedule) RoundLabel() string {
	var freq string
	switch w.FrequencyDays {
	case 14:
		freq = "Biweekly"
	case 28, 30:
		freq = "Monthly"
	default:
		freq = "Weekly"
	}
	return fmt.Sprintf("%s %s", w.Name, freq)
}
