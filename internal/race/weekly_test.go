package race

import (
	"testing"
	"time"
)

func testWeekly(freqDays int) WeeklySchedule {
	return WeeklySchedule{
		ID:            "w",
		Series:        "s",
		Event:         "e",
		Name:          "Casual",
		FrequencyDays: freqDays,
		TimeOfDay:     19 * time.Hour,
		Timezone:      "America/New_York",
		AnchorDate:    time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC),
		Active:        true,
	}
}

func TestNextAfterCadence(t *testing.T) {
	w := testWeekly(7)
	first, err := w.NextAfter(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next occurrence: %v", err)
	}
	second, err := w.NextAfter(first)
	if err != nil {
		t.Fatalf("next occurrence: %v", err)
	}
	if got := second.Sub(first); got != 7*24*time.Hour {
		t.Fatalf("cadence 7 days yields next occurrence after %v", got)
	}
	if !second.After(first) {
		t.Fatalf("next occurrence must be strictly later")
	}
	// An occurrence is never returned for a min equal to itself.
	again, err := w.NextAfter(first)
	if err != nil {
		t.Fatalf("next occurrence: %v", err)
	}
	if !again.Equal(second) {
		t.Fatalf("NextAfter must be exclusive of min, got %v", again)
	}
}

func TestNextAfterDST(t *testing.T) {
	w := testWeekly(7)
	// 2026-03-08 is the US spring-forward date; wall-clock time must hold.
	min := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	occ, err := w.NextAfter(min)
	if err != nil {
		t.Fatalf("next occurrence: %v", err)
	}
	next, err := w.NextAfter(occ)
	if err != nil {
		t.Fatalf("next occurrence: %v", err)
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	for _, o := range []time.Time{occ, next} {
		if h := o.In(loc).Hour(); h != 19 {
			t.Fatalf("occurrence %v is at local hour %v, want 19", o, h)
		}
	}
}

func TestRoundLabel(t *testing.T) {
	for _, tc := range []struct {
		freq int
		want string
	}{
		{7, "Casual Weekly"},
		{14, "Casual Biweekly"},
		{28, "Casual Monthly"},
		{30, "Casual Monthly"},
		{10, "Casual Weekly"},
	} {
		w := testWeekly(tc.freq)
		if got := w.RoundLabel(); got != tc.want {
			t.Fatalf("RoundLabel(%v) = %q, want %q", tc.freq, got, tc.want)
		}
	}
}
