package schedule

import "time"

// Day is the fixed length of one interval day. Deadlines use flat 24h units,
// never calendar arithmetic, so schedules stay deterministic across DST and
// leap boundaries.
const Day = 24 * time.Hour

// Milestone describes one point of the reminder cascade, either a fraction of
// the interval elapsed since the last check-in or a fixed lead time before the
// deadline. Exactly one of Fraction/LeadTime is set.
type Milestone struct {
	Type     string
	Fraction float64
	LeadTime time.Duration
}

// Milestones is the reminder taxonomy, ordered from earliest to latest fire
// time for typical intervals. Adding a milestone is a data change.
var Milestones = []Milestone{
	{Type: "interval_25", Fraction: 0.25},
	{Type: "interval_50", Fraction: 0.50},
	{Type: "before_7d", LeadTime: 7 * Day},
	{Type: "before_3d", LeadTime: 3 * Day},
	{Type: "before_24h", LeadTime: 24 * time.Hour},
	{Type: "before_12h", LeadTime: 12 * time.Hour},
	{Type: "before_1h", LeadTime: time.Hour},
}

// PlannedReminder is one entry of a freshly computed schedule.
type PlannedReminder struct {
	Type    string
	FiresAt time.Time
}

// NextCheckIn returns the deadline implied by a check-in at lastCheckIn with
// the given interval.
func NextCheckIn(lastCheckIn time.Time, intervalDays int) time.Time {
	return lastCheckIn.Add(time.Duration(intervalDays) * Day)
}

// Plan computes the reminder schedule for a secret whose owner last checked in
// at lastCheckIn. Entries not strictly after now, or not strictly before the
// deadline, are dropped: a reminder is never scheduled in the past and never
// after the deadline it warns about. Identical inputs always yield identical
// output.
func Plan(lastCheckIn time.Time, intervalDays int, now time.Time) []PlannedReminder {
	deadline := NextCheckIn(lastCheckIn, intervalDays)
	interval := time.Duration(intervalDays) * Day
	var out []PlannedReminder
	for _, m := range Milestones {
		var firesAt time.Time
		if m.Fraction > 0 {
			firesAt = lastCheckIn.Add(time.Duration(m.Fraction * float64(interval)))
		} else {
			firesAt = deadline.Add(-m.LeadTime)
		}
		if !firesAt.After(now) || !firesAt.Before(deadline) {
			continue
		}
		out = append(out, PlannedReminder{Type: m.Type, FiresAt: firesAt.UTC()})
	}
	return out
}
