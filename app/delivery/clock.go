package delivery

import (
	"log/slog"
	"time"
)

var weekdayAbbrev = map[time.Weekday]string{
	time.Sunday:    "sun",
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
}

// ResolveLocalDayHour returns the weekday abbreviation (mon..sun) and the
// hour of day for the given instant in the given IANA timezone. An
// unrecognized timezone falls back to UTC rather than failing: a malformed
// value must never disable a user's delivery or crash a batch run.
func ResolveLocalDayHour(timezone string, instant time.Time) (string, int) {
	local := instant.In(locationOrUTC(timezone))
	return weekdayAbbrev[local.Weekday()], local.Hour()
}

// StartOfLocalDayUTC returns the UTC instant of local midnight "today" in
// the given timezone. The same soft-fail-to-UTC policy applies.
func StartOfLocalDayUTC(timezone string, instant time.Time) time.Time {
	loc := locationOrUTC(timezone)
	local := instant.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.UTC()
}

func locationOrUTC(timezone string) *time.Location {
	if timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		slog.Warn("Unrecognized timezone, falling back to UTC", "timezone", timezone)
		return time.UTC
	}
	return loc
}
