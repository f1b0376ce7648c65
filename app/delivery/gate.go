package delivery

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/q2kindle/q2kindle/app/database"
)

// IsWindowOpen reports whether the user's delivery window is open at the
// given instant. Matching is hour-exact: a user scheduled for 07:00 matches
// only during 07:00-07:59 local time. The caller is expected to invoke the
// scheduled batch once per hour, so each open window is consumed once per day.
func IsWindowOpen(settings database.DeliverySettings, now time.Time) bool {
	if !settings.AutoSendEnabled() {
		return false
	}

	timezone := settings.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	day, hour := ResolveLocalDayHour(timezone, now)
	if !slices.Contains(settings.ScheduleDays, day) {
		return false
	}

	scheduledHour, ok := parseScheduleHour(settings.ScheduleTime)
	if !ok {
		return false
	}

	return scheduledHour == hour
}

// parseScheduleHour extracts the hour from an "HH:MM" schedule time.
// Minutes are ignored: the configuration surface only offers whole hours.
func parseScheduleHour(scheduleTime string) (int, bool) {
	hourPart, _, _ := strings.Cut(scheduleTime, ":")
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	return hour, true
}
