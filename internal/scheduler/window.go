package scheduler

import (
	"regexp"
	"strconv"
	"time"

	"github.com/acme/pbx-autodialer/internal/domain"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// callWindowOpen reports whether the campaign may dial at the given
// time. Bounds are inclusive on both ends; an absent or malformed
// bound leaves that side unconstrained.
func callWindowOpen(now time.Time, campaign *domain.Campaign) bool {
	if !campaign.AllowWeekends {
		switch now.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}

	minute := now.Hour()*60 + now.Minute()

	if start, ok := parseClock(campaign.CallWindowStart); ok && minute < start {
		return false
	}
	if end, ok := parseClock(campaign.CallWindowEnd); ok && minute > end {
		return false
	}
	return true
}

// parseClock converts an "HH:mm" bound to minutes since midnight.
func parseClock(v *string) (int, bool) {
	if v == nil {
		return 0, false
	}
	m := clockPattern.FindStringSubmatch(*v)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	return hours*60 + minutes, true
}
