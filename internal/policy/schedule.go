package policy

import "time"

// InSchedule reports whether now is permitted by sched. A nil schedule
// imposes no restriction; a schedule with Enabled == false permits no time
// at all. The schedule's own timezone wins; fallback (the
// process DEFAULT_TIMEZONE) applies when the schedule names none; UTC when
// both are absent.
func InSchedule(sched *Schedule, now time.Time, fallback *time.Location) bool {
	if sched == nil {
		return true
	}
	if !sched.Enabled {
		return false
	}

	loc := time.UTC
	if fallback != nil {
		loc = fallback
	}
	if sched.Timezone != "" {
		if l, err := time.LoadLocation(sched.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if sched.AllowedDays != nil {
		ok := false
		for _, d := range sched.AllowedDays {
			if d == local.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if sched.AllowedHours != nil {
		hour := local.Hour()
		start, end := sched.AllowedHours.Start, sched.AllowedHours.End
		if start <= end {
			if hour < start || hour >= end {
				return false
			}
		} else {
			// Wraps past midnight, e.g. start=22, end=4.
			if hour < start && hour >= end {
				return false
			}
		}
	}

	return true
}
