package usage

import "time"

// ResetDay returns the start of the quota day that now falls in. Before the
// reset time, the previous calendar day is still current.
func ResetDay(now time.Time, resetTime time.Time) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), resetTime.Hour(), resetTime.Minute(), 0, 0, now.Location())

	if now.Before(today) {
		return today.AddDate(0, 0, -1)
	}

	return today
}

// NextReset returns the first reset instant strictly after now
func NextReset(now time.Time, resetTime time.Time) time.Time {
	day := ResetDay(now, resetTime)
	return time.Date(day.Year(), day.Month(), day.Day()+1, resetTime.Hour(), resetTime.Minute(), 0, 0, now.Location())
}
