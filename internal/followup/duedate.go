package followup

import "time"

// DueBucket is the calendar classification of a due date.
type DueBucket string

const (
	DueOverdue  DueBucket = "overdue"
	DueToday    DueBucket = "due-today"
	DueTomorrow DueBucket = "due-tomorrow"
	DueLater    DueBucket = "due-later"
)

// ClassifyDueDate compares calendar days in loc, not elapsed hours. A due date
// earlier today is due-today; overdue needs a strictly earlier day.
func ClassifyDueDate(due, now time.Time, loc *time.Location) DueBucket {
	if loc == nil {
		loc = time.UTC
	}
	switch diff := calendarDaysBetween(now.In(loc), due.In(loc)); {
	case diff < 0:
		return DueOverdue
	case diff == 0:
		return DueToday
	case diff == 1:
		return DueTomorrow
	default:
		return DueLater
	}
}

// calendarDaysBetween counts day boundaries from a to b using the dates only,
// so DST shifts do not skew the result.
func calendarDaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// DueWithin reports whether due falls on one of the next n calendar days in
// loc, today included. Overdue dates are excluded.
func DueWithin(due, now time.Time, loc *time.Location, n int) bool {
	if loc == nil {
		loc = time.UTC
	}
	diff := calendarDaysBetween(now.In(loc), due.In(loc))
	return diff >= 0 && diff < n
}
