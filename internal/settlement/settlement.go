// Package settlement maps a job's timeliness to the points it is worth.
//
// Rules, checked in order against the delay between due and completion:
//
//	no due date                      100%
//	on time or early                 100%
//	completed on a later calendar day -100% (the job's points are deducted)
//	up to 1h late                     70%
//	up to 1.5h late                   50%
//	up to 2h late                     30%
//	more than 2h late, same day        0%
//
// The calendar-day check runs before the hour buckets, so 20 minutes late
// across midnight is penalized harder than three hours late on the same day.
package settlement

import "time"

const (
	OnTime  = 100
	Late1h  = 70
	Late90m = 50
	Late2h  = 30
	TooLate = 0
	// Penalty marks a cross-day completion; the job's points are deducted.
	Penalty = -100
)

// Result is the outcome of settling one job.
type Result struct {
	DiscountPercent int
	ActualPoints    int
	Message         string
}

// Calculate settles a job worth points that was due at due (nil means no
// deadline) and completed at completedAt. Calendar days are compared in
// due's location, so callers should pass times already converted to the
// household timezone.
func Calculate(due *time.Time, completedAt time.Time, points int) Result {
	if due == nil {
		return result(OnTime, points, "No deadline")
	}

	delay := completedAt.Sub(*due)
	switch {
	case delay <= 0:
		return result(OnTime, points, "Completed on time")
	case IsCrossDay(*due, completedAt):
		return result(Penalty, points, "Completed after the due day: reward deducted")
	case delay <= time.Hour:
		return result(Late1h, points, "Up to 1 hour late: 70% reward")
	case delay <= 90*time.Minute:
		return result(Late90m, points, "Up to 1.5 hours late: 50% reward")
	case delay <= 2*time.Hour:
		return result(Late2h, points, "Up to 2 hours late: 30% reward")
	default:
		return result(TooLate, points, "More than 2 hours late: no reward")
	}
}

// Points applies a discount percentage to points. Penalty yields the
// negated value; everything else is floored.
func Points(points, discountPercent int) int {
	if discountPercent == Penalty {
		return -points
	}
	// points and percent are non-negative here, so integer division floors.
	return points * discountPercent / 100
}

// IsCrossDay reports whether completedAt falls on a later calendar date than
// due, evaluated in due's location.
func IsCrossDay(due, completedAt time.Time) bool {
	return DateOf(completedAt.In(due.Location())).After(DateOf(due))
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func result(discount, points int, msg string) Result {
	return Result{
		DiscountPercent: discount,
		ActualPoints:    Points(points, discount),
		Message:         msg,
	}
}
