package schedule

import (
	"fmt"

	"quota/internal/core"
)

// WindowFor derives the active budgeting period for a cadence from a
// reference date. Windows are inclusive on both ends; weeks run Monday
// through Sunday (ISO). The next top-up is always the day after the
// window closes.
func WindowFor(cadence core.Cadence, ref core.Date) (core.AllowanceWindow, error) {
	switch cadence {
	case core.PerDay:
		return core.AllowanceWindow{
			Label:     "Today",
			Start:     ref,
			End:       ref,
			NextTopUp: ref.AddDays(1),
		}, nil
	case core.PerWeek:
		weekday := int(ref.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday closes the week, it does not start one
		}
		start := ref.AddDays(-(weekday - 1))
		end := start.AddDays(6)
		return core.AllowanceWindow{
			Label:     "This week",
			Start:     start,
			End:       end,
			NextTopUp: end.AddDays(1),
		}, nil
	case core.PerMonth:
		start := core.NewDate(ref.Year(), ref.Month(), 1)
		end := clampedDate(ref.Year(), ref.Month(), 31)
		return core.AllowanceWindow{
			Label:     "This month",
			Start:     start,
			End:       end,
			NextTopUp: end.AddDays(1),
		}, nil
	default:
		return core.AllowanceWindow{}, fmt.Errorf("%w: %q", core.ErrInvalidCadence, string(cadence))
	}
}
