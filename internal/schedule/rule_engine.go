// Package schedule provides the date arithmetic behind recurring expenses
// and allowance windows.
//
// This file implements the Strategy Pattern for advancing a recurrence
// cursor. Each frequency type (daily, weekly, monthly, yearly) has its own
// advancer that encapsulates the logic for finding the next occurrence.

package schedule

import (
	"fmt"
	"time"

	"quota/internal/core"
)

// Advancer is the strategy interface for computing the next occurrence of
// a recurrence rule strictly after a given date. Implementations must be
// pure: no side effects, deterministic for a given input.
type Advancer interface {
	// Next returns the first date after `after` that satisfies the rule.
	// The result is always strictly later than `after`.
	Next(rule core.RecurrenceRule, after core.Date) core.Date
}

// DailyAdvancer implements Advancer for daily rules.
type DailyAdvancer struct{}

func (DailyAdvancer) Next(_ core.RecurrenceRule, after core.Date) core.Date {
	return after.AddDays(1)
}

// WeeklyAdvancer implements Advancer for weekly rules.
type WeeklyAdvancer struct{}

// Next returns the next date whose weekday equals the rule's day of week.
// If `after` already falls on that weekday, a full week is added so the
// result is never `after` itself.
func (WeeklyAdvancer) Next(rule core.RecurrenceRule, after core.Date) core.Date {
	delta := (rule.DayOfWeek - int(after.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return after.AddDays(delta)
}

// MonthlyAdvancer implements Advancer for monthly rules.
type MonthlyAdvancer struct{}

// Next returns the rule's day of month in the calendar month after
// `after`, clamped to that month's last day when the rule asks for a day
// the month does not have (e.g. day 31 in February).
func (MonthlyAdvancer) Next(rule core.RecurrenceRule, after core.Date) core.Date {
	year := after.Year()
	month := after.Month() + 1
	if month > 12 {
		month = 1
		year++
	}
	return clampedDate(year, month, rule.DayOfMonth)
}

// YearlyAdvancer implements Advancer for yearly rules.
type YearlyAdvancer struct{}

// Next returns this year's occurrence when it is still strictly after
// `after`, otherwise next year's. The same day-of-month clamping as
// monthly applies (Feb 29 rules fall on Feb 28 outside leap years).
func (YearlyAdvancer) Next(rule core.RecurrenceRule, after core.Date) core.Date {
	candidate := clampedDate(after.Year(), rule.MonthOfYear, rule.DayOfMonth)
	if candidate.After(after) {
		return candidate
	}
	return clampedDate(after.Year()+1, rule.MonthOfYear, rule.DayOfMonth)
}

// clampedDate builds a date from year, month and a requested day,
// clamping the day to the month's length.
func clampedDate(year, month, day int) core.Date {
	last := lastDayOfMonth(year, month)
	if day > last {
		day = last
	}
	return core.NewDate(year, month, day)
}

// lastDayOfMonth returns the number of days in the given month.
func lastDayOfMonth(year, month int) int {
	// Day zero of the following month
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// advancers maps frequency types to their corresponding strategies.
var advancers = map[core.Frequency]Advancer{
	core.Daily:   DailyAdvancer{},
	core.Weekly:  WeeklyAdvancer{},
	core.Monthly: MonthlyAdvancer{},
	core.Yearly:  YearlyAdvancer{},
}

// GetAdvancer returns the advancer for a frequency type.
func GetAdvancer(frequency core.Frequency) (Advancer, error) {
	adv, ok := advancers[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: unknown frequency %q", core.ErrInvalidRule, string(frequency))
	}
	return adv, nil
}

// RegisterAdvancer registers a custom advancer for a new frequency type.
func RegisterAdvancer(frequency core.Frequency, adv Advancer) {
	advancers[frequency] = adv
}

// NextOccurrence computes the next valid occurrence of a rule strictly
// after the given date. It validates the rule first and returns
// core.ErrInvalidRule (wrapped) when required fields are missing or out
// of range for the rule's frequency.
func NextOccurrence(rule core.RecurrenceRule, after core.Date) (core.Date, error) {
	if err := rule.Validate(); err != nil {
		return core.Date{}, err
	}
	adv, err := GetAdvancer(rule.Frequency)
	if err != nil {
		return core.Date{}, err
	}
	return adv.Next(rule, after), nil
}
