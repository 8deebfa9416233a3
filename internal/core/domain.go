package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	PerDay   Cadence = "day"
	PerWeek  Cadence = "week"
	PerMonth Cadence = "month"
)

type (
	// Frequency is the repetition granularity of a recurrence rule.
	Frequency string

	// Cadence is the top-up granularity of an allowance.
	Cadence string

	// Date is a calendar date with no time-of-day component.
	// The embedded time.Time is always UTC midnight.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurrenceRule describes when occurrences of a template fall.
	// Which qualifier fields are required depends on Frequency:
	// weekly needs DayOfWeek, monthly needs DayOfMonth, yearly needs both
	// DayOfMonth and MonthOfYear. Daily needs none.
	RecurrenceRule struct {
		Frequency   Frequency
		DayOfWeek   int // 0-6, Sunday = 0
		DayOfMonth  int // 1-31, clamped to short months
		MonthOfYear int // 1-12
	}

	// RecurrenceTemplate generates expenses on the schedule its rule
	// describes. NextDate is the cursor: the next occurrence not yet
	// materialized. A zero EndDate means the template never expires.
	RecurrenceTemplate struct {
		ID       string
		Rule     RecurrenceRule
		Amount   Money
		Category string
		Note     string
		NextDate Date
		EndDate  Date
		Ended    bool
	}

	// Expense is one materialized occurrence, or a manually entered spend.
	// The scheduler never mutates an expense after creating it.
	Expense struct {
		ID        string
		Date      Date
		Amount    Money
		Category  string
		Note      string
		CreatedAt time.Time
	}

	AllowanceSettings struct {
		Amount  Money
		Cadence Cadence
	}

	// AllowanceWindow is the active budgeting period derived from a
	// cadence and a reference date. Never persisted.
	AllowanceWindow struct {
		Label     string
		Start     Date
		End       Date
		NextTopUp Date
	}
)

var (
	ErrInvalidRule      = errors.New("invalid recurrence rule")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCadence   = errors.New("invalid cadence")
	ErrEmptyCategory    = errors.New("empty category")
	ErrTemplateNotFound = errors.New("recurrence template not found")
	ErrExpenseNotFound  = errors.New("expense not found")
)

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar date.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t.UTC()}, nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as 1-12.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (f Frequency) Validate() error {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return nil
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, string(f))
	}
}

func (c Cadence) Validate() error {
	switch c {
	case PerDay, PerWeek, PerMonth:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCadence, string(c))
	}
}

// Validate checks the per-frequency field requirements of the rule.
func (r RecurrenceRule) Validate() error {
	if err := r.Frequency.Validate(); err != nil {
		return err
	}
	switch r.Frequency {
	case Weekly:
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return fmt.Errorf("%w: day of week %d out of range 0-6", ErrInvalidRule, r.DayOfWeek)
		}
	case Monthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("%w: day of month %d out of range 1-31", ErrInvalidRule, r.DayOfMonth)
		}
	case Yearly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("%w: day of month %d out of range 1-31", ErrInvalidRule, r.DayOfMonth)
		}
		if r.MonthOfYear < 1 || r.MonthOfYear > 12 {
			return fmt.Errorf("%w: month %d out of range 1-12", ErrInvalidRule, r.MonthOfYear)
		}
	}
	return nil
}

func (t RecurrenceTemplate) Validate() error {
	if err := t.Rule.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Note) > 200 {
		return errors.New("note too long (max 200 characters)")
	}
	if err := t.NextDate.Validate(); err != nil {
		return errors.New("invalid next date: " + err.Error())
	}
	if !t.EndDate.IsZero() && t.EndDate.Before(t.NextDate) {
		return errors.New("end date must not precede next date")
	}
	return nil
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if len(e.Note) > 200 {
		return errors.New("note too long (max 200 characters)")
	}
	return nil
}

func (s AllowanceSettings) Validate() error {
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	return s.Cadence.Validate()
}
