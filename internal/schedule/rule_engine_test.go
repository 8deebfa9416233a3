package schedule

import (
	"errors"
	"testing"
	"time"

	"quota/internal/core"
)

func TestDailyAdvancer_Next(t *testing.T) {
	adv := DailyAdvancer{}
	rule := core.RecurrenceRule{Frequency: core.Daily}

	got := adv.Next(rule, core.NewDate(2026, 1, 31))
	if got.String() != "2026-02-01" {
		t.Fatalf("Next() = %s, want 2026-02-01", got)
	}
	got = adv.Next(rule, core.NewDate(2026, 12, 31))
	if got.String() != "2027-01-01" {
		t.Fatalf("Next() = %s, want 2027-01-01", got)
	}
}

func TestWeeklyAdvancer_Next(t *testing.T) {
	adv := WeeklyAdvancer{}

	tests := []struct {
		name      string
		dayOfWeek int
		after     core.Date
		want      string
	}{
		{
			name:      "target later this week",
			dayOfWeek: 5, // Friday
			after:     core.NewDate(2026, 1, 5), // a Monday
			want:      "2026-01-09",
		},
		{
			name:      "target earlier in week wraps",
			dayOfWeek: 1, // Monday
			after:     core.NewDate(2026, 1, 9), // a Friday
			want:      "2026-01-12",
		},
		{
			name:      "same weekday advances a full week",
			dayOfWeek: 1,
			after:     core.NewDate(2026, 1, 5), // already a Monday
			want:      "2026-01-12",
		},
		{
			name:      "sunday target",
			dayOfWeek: 0,
			after:     core.NewDate(2026, 1, 5),
			want:      "2026-01-11",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := core.RecurrenceRule{Frequency: core.Weekly, DayOfWeek: tt.dayOfWeek}
			got := adv.Next(rule, tt.after)
			if got.String() != tt.want {
				t.Errorf("Next() = %s, want %s", got, tt.want)
			}
		})
	}
}

// Every weekly advance lands on the rule's weekday and moves strictly
// forward, for any combination of cursor weekday and target.
func TestWeeklyAdvancer_AlwaysStrictlyLater(t *testing.T) {
	adv := WeeklyAdvancer{}
	for target := 0; target <= 6; target++ {
		rule := core.RecurrenceRule{Frequency: core.Weekly, DayOfWeek: target}
		for offset := 0; offset < 7; offset++ {
			after := core.NewDate(2026, 6, 1).AddDays(offset)
			got := adv.Next(rule, after)
			if !got.After(after) {
				t.Fatalf("Next(%s, target %d) = %s not strictly later", after, target, got)
			}
			if int(got.Weekday()) != target {
				t.Fatalf("Next(%s, target %d) = %s weekday %d", after, target, got, got.Weekday())
			}
			if diff := got.Sub(after.Time); diff > 7*24*time.Hour {
				t.Fatalf("Next(%s, target %d) jumped %v", after, target, diff)
			}
		}
	}
}

func TestMonthlyAdvancer_Next(t *testing.T) {
	adv := MonthlyAdvancer{}

	tests := []struct {
		name       string
		dayOfMonth int
		after      core.Date
		want       string
	}{
		{
			name:       "plain advance",
			dayOfMonth: 15,
			after:      core.NewDate(2026, 3, 15),
			want:       "2026-04-15",
		},
		{
			name:       "day 31 into 30-day month clamps",
			dayOfMonth: 31,
			after:      core.NewDate(2026, 3, 31),
			want:       "2026-04-30",
		},
		{
			name:       "day 31 into February clamps to 28",
			dayOfMonth: 31,
			after:      core.NewDate(2026, 1, 31),
			want:       "2026-02-28",
		},
		{
			name:       "day 31 into leap February clamps to 29",
			dayOfMonth: 31,
			after:      core.NewDate(2028, 1, 31),
			want:       "2028-02-29",
		},
		{
			name:       "day 29 into February",
			dayOfMonth: 29,
			after:      core.NewDate(2026, 1, 29),
			want:       "2026-02-28",
		},
		{
			name:       "day 30 into February",
			dayOfMonth: 30,
			after:      core.NewDate(2026, 1, 30),
			want:       "2026-02-28",
		},
		{
			name:       "december wraps the year",
			dayOfMonth: 10,
			after:      core.NewDate(2026, 12, 10),
			want:       "2027-01-10",
		},
		{
			name:       "clamped cursor still leaves its month",
			dayOfMonth: 31,
			after:      core.NewDate(2026, 2, 28),
			want:       "2026-03-31",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := core.RecurrenceRule{Frequency: core.Monthly, DayOfMonth: tt.dayOfMonth}
			got := adv.Next(rule, tt.after)
			if got.String() != tt.want {
				t.Errorf("Next() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestYearlyAdvancer_Next(t *testing.T) {
	adv := YearlyAdvancer{}

	tests := []struct {
		name        string
		dayOfMonth  int
		monthOfYear int
		after       core.Date
		want        string
	}{
		{
			name:        "this year's occurrence still ahead",
			dayOfMonth:  15, monthOfYear: 9,
			after: core.NewDate(2026, 3, 1),
			want:  "2026-09-15",
		},
		{
			name:        "this year's occurrence already passed",
			dayOfMonth:  15, monthOfYear: 3,
			after: core.NewDate(2026, 9, 1),
			want:  "2027-03-15",
		},
		{
			name:        "cursor exactly on the occurrence moves a year",
			dayOfMonth:  15, monthOfYear: 3,
			after: core.NewDate(2026, 3, 15),
			want:  "2027-03-15",
		},
		{
			name:        "feb 29 rule in a leap year",
			dayOfMonth:  29, monthOfYear: 2,
			after: core.NewDate(2028, 1, 1),
			want:  "2028-02-29",
		},
		{
			name:        "feb 29 rule outside leap years clamps",
			dayOfMonth:  29, monthOfYear: 2,
			after: core.NewDate(2026, 3, 1),
			want:  "2027-02-28",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := core.RecurrenceRule{
				Frequency:   core.Yearly,
				DayOfMonth:  tt.dayOfMonth,
				MonthOfYear: tt.monthOfYear,
			}
			got := adv.Next(rule, tt.after)
			if got.String() != tt.want {
				t.Errorf("Next() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextOccurrenceValidatesRule(t *testing.T) {
	after := core.NewDate(2026, 1, 1)

	tests := []struct {
		name string
		rule core.RecurrenceRule
	}{
		{"weekly day out of range", core.RecurrenceRule{Frequency: core.Weekly, DayOfWeek: 9}},
		{"monthly day missing", core.RecurrenceRule{Frequency: core.Monthly}},
		{"yearly month missing", core.RecurrenceRule{Frequency: core.Yearly, DayOfMonth: 10}},
		{"unknown frequency", core.RecurrenceRule{Frequency: "hourly"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NextOccurrence(tt.rule, after); !errors.Is(err, core.ErrInvalidRule) {
				t.Errorf("NextOccurrence() error = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestGetAdvancer(t *testing.T) {
	for _, f := range []core.Frequency{core.Daily, core.Weekly, core.Monthly, core.Yearly} {
		if adv, err := GetAdvancer(f); err != nil || adv == nil {
			t.Errorf("GetAdvancer(%s) = %v, %v", f, adv, err)
		}
	}
	if _, err := GetAdvancer("quarterly"); err == nil {
		t.Error("GetAdvancer(quarterly) expected error")
	}
}

func TestRegisterAdvancer(t *testing.T) {
	custom := core.Frequency("quarterly")
	RegisterAdvancer(custom, DailyAdvancer{})
	defer delete(advancers, custom)

	adv, err := GetAdvancer(custom)
	if err != nil || adv == nil {
		t.Fatalf("GetAdvancer after register = %v, %v", adv, err)
	}
}
