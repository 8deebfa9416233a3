package google

import (
	"context"
	"testing"
	"time"

	"quota/internal/core"
)

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		name string
		base string
		year int
		want string
	}{
		{"plain base", "Expenses", 2026, "2026 Expenses"},
		{"already prefixed", "2025 Expenses", 2026, "2025 Expenses"},
		{"empty base", "", 2026, ""},
		{"whitespace trimmed", "  Expenses  ", 2026, "2026 Expenses"},
		{"short base", "Log", 2026, "2026 Log"},
		{"numeric but not a year", "1234", 2026, "2026 1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := yearPrefixedName(tt.base, tt.year)
			if got != tt.want {
				t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
			}
		})
	}
}

func TestExpenseRow(t *testing.T) {
	e := core.Expense{
		ID:        "abc-123",
		Date:      core.NewDate(2026, 2, 28),
		Amount:    core.Money{Cents: 1250},
		Category:  "groceries",
		Note:      "weekly shop",
		CreatedAt: time.Now(),
	}

	row := expenseRow(e)
	if len(row) != 5 {
		t.Fatalf("row has %d columns, want 5", len(row))
	}
	if row[0] != "2026-02-28" {
		t.Errorf("date column = %v, want 2026-02-28", row[0])
	}
	if row[1] != "groceries" || row[2] != "weekly shop" {
		t.Errorf("category/note = %v/%v", row[1], row[2])
	}
	if row[3] != 12.5 {
		t.Errorf("amount column = %v, want 12.5", row[3])
	}
	if row[4] != "abc-123" {
		t.Errorf("id column = %v, want abc-123", row[4])
	}
}

func TestAppendRejectsInvalidExpense(t *testing.T) {
	c := &Client{spreadsheetID: "sheet", expensesSheet: "2026 Expenses"}

	_, err := c.Append(context.Background(), core.Expense{ID: "x"})
	if err == nil {
		t.Fatal("Append should reject an invalid expense")
	}
}
