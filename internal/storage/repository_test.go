package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quota/internal/core"
	"quota/internal/services"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "quota.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testTemplate(id string, next core.Date) core.RecurrenceTemplate {
	return core.RecurrenceTemplate{
		ID:       id,
		Rule:     core.RecurrenceRule{Frequency: core.Monthly, DayOfMonth: 15},
		Amount:   core.Money{Cents: 999},
		Category: "subscriptions",
		Note:     "streaming",
		NextDate: next,
	}
}

func testExpense(id string, date core.Date) core.Expense {
	return core.Expense{
		ID:        id,
		Date:      date,
		Amount:    core.Money{Cents: 999},
		Category:  "subscriptions",
		CreatedAt: time.Now().UTC(),
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tpl := testTemplate("t1", core.NewDate(2026, 1, 15))
	tpl.EndDate = core.NewDate(2026, 6, 15)
	if err := repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetTemplate(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Rule != tpl.Rule || got.Amount != tpl.Amount || got.Category != tpl.Category {
		t.Fatalf("got %+v, want %+v", got, tpl)
	}
	if !got.NextDate.Equal(tpl.NextDate) || !got.EndDate.Equal(tpl.EndDate) {
		t.Fatalf("dates: got [%s, %s]", got.NextDate, got.EndDate)
	}
	if got.Ended {
		t.Fatal("fresh template reported as ended")
	}

	if _, err := repo.GetTemplate(ctx, "missing"); !errors.Is(err, core.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestListDueTemplates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	due := testTemplate("due", core.NewDate(2026, 1, 15))
	future := testTemplate("future", core.NewDate(2026, 3, 15))
	for _, tpl := range []core.RecurrenceTemplate{due, future} {
		if err := repo.CreateTemplate(ctx, tpl); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := repo.ListDueTemplates(ctx, core.NewDate(2026, 2, 1))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(got) != 1 || got[0].ID != "due" {
		t.Fatalf("due set = %+v, want just 'due'", got)
	}
}

func TestListDueTemplatesExcludesEnded(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tpl := testTemplate("t1", core.NewDate(2026, 1, 15))
	if err := repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Materialize the final occurrence and freeze.
	err := repo.MaterializeOccurrence(ctx, "t1",
		testExpense("e1", tpl.NextDate), tpl.NextDate, tpl.NextDate, true)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}

	got, err := repo.ListDueTemplates(ctx, core.NewDate(2026, 6, 1))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ended template still due: %+v", got)
	}

	full, err := repo.GetTemplate(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !full.Ended {
		t.Fatal("template not marked ended")
	}
}

func TestMaterializeOccurrenceAdvancesCursor(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tpl := testTemplate("t1", core.NewDate(2026, 1, 15))
	if err := repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := core.NewDate(2026, 2, 15)
	err := repo.MaterializeOccurrence(ctx, "t1",
		testExpense("e1", tpl.NextDate), tpl.NextDate, next, false)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}

	got, err := repo.GetTemplate(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.NextDate.Equal(next) {
		t.Fatalf("cursor = %s, want %s", got.NextDate, next)
	}

	if _, err := repo.GetExpense(ctx, "e1"); err != nil {
		t.Fatalf("expense not persisted: %v", err)
	}
}

func TestMaterializeOccurrenceDetectsStaleCursor(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tpl := testTemplate("t1", core.NewDate(2026, 1, 15))
	if err := repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("create: %v", err)
	}

	// First writer wins.
	next := core.NewDate(2026, 2, 15)
	if err := repo.MaterializeOccurrence(ctx, "t1",
		testExpense("e1", tpl.NextDate), tpl.NextDate, next, false); err != nil {
		t.Fatalf("first materialize: %v", err)
	}

	// Second writer holds the stale cursor and must lose.
	err := repo.MaterializeOccurrence(ctx, "t1",
		testExpense("e2", tpl.NextDate), tpl.NextDate, next, false)
	if !errors.Is(err, services.ErrCursorMoved) {
		t.Fatalf("error = %v, want ErrCursorMoved", err)
	}

	// The losing expense must not have been committed.
	if _, err := repo.GetExpense(ctx, "e2"); !errors.Is(err, core.ErrExpenseNotFound) {
		t.Fatalf("stale write leaked an expense: %v", err)
	}
}

func TestUpdateTemplateRevivesEnded(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tpl := testTemplate("t1", core.NewDate(2026, 1, 15))
	if err := repo.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MaterializeOccurrence(ctx, "t1",
		testExpense("e1", tpl.NextDate), tpl.NextDate, tpl.NextDate, true); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	tpl.NextDate = core.NewDate(2026, 7, 15)
	if err := repo.UpdateTemplate(ctx, tpl); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetTemplate(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Ended {
		t.Fatal("edit did not clear ended state")
	}
}

func TestDeleteTemplate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateTemplate(ctx, testTemplate("t1", core.NewDate(2026, 1, 15))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.DeleteTemplate(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.DeleteTemplate(ctx, "t1"); !errors.Is(err, core.ErrTemplateNotFound) {
		t.Fatalf("second delete = %v, want ErrTemplateNotFound", err)
	}
}

func TestSumExpensesWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, e := range []core.Expense{
		testExpense("e1", core.NewDate(2026, 4, 6)),
		testExpense("e2", core.NewDate(2026, 4, 12)),
		testExpense("e3", core.NewDate(2026, 4, 13)), // outside
	} {
		if err := repo.CreateExpense(ctx, e); err != nil {
			t.Fatalf("create expense: %v", err)
		}
	}

	total, err := repo.SumExpenses(ctx, core.NewDate(2026, 4, 6), core.NewDate(2026, 4, 12))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total.Cents != 2*999 {
		t.Fatalf("sum = %d, want %d", total.Cents, 2*999)
	}
}

func TestAllowanceSettingsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetAllowanceSettings(ctx); !errors.Is(err, ErrNoAllowanceSettings) {
		t.Fatalf("expected ErrNoAllowanceSettings, got %v", err)
	}

	want := core.AllowanceSettings{Amount: core.Money{Cents: 15000}, Cadence: core.PerWeek}
	if err := repo.PutAllowanceSettings(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := repo.GetAllowanceSettings(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	// Upsert replaces.
	want.Cadence = core.PerMonth
	if err := repo.PutAllowanceSettings(ctx, want); err != nil {
		t.Fatalf("second put: %v", err)
	}
	got, err = repo.GetAllowanceSettings(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Cadence != core.PerMonth {
		t.Fatalf("cadence = %s after upsert", got.Cadence)
	}
}

func TestExportStateTransitions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateExpense(ctx, testExpense("e1", core.NewDate(2026, 1, 1))); err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := repo.ListPendingExportExpenses(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "e1" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := repo.MarkExported(ctx, "e1"); err != nil {
		t.Fatalf("mark exported: %v", err)
	}
	pending, err = repo.ListPendingExportExpenses(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("exported expense still pending: %+v", pending)
	}

	if err := repo.MarkExported(ctx, "missing"); !errors.Is(err, core.ErrExpenseNotFound) {
		t.Fatalf("mark missing = %v, want ErrExpenseNotFound", err)
	}
}
