package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quota/internal/amqp"
	"quota/internal/core"
	"quota/internal/storage"
)

type fakeWriter struct {
	mu       sync.Mutex
	appended []core.Expense
	failFor  map[string]error
}

func (f *fakeWriter) Append(_ context.Context, e core.Expense) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[e.ID]; ok {
		return "", err
	}
	f.appended = append(f.appended, e)
	return "Expenses!A2:E2", nil
}

func newTestWorker(t *testing.T) (*ExportWorker, *storage.SQLiteRepository, *fakeWriter) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "quota.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	writer := &fakeWriter{failFor: map[string]error{}}
	return NewExportWorker(repo, writer, 10), repo, writer
}

func storedExpense(t *testing.T, repo *storage.SQLiteRepository, id string) {
	t.Helper()
	err := repo.CreateExpense(context.Background(), core.Expense{
		ID:        id,
		Date:      core.NewDate(2026, 3, 1),
		Amount:    core.Money{Cents: 500},
		Category:  "groceries",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
}

func TestHandleCreatedMessage(t *testing.T) {
	w, repo, writer := newTestWorker(t)
	ctx := context.Background()
	storedExpense(t, repo, "e1")

	if err := w.HandleCreatedMessage(ctx, amqp.NewExpenseCreatedMessage("e1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(writer.appended) != 1 || writer.appended[0].ID != "e1" {
		t.Fatalf("appended = %+v", writer.appended)
	}

	pending, err := repo.ListPendingExportExpenses(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expense still pending after export: %+v", pending)
	}
}

func TestHandleCreatedMessageUnknownExpense(t *testing.T) {
	w, _, _ := newTestWorker(t)

	err := w.HandleCreatedMessage(context.Background(), amqp.NewExpenseCreatedMessage("missing"))
	if !errors.Is(err, core.ErrExpenseNotFound) {
		t.Fatalf("error = %v, want ErrExpenseNotFound", err)
	}
}

func TestProcessPendingExportsContinuesOnFailure(t *testing.T) {
	w, repo, writer := newTestWorker(t)
	ctx := context.Background()
	storedExpense(t, repo, "bad")
	storedExpense(t, repo, "good")
	writer.failFor["bad"] = errors.New("sheet unavailable")

	if err := w.ProcessPendingExports(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(writer.appended) != 1 || writer.appended[0].ID != "good" {
		t.Fatalf("appended = %+v", writer.appended)
	}

	// The failed one must stay out of the pending queue only if exported;
	// it is marked errored instead, so the pending list is empty either way.
	pending, err := repo.ListPendingExportExpenses(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after sweep = %+v", pending)
	}
}

func TestStartupExportCheckDrainsBacklog(t *testing.T) {
	w, repo, writer := newTestWorker(t)
	ctx := context.Background()
	for _, id := range []string{"e1", "e2", "e3"} {
		storedExpense(t, repo, id)
	}

	if err := w.StartupExportCheck(ctx); err != nil {
		t.Fatalf("startup check: %v", err)
	}
	if len(writer.appended) != 3 {
		t.Fatalf("appended %d rows, want 3", len(writer.appended))
	}

	// Second sweep is a no-op.
	writer.appended = nil
	if err := w.StartupExportCheck(ctx); err != nil {
		t.Fatalf("second startup check: %v", err)
	}
	if len(writer.appended) != 0 {
		t.Fatalf("backlog not drained: %+v", writer.appended)
	}
}
