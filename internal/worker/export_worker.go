package worker

import (
	"context"
	"fmt"
	"log/slog"

	"quota/internal/amqp"
	"quota/internal/core"
	"quota/internal/sheets"
	"quota/internal/storage"
)

// ExportWorker moves expenses from SQLite to the Google Sheets export.
type ExportWorker struct {
	storage   *storage.SQLiteRepository
	sheets    sheets.ExpenseWriter
	batchSize int
}

func NewExportWorker(storage *storage.SQLiteRepository, sheets sheets.ExpenseWriter, batchSize int) *ExportWorker {
	return &ExportWorker{
		storage:   storage,
		sheets:    sheets,
		batchSize: batchSize,
	}
}

// HandleCreatedMessage processes a single created-expense message from AMQP.
func (w *ExportWorker) HandleCreatedMessage(ctx context.Context, msg *amqp.ExpenseCreatedMessage) error {
	slog.InfoContext(ctx, "Processing created message", "id", msg.ID)

	expense, err := w.storage.GetExpense(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get expense from storage: %w", err)
	}

	if err := w.exportExpense(ctx, expense); err != nil {
		return fmt.Errorf("export expense to sheets: %w", err)
	}

	return nil
}

// ProcessPendingExports exports any expenses that haven't reached the sheet yet.
// This is a backup mechanism in case AMQP messages are lost.
func (w *ExportWorker) ProcessPendingExports(ctx context.Context) error {
	pending, err := w.storage.ListPendingExportExpenses(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending expenses: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(pending))

	for _, expense := range pending {
		if err := w.exportExpense(ctx, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to export expense", "id", expense.ID, "error", err)
			continue
		}
	}

	return nil
}

// StartupExportCheck drains the pending backlog at worker startup. This is
// useful to recover from missed AMQP messages or worker downtime.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) error {
	// Larger batch for the startup sweep
	pending, err := w.storage.ListPendingExportExpenses(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending expenses for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending exports found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending exports on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0

	for _, expense := range pending {
		if err := w.exportExpense(ctx, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to export expense during startup",
				"id", expense.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup export completed",
		"total", len(pending),
		"exported", successCount,
		"errors", errorCount)

	return nil
}

func (w *ExportWorker) exportExpense(ctx context.Context, expense core.Expense) error {
	ref, err := w.sheets.Append(ctx, expense)
	if err != nil {
		if markErr := w.storage.MarkExportError(ctx, expense.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "id", expense.ID, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := w.storage.MarkExported(ctx, expense.ID); err != nil {
		// The row is already on the sheet, so don't fail the export.
		slog.ErrorContext(ctx, "Failed to mark as exported", "id", expense.ID, "error", err)
	}

	slog.InfoContext(ctx, "Exported expense",
		"id", expense.ID,
		"sheets_ref", ref,
		"amount_cents", expense.Amount.Cents)

	return nil
}
