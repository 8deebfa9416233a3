package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quota/internal/core"
)

// ExpenseStore is the persistence needed for manually entered expenses.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e core.Expense) error
}

// ExpenseService persists user-entered expenses and notifies the export
// pipeline, the same path materialized occurrences take.
type ExpenseService struct {
	store     ExpenseStore
	publisher Publisher
}

func NewExpenseService(store ExpenseStore, publisher Publisher) *ExpenseService {
	return &ExpenseService{
		store:     store,
		publisher: publisher,
	}
}

// CreateExpense validates and saves an expense, then publishes a created
// message. Publish failures are logged, not surfaced: the expense is
// saved and the export backlog sweep recovers it.
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	if err := s.store.CreateExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishExpenseCreated(ctx, e.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish created expense",
				"expense_id", e.ID, "error", err)
		}
	}

	return e, nil
}
