package sheets

import (
	"context"

	"quota/internal/core"
)

// Ports for outbound adapters.
type ExpenseWriter interface {
	Append(ctx context.Context, e core.Expense) (rowRef string, err error)
}
