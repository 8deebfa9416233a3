package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quota/internal/core"
	"quota/internal/schedule"
)

// DefaultMaxIterations caps how many occurrences a single template may
// materialize in one run. A daily rule left unprocessed for 27 years
// stays under it; a malformed rule that stops advancing does not.
const DefaultMaxIterations = 10000

var (
	// ErrRunawayRecurrence marks a template whose advancement did not
	// terminate within the iteration cap. Nothing is persisted for it.
	ErrRunawayRecurrence = errors.New("recurrence iteration limit exceeded")

	// ErrCursorMoved is returned by Repository implementations when the
	// stored cursor no longer matches the value the caller read, meaning
	// a concurrent run already materialized the occurrence.
	ErrCursorMoved = errors.New("template cursor moved concurrently")
)

// Repository is the persistence collaborator of the processor.
type Repository interface {
	// ListDueTemplates returns templates with NextDate on or before now
	// that have not ended.
	ListDueTemplates(ctx context.Context, now core.Date) ([]core.RecurrenceTemplate, error)

	// MaterializeOccurrence persists one expense and advances the
	// template cursor from prev to next as a single unit, marking the
	// template ended when requested. The advance must be conditioned on
	// the stored cursor still equalling prev; implementations return
	// ErrCursorMoved when it does not. When the two writes cannot be
	// atomic the expense goes first.
	MaterializeOccurrence(ctx context.Context, templateID string, expense core.Expense, prev, next core.Date, ended bool) error
}

// Publisher notifies downstream consumers of a created expense.
type Publisher interface {
	PublishExpenseCreated(ctx context.Context, expenseID string) error
}

// Result is what one ProcessDue run did.
type Result struct {
	Created          int
	UpdatedTemplates int
	Failed           []TemplateFailure
}

// TemplateFailure records a template skipped during a run and why.
type TemplateFailure struct {
	TemplateID string
	Err        error
}

// RecurringProcessor materializes due occurrences of recurrence templates
// as concrete expenses. It is stateless: everything it touches lives in
// the repository passed at construction.
type RecurringProcessor struct {
	repo          Repository
	publisher     Publisher
	maxIterations int
}

// NewRecurringProcessor creates a processor. publisher may be nil when no
// downstream sync is configured.
func NewRecurringProcessor(repo Repository, publisher Publisher) *RecurringProcessor {
	return &RecurringProcessor{
		repo:          repo,
		publisher:     publisher,
		maxIterations: DefaultMaxIterations,
	}
}

// ProcessDue materializes every occurrence that has become due as of now,
// across all templates, advancing each template's cursor past now.
//
// Per-template failures (invalid rule, runaway rule, write errors) are
// collected in the result and do not abort the batch. Calling ProcessDue
// twice with the same now is a no-op the second time: every cursor has
// already advanced past it.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (Result, error) {
	if p.repo == nil {
		return Result{}, fmt.Errorf("processor not properly initialized")
	}

	today := core.DateOf(now)
	templates, err := p.repo.ListDueTemplates(ctx, today)
	if err != nil {
		return Result{}, fmt.Errorf("list due templates: %w", err)
	}

	slog.InfoContext(ctx, "Processing due recurrence templates",
		"due", len(templates),
		"processing_date", today.String())

	var res Result
	for _, tpl := range templates {
		created, err := p.processTemplate(ctx, tpl, today)
		res.Created += created
		if created > 0 {
			res.UpdatedTemplates++
		}
		if err != nil {
			if errors.Is(err, ErrCursorMoved) {
				// A concurrent run owns this template; its occurrences
				// are not lost, just not ours to count.
				slog.InfoContext(ctx, "Template advanced by concurrent run",
					"template_id", tpl.ID)
				continue
			}
			res.Failed = append(res.Failed, TemplateFailure{TemplateID: tpl.ID, Err: err})
			slog.ErrorContext(ctx, "Failed to process recurrence template",
				"template_id", tpl.ID,
				"category", tpl.Category,
				"error", err)
		}
	}

	slog.InfoContext(ctx, "Recurrence processing complete",
		"created", res.Created,
		"updated_templates", res.UpdatedTemplates,
		"failed", len(res.Failed))

	return res, nil
}

// processTemplate materializes all due occurrences of one template.
// The plan is computed up front so a rule that fails validation or blows
// the iteration cap leaves the template untouched.
func (p *RecurringProcessor) processTemplate(ctx context.Context, tpl core.RecurrenceTemplate, today core.Date) (int, error) {
	plan, err := planOccurrences(tpl, today, p.maxIterations)
	if err != nil {
		return 0, err
	}

	created := 0
	prev := tpl.NextDate
	for _, occ := range plan {
		expense := core.Expense{
			ID:        uuid.NewString(),
			Date:      occ.date,
			Amount:    tpl.Amount,
			Category:  tpl.Category,
			Note:      tpl.Note,
			CreatedAt: time.Now().UTC(),
		}

		if err := p.repo.MaterializeOccurrence(ctx, tpl.ID, expense, prev, occ.next, occ.ended); err != nil {
			return created, err
		}
		created++
		prev = occ.next

		slog.InfoContext(ctx, "Materialized recurring expense",
			"template_id", tpl.ID,
			"expense_id", expense.ID,
			"date", occ.date.String(),
			"amount_cents", expense.Amount.Cents,
			"frequency", tpl.Rule.Frequency)

		if p.publisher != nil {
			if err := p.publisher.PublishExpenseCreated(ctx, expense.ID); err != nil {
				// The expense is persisted; the export backlog sweep
				// will pick it up.
				slog.ErrorContext(ctx, "Failed to publish created expense",
					"expense_id", expense.ID, "error", err)
			}
		}
	}

	return created, nil
}

// occurrence is one planned materialization: the expense date, the cursor
// value after it, and whether the template ends there.
type occurrence struct {
	date  core.Date
	next  core.Date
	ended bool
}

// planOccurrences walks the rule forward from the template cursor until
// it passes today or hits the end date. Pure; persists nothing.
func planOccurrences(tpl core.RecurrenceTemplate, today core.Date, maxIterations int) ([]occurrence, error) {
	var plan []occurrence
	cursor := tpl.NextDate

	for !cursor.After(today) {
		if len(plan) >= maxIterations {
			return nil, fmt.Errorf("%w: %d occurrences without passing %s",
				ErrRunawayRecurrence, maxIterations, today)
		}

		candidate, err := schedule.NextOccurrence(tpl.Rule, cursor)
		if err != nil {
			return nil, err
		}
		if !candidate.After(cursor) {
			// A correct advancer cannot do this; treat it as runaway
			// rather than looping forever.
			return nil, fmt.Errorf("%w: cursor did not advance past %s",
				ErrRunawayRecurrence, cursor)
		}

		occ := occurrence{date: cursor, next: candidate}
		if !tpl.EndDate.IsZero() && candidate.After(tpl.EndDate) {
			// Freeze: materialize this last occurrence, keep the cursor
			// on it, and mark the template ended.
			occ.next = cursor
			occ.ended = true
			plan = append(plan, occ)
			break
		}
		plan = append(plan, occ)
		cursor = candidate
	}

	return plan, nil
}
