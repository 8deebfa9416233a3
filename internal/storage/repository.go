package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"quota/internal/core"
	"quota/internal/services"

	_ "modernc.org/sqlite"
)

// ErrNoAllowanceSettings is returned when no allowance has been
// configured yet.
var ErrNoAllowanceSettings = errors.New("allowance settings not configured")

// ExportState values for the expenses.export_state column.
const (
	ExportPending = 0
	ExportDone    = 1
	ExportError   = 2
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ListDueTemplates implements services.Repository. A template is due when
// its cursor is on or before now, it has not been marked ended, and its
// cursor has not been edited past its end date.
func (r *SQLiteRepository) ListDueTemplates(ctx context.Context, now core.Date) ([]core.RecurrenceTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, frequency, day_of_week, day_of_month, month_of_year,
		       amount_cents, category, note, next_date, end_date
		FROM recurrence_templates
		WHERE ended_at IS NULL
		  AND next_date <= ?
		  AND (end_date IS NULL OR next_date <= end_date)
		ORDER BY next_date`, now.String())
	if err != nil {
		return nil, fmt.Errorf("query due templates: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// MaterializeOccurrence implements services.Repository. Expense insert
// and cursor advance commit together; the advance is conditioned on the
// cursor still holding the value the processor read.
func (r *SQLiteRepository) MaterializeOccurrence(ctx context.Context, templateID string, e core.Expense, prev, next core.Date, ended bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Expense first: a duplicate a human can delete beats a silently
	// skipped occurrence.
	if err := insertExpense(ctx, tx, e); err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	var endedAt any
	if ended {
		endedAt = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE recurrence_templates
		SET next_date = ?, ended_at = ?, updated_at = datetime('now')
		WHERE id = ? AND next_date = ? AND ended_at IS NULL`,
		next.String(), endedAt, templateID, prev.String())
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	if affected == 0 {
		return services.ErrCursorMoved
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit occurrence: %w", err)
	}
	return nil
}

// CreateExpense implements services.ExpenseStore.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) error {
	if err := insertExpense(ctx, r.db, e); err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	slog.InfoContext(ctx, "Expense saved",
		"id", e.ID,
		"date", e.Date.String(),
		"amount_cents", e.Amount.Cents,
		"category", e.Category)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertExpense(ctx context.Context, db execer, e core.Expense) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO expenses (id, date, amount_cents, category, note, created_at, export_state)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date.String(), e.Amount.Cents, e.Category, e.Note,
		e.CreatedAt.UTC().Format(time.RFC3339), ExportPending)
	return err
}

// GetExpense retrieves a single expense by ID.
func (r *SQLiteRepository) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, date, amount_cents, category, note, created_at
		FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrExpenseNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

// ListExpenses returns expenses dated inside [from, to], newest first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, from, to core.Date) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, amount_cents, category, note, created_at
		FROM expenses
		WHERE date >= ? AND date <= ?
		ORDER BY date DESC, created_at DESC`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// SumExpenses totals expense amounts dated inside [from, to].
func (r *SQLiteRepository) SumExpenses(ctx context.Context, from, to core.Date) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM expenses
		WHERE date >= ? AND date <= ?`, from.String(), to.String()).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum expenses: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

// CreateTemplate stores a new recurrence template.
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, tpl core.RecurrenceTemplate) error {
	var endDate any
	if !tpl.EndDate.IsZero() {
		endDate = tpl.EndDate.String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurrence_templates
			(id, frequency, day_of_week, day_of_month, month_of_year,
			 amount_cents, category, note, next_date, end_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tpl.ID, string(tpl.Rule.Frequency), tpl.Rule.DayOfWeek, tpl.Rule.DayOfMonth,
		tpl.Rule.MonthOfYear, tpl.Amount.Cents, tpl.Category, tpl.Note,
		tpl.NextDate.String(), endDate)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	slog.InfoContext(ctx, "Recurrence template created",
		"id", tpl.ID,
		"frequency", tpl.Rule.Frequency,
		"next_date", tpl.NextDate.String())
	return nil
}

// GetTemplate retrieves a template by ID.
func (r *SQLiteRepository) GetTemplate(ctx context.Context, id string) (core.RecurrenceTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, frequency, day_of_week, day_of_month, month_of_year,
		       amount_cents, category, note, next_date, end_date, ended_at
		FROM recurrence_templates WHERE id = ?`, id)
	tpl, err := scanTemplateWithEnded(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurrenceTemplate{}, core.ErrTemplateNotFound
	}
	if err != nil {
		return core.RecurrenceTemplate{}, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// ListTemplates returns all templates, active and ended.
func (r *SQLiteRepository) ListTemplates(ctx context.Context) ([]core.RecurrenceTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, frequency, day_of_week, day_of_month, month_of_year,
		       amount_cents, category, note, next_date, end_date, ended_at
		FROM recurrence_templates
		ORDER BY next_date`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []core.RecurrenceTemplate
	for rows.Next() {
		tpl, err := scanTemplateWithEnded(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// UpdateTemplate replaces a template's rule, amounts and dates. An edit
// that moves the cursor back before the end date revives an ended
// template.
func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, tpl core.RecurrenceTemplate) error {
	var endDate any
	if !tpl.EndDate.IsZero() {
		endDate = tpl.EndDate.String()
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurrence_templates
		SET frequency = ?, day_of_week = ?, day_of_month = ?, month_of_year = ?,
		    amount_cents = ?, category = ?, note = ?, next_date = ?, end_date = ?,
		    ended_at = NULL, updated_at = datetime('now')
		WHERE id = ?`,
		string(tpl.Rule.Frequency), tpl.Rule.DayOfWeek, tpl.Rule.DayOfMonth,
		tpl.Rule.MonthOfYear, tpl.Amount.Cents, tpl.Category, tpl.Note,
		tpl.NextDate.String(), endDate, tpl.ID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if affected == 0 {
		return core.ErrTemplateNotFound
	}
	return nil
}

// DeleteTemplate removes a template. Expenses it generated stay.
func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recurrence_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if affected == 0 {
		return core.ErrTemplateNotFound
	}
	return nil
}

// GetAllowanceSettings returns the configured allowance, or
// ErrNoAllowanceSettings when none was set yet.
func (r *SQLiteRepository) GetAllowanceSettings(ctx context.Context) (core.AllowanceSettings, error) {
	var (
		cents   int64
		cadence string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT amount_cents, cadence FROM allowance_settings WHERE id = 1`).
		Scan(&cents, &cadence)
	if errors.Is(err, sql.ErrNoRows) {
		return core.AllowanceSettings{}, ErrNoAllowanceSettings
	}
	if err != nil {
		return core.AllowanceSettings{}, fmt.Errorf("get allowance settings: %w", err)
	}
	return core.AllowanceSettings{
		Amount:  core.Money{Cents: cents},
		Cadence: core.Cadence(cadence),
	}, nil
}

// PutAllowanceSettings creates or replaces the allowance configuration.
func (r *SQLiteRepository) PutAllowanceSettings(ctx context.Context, s core.AllowanceSettings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO allowance_settings (id, amount_cents, cadence)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET amount_cents = excluded.amount_cents, cadence = excluded.cadence`,
		s.Amount.Cents, string(s.Cadence))
	if err != nil {
		return fmt.Errorf("put allowance settings: %w", err)
	}
	return nil
}

// ListPendingExportExpenses returns expenses not yet exported, oldest
// first, up to limit.
func (r *SQLiteRepository) ListPendingExportExpenses(ctx context.Context, limit int) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, amount_cents, category, note, created_at
		FROM expenses
		WHERE export_state = ?
		ORDER BY created_at
		LIMIT ?`, ExportPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending export expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// MarkExported marks an expense as successfully exported.
func (r *SQLiteRepository) MarkExported(ctx context.Context, id string) error {
	if err := r.setExportState(ctx, id, ExportDone); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	slog.InfoContext(ctx, "Expense marked as exported", "id", id)
	return nil
}

// MarkExportError marks an expense as having failed to export.
func (r *SQLiteRepository) MarkExportError(ctx context.Context, id string) error {
	if err := r.setExportState(ctx, id, ExportError); err != nil {
		return fmt.Errorf("mark export error: %w", err)
	}
	slog.WarnContext(ctx, "Expense marked with export error", "id", id)
	return nil
}

func (r *SQLiteRepository) setExportState(ctx context.Context, id string, state int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET export_state = ? WHERE id = ?`, state, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrExpenseNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e         core.Expense
		date      string
		createdAt string
	)
	if err := row.Scan(&e.ID, &date, &e.Amount.Cents, &e.Category, &e.Note, &createdAt); err != nil {
		return core.Expense{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	e.Date = d
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		e.CreatedAt = t
	}
	return e, nil
}

func scanTemplates(rows *sql.Rows) ([]core.RecurrenceTemplate, error) {
	var templates []core.RecurrenceTemplate
	for rows.Next() {
		var (
			tpl       core.RecurrenceTemplate
			frequency string
			nextDate  string
			endDate   sql.NullString
		)
		if err := rows.Scan(&tpl.ID, &frequency, &tpl.Rule.DayOfWeek, &tpl.Rule.DayOfMonth,
			&tpl.Rule.MonthOfYear, &tpl.Amount.Cents, &tpl.Category, &tpl.Note,
			&nextDate, &endDate); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := fillTemplateDates(&tpl, frequency, nextDate, endDate); err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func scanTemplateWithEnded(row rowScanner) (core.RecurrenceTemplate, error) {
	var (
		tpl       core.RecurrenceTemplate
		frequency string
		nextDate  string
		endDate   sql.NullString
		endedAt   sql.NullString
	)
	if err := row.Scan(&tpl.ID, &frequency, &tpl.Rule.DayOfWeek, &tpl.Rule.DayOfMonth,
		&tpl.Rule.MonthOfYear, &tpl.Amount.Cents, &tpl.Category, &tpl.Note,
		&nextDate, &endDate, &endedAt); err != nil {
		return core.RecurrenceTemplate{}, err
	}
	if err := fillTemplateDates(&tpl, frequency, nextDate, endDate); err != nil {
		return core.RecurrenceTemplate{}, err
	}
	tpl.Ended = endedAt.Valid
	return tpl, nil
}

func fillTemplateDates(tpl *core.RecurrenceTemplate, frequency, nextDate string, endDate sql.NullString) error {
	tpl.Rule.Frequency = core.Frequency(frequency)
	next, err := core.ParseDate(nextDate)
	if err != nil {
		return fmt.Errorf("parse next date %q: %w", nextDate, err)
	}
	tpl.NextDate = next
	if endDate.Valid {
		end, err := core.ParseDate(endDate.String)
		if err != nil {
			return fmt.Errorf("parse end date %q: %w", endDate.String, err)
		}
		tpl.EndDate = end
	}
	return nil
}
