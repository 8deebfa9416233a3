package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"quota/internal/core"
	applog "quota/internal/log"
)

type expenseRequest struct {
	Date     string `json:"date"`
	Amount   string `json:"amount"`
	Category string `json:"category"`
	Note     string `json:"note"`
}

type expenseResponse struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	AmountCents int64  `json:"amountCents"`
	Category    string `json:"category"`
	Note        string `json:"note,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

func toExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		Date:        e.Date.String(),
		AmountCents: e.Amount.Cents,
		Category:    e.Category,
		Note:        e.Note,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date := core.DateOf(time.Now())
	if strings.TrimSpace(req.Date) != "" {
		var err error
		date, err = core.ParseDate(strings.TrimSpace(req.Date))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid date, expected YYYY-MM-DD")
			return
		}
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount: "+req.Amount)
		return
	}

	created, err := s.expenses.CreateExpense(r.Context(), core.Expense{
		Date:     date,
		Amount:   core.Money{Cents: cents},
		Category: strings.TrimSpace(req.Category),
		Note:     strings.TrimSpace(req.Note),
	})
	if err != nil {
		s.structured.LogError(r.Context(), "Failed to create expense", err,
			applog.ComponentHTTP, applog.OpCreate,
			applog.NewFields().WithExpense("", cents, req.Category))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toExpenseResponse(created))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	// Default window: the current month
	now := core.DateOf(time.Now())
	from := core.NewDate(now.Year(), int(now.Month()), 1)
	to := core.NewDate(now.Year(), int(now.Month())+1, 0)

	if v := strings.TrimSpace(r.URL.Query().Get("from")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from, expected YYYY-MM-DD")
			return
		}
		from = d
	}
	if v := strings.TrimSpace(r.URL.Query().Get("to")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to, expected YYYY-MM-DD")
			return
		}
		to = d
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	expenses, err := s.repo.ListExpenses(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		resp = append(resp, toExpenseResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}
