package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"quota/internal/core"
	"quota/internal/schedule"
)

type allowanceRequest struct {
	Amount  string `json:"amount"`
	Cadence string `json:"cadence"`
}

type allowanceResponse struct {
	AmountCents    int64          `json:"amountCents"`
	Cadence        string         `json:"cadence"`
	Window         windowResponse `json:"window"`
	SpentCents     int64          `json:"spentCents"`
	RemainingCents int64          `json:"remainingCents"`
}

type windowResponse struct {
	Label     string `json:"label"`
	Start     string `json:"start"`
	End       string `json:"end"`
	NextTopUp string `json:"nextTopUp"`
}

// handleGetAllowance reports the configured allowance together with the
// active window and how much of it is spent. The reference date defaults
// to today and can be overridden with ?date=YYYY-MM-DD.
func (s *Server) handleGetAllowance(w http.ResponseWriter, r *http.Request) {
	settings, err := s.repo.GetAllowanceSettings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ref := core.DateOf(time.Now())
	if v := strings.TrimSpace(r.URL.Query().Get("date")); v != "" {
		ref, err = core.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
	}

	window, err := schedule.WindowFor(settings.Cadence, ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	spent, err := s.repo.SumExpenses(r.Context(), window.Start, window.End)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, allowanceResponse{
		AmountCents: settings.Amount.Cents,
		Cadence:     string(settings.Cadence),
		Window: windowResponse{
			Label:     window.Label,
			Start:     window.Start.String(),
			End:       window.End.String(),
			NextTopUp: window.NextTopUp.String(),
		},
		SpentCents:     spent.Cents,
		RemainingCents: settings.Amount.Cents - spent.Cents,
	})
}

func (s *Server) handlePutAllowance(w http.ResponseWriter, r *http.Request) {
	var req allowanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount: "+req.Amount)
		return
	}

	settings := core.AllowanceSettings{
		Amount:  core.Money{Cents: cents},
		Cadence: core.Cadence(strings.ToLower(strings.TrimSpace(req.Cadence))),
	}
	if err := settings.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.repo.PutAllowanceSettings(r.Context(), settings); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"amountCents": settings.Amount.Cents,
		"cadence":     string(settings.Cadence),
	})
}
